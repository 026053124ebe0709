// Package eventlog is the durable store behind every TiltCheck record.
//
// Records live in a handful of logical tables, each a map from key (usually
// a user ID) to a JSON document. Backends only move opaque bytes; the typed
// helpers in json.go do the encoding. Writes are whole-record: a failed
// write leaves the previous value in place.
package eventlog

import (
	"context"
	"fmt"

	"github.com/mbd888/tiltcheck/internal/apperr"
)

// Table names a logical collection.
type Table string

const (
	TableTrustScores         Table = "trust_scores"
	TableScamReports         Table = "scam_reports"
	TableVerificationActions Table = "verification_actions"
	TableSuspiciousActivity  Table = "suspicious_activity_log"
	TableSessionHistory      Table = "session_history"
	TableInterventions       Table = "intervention_log"
	TableRiskState           Table = "risk_state"
)

// Tables lists every table in a stable order.
var Tables = []Table{
	TableTrustScores,
	TableScamReports,
	TableVerificationActions,
	TableSuspiciousActivity,
	TableSessionHistory,
	TableInterventions,
	TableRiskState,
}

// Per-key list caps; the oldest entries are dropped first.
const (
	MaxVerificationActions = 1000
	MaxSuspiciousEntries   = 1000
	MaxInterventions       = 500
	MaxSessionHistory      = 50
)

// ErrNotFound is returned by Load when the key has no value.
var ErrNotFound = apperr.ErrNotFound

// UpdateFunc receives the current value (nil with exists=false when absent)
// and returns the value to store. Returning an error aborts the update and
// the error is passed back to the caller unchanged.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// Store is implemented by every backend.
type Store interface {
	Load(ctx context.Context, table Table, key string) ([]byte, error)
	Save(ctx context.Context, table Table, key string, value []byte) error
	// Update is an atomic read-modify-write of a single key.
	Update(ctx context.Context, table Table, key string, fn UpdateFunc) error
	Keys(ctx context.Context, table Table) ([]string, error)
	Close() error
}

// Pinger is implemented by backends with a remote dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

func storageErr(op string, table Table, key string, err error) error {
	return &apperr.StorageError{Op: op, Table: string(table), Key: key, Err: err}
}

func notFound(table Table, key string) error {
	return fmt.Errorf("%s/%s: %w", table, key, ErrNotFound)
}

func validTable(table Table) bool {
	for _, t := range Tables {
		if t == table {
			return true
		}
	}
	return false
}

func checkTable(op string, table Table, key string) error {
	if !validTable(table) {
		return storageErr(op, table, key, fmt.Errorf("unknown table %q", table))
	}
	return nil
}
