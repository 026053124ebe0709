// Package idgen generates prefixed identifiers for reports, sessions,
// alerts and log entries.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// Common prefixes.
const (
	PrefixReport       = "rpt_"
	PrefixProof        = "prf_"
	PrefixSession      = "ses_"
	PrefixAlert        = "alr_"
	PrefixIntervention = "int_"
	PrefixEvent        = "evt_"
	PrefixWebhook      = "wh_"
	PrefixLog          = "log_"
)

// New returns a random UUIDv4 string.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix followed by 32 hex chars of a random UUID.
func WithPrefix(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Short returns prefix followed by the first n hex chars of a random UUID.
// n is clamped to [1, 32].
func Short(prefix string, n int) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n < 1 {
		n = 1
	}
	if n > len(raw) {
		n = len(raw)
	}
	return prefix + raw[:n]
}
