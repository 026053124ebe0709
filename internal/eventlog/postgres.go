package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/mbd888/tiltcheck/migrations"
)

// PostgresStore keeps every table in a single event_log relation with a
// JSONB value per (table, key).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the embedded goose migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, s.db, migrations.FS)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Load(ctx context.Context, table Table, key string) ([]byte, error) {
	if err := checkTable("load", table, key); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM event_log WHERE tbl = $1 AND key = $2
	`, string(table), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(table, key)
	}
	if err != nil {
		return nil, storageErr("load", table, key, err)
	}
	return value, nil
}

func (s *PostgresStore) Save(ctx context.Context, table Table, key string, value []byte) error {
	if err := checkTable("save", table, key); err != nil {
		return err
	}
	if err := upsert(ctx, s.db, table, key, value); err != nil {
		return storageErr("save", table, key, err)
	}
	return nil
}

// Update serializes writers on the key with a transaction-scoped advisory
// lock, which also covers keys that do not exist yet.
func (s *PostgresStore) Update(ctx context.Context, table Table, key string, fn UpdateFunc) error {
	if err := checkTable("update", table, key); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("update", table, key, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || '/' || $2))`, string(table), key); err != nil {
		return storageErr("update", table, key, err)
	}

	var current []byte
	exists := true
	err = tx.QueryRowContext(ctx, `
		SELECT value FROM event_log WHERE tbl = $1 AND key = $2
	`, string(table), key).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return storageErr("update", table, key, err)
	}

	next, err := fn(current, exists)
	if err != nil {
		return err
	}

	if err := upsert(ctx, tx, table, key, next); err != nil {
		return storageErr("update", table, key, err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("update", table, key, err)
	}
	return nil
}

func (s *PostgresStore) Keys(ctx context.Context, table Table) ([]string, error) {
	if err := checkTable("keys", table, ""); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM event_log WHERE tbl = $1 ORDER BY key
	`, string(table))
	if err != nil {
		return nil, storageErr("keys", table, "", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, storageErr("keys", table, "", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("keys", table, "", err)
	}
	return keys, nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, db execer, table Table, key string, value []byte) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO event_log (tbl, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tbl, key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()
	`, string(table), key, value)
	return err
}
