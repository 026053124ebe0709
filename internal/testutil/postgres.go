// Package testutil holds shared fixtures for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/mbd888/tiltcheck/internal/idgen"
	"github.com/mbd888/tiltcheck/migrations"
)

var (
	containerOnce sync.Once
	containerURL  string
	containerErr  error
)

// Postgres returns a migrated database isolated in a fresh schema. The
// schema is dropped when the test ends, so tests may run in parallel.
//
// The server comes from POSTGRES_URL. Without it, TILTCHECK_TESTCONTAINERS=1
// starts one postgres container per test binary; otherwise the test is
// skipped.
func Postgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in short mode")
	}

	base := serverURL(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	admin, err := sql.Open("postgres", base)
	if err != nil {
		t.Fatalf("testutil: open %s: %v", redact(base), err)
	}
	t.Cleanup(func() { _ = admin.Close() })

	schema := idgen.Short("t_", 16)
	if _, err := admin.ExecContext(ctx, "CREATE SCHEMA "+pq.QuoteIdentifier(schema)); err != nil {
		t.Fatalf("testutil: create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = admin.ExecContext(context.Background(), "DROP SCHEMA "+pq.QuoteIdentifier(schema)+" CASCADE")
	})

	db, err := sql.Open("postgres", withSearchPath(t, base, schema))
	if err != nil {
		t.Fatalf("testutil: open schema %s: %v", schema, err)
	}
	t.Cleanup(func() { _ = db.Close() })

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		t.Fatalf("testutil: migration provider: %v", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		t.Fatalf("testutil: migrate schema %s: %v", schema, err)
	}
	return db
}

func serverURL(t *testing.T) string {
	t.Helper()
	if u := os.Getenv("POSTGRES_URL"); u != "" {
		return u
	}
	if os.Getenv("TILTCHECK_TESTCONTAINERS") != "1" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	// The container outlives individual tests; the testcontainers reaper
	// removes it when the binary exits.
	containerOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		ctr, err := postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("tiltcheck"),
			postgres.WithUsername("tiltcheck"),
			postgres.WithPassword("tiltcheck"),
			testcontainers.WithEnv(map[string]string{"TZ": "UTC"}),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			containerErr = err
			return
		}
		containerURL, containerErr = ctr.ConnectionString(ctx, "sslmode=disable")
	})
	if containerErr != nil {
		t.Fatalf("testutil: postgres container: %v", containerErr)
	}
	return containerURL
}

func withSearchPath(t *testing.T, raw, schema string) string {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("testutil: POSTGRES_URL must be a URL: %v", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String()
}

func redact(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Redacted()
	}
	return "database"
}
