package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// openTestPostgres skips unless TEST_POSTGRES_DSN points at a disposable database.
func openTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("Skipping test: TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Skipf("Skipping test: database not available: %v", err)
	}
	t.Cleanup(s.Close)

	_, err = s.pool.Exec(ctx, `TRUNCATE master_rooms, ephemeral_rooms`)
	require.NoError(t, err)
	return s
}

func TestPostgresStore(t *testing.T) {
	s := openTestPostgres(t)
	runStoreSuite(t, s)
}

func TestPostgresMigrateIsIdempotent(t *testing.T) {
	s := openTestPostgres(t)
	require.NoError(t, s.Migrate(context.Background()))
}
