package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/medscribe/pkg/store"
	"github.com/MrWong99/medscribe/pkg/store/postgres"
	"github.com/MrWong99/medscribe/pkg/store/storetest"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if MEDSCRIBE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("MEDSCRIBE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MEDSCRIBE_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore drops the tables created by Migrate and returns a fresh store.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS sessions CASCADE",
		"DROP TABLE IF EXISTS patients CASCADE",
	} {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema (%s): %v", stmt, err)
		}
	}
	conn.Close(ctx)

	s, err := postgres.NewStore(ctx, dsn, storetest.Dim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestStore runs the shared store suite against PostgreSQL.
func TestStore(t *testing.T) {
	storetest.Run(t, newTestStore)
}

// TestMigrate_Idempotent checks that running Migrate twice succeeds.
func TestMigrate_Idempotent(t *testing.T) {
	newTestStore(t)
	ctx := context.Background()

	conn, err := pgx.Connect(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close(ctx)
	if err := postgres.Migrate(ctx, conn, storetest.Dim); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

// TestMigrate_RejectsBadDimension checks argument validation.
func TestMigrate_RejectsBadDimension(t *testing.T) {
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close(ctx)
	if err := postgres.Migrate(ctx, conn, 0); err == nil {
		t.Error("expected error for zero dimensions")
	}
}
