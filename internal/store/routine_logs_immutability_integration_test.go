package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"routin0/api/internal/util"
)

// openTestDB connects to the integration database and applies migrations.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Skipf("integration database unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db
}

// seedTree inserts user → parent → sub → routine → one log and returns the
// store plus the ids involved.
func seedTree(t *testing.T, db *sql.DB) (*PostgresStore, User, ParentRoutine, RoutineLog) {
	t.Helper()
	ctx := context.Background()
	s := NewPostgresStore(db)

	user, err := s.EnsureUserByExternalID(ctx, util.NewID("ext"), "", "", util.NewID("usr"))
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	now := time.Now().UTC()
	parent := ParentRoutine{ID: util.NewID("pr"), UserID: user.ID, Title: "Health", Category: "General", CreatedAt: now, UpdatedAt: now}
	if err := s.InsertParentRoutine(ctx, parent); err != nil {
		t.Fatalf("insert parent: %v", err)
	}
	sub := SubRoutine{ID: util.NewID("sr"), UserID: user.ID, ParentID: parent.ID, Title: "Morning", CreatedAt: now, UpdatedAt: now}
	if err := s.InsertSubRoutine(ctx, sub); err != nil {
		t.Fatalf("insert sub-routine: %v", err)
	}
	routine := Routine{ID: util.NewID("rt"), UserID: user.ID, ParentID: parent.ID, SubRoutineID: sub.ID, Title: "Stretch", Type: "yes_no", CreatedAt: now, UpdatedAt: now}
	if err := s.InsertRoutine(ctx, routine); err != nil {
		t.Fatalf("insert routine: %v", err)
	}

	entry := RoutineLog{
		ID:           util.NewID("log"),
		UserID:       user.ID,
		ParentID:     parent.ID,
		SubRoutineID: sub.ID,
		RoutineID:    routine.ID,
		Action:       "done",
		DateKey:      now.Format("2006-01-02"),
		Timestamp:    now,
	}
	if err := s.InsertRoutineLog(ctx, entry); err != nil {
		t.Fatalf("insert log: %v", err)
	}
	return s, user, parent, entry
}

func assertImmutableError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected statement to be blocked, but it succeeded")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}
	if pgErr.Message != "routine_logs rows are immutable" {
		t.Fatalf("unexpected error message: %s", pgErr.Message)
	}
}

func TestRoutineLogsBlockUpdate(t *testing.T) {
	db := openTestDB(t)
	_, _, _, entry := seedTree(t, db)

	_, err := db.ExecContext(context.Background(),
		`UPDATE routine_logs SET action = 'skip' WHERE id = $1`, entry.ID)
	assertImmutableError(t, err)
}

func TestRoutineLogsBlockDirectDelete(t *testing.T) {
	db := openTestDB(t)
	_, _, _, entry := seedTree(t, db)

	_, err := db.ExecContext(context.Background(),
		`DELETE FROM routine_logs WHERE id = $1`, entry.ID)
	assertImmutableError(t, err)
}

// TestCascadeDeleteRemovesLogs verifies the one escape hatch: the store's
// transactional cascade delete may remove log rows, and takes the whole
// subtree with it.
func TestCascadeDeleteRemovesLogs(t *testing.T) {
	db := openTestDB(t)
	s, user, parent, entry := seedTree(t, db)
	ctx := context.Background()

	if err := s.DeleteParentRoutine(ctx, user.ID, parent.ID); err != nil {
		t.Fatalf("cascade delete: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM routine_logs WHERE id = $1`, entry.ID).Scan(&count); err != nil {
		t.Fatalf("count logs: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected log removed by cascade, %d rows remain", count)
	}

	logs, err := s.ListAllLogs(ctx, user.ID)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("expected no logs for user, got %d", len(logs))
	}
}

// getTestDatabaseURL returns the database URL for integration tests,
// preferring TEST_DATABASE_URL and falling back to the standard Postgres
// environment variables.
func getTestDatabaseURL(t *testing.T) string {
	t.Helper()

	if url := getenv("TEST_DATABASE_URL", ""); url != "" {
		return url
	}

	host := getenv("POSTGRES_HOST", "localhost")
	port := getenv("POSTGRES_PORT", "5432")
	user := getenv("POSTGRES_USER", "routin0")
	pass := getenv("POSTGRES_PASSWORD", "routin0")
	dbname := getenv("POSTGRES_DB", "routin0_test")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + dbname + "?sslmode=disable"
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
