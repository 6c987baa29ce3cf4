package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Dannytownkins/Ember-sub000/internal/store"
	"github.com/Dannytownkins/Ember-sub000/internal/store/storetest"
)

// openTestDB connects to EMBER_POSTGRES_DSN when set, otherwise starts a
// throwaway postgres container. The test is skipped when neither works.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("short mode; skipping postgres store integration test")
	}
	dsn := os.Getenv("EMBER_POSTGRES_DSN")
	if dsn == "" {
		ctx := context.Background()
		req := testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "ember",
				"POSTGRES_PASSWORD": "ember",
				"POSTGRES_DB":       "ember",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		}
		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if err != nil {
			t.Skipf("postgres container unavailable: %v", err)
		}
		t.Cleanup(func() { _ = container.Terminate(context.Background()) })

		host, err := container.Host(ctx)
		if err != nil {
			t.Fatalf("container host: %v", err)
		}
		port, err := container.MappedPort(ctx, "5432")
		if err != nil {
			t.Fatalf("container port: %v", err)
		}
		dsn = fmt.Sprintf("postgres://ember:ember@%s:%s/ember?sslmode=disable", host, port.Port())
	}
	db, err := Open(dsn)
	if err != nil {
		t.Fatalf("postgres open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestPostgresStore_Compliance(t *testing.T) {
	db := openTestDB(t)
	storetest.Run(t, func(t *testing.T) store.Store {
		return NewWithDB(db, Options{AppRole: "ember_app"})
	})
}

func TestPostgresStore_MigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

// Without the scope binding, the policies hide every row even from a
// connection that bypasses the repositories.
func TestPostgresStore_UnscopedReadsSeeNothing(t *testing.T) {
	db := openTestDB(t)
	s := NewWithDB(db, Options{AppRole: "ember_app"})
	storetest.SeedCapture(t, s)

	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, "SET LOCAL ROLE ember_app"); err != nil {
		t.Fatalf("set role: %v", err)
	}
	var n int
	if err := tx.QueryRowContext(ctx, "SELECT count(*) FROM captures").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("unscoped read observed %d captures", n)
	}
}
