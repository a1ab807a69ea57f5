// Package testutil holds shared test plumbing: a throwaway Postgres for the
// storage integration tests and a logger that keeps test output quiet.
//
// Typical TestMain:
//
//	func TestMain(m *testing.M) {
//	    pg := testutil.MustStartPostgres()
//	    testDB, _ = pg.NewTestDB(context.Background(), testutil.TestLogger())
//	    code := m.Run()
//	    pg.Terminate()
//	    os.Exit(code)
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/turno/internal/storage"
	"github.com/ashita-ai/turno/migrations"
)

// ExternalDSNEnv points the tests at an existing database instead of a
// container, for environments without Docker.
const ExternalDSNEnv = "TURNO_TEST_DATABASE_URL"

const (
	postgresImage = "postgres:17-alpine"
	pgCredential  = "turno"
)

// Postgres is a database the tests may freely write to. Container is nil
// when the DSN came from ExternalDSNEnv.
type Postgres struct {
	Container testcontainers.Container
	DSN       string
}

// StartPostgres returns the database named by ExternalDSNEnv, or starts a
// disposable Postgres container.
func StartPostgres(ctx context.Context) (*Postgres, error) {
	if dsn := os.Getenv(ExternalDSNEnv); dsn != "" {
		return &Postgres{DSN: dsn}, nil
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     pgCredential,
				"POSTGRES_PASSWORD": pgCredential,
				"POSTGRES_DB":       pgCredential,
			},
			// Postgres logs "ready" once for the init server and once for the real one.
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("testutil: start postgres: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("testutil: container host: %w", err)
	}
	port, err := c.MappedPort(ctx, "5432")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("testutil: container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://%[1]s:%[1]s@%s:%s/%[1]s?sslmode=disable", pgCredential, host, port.Port())
	return &Postgres{Container: c, DSN: dsn}, nil
}

// MustStartPostgres is StartPostgres for TestMain: it exits the process on failure.
func MustStartPostgres() *Postgres {
	pg, err := StartPostgres(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return pg
}

// NewTestDB connects a storage.DB (pool plus LISTEN connection) and applies
// the embedded migrations.
func (pg *Postgres) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, pg.DSN, pg.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: connect: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("testutil: migrate: %w", err)
	}
	return db, nil
}

// Terminate removes the container, if one was started.
func (pg *Postgres) Terminate() {
	if pg.Container != nil {
		_ = pg.Container.Terminate(context.Background())
	}
}

// TestLogger returns a text logger that only surfaces warnings and errors.
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
