package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestStore starts a disposable Postgres container, applies the
// embedded migrations against it, and returns a ready Store.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("archiver_test"),
		postgres.WithUsername("archiver_test"),
		postgres.WithPassword("archiver_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err, "container host")
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err, "container port")

	cfg := Config{
		Host: host, Port: port.Int(), User: "archiver_test", Password: "archiver_test",
		Database: "archiver_test", SSLMode: "disable",
		MaxOpenConns: 5, MaxIdleConns: 2,
		ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 15 * time.Minute,
	}

	s, err := New(ctx, cfg)
	require.NoError(t, err, "new store")
	t.Cleanup(func() { _ = s.Close() })

	return s
}
