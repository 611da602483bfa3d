//go:build integration

package postgres_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/Polkawatch/substrate-archive/internal/domain/model"
	"github.com/Polkawatch/substrate-archive/internal/store/postgres"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func migrationsDir() string {
	_, currentFile, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(currentFile), "migrations")
}

// testDB returns a migrated database. TEST_DB_URL points at an external
// server; otherwise an ephemeral container is started. Tables are truncated
// so each test starts empty.
func testDB(t *testing.T) *postgres.DB {
	t.Helper()

	url := os.Getenv("TEST_DB_URL")
	if url == "" {
		url = startContainer(t)
	}

	db, err := postgres.New(postgres.Config{
		URL:             url,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.RunMigrations(context.Background(), migrationsDir()))
	_, err = db.ExecContext(context.Background(), `TRUNCATE inherents, blocks`)
	require.NoError(t, err)
	return db
}

func startContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("test_substrate_archive"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func testBlock(n uint32) model.Block {
	return model.NewBlock(model.BackendBlock{
		Header: model.Header{
			ParentHash:     model.Hash{0xaa, byte(n >> 8), byte(n)},
			Hash:           model.Hash{0xbb, byte(n >> 8), byte(n)},
			Number:         n,
			StateRoot:      model.Hash{0xcc},
			ExtrinsicsRoot: model.Hash{0xdd},
		},
	}, 9110)
}

func insertBlocks(t *testing.T, db *postgres.DB, numbers ...uint32) {
	t.Helper()
	ctx := context.Background()
	repo := postgres.NewBlockRepo(db.DB)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	for _, n := range numbers {
		b := testBlock(n)
		_, err := repo.UpsertTx(ctx, tx, &b)
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())
}
