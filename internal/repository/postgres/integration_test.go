//go:build integration

package postgres

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sakif/hypest/internal/apperror"
	"github.com/sakif/hypest/internal/model"
)

// Run with: go test -tags integration ./internal/repository/postgres/
func newIntegrationDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:18-alpine",
		tcpostgres.WithDatabase("hypest"),
		tcpostgres.WithUsername("hypest"),
		tcpostgres.WithPassword("hypest"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, Migrate(url, Up))
	// A second run must be a no-op.
	require.NoError(t, Migrate(url, Up))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := New(ctx, url, DefaultConnectOptions, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestIntegration_CredentialAndSessionLifecycle(t *testing.T) {
	db := newIntegrationDB(t)
	ctx := context.Background()

	ada := &model.UserCredential{
		Username: "ada", Nickname: "ada", Email: "ada@x.com",
		PasswordHash: "hash", Salt: []byte("0123456789abcdef"),
	}
	require.NoError(t, db.InsertCredential(ctx, ada))

	dup := &model.UserCredential{
		Username: "ada2", Email: "ada@x.com",
		PasswordHash: "other", Salt: []byte("fedcba9876543210"),
	}
	assert.ErrorIs(t, db.InsertCredential(ctx, dup), apperror.ErrConflict)

	found, err := db.FindCredentialByEmail(ctx, "ada@x.com")
	require.NoError(t, err)
	assert.Equal(t, "hash", found.PasswordHash, "duplicate insert must not touch the first row")
	assert.Equal(t, ada.Salt, found.Salt)

	require.NoError(t, db.UpdateCredentialField(ctx, "ada", model.FieldPassword, "new-hash"))

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, db.InsertSession(ctx, &model.Session{TokenHash: "fresh", Owner: "ada", CreatedAt: now}))
	require.NoError(t, db.InsertSession(ctx, &model.Session{TokenHash: "stale", Owner: "ada", CreatedAt: now.Add(-48 * time.Hour)}))

	n, err := db.DeleteExpiredSessions(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	s, err := db.FindSessionByTokenHash(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "ada", s.Owner)

	require.NoError(t, db.DeleteCredential(ctx, "ada"))
	_, err = db.FindSessionByTokenHash(ctx, "fresh")
	assert.ErrorIs(t, err, apperror.ErrNotFound, "sessions cascade with the user")
}
