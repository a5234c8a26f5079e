package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sakif/hypest/internal/apperror"
	"github.com/sakif/hypest/internal/model"
)

// InsertSession stores a session digest.
func (db *DB) InsertSession(ctx context.Context, s *model.Session) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO sessions (token_hash, owner, created_at) VALUES ($1, $2, $3)`,
		s.TokenHash, s.Owner, s.CreatedAt,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return apperror.Conflict("session", s.Owner)
		}
		return fmt.Errorf("postgres: inserting session for %s: %w", s.Owner, err)
	}
	return nil
}

// FindSessionByTokenHash returns the session with the given digest.
func (db *DB) FindSessionByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error) {
	var s model.Session
	err := db.pool.QueryRow(ctx,
		`SELECT token_hash, owner, created_at FROM sessions WHERE token_hash = $1`, tokenHash,
	).Scan(&s.TokenHash, &s.Owner, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("session", "<redacted>")
		}
		return nil, fmt.Errorf("postgres: finding session: %w", err)
	}
	return &s, nil
}

// DeleteSession removes one session; an absent session is not an error.
func (db *DB) DeleteSession(ctx context.Context, tokenHash string) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("postgres: deleting session: %w", err)
	}
	return nil
}

// DeleteSessionsByOwner removes every session of owner.
func (db *DB) DeleteSessionsByOwner(ctx context.Context, owner string) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM sessions WHERE owner = $1`, owner)
	if err != nil {
		return 0, fmt.Errorf("postgres: deleting sessions of %s: %w", owner, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpiredSessions removes sessions created before cutoff.
func (db *DB) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM sessions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: deleting expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
