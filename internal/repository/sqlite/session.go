package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/hypest/internal/apperror"
	"github.com/sakif/hypest/internal/model"
)

// InsertSession stores a session digest. Times are kept in UTC so the
// textual DATETIME values compare in chronological order.
func (db *DB) InsertSession(ctx context.Context, s *model.Session) error {
	s.CreatedAt = s.CreatedAt.UTC()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sessions (token_hash, owner, created_at) VALUES (?, ?, ?)`,
		s.TokenHash, s.Owner, s.CreatedAt,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return apperror.Conflict("session", s.Owner)
		}
		return fmt.Errorf("sqlite: inserting session for %s: %w", s.Owner, err)
	}
	return nil
}

// FindSessionByTokenHash returns the session with the given digest.
func (db *DB) FindSessionByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error) {
	var s model.Session
	err := db.conn.QueryRowContext(ctx,
		`SELECT token_hash, owner, created_at FROM sessions WHERE token_hash = ?`, tokenHash,
	).Scan(&s.TokenHash, &s.Owner, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("session", "<redacted>")
		}
		return nil, fmt.Errorf("sqlite: finding session: %w", err)
	}
	return &s, nil
}

// DeleteSession removes one session. Deleting an absent session is not an
// error, so logout stays idempotent.
func (db *DB) DeleteSession(ctx context.Context, tokenHash string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash); err != nil {
		return fmt.Errorf("sqlite: deleting session: %w", err)
	}
	return nil
}

// DeleteSessionsByOwner removes every session of owner.
func (db *DB) DeleteSessionsByOwner(ctx context.Context, owner string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE owner = ?`, owner)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting sessions of %s: %w", owner, err)
	}
	return res.RowsAffected()
}

// DeleteExpiredSessions removes sessions created before cutoff.
func (db *DB) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting expired sessions: %w", err)
	}
	return res.RowsAffected()
}
