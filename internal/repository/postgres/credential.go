package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/xid"

	"github.com/sakif/hypest/internal/apperror"
	"github.com/sakif/hypest/internal/model"
	"github.com/sakif/hypest/internal/repository"
)

var _ repository.Store = (*DB)(nil)

const credentialColumns = `id, username, nick, email, password, salt, nb_pictures, hypes, date_created`

// InsertCredential inserts a new user and returns Conflict on a duplicate
// username or email.
func (db *DB) InsertCredential(ctx context.Context, cred *model.UserCredential) error {
	cred.ID = xid.New().String()
	cred.CreatedAt = time.Now().UTC()

	_, err := db.pool.Exec(ctx,
		`INSERT INTO users (`+credentialColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		cred.ID,
		cred.Username,
		cred.Nickname,
		cred.Email,
		cred.PasswordHash,
		cred.Salt,
		cred.NbPictures,
		cred.Hypes,
		cred.CreatedAt,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return apperror.Conflict("user", cred.Username)
		}
		return fmt.Errorf("postgres: inserting user %s: %w", cred.Username, err)
	}
	return nil
}

// FindCredentialByEmail looks a user up by exact (already normalized) email.
func (db *DB) FindCredentialByEmail(ctx context.Context, email string) (*model.UserCredential, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+credentialColumns+` FROM users WHERE email = $1`, email)
	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("postgres: finding user by email: %w", err)
	}
	return cred, nil
}

// FindCredentialByUsername looks a user up by username.
func (db *DB) FindCredentialByUsername(ctx context.Context, username string) (*model.UserCredential, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+credentialColumns+` FROM users WHERE username = $1`, username)
	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("postgres: finding user %s: %w", username, err)
	}
	return cred, nil
}

// UpdateCredentialField overwrites one allow-listed column.
func (db *DB) UpdateCredentialField(ctx context.Context, username string, field model.CredentialField, value string) error {
	col, err := repository.CredentialColumn(field)
	if err != nil {
		return apperror.ValidationFailed(string(field), err.Error())
	}

	tag, err := db.pool.Exec(ctx, `UPDATE users SET `+col+` = $1 WHERE username = $2`, value, username)
	if err != nil {
		if isConstraintViolation(err) {
			return apperror.Conflict("user", username)
		}
		return fmt.Errorf("postgres: updating %s of %s: %w", col, username, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("user", username)
	}
	return nil
}

// DeleteCredential removes the user row; sessions cascade.
func (db *DB) DeleteCredential(ctx context.Context, username string) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM users WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("postgres: deleting user %s: %w", username, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("user", username)
	}
	return nil
}

func scanCredential(row pgx.Row) (*model.UserCredential, error) {
	var c model.UserCredential
	err := row.Scan(
		&c.ID,
		&c.Username,
		&c.Nickname,
		&c.Email,
		&c.PasswordHash,
		&c.Salt,
		&c.NbPictures,
		&c.Hypes,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
