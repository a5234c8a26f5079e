package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/hypest/internal/apperror"
	"github.com/sakif/hypest/internal/model"
	"github.com/sakif/hypest/internal/repository"
)

// compile-time check that *DB implements repository.Store
var _ repository.Store = (*DB)(nil)

const credentialColumns = `id, username, nick, email, password, salt, nb_pictures, hypes, date_created`

// InsertCredential inserts a new user. The UNIQUE constraints on username and
// email turn a duplicate into apperror.ErrConflict; the existing row is
// untouched.
func (db *DB) InsertCredential(ctx context.Context, cred *model.UserCredential) error {
	cred.ID = xid.New().String()
	cred.CreatedAt = time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+credentialColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
		return fmt.Errorf("sqlite: inserting user %s: %w", cred.Username, err)
	}
	return nil
}

// FindCredentialByEmail looks a user up by exact (already normalized) email.
func (db *DB) FindCredentialByEmail(ctx context.Context, email string) (*model.UserCredential, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM users WHERE email = ?`, email)
	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: finding user by email: %w", err)
	}
	return cred, nil
}

// FindCredentialByUsername looks a user up by username.
func (db *DB) FindCredentialByUsername(ctx context.Context, username string) (*model.UserCredential, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM users WHERE username = ?`, username)
	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("sqlite: finding user %s: %w", username, err)
	}
	return cred, nil
}

// UpdateCredentialField overwrites one allow-listed column.
func (db *DB) UpdateCredentialField(ctx context.Context, username string, field model.CredentialField, value string) error {
	col, err := repository.CredentialColumn(field)
	if err != nil {
		return apperror.ValidationFailed(string(field), err.Error())
	}

	// col comes from the allow-list above, never from the request.
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET `+col+` = ? WHERE username = ?`, value, username)
	if err != nil {
		if isConstraintViolation(err) {
			return apperror.Conflict("user", username)
		}
		return fmt.Errorf("sqlite: updating %s of %s: %w", col, username, err)
	}
	return requireOneRow(res, username)
}

// DeleteCredential removes the user row. Its sessions go with it through the
// foreign key.
func (db *DB) DeleteCredential(ctx context.Context, username string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %s: %w", username, err)
	}
	return requireOneRow(res, username)
}

func requireOneRow(res sql.Result, username string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: reading rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", username)
	}
	return nil
}

func scanCredential(row *sql.Row) (*model.UserCredential, error) {
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
