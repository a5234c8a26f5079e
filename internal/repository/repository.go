// Package repository declares the storage contracts the services depend on.
//
// Implementations live in sub-packages (sqlite, postgres) and must classify
// their failures the same way:
//
//	row absent            → apperror.ErrNotFound
//	unique/FK violation   → apperror.ErrConflict
//	anything else         → returned wrapped, unclassified
//
// The service layer turns unclassified errors into apperror.ErrUnavailable,
// so a store outage is never confused with "no such user".
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/hypest/internal/model"
)

// CredentialStore persists user credentials.
type CredentialStore interface {
	FindCredentialByEmail(ctx context.Context, email string) (*model.UserCredential, error)
	FindCredentialByUsername(ctx context.Context, username string) (*model.UserCredential, error)
	// InsertCredential sets cred.ID and cred.CreatedAt.
	InsertCredential(ctx context.Context, cred *model.UserCredential) error
	UpdateCredentialField(ctx context.Context, username string, field model.CredentialField, value string) error
	DeleteCredential(ctx context.Context, username string) error
}

// SessionStore persists session digests.
type SessionStore interface {
	InsertSession(ctx context.Context, s *model.Session) error
	FindSessionByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error)
	DeleteSession(ctx context.Context, tokenHash string) error
	DeleteSessionsByOwner(ctx context.Context, owner string) (int64, error)
	// DeleteExpiredSessions removes sessions created strictly before cutoff.
	DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store is a complete backend, as opened by the server.
type Store interface {
	CredentialStore
	SessionStore
	Ping(ctx context.Context) error
	Close() error
}

// credentialColumns is the allow-list of columns UpdateCredentialField may
// write. Column names are never built from input.
var credentialColumns = map[model.CredentialField]string{
	model.FieldNickname: "nick",
	model.FieldEmail:    "email",
	model.FieldPassword: "password",
}

// CredentialColumn maps a field to its column name.
func CredentialColumn(field model.CredentialField) (string, error) {
	col, ok := credentialColumns[field]
	if !ok {
		return "", fmt.Errorf("repository: field %q is not updatable", field)
	}
	return col, nil
}
