// Package model defines the data structures used throughout the application.
package model

import "time"

// UserCredential is a registered account and the secrets needed to check its
// password.
//
// WHY A SEPARATE Salt COLUMN?
// The password hash is derived from (password, salt). Changing the password
// re-derives with the stored salt, so the salt has to live on its own instead
// of being embedded in the hash string.
//
// PasswordHash and Salt carry `json:"-"` so no handler can leak them by
// encoding the struct.
type UserCredential struct {
	ID           string    `json:"id"         db:"id"`
	Username     string    `json:"username"   db:"username"` // UNIQUE, immutable
	Nickname     string    `json:"nickname"   db:"nick"`
	Email        string    `json:"email"      db:"email"` // UNIQUE, stored normalized
	PasswordHash string    `json:"-"          db:"password"`
	Salt         []byte    `json:"-"          db:"salt"`
	NbPictures   int       `json:"nbPictures" db:"nb_pictures"`
	Hypes        int       `json:"hypes"      db:"hypes"`
	CreatedAt    time.Time `json:"createdAt"  db:"date_created"`
}

// CredentialField names a mutable column of UserCredential.
type CredentialField string

const (
	FieldNickname CredentialField = "nickname"
	FieldEmail    CredentialField = "email"
	FieldPassword CredentialField = "password"
)
