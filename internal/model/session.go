package model

import "time"

// Session is a login. Only the SHA-256 digest of the token is ever stored;
// the raw token exists on the client alone.
type Session struct {
	TokenHash string    `db:"token_hash"`
	Owner     string    `db:"owner"` // username, not an owning reference
	CreatedAt time.Time `db:"created_at"`
}

// Expired reports whether the session is at least ttl old at now.
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	return !now.Before(s.CreatedAt.Add(ttl))
}
