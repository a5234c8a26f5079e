package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// SessionTokenBytes is the raw token size. 256 bits from the CSPRNG make the
// token unguessable, so a fast digest is enough to protect it at rest.
const SessionTokenBytes = 32

// ErrMalformedToken is returned when a presented token does not decode to
// exactly SessionTokenBytes bytes.
var ErrMalformedToken = errors.New("auth: malformed session token")

// GenerateSessionToken returns a fresh token for the client and the digest to
// store. The raw token must never be logged or persisted.
func GenerateSessionToken() (token, hash string, err error) {
	raw := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("auth: reading token entropy: %w", err)
	}
	return hex.EncodeToString(raw), digest(raw), nil
}

// HashSessionToken decodes a presented hex token and returns its storage
// digest. Any decoding problem yields ErrMalformedToken; it never panics.
func HashSessionToken(token string) (string, error) {
	if len(token) != hex.EncodedLen(SessionTokenBytes) {
		return "", ErrMalformedToken
	}
	raw, err := hex.DecodeString(token)
	if err != nil {
		return "", ErrMalformedToken
	}
	return digest(raw), nil
}

// HashPrefix shortens a token hash for log lines.
func HashPrefix(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

func digest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
