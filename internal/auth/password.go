// Package auth holds the security primitives behind logins and sessions:
// password derivation, session token generation and the session cookie
// middleware.
//
// WHY ARGON2ID WITH AN EXPLICIT SALT?
// Every credential row stores its own salt next to the derived hash. A
// password change re-derives with the SAME salt, so the hash function must
// accept the salt as an input rather than generating and embedding one
// itself. argon2id does exactly that, and its cost is tunable along two
// axes (time passes and memory) that are fixed at deployment time.
//
// Stored format:
//
//	users.salt     = 16 raw bytes from crypto/rand
//	users.password = base64 (standard alphabet, no padding) of the 32-byte key
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// SaltBytes is the per-credential salt length.
	SaltBytes = 16
	// KeyBytes is the length of the derived key.
	KeyBytes = 32
	// MaxPasswordBytes bounds the work an attacker can push into one derivation.
	MaxPasswordBytes = 1024
)

// Params is the argon2id cost. It is a deployment-time security parameter:
// changing it invalidates every stored hash.
type Params struct {
	Time      uint32 // passes over memory
	MemoryKiB uint32 // memory per derivation
	Threads   uint8  // lanes
}

// DefaultParams follows the RFC 9106 second recommendation.
var DefaultParams = Params{Time: 1, MemoryKiB: 64 * 1024, Threads: 4}

// MinParams is the weakest cost accepted from configuration.
var MinParams = Params{Time: 1, MemoryKiB: 19 * 1024, Threads: 1}

// MaxParams is the strongest cost accepted from configuration.
var MaxParams = Params{Time: 64, MemoryKiB: 4 * 1024 * 1024, Threads: 255}

// base64 without padding keeps the encoded hash a fixed 43 characters.
var hashEncoding = base64.RawStdEncoding

// PasswordHasher derives and verifies salted password hashes.
//
// It's a struct (not free functions) so the cost can be injected: production
// code uses the configured Params, tests use NewPasswordHasherForTest.
type PasswordHasher struct {
	params Params
}

// NewPasswordHasher returns a hasher using p. It rejects costs outside
// MinParams..MaxParams.
func NewPasswordHasher(p Params) (*PasswordHasher, error) {
	if p.Time < MinParams.Time {
		return nil, fmt.Errorf("auth: argon2 time %d below minimum %d", p.Time, MinParams.Time)
	}
	if p.Time > MaxParams.Time {
		return nil, fmt.Errorf("auth: argon2 time %d above maximum %d", p.Time, MaxParams.Time)
	}
	if p.MemoryKiB < MinParams.MemoryKiB {
		return nil, fmt.Errorf("auth: argon2 memory %d KiB below minimum %d KiB", p.MemoryKiB, MinParams.MemoryKiB)
	}
	if p.MemoryKiB > MaxParams.MemoryKiB {
		return nil, fmt.Errorf("auth: argon2 memory %d KiB above maximum %d KiB", p.MemoryKiB, MaxParams.MemoryKiB)
	}
	if p.Threads < MinParams.Threads {
		return nil, fmt.Errorf("auth: argon2 threads must be at least %d", MinParams.Threads)
	}
	return &PasswordHasher{params: p}, nil
}

// NewPasswordHasherForTest returns a hasher with a tiny cost so tests run in
// microseconds. Do NOT use in production.
func NewPasswordHasherForTest() *PasswordHasher {
	return &PasswordHasher{params: Params{Time: 1, MemoryKiB: 64, Threads: 1}}
}

// Params reports the cost this hasher derives with.
func (h *PasswordHasher) Params() Params {
	return h.params
}

// NewSalt returns SaltBytes bytes from the operating system CSPRNG.
// There is no fallback source: a failing entropy source is an error.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("auth: reading salt entropy: %w", err)
	}
	return salt, nil
}

// Derive hashes password with salt and returns the encoded key.
func (h *PasswordHasher) Derive(password string, salt []byte) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", MaxPasswordBytes)
	}
	if len(salt) != SaltBytes {
		return "", fmt.Errorf("auth: salt must be %d bytes, got %d", SaltBytes, len(salt))
	}
	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, KeyBytes)
	return hashEncoding.EncodeToString(key), nil
}

// Verify re-derives password with the stored salt and compares the result to
// the stored hash in constant time.
//
// Returns (false, nil) on a plain mismatch. An error means the stored record
// itself is unusable (bad encoding, wrong salt length).
func (h *PasswordHasher) Verify(password string, salt []byte, encodedHash string) (bool, error) {
	stored, err := hashEncoding.DecodeString(encodedHash)
	if err != nil {
		return false, fmt.Errorf("auth: decoding stored hash: %w", err)
	}
	if len(password) > MaxPasswordBytes {
		// Still spend a derivation so oversized input is not a timing oracle.
		h.burn(salt)
		return false, nil
	}
	if len(salt) != SaltBytes {
		return false, fmt.Errorf("auth: stored salt must be %d bytes, got %d", SaltBytes, len(salt))
	}
	derived := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, KeyBytes)
	return subtle.ConstantTimeCompare(derived, stored) == 1, nil
}

// Burn runs one full derivation and discards it. Login calls this when the
// email is unknown, so both rejection paths cost the same.
func (h *PasswordHasher) Burn(password string) {
	if len(password) > MaxPasswordBytes {
		password = password[:MaxPasswordBytes]
	}
	_ = argon2.IDKey([]byte(password), dummySalt[:], h.params.Time, h.params.MemoryKiB, h.params.Threads, KeyBytes)
}

func (h *PasswordHasher) burn(salt []byte) {
	if len(salt) != SaltBytes {
		salt = dummySalt[:]
	}
	_ = argon2.IDKey(nil, salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, KeyBytes)
}

var dummySalt = [SaltBytes]byte{
	0x68, 0x79, 0x70, 0x65, 0x73, 0x74, 0x2d, 0x64,
	0x75, 0x6d, 0x6d, 0x79, 0x2d, 0x73, 0x61, 0x6c,
}
