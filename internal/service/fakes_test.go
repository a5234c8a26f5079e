package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sakif/hypest/internal/apperror"
	"github.com/sakif/hypest/internal/auth"
	"github.com/sakif/hypest/internal/model"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// errDBDown stands in for a driver error the store could not classify.
var errDBDown = errors.New("connection refused")

// fakeStore is an in-memory repository.Store. It enforces the same UNIQUE
// and cascade rules as the real schemas, so service tests exercise the
// store error contract without a database.
//
// Set any *Err field to make that call fail.
type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*model.UserCredential // keyed by username
	sessions map[string]*model.Session        // keyed by token hash
	nextID   int

	findErr          error
	insertErr        error
	updateErr        error
	deleteErr        error
	insertSessionErr error
	findSessionErr   error
	deleteSessionErr error
	pruneErr         error

	deleteSessionCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]*model.UserCredential),
		sessions: make(map[string]*model.Session),
	}
}

func (f *fakeStore) FindCredentialByEmail(_ context.Context, email string) (*model.UserCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, u := range f.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (f *fakeStore) FindCredentialByUsername(_ context.Context, username string) (*model.UserCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	u, ok := f.users[username]
	if !ok {
		return nil, apperror.NotFound("user", username)
	}
	c := *u
	return &c, nil
}

func (f *fakeStore) InsertCredential(_ context.Context, cred *model.UserCredential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	if _, ok := f.users[cred.Username]; ok {
		return apperror.Conflict("user", cred.Username)
	}
	for _, u := range f.users {
		if u.Email == cred.Email {
			return apperror.Conflict("user", cred.Username)
		}
	}
	f.nextID++
	cred.ID = "fake-" + string(rune('0'+f.nextID))
	cred.CreatedAt = time.Now().UTC()
	c := *cred
	f.users[cred.Username] = &c
	return nil
}

func (f *fakeStore) UpdateCredentialField(_ context.Context, username string, field model.CredentialField, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	u, ok := f.users[username]
	if !ok {
		return apperror.NotFound("user", username)
	}
	switch field {
	case model.FieldNickname:
		u.Nickname = value
	case model.FieldEmail:
		for name, other := range f.users {
			if name != username && other.Email == value {
				return apperror.Conflict("user", username)
			}
		}
		u.Email = value
	case model.FieldPassword:
		u.PasswordHash = value
	default:
		return errors.New("unknown field")
	}
	return nil
}

func (f *fakeStore) DeleteCredential(_ context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.users[username]; !ok {
		return apperror.NotFound("user", username)
	}
	delete(f.users, username)
	for h, s := range f.sessions {
		if s.Owner == username {
			delete(f.sessions, h)
		}
	}
	return nil
}

func (f *fakeStore) InsertSession(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertSessionErr != nil {
		return f.insertSessionErr
	}
	if _, ok := f.users[s.Owner]; !ok {
		return apperror.Conflict("session owner", s.Owner)
	}
	c := *s
	f.sessions[s.TokenHash] = &c
	return nil
}

func (f *fakeStore) FindSessionByTokenHash(_ context.Context, hash string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findSessionErr != nil {
		return nil, f.findSessionErr
	}
	s, ok := f.sessions[hash]
	if !ok {
		return nil, apperror.NotFound("session", auth.HashPrefix(hash))
	}
	c := *s
	return &c, nil
}

func (f *fakeStore) DeleteSession(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteSessionCalls++
	if f.deleteSessionErr != nil {
		return f.deleteSessionErr
	}
	if _, ok := f.sessions[hash]; !ok {
		return apperror.NotFound("session", auth.HashPrefix(hash))
	}
	delete(f.sessions, hash)
	return nil
}

func (f *fakeStore) DeleteSessionsByOwner(_ context.Context, owner string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteSessionErr != nil {
		return 0, f.deleteSessionErr
	}
	var n int64
	for h, s := range f.sessions {
		if s.Owner == owner {
			delete(f.sessions, h)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) DeleteExpiredSessions(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pruneErr != nil {
		return 0, f.pruneErr
	}
	var n int64
	for h, s := range f.sessions {
		if s.CreatedAt.Before(cutoff) {
			delete(f.sessions, h)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeStore) user(username string) (model.UserCredential, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok {
		return model.UserCredential{}, false
	}
	return *u, true
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testClock is a settable clock for SessionAuthority.now.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// newTestServices wires both components over one fake store with a
// one-hour TTL and a controllable clock.
func newTestServices(t *testing.T) (*CredentialManager, *SessionAuthority, *fakeStore, *testClock) {
	t.Helper()
	store := newFakeStore()
	clock := &testClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}

	sessions := NewSessionAuthority(store, SessionOptions{TTL: time.Hour, StoreTimeout: time.Second}, nil, testLogger())
	sessions.now = clock.Now

	creds := NewCredentialManager(store, sessions, auth.NewPasswordHasherForTest(), time.Second, nil, testLogger())
	return creds, sessions, store, clock
}

func mustRegister(t *testing.T, m *CredentialManager, username, email, password string) *model.UserCredential {
	t.Helper()
	cred, err := m.Register(context.Background(), RegisterInput{Username: username, Email: email, Password: password})
	if err != nil {
		t.Fatalf("Register(%s) error = %v", username, err)
	}
	return cred
}
