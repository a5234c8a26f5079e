package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sakif/hypest/internal/apperror"
	"github.com/sakif/hypest/internal/auth"
	"github.com/sakif/hypest/internal/model"
	"github.com/sakif/hypest/internal/observability"
	"github.com/sakif/hypest/internal/repository"
)

// FieldDelete is the pseudo-field that removes the account.
const FieldDelete = "delete"

const (
	maxUsernameLen = 64
	maxEmailBytes  = 254
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// SessionRevoker ends every session of a user. *SessionAuthority satisfies it.
type SessionRevoker interface {
	InvalidateAll(ctx context.Context, username string) (int64, error)
}

// CredentialManager checks passwords and owns account changes.
//
// DEPENDENCIES (injected via NewCredentialManager):
//   - creds    repository.CredentialStore → read/write credential rows
//   - sessions SessionRevoker             → log a deleted user out everywhere
//   - hasher   *auth.PasswordHasher       → argon2id at the configured cost
//   - metrics  *observability.Metrics     → may be nil
//   - logger   *slog.Logger
type CredentialManager struct {
	creds    repository.CredentialStore
	sessions SessionRevoker
	hasher   *auth.PasswordHasher
	timeout  time.Duration
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewCredentialManager wires a CredentialManager.
func NewCredentialManager(
	creds repository.CredentialStore,
	sessions SessionRevoker,
	hasher *auth.PasswordHasher,
	storeTimeout time.Duration,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *CredentialManager {
	return &CredentialManager{
		creds:    creds,
		sessions: sessions,
		hasher:   hasher,
		timeout:  storeTimeout,
		metrics:  metrics,
		logger:   logger,
	}
}

// RegisterInput is what a new account supplies.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// NormalizeEmail trims and lower-cases an address. Storage and lookup both go
// through it, so "Ada@X.com " and "ada@x.com" are the same account.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Authenticate checks an email/password pair and returns the username.
//
// Outcomes:
//
//	unknown email  → apperror.ErrNotFound
//	wrong password → apperror.ErrUnauthorized
//	store failure  → apperror.ErrUnavailable
//
// WHY BURN A HASH ON AN UNKNOWN EMAIL?
// Without it an unknown email answers in microseconds and a known one takes
// a full argon2 derivation. The difference tells an attacker which emails
// are registered. The handler also collapses both errors into one 401 body.
func (m *CredentialManager) Authenticate(ctx context.Context, email, password string) (_ string, err error) {
	ctx, span := tracer.Start(ctx, "CredentialManager.Authenticate")
	defer func() {
		m.recordLogin(err)
		endSpan(span, err)
	}()

	email = NormalizeEmail(email)

	cred, err := m.findByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			m.hasher.Burn(password)
		}
		return "", err
	}

	ok, err := m.hasher.Verify(password, cred.Salt, cred.PasswordHash)
	if err != nil {
		// A row we can't verify is a broken record, not a wrong password.
		m.logger.ErrorContext(ctx, "stored credential is unusable",
			slog.String("username", cred.Username), slog.Any("error", err))
		return "", apperror.Unavailable("credential verify", err)
	}
	if !ok {
		return "", apperror.Unauthorized("invalid credentials")
	}

	span.SetAttributes(attribute.String("hypest.username", cred.Username))
	return cred.Username, nil
}

func (m *CredentialManager) findByEmail(ctx context.Context, email string) (*model.UserCredential, error) {
	sctx, cancel := storeCtx(ctx, m.timeout)
	defer cancel()
	cred, err := m.creds.FindCredentialByEmail(sctx, email)
	if err != nil {
		return nil, storeErr("credential lookup", fmt.Errorf("service/credential: finding by email: %w", err))
	}
	return cred, nil
}

func (m *CredentialManager) recordLogin(err error) {
	switch {
	case err == nil:
		m.metrics.Login(observability.OutcomeSuccess)
	case errors.Is(err, apperror.ErrNotFound), errors.Is(err, apperror.ErrUnauthorized):
		m.metrics.Login(observability.OutcomeRejected)
	default:
		m.metrics.Login(observability.OutcomeError)
	}
}

// Register creates a credential with a fresh salt.
//
// The store's UNIQUE constraints decide duplicates; there is no
// check-then-insert, so two racing registrations can't both win.
func (m *CredentialManager) Register(ctx context.Context, in RegisterInput) (_ *model.UserCredential, err error) {
	ctx, span := tracer.Start(ctx, "CredentialManager.Register")
	defer func() {
		m.recordRegistration(err)
		endSpan(span, err)
	}()

	in.Email = NormalizeEmail(in.Email)
	if err := validateRegistration(in); err != nil {
		return nil, err
	}

	salt, err := auth.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("service/credential: %w", err)
	}
	hash, err := m.hasher.Derive(in.Password, salt)
	if err != nil {
		return nil, fmt.Errorf("service/credential: deriving hash: %w", err)
	}

	cred := &model.UserCredential{
		Username:     in.Username,
		Nickname:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Salt:         salt,
	}

	sctx, cancel := storeCtx(ctx, m.timeout)
	defer cancel()
	if err := m.creds.InsertCredential(sctx, cred); err != nil {
		return nil, storeErr("credential insert", fmt.Errorf("service/credential: inserting %s: %w", in.Username, err))
	}

	m.logger.InfoContext(ctx, "user registered",
		slog.String("userID", cred.ID),
		slog.String("username", cred.Username),
	)
	return cred, nil
}

func (m *CredentialManager) recordRegistration(err error) {
	switch {
	case err == nil:
		m.metrics.Registration(observability.OutcomeSuccess)
	case errors.Is(err, apperror.ErrConflict), errors.Is(err, apperror.ErrValidation):
		m.metrics.Registration(observability.OutcomeRejected)
	default:
		m.metrics.Registration(observability.OutcomeError)
	}
}

func validateRegistration(in RegisterInput) error {
	if in.Username == "" || len(in.Username) > maxUsernameLen || !usernamePattern.MatchString(in.Username) {
		return apperror.ValidationFailed("username", "username must be 1-64 characters of letters, digits, '_', '.' or '-'")
	}
	if err := validateEmail(in.Email); err != nil {
		return err
	}
	return validatePassword(in.Password)
}

func validateEmail(email string) error {
	if !strings.Contains(email, "@") || len(email) > maxEmailBytes {
		return apperror.ValidationFailed("email", "email must contain '@' and be at most 254 bytes")
	}
	return nil
}

func validatePassword(password string) error {
	if password == "" || len(password) > auth.MaxPasswordBytes {
		return apperror.ValidationFailed("password", "password must be 1-1024 bytes")
	}
	return nil
}

// UpdateField changes one attribute of username's credential.
//
// Recognised fields are nickname (or nick), email, password and delete.
// Anything else is ignored and reports applied=false with no error, so
// clients sending extra keys don't break.
//
// A password change keeps the salt and re-derives with it. Delete removes
// the row and then every session of the user.
func (m *CredentialManager) UpdateField(ctx context.Context, username, field, value string) (applied bool, err error) {
	ctx, span := tracer.Start(ctx, "CredentialManager.UpdateField")
	span.SetAttributes(attribute.String("hypest.field", field))
	defer func() { endSpan(span, err) }()

	switch strings.ToLower(field) {
	case "nick", string(model.FieldNickname):
		return true, m.writeField(ctx, username, model.FieldNickname, value)

	case string(model.FieldEmail):
		email := NormalizeEmail(value)
		if err := validateEmail(email); err != nil {
			return false, err
		}
		return true, m.writeField(ctx, username, model.FieldEmail, email)

	case string(model.FieldPassword):
		return true, m.changePassword(ctx, username, value)

	case FieldDelete:
		return true, m.deleteUser(ctx, username)

	default:
		m.logger.DebugContext(ctx, "ignoring unknown credential field", slog.String("field", field))
		return false, nil
	}
}

func (m *CredentialManager) writeField(ctx context.Context, username string, field model.CredentialField, value string) error {
	sctx, cancel := storeCtx(ctx, m.timeout)
	defer cancel()
	if err := m.creds.UpdateCredentialField(sctx, username, field, value); err != nil {
		return storeErr("credential update", fmt.Errorf("service/credential: updating %s of %s: %w", field, username, err))
	}
	m.logger.InfoContext(ctx, "credential updated", slog.String("username", username), slog.String("field", string(field)))
	return nil
}

func (m *CredentialManager) changePassword(ctx context.Context, username, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}

	sctx, cancel := storeCtx(ctx, m.timeout)
	cred, err := m.creds.FindCredentialByUsername(sctx, username)
	cancel()
	if err != nil {
		return storeErr("credential lookup", fmt.Errorf("service/credential: finding %s: %w", username, err))
	}

	hash, err := m.hasher.Derive(password, cred.Salt)
	if err != nil {
		return fmt.Errorf("service/credential: deriving hash: %w", err)
	}
	return m.writeField(ctx, username, model.FieldPassword, hash)
}

func (m *CredentialManager) deleteUser(ctx context.Context, username string) error {
	sctx, cancel := storeCtx(ctx, m.timeout)
	defer cancel()
	if err := m.creds.DeleteCredential(sctx, username); err != nil {
		return storeErr("credential delete", fmt.Errorf("service/credential: deleting %s: %w", username, err))
	}

	// The foreign key already cascades; this also covers stores where it
	// doesn't and reports the count.
	if _, err := m.sessions.InvalidateAll(ctx, username); err != nil {
		m.logger.WarnContext(ctx, "user deleted but sessions not invalidated",
			slog.String("username", username), slog.Any("error", err))
	}

	m.logger.InfoContext(ctx, "user deleted", slog.String("username", username))
	return nil
}

// updateOrder is the order ApplyUpdates writes fields in.
var updateOrder = []string{"nickname", "nick", "email", "password"}

// ApplyUpdates applies a {field: value} map and returns the fields written.
//
// A "delete" key wins over everything else: the account is removed and no
// other field is touched. Otherwise fields go in a fixed order so the result
// doesn't depend on map iteration. Processing stops at the first error;
// fields already written stay written.
//
// Keys match case-insensitively, like UpdateField. Two keys that differ only
// in case ("Nick" and "nick") are ambiguous and rejected before any write.
func (m *CredentialManager) ApplyUpdates(ctx context.Context, username string, updates map[string]string) ([]string, error) {
	updates, err := normalizeKeys(updates)
	if err != nil {
		return nil, err
	}

	if v, ok := updates[FieldDelete]; ok {
		if _, err := m.UpdateField(ctx, username, FieldDelete, v); err != nil {
			return nil, err
		}
		return []string{FieldDelete}, nil
	}

	applied := make([]string, 0, len(updates))
	for _, field := range updateOrder {
		value, ok := updates[field]
		if !ok {
			continue
		}
		done, err := m.UpdateField(ctx, username, field, value)
		if err != nil {
			return applied, err
		}
		if done {
			applied = append(applied, field)
		}
	}
	return applied, nil
}

func normalizeKeys(updates map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(updates))
	for k, v := range updates {
		key := strings.ToLower(k)
		if _, dup := out[key]; dup {
			return nil, apperror.ValidationFailed(key, "field given more than once")
		}
		out[key] = v
	}
	return out, nil
}
