package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sakif/hypest/internal/apperror"
	"github.com/sakif/hypest/internal/auth"
	"github.com/sakif/hypest/internal/model"
	"github.com/sakif/hypest/internal/observability"
	"github.com/sakif/hypest/internal/repository"
)

// errInvalidSession is the only rejection Validate returns. Malformed,
// unknown and expired tokens all look the same to the caller.
var errInvalidSession = apperror.Unauthorized("invalid session")

// SessionAuthority issues and checks opaque session tokens.
//
// The client holds hex(raw); the store holds hex(sha256(raw)). A leaked
// sessions table therefore cannot be replayed as cookies.
type SessionAuthority struct {
	sessions repository.SessionStore
	ttl      time.Duration
	timeout  time.Duration
	metrics  *observability.Metrics
	logger   *slog.Logger

	// now is swapped in tests to move the clock.
	now func() time.Time
}

// SessionOptions configures a SessionAuthority.
type SessionOptions struct {
	TTL          time.Duration
	StoreTimeout time.Duration
}

// NewSessionAuthority wires a SessionAuthority. metrics may be nil.
func NewSessionAuthority(
	sessions repository.SessionStore,
	opts SessionOptions,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *SessionAuthority {
	return &SessionAuthority{
		sessions: sessions,
		ttl:      opts.TTL,
		timeout:  opts.StoreTimeout,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// TTL is how long an issued session stays valid.
func (a *SessionAuthority) TTL() time.Duration {
	return a.ttl
}

// Issue creates a session for username and returns the raw token.
func (a *SessionAuthority) Issue(ctx context.Context, username string) (_ string, err error) {
	ctx, span := tracer.Start(ctx, "SessionAuthority.Issue")
	defer func() { endSpan(span, err) }()

	token, hash, err := auth.GenerateSessionToken()
	if err != nil {
		return "", fmt.Errorf("service/session: %w", err)
	}

	sctx, cancel := storeCtx(ctx, a.timeout)
	defer cancel()
	s := &model.Session{TokenHash: hash, Owner: username, CreatedAt: a.now()}
	if err := a.sessions.InsertSession(sctx, s); err != nil {
		return "", storeErr("session insert", fmt.Errorf("service/session: inserting session: %w", err))
	}

	a.metrics.SessionIssued()
	a.logger.InfoContext(ctx, "session issued",
		slog.String("owner", username),
		slog.String("session", auth.HashPrefix(hash)),
	)
	return token, nil
}

// Validate returns the owner of token.
//
// Outcomes:
//
//	malformed / unknown / expired → apperror.ErrUnauthorized ("invalid session")
//	store failure                 → apperror.ErrUnavailable
//	otherwise                     → owner username
//
// An expired row is deleted on the way out. If that delete fails the
// request is still rejected; the janitor will get it later.
func (a *SessionAuthority) Validate(ctx context.Context, token string) (_ string, err error) {
	ctx, span := tracer.Start(ctx, "SessionAuthority.Validate")
	defer func() {
		a.recordValidation(err)
		endSpan(span, err)
	}()

	hash, err := auth.HashSessionToken(token)
	if err != nil {
		return "", errInvalidSession
	}

	sctx, cancel := storeCtx(ctx, a.timeout)
	defer cancel()
	s, err := a.sessions.FindSessionByTokenHash(sctx, hash)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", errInvalidSession
		}
		return "", storeErr("session lookup", fmt.Errorf("service/session: finding session: %w", err))
	}

	if s.Expired(a.now(), a.ttl) {
		if err := a.sessions.DeleteSession(sctx, hash); err != nil && !errors.Is(err, apperror.ErrNotFound) {
			a.logger.WarnContext(ctx, "failed to delete expired session",
				slog.String("session", auth.HashPrefix(hash)),
				slog.Any("error", err),
			)
		}
		return "", errInvalidSession
	}

	span.SetAttributes(attribute.String("hypest.session.owner", s.Owner))
	return s.Owner, nil
}

func (a *SessionAuthority) recordValidation(err error) {
	switch {
	case err == nil:
		a.metrics.SessionValidation("valid")
	case errors.Is(err, apperror.ErrUnauthorized):
		a.metrics.SessionValidation("invalid")
	default:
		a.metrics.SessionValidation("error")
	}
}

// Invalidate ends the session for token. Malformed or unknown tokens are
// ignored, so logging out twice is fine.
func (a *SessionAuthority) Invalidate(ctx context.Context, token string) (err error) {
	ctx, span := tracer.Start(ctx, "SessionAuthority.Invalidate")
	defer func() { endSpan(span, err) }()

	hash, err := auth.HashSessionToken(token)
	if err != nil {
		return nil
	}

	sctx, cancel := storeCtx(ctx, a.timeout)
	defer cancel()
	if err := a.sessions.DeleteSession(sctx, hash); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil
		}
		return storeErr("session delete", fmt.Errorf("service/session: deleting session: %w", err))
	}

	a.logger.InfoContext(ctx, "session invalidated", slog.String("session", auth.HashPrefix(hash)))
	return nil
}

// InvalidateAll ends every session owned by username.
func (a *SessionAuthority) InvalidateAll(ctx context.Context, username string) (_ int64, err error) {
	ctx, span := tracer.Start(ctx, "SessionAuthority.InvalidateAll")
	defer func() { endSpan(span, err) }()

	sctx, cancel := storeCtx(ctx, a.timeout)
	defer cancel()
	n, err := a.sessions.DeleteSessionsByOwner(sctx, username)
	if err != nil {
		return 0, storeErr("session delete", fmt.Errorf("service/session: deleting sessions of %s: %w", username, err))
	}

	a.logger.InfoContext(ctx, "sessions invalidated", slog.String("owner", username), slog.Int64("count", n))
	return n, nil
}

// PruneExpired deletes every session older than the TTL.
func (a *SessionAuthority) PruneExpired(ctx context.Context) (_ int64, err error) {
	ctx, span := tracer.Start(ctx, "SessionAuthority.PruneExpired")
	defer func() { endSpan(span, err) }()

	sctx, cancel := storeCtx(ctx, a.timeout)
	defer cancel()
	n, err := a.sessions.DeleteExpiredSessions(sctx, a.now().Add(-a.ttl))
	if err != nil {
		return 0, storeErr("session prune", fmt.Errorf("service/session: pruning sessions: %w", err))
	}

	a.metrics.SessionsPruned(n)
	if n > 0 {
		a.logger.InfoContext(ctx, "expired sessions pruned", slog.Int64("count", n))
	}
	return n, nil
}
