// Package service holds the authentication business logic.
//
// Two components live here:
//
//	CredentialManager → who you are (email + password, account changes)
//	SessionAuthority  → that you already proved it (opaque session tokens)
//
// Both sit between the HTTP handlers and the repository interfaces:
//
//	handler (HTTP) → service (business rules) → repository (DB)
//
// Neither knows about HTTP, cookies or status codes. They speak in
// apperror sentinels, and handler.writeError turns those into responses.
package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sakif/hypest/internal/apperror"
)

// DefaultStoreTimeout bounds a single store call when no timeout is given.
const DefaultStoreTimeout = 3 * time.Second

// The global provider is a no-op unless the binary installs a real one, so
// spans cost nothing in tests.
var tracer = otel.Tracer("github.com/sakif/hypest/internal/service")

// storeErr classifies a store failure.
//
// WHY NOT RETURN THE DRIVER ERROR?
// Callers must be able to tell "no such user" from "database is down":
// the first is a 401, the second a 503. The store already tags NotFound and
// Conflict; whatever is left (timeouts, broken pools, I/O) is Unavailable.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apperror.ErrNotFound) || errors.Is(err, apperror.ErrConflict) ||
		errors.Is(err, apperror.ErrValidation) {
		return err
	}
	return apperror.Unavailable(op, err)
}

// endSpan marks span failed for errors the operator should look at.
// Rejected credentials are normal traffic and stay unset.
func endSpan(span trace.Span, err error) {
	if err != nil && errors.Is(err, apperror.ErrUnavailable) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func storeCtx(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
