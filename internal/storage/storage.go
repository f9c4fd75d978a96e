// Package storage defines the persistence boundary for derived rows. The
// derivation core never touches it; the runner hands finished results to a
// DerivedStore and the API reads them back.
package storage

import (
	"context"
	"errors"

	"github.com/tjfontaine/trajectory-deriver/internal/core/domain"
	"github.com/tjfontaine/trajectory-deriver/internal/derive"
)

// ErrNotFound reports that the requested session has no derived rows.
var ErrNotFound = errors.New("session not found")

// ListOptions pages session listings.
type ListOptions struct {
	Limit  int
	Offset int
}

// DerivedStore persists and serves the five derived row sets plus
// diagnostics. SaveDerivation replaces any prior rows for the session
// atomically, so storing a re-derivation is idempotent.
type DerivedStore interface {
	SaveDerivation(ctx context.Context, res *derive.Result) error

	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListSessions(ctx context.Context, opts ListOptions) ([]domain.Session, error)
	ListTurns(ctx context.Context, sessionID string) ([]domain.Turn, error)
	ListModelSpans(ctx context.Context, sessionID string) ([]domain.ModelSpan, error)
	ListToolIntervals(ctx context.Context, sessionID string) ([]domain.ToolInterval, error)
	ListErrors(ctx context.Context, sessionID string) ([]domain.ErrorRecord, error)
	ListDiagnostics(ctx context.Context, sessionID string) ([]domain.Diagnostic, error)

	Close() error
}
