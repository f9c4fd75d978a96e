// Package runner orchestrates derivation across many sessions: a bounded
// worker pool derives each session independently and persists the results.
// One corrupt session never aborts the batch, and the stored rows are
// identical for any worker count because each session is a pure function
// of its own event set.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/trajectory-deriver/internal/core/domain"
	"github.com/tjfontaine/trajectory-deriver/internal/derive"
	"github.com/tjfontaine/trajectory-deriver/internal/storage"
)

// Runner derives sessions and writes the results to a store.
type Runner struct {
	store   storage.DerivedStore
	opts    derive.Options
	workers int
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New builds a Runner. workers below 1 is clamped to 1.
func New(store storage.DerivedStore, opts derive.Options, workers int, logger *slog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:   store,
		opts:    opts,
		workers: workers,
		logger:  logger,
		tracer:  otel.Tracer("deriver/runner"),
	}
}

// SessionOutcome records how one session fared in a batch.
type SessionOutcome struct {
	SessionID string `json:"session_id"`
	Turns     int    `json:"turns"`
	Errors    int    `json:"errors"`
	Err       error  `json:"-"`
	ErrString string `json:"error,omitempty"`
}

// BatchReport summarizes one run over a set of sessions. Outcomes are
// sorted by session id regardless of completion order.
type BatchReport struct {
	RunID    string           `json:"run_id"`
	Derived  int              `json:"derived"`
	Failed   int              `json:"failed"`
	Outcomes []SessionOutcome `json:"outcomes"`
}

// RunBatch derives every session in the map. Per-session failures are
// recorded in the report; only context cancellation fails the batch.
func (r *Runner) RunBatch(ctx context.Context, sessions map[string][]domain.RawEvent) (*BatchReport, error) {
	runID := uuid.NewString()

	ids := make([]string, 0, len(sessions))
	for id := range sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ctx, span := r.tracer.Start(ctx, "runner.batch",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("sessions", len(ids)),
		))
	defer span.End()

	jobs := make(chan string)
	outcomes := make([]SessionOutcome, len(ids))
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	var wg sync.WaitGroup
	for w := 0; w < r.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				outcomes[index[id]] = r.deriveOne(ctx, id, sessions[id])
			}
		}()
	}

feed:
	for _, id := range ids {
		select {
		case jobs <- id:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("batch %s interrupted: %w", runID, err)
	}

	report := &BatchReport{RunID: runID, Outcomes: outcomes}
	for i := range outcomes {
		if outcomes[i].Err != nil {
			report.Failed++
		} else {
			report.Derived++
		}
	}

	r.logger.Info("batch complete",
		slog.String("run_id", runID),
		slog.Int("derived", report.Derived),
		slog.Int("failed", report.Failed))
	return report, nil
}

// DeriveSession derives and stores a single session.
func (r *Runner) DeriveSession(ctx context.Context, sessionID string, events []domain.RawEvent) error {
	out := r.deriveOne(ctx, sessionID, events)
	return out.Err
}

func (r *Runner) deriveOne(ctx context.Context, sessionID string, events []domain.RawEvent) SessionOutcome {
	ctx, span := r.tracer.Start(ctx, "runner.derive",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("events", len(events)),
		))
	defer span.End()

	out := SessionOutcome{SessionID: sessionID}

	res, err := derive.Derive(sessionID, events, r.opts)
	if err != nil {
		out.Err = fmt.Errorf("derive %s: %w", sessionID, err)
	} else if err := r.store.SaveDerivation(ctx, res); err != nil {
		out.Err = fmt.Errorf("store %s: %w", sessionID, err)
	} else {
		out.Turns = len(res.Turns)
		out.Errors = len(res.Errors)
	}

	if out.Err != nil {
		out.ErrString = out.Err.Error()
		span.SetStatus(codes.Error, out.Err.Error())
		r.logger.Error("session derivation failed",
			slog.String("session_id", sessionID),
			slog.String("error", out.Err.Error()))
		return out
	}

	span.SetAttributes(attribute.Int("turns", out.Turns))
	r.logger.Debug("session derived",
		slog.String("session_id", sessionID),
		slog.Int("turns", out.Turns),
		slog.Int("errors", out.Errors))
	return out
}
