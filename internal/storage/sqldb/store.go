// Package sqldb is the SQL implementation of storage.DerivedStore. Queries
// are written once with ? placeholders; the dialect layer adapts them to
// the configured database (SQLite via modernc.org/sqlite, PostgreSQL via
// pgx).
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/trajectory-deriver/internal/core/domain"
	"github.com/tjfontaine/trajectory-deriver/internal/derive"
	"github.com/tjfontaine/trajectory-deriver/internal/storage"
	"github.com/tjfontaine/trajectory-deriver/internal/storage/dialect"
)

// Store persists derived rows in the configured SQL database.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ storage.DerivedStore = (*Store)(nil)

// New opens the database named by driver and dsn (creating it if needed)
// and initializes the schema.
func New(driver, dsn string) (*Store, error) {
	d, err := dialect.FromDriverName(driver)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, stmt := range d.SetupStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute setup statement: %w", err)
		}
	}

	s := &Store{db: db, dialect: d}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	agent_id TEXT,
	model TEXT,
	provider TEXT,
	start_ts TIMESTAMP,
	end_ts TIMESTAMP,
	duration_ms REAL NOT NULL,
	status TEXT NOT NULL,
	turns_count INTEGER NOT NULL,
	model_spans_count INTEGER NOT NULL,
	tool_calls_count INTEGER NOT NULL,
	errors_count INTEGER NOT NULL,
	total_input_tokens INTEGER NOT NULL,
	total_output_tokens INTEGER NOT NULL,
	total_cache_tokens INTEGER NOT NULL,
	accumulated_cost REAL,
	first_error_turn INTEGER,
	first_error_type TEXT,
	derived_at TIMESTAMP NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS turns (
	session_id TEXT NOT NULL,
	turn_index INTEGER NOT NULL,
	start_ts TIMESTAMP,
	end_ts TIMESTAMP,
	duration_ms REAL NOT NULL,
	closure_reason TEXT NOT NULL,
	status TEXT NOT NULL,
	iterations_completed INTEGER NOT NULL,
	iterations_react INTEGER NOT NULL,
	model_spans_count INTEGER NOT NULL,
	tool_calls_count INTEGER NOT NULL,
	condense_count INTEGER NOT NULL,
	plan_update_count INTEGER NOT NULL,
	error_count INTEGER NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cache_tokens INTEGER NOT NULL,
	avg_ttft_ms REAL,
	avg_otps REAL,
	PRIMARY KEY (session_id, turn_index)
)`,
		`CREATE TABLE IF NOT EXISTS model_spans (
	session_id TEXT NOT NULL,
	span_id TEXT NOT NULL,
	turn_index INTEGER NOT NULL,
	status TEXT NOT NULL,
	agent_id TEXT,
	model TEXT,
	provider TEXT,
	start_ts TIMESTAMP,
	end_ts TIMESTAMP,
	duration_ms REAL,
	ttft_ms REAL,
	latency_ms REAL,
	input_tokens INTEGER,
	output_tokens INTEGER,
	cache_tokens INTEGER,
	otps REAL,
	row_pos INTEGER NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS tool_intervals (
	session_id TEXT NOT NULL,
	call_id TEXT NOT NULL,
	turn_index INTEGER NOT NULL,
	status TEXT NOT NULL,
	tool_name TEXT,
	start_ts TIMESTAMP,
	end_ts TIMESTAMP,
	duration_ms REAL,
	tool_latency_ms REAL,
	exit_code INTEGER,
	result TEXT NOT NULL,
	triggered_by_span_id TEXT,
	row_pos INTEGER NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS error_records (
	session_id TEXT NOT NULL,
	turn_index INTEGER NOT NULL,
	class TEXT NOT NULL,
	tag TEXT,
	code TEXT,
	source_seq_id INTEGER,
	interval_id TEXT,
	interval_kind TEXT,
	message TEXT,
	row_pos INTEGER NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS diagnostics (
	session_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	severity TEXT NOT NULL,
	entity_id TEXT,
	message TEXT NOT NULL,
	row_pos INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_spans_session ON model_spans(session_id, row_pos)`,
		`CREATE INDEX IF NOT EXISTS idx_tools_session ON tool_intervals(session_id, row_pos)`,
		`CREATE INDEX IF NOT EXISTS idx_errors_session ON error_records(session_id, row_pos)`,
		`CREATE INDEX IF NOT EXISTS idx_diagnostics_session ON diagnostics(session_id, row_pos)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}

// SaveDerivation replaces the session's derived rows in one transaction.
// Transient failures (locked database, busy writer) are retried with
// exponential backoff.
func (s *Store) SaveDerivation(ctx context.Context, res *derive.Result) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	return backoff.Retry(func() error {
		return s.saveOnce(ctx, res)
	}, policy)
}

func (s *Store) saveOnce(ctx context.Context, res *derive.Result) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	sessionID := res.Session.SessionID
	for _, table := range []string{"sessions", "turns", "model_spans", "tool_intervals", "error_records", "diagnostics"} {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind("DELETE FROM "+table+" WHERE session_id = ?"), sessionID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	sess := res.Session
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO sessions (
	session_id, agent_id, model, provider, start_ts, end_ts, duration_ms, status,
	turns_count, model_spans_count, tool_calls_count, errors_count,
	total_input_tokens, total_output_tokens, total_cache_tokens,
	accumulated_cost, first_error_turn, first_error_type, derived_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sess.SessionID, sess.AgentID, sess.Model, sess.Provider,
		sess.StartTS, sess.EndTS, sess.DurationMillis, sess.Status,
		sess.TurnsCount, sess.ModelSpansCount, sess.ToolCallsCount, sess.ErrorsCount,
		sess.TotalInputTokens, sess.TotalOutputTokens, sess.TotalCacheTokens,
		sess.AccumulatedCost, sess.FirstErrorTurn, sess.FirstErrorType, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for _, t := range res.Turns {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO turns (
	session_id, turn_index, start_ts, end_ts, duration_ms, closure_reason, status,
	iterations_completed, iterations_react, model_spans_count, tool_calls_count,
	condense_count, plan_update_count, error_count,
	input_tokens, output_tokens, cache_tokens, avg_ttft_ms, avg_otps
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			t.SessionID, t.TurnIndex, t.StartTS, t.EndTS, t.DurationMillis, t.ClosureReason, t.Status,
			t.IterationsCompleted, t.IterationsReact, t.ModelSpansCount, t.ToolCallsCount,
			t.CondenseCount, t.PlanUpdateCount, t.ErrorCount,
			t.InputTokens, t.OutputTokens, t.CacheTokens, t.AvgTTFTMillis, t.AvgOTPS,
		); err != nil {
			return fmt.Errorf("insert turn %d: %w", t.TurnIndex, err)
		}
	}

	for i, sp := range res.ModelSpans {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO model_spans (
	session_id, span_id, turn_index, status, agent_id, model, provider,
	start_ts, end_ts, duration_ms, ttft_ms, latency_ms,
	input_tokens, output_tokens, cache_tokens, otps, row_pos
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			sp.SessionID, sp.SpanID, sp.TurnIndex, sp.Status, sp.AgentID, sp.Model, sp.Provider,
			sp.StartTS, sp.EndTS, sp.DurationMillis, sp.TTFTMillis, sp.LatencyMillis,
			sp.InputTokens, sp.OutputTokens, sp.CacheTokens, sp.OutputTokensPerSec, i,
		); err != nil {
			return fmt.Errorf("insert model span %q: %w", sp.SpanID, err)
		}
	}

	for i, iv := range res.ToolIntervals {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO tool_intervals (
	session_id, call_id, turn_index, status, tool_name,
	start_ts, end_ts, duration_ms, tool_latency_ms, exit_code, result,
	triggered_by_span_id, row_pos
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			iv.SessionID, iv.CallID, iv.TurnIndex, iv.Status, iv.ToolName,
			iv.StartTS, iv.EndTS, iv.DurationMillis, iv.ToolLatencyMillis, iv.ExitCode, iv.Result,
			iv.TriggeredBySpanID, i,
		); err != nil {
			return fmt.Errorf("insert tool interval %q: %w", iv.CallID, err)
		}
	}

	for i, e := range res.Errors {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO error_records (
	session_id, turn_index, class, tag, code, source_seq_id,
	interval_id, interval_kind, message, row_pos
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			e.SessionID, e.TurnIndex, e.Class, e.Tag, e.Code, e.SourceSeqID,
			e.IntervalID, e.IntervalKind, e.Message, i,
		); err != nil {
			return fmt.Errorf("insert error record: %w", err)
		}
	}

	for i, d := range res.Diagnostics {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO diagnostics (
	session_id, kind, severity, entity_id, message, row_pos
) VALUES (?, ?, ?, ?, ?, ?)`),
			d.SessionID, d.Kind, d.Severity, d.EntityID, d.Message, i,
		); err != nil {
			return fmt.Errorf("insert diagnostic: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var sess domain.Session
	err := s.db.GetContext(ctx, &sess, s.dialect.Rebind(`SELECT
	session_id, agent_id, model, provider, start_ts, end_ts, duration_ms, status,
	turns_count, model_spans_count, tool_calls_count, errors_count,
	total_input_tokens, total_output_tokens, total_cache_tokens,
	accumulated_cost, first_error_turn, first_error_type
FROM sessions WHERE session_id = ?`), sessionID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

func (s *Store) ListSessions(ctx context.Context, opts storage.ListOptions) ([]domain.Session, error) {
	limit := opts.Limit
	if limit == 0 {
		limit = 100
	}
	var sessions []domain.Session
	err := s.db.SelectContext(ctx, &sessions, s.dialect.Rebind(`SELECT
	session_id, agent_id, model, provider, start_ts, end_ts, duration_ms, status,
	turns_count, model_spans_count, tool_calls_count, errors_count,
	total_input_tokens, total_output_tokens, total_cache_tokens,
	accumulated_cost, first_error_turn, first_error_type
FROM sessions ORDER BY session_id LIMIT ? OFFSET ?`), limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (s *Store) ListTurns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	var turns []domain.Turn
	err := s.db.SelectContext(ctx, &turns, s.dialect.Rebind(`SELECT
	session_id, turn_index, start_ts, end_ts, duration_ms, closure_reason, status,
	iterations_completed, iterations_react, model_spans_count, tool_calls_count,
	condense_count, plan_update_count, error_count,
	input_tokens, output_tokens, cache_tokens, avg_ttft_ms, avg_otps
FROM turns WHERE session_id = ? ORDER BY turn_index`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	return turns, nil
}

func (s *Store) ListModelSpans(ctx context.Context, sessionID string) ([]domain.ModelSpan, error) {
	var spans []domain.ModelSpan
	err := s.db.SelectContext(ctx, &spans, s.dialect.Rebind(`SELECT
	session_id, span_id, turn_index, status, agent_id, model, provider,
	start_ts, end_ts, duration_ms, ttft_ms, latency_ms,
	input_tokens, output_tokens, cache_tokens, otps
FROM model_spans WHERE session_id = ? ORDER BY row_pos`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list model spans: %w", err)
	}
	return spans, nil
}

func (s *Store) ListToolIntervals(ctx context.Context, sessionID string) ([]domain.ToolInterval, error) {
	var intervals []domain.ToolInterval
	err := s.db.SelectContext(ctx, &intervals, s.dialect.Rebind(`SELECT
	session_id, call_id, turn_index, status, tool_name,
	start_ts, end_ts, duration_ms, tool_latency_ms, exit_code, result,
	triggered_by_span_id
FROM tool_intervals WHERE session_id = ? ORDER BY row_pos`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list tool intervals: %w", err)
	}
	return intervals, nil
}

func (s *Store) ListErrors(ctx context.Context, sessionID string) ([]domain.ErrorRecord, error) {
	var errs []domain.ErrorRecord
	err := s.db.SelectContext(ctx, &errs, s.dialect.Rebind(`SELECT
	session_id, turn_index, class, tag, code, source_seq_id,
	interval_id, interval_kind, message
FROM error_records WHERE session_id = ? ORDER BY row_pos`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list error records: %w", err)
	}
	return errs, nil
}

func (s *Store) ListDiagnostics(ctx context.Context, sessionID string) ([]domain.Diagnostic, error) {
	var diags []domain.Diagnostic
	err := s.db.SelectContext(ctx, &diags, s.dialect.Rebind(`SELECT
	session_id, kind, severity, entity_id, message
FROM diagnostics WHERE session_id = ? ORDER BY row_pos`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list diagnostics: %w", err)
	}
	return diags, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
