package domain

import "time"

// IntervalStatus is the pairing outcome of a model span or tool interval.
// Every interval row carries exactly one of these; there is no unset state.
type IntervalStatus string

const (
	// IntervalComplete means the opening and closing events were paired.
	IntervalComplete IntervalStatus = "complete"
	// IntervalPartial means the opening event was never closed in scope.
	IntervalPartial IntervalStatus = "partial"
	// IntervalOrphaned means a closing event arrived with no open to match.
	IntervalOrphaned IntervalStatus = "orphaned"
	// IntervalSuperseded means the correlation id was reused before the
	// opening resolved; the earlier opening is closed implicitly.
	IntervalSuperseded IntervalStatus = "superseded"
)

// ClosureReason records how a turn was closed.
type ClosureReason string

const (
	ClosureExplicit   ClosureReason = "explicit"
	ClosureNextStart  ClosureReason = "implicit_by_next_start"
	ClosureSessionEnd ClosureReason = "implicit_by_session_end"
	ClosureTimeout    ClosureReason = "implicit_by_timeout"
)

// SessionStatus is the terminal status of a session row.
type SessionStatus string

const (
	SessionStatusSuccess   SessionStatus = "success"
	SessionStatusFail      SessionStatus = "fail"
	SessionStatusAbandoned SessionStatus = "abandoned"
	SessionStatusOpen      SessionStatus = "open"
)

// PreTurnIndex is the reserved turn index for events observed before the
// first turn_start of a session. Such events are bucketed, never discarded.
const PreTurnIndex = 0

// Session is the per-session summary row.
type Session struct {
	SessionID      string        `json:"session_id" db:"session_id"`
	AgentID        string        `json:"agent_id,omitempty" db:"agent_id"`
	Model          string        `json:"model,omitempty" db:"model"`
	Provider       string        `json:"provider,omitempty" db:"provider"`
	StartTS        time.Time     `json:"start_ts" db:"start_ts"`
	EndTS          time.Time     `json:"end_ts" db:"end_ts"`
	DurationMillis float64       `json:"duration_ms" db:"duration_ms"`
	Status         SessionStatus `json:"status" db:"status"`

	TurnsCount      int `json:"turns_count" db:"turns_count"`
	ModelSpansCount int `json:"model_spans_count" db:"model_spans_count"`
	ToolCallsCount  int `json:"tool_calls_count" db:"tool_calls_count"`
	ErrorsCount     int `json:"errors_count" db:"errors_count"`

	TotalInputTokens  int64 `json:"total_input_tokens" db:"total_input_tokens"`
	TotalOutputTokens int64 `json:"total_output_tokens" db:"total_output_tokens"`
	TotalCacheTokens  int64 `json:"total_cache_tokens" db:"total_cache_tokens"`

	AccumulatedCost *float64 `json:"accumulated_cost,omitempty" db:"accumulated_cost"`

	FirstErrorTurn *int   `json:"first_error_turn,omitempty" db:"first_error_turn"`
	FirstErrorType string `json:"first_error_type,omitempty" db:"first_error_type"`
}

// Turn is one user-query-to-completion cycle within a session.
// TurnIndex is ordinal and monotonically increasing by construction.
type Turn struct {
	SessionID      string        `json:"session_id" db:"session_id"`
	TurnIndex      int           `json:"turn_index" db:"turn_index"`
	StartTS        time.Time     `json:"start_ts" db:"start_ts"`
	EndTS          time.Time     `json:"end_ts" db:"end_ts"`
	DurationMillis float64       `json:"duration_ms" db:"duration_ms"`
	ClosureReason  ClosureReason `json:"closure_reason" db:"closure_reason"`

	// Status is "fail" when the turn saw at least one error, else "success".
	Status string `json:"status" db:"status"`

	// IterationsCompleted counts completed model spans in the turn.
	// IterationsReact counts model spans whose immediately preceding
	// turn-scoped event (skipping other model requests) was a tool result
	// or the turn-initiating user message. Both definitions are always
	// computed and stored; neither replaces the other.
	IterationsCompleted int `json:"iterations_completed" db:"iterations_completed"`
	IterationsReact     int `json:"iterations_react" db:"iterations_react"`

	ModelSpansCount int `json:"model_spans_count" db:"model_spans_count"`
	ToolCallsCount  int `json:"tool_calls_count" db:"tool_calls_count"`
	CondenseCount   int `json:"condense_count" db:"condense_count"`
	PlanUpdateCount int `json:"plan_update_count" db:"plan_update_count"`
	ErrorCount      int `json:"error_count" db:"error_count"`

	InputTokens  int64 `json:"input_tokens" db:"input_tokens"`
	OutputTokens int64 `json:"output_tokens" db:"output_tokens"`
	CacheTokens  int64 `json:"cache_tokens" db:"cache_tokens"`

	AvgTTFTMillis *float64 `json:"avg_ttft_ms,omitempty" db:"avg_ttft_ms"`
	AvgOTPS       *float64 `json:"avg_otps,omitempty" db:"avg_otps"`
}

// ModelSpan is one model request/response interval.
type ModelSpan struct {
	SessionID string         `json:"session_id" db:"session_id"`
	SpanID    string         `json:"span_id" db:"span_id"`
	TurnIndex int            `json:"turn_index" db:"turn_index"`
	Status    IntervalStatus `json:"status" db:"status"`

	AgentID  string `json:"agent_id,omitempty" db:"agent_id"`
	Model    string `json:"model,omitempty" db:"model"`
	Provider string `json:"provider,omitempty" db:"provider"`

	StartTS        time.Time  `json:"start_ts" db:"start_ts"`
	EndTS          *time.Time `json:"end_ts,omitempty" db:"end_ts"`
	DurationMillis *float64   `json:"duration_ms,omitempty" db:"duration_ms"`

	TTFTMillis    *float64 `json:"ttft_ms,omitempty" db:"ttft_ms"`
	LatencyMillis *float64 `json:"latency_ms,omitempty" db:"latency_ms"`

	InputTokens  *int64 `json:"input_tokens,omitempty" db:"input_tokens"`
	OutputTokens *int64 `json:"output_tokens,omitempty" db:"output_tokens"`
	CacheTokens  *int64 `json:"cache_tokens,omitempty" db:"cache_tokens"`

	// OutputTokensPerSec is output tokens scaled to a per-second rate; the
	// latency denominator is floored at one millisecond.
	OutputTokensPerSec *float64 `json:"otps,omitempty" db:"otps"`
}

// ToolInterval is one tool call/result interval.
type ToolInterval struct {
	SessionID string         `json:"session_id" db:"session_id"`
	CallID    string         `json:"call_id" db:"call_id"`
	TurnIndex int            `json:"turn_index" db:"turn_index"`
	Status    IntervalStatus `json:"status" db:"status"`

	ToolName string `json:"tool_name,omitempty" db:"tool_name"`

	StartTS        time.Time  `json:"start_ts" db:"start_ts"`
	EndTS          *time.Time `json:"end_ts,omitempty" db:"end_ts"`
	DurationMillis *float64   `json:"duration_ms,omitempty" db:"duration_ms"`

	ToolLatencyMillis *float64 `json:"tool_latency_ms,omitempty" db:"tool_latency_ms"`
	ExitCode          *int64   `json:"exit_code,omitempty" db:"exit_code"`

	// Result is "error" when the tool exited non-zero, else "ok".
	Result string `json:"result" db:"result"`

	// TriggeredBySpanID references the model span whose response triggered
	// this call, empty when a non-model policy issued it.
	TriggeredBySpanID string `json:"triggered_by_span_id,omitempty" db:"triggered_by_span_id"`
}
