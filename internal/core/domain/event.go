// Package domain defines the raw event schema and the derived row types
// produced by trajectory derivation. All derived rows are immutable value
// types: a derivation run constructs them fresh and never mutates them
// afterwards.
package domain

import (
	"encoding/json"
	"time"
)

// EventKind is the canonical classification of a raw interaction event.
type EventKind string

const (
	EventSessionStart    EventKind = "session_start"
	EventTurnStart       EventKind = "turn_start"
	EventUserMsg         EventKind = "user_msg"
	EventModelRequest    EventKind = "model_request"
	EventModelResponse   EventKind = "model_response"
	EventToolCall        EventKind = "tool_call"
	EventToolResult      EventKind = "tool_result"
	EventContextCondense EventKind = "context_condense"
	EventPlanUpdate      EventKind = "plan_update"
	EventError           EventKind = "error"
	EventTurnEnd         EventKind = "turn_end"
	EventSessionEnd      EventKind = "session_end"
)

// RawEvent is a single record from the append-only interaction log.
// It is owned by the ingestion side; derivation only reads it.
//
// SeqID is the explicit per-session sequence number when the producer
// assigned one, nil otherwise. Numeric payload fields are pointers so that
// "absent" and "zero" stay distinguishable; aggregation skips nil values
// rather than treating them as zero.
type RawEvent struct {
	SessionID string    `json:"session_id"`
	SeqID     *int64    `json:"seq_id,omitempty"`
	Timestamp time.Time `json:"ts"`
	Kind      EventKind `json:"kind"`

	// CorrelationID links an opening event (model_request, tool_call) to
	// its closing event (model_response, tool_result).
	CorrelationID string `json:"correlation_id,omitempty"`

	// Source is the emitter: "user", "agent", or "environment".
	Source string `json:"source,omitempty"`

	AgentID  string `json:"agent_id,omitempty"`
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`

	InputTokens  *int64 `json:"input_tokens,omitempty"`
	OutputTokens *int64 `json:"output_tokens,omitempty"`
	CacheTokens  *int64 `json:"cache_tokens,omitempty"`

	// TokensEstimated marks token counts that were reconstructed by the
	// ingest layer rather than reported by the runtime.
	TokensEstimated bool `json:"tokens_estimated,omitempty"`

	TTFTMillis    *float64 `json:"ttft_ms,omitempty"`
	LatencyMillis *float64 `json:"latency_ms,omitempty"`

	ToolName          string   `json:"tool_name,omitempty"`
	ToolLatencyMillis *float64 `json:"tool_latency_ms,omitempty"`
	ExitCode          *int64   `json:"exit_code,omitempty"`

	ErrorTag  string `json:"error_tag,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	// MalformedToolIntent marks a model response whose tool-call intent
	// could not be parsed by the runtime.
	MalformedToolIntent bool `json:"malformed_tool_intent,omitempty"`

	// Status carries the explicit terminal status from a session_end
	// payload, empty for every other kind.
	Status string `json:"status,omitempty"`

	AccumulatedCost *float64 `json:"accumulated_cost,omitempty"`

	// Payload is the original event serialized as JSON, kept verbatim.
	Payload json.RawMessage `json:"payload,omitempty"`
}
