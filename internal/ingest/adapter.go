// Package ingest normalizes agent runtime event logs into the canonical
// RawEvent schema consumed by derivation. It understands the runtime's
// nested native format (content/ext/llm_metrics) and the directory layout
// app-*/conv-*/events.json produced by the agent host.
package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tjfontaine/trajectory-deriver/internal/core/domain"
)

// actionKinds maps native action names to canonical event kinds. Actions
// not listed here flatten to an event carrying the action name in its
// payload only; derivation ignores kinds it does not know.
var actionKinds = map[string]domain.EventKind{
	"session_start": domain.EventSessionStart,
	"session_end":   domain.EventSessionEnd,
	"finish":        domain.EventSessionEnd,
	"turn_start":    domain.EventTurnStart,
	"turn_end":      domain.EventTurnEnd,
	"message":       domain.EventUserMsg,
	"llm_request":   domain.EventModelRequest,
	"llm_response":  domain.EventModelResponse,
	"run":           domain.EventToolCall,
	"read":          domain.EventToolCall,
	"write":         domain.EventToolCall,
	"edit":          domain.EventToolCall,
	"mcp":           domain.EventToolCall,
	"call_tool_mcp": domain.EventToolCall,
	"condense":      domain.EventContextCondense,
	"todo_update":   domain.EventPlanUpdate,
	"plan":          domain.EventPlanUpdate,
	"error":         domain.EventError,
}

// toolActions are the actions that populate the tool name field.
var toolActions = map[string]bool{
	"run": true, "read": true, "write": true, "edit": true,
	"mcp": true, "call_tool_mcp": true,
}

type nativeEvent struct {
	EventID   *int64          `json:"event_id"`
	SessionID string          `json:"session_id"`
	Content   nativeContent   `json:"content"`
	Ext       json.RawMessage `json:"ext"`
}

type nativeContent struct {
	Timestamp     string            `json:"timestamp"`
	Action        string            `json:"action"`
	Observation   string            `json:"observation"`
	Source        string            `json:"source"`
	RequestID     string            `json:"request_id"`
	Model         string            `json:"model"`
	Provider      string            `json:"provider"`
	ToolName      string            `json:"tool_name"`
	Text          string            `json:"text"`
	Status        string            `json:"status"`
	ErrorType     string            `json:"error_type"`
	ErrorCode     string            `json:"error_code"`
	ExitCode      *int64            `json:"exit_code"`
	TTFTMillis    *float64          `json:"ttft_ms"`
	LatencyMillis *float64          `json:"latency_ms"`
	ToolLatencyMs *float64          `json:"tool_latency_ms"`
	MalformedTool bool              `json:"malformed_tool_call"`
	LLMMetrics    *nativeLLMMetrics `json:"llm_metrics"`
}

type nativeLLMMetrics struct {
	AccumulatedCost *float64 `json:"accumulated_cost"`
	TokenUsage      struct {
		PromptTokens     *int64 `json:"prompt_tokens"`
		CompletionTokens *int64 `json:"completion_tokens"`
		CacheReadTokens  *int64 `json:"cache_read_tokens"`
	} `json:"accumulated_token_usage"`
}

type nativeExt struct {
	AgentName string `json:"agent_name"`
	Source    string `json:"source"`
}

// Adapter flattens native events into RawEvents. The zero value is usable;
// set Estimator to reconstruct missing user-message token counts.
type Adapter struct {
	// Estimator fills InputTokens on user messages that carry text but no
	// reported token count. Nil disables estimation.
	Estimator *TokenEstimator

	// ModelOverride replaces the per-event model identifier, mirroring the
	// conversation-level metadata some hosts record instead.
	ModelOverride string
}

// Flatten converts one native event. sessionID is the fallback when the
// event does not carry its own.
func (a *Adapter) Flatten(raw []byte, sessionID string) (domain.RawEvent, error) {
	var ne nativeEvent
	if err := json.Unmarshal(raw, &ne); err != nil {
		return domain.RawEvent{}, fmt.Errorf("parse native event: %w", err)
	}

	var ext nativeExt
	if len(ne.Ext) > 0 {
		// ext is best-effort metadata; a malformed blob is not fatal.
		_ = json.Unmarshal(ne.Ext, &ext)
	}

	ev := domain.RawEvent{
		SessionID:           sessionID,
		SeqID:               ne.EventID,
		Kind:                mapKind(ne.Content),
		CorrelationID:       ne.Content.RequestID,
		Source:              firstNonEmpty(ne.Content.Source, ext.Source),
		AgentID:             ext.AgentName,
		Model:               firstNonEmpty(a.ModelOverride, ne.Content.Model),
		Provider:            ne.Content.Provider,
		TTFTMillis:          ne.Content.TTFTMillis,
		LatencyMillis:       ne.Content.LatencyMillis,
		ToolLatencyMillis:   ne.Content.ToolLatencyMs,
		ExitCode:            ne.Content.ExitCode,
		ErrorTag:            ne.Content.ErrorType,
		ErrorCode:           ne.Content.ErrorCode,
		MalformedToolIntent: ne.Content.MalformedTool,
		Status:              ne.Content.Status,
		Payload:             json.RawMessage(raw),
	}
	if ne.SessionID != "" {
		ev.SessionID = ne.SessionID
	}
	if toolActions[ne.Content.Action] {
		ev.ToolName = ne.Content.Action
	} else if ne.Content.ToolName != "" {
		ev.ToolName = ne.Content.ToolName
	}

	if ne.Content.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, ne.Content.Timestamp)
		if err != nil {
			return domain.RawEvent{}, fmt.Errorf("parse timestamp %q: %w", ne.Content.Timestamp, err)
		}
		ev.Timestamp = ts.UTC()
	}

	if m := ne.Content.LLMMetrics; m != nil {
		ev.InputTokens = m.TokenUsage.PromptTokens
		ev.OutputTokens = m.TokenUsage.CompletionTokens
		ev.CacheTokens = m.TokenUsage.CacheReadTokens
		ev.AccumulatedCost = m.AccumulatedCost
	}

	if a.Estimator != nil && ev.Kind == domain.EventUserMsg && ev.InputTokens == nil && ne.Content.Text != "" {
		n := a.Estimator.Estimate(ne.Content.Text)
		ev.InputTokens = &n
		ev.TokensEstimated = true
	}

	return ev, nil
}

// mapKind resolves the canonical kind: a known action wins, then a known
// observation (the tool side closing an action), then the raw names.
func mapKind(c nativeContent) domain.EventKind {
	if c.Action != "" {
		if k, ok := actionKinds[c.Action]; ok {
			return k
		}
	}
	if c.Observation != "" {
		if toolActions[c.Observation] || c.Observation == "tool_result" {
			return domain.EventToolResult
		}
		if k, ok := actionKinds[c.Observation]; ok {
			return k
		}
		return domain.EventKind(c.Observation)
	}
	if c.Action != "" {
		return domain.EventKind(c.Action)
	}
	return "unknown"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
