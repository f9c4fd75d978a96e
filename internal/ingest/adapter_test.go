package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/trajectory-deriver/internal/core/domain"
)

func TestAdapter_FlattenModelRequest(t *testing.T) {
	raw := []byte(`{
		"event_id": 7,
		"content": {
			"timestamp": "2025-05-01T10:00:01.500Z",
			"action": "llm_request",
			"source": "agent",
			"request_id": "req-1",
			"model": "claude-sonnet-4",
			"provider": "anthropic",
			"llm_metrics": {
				"accumulated_cost": 0.42,
				"accumulated_token_usage": {"prompt_tokens": 1200, "cache_read_tokens": 800}
			}
		},
		"ext": {"agent_name": "coder"}
	}`)

	var a Adapter
	ev, err := a.Flatten(raw, "conv-9")
	require.NoError(t, err)

	assert.Equal(t, domain.EventModelRequest, ev.Kind)
	assert.Equal(t, "conv-9", ev.SessionID)
	assert.Equal(t, "req-1", ev.CorrelationID)
	assert.Equal(t, "coder", ev.AgentID)
	assert.Equal(t, "claude-sonnet-4", ev.Model)
	require.NotNil(t, ev.SeqID)
	assert.Equal(t, int64(7), *ev.SeqID)
	require.NotNil(t, ev.InputTokens)
	assert.Equal(t, int64(1200), *ev.InputTokens)
	require.NotNil(t, ev.CacheTokens)
	assert.Equal(t, int64(800), *ev.CacheTokens)
	require.NotNil(t, ev.AccumulatedCost)
	assert.InDelta(t, 0.42, *ev.AccumulatedCost, 1e-9)
	assert.Equal(t, "2025-05-01 10:00:01.5 +0000 UTC", ev.Timestamp.String())
}

func TestAdapter_KindMapping(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    domain.EventKind
	}{
		{"run action is tool_call", `{"action": "run"}`, domain.EventToolCall},
		{"edit action is tool_call", `{"action": "edit"}`, domain.EventToolCall},
		{"observation closes tool", `{"observation": "run"}`, domain.EventToolResult},
		{"explicit tool_result observation", `{"observation": "tool_result"}`, domain.EventToolResult},
		{"message is user_msg", `{"action": "message", "source": "user"}`, domain.EventUserMsg},
		{"condense", `{"action": "condense"}`, domain.EventContextCondense},
		{"todo_update is plan_update", `{"action": "todo_update"}`, domain.EventPlanUpdate},
		{"finish is session_end", `{"action": "finish"}`, domain.EventSessionEnd},
		{"unknown action passes through", `{"action": "delegate"}`, domain.EventKind("delegate")},
		{"nothing at all", `{}`, domain.EventKind("unknown")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a Adapter
			ev, err := a.Flatten([]byte(`{"content": `+tt.content+`}`), "conv-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Kind)
		})
	}
}

func TestAdapter_ToolNameFromAction(t *testing.T) {
	var a Adapter
	ev, err := a.Flatten([]byte(`{"content": {"action": "run"}}`), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "run", ev.ToolName)
}

func TestAdapter_ModelOverride(t *testing.T) {
	a := Adapter{ModelOverride: "gpt-5"}
	ev, err := a.Flatten([]byte(`{"content": {"action": "llm_request", "model": "other"}}`), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "gpt-5", ev.Model)
}

func TestAdapter_TokenEstimation(t *testing.T) {
	est, err := NewTokenEstimator()
	require.NoError(t, err)

	a := Adapter{Estimator: est}
	ev, err := a.Flatten([]byte(`{"content": {"action": "message", "source": "user", "text": "please fix the failing build"}}`), "conv-1")
	require.NoError(t, err)

	require.NotNil(t, ev.InputTokens)
	assert.Positive(t, *ev.InputTokens)
	assert.True(t, ev.TokensEstimated)

	// Reported counts win over estimation.
	ev, err = a.Flatten([]byte(`{"content": {"action": "message", "text": "hi", "llm_metrics": {"accumulated_token_usage": {"prompt_tokens": 3}}}}`), "conv-1")
	require.NoError(t, err)
	require.NotNil(t, ev.InputTokens)
	assert.Equal(t, int64(3), *ev.InputTokens)
	assert.False(t, ev.TokensEstimated)
}

func TestAdapter_BadTimestamp(t *testing.T) {
	var a Adapter
	_, err := a.Flatten([]byte(`{"content": {"action": "run", "timestamp": "yesterday"}}`), "conv-1")
	require.Error(t, err)
}
