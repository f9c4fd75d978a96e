package derive

import (
	"strings"

	"github.com/tjfontaine/trajectory-deriver/internal/core/domain"
)

// knownErrorTags maps explicit runtime error tags to taxonomy classes.
// Tags are matched case-insensitively after trimming.
var knownErrorTags = map[string]domain.ErrorClass{
	"tool_error":          domain.ErrorClassTool,
	"tool_timeout":        domain.ErrorClassTool,
	"tool_crash":          domain.ErrorClassTool,
	"command_failed":      domain.ErrorClassTool,
	"model_error":         domain.ErrorClassModel,
	"llm_error":           domain.ErrorClassModel,
	"provider_error":      domain.ErrorClassModel,
	"rate_limit":          domain.ErrorClassModel,
	"context_overflow":    domain.ErrorClassModel,
	"malformed_tool_call": domain.ErrorClassModel,
	"runtime_error":       domain.ErrorClassRuntime,
	"agent_crash":         domain.ErrorClassRuntime,
	"sandbox_error":       domain.ErrorClassRuntime,
	"timeout":             domain.ErrorClassRuntime,
	"oom":                 domain.ErrorClassRuntime,
	"user_error":          domain.ErrorClassUser,
	"user_cancelled":      domain.ErrorClassUser,
	"invalid_input":       domain.ErrorClassUser,
}

// classifyEvent maps a raw error signal to exactly one taxonomy class.
// Precedence: explicit recognized tag, then tool non-zero exit code, then
// malformed model tool-call intent, then unknown. The function is total;
// no signal is ever left unclassified.
func classifyEvent(ev *domain.RawEvent) domain.ErrorClass {
	if tag := strings.ToLower(strings.TrimSpace(ev.ErrorTag)); tag != "" {
		if class, ok := knownErrorTags[tag]; ok {
			return class
		}
		if class := classifyTagSubstring(tag); class != domain.ErrorClassUnknown {
			return class
		}
	}
	if ev.ExitCode != nil && *ev.ExitCode != 0 {
		return domain.ErrorClassTool
	}
	if ev.MalformedToolIntent {
		return domain.ErrorClassModel
	}
	return domain.ErrorClassUnknown
}

// classifyTagSubstring is the fallback for tags outside the known table.
// Order matters: tool markers win over model markers so that a tag like
// "model_tool_failure" lands on the side of the executing tool.
func classifyTagSubstring(tag string) domain.ErrorClass {
	switch {
	case strings.Contains(tag, "tool"), strings.Contains(tag, "exec"), strings.Contains(tag, "command"):
		return domain.ErrorClassTool
	case strings.Contains(tag, "model"), strings.Contains(tag, "llm"), strings.Contains(tag, "provider"):
		return domain.ErrorClassModel
	case strings.Contains(tag, "runtime"), strings.Contains(tag, "timeout"), strings.Contains(tag, "crash"):
		return domain.ErrorClassRuntime
	case strings.Contains(tag, "user"), strings.Contains(tag, "cancel"):
		return domain.ErrorClassUser
	}
	return domain.ErrorClassUnknown
}

// classifyPairingAnomaly attributes pairing anomalies to the side of the
// protocol that failed to complete: span anomalies to the model, tool
// interval anomalies to the tool.
func classifyPairingAnomaly(kind domain.IntervalKind) domain.ErrorClass {
	switch kind {
	case domain.KindModelSpan:
		return domain.ErrorClassModel
	case domain.KindToolInterval:
		return domain.ErrorClassTool
	}
	return domain.ErrorClassUnknown
}
