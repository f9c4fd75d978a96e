package derive

import (
	"testing"

	"github.com/tjfontaine/trajectory-deriver/internal/core/domain"
)

func TestClassifyEvent(t *testing.T) {
	tests := []struct {
		name  string
		event domain.RawEvent
		want  domain.ErrorClass
	}{
		{
			name:  "explicit tool tag",
			event: domain.RawEvent{ErrorTag: "tool_timeout"},
			want:  domain.ErrorClassTool,
		},
		{
			name:  "explicit model tag",
			event: domain.RawEvent{ErrorTag: "rate_limit"},
			want:  domain.ErrorClassModel,
		},
		{
			name:  "explicit runtime tag",
			event: domain.RawEvent{ErrorTag: "sandbox_error"},
			want:  domain.ErrorClassRuntime,
		},
		{
			name:  "explicit user tag",
			event: domain.RawEvent{ErrorTag: "user_cancelled"},
			want:  domain.ErrorClassUser,
		},
		{
			name:  "tag casing and whitespace normalized",
			event: domain.RawEvent{ErrorTag: "  Rate_Limit "},
			want:  domain.ErrorClassModel,
		},
		{
			name:  "unknown tag with tool substring",
			event: domain.RawEvent{ErrorTag: "mcp_tool_unreachable"},
			want:  domain.ErrorClassTool,
		},
		{
			name:  "explicit tag beats exit code",
			event: domain.RawEvent{ErrorTag: "user_cancelled", ExitCode: i64(1)},
			want:  domain.ErrorClassUser,
		},
		{
			name:  "non-zero exit code without tag",
			event: domain.RawEvent{ExitCode: i64(137)},
			want:  domain.ErrorClassTool,
		},
		{
			name:  "zero exit code is not an error signal",
			event: domain.RawEvent{ExitCode: i64(0)},
			want:  domain.ErrorClassUnknown,
		},
		{
			name:  "malformed tool intent",
			event: domain.RawEvent{MalformedToolIntent: true},
			want:  domain.ErrorClassModel,
		},
		{
			name:  "nothing recognizable",
			event: domain.RawEvent{ErrorTag: "zorp"},
			want:  domain.ErrorClassUnknown,
		},
		{
			name:  "no signal at all",
			event: domain.RawEvent{},
			want:  domain.ErrorClassUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyEvent(&tt.event); got != tt.want {
				t.Errorf("classifyEvent() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyPairingAnomaly(t *testing.T) {
	if got := classifyPairingAnomaly(domain.KindModelSpan); got != domain.ErrorClassModel {
		t.Errorf("model span anomaly = %q, want model_error", got)
	}
	if got := classifyPairingAnomaly(domain.KindToolInterval); got != domain.ErrorClassTool {
		t.Errorf("tool interval anomaly = %q, want tool_error", got)
	}
}
