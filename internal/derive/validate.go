package derive

import (
	"fmt"

	"github.com/tjfontaine/trajectory-deriver/internal/core/domain"
)

// validate is the post-pass invariant checker. It scans the ordered stream
// and every produced row and reports violations as diagnostics. It never
// corrects a value and never fails: corrupt data in one session yields
// findings, not errors.
func validate(sessionID string, events []sequencedEvent, spans []domain.ModelSpan, tools []domain.ToolInterval) []domain.Diagnostic {
	var diags []domain.Diagnostic

	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			diags = append(diags, domain.Diagnostic{
				SessionID: sessionID,
				Kind:      domain.DiagOrderingAnomaly,
				Severity:  domain.SeverityWarning,
				EntityID:  eventRef(&events[i]),
				Message:   "timestamp regresses within sequenced stream",
			})
		}
	}

	diags = append(diags, completenessDiag(sessionID, domain.KindModelSpan, spanStatuses(spans))...)
	diags = append(diags, completenessDiag(sessionID, domain.KindToolInterval, toolStatuses(tools))...)

	for _, s := range spans {
		if s.DurationMillis != nil && *s.DurationMillis < 0 {
			diags = append(diags, sanity(sessionID, s.SpanID, "negative span duration"))
		}
		if s.LatencyMillis != nil && *s.LatencyMillis < 0 {
			diags = append(diags, sanity(sessionID, s.SpanID, "negative reported latency"))
		}
		if s.TTFTMillis != nil && s.LatencyMillis != nil && *s.TTFTMillis > *s.LatencyMillis {
			diags = append(diags, sanity(sessionID, s.SpanID, "time-to-first-output exceeds total latency"))
		}
		tokenFields := []struct {
			name string
			v    *int64
		}{
			{"input_tokens", s.InputTokens},
			{"output_tokens", s.OutputTokens},
			{"cache_tokens", s.CacheTokens},
		}
		for _, f := range tokenFields {
			name, v := f.name, f.v
			if v != nil && *v < 0 {
				diags = append(diags, domain.Diagnostic{
					SessionID: sessionID,
					Kind:      domain.DiagNegativeMetric,
					Severity:  domain.SeverityWarning,
					EntityID:  s.SpanID,
					Message:   "negative " + name,
				})
			}
		}
	}

	for _, t := range tools {
		if t.DurationMillis != nil && *t.DurationMillis < 0 {
			diags = append(diags, sanity(sessionID, t.CallID, "negative tool interval duration"))
		}
		if t.ToolLatencyMillis != nil && *t.ToolLatencyMillis < 0 {
			diags = append(diags, sanity(sessionID, t.CallID, "negative reported tool latency"))
		}
	}

	return diags
}

func sanity(sessionID, entityID, msg string) domain.Diagnostic {
	return domain.Diagnostic{
		SessionID: sessionID,
		Kind:      domain.DiagSanityViolation,
		Severity:  domain.SeverityWarning,
		EntityID:  entityID,
		Message:   msg,
	}
}

func spanStatuses(spans []domain.ModelSpan) []domain.IntervalStatus {
	out := make([]domain.IntervalStatus, len(spans))
	for i, s := range spans {
		out[i] = s.Status
	}
	return out
}

func toolStatuses(tools []domain.ToolInterval) []domain.IntervalStatus {
	out := make([]domain.IntervalStatus, len(tools))
	for i, t := range tools {
		out[i] = t.Status
	}
	return out
}

// completenessDiag reports the paired-to-total ratio for one interval kind.
// A fully paired kind yields an info finding; anything below that is a
// warning so incomplete scopes surface in triage.
func completenessDiag(sessionID string, kind domain.IntervalKind, statuses []domain.IntervalStatus) []domain.Diagnostic {
	if len(statuses) == 0 {
		return nil
	}
	complete := 0
	for _, st := range statuses {
		if st == domain.IntervalComplete {
			complete++
		}
	}
	ratio := float64(complete) / float64(len(statuses))
	severity := domain.SeverityInfo
	if complete < len(statuses) {
		severity = domain.SeverityWarning
	}
	return []domain.Diagnostic{{
		SessionID: sessionID,
		Kind:      domain.DiagPairingCompleteness,
		Severity:  severity,
		EntityID:  string(kind),
		Message:   fmt.Sprintf("%d of %d %s intervals complete (ratio %.3f)", complete, len(statuses), kind, ratio),
	}}
}
