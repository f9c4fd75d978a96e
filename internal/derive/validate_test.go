package derive

import (
	"testing"

	"github.com/tjfontaine/trajectory-deriver/internal/core/domain"
)

func TestValidate_NegativeTokens(t *testing.T) {
	spans := []domain.ModelSpan{
		{SpanID: "r1", Status: domain.IntervalComplete, OutputTokens: i64(-5)},
	}
	diags := validate("sess-1", nil, spans, nil)

	found := false
	for _, d := range diags {
		if d.Kind == domain.DiagNegativeMetric && d.EntityID == "r1" {
			found = true
		}
	}
	if !found {
		t.Errorf("diags = %+v, want negative_metric for r1", diags)
	}
}

func TestValidate_PairingCompleteness(t *testing.T) {
	spans := []domain.ModelSpan{
		{SpanID: "a", Status: domain.IntervalComplete},
		{SpanID: "b", Status: domain.IntervalPartial},
	}
	diags := validate("sess-1", nil, spans, nil)

	var comp *domain.Diagnostic
	for i, d := range diags {
		if d.Kind == domain.DiagPairingCompleteness {
			comp = &diags[i]
		}
	}
	if comp == nil {
		t.Fatalf("diags = %+v, want pairing_completeness", diags)
	}
	if comp.Severity != domain.SeverityWarning {
		t.Errorf("severity = %q, want warning below full completeness", comp.Severity)
	}
}

func TestValidate_TimestampRegression(t *testing.T) {
	events := []sequencedEvent{
		{RawEvent: ev(domain.EventTurnStart, 5)},
		{RawEvent: ev(domain.EventUserMsg, 3), recordPos: 1},
	}
	diags := validate("sess-1", events, nil, nil)
	found := false
	for _, d := range diags {
		if d.Kind == domain.DiagOrderingAnomaly {
			found = true
		}
	}
	if !found {
		t.Errorf("diags = %+v, want ordering_anomaly for regressing timestamp", diags)
	}
}

func TestValidate_CleanDataOnlyInfoFindings(t *testing.T) {
	spans := []domain.ModelSpan{
		{SpanID: "a", Status: domain.IntervalComplete, TTFTMillis: f64(10), LatencyMillis: f64(20)},
	}
	diags := validate("sess-1", nil, spans, nil)
	for _, d := range diags {
		if d.Severity != domain.SeverityInfo {
			t.Errorf("clean data produced %q finding: %+v", d.Severity, d)
		}
	}
}
