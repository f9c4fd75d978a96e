package derive

import (
	"reflect"
	"testing"

	"github.com/tjfontaine/trajectory-deriver/internal/core/domain"
)

func kinds(seq []sequencedEvent) []domain.EventKind {
	out := make([]domain.EventKind, len(seq))
	for i, ev := range seq {
		out[i] = ev.Kind
	}
	return out
}

func TestSequence_ExplicitSeqIDsWin(t *testing.T) {
	// Timestamps disagree with sequence ids; ids define the order.
	events := []domain.RawEvent{
		ev(domain.EventModelResponse, 9, withSeq(2)),
		ev(domain.EventTurnStart, 10, withSeq(1)),
	}
	ordered, diags := sequence("sess-1", events)
	if ordered[0].Kind != domain.EventTurnStart {
		t.Errorf("order = %v, want turn_start first", kinds(ordered))
	}
	if len(diags) != 0 {
		t.Errorf("unexpected diagnostics: %+v", diags)
	}
}

func TestSequence_DuplicateSeqIDsFallBackToTimestamps(t *testing.T) {
	events := []domain.RawEvent{
		ev(domain.EventUserMsg, 5, withSeq(1)),
		ev(domain.EventTurnStart, 1, withSeq(1)),
	}
	ordered, _ := sequence("sess-1", events)
	if ordered[0].Kind != domain.EventTurnStart {
		t.Errorf("order = %v, want timestamp order when ids collide", kinds(ordered))
	}
}

func TestSequence_TimestampTiebreakBySeqID(t *testing.T) {
	events := []domain.RawEvent{
		{SessionID: "sess-1", Timestamp: at(1), Kind: domain.EventUserMsg, SeqID: i64(7)},
		{SessionID: "sess-1", Timestamp: at(1), Kind: domain.EventTurnStart, SeqID: i64(6)},
		{SessionID: "sess-1", Timestamp: at(0), Kind: domain.EventSessionStart},
	}
	ordered, diags := sequence("sess-1", events)
	want := []domain.EventKind{domain.EventSessionStart, domain.EventTurnStart, domain.EventUserMsg}
	got := kinds(ordered)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if len(diags) != 0 {
		t.Errorf("seq-id tiebreak should not produce anomalies, got %+v", diags)
	}
}

func TestSequence_AmbiguousKeyEmitsAnomaly(t *testing.T) {
	// Same timestamp, no sequence ids, different identities: best-effort
	// order plus a diagnostic, never an abort.
	events := []domain.RawEvent{
		ev(domain.EventUserMsg, 1),
		ev(domain.EventPlanUpdate, 1),
	}
	ordered, diags := sequence("sess-1", events)
	if len(ordered) != 2 {
		t.Fatalf("sequencing dropped events: %d", len(ordered))
	}
	if len(diags) != 1 || diags[0].Kind != domain.DiagOrderingAnomaly {
		t.Errorf("diagnostics = %+v, want one ordering_anomaly", diags)
	}
}

func TestSequence_SameKeyDifferentContentSortsByContent(t *testing.T) {
	// Same timestamp, same kind, same correlation id, no sequence ids: the
	// payload fields are all that distinguish the two. The resulting order
	// must not depend on arrival order, and the collision is an anomaly.
	hi := ev(domain.EventModelResponse, 2, withID("r1"), func(e *domain.RawEvent) { e.OutputTokens = i64(999) })
	lo := ev(domain.EventModelResponse, 2, withID("r1"), func(e *domain.RawEvent) { e.OutputTokens = i64(100) })

	fwd, fwdDiags := sequence("sess-1", []domain.RawEvent{hi, lo})
	rev, revDiags := sequence("sess-1", []domain.RawEvent{lo, hi})

	for i := range fwd {
		if !reflect.DeepEqual(fwd[i].RawEvent, rev[i].RawEvent) {
			t.Fatalf("position %d differs between arrival orders", i)
		}
	}
	if len(fwdDiags) != 1 || fwdDiags[0].Kind != domain.DiagOrderingAnomaly {
		t.Errorf("diagnostics = %+v, want one ordering_anomaly", fwdDiags)
	}
	if !reflect.DeepEqual(fwdDiags, revDiags) {
		t.Errorf("diagnostics differ between arrival orders: %+v vs %+v", fwdDiags, revDiags)
	}
}

func TestSequence_AnomalyRefersToEventNotPosition(t *testing.T) {
	fwd, fwdDiags := sequence("sess-1", []domain.RawEvent{
		ev(domain.EventUserMsg, 1),
		ev(domain.EventPlanUpdate, 1),
	})
	_, revDiags := sequence("sess-1", []domain.RawEvent{
		ev(domain.EventPlanUpdate, 1),
		ev(domain.EventUserMsg, 1),
	})
	if len(fwd) != 2 {
		t.Fatalf("sequencing dropped events: %d", len(fwd))
	}
	if !reflect.DeepEqual(fwdDiags, revDiags) {
		t.Errorf("diagnostics differ between arrival orders: %+v vs %+v", fwdDiags, revDiags)
	}
}

func TestSequence_ExactDuplicatesAreNotAnomalous(t *testing.T) {
	events := []domain.RawEvent{
		ev(domain.EventToolResult, 1, withID("t1")),
		ev(domain.EventToolResult, 1, withID("t1")),
	}
	_, diags := sequence("sess-1", events)
	if len(diags) != 0 {
		t.Errorf("duplicate delivery should not be an ordering anomaly, got %+v", diags)
	}
}

func TestSequence_Empty(t *testing.T) {
	ordered, diags := sequence("sess-1", nil)
	if len(ordered) != 0 || len(diags) != 0 {
		t.Errorf("empty input should sequence to empty output")
	}
}
