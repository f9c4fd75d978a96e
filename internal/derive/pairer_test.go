package derive

import (
	"testing"

	"github.com/tjfontaine/trajectory-deriver/internal/core/domain"
)

var spanSpec = pairingSpec{
	openKind:      domain.EventModelRequest,
	closeKind:     domain.EventModelResponse,
	intervalKind:  domain.KindModelSpan,
	incompleteTag: domain.TagSpanIncomplete,
}

func pairEvents(t *testing.T, spec pairingSpec, events []domain.RawEvent) ([]pairing, []domain.ErrorRecord, []domain.Diagnostic) {
	t.Helper()
	ordered, _ := sequence("sess-1", events)
	resolveTurns("sess-1", ordered, DefaultGraceWindow)
	return pair("sess-1", ordered, spec)
}

func TestPair_Complete(t *testing.T) {
	pairings, errs, diags := pairEvents(t, spanSpec, []domain.RawEvent{
		ev(domain.EventTurnStart, 0),
		ev(domain.EventModelRequest, 1, withID("r1")),
		ev(domain.EventModelResponse, 4, withID("r1")),
	})
	if len(pairings) != 1 || pairings[0].status != domain.IntervalComplete {
		t.Fatalf("pairings = %+v, want one complete", pairings)
	}
	if len(errs) != 0 || len(diags) != 0 {
		t.Errorf("clean pairing produced errs=%v diags=%v", errs, diags)
	}
}

func TestPair_UnmatchedClose(t *testing.T) {
	pairings, errs, _ := pairEvents(t, spanSpec, []domain.RawEvent{
		ev(domain.EventTurnStart, 0),
		ev(domain.EventModelResponse, 1, withID("nope")),
	})
	if len(pairings) != 1 || pairings[0].status != domain.IntervalOrphaned {
		t.Fatalf("pairings = %+v, want one orphaned", pairings)
	}
	if len(errs) != 1 || errs[0].Tag != domain.TagUnmatchedClose {
		t.Errorf("errs = %+v, want unmatched_close", errs)
	}
}

func TestPair_SupersededOnIDReuse(t *testing.T) {
	pairings, errs, _ := pairEvents(t, spanSpec, []domain.RawEvent{
		ev(domain.EventTurnStart, 0),
		ev(domain.EventModelRequest, 1, withID("r1")),
		ev(domain.EventModelRequest, 2, withID("r1")),
		ev(domain.EventModelResponse, 3, withID("r1")),
	})
	if len(pairings) != 2 {
		t.Fatalf("pairings = %d, want 2 (superseded + complete)", len(pairings))
	}
	if pairings[0].status != domain.IntervalSuperseded {
		t.Errorf("first pairing = %q, want superseded", pairings[0].status)
	}
	if pairings[0].closeEv != nil {
		t.Error("superseded interval must have no closing event")
	}
	if pairings[1].status != domain.IntervalComplete {
		t.Errorf("second pairing = %q, want complete", pairings[1].status)
	}
	if len(errs) != 1 || errs[0].Tag != domain.TagSuperseded {
		t.Errorf("errs = %+v, want one superseded record", errs)
	}
}

func TestPair_PartialAtTurnBoundary(t *testing.T) {
	// Default policy scopes pairing to one turn: an open left unresolved
	// when the turn closes becomes partial even if a close follows later.
	events := []domain.RawEvent{
		ev(domain.EventTurnStart, 0),
		ev(domain.EventModelRequest, 1, withID("r1")),
		ev(domain.EventTurnStart, 2),
		ev(domain.EventModelResponse, 3, withID("r1")),
	}

	pairings, errs, _ := pairEvents(t, spanSpec, events)
	if len(pairings) != 2 {
		t.Fatalf("pairings = %d, want partial + orphaned", len(pairings))
	}
	if pairings[0].status != domain.IntervalPartial || pairings[1].status != domain.IntervalOrphaned {
		t.Errorf("statuses = %q/%q, want partial/orphaned", pairings[0].status, pairings[1].status)
	}
	if len(errs) != 2 {
		t.Errorf("errs = %+v, want span_incomplete and unmatched_close", errs)
	}

	crossTurn := spanSpec
	crossTurn.crossTurn = true
	pairings, errs, _ = pairEvents(t, crossTurn, events)
	if len(pairings) != 1 || pairings[0].status != domain.IntervalComplete {
		t.Fatalf("cross-turn pairings = %+v, want one complete", pairings)
	}
	if pairings[0].turnIndex != 1 {
		t.Errorf("interval turn = %d, want opening event's turn 1", pairings[0].turnIndex)
	}
	if len(errs) != 0 {
		t.Errorf("cross-turn errs = %+v, want none", errs)
	}
}

func TestPair_NegativeDurationFlaggedNotDropped(t *testing.T) {
	// Explicit sequence ids force an order where the close precedes the
	// open in event time.
	pairings, _, diags := pairEvents(t, spanSpec, []domain.RawEvent{
		ev(domain.EventTurnStart, 0, withSeq(1)),
		ev(domain.EventModelRequest, 5, withSeq(2), withID("r1")),
		ev(domain.EventModelResponse, 3, withSeq(3), withID("r1")),
	})
	if len(pairings) != 1 || pairings[0].status != domain.IntervalComplete {
		t.Fatalf("pairings = %+v, want one complete despite negative duration", pairings)
	}
	found := false
	for _, d := range diags {
		if d.Kind == domain.DiagSanityViolation {
			found = true
		}
	}
	if !found {
		t.Errorf("diags = %+v, want sanity_violation", diags)
	}
}

func TestPair_OpenWithoutCorrelationID(t *testing.T) {
	pairings, errs, _ := pairEvents(t, spanSpec, []domain.RawEvent{
		ev(domain.EventTurnStart, 0),
		ev(domain.EventModelRequest, 1),
	})
	if len(pairings) != 1 || pairings[0].status != domain.IntervalPartial {
		t.Fatalf("pairings = %+v, want one partial", pairings)
	}
	if len(errs) != 1 || errs[0].Tag != domain.TagSpanIncomplete {
		t.Errorf("errs = %+v, want span_incomplete", errs)
	}
}

func TestPair_FinalizesInOpeningOrder(t *testing.T) {
	pairings, _, _ := pairEvents(t, spanSpec, []domain.RawEvent{
		ev(domain.EventTurnStart, 0),
		ev(domain.EventModelRequest, 1, withID("a")),
		ev(domain.EventModelRequest, 2, withID("b")),
		ev(domain.EventModelRequest, 3, withID("c")),
	})
	want := []string{"a", "b", "c"}
	for i, p := range pairings {
		if p.correlationID() != want[i] {
			t.Errorf("pairing %d id = %q, want %q", i, p.correlationID(), want[i])
		}
	}
}
