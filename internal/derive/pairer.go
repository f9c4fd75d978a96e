package derive

import (
	"fmt"

	"github.com/tjfontaine/trajectory-deriver/internal/core/domain"
)

// pairingSpec parameterizes the generic open/close correlation engine. It
// is instantiated once for model request/response spans and once for tool
// call/result intervals; both share identical anomaly handling.
type pairingSpec struct {
	openKind      domain.EventKind
	closeKind     domain.EventKind
	intervalKind  domain.IntervalKind
	incompleteTag string

	// crossTurn lets an opening survive a turn boundary. Off by default:
	// an opening unresolved when its turn closes becomes partial. Either
	// way the resulting interval is attributed to the opening's turn.
	crossTurn bool
}

// pairing is one resolved interval. open is nil for orphaned intervals,
// closeEv is nil for partial and superseded ones.
type pairing struct {
	open    *sequencedEvent
	closeEv *sequencedEvent
	status  domain.IntervalStatus

	// turnIndex of the opening event, or of the closing event when there
	// is no opening.
	turnIndex int
}

// correlationID returns the id the pairing resolved under.
func (p pairing) correlationID() string {
	if p.open != nil {
		return p.open.CorrelationID
	}
	return p.closeEv.CorrelationID
}

// pair runs the correlation engine over one session's ordered, turn-indexed
// event stream. It returns resolved pairings in resolution order together
// with the error records and diagnostics the anomalies produced. Nothing is
// ever dropped: every opening and every closing event ends up in exactly
// one pairing row.
func pair(sessionID string, events []sequencedEvent, spec pairingSpec) ([]pairing, []domain.ErrorRecord, []domain.Diagnostic) {
	var (
		pairings []pairing
		errs     []domain.ErrorRecord
		diags    []domain.Diagnostic

		unresolved = make(map[string]*sequencedEvent)
		openOrder  []string
	)

	anomaly := func(tag string, turnIndex int, id string, seqID *int64, msg string) {
		errs = append(errs, domain.ErrorRecord{
			SessionID:    sessionID,
			TurnIndex:    turnIndex,
			Class:        classifyPairingAnomaly(spec.intervalKind),
			Tag:          tag,
			SourceSeqID:  seqID,
			IntervalID:   id,
			IntervalKind: spec.intervalKind,
			Message:      msg,
		})
	}

	dropUnresolved := func(id string) {
		delete(unresolved, id)
		for i, k := range openOrder {
			if k == id {
				openOrder = append(openOrder[:i], openOrder[i+1:]...)
				break
			}
		}
	}

	// finalize closes every still-unresolved opening as partial, in the
	// order the openings were seen.
	finalize := func() {
		for _, id := range openOrder {
			open := unresolved[id]
			pairings = append(pairings, pairing{
				open:      open,
				status:    domain.IntervalPartial,
				turnIndex: open.turnIndex,
			})
			anomaly(spec.incompleteTag, open.turnIndex, id, open.SeqID,
				fmt.Sprintf("%s %q never closed in scope", spec.openKind, id))
		}
		unresolved = make(map[string]*sequencedEvent)
		openOrder = openOrder[:0]
	}

	currentTurn := -1
	for i := range events {
		ev := &events[i]
		if !spec.crossTurn && ev.turnIndex != currentTurn {
			finalize()
			currentTurn = ev.turnIndex
		}

		switch ev.Kind {
		case spec.openKind:
			id := ev.CorrelationID
			if id == "" {
				// Unpairable by construction; record it as partial so the
				// event is still visible downstream.
				pairings = append(pairings, pairing{
					open:      ev,
					status:    domain.IntervalPartial,
					turnIndex: ev.turnIndex,
				})
				anomaly(spec.incompleteTag, ev.turnIndex, "", ev.SeqID,
					fmt.Sprintf("%s with no correlation id", spec.openKind))
				continue
			}
			if prior, ok := unresolved[id]; ok {
				// Correlation id reused before the prior opening resolved.
				// Close the prior one as superseded and open the new one;
				// the violation is recorded, not silently overwritten.
				pairings = append(pairings, pairing{
					open:      prior,
					status:    domain.IntervalSuperseded,
					turnIndex: prior.turnIndex,
				})
				anomaly(domain.TagSuperseded, prior.turnIndex, id, prior.SeqID,
					fmt.Sprintf("correlation id %q reused while unresolved", id))
				dropUnresolved(id)
			}
			unresolved[id] = ev
			openOrder = append(openOrder, id)

		case spec.closeKind:
			id := ev.CorrelationID
			open, ok := unresolved[id]
			if id == "" || !ok {
				pairings = append(pairings, pairing{
					closeEv:   ev,
					status:    domain.IntervalOrphaned,
					turnIndex: ev.turnIndex,
				})
				anomaly(domain.TagUnmatchedClose, ev.turnIndex, id, ev.SeqID,
					fmt.Sprintf("%s %q has no matching %s", spec.closeKind, id, spec.openKind))
				continue
			}
			if ev.Timestamp.Before(open.Timestamp) {
				diags = append(diags, domain.Diagnostic{
					SessionID: sessionID,
					Kind:      domain.DiagSanityViolation,
					Severity:  domain.SeverityWarning,
					EntityID:  id,
					Message:   fmt.Sprintf("%s %q closes before it opens; negative duration kept", spec.intervalKind, id),
				})
			}
			pairings = append(pairings, pairing{
				open:      open,
				closeEv:   ev,
				status:    domain.IntervalComplete,
				turnIndex: open.turnIndex,
			})
			dropUnresolved(id)
		}
	}
	finalize()

	return pairings, errs, diags
}
