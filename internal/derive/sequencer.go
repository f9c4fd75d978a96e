// Package derive implements the trajectory derivation core: it reduces one
// session's raw event set into Session, Turn, ModelSpan, ToolInterval, and
// ErrorRecord rows plus data-quality diagnostics. The whole package is pure
// in-memory computation; it performs no I/O and never reads the wall clock,
// so deriving the same event set twice yields identical rows.
package derive

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/tjfontaine/trajectory-deriver/internal/core/domain"
)

// sequencedEvent is a raw event plus the bookkeeping the rest of the
// pipeline needs: its original record position, the canonical content key
// used as the final ordering tiebreak, and the turn index assigned by the
// boundary resolver.
type sequencedEvent struct {
	domain.RawEvent
	recordPos int
	sortKey   string
	turnIndex int
}

// sequence imposes a total order on one session's raw events.
//
// When every event carries an explicit sequence id and no two ids collide,
// the ids alone define the order. Otherwise events sort by timestamp, then
// by sequence id where present, then by full canonical content, so any two
// events that differ at all order the same way under every input
// permutation. Events sharing an ordering key with differing content are
// an ordering anomaly: a diagnostic is emitted and the stable best-effort
// order stands. Sequencing never fails.
func sequence(sessionID string, events []domain.RawEvent) ([]sequencedEvent, []domain.Diagnostic) {
	seq := make([]sequencedEvent, len(events))
	for i, ev := range events {
		seq[i] = sequencedEvent{RawEvent: ev, recordPos: i}
	}

	if explicitOrderUsable(seq) {
		sort.SliceStable(seq, func(i, j int) bool {
			return *seq[i].SeqID < *seq[j].SeqID
		})
		return seq, nil
	}

	for i := range seq {
		seq[i].sortKey = contentKey(&seq[i].RawEvent)
	}
	sort.SliceStable(seq, func(i, j int) bool {
		a, b := seq[i], seq[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.SeqID != nil && b.SeqID != nil && *a.SeqID != *b.SeqID {
			return *a.SeqID < *b.SeqID
		}
		if a.sortKey != b.sortKey {
			return a.sortKey < b.sortKey
		}
		// Byte-identical events: relative order cannot matter.
		return a.recordPos < b.recordPos
	})

	var diags []domain.Diagnostic
	for i := 1; i < len(seq); i++ {
		a, b := seq[i-1], seq[i]
		if !a.Timestamp.Equal(b.Timestamp) {
			continue
		}
		if a.SeqID != nil && b.SeqID != nil && *a.SeqID != *b.SeqID {
			continue
		}
		if a.sortKey == b.sortKey {
			continue
		}
		diags = append(diags, domain.Diagnostic{
			SessionID: sessionID,
			Kind:      domain.DiagOrderingAnomaly,
			Severity:  domain.SeverityWarning,
			EntityID:  eventRef(&seq[i]),
			Message: fmt.Sprintf("events %s and %s share ordering key %s with no sequence ids; content order used",
				a.Kind, b.Kind, a.Timestamp.Format("2006-01-02T15:04:05.000Z07:00")),
		})
	}
	return seq, diags
}

// contentKey is a canonical encoding of the whole event. Identical events
// produce identical keys, and the key never depends on where the event sat
// in the input batch.
func contentKey(ev *domain.RawEvent) string {
	b, err := json.Marshal(ev)
	if err != nil {
		// Only a non-JSON verbatim payload can fail; key on the remaining
		// fields plus the raw payload bytes.
		clone := *ev
		clone.Payload = nil
		b, _ = json.Marshal(&clone)
		return string(b) + string(ev.Payload)
	}
	return string(b)
}

// eventRef identifies an event in diagnostics by its content, never by its
// input position, which is not stable across deliveries of the same set.
func eventRef(ev *sequencedEvent) string {
	if ev.SeqID != nil {
		return fmt.Sprintf("seq=%d", *ev.SeqID)
	}
	ref := fmt.Sprintf("%s@%s", ev.Kind, ev.Timestamp.UTC().Format(time.RFC3339Nano))
	if ev.CorrelationID != "" {
		ref += "#" + ev.CorrelationID
	}
	return ref
}

// explicitOrderUsable reports whether every event carries a sequence id and
// the ids are collision-free, in which case they define the total order.
func explicitOrderUsable(seq []sequencedEvent) bool {
	if len(seq) == 0 {
		return false
	}
	seen := make(map[int64]struct{}, len(seq))
	for _, ev := range seq {
		if ev.SeqID == nil {
			return false
		}
		if _, dup := seen[*ev.SeqID]; dup {
			return false
		}
		seen[*ev.SeqID] = struct{}{}
	}
	return true
}
