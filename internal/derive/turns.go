package derive

import (
	"fmt"
	"time"

	"github.com/tjfontaine/trajectory-deriver/internal/core/domain"
)

// turnRecord is a closed turn before aggregation fills in its counts.
type turnRecord struct {
	index   int
	startTS time.Time
	endTS   time.Time
	reason  domain.ClosureReason
}

// resolverState is the boundary state machine's state.
type resolverState int

const (
	noOpenTurn resolverState = iota
	openTurn
)

// resolveTurns segments an ordered session stream into turns and assigns
// every event a turn index in place.
//
// Events preceding the first turn_start land in the reserved pre-turn
// bucket (index 0). Events between a closed turn and the next turn_start
// keep the closed turn's index, matching the upstream runtime's convention
// that trailing observations belong to the turn that produced them. A turn
// left open at end of stream closes at the last event's timestamp plus the
// grace window, never at wall-clock now.
func resolveTurns(sessionID string, events []sequencedEvent, grace time.Duration) ([]turnRecord, []domain.Diagnostic) {
	var (
		turns   []turnRecord
		diags   []domain.Diagnostic
		state   = noOpenTurn
		current turnRecord
		lastIdx = domain.PreTurnIndex
	)

	closeCurrent := func(endTS time.Time, reason domain.ClosureReason) {
		current.endTS = endTS
		current.reason = reason
		turns = append(turns, current)
		lastIdx = current.index
		state = noOpenTurn
	}

	for i := range events {
		ev := &events[i]
		switch ev.Kind {
		case domain.EventTurnStart:
			if state == openTurn {
				closeCurrent(ev.Timestamp, domain.ClosureNextStart)
			}
			current = turnRecord{index: lastIdx + 1, startTS: ev.Timestamp}
			state = openTurn
			ev.turnIndex = current.index

		case domain.EventTurnEnd:
			if state == openTurn {
				ev.turnIndex = current.index
				closeCurrent(ev.Timestamp, domain.ClosureExplicit)
			} else {
				ev.turnIndex = lastIdx
				diags = append(diags, domain.Diagnostic{
					SessionID: sessionID,
					Kind:      domain.DiagProtocolViolation,
					Severity:  domain.SeverityWarning,
					EntityID:  fmt.Sprintf("turn=%d", lastIdx),
					Message:   "turn_end observed with no open turn",
				})
			}

		case domain.EventSessionEnd:
			if state == openTurn {
				ev.turnIndex = current.index
				closeCurrent(ev.Timestamp, domain.ClosureSessionEnd)
			} else {
				ev.turnIndex = lastIdx
			}

		default:
			if state == openTurn {
				ev.turnIndex = current.index
			} else {
				ev.turnIndex = lastIdx
			}
		}
	}

	if state == openTurn {
		end := current.startTS
		if n := len(events); n > 0 {
			end = events[n-1].Timestamp
		}
		closeCurrent(end.Add(grace), domain.ClosureTimeout)
	}

	return turns, diags
}
