package derive

import "github.com/tjfontaine/trajectory-deriver/internal/core/domain"

// countIterations computes both iteration-count definitions for one turn.
//
// completed counts the turn's model spans that paired successfully.
// react counts model requests whose immediately preceding turn-scoped event
// (skipping other model requests) was a tool_result or the turn-initiating
// user message, i.e. requests that advance the reason/act loop rather than
// retry it. Both counts are stored on the Turn row; neither substitutes for
// the other.
func countIterations(events []sequencedEvent, turnIndex int, spans []domain.ModelSpan) (completed, react int) {
	for _, s := range spans {
		if s.TurnIndex == turnIndex && s.Status == domain.IntervalComplete {
			completed++
		}
	}

	var turn []*sequencedEvent
	for i := range events {
		if events[i].turnIndex == turnIndex {
			turn = append(turn, &events[i])
		}
	}

	firstUserMsg := -1
	for i, ev := range turn {
		if ev.Kind == domain.EventUserMsg {
			firstUserMsg = i
			break
		}
	}

	for i, ev := range turn {
		if ev.Kind != domain.EventModelRequest {
			continue
		}
		j := i - 1
		for j >= 0 && turn[j].Kind == domain.EventModelRequest {
			j--
		}
		if j < 0 {
			continue
		}
		if turn[j].Kind == domain.EventToolResult || j == firstUserMsg {
			react++
		}
	}
	return completed, react
}
