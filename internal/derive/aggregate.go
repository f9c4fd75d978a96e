package derive

import (
	"time"

	"github.com/tjfontaine/trajectory-deriver/internal/core/domain"
)

// millisBetween returns the signed millisecond difference end-start.
func millisBetween(start, end time.Time) float64 {
	return float64(end.Sub(start)) / float64(time.Millisecond)
}

// buildModelSpans converts model request/response pairings into span rows.
func buildModelSpans(sessionID string, pairings []pairing) []domain.ModelSpan {
	spans := make([]domain.ModelSpan, 0, len(pairings))
	for _, p := range pairings {
		span := domain.ModelSpan{
			SessionID: sessionID,
			SpanID:    p.correlationID(),
			TurnIndex: p.turnIndex,
			Status:    p.status,
		}
		if p.open != nil {
			span.StartTS = p.open.Timestamp
			span.AgentID = p.open.AgentID
			span.Model = p.open.Model
			span.Provider = p.open.Provider
			span.InputTokens = p.open.InputTokens
			span.CacheTokens = p.open.CacheTokens
		} else {
			// Orphaned: the closing event is all we have.
			span.StartTS = p.closeEv.Timestamp
		}
		if p.closeEv != nil {
			end := p.closeEv.Timestamp
			span.EndTS = &end
			span.OutputTokens = p.closeEv.OutputTokens
			span.TTFTMillis = p.closeEv.TTFTMillis
			span.LatencyMillis = p.closeEv.LatencyMillis
			if p.open != nil {
				d := millisBetween(p.open.Timestamp, end)
				span.DurationMillis = &d
			}
		}
		span.OutputTokensPerSec = outputRate(span)
		spans = append(spans, span)
	}
	return spans
}

// outputRate derives output tokens per second. The reported latency wins
// over the paired duration; the denominator is floored at one millisecond
// so a zero or negative interval never divides the rate into nonsense.
func outputRate(span domain.ModelSpan) *float64 {
	if span.OutputTokens == nil {
		return nil
	}
	var latency float64
	switch {
	case span.LatencyMillis != nil:
		latency = *span.LatencyMillis
	case span.DurationMillis != nil:
		latency = *span.DurationMillis
	default:
		return nil
	}
	if latency < 1 {
		latency = 1
	}
	rate := float64(*span.OutputTokens) * 1000.0 / latency
	return &rate
}

// buildToolIntervals converts tool call/result pairings into interval rows
// and links each call to the model span whose response triggered it.
func buildToolIntervals(sessionID string, events []sequencedEvent, pairings []pairing) []domain.ToolInterval {
	triggers := spanTriggers(events)

	intervals := make([]domain.ToolInterval, 0, len(pairings))
	for _, p := range pairings {
		iv := domain.ToolInterval{
			SessionID: sessionID,
			CallID:    p.correlationID(),
			TurnIndex: p.turnIndex,
			Status:    p.status,
			Result:    "ok",
		}
		if p.open != nil {
			iv.StartTS = p.open.Timestamp
			iv.ToolName = p.open.ToolName
			iv.TriggeredBySpanID = triggers[p.open.recordPos]
		} else {
			iv.StartTS = p.closeEv.Timestamp
			iv.ToolName = p.closeEv.ToolName
		}
		if p.closeEv != nil {
			end := p.closeEv.Timestamp
			iv.EndTS = &end
			iv.ToolLatencyMillis = p.closeEv.ToolLatencyMillis
			iv.ExitCode = p.closeEv.ExitCode
			if iv.ToolName == "" {
				iv.ToolName = p.closeEv.ToolName
			}
			if p.open != nil {
				d := millisBetween(p.open.Timestamp, end)
				iv.DurationMillis = &d
			}
		}
		if iv.ExitCode != nil && *iv.ExitCode != 0 {
			iv.Result = "error"
		}
		intervals = append(intervals, iv)
	}
	return intervals
}

// spanTriggers maps each tool_call event (by record position) to the
// correlation id of the most recent model_response in the same turn. A
// user message or plan update in between means a non-model policy issued
// the call, so the link is cleared.
func spanTriggers(events []sequencedEvent) map[int]string {
	triggers := make(map[int]string)
	lastResponse := ""
	currentTurn := -1
	for i := range events {
		ev := &events[i]
		if ev.turnIndex != currentTurn {
			lastResponse = ""
			currentTurn = ev.turnIndex
		}
		switch ev.Kind {
		case domain.EventModelResponse:
			lastResponse = ev.CorrelationID
		case domain.EventUserMsg, domain.EventPlanUpdate:
			lastResponse = ""
		case domain.EventToolCall:
			triggers[ev.recordPos] = lastResponse
		}
	}
	return triggers
}

// buildTurns fills the closed turn records with event counts, token sums,
// iteration counts, and null-skipping latency aggregates.
func buildTurns(sessionID string, events []sequencedEvent, records []turnRecord, spans []domain.ModelSpan) []domain.Turn {
	turns := make([]domain.Turn, 0, len(records))
	for _, rec := range records {
		turn := domain.Turn{
			SessionID:      sessionID,
			TurnIndex:      rec.index,
			StartTS:        rec.startTS,
			EndTS:          rec.endTS,
			DurationMillis: millisBetween(rec.startTS, rec.endTS),
			ClosureReason:  rec.reason,
			Status:         "success",
		}

		for i := range events {
			ev := &events[i]
			if ev.turnIndex != rec.index {
				continue
			}
			switch ev.Kind {
			case domain.EventModelRequest:
				turn.ModelSpansCount++
			case domain.EventToolCall:
				turn.ToolCallsCount++
			case domain.EventContextCondense:
				turn.CondenseCount++
			case domain.EventPlanUpdate:
				turn.PlanUpdateCount++
			case domain.EventError:
				turn.ErrorCount++
			}
			addTokens(&turn, ev)
		}

		turn.IterationsCompleted, turn.IterationsReact = countIterations(events, rec.index, spans)
		turn.AvgTTFTMillis = avgTTFT(spans, rec.index)
		turn.AvgOTPS = avgOTPS(spans, rec.index)
		if turn.ErrorCount > 0 {
			turn.Status = "fail"
		}
		turns = append(turns, turn)
	}
	return turns
}

func addTokens(turn *domain.Turn, ev *sequencedEvent) {
	if ev.InputTokens != nil {
		turn.InputTokens += *ev.InputTokens
	}
	if ev.OutputTokens != nil {
		turn.OutputTokens += *ev.OutputTokens
	}
	if ev.CacheTokens != nil {
		turn.CacheTokens += *ev.CacheTokens
	}
}

// avgTTFT averages the non-null TTFT values of a turn's spans. Null inputs
// are skipped, never counted as zero; an all-null turn yields nil.
func avgTTFT(spans []domain.ModelSpan, turnIndex int) *float64 {
	var sum float64
	var n int
	for _, s := range spans {
		if s.TurnIndex == turnIndex && s.TTFTMillis != nil {
			sum += *s.TTFTMillis
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

func avgOTPS(spans []domain.ModelSpan, turnIndex int) *float64 {
	var sum float64
	var n int
	for _, s := range spans {
		if s.TurnIndex == turnIndex && s.OutputTokensPerSec != nil {
			sum += *s.OutputTokensPerSec
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

// buildSession rolls everything up into the session summary row.
func buildSession(sessionID string, events []sequencedEvent, turns []domain.Turn, spans []domain.ModelSpan, tools []domain.ToolInterval, errs []domain.ErrorRecord) domain.Session {
	sess := domain.Session{
		SessionID:       sessionID,
		Status:          domain.SessionStatusAbandoned,
		TurnsCount:      len(turns),
		ModelSpansCount: len(spans),
		ToolCallsCount:  len(tools),
		ErrorsCount:     len(errs),
	}
	if len(events) == 0 {
		return sess
	}

	sess.StartTS = events[0].Timestamp
	sess.EndTS = events[len(events)-1].Timestamp
	for _, t := range turns {
		if t.EndTS.After(sess.EndTS) {
			sess.EndTS = t.EndTS
		}
	}
	sess.DurationMillis = millisBetween(sess.StartTS, sess.EndTS)

	sawErrors := false
	for i := range events {
		ev := &events[i]
		if ev.InputTokens != nil {
			sess.TotalInputTokens += *ev.InputTokens
		}
		if ev.OutputTokens != nil {
			sess.TotalOutputTokens += *ev.OutputTokens
		}
		if ev.CacheTokens != nil {
			sess.TotalCacheTokens += *ev.CacheTokens
		}
		if ev.AccumulatedCost != nil {
			sess.AccumulatedCost = ev.AccumulatedCost
		}
		if ev.Kind == domain.EventError {
			sawErrors = true
			if sess.FirstErrorTurn == nil {
				idx := ev.turnIndex
				sess.FirstErrorTurn = &idx
				sess.FirstErrorType = ev.ErrorTag
			}
		}
		if ev.Kind == domain.EventModelRequest && sess.Model == "" {
			sess.AgentID = ev.AgentID
			sess.Model = ev.Model
			sess.Provider = ev.Provider
		}
		if ev.Kind == domain.EventSessionEnd {
			if ev.Status != "" {
				sess.Status = domain.SessionStatus(ev.Status)
			} else if sawErrors {
				sess.Status = domain.SessionStatusFail
			} else {
				sess.Status = domain.SessionStatusSuccess
			}
		}
	}
	return sess
}
