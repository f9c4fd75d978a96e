package derive

import (
	"fmt"
	"time"

	"github.com/tjfontaine/trajectory-deriver/internal/core/domain"
)

// DefaultGraceWindow closes unterminated turns and sessions this long after
// the last observed event timestamp. It is event time, never wall clock.
const DefaultGraceWindow = 5 * time.Second

// Options configures a derivation run. The zero value is not valid; use
// DefaultOptions as the starting point.
type Options struct {
	// GraceWindow is the fixed duration added to the last event timestamp
	// when inferring closure of an unterminated turn.
	GraceWindow time.Duration

	// CrossTurnPairing lets an open interval pair with a closing event in
	// a later turn. The interval is still attributed to the turn of its
	// opening event.
	CrossTurnPairing bool
}

// DefaultOptions returns the standard derivation configuration.
func DefaultOptions() Options {
	return Options{GraceWindow: DefaultGraceWindow}
}

func (o Options) validate() error {
	if o.GraceWindow <= 0 {
		return fmt.Errorf("derive: grace window must be positive, got %s", o.GraceWindow)
	}
	return nil
}

// Result holds every derived row set for one session. All slices are
// non-nil after a successful Derive so callers can range without checks.
type Result struct {
	Session       domain.Session
	Turns         []domain.Turn
	ModelSpans    []domain.ModelSpan
	ToolIntervals []domain.ToolInterval
	Errors        []domain.ErrorRecord
	Diagnostics   []domain.Diagnostic
}

// Derive reduces one session's raw event set into its derived rows.
//
// The input may arrive in any order; Derive imposes the total order itself
// and the output is a pure function of the event set. The only error
// returned is an invalid Options value, detected before any event is
// touched. Data problems never fail the call: they surface as ErrorRecords
// and Diagnostics on the result.
func Derive(sessionID string, events []domain.RawEvent, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	ordered, diags := sequence(sessionID, events)

	turnRecords, turnDiags := resolveTurns(sessionID, ordered, opts.GraceWindow)
	diags = append(diags, turnDiags...)

	spanPairings, spanErrs, spanDiags := pair(sessionID, ordered, pairingSpec{
		openKind:      domain.EventModelRequest,
		closeKind:     domain.EventModelResponse,
		intervalKind:  domain.KindModelSpan,
		incompleteTag: domain.TagSpanIncomplete,
		crossTurn:     opts.CrossTurnPairing,
	})
	diags = append(diags, spanDiags...)

	toolPairings, toolErrs, toolDiags := pair(sessionID, ordered, pairingSpec{
		openKind:      domain.EventToolCall,
		closeKind:     domain.EventToolResult,
		intervalKind:  domain.KindToolInterval,
		incompleteTag: domain.TagToolIncomplete,
		crossTurn:     opts.CrossTurnPairing,
	})
	diags = append(diags, toolDiags...)

	spans := buildModelSpans(sessionID, spanPairings)
	tools := buildToolIntervals(sessionID, ordered, toolPairings)

	errs := classifyErrorEvents(sessionID, ordered)
	errs = append(errs, spanErrs...)
	errs = append(errs, toolErrs...)

	turns := buildTurns(sessionID, ordered, turnRecords, spans)
	session := buildSession(sessionID, ordered, turns, spans, tools, errs)

	diags = append(diags, validate(sessionID, ordered, spans, tools)...)

	res := &Result{
		Session:       session,
		Turns:         turns,
		ModelSpans:    spans,
		ToolIntervals: tools,
		Errors:        errs,
		Diagnostics:   diags,
	}
	if res.Turns == nil {
		res.Turns = []domain.Turn{}
	}
	if res.ModelSpans == nil {
		res.ModelSpans = []domain.ModelSpan{}
	}
	if res.ToolIntervals == nil {
		res.ToolIntervals = []domain.ToolInterval{}
	}
	if res.Errors == nil {
		res.Errors = []domain.ErrorRecord{}
	}
	if res.Diagnostics == nil {
		res.Diagnostics = []domain.Diagnostic{}
	}
	return res, nil
}

// classifyErrorEvents turns explicit error events and tool results carrying
// failure signals into classified error rows, in stream order.
func classifyErrorEvents(sessionID string, events []sequencedEvent) []domain.ErrorRecord {
	var errs []domain.ErrorRecord
	for i := range events {
		ev := &events[i]
		isSignal := ev.Kind == domain.EventError ||
			(ev.Kind == domain.EventToolResult && ev.ExitCode != nil && *ev.ExitCode != 0) ||
			(ev.Kind == domain.EventModelResponse && ev.MalformedToolIntent)
		if !isSignal {
			continue
		}
		rec := domain.ErrorRecord{
			SessionID:   sessionID,
			TurnIndex:   ev.turnIndex,
			Class:       classifyEvent(&ev.RawEvent),
			Tag:         ev.ErrorTag,
			Code:        ev.ErrorCode,
			SourceSeqID: ev.SeqID,
			Message:     ev.ErrorTag,
		}
		switch ev.Kind {
		case domain.EventToolResult:
			rec.IntervalID = ev.CorrelationID
			rec.IntervalKind = domain.KindToolInterval
		case domain.EventModelResponse:
			rec.IntervalID = ev.CorrelationID
			rec.IntervalKind = domain.KindModelSpan
		}
		errs = append(errs, rec)
	}
	return errs
}
