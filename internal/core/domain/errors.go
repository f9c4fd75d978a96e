package domain

// ErrorClass is the canonical error taxonomy. Every raw error signal and
// every pairing anomaly maps to exactly one class.
type ErrorClass string

const (
	ErrorClassTool    ErrorClass = "tool_error"
	ErrorClassModel   ErrorClass = "model_error"
	ErrorClassRuntime ErrorClass = "runtime_error"
	ErrorClassUser    ErrorClass = "user_error"
	ErrorClassUnknown ErrorClass = "unknown"
)

// Pairing anomaly tags carried on ErrorRecord.Tag.
const (
	TagUnmatchedClose = "unmatched_close"
	TagSuperseded     = "superseded"
	TagSpanIncomplete = "span_incomplete"
	TagToolIncomplete = "tool_incomplete"
)

// IntervalKind names the interval entity an ErrorRecord or Diagnostic
// refers to.
type IntervalKind string

const (
	KindModelSpan    IntervalKind = "model_span"
	KindToolInterval IntervalKind = "tool_interval"
)

// ErrorRecord is a classified error row. It originates either from a raw
// error event or from a pairing anomaly; in the latter case IntervalID and
// IntervalKind reference the interval row the anomaly produced.
type ErrorRecord struct {
	SessionID string     `json:"session_id" db:"session_id"`
	TurnIndex int        `json:"turn_index" db:"turn_index"`
	Class     ErrorClass `json:"class" db:"class"`

	// Tag is the raw error tag or the pairing anomaly tag.
	Tag  string `json:"tag,omitempty" db:"tag"`
	Code string `json:"code,omitempty" db:"code"`

	// SourceSeqID is the sequence id of the originating raw event, nil for
	// anomalies synthesized by pairing.
	SourceSeqID *int64 `json:"source_seq_id,omitempty" db:"source_seq_id"`

	IntervalID   string       `json:"interval_id,omitempty" db:"interval_id"`
	IntervalKind IntervalKind `json:"interval_kind,omitempty" db:"interval_kind"`

	Message string `json:"message,omitempty" db:"message"`
}

// DiagnosticKind classifies a data-quality finding.
type DiagnosticKind string

const (
	DiagOrderingAnomaly     DiagnosticKind = "ordering_anomaly"
	DiagProtocolViolation   DiagnosticKind = "protocol_violation"
	DiagSanityViolation     DiagnosticKind = "sanity_violation"
	DiagNegativeMetric      DiagnosticKind = "negative_metric"
	DiagPairingCompleteness DiagnosticKind = "pairing_completeness"
)

// Severity of a diagnostic. Diagnostics are never fatal; severity only
// guides downstream triage.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Diagnostic is a structured, non-fatal data-quality finding produced
// during derivation or by the post-pass validator.
type Diagnostic struct {
	SessionID string         `json:"session_id" db:"session_id"`
	Kind      DiagnosticKind `json:"kind" db:"kind"`
	Severity  Severity       `json:"severity" db:"severity"`

	// EntityID references the row or event the finding concerns: a span or
	// call id, a turn index rendered as text, or a raw event sequence id.
	EntityID string `json:"entity_id,omitempty" db:"entity_id"`

	Message string `json:"message" db:"message"`
}
