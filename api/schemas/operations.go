package schemas

import (
	"fmt"
	"strconv"
	"strings"
)

// OperationKind enumerates the atomic actions a model may request.
type OperationKind string

const (
	KindClick  OperationKind = "click"
	KindWrite  OperationKind = "write"
	KindPress  OperationKind = "press"
	KindScroll OperationKind = "scroll"
	KindDone   OperationKind = "done"
)

// KnownKind reports whether k is one of the supported operation kinds.
func KnownKind(k OperationKind) bool {
	switch k {
	case KindClick, KindWrite, KindPress, KindScroll, KindDone:
		return true
	}
	return false
}

// Addressing identifies how a click operation names its target.
type Addressing string

const (
	// AddressingCoordinates means the model emits fractional x/y directly.
	AddressingCoordinates Addressing = "coordinates"
	// AddressingLabels means the model references detector label ids ("~N").
	AddressingLabels Addressing = "labels"
	// AddressingText means the model names on-screen text to be OCR-matched.
	AddressingText Addressing = "text"
)

// Percent is a fractional screen coordinate in [0,1]. Models emit these both
// as JSON numbers and as numeric strings ("0.25"), so it unmarshals from
// either form. Range validation happens in the normalizer, not here.
type Percent float64

// UnmarshalJSON accepts either `0.25` or `"0.25"`.
func (p *Percent) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	s = strings.Trim(s, `"`)
	if s == "" || s == "null" {
		return fmt.Errorf("percent value is empty")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("percent value %q is not numeric: %w", s, err)
	}
	*p = Percent(v)
	return nil
}

// MarshalJSON emits the plain number so parse/serialize round-trips are exact.
func (p Percent) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(p), 'g', -1, 64)), nil
}

// Operation is a single agent action parsed from model output. Only the
// fields matching Kind are populated; for clicks, at most one addressing
// scheme (Label, Text, or X/Y) may be set per record.
type Operation struct {
	Kind    OperationKind `json:"operation"`
	Thought string        `json:"thought,omitempty"`

	// Click targets. Exactly one of these schemes per record.
	Label string   `json:"label,omitempty"`
	Text  string   `json:"text,omitempty"`
	X     *Percent `json:"x,omitempty"`
	Y     *Percent `json:"y,omitempty"`

	// Write payload.
	Content string `json:"content,omitempty"`

	// Press payload: an ordered key chord, executed simultaneously.
	Keys []string `json:"keys,omitempty"`

	// Done payload.
	Summary string `json:"summary,omitempty"`

	// Resolved click point as fractions of the screen, set by the resolver.
	// A click must never reach the executor without these.
	XResolved *float64 `json:"x_resolved,omitempty"`
	YResolved *float64 `json:"y_resolved,omitempty"`
}

// ClickScheme returns the addressing scheme used by a click operation, or an
// error when the record names zero or more than one scheme.
func (o Operation) ClickScheme() (Addressing, error) {
	if o.Kind != KindClick {
		return "", fmt.Errorf("operation %q has no click target", o.Kind)
	}
	var schemes []Addressing
	if o.Label != "" {
		schemes = append(schemes, AddressingLabels)
	}
	if o.Text != "" {
		schemes = append(schemes, AddressingText)
	}
	if o.X != nil || o.Y != nil {
		schemes = append(schemes, AddressingCoordinates)
	}
	switch len(schemes) {
	case 1:
		return schemes[0], nil
	case 0:
		return "", fmt.Errorf("click operation carries no target")
	default:
		return "", fmt.Errorf("click operation mixes addressing schemes %v", schemes)
	}
}

// Resolved reports whether a click operation carries a concrete click point.
// Non-click operations are trivially resolved.
func (o Operation) Resolved() bool {
	if o.Kind != KindClick {
		return true
	}
	return o.XResolved != nil && o.YResolved != nil
}

// BackendResult is the outcome of one successful dispatcher iteration: the
// fully resolved operations for this turn and the conversation to carry into
// the next one.
type BackendResult struct {
	Operations   []Operation
	Conversation Conversation
}

// Done reports whether the turn contained a terminal `done` record. Per the
// operation contract, `done` is evaluated after all preceding records.
func (r BackendResult) Done() (summary string, done bool) {
	for _, op := range r.Operations {
		if op.Kind == KindDone {
			summary, done = op.Summary, true
		}
	}
	return summary, done
}
