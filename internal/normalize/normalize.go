// Package normalize turns raw model output into an ordered operation
// sequence. Models wrap JSON in markdown fences, indent it inconsistently,
// and pad it with prose; this package strips all of that before parsing and
// classifies anything unparseable as a ParseError, never a partial result.
package normalize

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/vkozyrev/screenpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ParseError reports model output that is not a well-formed operation array.
// Raw retains the offending text for audit logs.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed model output: %v (raw, truncated: %s)", e.Err, truncate(e.Raw, 500))
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErr(raw string, format string, args ...any) error {
	return &ParseError{Raw: raw, Err: fmt.Errorf(format, args...)}
}

// Normalize cleans raw model output and parses it into operations.
// An empty array is a valid no-op turn.
func Normalize(raw string) ([]schemas.Operation, error) {
	cleaned := Clean(raw)

	// When fences are absent but the array is buried in conversational text,
	// extract the outermost array.
	if !strings.HasPrefix(cleaned, "[") {
		first := strings.Index(cleaned, "[")
		last := strings.LastIndex(cleaned, "]")
		if first == -1 || last <= first {
			return nil, parseErr(raw, "no JSON array found")
		}
		cleaned = cleaned[first : last+1]
	}

	var ops []schemas.Operation
	if err := json.Unmarshal([]byte(cleaned), &ops); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}

	for i, op := range ops {
		if err := validate(op); err != nil {
			return nil, parseErr(raw, "operation %d: %w", i, err)
		}
	}
	return ops, nil
}

// Clean strips a leading ```json or ``` fence and a trailing ``` fence, then
// normalizes line endings: each line is trimmed and the lines rejoined with
// \n. Strict parsers choke on the ragged indentation some models emit.
func Clean(raw string) string {
	content := strings.TrimSpace(raw)
	if strings.HasPrefix(content, "```json") {
		content = strings.TrimSpace(content[len("```json"):])
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimSpace(content[len("```"):])
	}
	if strings.HasSuffix(content, "```") {
		content = strings.TrimSpace(content[:len(content)-len("```")])
	}

	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}

// validate enforces the per-kind field contract on one parsed record.
func validate(op schemas.Operation) error {
	if op.Kind == "" {
		return fmt.Errorf("missing operation field")
	}
	if !schemas.KnownKind(op.Kind) {
		return fmt.Errorf("unrecognized operation kind %q", op.Kind)
	}

	switch op.Kind {
	case schemas.KindClick:
		scheme, err := op.ClickScheme()
		if err != nil {
			return err
		}
		if scheme == schemas.AddressingCoordinates {
			if op.X == nil || op.Y == nil {
				return fmt.Errorf("coordinate click needs both x and y")
			}
			// Coordinates are fractions end to end. A raw pixel count here is
			// a misbehaving model, not something to guess around.
			for name, v := range map[string]float64{"x": float64(*op.X), "y": float64(*op.Y)} {
				if v < 0 || v > 1 {
					return fmt.Errorf("%s=%v is not a fraction in [0,1]", name, v)
				}
			}
		}
	case schemas.KindPress:
		if len(op.Keys) == 0 {
			return fmt.Errorf("press operation has no keys")
		}
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
