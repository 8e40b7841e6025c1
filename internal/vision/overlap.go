// Package vision implements the element labeling service clients, the
// overlap-suppression and label-assignment rules they share with the
// reference resolver, screenshot annotation, and the OCR matcher.
package vision

import (
	"fmt"

	"github.com/vkozyrev/screenpilot/api/schemas"
)

// RawDetection is one detector output box before overlap filtering. It has no
// label id; ids exist only for accepted boxes.
type RawDetection struct {
	Box         schemas.BoundingBox
	Description string
}

// Overlapping reports whether two boxes intersect along both axes. The edge
// comparison is half-open: boxes that merely touch still count as
// overlapping, which is what keeps near-duplicate detector hits from each
// claiming a label.
func Overlapping(a, b schemas.BoundingBox) bool {
	if a.X1 > b.X2 || b.X1 > a.X2 {
		return false
	}
	if a.Y1 > b.Y2 || b.Y1 > a.Y2 {
		return false
	}
	return true
}

// FilterAndLabel walks raw detections in detection order, discards any box
// overlapping an already-accepted box, and assigns dense label ids "~0",
// "~1", ... to the survivors. Suppressed boxes are returned separately so the
// diagnostic overlay can still draw them; they never receive a label id.
//
// The filter is idempotent: feeding the accepted set back through yields the
// same accepted set.
func FilterAndLabel(raw []RawDetection) (accepted []schemas.DetectedElement, suppressed []RawDetection) {
	var kept []schemas.BoundingBox
	for _, det := range raw {
		overlap := false
		for _, box := range kept {
			if Overlapping(det.Box, box) {
				overlap = true
				break
			}
		}
		if overlap {
			suppressed = append(suppressed, det)
			continue
		}
		kept = append(kept, det.Box)
		accepted = append(accepted, schemas.DetectedElement{
			LabelID:     fmt.Sprintf("~%d", len(accepted)),
			Box:         det.Box,
			Description: det.Description,
		})
	}
	return accepted, suppressed
}
