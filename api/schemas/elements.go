package schemas

// BoundingBox is an axis-aligned box in image-pixel space, x1<x2 and y1<y2.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Center returns the midpoint of the box in pixels.
func (b BoundingBox) Center() (x, y float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// DetectedElement is one UI element reported by the labeling service.
// LabelID values are dense ("~0", "~1", ...) in detection-then-filter order,
// not spatial order, and are only valid for the labeling pass that produced
// them.
type DetectedElement struct {
	LabelID     string      `json:"label_id"`
	Box         BoundingBox `json:"bbox"`
	Description string      `json:"description,omitempty"`
}

// ElementMap indexes detected elements by label id for the resolver.
func ElementMap(elements []DetectedElement) map[string]BoundingBox {
	m := make(map[string]BoundingBox, len(elements))
	for _, el := range elements {
		m[el.LabelID] = el.Box
	}
	return m
}

// TextBox is one recognized text occurrence from the OCR engine.
type TextBox struct {
	Text string      `json:"text"`
	Box  BoundingBox `json:"bbox"`
}

// -- Labeling service wire contract --

// LabelRequest is the request body sent to the remote labeling microservice.
type LabelRequest struct {
	ImageBase64 string `json:"image_base64"`
}

// WireElement is one element record on the labeling service wire. The bbox is
// (x1,y1,x2,y2) in image pixels.
type WireElement struct {
	BBox        [4]float64 `json:"bbox"`
	Description string     `json:"description,omitempty"`
}

// LabelResponse is the labeling microservice response: the annotated image
// and the detected element records, in detection order.
type LabelResponse struct {
	Image       string        `json:"image"`
	Coordinates []WireElement `json:"coordinates"`
}
