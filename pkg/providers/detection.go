package providers

import (
	"errors"
	"fmt"
	"math"

	"github.com/lehigh-university-libraries/img2pdf/pkg/errs"
)

// Point is a location in image pixel space, origin top-left, y growing down.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon is a quadrilateral ordered top-left, top-right, bottom-right, bottom-left.
type Polygon [4]Point

// Detection is one engine result. It is a value and is never mutated after
// the engine returns it.
type Detection struct {
	Polygon    Polygon `json:"polygon"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

var errNoVertices = errors.New("polygon has no vertices")

// NewDetection validates engine geometry. Four vertices are kept as given; any
// other non-empty vertex list is reduced to its bounding rectangle. Confidence
// is clamped to [0,1].
func NewDetection(points []Point, text string, confidence float64) (Detection, error) {
	if len(points) == 0 {
		return Detection{}, errs.New(errs.Detection, "validate detection", errNoVertices)
	}
	for i, p := range points {
		if !finite(p.X) || !finite(p.Y) {
			return Detection{}, errs.New(errs.Detection, "validate detection",
				fmt.Errorf("vertex %d is not finite: (%v, %v)", i, p.X, p.Y))
		}
	}

	var poly Polygon
	if len(points) == 4 {
		copy(poly[:], points)
	} else {
		poly = rectangle(points)
	}

	return Detection{
		Polygon:    poly,
		Text:       text,
		Confidence: clamp(confidence),
	}, nil
}

// RectPolygon builds an axis-aligned polygon from an image-space rectangle.
func RectPolygon(x0, y0, x1, y1 float64) Polygon {
	return Polygon{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}}
}

func rectangle(points []Point) Polygon {
	minX, minY := points[0].X, points[0].Y
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return RectPolygon(minX, minY, maxX, maxY)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(c float64) float64 {
	switch {
	case math.IsNaN(c) || c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// FilterConfidence drops detections below min. A min of zero keeps everything.
func FilterConfidence(ds []Detection, min float64) []Detection {
	if min <= 0 {
		return ds
	}
	kept := make([]Detection, 0, len(ds))
	for _, d := range ds {
		if d.Confidence >= min {
			kept = append(kept, d)
		}
	}
	return kept
}
