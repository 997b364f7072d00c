package layout

import (
	"math"

	"github.com/lehigh-university-libraries/img2pdf/pkg/providers"
)

const (
	// MinimumFontSize is the smallest font size, in page units, given to a run.
	MinimumFontSize = 8.0
	// HeightFraction scales box height to font size so the run stays within the glyphs.
	HeightFraction = 0.8
)

// TextRun is one single-line run of text positioned in page space.
type TextRun struct {
	Index       int             `json:"index"`
	Origin      providers.Point `json:"origin"`
	Text        string          `json:"text"`
	FontSize    float64         `json:"font_size"`
	Transparent bool            `json:"transparent"`
	// Box is the source bounding box in image space.
	Box Box `json:"box"`
}

// FontSize returns the run font size for a box height. Degenerate boxes get
// the minimum size.
func FontSize(boxHeight float64) float64 {
	return math.Max(MinimumFontSize, boxHeight*HeightFraction)
}

// Compose builds one run per detection in reading order. Text is collapsed to
// a single line and detections with no text are skipped.
func Compose(g PageGeometry, ds []OrderedDetection, transparent bool) []TextRun {
	runs := make([]TextRun, 0, len(ds))
	for _, d := range ds {
		text := singleLine(d.Text)
		if text == "" {
			continue
		}
		box := BoundingBox(d.Polygon)
		runs = append(runs, TextRun{
			Index:       d.Index,
			Origin:      g.Origin(box),
			Text:        text,
			FontSize:    FontSize(box.Height()),
			Transparent: transparent,
			Box:         box,
		})
	}
	return runs
}
