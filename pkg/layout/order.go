// Package layout turns unordered detections into positioned text runs on a page.
package layout

import (
	"sort"
	"strings"

	"github.com/lehigh-university-libraries/img2pdf/pkg/providers"
)

// OrderedDetection is a detection tagged with its reading-order position.
type OrderedDetection struct {
	providers.Detection
	Index int `json:"index"`
}

// Sort orders detections top-to-bottom, then left-to-right, by the top-left
// corner of each polygon's bounding box. Equal keys keep their input order.
// The input slice is not modified.
func Sort(ds []providers.Detection) []OrderedDetection {
	type keyed struct {
		d   providers.Detection
		box Box
	}
	items := make([]keyed, len(ds))
	for i, d := range ds {
		items[i] = keyed{d: d, box: BoundingBox(d.Polygon)}
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].box, items[j].box
		if a.YMin != b.YMin {
			return a.YMin < b.YMin
		}
		return a.XMin < b.XMin
	})

	ordered := make([]OrderedDetection, len(items))
	for i, it := range items {
		ordered[i] = OrderedDetection{Detection: it.d, Index: i}
	}
	return ordered
}

// Text concatenates detection text in reading order, one detection per line.
func Text(ds []OrderedDetection) string {
	lines := make([]string, 0, len(ds))
	for _, d := range ds {
		if line := singleLine(d.Text); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// singleLine collapses all whitespace, newlines included, to single spaces.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
