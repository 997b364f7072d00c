package layout

import (
	"math"

	"github.com/lehigh-university-libraries/img2pdf/pkg/providers"
)

// Box is an axis-aligned bounding box in image pixel space.
type Box struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// Width of the box.
func (b Box) Width() float64 { return b.XMax - b.XMin }

// Height of the box. The vertical flip into page space does not change it.
func (b Box) Height() float64 { return b.YMax - b.YMin }

// BoundingBox discards any rotation in the polygon and returns its extent.
func BoundingBox(p providers.Polygon) Box {
	b := Box{XMin: p[0].X, YMin: p[0].Y, XMax: p[0].X, YMax: p[0].Y}
	for _, v := range p[1:] {
		b.XMin = math.Min(b.XMin, v.X)
		b.YMin = math.Min(b.YMin, v.Y)
		b.XMax = math.Max(b.XMax, v.X)
		b.YMax = math.Max(b.YMax, v.Y)
	}
	return b
}

// PageGeometry describes a page whose unit is one source pixel. Page space has
// its origin at the bottom-left corner, so image pixel (0,0) sits at (0, Height).
type PageGeometry struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NewPageGeometry sizes a page to an image's pixel dimensions.
func NewPageGeometry(width, height int) PageGeometry {
	return PageGeometry{Width: float64(width), Height: float64(height)}
}

// Origin maps the bottom-left corner of an image-space box into page space.
// Boxes outside the image are mapped as computed, without clamping.
func (g PageGeometry) Origin(b Box) providers.Point {
	return providers.Point{X: b.XMin, Y: g.Height - b.YMax}
}

// ToImageY converts a page-space y coordinate back to image space.
func (g PageGeometry) ToImageY(y float64) float64 {
	return g.Height - y
}
