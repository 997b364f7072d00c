// Package debugviz draws detection polygons and their recognized text onto a
// copy of the page image so a person can check what the engine found.
package debugviz

import (
	"image"
	"image/color"
	"log/slog"
	"math"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lehigh-university-libraries/img2pdf/pkg/errs"
	"github.com/lehigh-university-libraries/img2pdf/pkg/layout"
	"github.com/lehigh-university-libraries/img2pdf/pkg/orientation"
	"github.com/lehigh-university-libraries/img2pdf/pkg/providers"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

const (
	minLabelSize = 10.0
	maxLabelSize = 48.0
)

// Renderer draws detections. The zero value is not usable; call New.
type Renderer struct {
	Outline   color.NRGBA
	Ink       color.NRGBA
	LineWidth float64

	font   *opentype.Font
	logger *slog.Logger
}

// New returns a Renderer using Go Regular for labels. When the font cannot be
// parsed labels are drawn with a fixed bitmap face instead.
func New(logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Renderer{
		Outline:   color.NRGBA{R: 0, G: 200, B: 0, A: 255},
		Ink:       color.NRGBA{R: 220, G: 0, B: 0, A: 255},
		LineWidth: 2,
		logger:    logger,
	}
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		logger.Warn("label font unavailable, using bitmap face", "err", err)
	} else {
		r.font = f
	}
	return r
}

// Render returns a copy of img with each detection outlined and labelled.
// img is not modified.
func (r *Renderer) Render(img *orientation.PixelImage, ds []layout.OrderedDetection) *image.NRGBA {
	canvas := img.Clone()
	for _, d := range ds {
		r.outline(canvas, d.Polygon)
	}
	for _, d := range ds {
		r.label(canvas, d)
	}
	return canvas
}

// outline strokes each polygon edge as a thin filled quad.
func (r *Renderer) outline(dst *image.NRGBA, p providers.Polygon) {
	b := dst.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())

	z := vector.NewRasterizer(b.Dx(), b.Dy())
	drawn := false
	for i := range p {
		a, c := p[i], p[(i+1)%len(p)]
		if !edgeVisible(a, c, w, h) {
			continue
		}
		dx, dy := c.X-a.X, c.Y-a.Y
		length := math.Hypot(dx, dy)
		if length < 1e-9 {
			continue
		}
		nx, ny := -dy/length*r.LineWidth/2, dx/length*r.LineWidth/2

		z.MoveTo(clampF(a.X+nx, w), clampF(a.Y+ny, h))
		z.LineTo(clampF(c.X+nx, w), clampF(c.Y+ny, h))
		z.LineTo(clampF(c.X-nx, w), clampF(c.Y-ny, h))
		z.LineTo(clampF(a.X-nx, w), clampF(a.Y-ny, h))
		z.ClosePath()
		drawn = true
	}
	if drawn {
		z.Draw(dst, b, image.NewUniform(r.Outline), image.Point{})
	}
}

func (r *Renderer) label(dst *image.NRGBA, d layout.OrderedDetection) {
	text := strings.Join(strings.Fields(d.Text), " ")
	if text == "" {
		return
	}
	box := layout.BoundingBox(d.Polygon)
	size := math.Min(maxLabelSize, math.Max(minLabelSize, box.Height()*layout.HeightFraction))

	face, closeFace := r.face(size)
	defer closeFace()

	// above the box, or inside it when there is no room at the top edge
	baseline := box.YMin - r.LineWidth
	if baseline < size {
		baseline = box.YMax - r.LineWidth
	}
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(r.Ink),
		Face: face,
		Dot:  fixed.P(int(math.Round(box.XMin)), int(math.Round(baseline))),
	}
	drawer.DrawString(text)
}

func (r *Renderer) face(size float64) (font.Face, func()) {
	if r.font != nil {
		face, err := opentype.NewFace(r.font, &opentype.FaceOptions{
			Size:    size,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err == nil {
			return face, func() { face.Close() }
		}
		r.logger.Debug("label face unavailable, using bitmap face", "size", size, "err", err)
	}
	return basicfont.Face7x13, func() {}
}

// edgeVisible reports whether the edge's bounding box touches the image.
func edgeVisible(a, c providers.Point, w, h float64) bool {
	return math.Max(a.X, c.X) >= 0 && math.Min(a.X, c.X) <= w &&
		math.Max(a.Y, c.Y) >= 0 && math.Min(a.Y, c.Y) <= h
}

func clampF(v, limit float64) float32 {
	return float32(math.Min(math.Max(v, 0), limit))
}

// OutputName returns the debug image file name for an input path:
// <base>_detect<ext>. Inputs in formats without an encoder get a .png name.
func OutputName(input string) string {
	ext := filepath.Ext(input)
	base := strings.TrimSuffix(filepath.Base(input), ext)
	if _, err := imaging.FormatFromExtension(ext); err != nil {
		ext = ".png"
	}
	return base + "_detect" + ext
}

// Save encodes img to path in the format implied by its extension.
func Save(img image.Image, path string) error {
	if err := imaging.Save(img, path, imaging.JPEGQuality(92)); err != nil {
		return errs.WithPath(errs.IO, "save debug image", path, err)
	}
	return nil
}
