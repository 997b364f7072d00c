// Package pdf assembles a single-page searchable PDF: the page image with an
// invisible text layer drawn over it.
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"codeberg.org/go-pdf/fpdf"
	"github.com/lehigh-university-libraries/img2pdf/pkg/errs"
	"github.com/lehigh-university-libraries/img2pdf/pkg/layout"
	"github.com/lehigh-university-libraries/img2pdf/pkg/orientation"
)

// State is the position of an Assembler in its build sequence.
type State int

const (
	Empty State = iota
	ImageDrawn
	TextLayered
	Finalized
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case ImageDrawn:
		return "image drawn"
	case TextLayered:
		return "text layered"
	case Finalized:
		return "finalized"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const pageImage = "page"

// Assembler builds one document. It moves strictly through
// Empty -> ImageDrawn -> TextLayered -> Finalized and cannot be reused.
// An Assembler is not safe for concurrent use.
type Assembler struct {
	doc       *fpdf.Fpdf
	logger    *slog.Logger
	font      Font
	family    string
	translate func(string) string
	compress  bool

	state    State
	geometry layout.PageGeometry
	runs     int
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets the logger used for font fallback warnings.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithFont sets the font used for text runs.
func WithFont(f Font) Option {
	return func(a *Assembler) {
		a.font = f
	}
}

// WithCompression toggles stream compression. Uncompressed output is only
// useful for inspecting content streams.
func WithCompression(on bool) Option {
	return func(a *Assembler) {
		a.compress = on
	}
}

// New returns an empty Assembler with its text font already resolved.
func New(opts ...Option) *Assembler {
	a := &Assembler{
		logger:   slog.Default(),
		font:     DefaultFont(),
		compress: true,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.doc = fpdf.New("P", "pt", "", "")
	a.doc.SetCompression(a.compress)
	a.doc.SetCreator("img2pdf", true)
	a.doc.SetMargins(0, 0, 0)
	a.doc.SetAutoPageBreak(false, 0)
	a.resolveFont()
	return a
}

// resolveFont registers the configured font, falling back to the base font.
// Failure is logged and never returned.
func (a *Assembler) resolveFont() {
	err := a.registerFont(a.font)
	if err == nil {
		return
	}
	a.logger.Warn("font registration failed, using base font",
		"font", a.font.Family,
		"fallback", fallbackFamily,
		"err", err)
	a.family = fallbackFamily
	a.translate = a.doc.UnicodeTranslatorFromDescriptor("")
	a.doc.SetFont(fallbackFamily, "", layout.MinimumFontSize)
}

func (a *Assembler) registerFont(f Font) (err error) {
	defer func() {
		// fpdf's TrueType parser panics on some truncated tables
		if r := recover(); r != nil {
			a.doc.ClearError()
			err = errs.New(errs.FontResolution, "register font", fmt.Errorf("%v", r))
		}
	}()

	if f.Family == "" || len(f.Data) == 0 {
		return errs.New(errs.FontResolution, "register font", errors.New("no font data"))
	}
	translate, err := coverage(f)
	if err != nil {
		return errs.New(errs.FontResolution, "parse font "+f.Family, err)
	}
	a.doc.AddUTF8FontFromBytes(f.Family, "", f.Data)
	a.doc.SetFont(f.Family, "", layout.MinimumFontSize)
	if a.doc.Err() {
		cause := a.doc.Error()
		a.doc.ClearError()
		return errs.New(errs.FontResolution, "register font "+f.Family, cause)
	}
	a.family = f.Family
	a.translate = translate
	return nil
}

// State returns the current build state.
func (a *Assembler) State() State {
	return a.state
}

// FontFamily returns the font family text runs are drawn with.
func (a *Assembler) FontFamily() string {
	return a.family
}

// Runs returns the number of text runs drawn so far.
func (a *Assembler) Runs() int {
	return a.runs
}

// Geometry returns the page geometry set by DrawImage.
func (a *Assembler) Geometry() layout.PageGeometry {
	return a.geometry
}

// DrawImage adds the page, sized to the image in pixels, and fills it with the
// image. It must be the first drawing call.
func (a *Assembler) DrawImage(img *orientation.PixelImage) error {
	if a.state != Empty {
		return a.stateError("draw image")
	}
	if img == nil || img.Width <= 0 || img.Height <= 0 {
		return errs.New(errs.AssemblyState, "draw image", errors.New("no image"))
	}

	data, format, err := img.Bytes()
	if err != nil {
		return errs.New(errs.IO, "embed image", err)
	}

	a.geometry = layout.NewPageGeometry(img.Width, img.Height)
	w, h := a.geometry.Width, a.geometry.Height

	a.doc.AddPageFormat("P", fpdf.SizeType{Wd: w, Ht: h})
	opts := fpdf.ImageOptions{ReadDpi: false, ImageType: strings.ToUpper(format)}
	a.doc.RegisterImageOptionsReader(pageImage, opts, bytes.NewReader(data))
	a.doc.ImageOptions(pageImage, 0, 0, w, h, false, opts, 0, "")
	if a.doc.Err() {
		return errs.New(errs.IO, "embed image", a.doc.Error())
	}

	a.state = ImageDrawn
	return nil
}

// DrawText draws one run at its page-space origin. Transparent runs are drawn
// with zero alpha so they are searchable and selectable but not visible.
func (a *Assembler) DrawText(run layout.TextRun) error {
	if a.state != ImageDrawn && a.state != TextLayered {
		return a.stateError("draw text")
	}

	alpha := 1.0
	if run.Transparent {
		alpha = 0
	}
	a.doc.SetAlpha(alpha, "Normal")
	a.doc.SetFont(a.family, "", run.FontSize)
	// fpdf measures y down from the top edge to the baseline
	a.doc.Text(run.Origin.X, a.geometry.ToImageY(run.Origin.Y), a.translate(run.Text))
	if a.doc.Err() {
		return errs.New(errs.IO, "draw text", a.doc.Error())
	}

	a.runs++
	a.state = TextLayered
	return nil
}

// DrawTexts draws runs in order, stopping at the first failure.
func (a *Assembler) DrawTexts(runs []layout.TextRun) error {
	for _, run := range runs {
		if err := a.DrawText(run); err != nil {
			return err
		}
	}
	return nil
}

// Finalize writes the document to w. A page with no text runs is valid.
// The Assembler cannot be used afterwards, even when writing fails.
func (a *Assembler) Finalize(w io.Writer) (err error) {
	if a.state != ImageDrawn && a.state != TextLayered {
		return a.stateError("finalize")
	}
	a.state = Finalized

	defer func() {
		if r := recover(); r != nil {
			err = errs.New(errs.IO, "write pdf", fmt.Errorf("%v", r))
		}
	}()
	if err := a.doc.Output(w); err != nil {
		return errs.New(errs.IO, "write pdf", err)
	}
	return nil
}

func (a *Assembler) stateError(op string) error {
	return errs.New(errs.AssemblyState, op, fmt.Errorf("assembler is %s", a.state))
}
