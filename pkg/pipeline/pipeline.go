// Package pipeline runs the per-image unit of work: normalize, detect, order,
// compose and assemble the searchable PDF, plus the optional debug image and
// hOCR sidecar.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lehigh-university-libraries/img2pdf/pkg/debugviz"
	"github.com/lehigh-university-libraries/img2pdf/pkg/errs"
	"github.com/lehigh-university-libraries/img2pdf/pkg/hocr"
	"github.com/lehigh-university-libraries/img2pdf/pkg/layout"
	"github.com/lehigh-university-libraries/img2pdf/pkg/orientation"
	"github.com/lehigh-university-libraries/img2pdf/pkg/pdf"
	"github.com/lehigh-university-libraries/img2pdf/pkg/providers"
)

// Pipeline converts images with one detection engine. Its settings are fixed
// at construction, so a Pipeline may be shared by concurrent jobs.
type Pipeline struct {
	provider    providers.Provider
	config      providers.Config
	font        pdf.Font
	debugImage  bool
	hocr        bool
	transparent bool
	logger      *slog.Logger
	viz         *debugviz.Renderer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger for stage and fallback messages.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithFont sets the text-layer font.
func WithFont(f pdf.Font) Option {
	return func(p *Pipeline) {
		p.font = f
	}
}

// WithDebugImage enables writing <base>_detect<ext> next to each PDF.
func WithDebugImage(on bool) Option {
	return func(p *Pipeline) {
		p.debugImage = on
	}
}

// WithHOCR enables writing a <base>.hocr sidecar next to each PDF.
func WithHOCR(on bool) Option {
	return func(p *Pipeline) {
		p.hocr = on
	}
}

// WithVisibleText draws the text layer opaquely, for checking alignment.
func WithVisibleText(on bool) Option {
	return func(p *Pipeline) {
		p.transparent = !on
	}
}

// New returns a Pipeline that detects text with provider.
func New(provider providers.Provider, config providers.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		provider:    provider,
		config:      config,
		font:        pdf.DefaultFont(),
		transparent: true,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.debugImage {
		p.viz = debugviz.New(p.logger)
	}
	return p
}

// WithJobLogger returns a copy of p that logs to l.
func (p *Pipeline) WithJobLogger(l *slog.Logger) *Pipeline {
	c := *p
	if l != nil {
		c.logger = l
	}
	return &c
}

// Page is an analyzed image ready to be assembled.
type Page struct {
	Image      *orientation.PixelImage   `json:"-"`
	Geometry   layout.PageGeometry       `json:"page"`
	Detections []layout.OrderedDetection `json:"detections"`
	Runs       []layout.TextRun          `json:"runs"`
	Text       string                    `json:"text"`
}

// Result lists what Convert wrote.
type Result struct {
	Input      string `json:"input" yaml:"input"`
	PDF        string `json:"pdf" yaml:"pdf"`
	DebugImage string `json:"debug_image,omitempty" yaml:"debug_image,omitempty"`
	HOCR       string `json:"hocr,omitempty" yaml:"hocr,omitempty"`
	Detections int    `json:"detections" yaml:"detections"`
	Runs       int    `json:"runs" yaml:"runs"`
}

// Analyze detects text in a normalized image and lays it out in reading order.
// A positive config Timeout bounds the engine call.
func (p *Pipeline) Analyze(ctx context.Context, img *orientation.PixelImage) (*Page, error) {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}
	ds, err := p.provider.Detect(ctx, img, p.config)
	if err != nil {
		if errs.KindOf(err) == errs.Unknown {
			err = errs.New(errs.Detection, "detect "+p.provider.Name(), err)
		}
		return nil, err
	}
	detected := len(ds)
	ds = providers.FilterConfidence(ds, p.config.MinConfidence)

	g := layout.NewPageGeometry(img.Width, img.Height)
	ordered := layout.Sort(ds)
	runs := layout.Compose(g, ordered, p.transparent)

	p.logger.Debug("detected text",
		"provider", p.provider.Name(),
		"detections", detected,
		"kept", len(ds),
		"runs", len(runs))

	return &Page{
		Image:      img,
		Geometry:   g,
		Detections: ordered,
		Runs:       runs,
		Text:       layout.Text(ordered),
	}, nil
}

// Assemble writes the single-page PDF for page to w.
func (p *Pipeline) Assemble(page *Page, w io.Writer) error {
	a := pdf.New(pdf.WithLogger(p.logger), pdf.WithFont(p.font))
	if err := a.DrawImage(page.Image); err != nil {
		return err
	}
	if err := a.DrawTexts(page.Runs); err != nil {
		return err
	}
	return a.Finalize(w)
}

// Render converts one image held in memory, writing the PDF to w.
func (p *Pipeline) Render(ctx context.Context, r io.Reader, w io.Writer) (*Page, error) {
	img, err := orientation.Normalize(r)
	if err != nil {
		return nil, err
	}
	page, err := p.Analyze(ctx, img)
	if err != nil {
		return nil, err
	}
	if err := p.Assemble(page, w); err != nil {
		return nil, err
	}
	return page, nil
}

// Convert runs one job: it reads inputPath and writes <base>.pdf (and the
// enabled sidecars) into outputDir. The input file is never modified. A debug
// image failure is logged and does not fail the job.
func (p *Pipeline) Convert(ctx context.Context, inputPath, outputDir string) (*Result, error) {
	img, err := orientation.Load(inputPath)
	if err != nil {
		return nil, err
	}
	page, err := p.Analyze(ctx, img)
	if err != nil {
		return nil, err
	}

	base := BaseName(inputPath)
	res := &Result{
		Input:      inputPath,
		PDF:        filepath.Join(outputDir, base+".pdf"),
		Detections: len(page.Detections),
		Runs:       len(page.Runs),
	}

	var doc bytes.Buffer
	if err := p.Assemble(page, &doc); err != nil {
		return nil, err
	}
	if err := writeAtomic(res.PDF, doc.Bytes()); err != nil {
		return nil, err
	}

	if p.hocr {
		res.HOCR = filepath.Join(outputDir, base+".hocr")
		content := hocr.Build(page.Detections, img.Width, img.Height)
		if err := writeAtomic(res.HOCR, []byte(content)); err != nil {
			return nil, err
		}
	}

	if p.debugImage {
		path := filepath.Join(outputDir, debugviz.OutputName(inputPath))
		if err := p.writeDebugImage(page, path); err != nil {
			p.logger.Warn("debug image not written", "image", inputPath, "err", err)
		} else {
			res.DebugImage = path
		}
	}

	p.logger.Info("converted image",
		"image", inputPath,
		"pdf", res.PDF,
		"detections", res.Detections,
		"orientation", img.Orientation)
	return res, nil
}

func (p *Pipeline) writeDebugImage(page *Page, path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render debug image: %v", r)
		}
	}()
	viz := p.viz
	if viz == nil {
		viz = debugviz.New(p.logger)
	}
	return debugviz.Save(viz.Render(page.Image, page.Detections), path)
}

// BaseName returns the input file name without directory or extension.
func BaseName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// writeAtomic writes data to a temporary file in the target directory and
// renames it into place, so readers never see a partial document.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errs.WithPath(errs.IO, "create output", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.WithPath(errs.IO, "write output", path, err)
	}
	if err := tmp.Close(); err != nil {
		return errs.WithPath(errs.IO, "write output", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return errs.WithPath(errs.IO, "write output", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errs.WithPath(errs.IO, "rename output", path, err)
	}
	return nil
}
