package pdf

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lehigh-university-libraries/img2pdf/pkg/errs"
	"github.com/lehigh-university-libraries/img2pdf/pkg/layout"
	"github.com/lehigh-university-libraries/img2pdf/pkg/orientation"
	"github.com/lehigh-university-libraries/img2pdf/pkg/providers"
)

func testImage(t *testing.T, w, h int, format string) *orientation.PixelImage {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}

	var buf bytes.Buffer
	var err error
	if format == "jpeg" {
		err = jpeg.Encode(&buf, img, nil)
	} else {
		err = png.Encode(&buf, img)
	}
	if err != nil {
		t.Fatalf("encode test image: %v", err)
	}

	p, err := orientation.Normalize(&buf)
	if err != nil {
		t.Fatalf("normalize test image: %v", err)
	}
	return p
}

func invoiceRun(t *testing.T) layout.TextRun {
	t.Helper()
	d := providers.Detection{
		Polygon: providers.Polygon{{X: 100, Y: 50}, {X: 300, Y: 50}, {X: 300, Y: 90}, {X: 100, Y: 90}},
		Text:    "Invoice",
	}
	runs := layout.Compose(layout.NewPageGeometry(800, 600), layout.Sort([]providers.Detection{d}), true)
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	return runs[0]
}

func TestStateMachine(t *testing.T) {
	run := layout.TextRun{Text: "x", FontSize: 8, Transparent: true}
	img := testImage(t, 20, 10, "png")

	tests := []struct {
		name string
		// steps run before the checked call
		setup func(t *testing.T, a *Assembler)
		call  func(a *Assembler) error
	}{
		{
			name:  "draw text before image",
			setup: func(*testing.T, *Assembler) {},
			call:  func(a *Assembler) error { return a.DrawText(run) },
		},
		{
			name:  "finalize empty document",
			setup: func(*testing.T, *Assembler) {},
			call:  func(a *Assembler) error { return a.Finalize(&bytes.Buffer{}) },
		},
		{
			name: "draw image twice",
			setup: func(t *testing.T, a *Assembler) {
				if err := a.DrawImage(img); err != nil {
					t.Fatalf("DrawImage: %v", err)
				}
			},
			call: func(a *Assembler) error { return a.DrawImage(img) },
		},
		{
			name: "draw image after text",
			setup: func(t *testing.T, a *Assembler) {
				if err := a.DrawImage(img); err != nil {
					t.Fatalf("DrawImage: %v", err)
				}
				if err := a.DrawText(run); err != nil {
					t.Fatalf("DrawText: %v", err)
				}
			},
			call: func(a *Assembler) error { return a.DrawImage(img) },
		},
		{
			name: "finalize twice",
			setup: func(t *testing.T, a *Assembler) {
				if err := a.DrawImage(img); err != nil {
					t.Fatalf("DrawImage: %v", err)
				}
				if err := a.Finalize(&bytes.Buffer{}); err != nil {
					t.Fatalf("Finalize: %v", err)
				}
			},
			call: func(a *Assembler) error { return a.Finalize(&bytes.Buffer{}) },
		},
		{
			name: "draw text after finalize",
			setup: func(t *testing.T, a *Assembler) {
				if err := a.DrawImage(img); err != nil {
					t.Fatalf("DrawImage: %v", err)
				}
				if err := a.Finalize(&bytes.Buffer{}); err != nil {
					t.Fatalf("Finalize: %v", err)
				}
			},
			call: func(a *Assembler) error { return a.DrawText(run) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New()
			tt.setup(t, a)
			err := tt.call(a)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, errs.AssemblyState) {
				t.Errorf("expected assembly state error, got %v", err)
			}
		})
	}
}

func TestAssembleInvoice(t *testing.T) {
	a := New()
	if a.State() != Empty {
		t.Fatalf("new assembler state = %s", a.State())
	}
	if a.FontFamily() != "GoRegular" {
		t.Errorf("FontFamily() = %q, want GoRegular", a.FontFamily())
	}

	if err := a.DrawImage(testImage(t, 800, 600, "png")); err != nil {
		t.Fatalf("DrawImage: %v", err)
	}
	if a.State() != ImageDrawn {
		t.Errorf("state = %s, want %s", a.State(), ImageDrawn)
	}
	if g := a.Geometry(); g.Width != 800 || g.Height != 600 {
		t.Errorf("Geometry() = %+v", g)
	}

	if err := a.DrawTexts([]layout.TextRun{invoiceRun(t)}); err != nil {
		t.Fatalf("DrawTexts: %v", err)
	}
	if a.State() != TextLayered || a.Runs() != 1 {
		t.Errorf("state = %s, runs = %d", a.State(), a.Runs())
	}

	var out bytes.Buffer
	if err := a.Finalize(&out); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if a.State() != Finalized {
		t.Errorf("state = %s, want %s", a.State(), Finalized)
	}
	if !bytes.HasPrefix(out.Bytes(), []byte("%PDF-")) {
		t.Errorf("output does not start with a PDF header: %q", out.Bytes()[:min(16, out.Len())])
	}
	if !bytes.Contains(out.Bytes(), []byte("/MediaBox [0 0 800.00 600.00]")) {
		t.Error("page is not sized to the image")
	}
}

func TestImageOnlyPage(t *testing.T) {
	for _, format := range []string{"png", "jpeg"} {
		t.Run(format, func(t *testing.T) {
			a := New()
			if err := a.DrawImage(testImage(t, 64, 48, format)); err != nil {
				t.Fatalf("DrawImage: %v", err)
			}
			var out bytes.Buffer
			if err := a.Finalize(&out); err != nil {
				t.Fatalf("Finalize: %v", err)
			}
			if !bytes.HasPrefix(out.Bytes(), []byte("%PDF-")) {
				t.Error("output is not a PDF")
			}
		})
	}
}

func TestFontFallback(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	a := New(
		WithLogger(logger),
		WithFont(Font{Family: "Broken", Data: []byte("definitely not a font")}),
		WithCompression(false),
	)
	if a.FontFamily() != fallbackFamily {
		t.Fatalf("FontFamily() = %q, want %q", a.FontFamily(), fallbackFamily)
	}
	if !strings.Contains(logs.String(), "font registration failed") {
		t.Errorf("expected a fallback warning, got logs %q", logs.String())
	}

	if err := a.DrawImage(testImage(t, 800, 600, "png")); err != nil {
		t.Fatalf("DrawImage: %v", err)
	}
	if err := a.DrawText(invoiceRun(t)); err != nil {
		t.Fatalf("DrawText with fallback font: %v", err)
	}
	var out bytes.Buffer
	if err := a.Finalize(&out); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte("(Invoice)")) {
		t.Error("text run missing from uncompressed content stream")
	}
}

func TestLoadFont(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.ttf")
	if err := os.WriteFile(garbage, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := LoadFont("")
	if err != nil || f.Family != "GoRegular" {
		t.Errorf("LoadFont(\"\") = %q, %v", f.Family, err)
	}

	for _, path := range []string{filepath.Join(dir, "missing.ttf"), garbage} {
		_, err := LoadFont(path)
		if errs.KindOf(err) != errs.FontResolution {
			t.Errorf("LoadFont(%s) error = %v, want font resolution", path, err)
		}
	}
}

func TestTextOutsideFontCoverage(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"emoji", "emoji 😀 ok", "emoji ? ok"},
		{"math digit", "Total 𝟓 €", "Total ? €"},
		{"greek", "λόγος", "λόγος"},
		{"tab", "a\tb", "a b"},
		{"invalid utf-8", "bad \xff byte", "bad ? byte"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
			if got := a.translate(tt.text); got != tt.want {
				t.Errorf("translate(%q) = %q, want %q", tt.text, got, tt.want)
			}

			if err := a.DrawImage(testImage(t, 40, 20, "png")); err != nil {
				t.Fatalf("DrawImage: %v", err)
			}
			run := layout.TextRun{Text: tt.text, FontSize: 8, Transparent: true}
			if err := a.DrawText(run); err != nil {
				t.Fatalf("DrawText: %v", err)
			}
			var out bytes.Buffer
			if err := a.Finalize(&out); err != nil {
				t.Fatalf("Finalize: %v", err)
			}
			if !bytes.HasPrefix(out.Bytes(), []byte("%PDF-")) {
				t.Error("output is not a PDF")
			}
		})
	}
}
