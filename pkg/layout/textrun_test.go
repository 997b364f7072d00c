package layout

import (
	"math"
	"testing"

	"github.com/lehigh-university-libraries/img2pdf/pkg/providers"
)

func TestComposeInvoiceScenario(t *testing.T) {
	g := NewPageGeometry(800, 600)
	d := providers.Detection{
		Polygon:    providers.Polygon{{X: 100, Y: 50}, {X: 300, Y: 50}, {X: 300, Y: 90}, {X: 100, Y: 90}},
		Text:       "Invoice",
		Confidence: 0.98,
	}

	runs := Compose(g, Sort([]providers.Detection{d}), true)
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	run := runs[0]
	if run.Origin != (providers.Point{X: 100, Y: 510}) {
		t.Errorf("Origin = %+v, want (100, 510)", run.Origin)
	}
	if run.FontSize != 32 {
		t.Errorf("FontSize = %v, want 32", run.FontSize)
	}
	if !run.Transparent {
		t.Error("expected transparent run")
	}
	if run.Text != "Invoice" {
		t.Errorf("Text = %q", run.Text)
	}
}

func TestFontSize(t *testing.T) {
	tests := []struct {
		name      string
		boxHeight float64
		expected  float64
	}{
		{"degenerate box", 0, 8},
		{"small box hits floor", 5, 8},
		{"exactly at floor", 10, 8},
		{"scaled", 40, 32},
		{"large", 125, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FontSize(tt.boxHeight); got != tt.expected {
				t.Errorf("FontSize(%v) = %v, want %v", tt.boxHeight, got, tt.expected)
			}
		})
	}
}

func TestOriginMatchesBoxCorner(t *testing.T) {
	g := NewPageGeometry(1000, 700)
	boxes := []Box{
		{XMin: 0, YMin: 0, XMax: 10, YMax: 10},
		{XMin: 990, YMin: 690, XMax: 1000, YMax: 700},
		{XMin: 12.5, YMin: 33.25, XMax: 80, YMax: 41.75},
	}
	for _, b := range boxes {
		o := g.Origin(b)
		if o.X != b.XMin || o.Y != 700-b.YMax {
			t.Errorf("Origin(%+v) = %+v", b, o)
		}
		if g.ToImageY(o.Y) != b.YMax {
			t.Errorf("ToImageY(%v) = %v, want %v", o.Y, g.ToImageY(o.Y), b.YMax)
		}
	}
}

func TestComposeOutOfBoundsPolygon(t *testing.T) {
	g := NewPageGeometry(800, 600)
	d := providers.Detection{
		Polygon: providers.Polygon{{X: -300, Y: -80}, {X: -100, Y: -80}, {X: -100, Y: -40}, {X: -300, Y: -40}},
		Text:    "ghost",
	}

	runs := Compose(g, Sort([]providers.Detection{d}), true)
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	o := runs[0].Origin
	if math.IsNaN(o.X) || math.IsNaN(o.Y) || math.IsInf(o.X, 0) || math.IsInf(o.Y, 0) {
		t.Fatalf("origin is not finite: %+v", o)
	}
	if o.X != -300 || o.Y != 640 {
		t.Errorf("Origin = %+v, want as-computed (-300, 640)", o)
	}
	if runs[0].FontSize != 32 {
		t.Errorf("FontSize = %v, want 32", runs[0].FontSize)
	}
}

func TestComposeDegenerateAndBlank(t *testing.T) {
	g := NewPageGeometry(100, 100)
	ds := Sort([]providers.Detection{
		{Polygon: providers.RectPolygon(10, 20, 10, 20), Text: "dot"},
		{Polygon: providers.RectPolygon(10, 40, 50, 60), Text: " \n\t"},
		{Polygon: providers.RectPolygon(10, 70, 50, 80), Text: "two\nlines"},
	})

	runs := Compose(g, ds, false)
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].FontSize != MinimumFontSize {
		t.Errorf("degenerate box FontSize = %v", runs[0].FontSize)
	}
	if runs[1].Text != "two lines" {
		t.Errorf("multi-line text = %q", runs[1].Text)
	}
	if runs[1].Index != 2 {
		t.Errorf("Index = %d, want reading-order index 2", runs[1].Index)
	}
	if runs[0].Transparent {
		t.Error("expected visible runs")
	}
	for _, r := range runs {
		if r.FontSize < MinimumFontSize {
			t.Errorf("FontSize %v below minimum", r.FontSize)
		}
	}
}
