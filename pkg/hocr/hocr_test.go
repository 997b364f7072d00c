package hocr

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/lehigh-university-libraries/img2pdf/pkg/layout"
	"github.com/lehigh-university-libraries/img2pdf/pkg/providers"
)

func TestBuild(t *testing.T) {
	ds := layout.Sort([]providers.Detection{
		{Polygon: providers.RectPolygon(10, 60, 200, 90), Text: "Total <due> & paid", Confidence: 0.5},
		{Polygon: providers.RectPolygon(100, 50, 300, 90), Text: "Invoice", Confidence: 0.987},
		{Polygon: providers.RectPolygon(-20, 580, 900, 640), Text: "footer", Confidence: 1},
		{Polygon: providers.RectPolygon(0, 0, 5, 5), Text: "  ", Confidence: 1},
	})

	tests := []struct {
		name     string
		contains string
	}{
		{"first line in reading order", `id='line_2' title='bbox 100 50 300 90; x_wconf 99'>Invoice</span>`},
		{"escaped text", `id='line_3' title='bbox 10 60 200 90; x_wconf 50'>Total &lt;due&gt; &amp; paid</span>`},
		{"clipped box", `title='bbox 0 580 800 600; x_wconf 100'>footer`},
		{"page box", `title='bbox 0 0 800 600'`},
		{"doctype", "<!DOCTYPE html"},
		{"system", "content='img2pdf'"},
	}

	result := Build(ds, 800, 600)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(result, tt.contains) {
				t.Errorf("Build() missing %q in:\n%s", tt.contains, result)
			}
		})
	}

	if strings.Count(result, "class='ocr_line'") != 3 {
		t.Errorf("expected 3 lines, got %d", strings.Count(result, "class='ocr_line'"))
	}
	if strings.Index(result, ">Invoice<") > strings.Index(result, ">Total") {
		t.Error("lines are not in reading order")
	}
}

func TestBuildIsWellFormed(t *testing.T) {
	ds := layout.Sort([]providers.Detection{
		{Polygon: providers.RectPolygon(1, 1, 10, 10), Text: `a "quoted" <b> & 'x'`, Confidence: 1},
	})
	dec := xml.NewDecoder(strings.NewReader(Build(ds, 20, 20)))
	dec.Strict = false
	for {
		_, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			t.Fatalf("document is not well formed: %v", err)
		}
	}
}

func TestWrapInHOCRDocument(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty content", ""},
		{"simple content", "<span>test</span>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := WrapInHOCRDocument(tt.content, 10, 20)
			if !strings.Contains(result, "<!DOCTYPE html") {
				t.Errorf("WrapInHOCRDocument() missing DOCTYPE")
			}
			if !strings.Contains(result, tt.content) {
				t.Errorf("WrapInHOCRDocument() missing content")
			}
			if !strings.Contains(result, "ocr-system") {
				t.Errorf("WrapInHOCRDocument() missing ocr-system meta")
			}
		})
	}
}
