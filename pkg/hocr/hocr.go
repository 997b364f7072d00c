// Package hocr renders ordered detections as an hOCR sidecar document.
package hocr

import (
	"fmt"
	"html"
	"math"
	"strings"

	"github.com/lehigh-university-libraries/img2pdf/pkg/layout"
)

// Build returns an hOCR document with one ocr_line per detection, in reading
// order. Boxes are clipped to the page since hOCR bboxes are unsigned.
func Build(ds []layout.OrderedDetection, width, height int) string {
	var lines []string
	for _, d := range ds {
		text := strings.Join(strings.Fields(d.Text), " ")
		if text == "" {
			continue
		}
		box := layout.BoundingBox(d.Polygon)
		x0, y0 := clip(box.XMin, width), clip(box.YMin, height)
		x1, y1 := clip(box.XMax, width), clip(box.YMax, height)

		line := fmt.Sprintf(`<span class='ocr_line' id='line_%d' title='bbox %d %d %d %d; x_wconf %d'>%s</span>`,
			d.Index+1,
			x0, y0, x1, y1,
			int(math.Round(d.Confidence*100)),
			html.EscapeString(text))
		lines = append(lines, line)
	}

	return WrapInHOCRDocument(strings.Join(lines, "\n"), width, height)
}

// WrapInHOCRDocument wraps content in a complete hOCR HTML document
func WrapInHOCRDocument(content string, width, height int) string {
	return fmt.Sprintf(`<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Transitional//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-transitional.dtd">
<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="en" lang="en">
<head>
<title></title>
<meta http-equiv="Content-Type" content="text/html;charset=utf-8" />
<meta name='ocr-system' content='img2pdf' />
<meta name='ocr-capabilities' content='ocr_page ocr_line' />
</head>
<body>
<div class='ocr_page' id='page_1' title='bbox 0 0 %d %d'>
%s
</div>
</body>
</html>`, width, height, content)
}

func clip(v float64, limit int) int {
	return int(math.Round(math.Min(math.Max(v, 0), float64(limit))))
}
