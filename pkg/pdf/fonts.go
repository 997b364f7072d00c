package pdf

import (
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lehigh-university-libraries/img2pdf/pkg/errs"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
)

// fallbackFamily is a PDF core font: viewers always have it, so registering it
// cannot fail. It only covers cp1252.
const fallbackFamily = "Helvetica"

// missingGlyph replaces runes the registered font cannot draw.
const missingGlyph = '?'

// Font is a TrueType font registered with every document an Assembler builds.
type Font struct {
	Family string
	Data   []byte
}

// DefaultFont returns the embedded Go Regular font.
func DefaultFont() Font {
	return Font{Family: "GoRegular", Data: goregular.TTF}
}

// LoadFont reads and validates a TrueType font file. An empty path selects
// DefaultFont. Failures have kind errs.FontResolution; callers are expected to
// log them and continue with DefaultFont.
func LoadFont(path string) (Font, error) {
	if path == "" {
		return DefaultFont(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Font{}, errs.WithPath(errs.FontResolution, "read font", path, err)
	}
	if _, err := opentype.Parse(data); err != nil {
		return Font{}, errs.WithPath(errs.FontResolution, "parse font", path, err)
	}
	family := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Font{Family: family, Data: data}, nil
}

// coverage returns a text translator that keeps only runes f has a glyph for.
// fpdf's subsetter indexes a 16-bit table, so runes above the Basic
// Multilingual Plane are always replaced.
func coverage(f Font) (func(string) string, error) {
	parsed, err := opentype.Parse(f.Data)
	if err != nil {
		return nil, err
	}
	var buf sfnt.Buffer
	return func(s string) string {
		return strings.Map(func(r rune) rune {
			switch {
			case r > 0xFFFF, r == utf8.RuneError:
				return missingGlyph
			case unicode.IsSpace(r):
				return ' '
			}
			if gi, err := parsed.GlyphIndex(&buf, r); err != nil || gi == 0 {
				return missingGlyph
			}
			return r
		}, s)
	}, nil
}
