// Package orientation decodes raw image bytes into a canonical pixel buffer
// with any EXIF rotation or mirroring already applied.
package orientation

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lehigh-university-libraries/img2pdf/pkg/errs"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// EXIF orientation tag values.
const (
	Normal      = 1
	FlipH       = 2
	Rotate180   = 3
	FlipV       = 4
	Transpose   = 5
	Rotate270   = 6
	Transverse  = 7
	Rotate90    = 8
	maxExifRead = 1 << 20
)

// Extensions lists the file extensions of the formats Normalize decodes.
var Extensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp"}

// Supported reports whether path has the extension of a decodable format.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// PixelImage is a decoded, orientation-corrected image. It is read-only once
// returned by Normalize and may be shared between goroutines.
type PixelImage struct {
	Image  *image.NRGBA
	Width  int
	Height int
	// Format is the decoder name of the source ("jpeg", "png", "gif", "bmp", "tiff", "webp").
	Format string
	// Orientation is the EXIF orientation that was applied while normalizing.
	Orientation int

	source []byte
}

// Load reads and normalizes the image stored at path. The file is never written.
func Load(path string) (*PixelImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.WithPath(errs.IO, "read image", path, err)
	}
	img, err := decode(data)
	if err != nil {
		return nil, errs.WithPath(errs.Decode, "decode image", path, err)
	}
	return img, nil
}

// Normalize decodes r and applies its EXIF orientation. Normalizing the PNG
// encoding of a normalized image yields identical pixels.
func Normalize(r io.Reader) (*PixelImage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.New(errs.IO, "read image", err)
	}
	img, err := decode(data)
	if err != nil {
		return nil, errs.New(errs.Decode, "decode image", err)
	}
	return img, nil
}

func decode(data []byte) (*PixelImage, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if src.Bounds().Empty() {
		return nil, fmt.Errorf("image has no pixels")
	}

	o := readOrientation(data)
	pix := Apply(src, o)

	return &PixelImage{
		Image:       pix,
		Width:       pix.Bounds().Dx(),
		Height:      pix.Bounds().Dy(),
		Format:      format,
		Orientation: o,
		source:      data,
	}, nil
}

// Apply returns a copy of img transformed according to an EXIF orientation
// value. Unknown values are treated as Normal.
func Apply(img image.Image, o int) *image.NRGBA {
	switch o {
	case FlipH:
		return imaging.FlipH(img)
	case Rotate180:
		return imaging.Rotate180(img)
	case FlipV:
		return imaging.FlipV(img)
	case Transpose:
		return imaging.Transpose(img)
	case Rotate270:
		return imaging.Rotate270(img)
	case Transverse:
		return imaging.Transverse(img)
	case Rotate90:
		return imaging.Rotate90(img)
	default:
		return imaging.Clone(img)
	}
}

// readOrientation returns the EXIF orientation of data, or Normal when the
// tag is missing or unreadable.
func readOrientation(data []byte) (o int) {
	o = Normal
	defer func() {
		// goexif can panic on truncated IFDs
		if recover() != nil {
			o = Normal
		}
	}()

	if len(data) > maxExifRead {
		data = data[:maxExifRead]
	}
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return Normal
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return Normal
	}
	v, err := tag.Int(0)
	if err != nil || v < Normal || v > Rotate90 {
		return Normal
	}
	return v
}

// PNG losslessly encodes the normalized pixels.
func (p *PixelImage) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, p.Image); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Bytes returns an encoding of the normalized pixels and its format name.
// JPEG sources that needed no transform are returned as-is to avoid a lossy
// re-encode; everything else is encoded as PNG.
func (p *PixelImage) Bytes() ([]byte, string, error) {
	if p.Format == "jpeg" && p.Orientation == Normal && len(p.source) > 0 {
		return p.source, "jpeg", nil
	}
	data, err := p.PNG()
	if err != nil {
		return nil, "", err
	}
	return data, "png", nil
}

// Clone returns a mutable copy of the pixels.
func (p *PixelImage) Clone() *image.NRGBA {
	return imaging.Clone(p.Image)
}
