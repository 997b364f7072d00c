package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/img2pdf/pkg/orientation"
)

// Granularity selects whether engines report one detection per text line or per word.
type Granularity string

const (
	GranularityLine Granularity = "line"
	GranularityWord Granularity = "word"
)

// Config represents the configuration for a detection call
type Config struct {
	Provider      string
	Languages     []string
	Granularity   Granularity
	MinConfidence float64
	Timeout       time.Duration
	// TessdataPrefix points tesseract at its traineddata directory.
	TessdataPrefix string
}

// Provider is the boundary to an external text-detection engine. Detections
// come back in no particular order and may lie partly outside the image.
type Provider interface {
	// Detect runs the engine over a normalized image.
	Detect(ctx context.Context, img *orientation.PixelImage, config Config) ([]Detection, error)
	// Name returns the provider's name
	Name() string
	// ValidateConfig validates the provider-specific configuration
	ValidateConfig(config Config) error
}

// Closer is implemented by providers that hold engine state (models, clients)
// which should be released once a run is over.
type Closer interface {
	Close() error
}

// Close releases provider resources if the provider holds any.
func Close(p Provider) error {
	if c, ok := p.(Closer); ok {
		return c.Close()
	}
	return nil
}

// ParseGranularity maps a user supplied string onto a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(strings.ToLower(strings.TrimSpace(s))) {
	case "", GranularityLine:
		return GranularityLine, nil
	case GranularityWord:
		return GranularityWord, nil
	default:
		return "", fmt.Errorf("unknown granularity %q (want line or word)", s)
	}
}

// TruncateBody truncates a response body to a maximum length for error messages.
func TruncateBody(body []byte, maxLen ...int) string {
	limit := 500
	if len(maxLen) > 0 && maxLen[0] > 0 {
		limit = maxLen[0]
	}
	s := string(body)
	if len(s) > limit {
		return s[:limit] + "... (truncated)"
	}
	return s
}
