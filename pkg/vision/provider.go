// Package vision detects text with Google Cloud Vision document text detection.
package vision

import (
	"context"
	"fmt"
	"strings"
	"sync"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/lehigh-university-libraries/img2pdf/internal/utils"
	"github.com/lehigh-university-libraries/img2pdf/pkg/errs"
	"github.com/lehigh-university-libraries/img2pdf/pkg/orientation"
	"github.com/lehigh-university-libraries/img2pdf/pkg/providers"
	"google.golang.org/api/option"
)

// Provider implements the Google Cloud Vision detection engine. Credentials
// come from Application Default Credentials.
type Provider struct {
	opts []option.ClientOption

	once    sync.Once
	client  *vision.ImageAnnotatorClient
	initErr error
}

// New creates a new Google Cloud Vision provider. The API client is created on
// first use and shared by all later calls.
func New(opts ...option.ClientOption) *Provider {
	return &Provider{opts: opts}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "vision"
}

// ValidateConfig validates the Google Cloud Vision configuration
func (p *Provider) ValidateConfig(config providers.Config) error {
	for _, lang := range config.Languages {
		if strings.TrimSpace(lang) == "" {
			return fmt.Errorf("empty language hint in %v", config.Languages)
		}
	}
	return nil
}

func (p *Provider) annotator(ctx context.Context) (*vision.ImageAnnotatorClient, error) {
	p.once.Do(func() {
		// the client outlives the first request's context
		p.client, p.initErr = vision.NewImageAnnotatorClient(context.WithoutCancel(ctx), p.opts...)
	})
	return p.client, p.initErr
}

// Detect runs DOCUMENT_TEXT_DETECTION and returns paragraphs, or words when
// word granularity is requested.
func (p *Provider) Detect(ctx context.Context, img *orientation.PixelImage, config providers.Config) ([]providers.Detection, error) {
	client, err := p.annotator(ctx)
	if err != nil {
		return nil, errs.New(errs.Detection, "vision client", utils.MaskSensitiveError(err))
	}

	data, _, err := img.Bytes()
	if err != nil {
		return nil, errs.New(errs.Detection, "vision encode image", err)
	}

	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Content: data},
			Features: []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
			ImageContext: &visionpb.ImageContext{
				LanguageHints: config.Languages,
			},
		}},
	}
	resp, err := client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, errs.New(errs.Detection, "vision annotate", utils.MaskSensitiveError(err))
	}
	if len(resp.GetResponses()) == 0 {
		return nil, nil
	}
	res := resp.GetResponses()[0]
	if msg := res.GetError().GetMessage(); msg != "" {
		return nil, errs.New(errs.Detection, "vision annotate", fmt.Errorf("%s", msg))
	}

	return fromAnnotation(res.GetFullTextAnnotation(), config.Granularity)
}

// Close releases the API client.
func (p *Provider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

func fromAnnotation(ann *visionpb.TextAnnotation, granularity providers.Granularity) ([]providers.Detection, error) {
	var ds []providers.Detection
	add := func(poly *visionpb.BoundingPoly, text string, confidence float32) error {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil
		}
		d, err := providers.NewDetection(vertices(poly), text, float64(confidence))
		if err != nil {
			return err
		}
		ds = append(ds, d)
		return nil
	}

	for _, page := range ann.GetPages() {
		for _, block := range page.GetBlocks() {
			for _, para := range block.GetParagraphs() {
				if granularity == providers.GranularityWord {
					for _, word := range para.GetWords() {
						if err := add(word.GetBoundingBox(), wordText(word), word.GetConfidence()); err != nil {
							return nil, err
						}
					}
					continue
				}
				if err := add(para.GetBoundingBox(), paragraphText(para), para.GetConfidence()); err != nil {
					return nil, err
				}
			}
		}
	}
	return ds, nil
}

func vertices(poly *visionpb.BoundingPoly) []providers.Point {
	vs := poly.GetVertices()
	points := make([]providers.Point, 0, len(vs))
	for _, v := range vs {
		points = append(points, providers.Point{X: float64(v.GetX()), Y: float64(v.GetY())})
	}
	return points
}

func wordText(w *visionpb.Word) string {
	var b strings.Builder
	for _, s := range w.GetSymbols() {
		b.WriteString(s.GetText())
	}
	return b.String()
}

// paragraphText joins words using the breaks Vision detected after each symbol.
func paragraphText(p *visionpb.Paragraph) string {
	var b strings.Builder
	for _, w := range p.GetWords() {
		for _, s := range w.GetSymbols() {
			b.WriteString(s.GetText())
			switch s.GetProperty().GetDetectedBreak().GetType() {
			case visionpb.TextAnnotation_DetectedBreak_SPACE,
				visionpb.TextAnnotation_DetectedBreak_SURE_SPACE,
				visionpb.TextAnnotation_DetectedBreak_EOL_SURE_SPACE,
				visionpb.TextAnnotation_DetectedBreak_LINE_BREAK:
				b.WriteByte(' ')
			case visionpb.TextAnnotation_DetectedBreak_HYPHEN:
				b.WriteByte('-')
			}
		}
	}
	return b.String()
}
