// Package tesseract detects text with a local Tesseract install through gosseract.
package tesseract

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/lehigh-university-libraries/img2pdf/pkg/errs"
	"github.com/lehigh-university-libraries/img2pdf/pkg/orientation"
	"github.com/lehigh-university-libraries/img2pdf/pkg/providers"
	"github.com/otiai10/gosseract/v2"
)

const defaultPoolSize = 4

// Provider implements the Tesseract detection engine. Tesseract clients are
// expensive to initialize, so idle clients are kept per language set and
// reused across images.
type Provider struct {
	mu        sync.Mutex
	idle      map[string]chan *gosseract.Client
	poolSize  int
	newClient func() *gosseract.Client
}

// New creates a new Tesseract provider keeping up to poolSize idle clients
// per language set.
func New(poolSize int) *Provider {
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	return &Provider{
		idle:      make(map[string]chan *gosseract.Client),
		poolSize:  poolSize,
		newClient: gosseract.NewClient,
	}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "tesseract"
}

// ValidateConfig validates the Tesseract configuration
func (p *Provider) ValidateConfig(config providers.Config) error {
	for _, lang := range config.Languages {
		if strings.TrimSpace(lang) == "" {
			return fmt.Errorf("empty language code in %v", config.Languages)
		}
	}
	return nil
}

// Detect runs Tesseract over the image and returns line or word boxes.
func (p *Provider) Detect(ctx context.Context, img *orientation.PixelImage, config providers.Config) ([]providers.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.New(errs.Detection, "tesseract", err)
	}
	data, _, err := img.Bytes()
	if err != nil {
		return nil, errs.New(errs.Detection, "tesseract encode image", err)
	}

	langs := languages(config)
	key := poolKey(langs, config.TessdataPrefix)
	client, err := p.acquire(key, langs, config.TessdataPrefix)
	if err != nil {
		return nil, errs.New(errs.Detection, "tesseract init", err)
	}

	done := make(chan recognition, 1)
	go func() {
		boxes, err := recognize(client, data, level(config.Granularity))
		done <- recognition{boxes, err}
	}()

	var res recognition
	select {
	case <-ctx.Done():
		// tesseract cannot be interrupted; the busy client is closed once it returns
		go func() {
			<-done
			client.Close()
		}()
		return nil, errs.New(errs.Detection, "tesseract", ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		// a client that failed mid-recognition is not returned to the pool
		client.Close()
		return nil, errs.New(errs.Detection, "tesseract recognize", res.err)
	}
	p.release(key, client)

	return toDetections(res.boxes)
}

type recognition struct {
	boxes []gosseract.BoundingBox
	err   error
}

func recognize(c *gosseract.Client, data []byte, lvl gosseract.PageIteratorLevel) ([]gosseract.BoundingBox, error) {
	if err := c.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	boxes, err := c.GetBoundingBoxes(lvl)
	if err != nil {
		return nil, fmt.Errorf("bounding boxes: %w", err)
	}
	return boxes, nil
}

func toDetections(boxes []gosseract.BoundingBox) ([]providers.Detection, error) {
	ds := make([]providers.Detection, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		d, err := providers.NewDetection(rectPoints(b.Box), text, b.Confidence/100.0)
		if err != nil {
			return nil, err
		}
		ds = append(ds, d)
	}
	return ds, nil
}

func rectPoints(r image.Rectangle) []providers.Point {
	poly := providers.RectPolygon(float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y))
	return poly[:]
}

func level(g providers.Granularity) gosseract.PageIteratorLevel {
	if g == providers.GranularityWord {
		return gosseract.RIL_WORD
	}
	return gosseract.RIL_TEXTLINE
}

func languages(config providers.Config) []string {
	if len(config.Languages) == 0 {
		return []string{"eng"}
	}
	return config.Languages
}

func poolKey(langs []string, prefix string) string {
	return strings.Join(langs, "+") + "|" + prefix
}

func (p *Provider) pool(key string) chan *gosseract.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.idle[key]
	if !ok {
		ch = make(chan *gosseract.Client, p.poolSize)
		p.idle[key] = ch
	}
	return ch
}

func (p *Provider) acquire(key string, langs []string, prefix string) (*gosseract.Client, error) {
	select {
	case c := <-p.pool(key):
		return c, nil
	default:
	}

	c := p.newClient()
	if prefix != "" {
		c.SetTessdataPrefix(prefix)
	}
	if err := c.SetLanguage(langs...); err != nil {
		c.Close()
		return nil, fmt.Errorf("set languages %v: %w", langs, err)
	}
	return c, nil
}

func (p *Provider) release(key string, c *gosseract.Client) {
	select {
	case p.pool(key) <- c:
	default:
		c.Close()
	}
}

// Close releases all idle clients.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, ch := range p.idle {
	drain:
		for {
			select {
			case c := <-ch:
				c.Close()
			default:
				break drain
			}
		}
		delete(p.idle, key)
	}
	return nil
}
