package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/img2pdf/internal/utils"
	"github.com/lehigh-university-libraries/img2pdf/pkg/errs"
	"github.com/lehigh-university-libraries/img2pdf/pkg/orientation"
	"github.com/lehigh-university-libraries/img2pdf/pkg/providers"
)

const (
	defaultPollInterval = time.Second
	defaultMaxPolls     = 30
	defaultTimeout      = 60 * time.Second
)

// Provider implements the Azure Computer Vision Read detection engine
type Provider struct {
	pollInterval time.Duration
	maxPolls     int
}

// New creates a new Azure provider
func New() *Provider {
	return &Provider{
		pollInterval: defaultPollInterval,
		maxPolls:     defaultMaxPolls,
	}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "azure"
}

// ValidateConfig validates the Azure configuration
func (p *Provider) ValidateConfig(config providers.Config) error {
	endpoint := os.Getenv("AZURE_OCR_ENDPOINT")
	apiKey := os.Getenv("AZURE_OCR_API_KEY")

	if endpoint == "" || apiKey == "" {
		return fmt.Errorf("AZURE_OCR_ENDPOINT and AZURE_OCR_API_KEY environment variables must be set")
	}
	return nil
}

// readResponse is the Read 3.2 operation result.
type readResponse struct {
	Status        string `json:"status"`
	AnalyzeResult struct {
		ReadResults []readResult `json:"readResults"`
	} `json:"analyzeResult"`
}

type readResult struct {
	Page   int        `json:"page"`
	Width  float64    `json:"width"`
	Height float64    `json:"height"`
	Unit   string     `json:"unit"`
	Lines  []readLine `json:"lines"`
}

type readLine struct {
	BoundingBox []float64  `json:"boundingBox"`
	Text        string     `json:"text"`
	Words       []readWord `json:"words"`
}

type readWord struct {
	BoundingBox []float64 `json:"boundingBox"`
	Text        string    `json:"text"`
	Confidence  float64   `json:"confidence"`
}

// Detect submits the image to the Read API, polls for the result and returns
// one detection per line, or per word when word granularity is requested.
func (p *Provider) Detect(ctx context.Context, img *orientation.PixelImage, config providers.Config) ([]providers.Detection, error) {
	endpoint := os.Getenv("AZURE_OCR_ENDPOINT")
	apiKey := os.Getenv("AZURE_OCR_API_KEY")

	if endpoint == "" || apiKey == "" {
		return nil, errs.New(errs.Detection, "azure", fmt.Errorf("AZURE_OCR_ENDPOINT and AZURE_OCR_API_KEY environment variables must be set"))
	}

	imageData, _, err := img.Bytes()
	if err != nil {
		return nil, errs.New(errs.Detection, "azure encode image", err)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &http.Client{Timeout: timeout}

	operationURL, err := p.submit(ctx, client, endpoint, apiKey, imageData, config.Languages)
	if err != nil {
		return nil, errs.New(errs.Detection, "azure submit", utils.MaskSensitiveError(err))
	}

	result, err := p.poll(ctx, client, operationURL, apiKey)
	if err != nil {
		return nil, errs.New(errs.Detection, "azure poll", utils.MaskSensitiveError(err))
	}

	ds, err := toDetections(result, config.Granularity)
	if err != nil {
		return nil, err
	}
	return ds, nil
}

func (p *Provider) submit(ctx context.Context, client *http.Client, endpoint, apiKey string, imageData []byte, langs []string) (string, error) {
	// Azure Computer Vision Read API 3.2 URL (more widely supported)
	readURL := fmt.Sprintf("%s/vision/v3.2/read/analyze", strings.TrimSuffix(endpoint, "/"))
	if lang := languageParam(langs); lang != "" {
		readURL += "?" + url.Values{"language": {lang}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, readURL, bytes.NewReader(imageData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("azure OCR API error: %d - %s", resp.StatusCode, providers.TruncateBody(body))
	}

	// Get the operation URL from the Operation-Location header
	operationURL := resp.Header.Get("Operation-Location")
	if operationURL == "" {
		return "", fmt.Errorf("no operation location returned from Azure OCR")
	}
	return operationURL, nil
}

func (p *Provider) poll(ctx context.Context, client *http.Client, operationURL, apiKey string) (*readResponse, error) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for attempts := 0; attempts < p.maxPolls; attempts++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		result, done, err := p.fetch(ctx, client, operationURL, apiKey)
		if err != nil {
			return nil, err
		}
		if done {
			return result, nil
		}
		// Continue polling if status is "running" or "notStarted"
	}

	return nil, fmt.Errorf("azure OCR operation timed out")
}

func (p *Provider) fetch(ctx context.Context, client *http.Client, operationURL, apiKey string) (*readResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, operationURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, false, nil
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, false, fmt.Errorf("azure OCR API error: %d - %s", resp.StatusCode, providers.TruncateBody(body))
	}

	var result readResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, false, fmt.Errorf("invalid response format from Azure OCR: %w", err)
	}

	switch result.Status {
	case "succeeded":
		return &result, true, nil
	case "failed":
		return nil, false, fmt.Errorf("azure OCR analysis failed")
	}
	return nil, false, nil
}

// toDetections converts Read lines (or their words) into detections. Bounding
// boxes are eight numbers: four x,y pairs clockwise from the top-left.
func toDetections(result *readResponse, granularity providers.Granularity) ([]providers.Detection, error) {
	var ds []providers.Detection
	for _, page := range result.AnalyzeResult.ReadResults {
		for _, line := range page.Lines {
			if granularity == providers.GranularityWord {
				for _, w := range line.Words {
					d, err := newDetection(w.BoundingBox, w.Text, w.Confidence)
					if err != nil {
						return nil, err
					}
					ds = append(ds, d)
				}
				continue
			}
			d, err := newDetection(line.BoundingBox, line.Text, lineConfidence(line))
			if err != nil {
				return nil, err
			}
			ds = append(ds, d)
		}
	}
	return ds, nil
}

func newDetection(box []float64, text string, confidence float64) (providers.Detection, error) {
	if len(box)%2 != 0 {
		return providers.Detection{}, errs.New(errs.Detection, "azure bounding box",
			fmt.Errorf("odd coordinate count %d for %q", len(box), text))
	}
	points := make([]providers.Point, 0, len(box)/2)
	for i := 0; i+1 < len(box); i += 2 {
		points = append(points, providers.Point{X: box[i], Y: box[i+1]})
	}
	return providers.NewDetection(points, text, confidence)
}

// lineConfidence is the mean word confidence. Read 3.2 does not score lines.
func lineConfidence(line readLine) float64 {
	if len(line.Words) == 0 {
		return 1
	}
	var sum float64
	for _, w := range line.Words {
		sum += w.Confidence
	}
	return sum / float64(len(line.Words))
}

// languageParam returns the Read language hint. The API takes two-letter
// codes; anything else is left to auto-detection.
func languageParam(langs []string) string {
	if len(langs) != 1 {
		return ""
	}
	lang := strings.ToLower(strings.TrimSpace(langs[0]))
	if len(lang) != 2 {
		return ""
	}
	return lang
}
