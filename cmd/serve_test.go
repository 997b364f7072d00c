package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lehigh-university-libraries/img2pdf/pkg/layout"
	"github.com/lehigh-university-libraries/img2pdf/pkg/pipeline"
	"github.com/lehigh-university-libraries/img2pdf/pkg/providers"
)

func uploadBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &body, mw.FormDataContentType()
}

func newTestServer(t *testing.T, provider *fakeProvider, maxUpload int64) *httptest.Server {
	t.Helper()
	p := pipeline.New(provider, providers.Config{}, pipeline.WithLogger(quietLogger()))
	ts := httptest.NewServer(newServer(p, quietLogger(), maxUpload).routes())
	t.Cleanup(ts.Close)
	return ts
}

func TestHandleConvert(t *testing.T) {
	ts := newTestServer(t, &fakeProvider{detections: pageDetections()}, 0)

	body, contentType := uploadBody(t, "image", "scan.png", pngBytes(t, 200, 100))
	resp, err := http.Post(ts.URL+"/api/convert", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %s", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, `"scan.pdf"`) {
		t.Errorf("Content-Disposition = %s", cd)
	}
	if n := resp.Header.Get("X-Detections"); n != "2" {
		t.Errorf("X-Detections = %s", n)
	}
	var doc bytes.Buffer
	if _, err := doc.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(doc.Bytes(), []byte("%PDF-")) {
		t.Error("response is not a PDF")
	}
}

func TestHandleDetect(t *testing.T) {
	ts := newTestServer(t, &fakeProvider{detections: pageDetections()}, 0)

	// "file" is accepted as well as "image"
	body, contentType := uploadBody(t, "file", "scan.png", pngBytes(t, 200, 100))
	resp, err := http.Post(ts.URL+"/api/detect", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var page struct {
		Page       layout.PageGeometry `json:"page"`
		Text       string              `json:"text"`
		Runs       []layout.TextRun    `json:"runs"`
		Detections []struct {
			Text  string `json:"text"`
			Index int    `json:"index"`
		} `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatal(err)
	}
	if page.Page.Width != 200 || page.Page.Height != 100 {
		t.Errorf("page = %+v", page.Page)
	}
	if page.Text != "the quick\nbrown fox" {
		t.Errorf("text = %q", page.Text)
	}
	if len(page.Detections) != 2 || page.Detections[0].Text != "the quick" || page.Detections[1].Index != 1 {
		t.Errorf("detections = %+v", page.Detections)
	}
	// "the quick" spans y 10..30 on a 100px page
	if len(page.Runs) != 2 || page.Runs[0].Origin != (providers.Point{X: 10, Y: 70}) || page.Runs[0].FontSize != 16 {
		t.Errorf("runs = %+v", page.Runs)
	}
}

func TestServeErrors(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		path      string
		field     string
		data      []byte
		provider  *fakeProvider
		maxUpload int64
		status    int
	}{
		{"corrupt image", http.MethodPost, "/api/convert", "image", []byte("not an image"), &fakeProvider{}, 0, http.StatusUnprocessableEntity},
		{"engine failure", http.MethodPost, "/api/detect", "image", nil, &fakeProvider{err: errors.New("engine down")}, 0, http.StatusBadGateway},
		{"wrong field", http.MethodPost, "/api/convert", "upload", nil, &fakeProvider{}, 0, http.StatusBadRequest},
		{"upload too large", http.MethodPost, "/api/convert", "image", nil, &fakeProvider{}, 64, http.StatusRequestEntityTooLarge},
		{"wrong method", http.MethodGet, "/api/convert", "", nil, &fakeProvider{}, 0, http.StatusMethodNotAllowed},
		{"health", http.MethodGet, "/healthz", "", nil, &fakeProvider{}, 0, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.provider, tt.maxUpload)

			var req *http.Request
			var err error
			if tt.field != "" {
				data := tt.data
				if data == nil {
					data = pngBytes(t, 40, 20)
				}
				body, contentType := uploadBody(t, tt.field, "x.png", data)
				req, err = http.NewRequest(tt.method, ts.URL+tt.path, body)
				if err == nil {
					req.Header.Set("Content-Type", contentType)
				}
			} else {
				req, err = http.NewRequest(tt.method, ts.URL+tt.path, nil)
			}
			if err != nil {
				t.Fatal(err)
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.status >= 400 && tt.status != http.StatusMethodNotAllowed {
				var e map[string]string
				if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e["error"] == "" {
					t.Errorf("expected a JSON error body, got %v (%v)", e, err)
				}
			}
		})
	}
}
