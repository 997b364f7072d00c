package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/lehigh-university-libraries/img2pdf/pkg/errs"
	"github.com/lehigh-university-libraries/img2pdf/pkg/orientation"
	"github.com/lehigh-university-libraries/img2pdf/pkg/pipeline"
	"github.com/lehigh-university-libraries/img2pdf/pkg/providers"
	"github.com/spf13/cobra"
)

const defaultMaxUpload = 50 << 20

var (
	servePort      string
	serveHost      string
	serveMaxUpload int64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the conversion pipeline over HTTP",
	Long: `Start an HTTP server exposing the conversion pipeline.

  POST /api/convert  multipart "image" field, responds with the PDF
  POST /api/detect   multipart "image" field, responds with the ordered
                     detections, text runs and extracted text as JSON
  GET  /healthz      liveness check`,
	RunE: runServe,
}

func init() {
	RootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&servePort, "port", "8888", "Port to run the web server on")
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "Host to bind the web server to")
	serveCmd.Flags().Int64Var(&serveMaxUpload, "max-upload", defaultMaxUpload, "Largest accepted upload in bytes")
	addPipelineFlags(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	p, provider, err := newPipeline(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer providers.Close(provider)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort(serveHost, servePort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           newServer(p, slog.Default(), serveMaxUpload).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("img2pdf server listening", "url", fmt.Sprintf("http://%s", addr), "engine", provider.Name())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// renderer is the part of the pipeline the server uses.
type renderer interface {
	Analyze(ctx context.Context, img *orientation.PixelImage) (*pipeline.Page, error)
	Render(ctx context.Context, r io.Reader, w io.Writer) (*pipeline.Page, error)
}

type server struct {
	pipeline  renderer
	logger    *slog.Logger
	maxUpload int64
}

func newServer(p renderer, logger *slog.Logger, maxUpload int64) *server {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &server{pipeline: p, logger: logger, maxUpload: maxUpload}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/convert", s.handleConvert)
	mux.HandleFunc("POST /api/detect", s.handleDetect)
	mux.HandleFunc("GET /healthz", handleHealth)
	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *server) handleConvert(w http.ResponseWriter, r *http.Request) {
	file, name, ok := s.upload(w, r)
	if !ok {
		return
	}
	defer file.Close()
	defer r.MultipartForm.RemoveAll()

	var doc bytes.Buffer
	page, err := s.pipeline.Render(r.Context(), file, &doc)
	if err != nil {
		s.fail(w, name, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, pipeline.BaseName(name)+".pdf"))
	w.Header().Set("Content-Length", strconv.Itoa(doc.Len()))
	w.Header().Set("X-Detections", strconv.Itoa(len(page.Detections)))
	if _, err := w.Write(doc.Bytes()); err != nil {
		s.logger.Warn("write response", "image", name, "err", err)
	}
}

func (s *server) handleDetect(w http.ResponseWriter, r *http.Request) {
	file, name, ok := s.upload(w, r)
	if !ok {
		return
	}
	defer file.Close()
	defer r.MultipartForm.RemoveAll()

	img, err := orientation.Normalize(file)
	if err != nil {
		s.fail(w, name, err)
		return
	}
	page, err := s.pipeline.Analyze(r.Context(), img)
	if err != nil {
		s.fail(w, name, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(page)
}

// upload reads the "image" form field (or "file", as a fallback). On failure
// it has already written the error response.
func (s *server) upload(w http.ResponseWriter, r *http.Request) (multipart.File, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		respondWithError(w, "Failed to read upload: "+err.Error(), status)
		return nil, "", false
	}

	file, header, err := formImage(r)
	if err != nil {
		r.MultipartForm.RemoveAll()
		respondWithError(w, "Failed to read file: "+err.Error(), http.StatusBadRequest)
		return nil, "", false
	}
	return file, header.Filename, true
}

func formImage(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	file, header, err := r.FormFile("image")
	if err == nil {
		return file, header, nil
	}
	return r.FormFile("file")
}

func (s *server) fail(w http.ResponseWriter, name string, err error) {
	status := statusFor(err)
	s.logger.Error("request failed", "image", name, "kind", errs.KindOf(err), "status", status, "err", err)
	respondWithError(w, err.Error(), status)
}

func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.Decode:
		return http.StatusUnprocessableEntity
	case errs.Detection:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondWithError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{
		"error": message,
	}
	json.NewEncoder(w).Encode(response)
}
