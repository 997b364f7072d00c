package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lehigh-university-libraries/img2pdf/internal/config"
	"github.com/lehigh-university-libraries/img2pdf/pkg/azure"
	"github.com/lehigh-university-libraries/img2pdf/pkg/orientation"
	"github.com/lehigh-university-libraries/img2pdf/pkg/pdf"
	"github.com/lehigh-university-libraries/img2pdf/pkg/pipeline"
	"github.com/lehigh-university-libraries/img2pdf/pkg/providers"
	"github.com/lehigh-university-libraries/img2pdf/pkg/tesseract"
	"github.com/lehigh-university-libraries/img2pdf/pkg/vision"
	"github.com/spf13/cobra"
)

// addPipelineFlags registers the flags shared by every command that runs
// the conversion pipeline. Unset flags leave the config file and env values.
func addPipelineFlags(c *cobra.Command) {
	f := c.Flags()
	f.String("engine", "", "Detection engine: tesseract, azure, vision")
	f.String("lang", "", "Languages, comma or plus separated (e.g. eng+deu)")
	f.String("granularity", "", "Report detections per line or per word")
	f.String("font", "", "TrueType font for the text layer (default Go Regular)")
	f.Float64("min-confidence", 0, "Drop detections below this confidence (0-1)")
	f.Duration("timeout", 0, "Per image engine timeout")
	f.String("tessdata", "", "Directory holding tesseract traineddata files")
	f.Bool("debug-image", false, "Also write <name>_detect.<ext> with the detections drawn on it")
	f.Bool("hocr", false, "Also write a <name>.hocr sidecar")
	f.Bool("visible-text", false, "Draw the text layer visibly, for checking alignment")
}

// loadConfig reads the config file and environment, applies any flags the
// user set on c, and validates the result.
func loadConfig(c *cobra.Command) (config.Config, error) {
	path, err := c.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Read(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := applyFlags(c, &cfg); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFlags(c *cobra.Command, cfg *config.Config) error {
	fs := c.Flags()
	changed := func(name string) bool {
		f := fs.Lookup(name)
		return f != nil && f.Changed
	}

	var err error
	if changed("engine") {
		if cfg.Engine, err = fs.GetString("engine"); err != nil {
			return err
		}
	}
	if changed("lang") {
		langs, err := fs.GetString("lang")
		if err != nil {
			return err
		}
		cfg.Languages = config.SplitList(langs)
	}
	if changed("granularity") {
		if cfg.Granularity, err = fs.GetString("granularity"); err != nil {
			return err
		}
	}
	if changed("font") {
		if cfg.Font, err = fs.GetString("font"); err != nil {
			return err
		}
	}
	if changed("min-confidence") {
		if cfg.MinConfidence, err = fs.GetFloat64("min-confidence"); err != nil {
			return err
		}
	}
	if changed("timeout") {
		if cfg.Timeout, err = fs.GetDuration("timeout"); err != nil {
			return err
		}
	}
	if changed("tessdata") {
		if cfg.TessdataPrefix, err = fs.GetString("tessdata"); err != nil {
			return err
		}
	}
	if changed("debug-image") {
		if cfg.DebugImage, err = fs.GetBool("debug-image"); err != nil {
			return err
		}
	}
	if changed("hocr") {
		if cfg.HOCR, err = fs.GetBool("hocr"); err != nil {
			return err
		}
	}
	if changed("visible-text") {
		if cfg.VisibleText, err = fs.GetBool("visible-text"); err != nil {
			return err
		}
	}
	if changed("output") {
		if cfg.Output, err = fs.GetString("output"); err != nil {
			return err
		}
	}
	if changed("workers") {
		if cfg.Workers, err = fs.GetInt("workers"); err != nil {
			return err
		}
	}
	return nil
}

func newRegistry(cfg config.Config) *providers.Registry {
	registry := providers.NewRegistry()
	registry.Register(tesseract.New(cfg.Workers))
	registry.Register(azure.New())
	registry.Register(vision.New())
	return registry
}

// newPipeline resolves the configured engine and builds a pipeline around it.
// Callers release the engine with providers.Close when the run is over.
func newPipeline(cfg config.Config, logger *slog.Logger) (*pipeline.Pipeline, providers.Provider, error) {
	provider, err := newRegistry(cfg).Get(cfg.Engine)
	if err != nil {
		return nil, nil, err
	}
	pc := cfg.ProviderConfig()
	if err := provider.ValidateConfig(pc); err != nil {
		return nil, nil, fmt.Errorf("%s configuration: %w", provider.Name(), err)
	}

	font, err := pdf.LoadFont(cfg.Font)
	if err != nil {
		logger.Warn("font not loaded, using default", "font", cfg.Font, "err", err)
		font = pdf.DefaultFont()
	}

	p := pipeline.New(provider, pc,
		pipeline.WithLogger(logger),
		pipeline.WithFont(font),
		pipeline.WithDebugImage(cfg.DebugImage),
		pipeline.WithHOCR(cfg.HOCR),
		pipeline.WithVisibleText(cfg.VisibleText),
	)
	return p, provider, nil
}

// collectInputs expands directories into the images they directly contain.
// Other paths are passed through untouched so that a missing file is
// reported by the orchestrator before any job starts.
func collectInputs(paths []string) ([]string, error) {
	var inputs []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			inputs = append(inputs, path)
			continue
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("read input directory %s: %w", path, err)
		}
		found := 0
		for _, e := range entries {
			if e.Type().IsRegular() && orientation.Supported(e.Name()) {
				inputs = append(inputs, filepath.Join(path, e.Name()))
				found++
			}
		}
		if found == 0 {
			slog.Warn("no images found in directory", "dir", path)
		}
	}
	return inputs, nil
}
