// Package config loads run settings from defaults, an optional YAML file and
// the environment, in increasing order of precedence. Command flags are
// applied on top by the cmd package.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/img2pdf/pkg/providers"
	"go.yaml.in/yaml/v3"
)

// Config holds the settings for a conversion run
type Config struct {
	Engine         string        `yaml:"engine"`
	Languages      []string      `yaml:"languages"`
	Granularity    string        `yaml:"granularity"`
	Workers        int           `yaml:"workers"`
	Output         string        `yaml:"output"`
	DebugImage     bool          `yaml:"debug_image"`
	HOCR           bool          `yaml:"hocr"`
	VisibleText    bool          `yaml:"visible_text"`
	Timeout        time.Duration `yaml:"timeout"`
	MinConfidence  float64       `yaml:"min_confidence"`
	Font           string        `yaml:"font"`
	TessdataPrefix string        `yaml:"tessdata_prefix"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Engine:      "tesseract",
		Languages:   []string{"eng"},
		Granularity: string(providers.GranularityLine),
		Workers:     runtime.NumCPU(),
		Output:      "./output",
		Timeout:     2 * time.Minute,
	}
}

// Read returns the defaults overlaid with the YAML file at path (if path is
// not empty) and then with environment variables. The result is not
// validated, so callers can apply further overrides first.
func Read(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	return cfg.WithEnv(os.Getenv)
}

// WithEnv returns c with the IMG2PDF_* and TESSDATA_PREFIX variables applied.
func (c Config) WithEnv(getenv func(string) string) (Config, error) {
	if v := getenv("IMG2PDF_ENGINE"); v != "" {
		c.Engine = v
	}
	if v := getenv("IMG2PDF_LANGUAGES"); v != "" {
		c.Languages = SplitList(v)
	}
	if v := getenv("IMG2PDF_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("IMG2PDF_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := getenv("IMG2PDF_OUTPUT"); v != "" {
		c.Output = v
	}
	if v := getenv("IMG2PDF_FONT"); v != "" {
		c.Font = v
	}
	if v := getenv("TESSDATA_PREFIX"); v != "" {
		c.TessdataPrefix = v
	}
	return c, nil
}

// Validate checks that the settings can drive a run.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Engine) == "" {
		errs = append(errs, errors.New("engine must be set"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("min_confidence must be within [0,1], got %v", c.MinConfidence))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}
	if _, err := providers.ParseGranularity(c.Granularity); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ProviderConfig returns the detection settings for the configured engine.
func (c Config) ProviderConfig() providers.Config {
	g, err := providers.ParseGranularity(c.Granularity)
	if err != nil {
		g = providers.GranularityLine
	}
	return providers.Config{
		Provider:       c.Engine,
		Languages:      c.Languages,
		Granularity:    g,
		MinConfidence:  c.MinConfidence,
		Timeout:        c.Timeout,
		TessdataPrefix: c.TessdataPrefix,
	}
}

// SplitList splits a comma or plus separated list, dropping blanks. Tesseract
// style "eng+deu" and "eng,deu" are both accepted.
func SplitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '+' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
