package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/img2pdf/pkg/eval"
	"github.com/lehigh-university-libraries/img2pdf/pkg/orientation"
	"github.com/lehigh-university-libraries/img2pdf/pkg/pipeline"
	"github.com/lehigh-university-libraries/img2pdf/pkg/providers"
	"github.com/spf13/cobra"
	yaml "go.yaml.in/yaml/v3"
)

type EvalConfig struct {
	Engine      string   `yaml:"engine"`
	Languages   []string `yaml:"languages"`
	Granularity string   `yaml:"granularity"`
	CSVPath     string   `yaml:"csv_path"`
	Dir         string   `yaml:"dir"`
	TestRows    []int    `yaml:"rows"`
	Timestamp   string   `yaml:"timestamp"`
}

type EvalResult struct {
	Identifier     string       `yaml:"identifier"`
	ImagePath      string       `yaml:"image_path"`
	TranscriptPath string       `yaml:"transcript_path"`
	Detections     int          `yaml:"detections"`
	Extracted      string       `yaml:"extracted"`
	Metrics        eval.Metrics `yaml:",inline"`
}

type EvalSummary struct {
	Config  EvalConfig   `yaml:"config"`
	Average eval.Metrics `yaml:"average"`
	Results []EvalResult `yaml:"results"`
}

// analyzer is the part of the pipeline eval needs: detection and reading order.
type analyzer interface {
	Analyze(ctx context.Context, img *orientation.PixelImage) (*pipeline.Page, error)
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score extracted reading order text against ground truth transcripts",
	Long: `Score the text layer an engine would produce against ground truth transcripts.

The CSV has two columns, image and transcript, with an optional header row.
Transcripts may be local paths or http(s) URLs. Each image is detected and
put in reading order exactly as convert would, and the joined text is compared
with the transcript. Results are saved as YAML under evals/.

Pass --rerun with a previous result file to repeat it with the same settings.`,
	Example: `  img2pdf eval --csv fixtures/pages.csv --dir fixtures --engine tesseract`,
	RunE:    runEval,
}

var (
	evalCSVPath string
	evalRerun   string
	dir         string
	rows        []int
)

func init() {
	RootCmd.AddCommand(evalCmd)

	evalCmd.Flags().StringVarP(&evalCSVPath, "csv", "c", "", "Path to CSV file with evaluation data")
	evalCmd.Flags().StringVar(&evalRerun, "rerun", "", "Path to previous evaluation result file to rerun")
	evalCmd.Flags().StringVar(&dir, "dir", "./", "Prepend your CSV file paths with a directory")
	evalCmd.Flags().IntSliceVar(&rows, "rows", []int{}, "A list of row numbers to run the test on")
	addPipelineFlags(evalCmd)

	evalCmd.MarkFlagsOneRequired("csv", "rerun")
	evalCmd.MarkFlagsMutuallyExclusive("csv", "rerun")
}

func runEval(cmd *cobra.Command, args []string) error {
	var config EvalConfig
	if evalRerun != "" {
		previous, err := loadEvalConfig(evalRerun)
		if err != nil {
			return fmt.Errorf("failed to load previous evaluation: %w", err)
		}
		config = previous
		for _, kv := range [][2]string{{"engine", config.Engine}, {"lang", strings.Join(config.Languages, ",")}, {"granularity", config.Granularity}} {
			if !cmd.Flags().Changed(kv[0]) && kv[1] != "" {
				if err := cmd.Flags().Set(kv[0], kv[1]); err != nil {
					return err
				}
			}
		}
		fmt.Printf("Loaded configuration from %s\n", evalRerun)
	} else {
		config = EvalConfig{CSVPath: evalCSVPath, Dir: dir}
	}
	if cmd.Flags().Changed("rows") {
		config.TestRows = rows
	}
	if cmd.Flags().Changed("dir") || config.Dir == "" {
		config.Dir = dir
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	config.Engine = cfg.Engine
	config.Languages = cfg.Languages
	config.Granularity = cfg.Granularity
	config.Timestamp = time.Now().Format("2006-01-02_15-04-05")

	p, provider, err := newPipeline(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer providers.Close(provider)

	evalsDir := "evals"
	if err := os.MkdirAll(evalsDir, 0755); err != nil {
		return fmt.Errorf("failed to create evals directory: %w", err)
	}

	results, err := processEvaluation(cmd.Context(), p, config)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	summary := EvalSummary{
		Config:  config,
		Average: averageMetrics(results),
		Results: results,
	}

	outputPath := filepath.Join(evalsDir, fmt.Sprintf("eval_%s.yaml", config.Timestamp))
	if err := saveEvalResults(summary, outputPath); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}

	fmt.Printf("\nEvaluation completed. Results saved to: %s\n", outputPath)
	printSummaryStats(cmd.OutOrStdout(), results)

	return nil
}

func loadEvalConfig(configPath string) (EvalConfig, error) {
	var summary EvalSummary

	data, err := os.ReadFile(configPath)
	if err != nil {
		return EvalConfig{}, err
	}

	if err := yaml.Unmarshal(data, &summary); err != nil {
		return EvalConfig{}, err
	}

	return summary.Config, nil
}

func processEvaluation(ctx context.Context, a analyzer, config EvalConfig) ([]EvalResult, error) {
	file, err := os.Open(config.CSVPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("CSV file is empty")
	}

	// Skip header row if present
	dataRows := records
	if len(records[0]) > 0 && strings.EqualFold(strings.TrimSpace(records[0][0]), "image") {
		dataRows = records[1:]
	}

	var results []EvalResult
	for i, row := range dataRows {
		if len(config.TestRows) > 0 && !slices.Contains(config.TestRows, i) {
			slog.Debug("Skipping row", "row", i+1)
			continue
		}
		if len(row) < 2 {
			slog.Warn("Insufficient columns", "row", i+1)
			continue
		}

		result, err := processRow(ctx, a, row, config.Dir)
		if err != nil {
			slog.Error("Error processing row", "row", i+1, "err", err)
			continue
		}

		results = append(results, result)
		printRowResult(os.Stdout, result)
	}

	return results, nil
}

func processRow(ctx context.Context, a analyzer, row []string, baseDir string) (EvalResult, error) {
	imagePath := filepath.Join(baseDir, strings.TrimSpace(row[0]))
	transcriptPath := strings.TrimSpace(row[1])
	if !isURL(transcriptPath) {
		transcriptPath = filepath.Join(baseDir, transcriptPath)
	}

	groundTruth, err := readTextFile(ctx, transcriptPath)
	if err != nil {
		return EvalResult{}, fmt.Errorf("failed to read transcript: %w", err)
	}

	img, err := orientation.Load(imagePath)
	if err != nil {
		return EvalResult{}, err
	}
	page, err := a.Analyze(ctx, img)
	if err != nil {
		return EvalResult{}, err
	}

	return EvalResult{
		Identifier:     filepath.Base(imagePath),
		ImagePath:      imagePath,
		TranscriptPath: transcriptPath,
		Detections:     len(page.Detections),
		Extracted:      page.Text,
		Metrics:        eval.Compare(groundTruth, page.Text),
	}, nil
}

func isURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

func readTextFile(ctx context.Context, path string) (string, error) {
	if isURL(path) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			return "", err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func saveEvalResults(summary EvalSummary, outputPath string) error {
	data, err := yaml.Marshal(summary)
	if err != nil {
		return err
	}

	return os.WriteFile(outputPath, data, 0644)
}

func averageMetrics(results []EvalResult) eval.Metrics {
	ms := make([]eval.Metrics, len(results))
	for i, r := range results {
		ms[i] = r.Metrics
	}
	return eval.Average(ms)
}

func printRowResult(w io.Writer, result EvalResult) {
	fmt.Fprintf(w, "\n=== Results for %s ===\n", result.Identifier)
	fmt.Fprintf(w, "Image: %s\n", result.ImagePath)
	fmt.Fprintf(w, "Transcript: %s\n", result.TranscriptPath)
	fmt.Fprintf(w, "Detections: %d\n", result.Detections)
	fmt.Fprintf(w, "Character Similarity: %.3f\n", result.Metrics.CharacterSimilarity)
	fmt.Fprintf(w, "Word Similarity: %.3f\n", result.Metrics.WordSimilarity)
	fmt.Fprintf(w, "Word Accuracy: %.3f\n", result.Metrics.WordAccuracy)
	fmt.Fprintf(w, "Word Error Rate: %.3f\n", result.Metrics.WordErrorRate)
	fmt.Fprintf(w, "Correct Words: %d\n", result.Metrics.CorrectWords)
	fmt.Fprintf(w, "Substitutions: %d\n", result.Metrics.Substitutions)
	fmt.Fprintf(w, "Deletions: %d\n", result.Metrics.Deletions)
	fmt.Fprintf(w, "Insertions: %d\n", result.Metrics.Insertions)
}

func printSummaryStats(w io.Writer, results []EvalResult) {
	if len(results) == 0 {
		return
	}
	avg := averageMetrics(results)

	fmt.Fprintf(w, "\n=== SUMMARY STATISTICS ===\n")
	fmt.Fprintf(w, "Total Evaluations: %d\n", len(results))
	fmt.Fprintf(w, "Average Character Similarity: %.3f\n", avg.CharacterSimilarity)
	fmt.Fprintf(w, "Average Word Similarity: %.3f\n", avg.WordSimilarity)
	fmt.Fprintf(w, "Average Word Accuracy: %.3f\n", avg.WordAccuracy)
	fmt.Fprintf(w, "Average Word Error Rate: %.3f\n", avg.WordErrorRate)
}
