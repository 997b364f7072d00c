package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lehigh-university-libraries/img2pdf/pkg/batch"
	"github.com/lehigh-university-libraries/img2pdf/pkg/providers"
	"github.com/spf13/cobra"
	yaml "go.yaml.in/yaml/v3"
)

var batchCmd = &cobra.Command{
	Use:   "batch [paths...]",
	Short: "Convert many images into searchable PDFs",
	Long: `Convert many images into searchable PDFs on a bounded pool of workers.

Inputs may be image files or directories; a directory contributes the images
directly inside it. Every image is attempted even when others fail. Progress
is printed as each image finishes, and the command exits non-zero when any
image failed.`,
	Example: `  img2pdf batch --input ./scans -o ./output --workers 4
  img2pdf batch a.jpg b.png --report report.yaml`,
	RunE: runBatch,
}

var (
	batchInputs []string
	batchReport string
)

func init() {
	RootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringArrayVarP(&batchInputs, "input", "i", nil, "Image file or directory (repeatable)")
	batchCmd.Flags().StringP("output", "o", "", "Output directory (default ./output)")
	batchCmd.Flags().IntP("workers", "w", 0, "Number of images converted at once (default number of CPUs)")
	batchCmd.Flags().StringVar(&batchReport, "report", "", "Write the batch report as YAML to this path")
	addPipelineFlags(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	inputs, err := collectInputs(append(append([]string{}, batchInputs...), args...))
	if err != nil {
		return err
	}

	p, provider, err := newPipeline(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer providers.Close(provider)

	out := cmd.OutOrStdout()
	o := batch.New(p, slog.Default(), batch.WithWorkers(cfg.Workers))
	report, err := o.Run(cmd.Context(), inputs, cfg.Output, func(ev batch.Event) {
		printEvent(out, ev)
	})
	if err != nil {
		return err
	}

	printReport(out, report)
	if batchReport != "" {
		if err := saveReport(report, batchReport); err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d images failed", report.Failed, report.Total)
	}
	return nil
}

func printEvent(w io.Writer, ev batch.Event) {
	if ev.State == batch.Failed {
		fmt.Fprintf(w, "[%d/%d] failed %s: %s\n", ev.Completed, ev.Total, ev.Input, ev.Reason)
		return
	}
	fmt.Fprintf(w, "[%d/%d] %s %s\n", ev.Completed, ev.Total, ev.State, ev.Input)
}

func printReport(w io.Writer, report *batch.Report) {
	fmt.Fprintf(w, "\n=== BATCH %s ===\n", report.ID)
	fmt.Fprintf(w, "Total: %d\n", report.Total)
	fmt.Fprintf(w, "Succeeded: %d\n", report.Succeeded)
	fmt.Fprintf(w, "Failed: %d\n", report.Failed)
	for _, j := range report.Jobs {
		if j.State == batch.Failed {
			fmt.Fprintf(w, "  %s: %s\n", j.Input, j.Reason)
		}
	}
}

func saveReport(report *batch.Report, path string) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
