package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lehigh-university-libraries/img2pdf/pkg/errs"
	"github.com/lehigh-university-libraries/img2pdf/pkg/providers"
	"github.com/spf13/cobra"
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert one image into a searchable PDF",
	Long: `Convert one image into a searchable PDF.

The PDF is written to <output>/<name>.pdf. Unlike batch, any failure (an
unreadable image, an engine error, an unwritable output) ends the command
with a non-zero exit code.`,
	Example: `  img2pdf convert --image scan.jpg -o ./output
  img2pdf convert --image page.tif --engine azure --lang en --hocr`,
	RunE: runConvert,
}

var convertImage string

func init() {
	RootCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringVar(&convertImage, "image", "", "Path to input image file (required)")
	convertCmd.Flags().StringP("output", "o", "", "Output directory (default ./output)")
	addPipelineFlags(convertCmd)

	err := convertCmd.MarkFlagRequired("image")
	if err != nil {
		slog.Error("Unable to mark image as required", "err", err)
		os.Exit(1)
	}
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	p, provider, err := newPipeline(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer providers.Close(provider)

	if err := os.MkdirAll(cfg.Output, 0o755); err != nil {
		return errs.WithPath(errs.IO, "create output directory", cfg.Output, err)
	}

	slog.Info("Converting image", "image", convertImage, "engine", provider.Name(), "languages", cfg.Languages)
	res, err := p.Convert(cmd.Context(), convertImage, cfg.Output)
	if err != nil {
		return fmt.Errorf("convert %s: %w", convertImage, err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.PDF)
	return nil
}
