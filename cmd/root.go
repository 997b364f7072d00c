package cmd

import (
	"log/slog"
	"os"

	"github.com/lehigh-university-libraries/img2pdf/internal/utils"
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "img2pdf",
	Short: "Turn scanned images into searchable PDFs",
	Long: `Turn scanned images into searchable PDFs.

Each image is oriented from its EXIF tag, run through a text detection engine
(tesseract, azure or vision), and written as a single page PDF with the
recognized text laid invisibly over the image in reading order.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ll, err := cmd.Flags().GetString("log-level")
		if err != nil {
			return err
		}

		opts := &slog.HandlerOptions{
			Level: utils.ParseLogLevel(ll),
		}
		handler := slog.New(slog.NewTextHandler(os.Stdout, opts))
		slog.SetDefault(handler)

		return nil
	},
}

func Execute() {
	err := RootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	ll := os.Getenv("LOG_LEVEL")
	if ll == "" {
		ll = "INFO"
	}
	RootCmd.PersistentFlags().String("log-level", ll, "The logging level for the command")
	RootCmd.PersistentFlags().String("config", os.Getenv("IMG2PDF_CONFIG"), "Path to a YAML config file")
}
