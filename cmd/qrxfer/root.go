package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/opd-ai/qrxfer"
	"github.com/opd-ai/qrxfer/receiver"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	options        = qrxfer.NewOptions()
	logLevel       string
	logFormat      string
	gapPolicy      string
	foreignReplace bool
)

var rootCmd = &cobra.Command{
	Use:   "qrxfer",
	Short: "Transfer files through QR codes",
	Long: `qrxfer splits a file into checksummed chunks, shows each chunk as a QR
symbol, and rebuilds the file from symbols scanned in any order.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := configureLogging(logLevel, logFormat); err != nil {
			return err
		}

		policy, err := receiver.ParseGapPolicy(gapPolicy)
		if err != nil {
			return err
		}
		options.GapPolicy = policy
		if foreignReplace {
			options.ForeignPolicy = receiver.ForeignReplace
		}
		return options.Validate()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&logLevel, "log-level", "warn", "log level (trace, debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	flags.IntVar(&options.ChunkSize, "chunk-size", options.ChunkSize, "raw bytes per chunk")
	flags.DurationVar(&options.DisplayDelay, "delay", options.DisplayDelay, "time each symbol is shown during autoplay")
	flags.StringVar(&options.ErrorCorrection, "level", options.ErrorCorrection, "QR error correction level (L, M, Q, H)")
	flags.IntVar(&options.QRSize, "qr-size", options.QRSize, "QR image size in pixels")
	flags.DurationVar(&options.DebounceWindow, "debounce", options.DebounceWindow, "ignore an identical scan repeated within this window")
	flags.StringVar(&gapPolicy, "gap-policy", "fail-closed", "missing chunk handling (fail-closed, best-effort)")
	flags.BoolVar(&foreignReplace, "foreign-replace", false, "start over when a chunk from another transfer is scanned")
	flags.StringVar(&options.OutputDir, "output-dir", options.OutputDir, "directory received files are saved to")
}

// Execute runs the root command.
func Execute() {
	cobra.CheckErr(rootCmd.ExecuteContext(context.Background()))
}

func configureLogging(level, format string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(parsed)
	logrus.SetOutput(os.Stderr)

	switch strings.ToLower(format) {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}
