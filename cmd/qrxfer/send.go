package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/opd-ai/qrxfer"
	"github.com/opd-ai/qrxfer/chunk"
	"github.com/opd-ai/qrxfer/qrcode"
	"github.com/opd-ai/qrxfer/sender"
	"github.com/spf13/cobra"
)

var (
	sendOutDir   string
	sendPayloads bool
	sendInverse  bool
)

func init() {
	flags := sendCmd.Flags()
	flags.StringVar(&sendOutDir, "out", "", "write one PNG per chunk to this directory instead of displaying")
	flags.BoolVar(&sendPayloads, "payloads", false, "print the chunk payloads, one per line, instead of displaying")
	flags.BoolVar(&sendInverse, "inverse", false, "invert terminal symbols for light backgrounds")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send FILE",
	Short: "Show a file as a sequence of QR symbols",
	Long: `send encodes FILE into chunks and cycles through their QR symbols in the
terminal until interrupted. With --out the symbols are written as PNG files,
with --payloads the raw chunk text is printed instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := qrxfer.New(options)
		if err != nil {
			return err
		}
		defer inst.Close()

		session, err := inst.SelectPath(args[0])
		if err != nil {
			return err
		}

		switch {
		case sendPayloads:
			return printPayloads(cmd, session)
		case sendOutDir != "":
			return writeSymbols(cmd, session, sendOutDir)
		default:
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return displaySymbols(ctx, cmd, inst, session)
		}
	},
}

func printPayloads(cmd *cobra.Command, session *sender.Session) error {
	for i := 0; i < session.Len(); i++ {
		record, err := session.ChunkAt(i)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), record.Payload())
	}
	return nil
}

func writeSymbols(cmd *cobra.Command, session *sender.Session, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	level, err := qrcode.ParseLevel(options.ErrorCorrection)
	if err != nil {
		return err
	}

	for i := 0; i < session.Len(); i++ {
		record, err := session.ChunkAt(i)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, fmt.Sprintf("chunk-%05d.png", i))
		if err := qrcode.WriteFile(path, record.Payload(), level, options.QRSize); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d symbols for %s to %s\n", session.Len(), session.TransferID(), dir)
	return nil
}

func displaySymbols(ctx context.Context, cmd *cobra.Command, inst *qrxfer.Instance, session *sender.Session) error {
	level, err := qrcode.ParseLevel(options.ErrorCorrection)
	if err != nil {
		return err
	}

	frames := make(chan chunk.Record, 1)
	inst.OnAdvance(func(r chunk.Record) {
		select {
		case frames <- r:
		default:
		}
	})

	show := func(r chunk.Record) error {
		symbol, err := qrcode.Terminal(r.Payload(), level, sendInverse)
		if err != nil {
			return err
		}
		// Clear the screen and home the cursor.
		fmt.Fprint(cmd.OutOrStdout(), "\033[2J\033[H")
		fmt.Fprint(cmd.OutOrStdout(), symbol)
		fmt.Fprintf(cmd.OutOrStdout(), "%s  chunk %d/%d\n", r.Filename, r.ChunkIndex+1, r.TotalChunks)
		return nil
	}

	first, err := session.Current()
	if err != nil {
		return err
	}
	if err := show(first); err != nil {
		return err
	}
	if err := inst.StartAutoplay(ctx); err != nil {
		return err
	}
	defer inst.StopAutoplay()

	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-frames:
			if err := show(r); err != nil {
				return err
			}
		}
	}
}
