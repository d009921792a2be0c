package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/opd-ai/qrxfer"
	"github.com/opd-ai/qrxfer/limits"
	"github.com/opd-ai/qrxfer/receiver"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(receiveCmd)
}

var receiveCmd = &cobra.Command{
	Use:   "receive [FILE...]",
	Short: "Rebuild a file from decoded QR payloads",
	Long: `receive reads decoded symbol payloads, one per line, from the given files or
from standard input (for example "zbarcam --raw"), and saves the file to the
output directory as soon as every chunk has arrived. When the input ends
first, whatever can be reconstructed under the gap policy is saved.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := qrxfer.New(options)
		if err != nil {
			return err
		}
		defer inst.Close()

		inputs := []io.Reader{cmd.InOrStdin()}
		if len(args) > 0 {
			inputs = inputs[:0]
			for _, name := range args {
				f, err := os.Open(name)
				if err != nil {
					return err
				}
				defer f.Close()
				inputs = append(inputs, f)
			}
		}

		ctx := cmd.Context()
		for _, in := range inputs {
			if err := feed(ctx, inst, in); err != nil {
				return err
			}
			if inst.Receiver().IsComplete() {
				break
			}
		}
		return finish(cmd, inst)
	},
}

// feed submits every line of in until the transfer completes.
func feed(ctx context.Context, inst *qrxfer.Instance, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), limits.MaxPayloadSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := inst.Scan(ctx, line); err != nil {
			return err
		}
		if err := inst.Flush(ctx); err != nil {
			return err
		}
		if inst.Receiver().IsComplete() {
			return nil
		}
	}
	return scanner.Err()
}

func finish(cmd *cobra.Command, inst *qrxfer.Instance) error {
	buf := inst.Receiver()
	out := cmd.OutOrStdout()

	path, result, err := inst.Save()
	if err != nil {
		if missing := buf.MissingChunks(); len(missing) > 0 && !errors.Is(err, receiver.ErrNotStarted) {
			fmt.Fprintf(out, "received %d%%, missing chunks %v\n", buf.Progress(), missing)
		}
		return err
	}

	fmt.Fprintf(out, "saved %s (%d bytes)\n", path, len(result.Data))
	if len(result.Missing) > 0 {
		fmt.Fprintf(out, "warning: chunks %v were missing and skipped\n", result.Missing)
	}
	return nil
}
