package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/opd-ai/qrxfer"
	"github.com/opd-ai/qrxfer/httpapi"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	serveAddr    string
	serveOrigins []string
)

func init() {
	flags := serveCmd.Flags()
	flags.StringVar(&serveAddr, "addr", "127.0.0.1:8080", "listen address")
	flags.StringSliceVar(&serveOrigins, "cors-origin", nil, "allowed CORS origins (default any)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sender and receiver over HTTP",
	Long: `serve exposes the sender (/api/send) and receiver (/api/receive) so that a
browser page can show symbols on one device and post camera scans from another.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := qrxfer.New(options)
		if err != nil {
			return err
		}
		defer inst.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		srv := &http.Server{
			Addr:              serveAddr,
			Handler:           httpapi.NewServer(ctx, inst).Handler(serveOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logrus.WithFields(logrus.Fields{
				"function": "serve",
				"addr":     serveAddr,
			}).Info("HTTP server listening")
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}
