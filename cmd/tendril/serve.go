package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	httpAdapter "github.com/aretw0/tendril/pkg/adapters/http"
	"github.com/aretw0/tendril/internal/cli"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Exposes the engine as a JSON API over HTTP, with Prometheus metrics on
/metrics and server-sent events per process. Due timers are fired in the
background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("addr") {
			cfg.HTTPAddr, _ = cmd.Flags().GetString("addr")
		}

		h, err := openHost(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		handler := httpAdapter.NewHandler(h.Engine,
			httpAdapter.WithMetrics(h.Registry),
			httpAdapter.WithStreams(h.Streams),
			httpAdapter.WithLogger(logger),
		)
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		go func() {
			if err := h.Engine.RunTimers(sigCtx, cfg.TimerInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Timer loop stopped", "err", err)
			}
		}()

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("Starting tendril server", "addr", srv.Addr, "flows", h.Engine.Flows(), "store", cfg.Store)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)

		case <-sigCtx.Done():
			logger.Info("Start shutdown", "signal", sigCtx.Signal())

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("Graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
				if err := srv.Close(); err != nil {
					return fmt.Errorf("error killing server: %w", err)
				}
			}
			logger.Info("Tendril server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Listen address (default from config, :8080)")
}
