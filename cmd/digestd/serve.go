package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crestline-labs/digestd/internal/feedback"
	"github.com/crestline-labs/digestd/internal/httpserver"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the feedback ingest server",
	Long: `Run the HTTP server that receives digest feedback: explicit
signals on POST /api/v1/feedback and chat reaction webhooks on
POST /api/v1/reactions.

Examples:
  digestd serve
  DIGESTD_SERVER_PORT=8080 digestd serve`,
	RunE: runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	fbStore, err := feedback.NewStore(cfg.Storage.FeedbackDB, cfg.Feedback, logger)
	if err != nil {
		return fmt.Errorf("failed to open feedback store: %w", err)
	}
	defer fbStore.Close()

	srv, err := httpserver.NewServer(fbStore, cfg.Server, logger)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
