package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crestline-labs/digestd/internal/delivery"
	"github.com/crestline-labs/digestd/internal/digest"
	"github.com/crestline-labs/digestd/internal/extraction"
	"github.com/crestline-labs/digestd/internal/feedback"
	"github.com/crestline-labs/digestd/internal/linker"
	"github.com/crestline-labs/digestd/internal/memory"
	"github.com/crestline-labs/digestd/internal/persona"
	"github.com/crestline-labs/digestd/internal/ranker"
	"github.com/crestline-labs/digestd/internal/runstate"
)

var (
	// run command flags
	runSourceDir  string
	runDryRun     bool
	runOutputJSON bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runSourceDir, "source-dir", "data/exports", "directory of channel export JSONL files")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print messages to stdout instead of delivering")
	runCmd.Flags().BoolVar(&runOutputJSON, "json", false, "print the run report as JSON")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one digest cycle",
	Long: `Execute one digest cycle: fetch messages since the last run,
extract events, detect cross-team dependencies, rank per recipient, and
deliver.

Examples:
  # Run against channel exports
  digestd run --source-dir data/exports

  # Preview without posting
  digestd run --dry-run`,
	RunE: runDigest,
}

func runDigest(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()

	analyzer, err := extraction.NewAnalyzer(cfg.Extraction, logger)
	if err != nil {
		return fmt.Errorf("failed to build analyzer: %w", err)
	}

	store, err := memory.NewStore(cfg.Storage.MemoryDir, logger)
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}

	fbStore, err := feedback.NewStore(cfg.Storage.FeedbackDB, cfg.Feedback, logger)
	if err != nil {
		return fmt.Errorf("failed to open feedback store: %w", err)
	}
	defer fbStore.Close()

	tracker, err := runstate.Load(cfg.Storage.StateFile, logger)
	if err != nil {
		return fmt.Errorf("failed to load run state: %w", err)
	}

	var sender delivery.Sender
	if runDryRun {
		sender = &consoleSender{}
	} else {
		sender, err = delivery.NewWebhookSender(cfg.Delivery, logger)
		if err != nil {
			return fmt.Errorf("failed to build sender: %w", err)
		}
	}

	pipeline := digest.NewPipeline(digest.Params{
		Config:   cfg,
		Source:   digest.NewFileSource(runSourceDir, logger),
		Analyzer: analyzer,
		Linker:   linker.New(cfg.Linker, logger),
		Memory:   store,
		Feedback: fbStore,
		Resolver: persona.NewResolver(logger),
		Ranker:   ranker.New(cfg.Ranking, logger),
		Tracker:  tracker,
		Delivery: delivery.NewRouter(sender, logger),
		Logger:   logger,
	})

	report, err := pipeline.Run(ctx)
	if err != nil {
		return err
	}

	if runOutputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("Run %s: %d events, %d dependencies, %d alerts, %d delivered, %d failed\n",
		report.RunID, report.EventCount, report.Dependencies, report.Alerts,
		report.Delivered, report.Failed)
	return nil
}

// consoleSender prints messages instead of posting them.
type consoleSender struct{}

func (c *consoleSender) Send(_ context.Context, msg delivery.Message) error {
	fmt.Printf("--- to %s ---\n%s\n", msg.Target, msg.Text)
	return nil
}

var _ delivery.Sender = (*consoleSender)(nil)
