package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/crestline-labs/digestd/internal/memory"
)

var (
	// blockers command flags
	blOutputJSON bool
	blDecisions  bool
)

func init() {
	rootCmd.AddCommand(blockersCmd)
	blockersCmd.Flags().BoolVar(&blOutputJSON, "json", false, "output as JSON")
	blockersCmd.Flags().BoolVar(&blDecisions, "decisions", false, "also list decisions from the last week")
}

var blockersCmd = &cobra.Command{
	Use:   "blockers",
	Short: "Show the active blocker board",
	Long: `Show blockers currently on record that have not been resolved,
ordered by severity then age.`,
	RunE: runBlockers,
}

func runBlockers(_ *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := memory.NewStore(cfg.Storage.MemoryDir, logger)
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}

	active := store.ActiveBlockers()

	if blOutputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(active)
	}

	if len(active) == 0 {
		fmt.Println("No active blockers on record.")
	}
	for _, b := range active {
		age := int(time.Since(b.CreatedAt).Hours() / 24)
		fmt.Printf("[%s] %-8s %s (owner: %s, %s, %dd old)\n",
			b.Severity, b.Team, b.Issue, b.Owner, b.Status, age)
	}

	if blDecisions {
		fmt.Println()
		for _, d := range store.DecisionsSince(7 * 24 * time.Hour) {
			fmt.Printf("[decision] %-8s %s (%s)\n", d.Team, d.WhatDecided, d.DecidedBy)
		}
	}
	return nil
}
