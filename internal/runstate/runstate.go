// Package runstate persists the digest run watermark so consecutive runs
// cover adjacent, non-overlapping message windows.
package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// maxHistory bounds the retained run log.
const maxHistory = 30

// Run is one completed digest run.
type Run struct {
	RunID       string    `json:"run_id"`
	CompletedAt time.Time `json:"completed_at"`
	EventCount  int       `json:"event_count"`
	AlertCount  int       `json:"alert_count"`
}

// State is the persisted watermark plus a bounded history of recent runs.
type State struct {
	LastRun           time.Time `json:"last_run"`
	ProcessedChannels []string  `json:"processed_channels,omitempty"`
	History           []Run     `json:"history,omitempty"`
}

// Tracker reads and commits run state. The watermark only advances on
// Commit, which the pipeline calls after delivery succeeds: a failed run
// leaves the window unchanged so the next run re-covers it.
type Tracker struct {
	path   string
	logger *zap.Logger
	state  State
}

// Load opens the tracker at path. A missing state file yields the zero
// state (first run); a corrupt one is reinitialized with a warning rather
// than blocking the run.
func Load(path string, logger *zap.Logger) (*Tracker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{path: path, logger: logger}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}
	if err := json.Unmarshal(data, &t.state); err != nil {
		logger.Warn("run state corrupt, starting from zero watermark",
			zap.String("path", path),
			zap.Error(err),
		)
		t.state = State{}
	}
	return t, nil
}

// LastRun returns the current watermark, zero when no run has committed.
func (t *Tracker) LastRun() time.Time {
	return t.state.LastRun
}

// Since returns the start of the window the current run should cover:
// the watermark when one exists, otherwise now minus the lookback.
func (t *Tracker) Since(lookback time.Duration) time.Time {
	if t.state.LastRun.IsZero() {
		return time.Now().Add(-lookback)
	}
	return t.state.LastRun
}

// History returns recent committed runs, newest last.
func (t *Tracker) History() []Run {
	return t.state.History
}

// Commit advances the watermark and appends the run to history, then
// persists atomically (temp file and rename). Call only after the run
// fully succeeded; partial runs must not move the watermark.
func (t *Tracker) Commit(run Run, channels []string) error {
	t.state.LastRun = run.CompletedAt
	t.state.ProcessedChannels = channels
	t.state.History = append(t.state.History, run)
	if len(t.state.History) > maxHistory {
		t.state.History = t.state.History[len(t.state.History)-maxHistory:]
	}

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("failed to create run state dir: %w", err)
	}
	data, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run state: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run state: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("failed to replace run state: %w", err)
	}

	t.logger.Info("run state committed",
		zap.String("run_id", run.RunID),
		zap.Time("watermark", run.CompletedAt),
		zap.Int("history", len(t.state.History)),
	)
	return nil
}
