// Package extraction turns raw team chat messages into structured events
// using heuristic pattern matching or LLM-backed analysis.
package extraction

import (
	"context"
	"errors"

	"github.com/crestline-labs/digestd/internal/events"
)

// Common errors.
var (
	ErrNoAPIKey        = errors.New("api key required for llm provider")
	ErrUnknownProvider = errors.New("unknown extraction provider")
)

// RawMessage is one chat message as fetched from a team channel.
type RawMessage struct {
	TS       string `json:"ts"`
	User     string `json:"user"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

// Analyzer extracts structured events from one team's messages.
//
// Analyze never partially succeeds: it returns either a full analysis or
// an error. Callers substitute an empty analysis on error so one failed
// team cannot sink a run.
type Analyzer interface {
	Analyze(ctx context.Context, team, channel string, messages []RawMessage) (*events.TeamAnalysis, error)
}
