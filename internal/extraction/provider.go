package extraction

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/crestline-labs/digestd/internal/config"
	"github.com/crestline-labs/digestd/internal/events"
)

// NewAnalyzer creates the analyzer for the configured provider.
//
// "disabled" yields an analyzer that reports no activity; "heuristic"
// needs no credentials; "anthropic" and "openai" require an API key.
func NewAnalyzer(cfg config.ExtractionConfig, logger *zap.Logger) (Analyzer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case "", "disabled":
		return &noopAnalyzer{}, nil
	case "heuristic":
		return NewHeuristicAnalyzer(logger), nil
	case "anthropic":
		return newAnthropicAnalyzer(cfg, logger)
	case "openai":
		return newOpenAIAnalyzer(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// noopAnalyzer reports no activity for every channel.
type noopAnalyzer struct{}

func (n *noopAnalyzer) Analyze(_ context.Context, team, channel string, messages []RawMessage) (*events.TeamAnalysis, error) {
	a := events.EmptyAnalysis(team, channel)
	a.MessageCount = len(messages)
	return a, nil
}

var _ Analyzer = (*noopAnalyzer)(nil)
