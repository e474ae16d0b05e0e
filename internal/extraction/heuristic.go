package extraction

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crestline-labs/digestd/internal/events"
)

// Heuristic confidence levels. Pattern matches are weaker evidence than
// model analysis, so they stay in the middle of the scale.
const (
	heuristicConfidence = 0.5
	strongMatchBonus    = 0.1
)

// kindPattern pairs a regex with the event kind it signals. Patterns are
// checked in order; the first match classifies the message.
type kindPattern struct {
	kind   events.Kind
	re     *regexp.Regexp
	strong *regexp.Regexp
}

var defaultPatterns = []kindPattern{
	{
		kind:   events.KindBlocker,
		re:     regexp.MustCompile(`(?i)\b(blocked|blocker|blocking|stuck|waiting on|can.?t proceed|held up)\b`),
		strong: regexp.MustCompile(`(?i)\b(blocked|blocker)\b`),
	},
	{
		kind:   events.KindDecision,
		re:     regexp.MustCompile(`(?i)\b(decided|decision|going with|agreed (to|on)|settled on|we.?ll use)\b`),
		strong: regexp.MustCompile(`(?i)\b(decided|decision)\b`),
	},
	{
		kind:   events.KindActionItem,
		re:     regexp.MustCompile(`(?i)\b(action item|i.?ll (do|send|fix|update|handle|take)|will follow up|todo:)\b`),
		strong: regexp.MustCompile(`(?i)\baction item\b`),
	},
	{
		kind:   events.KindUpdate,
		re:     regexp.MustCompile(`(?i)\b(shipped|merged|landed|deployed|completed|finished|done with|wrapped up)\b`),
		strong: regexp.MustCompile(`(?i)\b(shipped|deployed)\b`),
	},
}

var (
	criticalRe = regexp.MustCompile(`(?i)\b(critical|line down|p0|asap|emergency)\b`)
	highRe     = regexp.MustCompile(`(?i)\b(urgent|today|eod|by end of day|high priority)\b`)
)

// HeuristicAnalyzer classifies messages with keyword patterns. It needs
// no credentials and never fails, making it the safe default provider.
type HeuristicAnalyzer struct {
	patterns []kindPattern
	logger   *zap.Logger
}

// NewHeuristicAnalyzer creates a pattern-based analyzer.
func NewHeuristicAnalyzer(logger *zap.Logger) *HeuristicAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeuristicAnalyzer{
		patterns: defaultPatterns,
		logger:   logger,
	}
}

// Analyze classifies each message independently. A message yields at most
// one event.
func (h *HeuristicAnalyzer) Analyze(_ context.Context, team, channel string, messages []RawMessage) (*events.TeamAnalysis, error) {
	if len(messages) == 0 {
		return events.EmptyAnalysis(team, channel), nil
	}

	analysis := &events.TeamAnalysis{
		TeamName:     team,
		ChannelID:    channel,
		MessageCount: len(messages),
		Tone:         "routine",
	}

	now := time.Now()
	counts := map[events.Kind]int{}
	for _, msg := range messages {
		ev, ok := h.classify(msg, team, channel, now)
		if !ok {
			continue
		}
		analysis.Events = append(analysis.Events, ev)
		counts[ev.Kind]++
	}

	analysis.Summary = summarizeCounts(len(messages), counts)
	switch {
	case counts[events.KindBlocker] >= 2:
		analysis.Tone = "strained"
	case len(analysis.Events) >= 3:
		analysis.Tone = "busy"
	}

	h.logger.Debug("heuristic analysis complete",
		zap.String("team", team),
		zap.Int("messages", len(messages)),
		zap.Int("events", len(analysis.Events)),
	)
	return analysis, nil
}

// classify maps a message to an event, reporting false when no pattern
// matches.
func (h *HeuristicAnalyzer) classify(msg RawMessage, team, channel string, now time.Time) (events.Event, bool) {
	for _, p := range h.patterns {
		if !p.re.MatchString(msg.Text) {
			continue
		}

		confidence := heuristicConfidence
		if p.strong != nil && p.strong.MatchString(msg.Text) {
			confidence += strongMatchBonus
		}

		ev := events.Event{
			Kind:        p.kind,
			Summary:     truncate(msg.Text, 200),
			Confidence:  confidence,
			Channel:     channel,
			Teams:       []string{team},
			Urgency:     urgencyFor(msg.Text),
			ExtractedAt: now,
		}

		switch p.kind {
		case events.KindBlocker:
			ev.Issue = ev.Summary
			ev.Owner = msg.User
			ev.Severity = ev.Urgency
			ev.Status = events.StatusOpen
		case events.KindDecision:
			ev.WhatDecided = ev.Summary
			ev.DecidedBy = msg.User
		case events.KindUpdate:
			ev.Who = msg.User
		case events.KindActionItem:
			ev.Description = ev.Summary
			ev.Owners = []string{msg.User}
		}

		return ev, true
	}
	return events.Event{}, false
}

// urgencyFor grades a message by its urgency keywords.
func urgencyFor(text string) events.Urgency {
	switch {
	case criticalRe.MatchString(text):
		return events.UrgencyCritical
	case highRe.MatchString(text):
		return events.UrgencyHigh
	}
	return events.UrgencyMedium
}

func summarizeCounts(messages int, counts map[events.Kind]int) string {
	if len(counts) == 0 {
		return "No significant activity to summarize."
	}
	var parts []string
	for _, kind := range events.Kinds() {
		if n := counts[kind]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, strings.ReplaceAll(string(kind), "_", " ")))
		}
	}
	return fmt.Sprintf("%d messages: %s.", messages, strings.Join(parts, ", "))
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

var _ Analyzer = (*HeuristicAnalyzer)(nil)
