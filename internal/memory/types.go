package memory

import (
	"regexp"
	"strings"
	"time"

	"github.com/crestline-labs/digestd/internal/events"
)

// DecisionRecord is a persisted decision. The store is its only writer.
type DecisionRecord struct {
	ID          string    `json:"id"`
	Team        string    `json:"team"`
	Summary     string    `json:"summary"`
	WhatDecided string    `json:"what_decided"`
	DecidedBy   string    `json:"decided_by"`
	Context     string    `json:"context,omitempty"`
	Impact      string    `json:"impact,omitempty"`
	Channel     string    `json:"channel,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// dedupKey is (normalized what-decided text, team).
func (d *DecisionRecord) dedupKey() string {
	text := d.WhatDecided
	if text == "" {
		text = d.Summary
	}
	return normalizeText(text) + "|" + strings.ToLower(d.Team)
}

// BlockerRecord is a persisted blocker with its resolution lifecycle.
type BlockerRecord struct {
	ID        string               `json:"id"`
	Team      string               `json:"team"`
	Issue     string               `json:"issue"`
	Owner     string               `json:"owner"`
	Severity  events.Urgency       `json:"severity"`
	Status    events.BlockerStatus `json:"status"`
	BlockedBy string               `json:"blocked_by,omitempty"`
	Channel   string               `json:"channel,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	LastSeen   time.Time  `json:"last_seen"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// dedupKey is (normalized issue text, owner).
func (b *BlockerRecord) dedupKey() string {
	return normalizeText(b.Issue) + "|" + strings.ToLower(b.Owner)
}

// RecordResult reports how many events inserted new records versus
// refreshed existing ones.
type RecordResult struct {
	New       int `json:"new_count"`
	Duplicate int `json:"duplicate_count"`
}

var (
	punctRe      = regexp.MustCompile(`[^\w\s]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

func normalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = punctRe.ReplaceAllString(s, "")
	return whitespaceRe.ReplaceAllString(s, " ")
}
