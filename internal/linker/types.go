package linker

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/crestline-labs/digestd/internal/events"
)

// DependencyType classifies a cross-team relationship.
type DependencyType string

const (
	TypeWaitingOn        DependencyType = "waiting_on"
	TypeInterfaceChange  DependencyType = "interface_change"
	TypeTimelineImpact   DependencyType = "timeline_impact"
	TypeResourceConflict DependencyType = "resource_conflict"
)

// Dependency relates exactly two teams. Dependencies are derived, not
// authored: they are recomputed each run from the current event set and
// never persisted as long-lived entities.
type Dependency struct {
	Type     DependencyType `json:"type"`
	FromTeam string         `json:"from_team"`
	ToTeam   string         `json:"to_team"`

	Summary           string `json:"summary"`
	Rationale         string `json:"rationale"`
	RecommendedAction string `json:"recommended_action"`
	SuggestedOwner    string `json:"suggested_owner"`

	Urgency    events.Urgency `json:"urgency"`
	Confidence float64        `json:"confidence"`
}

// dedupKey collapses near-identical matches from multiple source events.
func (d *Dependency) dedupKey() string {
	return d.FromTeam + "|" + d.ToTeam + "|" + string(d.Type) + "|" + normalizeText(d.Summary)
}

// CrossTeamAlert is a Dependency promoted for leadership visibility.
type CrossTeamAlert struct {
	// ID is stable across runs for the same underlying dependency, used
	// for feedback association and dedup.
	ID string `json:"id"`

	Title      string     `json:"title"`
	Dependency Dependency `json:"dependency"`

	// Priority is an ascending rank starting at 1; lower is more urgent.
	Priority int `json:"priority"`
}

// AlertID derives a stable identifier from the dependency's dedup key.
func AlertID(d *Dependency) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(d.dedupKey()))
	return fmt.Sprintf("alert_%s_%s_%x", d.FromTeam, d.ToTeam, h.Sum64())
}

var (
	punctRe      = regexp.MustCompile(`[^\w\s]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// normalizeText lowercases, strips punctuation, and collapses whitespace so
// near-identical summaries compare equal.
func normalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = punctRe.ReplaceAllString(s, "")
	return whitespaceRe.ReplaceAllString(s, " ")
}
