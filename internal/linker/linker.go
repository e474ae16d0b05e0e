// Package linker derives cross-team dependencies and leadership alerts
// from per-team structured events.
package linker

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/crestline-labs/digestd/internal/config"
	"github.com/crestline-labs/digestd/internal/events"
)

// Linker detects cross-team dependencies with a pairwise scan over active
// teams. The search is O(teams^2) with small per-pair work; expected team
// counts are in the tens.
type Linker struct {
	minConfidence   float64
	alertConfidence float64
	logger          *zap.Logger
}

// New creates a Linker with the configured thresholds.
func New(cfg config.LinkerConfig, logger *zap.Logger) *Linker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Linker{
		minConfidence:   cfg.MinConfidence,
		alertConfidence: cfg.AlertConfidence,
		logger:          logger,
	}
}

// Detect derives dependencies and leadership highlight strings from the
// run's per-team events.
//
// A team with no events contributes an empty analysis and no pairs; a
// failed fetch upstream therefore never aborts detection for other teams.
func (l *Linker) Detect(eventsByTeam map[string][]events.Event) ([]Dependency, []string) {
	active := activeTeams(eventsByTeam)

	var candidates []Dependency
	for _, from := range active {
		for _, to := range active {
			if from == to {
				continue
			}
			candidates = append(candidates, l.scanPair(from, to, eventsByTeam[from])...)
		}
	}

	deps := l.dedupe(candidates)

	sort.SliceStable(deps, func(i, j int) bool {
		if deps[i].Urgency.Rank() != deps[j].Urgency.Rank() {
			return deps[i].Urgency.Rank() > deps[j].Urgency.Rank()
		}
		if deps[i].Confidence != deps[j].Confidence {
			return deps[i].Confidence > deps[j].Confidence
		}
		if deps[i].FromTeam != deps[j].FromTeam {
			return deps[i].FromTeam < deps[j].FromTeam
		}
		return deps[i].ToTeam < deps[j].ToTeam
	})

	highlights := make([]string, 0, len(deps))
	for _, d := range deps {
		highlights = append(highlights, fmt.Sprintf("%s -> %s: %s (%s)",
			d.FromTeam, d.ToTeam, strings.ReplaceAll(string(d.Type), "_", " "), d.Summary))
	}

	l.logger.Debug("dependency detection complete",
		zap.Int("active_teams", len(active)),
		zap.Int("candidates", len(candidates)),
		zap.Int("dependencies", len(deps)),
	)

	return deps, highlights
}

// scanPair inspects team from's events for references to team to.
func (l *Linker) scanPair(from, to string, fromEvents []events.Event) []Dependency {
	var out []Dependency
	for i := range fromEvents {
		ev := &fromEvents[i]
		switch ev.Kind {
		case events.KindBlocker, events.KindActionItem:
			if !ev.Mentions(to) {
				continue
			}
			dep := Dependency{
				Type:              classifyBlocking(ev),
				FromTeam:          from,
				ToTeam:            to,
				Summary:           ev.Summary,
				Rationale:         fmt.Sprintf("%s is blocked on work owned by %s", from, to),
				RecommendedAction: fmt.Sprintf("schedule a sync between %s and %s", from, to),
				SuggestedOwner:    suggestedOwner(ev, to),
				Urgency:           blockerUrgency(ev),
				Confidence:        ev.Confidence,
			}
			if dep.Confidence >= l.minConfidence {
				out = append(out, dep)
			}
		case events.KindDecision:
			if !decisionTouches(ev, to) {
				continue
			}
			dep := Dependency{
				Type:              classifyDecision(ev),
				FromTeam:          from,
				ToTeam:            to,
				Summary:           ev.Summary,
				Rationale:         fmt.Sprintf("decision by %s affects %s: %s", from, to, ev.Impact),
				RecommendedAction: fmt.Sprintf("notify %s of the change and confirm downstream impact", to),
				SuggestedOwner:    suggestedOwner(ev, to),
				Urgency:           ev.Urgency,
				Confidence:        ev.Confidence,
			}
			if dep.Confidence >= l.minConfidence {
				out = append(out, dep)
			}
		}
	}
	return out
}

// dedupe collapses candidates sharing (from, to, type, normalized summary)
// into one dependency carrying the highest confidence seen.
func (l *Linker) dedupe(candidates []Dependency) []Dependency {
	byKey := make(map[string]int)
	var out []Dependency
	for _, c := range candidates {
		key := c.dedupKey()
		if idx, ok := byKey[key]; ok {
			if c.Confidence > out[idx].Confidence {
				out[idx].Confidence = c.Confidence
			}
			if c.Urgency.Rank() > out[idx].Urgency.Rank() {
				out[idx].Urgency = c.Urgency
			}
			continue
		}
		byKey[key] = len(out)
		out = append(out, c)
	}
	return out
}

// BuildAlerts promotes high-signal dependencies to cross-team alerts.
// Every dependency above the alert confidence threshold, or at high or
// critical urgency, becomes an alert. Alerts sort by urgency then
// confidence descending and receive ascending priorities starting at 1.
func (l *Linker) BuildAlerts(deps []Dependency) []CrossTeamAlert {
	var alerts []CrossTeamAlert
	for _, d := range deps {
		if d.Confidence > l.alertConfidence || d.Urgency.Rank() >= events.UrgencyHigh.Rank() {
			alerts = append(alerts, CrossTeamAlert{
				ID:         AlertID(&d),
				Title:      fmt.Sprintf("%s <-> %s: %s", d.FromTeam, d.ToTeam, d.Summary),
				Dependency: d,
			})
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		di, dj := alerts[i].Dependency, alerts[j].Dependency
		if di.Urgency.Rank() != dj.Urgency.Rank() {
			return di.Urgency.Rank() > dj.Urgency.Rank()
		}
		return di.Confidence > dj.Confidence
	})

	for i := range alerts {
		alerts[i].Priority = i + 1
	}

	return alerts
}

// activeTeams returns teams with at least one event, in sorted order so
// output is deterministic regardless of extraction completion order.
func activeTeams(eventsByTeam map[string][]events.Event) []string {
	var teams []string
	for team, evs := range eventsByTeam {
		if len(evs) > 0 {
			teams = append(teams, team)
		}
	}
	sort.Strings(teams)
	return teams
}

// decisionTouches reports whether a decision's stated interface or
// timeline impact names the other team.
func decisionTouches(ev *events.Event, team string) bool {
	needle := strings.ToLower(team)
	for _, hay := range []string{ev.Impact, ev.Summary, ev.WhatDecided, ev.Context} {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}

var timelineWords = []string{"timeline", "schedule", "deadline", "slip", "delay", "eta"}

// classifyDecision picks a dependency type from the decision's impact text.
func classifyDecision(ev *events.Event) DependencyType {
	text := strings.ToLower(ev.Impact + " " + ev.Summary)
	for _, w := range timelineWords {
		if strings.Contains(text, w) {
			return TypeTimelineImpact
		}
	}
	return TypeInterfaceChange
}

var resourceWords = []string{"shared", "resource", "competing", "contention", "capacity"}

// classifyBlocking picks a dependency type for blockers and action items.
func classifyBlocking(ev *events.Event) DependencyType {
	text := strings.ToLower(ev.Summary + " " + ev.Issue)
	for _, w := range resourceWords {
		if strings.Contains(text, w) {
			return TypeResourceConflict
		}
	}
	return TypeWaitingOn
}

// blockerUrgency prefers the blocker's severity when it outranks the
// event urgency.
func blockerUrgency(ev *events.Event) events.Urgency {
	if ev.Severity != "" && ev.Severity.Rank() > ev.Urgency.Rank() {
		return ev.Severity
	}
	return ev.Urgency
}

// suggestedOwner names who should drive resolution: the blocking side's
// lead unless the event carries an explicit owner on that side.
func suggestedOwner(ev *events.Event, toTeam string) string {
	if ev.BlockedBy != "" && !strings.EqualFold(ev.BlockedBy, toTeam) {
		return ev.BlockedBy
	}
	return toTeam + " lead"
}
