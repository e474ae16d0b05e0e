package digest

import (
	"fmt"
	"strings"
	"time"

	"github.com/crestline-labs/digestd/internal/linker"
	"github.com/crestline-labs/digestd/internal/memory"
	"github.com/crestline-labs/digestd/internal/persona"
	"github.com/crestline-labs/digestd/internal/ranker"
)

// maxPrimaryItems bounds a personalized digest's top section.
const maxPrimaryItems = 10

var urgencyMarkers = map[string]string{
	"critical": ":rotating_light:",
	"high":     ":warning:",
	"medium":   ":small_blue_diamond:",
	"low":      ":white_small_square:",
}

// FormatPersonal renders one recipient's digest.
func FormatPersonal(date time.Time, p persona.Persona, out ranker.Output, highlights []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "*Daily Digest — %s*\n", date.Format("Mon Jan 2"))
	fmt.Fprintf(&b, "_For %s_\n\n", strings.ReplaceAll(p.Name, "_", " "))

	if len(highlights) > 0 {
		b.WriteString("*Cross-team highlights*\n")
		for _, h := range highlights {
			fmt.Fprintf(&b, "> %s\n", h)
		}
		b.WriteString("\n")
	}

	if len(out.Primary) == 0 {
		b.WriteString("Nothing above your severity threshold today.\n")
	} else {
		b.WriteString("*Top items*\n")
		for i, ri := range out.Primary {
			if i >= maxPrimaryItems {
				fmt.Fprintf(&b, "_...and %d more below the fold._\n", len(out.Primary)-maxPrimaryItems)
				break
			}
			writeItem(&b, ri)
		}
	}

	if len(out.Secondary) > 0 {
		fmt.Fprintf(&b, "\n_%d lower-severity items in thread._\n", len(out.Secondary))
	}

	return b.String()
}

// FormatSecondaryThread renders the below-threshold items posted as a
// thread reply under the personal digest.
func FormatSecondaryThread(out ranker.Output) string {
	if len(out.Secondary) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("*Also happened*\n")
	for _, ri := range out.Secondary {
		writeItem(&b, ri)
	}
	return b.String()
}

func writeItem(b *strings.Builder, ri ranker.RankedItem) {
	marker := urgencyMarkers[string(ri.Item.Urgency)]
	if marker == "" {
		marker = ":small_blue_diamond:"
	}
	title := ri.Item.Title
	if title == "" {
		title = ri.Item.Summary
	}
	fmt.Fprintf(b, "%s *[%s]* %s", marker, ri.Item.Team, title)
	if len(ri.MatchedTopics) > 0 {
		fmt.Fprintf(b, " _(%s)_", strings.Join(ri.MatchedTopics, ", "))
	}
	b.WriteString("\n")
}

// FormatTeamSummary renders one team's section for the main channel post.
func FormatTeamSummary(team, summary, tone string, eventCount int) string {
	return fmt.Sprintf("*%s* (%s, %d events)\n%s\n", capitalize(team), tone, eventCount, summary)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// FormatAlertDM renders the leadership direct message for cross-team
// alerts, highest priority first.
func FormatAlertDM(alerts []linker.CrossTeamAlert) string {
	if len(alerts) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, ":rotating_light: *%d cross-team %s need attention*\n\n", len(alerts), plural(len(alerts), "dependency", "dependencies"))
	for _, a := range alerts {
		d := a.Dependency
		fmt.Fprintf(&b, "*%d. %s* (%s -> %s, %s)\n", a.Priority, a.Title, d.FromTeam, d.ToTeam, d.Urgency)
		fmt.Fprintf(&b, "   %s\n", d.Summary)
		if d.RecommendedAction != "" {
			fmt.Fprintf(&b, "   _Recommended:_ %s", d.RecommendedAction)
			if d.SuggestedOwner != "" {
				fmt.Fprintf(&b, " (owner: %s)", d.SuggestedOwner)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// FormatBlockerBoard renders the persisted active-blocker view.
func FormatBlockerBoard(blockers []memory.BlockerRecord) string {
	if len(blockers) == 0 {
		return "No active blockers on record."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*Active blockers (%d)*\n", len(blockers))
	for _, bl := range blockers {
		marker := urgencyMarkers[string(bl.Severity)]
		if marker == "" {
			marker = ":white_small_square:"
		}
		age := int(time.Since(bl.CreatedAt).Hours() / 24)
		fmt.Fprintf(&b, "%s *[%s]* %s — %s, %s, %dd old\n", marker, bl.Team, bl.Issue, bl.Owner, bl.Status, age)
	}
	return b.String()
}

// FormatDecisionLog renders recent recorded decisions.
func FormatDecisionLog(decisions []memory.DecisionRecord) string {
	if len(decisions) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*Decisions on record (%d)*\n", len(decisions))
	for _, d := range decisions {
		fmt.Fprintf(&b, "- *[%s]* %s (%s)\n", d.Team, d.WhatDecided, d.DecidedBy)
	}
	return b.String()
}

func plural(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
