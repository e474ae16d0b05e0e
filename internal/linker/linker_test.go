package linker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crestline-labs/digestd/internal/config"
	"github.com/crestline-labs/digestd/internal/events"
)

func newTestLinker() *Linker {
	return New(config.LinkerConfig{MinConfidence: 0.4, AlertConfidence: 0.8}, zap.NewNop())
}

func TestDetect_NoCrossReferences(t *testing.T) {
	l := newTestLinker()

	byTeam := map[string][]events.Event{
		"software": {
			{Kind: events.KindUpdate, Summary: "merged the cache refactor", Confidence: 0.9, Urgency: events.UrgencyMedium, Teams: []string{"software"}},
		},
		"electrical": {
			{Kind: events.KindUpdate, Summary: "rev c layout in review", Confidence: 0.9, Urgency: events.UrgencyMedium, Teams: []string{"electrical"}},
		},
	}

	deps, highlights := l.Detect(byTeam)
	assert.Empty(t, deps)
	assert.Empty(t, highlights)
}

func TestDetect_WaitingOnScenario(t *testing.T) {
	l := newTestLinker()

	byTeam := map[string][]events.Event{
		"software": {
			{
				Kind:       events.KindBlocker,
				Summary:    "waiting on electrical schematic",
				Issue:      "cannot finalize pin mapping without the schematic",
				Confidence: 0.85,
				Urgency:    events.UrgencyHigh,
				Teams:      []string{"software"},
			},
		},
		"electrical": {
			{
				Kind:        events.KindDecision,
				Summary:     "moving the debug header",
				WhatDecided: "relocate debug header to rev c",
				Impact:      "software pin mapping changes",
				Confidence:  0.9,
				Urgency:     events.UrgencyMedium,
				Teams:       []string{"electrical"},
			},
		},
	}

	deps, highlights := l.Detect(byTeam)
	require.NotEmpty(t, deps)
	assert.NotEmpty(t, highlights)

	var waiting *Dependency
	for i := range deps {
		if deps[i].Type == TypeWaitingOn {
			waiting = &deps[i]
		}
	}
	require.NotNil(t, waiting, "expected a waiting_on dependency")
	assert.Equal(t, "software", waiting.FromTeam)
	assert.Equal(t, "electrical", waiting.ToTeam)
	assert.Greater(t, waiting.Confidence, 0.0)

	alerts := l.BuildAlerts(deps)
	require.NotEmpty(t, alerts, "high urgency dependency should produce an alert")
	assert.Equal(t, 1, alerts[0].Priority)
}

func TestDetect_DropsLowConfidence(t *testing.T) {
	l := newTestLinker()

	byTeam := map[string][]events.Event{
		"software": {
			{Kind: events.KindBlocker, Summary: "maybe waiting on electrical", Confidence: 0.2, Urgency: events.UrgencyLow, Teams: []string{"software"}},
		},
		"electrical": {
			{Kind: events.KindUpdate, Summary: "routine progress", Confidence: 0.9, Urgency: events.UrgencyLow, Teams: []string{"electrical"}},
		},
	}

	deps, _ := l.Detect(byTeam)
	assert.Empty(t, deps)
}

func TestDetect_DedupKeepsHighestConfidence(t *testing.T) {
	l := newTestLinker()

	byTeam := map[string][]events.Event{
		"software": {
			{Kind: events.KindBlocker, Summary: "Waiting on electrical schematic!", Confidence: 0.6, Urgency: events.UrgencyMedium, Teams: []string{"software"}},
			{Kind: events.KindBlocker, Summary: "waiting on electrical schematic", Confidence: 0.9, Urgency: events.UrgencyHigh, Teams: []string{"software"}},
		},
		"electrical": {
			{Kind: events.KindUpdate, Summary: "progress", Confidence: 0.9, Urgency: events.UrgencyLow, Teams: []string{"electrical"}},
		},
	}

	deps, _ := l.Detect(byTeam)
	require.Len(t, deps, 1)
	assert.InDelta(t, 0.9, deps[0].Confidence, 0.001)
	assert.Equal(t, events.UrgencyHigh, deps[0].Urgency)
}

func TestDetect_EmptyTeamContributesNothing(t *testing.T) {
	l := newTestLinker()

	byTeam := map[string][]events.Event{
		"qa": {},
		"software": {
			{Kind: events.KindBlocker, Summary: "waiting on qa signoff", Confidence: 0.9, Urgency: events.UrgencyHigh, Teams: []string{"software"}},
		},
	}

	// qa has no events so it is not active; no pair is scanned against it.
	deps, _ := l.Detect(byTeam)
	assert.Empty(t, deps)
}

func TestClassifyDecision_Timeline(t *testing.T) {
	ev := events.Event{
		Kind:    events.KindDecision,
		Summary: "pushing the pilot run",
		Impact:  "mechanical schedule slips one week",
	}
	assert.Equal(t, TypeTimelineImpact, classifyDecision(&ev))

	ev.Impact = "mechanical mounting holes move 2mm"
	ev.Summary = "enclosure change"
	assert.Equal(t, TypeInterfaceChange, classifyDecision(&ev))
}

func TestBuildAlerts_OrderingAndPriorities(t *testing.T) {
	l := newTestLinker()

	deps := []Dependency{
		{Type: TypeWaitingOn, FromTeam: "a", ToTeam: "b", Summary: "one", Urgency: events.UrgencyHigh, Confidence: 0.7},
		{Type: TypeWaitingOn, FromTeam: "c", ToTeam: "d", Summary: "two", Urgency: events.UrgencyCritical, Confidence: 0.5},
		{Type: TypeWaitingOn, FromTeam: "e", ToTeam: "f", Summary: "three", Urgency: events.UrgencyLow, Confidence: 0.95},
	}

	alerts := l.BuildAlerts(deps)
	require.Len(t, alerts, 3)

	assert.Equal(t, "c", alerts[0].Dependency.FromTeam) // critical first
	assert.Equal(t, "a", alerts[1].Dependency.FromTeam)
	assert.Equal(t, "e", alerts[2].Dependency.FromTeam) // promoted on confidence alone
	assert.Equal(t, []int{1, 2, 3}, []int{alerts[0].Priority, alerts[1].Priority, alerts[2].Priority})
}

func TestAlertID_StableAcrossRuns(t *testing.T) {
	d1 := Dependency{Type: TypeWaitingOn, FromTeam: "software", ToTeam: "electrical", Summary: "Waiting on schematic"}
	d2 := Dependency{Type: TypeWaitingOn, FromTeam: "software", ToTeam: "electrical", Summary: "waiting on   schematic!"}

	// Normalized summaries match, so the stable ID matches.
	assert.Equal(t, AlertID(&d1), AlertID(&d2))
}
