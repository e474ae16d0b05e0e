package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crestline-labs/digestd/internal/events"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func blockerEvent(issue, owner string, status events.BlockerStatus) events.Event {
	return events.Event{
		Kind:       events.KindBlocker,
		Summary:    issue,
		Issue:      issue,
		Owner:      owner,
		Status:     status,
		Severity:   events.UrgencyHigh,
		Confidence: 0.9,
		Teams:      []string{"software"},
	}
}

func decisionEvent(what string) events.Event {
	return events.Event{
		Kind:        events.KindDecision,
		Summary:     what,
		WhatDecided: what,
		DecidedBy:   "sam",
		Confidence:  0.9,
		Teams:       []string{"electrical"},
	}
}

func TestRecord_NewAndDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.Record(ctx, []events.Event{
		decisionEvent("switch to rev c connector"),
		blockerEvent("waiting on firmware image", "alex", events.StatusOpen),
	})
	require.NoError(t, err)
	assert.Equal(t, RecordResult{New: 2}, res)

	// Same content again, differing only in punctuation and case.
	res, err = s.Record(ctx, []events.Event{
		decisionEvent("Switch to rev C connector!"),
		blockerEvent("Waiting on firmware image", "Alex", events.StatusOpen),
	})
	require.NoError(t, err)
	assert.Equal(t, RecordResult{Duplicate: 2}, res)
}

func TestRecord_SkipsMalformed(t *testing.T) {
	s := newTestStore(t)

	res, err := s.Record(context.Background(), []events.Event{
		{Kind: events.KindDecision, Summary: "", Confidence: 0.9},
		{Kind: "bogus", Summary: "x", Confidence: 0.9},
		decisionEvent("keep this one"),
	})
	require.NoError(t, err)
	assert.Equal(t, RecordResult{New: 1}, res)
}

func TestRecord_ForwardOnlyStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Record(ctx, []events.Event{blockerEvent("supplier delay", "kim", events.StatusOpen)})
	require.NoError(t, err)

	_, err = s.Record(ctx, []events.Event{blockerEvent("supplier delay", "kim", events.StatusResolved)})
	require.NoError(t, err)

	assert.Empty(t, s.ActiveBlockers(), "resolved blocker should leave the active list")

	// A backward transition is ignored.
	_, err = s.Record(ctx, []events.Event{blockerEvent("supplier delay", "kim", events.StatusOpen)})
	require.NoError(t, err)
	assert.Empty(t, s.ActiveBlockers())

	s.mu.RLock()
	require.Len(t, s.blockers, 1)
	assert.Equal(t, events.StatusResolved, s.blockers[0].Status)
	assert.NotNil(t, s.blockers[0].ResolvedAt)
	s.mu.RUnlock()
}

func TestActiveBlockers_Ordering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	low := blockerEvent("minor tooling gap", "a", events.StatusOpen)
	low.Severity = events.UrgencyLow
	crit := blockerEvent("line down", "b", events.StatusOpen)
	crit.Severity = events.UrgencyCritical

	_, err := s.Record(ctx, []events.Event{low, crit})
	require.NoError(t, err)

	active := s.ActiveBlockers()
	require.Len(t, active, 2)
	assert.Equal(t, "line down", active[0].Issue)
	assert.Equal(t, "minor tooling gap", active[1].Issue)
}

func TestDecisionsSince(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Record(context.Background(), []events.Event{decisionEvent("recent call")})
	require.NoError(t, err)

	// Backdate a second decision past the window.
	s.mu.Lock()
	s.decisions = append(s.decisions, DecisionRecord{
		ID:          "dec_old",
		Team:        "software",
		WhatDecided: "ancient call",
		RecordedAt:  time.Now().Add(-48 * time.Hour),
	})
	s.mu.Unlock()

	recent := s.DecisionsSince(24 * time.Hour)
	require.Len(t, recent, 1)
	assert.Equal(t, "recent call", recent[0].WhatDecided)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, zap.NewNop())
	require.NoError(t, err)

	_, err = s.Record(context.Background(), []events.Event{
		decisionEvent("lock the bom"),
		blockerEvent("missing test fixture", "ray", events.StatusOpen),
	})
	require.NoError(t, err)

	reopened, err := NewStore(dir, zap.NewNop())
	require.NoError(t, err)

	assert.Len(t, reopened.DecisionsSince(time.Hour), 1)
	assert.Len(t, reopened.ActiveBlockers(), 1)

	// The reopened store still deduplicates against persisted records.
	res, err := reopened.Record(context.Background(), []events.Event{decisionEvent("lock the bom")})
	require.NoError(t, err)
	assert.Equal(t, RecordResult{Duplicate: 1}, res)
}

func TestStore_CorruptFileReinitializes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, decisionsFile), []byte("{not json"), 0o644))

	s, err := NewStore(dir, zap.NewNop())
	require.NoError(t, err, "corruption must not fail store construction")
	assert.Empty(t, s.DecisionsSince(24*time.Hour))

	// The store is usable after reinit.
	_, err = s.Record(context.Background(), []events.Event{decisionEvent("fresh start")})
	require.NoError(t, err)
	assert.Len(t, s.DecisionsSince(time.Hour), 1)
}
