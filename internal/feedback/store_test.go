package feedback

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crestline-labs/digestd/internal/config"
	"github.com/crestline-labs/digestd/internal/events"
	"github.com/crestline-labs/digestd/internal/persona"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(
		filepath.Join(t.TempDir(), "feedback.db"),
		config.FeedbackConfig{Step: 0.05, Clamp: 0.3},
		zap.NewNop(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func registerItem(t *testing.T, s *Store, id string, kind events.Kind, team string) {
	t.Helper()
	err := s.RegisterItems(context.Background(), []Item{
		{ID: id, RunID: "run-1", Kind: kind, Team: team, Title: "t"},
	})
	require.NoError(t, err)
}

func TestRecord_StoredThenReplaced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	registerItem(t, s, "item-1", events.KindBlocker, "software")

	out, err := s.Record(ctx, Event{DigestItemID: "item-1", UserID: "u1", Signal: SignalAccurate})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStored, out)

	out, err = s.Record(ctx, Event{DigestItemID: "item-1", UserID: "u1", Signal: SignalWrong})
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplaced, out)
}

func TestRecord_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	registerItem(t, s, "item-1", events.KindBlocker, "software")

	_, err := s.Record(ctx, Event{DigestItemID: "item-1", UserID: "u1", Signal: "meh"})
	assert.ErrorIs(t, err, ErrInvalidSignal)

	_, err = s.Record(ctx, Event{DigestItemID: "item-1", Signal: SignalAccurate})
	assert.ErrorIs(t, err, ErrMissingUser)

	_, err = s.Record(ctx, Event{DigestItemID: "ghost", UserID: "u1", Signal: SignalAccurate})
	assert.ErrorIs(t, err, ErrUnknownItem)
}

func TestAdjustments_RepeatSignalCountsOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	registerItem(t, s, "item-1", events.KindBlocker, "software")

	// The same reader marks the same item wrong three times.
	for range 3 {
		_, err := s.Record(ctx, Event{DigestItemID: "item-1", UserID: "u1", Signal: SignalWrong})
		require.NoError(t, err)
	}

	adj := s.Adjustments(ctx)
	assert.InDelta(t, -0.05, adj.Delta(events.KindBlocker, "software"), 0.0001)
}

func TestAdjustments_NetAndClamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	registerItem(t, s, "item-1", events.KindUpdate, "electrical")

	// Eight distinct readers mark it wrong; the raw delta of -0.4 clamps
	// to -0.3.
	for i := range 8 {
		_, err := s.Record(ctx, Event{
			DigestItemID: "item-1",
			UserID:       string(rune('a' + i)),
			Signal:       SignalWrong,
		})
		require.NoError(t, err)
	}

	adj := s.Adjustments(ctx)
	assert.InDelta(t, -0.3, adj.Delta(events.KindUpdate, "electrical"), 0.0001)

	// A pair with no feedback has zero delta.
	assert.Zero(t, adj.Delta(events.KindBlocker, "software"))
}

func TestAdjustments_MissingContextIsNeutral(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	registerItem(t, s, "item-1", events.KindDecision, "mechanical")

	_, err := s.Record(ctx, Event{
		DigestItemID: "item-1",
		UserID:       "u1",
		Signal:       SignalMissingContext,
		Note:         "missing the vendor thread context",
	})
	require.NoError(t, err)

	adj := s.Adjustments(ctx)
	assert.Zero(t, adj.Delta(events.KindDecision, "mechanical"))

	notes, err := s.MissingContextNotes(ctx, "mechanical")
	require.NoError(t, err)
	assert.Equal(t, []string{"missing the vendor thread context"}, notes)
}

func TestSignalFromEmoji(t *testing.T) {
	for emoji, want := range map[string]Signal{
		"white_check_mark": SignalAccurate,
		"x":                SignalWrong,
		"jigsaw":           SignalMissingContext,
		"no_bell":          SignalIrrelevant,
	} {
		got, ok := SignalFromEmoji(emoji)
		require.True(t, ok, emoji)
		assert.Equal(t, want, got)
	}

	_, ok := SignalFromEmoji("tada")
	assert.False(t, ok)
}

func TestPersona_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	weight := 2.0
	err := s.SetPersona(ctx, "u1", "lead", "software", &persona.Overrides{
		CrossTeamWeight: &weight,
		Topics:          []string{"deploy"},
	})
	require.NoError(t, err)

	role, team, overrides, err := s.Persona(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "lead", role)
	assert.Equal(t, "software", team)
	require.NotNil(t, overrides)
	require.NotNil(t, overrides.CrossTeamWeight)
	assert.Equal(t, 2.0, *overrides.CrossTeamWeight)
	assert.Equal(t, []string{"deploy"}, overrides.Topics)

	// Replacement overwrites the prior assignment.
	require.NoError(t, s.SetPersona(ctx, "u1", "pm", "general", nil))
	role, team, overrides, err = s.Persona(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "pm", role)
	assert.Equal(t, "general", team)
	assert.Nil(t, overrides)

	_, _, _, err = s.Persona(ctx, "nobody")
	assert.ErrorIs(t, err, ErrPersonaMissing)
}
