package feedback

import (
	"github.com/crestline-labs/digestd/internal/events"
)

// Signal is a reader's judgement on one digest item.
type Signal string

const (
	SignalAccurate       Signal = "accurate"
	SignalWrong          Signal = "wrong"
	SignalMissingContext Signal = "missing_context"
	SignalIrrelevant     Signal = "irrelevant"
)

// Valid reports whether s is a known signal.
func (s Signal) Valid() bool {
	switch s {
	case SignalAccurate, SignalWrong, SignalMissingContext, SignalIrrelevant:
		return true
	}
	return false
}

// emojiSignals maps reaction names to feedback signals. Unmapped
// reactions are ignored.
var emojiSignals = map[string]Signal{
	"white_check_mark": SignalAccurate,
	"+1":               SignalAccurate,
	"thumbsup":         SignalAccurate,
	"x":                SignalWrong,
	"no_entry":         SignalWrong,
	"jigsaw":           SignalMissingContext,
	"puzzle_piece":     SignalMissingContext,
	"no_bell":          SignalIrrelevant,
	"mute":             SignalIrrelevant,
}

// SignalFromEmoji resolves a reaction emoji name to a signal.
func SignalFromEmoji(emoji string) (Signal, bool) {
	s, ok := emojiSignals[emoji]
	return s, ok
}

// Event is one reader reaction to one digest item. A later event from
// the same reader on the same item replaces the earlier one.
type Event struct {
	DigestItemID string `json:"digest_item_id"`
	UserID       string `json:"user_id"`
	Signal       Signal `json:"signal"`
	Note         string `json:"note,omitempty"`
}

// Item identifies a delivered digest item so later feedback can be
// attributed to its kind and team.
type Item struct {
	ID    string
	RunID string
	Kind  events.Kind
	Team  string
	Title string
}

// StoreOutcome distinguishes a first-time signal from a replacement.
type StoreOutcome string

const (
	OutcomeStored   StoreOutcome = "stored"
	OutcomeReplaced StoreOutcome = "replaced"
)

// Adjustments holds feedback-derived confidence deltas keyed by
// (event kind, team). It satisfies the ranker's adjustment source.
type Adjustments map[string]float64

// Delta returns the confidence delta for the given kind and team, zero
// when no feedback exists for the pair.
func (a Adjustments) Delta(kind events.Kind, team string) float64 {
	return a[adjustmentKey(kind, team)]
}

func adjustmentKey(kind events.Kind, team string) string {
	return string(kind) + "|" + team
}
