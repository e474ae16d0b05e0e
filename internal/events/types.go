package events

import (
	"errors"
	"strings"
	"time"
)

// Common errors for event validation.
var (
	ErrEmptySummary      = errors.New("event summary cannot be empty")
	ErrInvalidConfidence = errors.New("confidence must be between 0.0 and 1.0")
	ErrUnknownKind       = errors.New("unknown event kind")
)

// Kind identifies the category of an extracted event.
type Kind string

const (
	KindUpdate     Kind = "update"
	KindBlocker    Kind = "blocker"
	KindDecision   Kind = "decision"
	KindActionItem Kind = "action_item"
)

// Kinds lists all valid event kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindUpdate, KindBlocker, KindDecision, KindActionItem}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindUpdate, KindBlocker, KindDecision, KindActionItem:
		return true
	}
	return false
}

// Urgency grades how time-sensitive an event is.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Rank maps urgency to a numeric scale used by scoring and ordering.
// Unknown values rank as medium.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyLow:
		return 1
	case UrgencyMedium:
		return 2
	case UrgencyHigh:
		return 3
	case UrgencyCritical:
		return 4
	}
	return 2
}

// BlockerStatus tracks the lifecycle of a blocker record.
//
// Transitions move forward only: open -> mitigated -> resolved. A resolved
// blocker that reopens arrives as a new record, never as a status downgrade.
type BlockerStatus string

const (
	StatusOpen      BlockerStatus = "open"
	StatusMitigated BlockerStatus = "mitigated"
	StatusResolved  BlockerStatus = "resolved"
)

// Rank orders statuses along the forward transition path.
func (s BlockerStatus) Rank() int {
	switch s {
	case StatusOpen:
		return 0
	case StatusMitigated:
		return 1
	case StatusResolved:
		return 2
	}
	return 0
}

// Event is a structured insight extracted from team messages.
//
// It is a tagged variant over {update, blocker, decision, action item}: Kind
// selects which of the variant field groups below is meaningful. Events are
// immutable once created; the feedback loop adjusts confidence for future
// runs, never in place.
type Event struct {
	Kind       Kind    `json:"kind"`
	Summary    string  `json:"summary"`
	Confidence float64 `json:"confidence"`

	Channel string   `json:"channel"`
	Teams   []string `json:"teams,omitempty"`
	Owners  []string `json:"owners,omitempty"`
	Urgency Urgency  `json:"urgency"`

	ExtractedAt time.Time `json:"extracted_at"`

	// Blocker fields.
	Issue     string        `json:"issue,omitempty"`
	Owner     string        `json:"owner,omitempty"`
	Severity  Urgency       `json:"severity,omitempty"`
	Status    BlockerStatus `json:"status,omitempty"`
	BlockedBy string        `json:"blocked_by,omitempty"`

	// Decision fields.
	WhatDecided string `json:"what_decided,omitempty"`
	DecidedBy   string `json:"decided_by,omitempty"`
	Context     string `json:"context,omitempty"`
	Impact      string `json:"impact,omitempty"`

	// Update fields.
	Who      string `json:"who,omitempty"`
	Category string `json:"category,omitempty"`

	// Action item fields.
	Description string `json:"description,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

// Team returns the event's primary team, or empty when unattributed.
func (e *Event) Team() string {
	if len(e.Teams) == 0 {
		return ""
	}
	return e.Teams[0]
}

// Validate performs basic shape validation. Malformed events are skipped by
// callers, never fatal to a run.
func (e *Event) Validate() error {
	if !e.Kind.Valid() {
		return ErrUnknownKind
	}
	if strings.TrimSpace(e.Summary) == "" {
		return ErrEmptySummary
	}
	if e.Confidence < 0.0 || e.Confidence > 1.0 {
		return ErrInvalidConfidence
	}
	return nil
}

// Mentions reports whether the event's text or ownership references the
// given name (case-insensitive substring match over summary, variant text,
// owners, and involved teams).
func (e *Event) Mentions(name string) bool {
	if name == "" {
		return false
	}
	needle := strings.ToLower(name)
	for _, hay := range []string{e.Summary, e.Issue, e.BlockedBy, e.Impact, e.Description, e.Owner} {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	for _, o := range e.Owners {
		if strings.Contains(strings.ToLower(o), needle) {
			return true
		}
	}
	for _, t := range e.Teams {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}

// TeamAnalysis is the extraction collaborator's result for one team: the
// events found in its channel plus a short summary and tone label.
type TeamAnalysis struct {
	TeamName     string `json:"team_name"`
	ChannelID    string `json:"channel_id"`
	MessageCount int    `json:"message_count"`

	Summary string `json:"summary"`
	Tone    string `json:"tone"`

	Events []Event `json:"events"`
}

// EmptyAnalysis is the substitute used when extraction fails or a channel
// has no messages. It contributes zero events and never an error.
func EmptyAnalysis(team, channel string) *TeamAnalysis {
	return &TeamAnalysis{
		TeamName:  team,
		ChannelID: channel,
		Summary:   "No significant activity to summarize.",
		Tone:      "routine",
	}
}
