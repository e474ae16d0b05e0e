// Package ranker scores and orders candidate digest items per persona.
package ranker

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/crestline-labs/digestd/internal/config"
	"github.com/crestline-labs/digestd/internal/events"
	"github.com/crestline-labs/digestd/internal/persona"
)

// KindAlert marks items wrapping a cross-team alert rather than a raw
// structured event.
const KindAlert events.Kind = "alert"

// Item is a rankable digest candidate: a structured event or cross-team
// alert flattened to the fields scoring needs.
type Item struct {
	ID         string
	Kind       events.Kind
	Team       string
	Teams      []string
	Title      string
	Summary    string
	Urgency    events.Urgency
	Confidence float64
}

// RankedItem pairs an item with its computed relevance score and the
// persona it was scored against.
type RankedItem struct {
	Item          Item
	Score         float64
	Persona       string
	MatchedTopics []string
}

// Output splits surviving items between the primary digest and the
// secondary thread view. Every input item appears in exactly one list.
type Output struct {
	Primary   []RankedItem
	Secondary []RankedItem
}

// AdjustmentSource supplies feedback-derived confidence deltas per
// (event kind, team). The zero delta means no adjustment.
type AdjustmentSource interface {
	Delta(kind events.Kind, team string) float64
}

// Ranker computes persona-relative relevance scores.
type Ranker struct {
	topicBonus    float64
	topicBonusCap float64
	logger        *zap.Logger
}

// New creates a Ranker with the configured tunables.
func New(cfg config.RankingConfig, logger *zap.Logger) *Ranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ranker{
		topicBonus:    cfg.TopicBonus,
		topicBonusCap: cfg.TopicBonusCap,
		logger:        logger,
	}
}

// Rank scores items against the persona and splits them into primary and
// secondary lists.
//
// Score = base x category boost x team factor x topic factor, where
// base is the urgency scale times feedback-adjusted confidence. The
// feedback delta is added to confidence before the base is computed and
// the sum is clamped to [0, 1], so an adjustment can never flip a score's
// sign. Items below the persona's minimum severity go to the secondary
// list; nothing else is dropped.
//
// Ordering is by score descending, ties broken by urgency descending,
// then by original input order (stable).
func (r *Ranker) Rank(items []Item, p persona.Persona, adjustments AdjustmentSource) Output {
	ranked := make([]RankedItem, 0, len(items))
	for _, item := range items {
		ranked = append(ranked, r.score(item, p, adjustments))
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Item.Urgency.Rank() > ranked[j].Item.Urgency.Rank()
	})

	var out Output
	minRank := p.MinSeverity.Rank()
	for _, ri := range ranked {
		if ri.Item.Urgency.Rank() < minRank {
			out.Secondary = append(out.Secondary, ri)
		} else {
			out.Primary = append(out.Primary, ri)
		}
	}

	r.logger.Debug("ranked items",
		zap.String("persona", p.Name),
		zap.Int("primary", len(out.Primary)),
		zap.Int("secondary", len(out.Secondary)),
	)

	return out
}

// score computes the relevance score for one item.
func (r *Ranker) score(item Item, p persona.Persona, adjustments AdjustmentSource) RankedItem {
	confidence := item.Confidence
	if adjustments != nil {
		confidence += adjustments.Delta(item.Kind, item.Team)
	}
	confidence = clamp01(confidence)

	base := float64(item.Urgency.Rank()) * confidence
	boost := p.Boost(item.Kind)

	teamFactor := 1.0
	if touchesOtherTeam(item, p.Team) {
		teamFactor = p.CrossTeamWeight
	}

	matched := p.MatchTopics(item.Title + " " + item.Summary)
	topicFactor := 1.0
	if len(matched) > 0 {
		bonus := r.topicBonus * float64(len(matched))
		if bonus > r.topicBonusCap {
			bonus = r.topicBonusCap
		}
		topicFactor = 1.0 + bonus
	}

	return RankedItem{
		Item:          item,
		Score:         base * boost * teamFactor * topicFactor,
		Persona:       p.Name,
		MatchedTopics: matched,
	}
}

// touchesOtherTeam reports whether the item involves any team other than
// the persona's own.
func touchesOtherTeam(item Item, ownTeam string) bool {
	if item.Team != "" && !strings.EqualFold(item.Team, ownTeam) {
		return true
	}
	for _, t := range item.Teams {
		if !strings.EqualFold(t, ownTeam) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
