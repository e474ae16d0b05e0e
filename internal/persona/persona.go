// Package persona resolves per-recipient ranking profiles from role and
// team templates plus optional user overrides.
package persona

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/crestline-labs/digestd/internal/events"
)

// Persona is the resolved ranking and filtering profile for one recipient.
//
// Resolution is a pure function of (role, team, overrides); a Persona
// carries no hidden mutable state.
type Persona struct {
	// Name labels the resolved combination, e.g. "lead_electrical".
	Name string

	// Team is the recipient's own team; items touching other teams get the
	// cross-team weight applied.
	Team string

	// Boosts multiplies scores per event kind. Missing kinds default to 1.0.
	Boosts map[events.Kind]float64

	// CrossTeamWeight multiplies items touching teams other than Team.
	CrossTeamWeight float64

	// Topics are keywords that raise relevance when they appear in an item
	// summary.
	Topics []string

	// MinSeverity is the minimum urgency for the primary digest. Items below
	// it still appear in the secondary thread view.
	MinSeverity events.Urgency
}

// Boost returns the multiplier for an event kind, defaulting to 1.0.
func (p *Persona) Boost(kind events.Kind) float64 {
	if b, ok := p.Boosts[kind]; ok {
		return b
	}
	return 1.0
}

// MatchTopics returns the persona topics appearing in text.
func (p *Persona) MatchTopics(text string) []string {
	lower := strings.ToLower(text)
	var matched []string
	for _, topic := range p.Topics {
		if topic != "" && strings.Contains(lower, strings.ToLower(topic)) {
			matched = append(matched, topic)
		}
	}
	return matched
}

// Overrides replace resolved persona fields outright when present.
type Overrides struct {
	Boosts          map[events.Kind]float64 `json:"boosts,omitempty"`
	CrossTeamWeight *float64                `json:"cross_team_weight,omitempty"`
	Topics          []string                `json:"topics,omitempty"`
	MinSeverity     *events.Urgency         `json:"min_severity,omitempty"`
}

// Resolver combines role and team templates into effective personas.
type Resolver struct {
	roles  map[string]template
	teams  map[string]template
	logger *zap.Logger
}

// template is one side (role or team) of a persona definition.
type template struct {
	name            string
	boosts          map[events.Kind]float64
	crossTeamWeight float64
	topics          []string
	minSeverity     events.Urgency
}

// NewResolver creates a resolver over the built-in role and team templates.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		roles:  roleTemplates(),
		teams:  teamTemplates(),
		logger: logger,
	}
}

// Resolve merges the role template, team template, and overrides into one
// effective persona.
//
// Merge rules: boosts multiply per kind (missing entries count as 1.0); the
// cross-team weight comes from the role template; topic lists union; the
// minimum severity takes the stricter (higher) of the two templates.
// Overrides, when set, replace the corresponding field outright.
//
// Unknown role or team names fall back to the default templates ("ic",
// "general") rather than failing the run.
func (r *Resolver) Resolve(role, team string, overrides *Overrides) Persona {
	rt, ok := r.roles[strings.ToLower(role)]
	if !ok {
		r.logger.Warn("unknown role, using default persona",
			zap.String("role", role),
			zap.String("fallback", "ic"),
		)
		rt = r.roles["ic"]
	}
	tt, ok := r.teams[strings.ToLower(team)]
	if !ok {
		r.logger.Warn("unknown team, using default persona",
			zap.String("team", team),
			zap.String("fallback", "general"),
		)
		tt = r.teams["general"]
	}

	boosts := make(map[events.Kind]float64)
	for _, kind := range events.Kinds() {
		rb, tb := 1.0, 1.0
		if b, ok := rt.boosts[kind]; ok {
			rb = b
		}
		if b, ok := tt.boosts[kind]; ok {
			tb = b
		}
		boosts[kind] = rb * tb
	}

	topics := unionTopics(rt.topics, tt.topics)

	minSeverity := rt.minSeverity
	if tt.minSeverity.Rank() > minSeverity.Rank() {
		minSeverity = tt.minSeverity
	}

	p := Persona{
		Name:            rt.name + "_" + tt.name,
		Team:            tt.name,
		Boosts:          boosts,
		CrossTeamWeight: rt.crossTeamWeight,
		Topics:          topics,
		MinSeverity:     minSeverity,
	}

	if overrides != nil {
		if overrides.Boosts != nil {
			p.Boosts = overrides.Boosts
		}
		if overrides.CrossTeamWeight != nil {
			p.CrossTeamWeight = *overrides.CrossTeamWeight
		}
		if overrides.Topics != nil {
			p.Topics = overrides.Topics
		}
		if overrides.MinSeverity != nil {
			p.MinSeverity = *overrides.MinSeverity
		}
	}

	return p
}

// unionTopics merges topic lists, dropping duplicates case-insensitively
// and keeping a deterministic order.
func unionTopics(a, b []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{a, b} {
		for _, t := range list {
			key := strings.ToLower(t)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}
