package persona

import "github.com/crestline-labs/digestd/internal/events"

// Role templates define what each job function cares about. Cross-team
// weights live here; team templates do not define them.
func roleTemplates() map[string]template {
	lead := template{
		name: "lead",
		boosts: map[events.Kind]float64{
			events.KindBlocker:    1.5,
			events.KindDecision:   1.4,
			events.KindActionItem: 1.2,
			events.KindUpdate:     0.9,
		},
		crossTeamWeight: 1.4,
		topics: []string{
			"risk", "timeline", "deadline", "blocked", "decision",
			"escalate", "priority", "release", "demo",
		},
		minSeverity: events.UrgencyLow, // leads see everything
	}

	ic := template{
		name: "ic",
		boosts: map[events.Kind]float64{
			events.KindBlocker:    1.3,
			events.KindDecision:   1.1,
			events.KindActionItem: 1.4,
			events.KindUpdate:     1.0,
		},
		crossTeamWeight: 1.1,
		minSeverity:     events.UrgencyMedium,
	}

	pm := template{
		name: "pm",
		boosts: map[events.Kind]float64{
			events.KindBlocker:    1.4,
			events.KindDecision:   1.3,
			events.KindActionItem: 1.3,
			events.KindUpdate:     1.1,
		},
		crossTeamWeight: 1.3,
		topics: []string{
			"timeline", "deadline", "scope", "milestone", "dependency",
			"customer", "launch",
		},
		minSeverity: events.UrgencyLow,
	}

	executive := template{
		name: "executive",
		boosts: map[events.Kind]float64{
			events.KindBlocker:    1.3,
			events.KindDecision:   1.5,
			events.KindActionItem: 0.8,
			events.KindUpdate:     0.7,
		},
		crossTeamWeight: 1.5,
		topics: []string{
			"risk", "budget", "headcount", "launch", "escalate",
		},
		minSeverity: events.UrgencyHigh, // executives see only the sharp end
	}

	return map[string]template{
		"lead":      lead,
		"manager":   lead,
		"ic":        ic,
		"engineer":  ic,
		"developer": ic,
		"pm":        pm,
		"executive": executive,
		"exec":      executive,
	}
}

// Team templates carry domain topics and mild kind boosts.
func teamTemplates() map[string]template {
	mechanical := template{
		name: "mechanical",
		boosts: map[events.Kind]float64{
			events.KindBlocker:  1.2,
			events.KindDecision: 1.1,
		},
		topics: []string{
			"CAD", "FEA", "tolerances", "CNC", "machining", "fixture",
			"DFM", "prototype", "aluminum", "bracket", "housing", "chassis",
			"vendor", "lead time",
		},
		minSeverity: events.UrgencyMedium,
	}

	electrical := template{
		name: "electrical",
		boosts: map[events.Kind]float64{
			events.KindBlocker:  1.3,
			events.KindDecision: 1.1,
		},
		topics: []string{
			"PCB", "schematic", "layout", "BOM", "power", "voltage",
			"thermal", "firmware", "connector", "burn-in", "brown-out",
		},
		minSeverity: events.UrgencyMedium,
	}

	software := template{
		name: "software",
		boosts: map[events.Kind]float64{
			events.KindBlocker:  1.2,
			events.KindDecision: 1.2,
		},
		topics: []string{
			"PR", "code review", "deploy", "release", "staging", "API",
			"latency", "monitoring", "firmware", "integration",
		},
		minSeverity: events.UrgencyMedium,
	}

	general := template{
		name:        "general",
		minSeverity: events.UrgencyMedium,
	}

	return map[string]template{
		"mechanical": mechanical,
		"mech":       mechanical,
		"electrical": electrical,
		"ee":         electrical,
		"hardware":   electrical,
		"software":   software,
		"sw":         software,
		"firmware":   software,
		"general":    general,
	}
}
