// Package digest orchestrates a full digest run: fetch, analyze, link,
// remember, rank per recipient, render, and deliver.
package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/crestline-labs/digestd/internal/config"
	"github.com/crestline-labs/digestd/internal/delivery"
	"github.com/crestline-labs/digestd/internal/events"
	"github.com/crestline-labs/digestd/internal/extraction"
	"github.com/crestline-labs/digestd/internal/feedback"
	"github.com/crestline-labs/digestd/internal/linker"
	"github.com/crestline-labs/digestd/internal/memory"
	"github.com/crestline-labs/digestd/internal/persona"
	"github.com/crestline-labs/digestd/internal/ranker"
	"github.com/crestline-labs/digestd/internal/runstate"
)

const instrumentationName = "github.com/crestline-labs/digestd/internal/digest"

// EventRecorder persists the run's decisions and blockers.
type EventRecorder interface {
	Record(ctx context.Context, evs []events.Event) (memory.RecordResult, error)
	ActiveBlockers() []memory.BlockerRecord
	DecisionsSince(lookback time.Duration) []memory.DecisionRecord
}

// FeedbackStore supplies confidence adjustments and stored personas, and
// registers delivered items for later feedback attribution.
type FeedbackStore interface {
	Adjustments(ctx context.Context) feedback.Adjustments
	RegisterItems(ctx context.Context, items []feedback.Item) error
	Persona(ctx context.Context, userID string) (role, team string, overrides *persona.Overrides, err error)
}

// StateTracker supplies the run window and commits the watermark.
type StateTracker interface {
	Since(lookback time.Duration) time.Time
	Commit(run runstate.Run, channels []string) error
}

// Deliverer fans messages out to their targets.
type Deliverer interface {
	Deliver(ctx context.Context, msgs []delivery.Message) ([]delivery.Result, error)
}

// Pipeline wires the digest stages together.
type Pipeline struct {
	cfg      *config.Config
	source   Source
	analyzer extraction.Analyzer
	linker   *linker.Linker
	memory   EventRecorder
	feedback FeedbackStore
	resolver *persona.Resolver
	ranker   *ranker.Ranker
	tracker  StateTracker
	delivery Deliverer
	logger   *zap.Logger
	tracer   trace.Tracer
}

// Params collects the pipeline's collaborators.
type Params struct {
	Config   *config.Config
	Source   Source
	Analyzer extraction.Analyzer
	Linker   *linker.Linker
	Memory   EventRecorder
	Feedback FeedbackStore
	Resolver *persona.Resolver
	Ranker   *ranker.Ranker
	Tracker  StateTracker
	Delivery Deliverer
	Logger   *zap.Logger
}

// NewPipeline assembles a pipeline from its collaborators.
func NewPipeline(p Params) *Pipeline {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:      p.Config,
		source:   p.Source,
		analyzer: p.Analyzer,
		linker:   p.Linker,
		memory:   p.Memory,
		feedback: p.Feedback,
		resolver: p.Resolver,
		ranker:   p.Ranker,
		tracker:  p.Tracker,
		delivery: p.Delivery,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}
}

// Report summarizes one completed run.
type Report struct {
	RunID        string    `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	Teams        []string  `json:"teams"`
	EventCount   int       `json:"event_count"`
	Dependencies int       `json:"dependency_count"`
	Alerts       int       `json:"alert_count"`
	NewRecords   int       `json:"new_records"`
	Delivered    int       `json:"delivered"`
	Failed       int       `json:"failed"`
}

// Run executes one digest cycle. The watermark only commits after
// delivery, so a failed run is re-covered by the next one.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	ctx, span := p.tracer.Start(ctx, "digest.run")
	defer span.End()

	report := &Report{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
	}
	span.SetAttributes(attribute.String("run_id", report.RunID))

	lookback := time.Duration(p.cfg.LookbackHours) * time.Hour
	since := p.tracker.Since(lookback)

	p.logger.Info("digest run starting",
		zap.String("run_id", report.RunID),
		zap.Time("since", since),
		zap.Int("teams", len(p.cfg.Channels)),
	)

	analyses := p.analyzeTeams(ctx, since)

	eventsByTeam := make(map[string][]events.Event, len(analyses))
	var allEvents []events.Event
	for _, a := range analyses {
		eventsByTeam[a.TeamName] = a.Events
		allEvents = append(allEvents, a.Events...)
		report.Teams = append(report.Teams, a.TeamName)
	}
	report.EventCount = len(allEvents)

	deps, highlights := p.linker.Detect(eventsByTeam)
	alerts := p.linker.BuildAlerts(deps)
	report.Dependencies = len(deps)
	report.Alerts = len(alerts)

	recorded, err := p.memory.Record(ctx, allEvents)
	if err != nil {
		// Memory is advisory for this run; the digest still goes out.
		p.logger.Error("failed to persist event records", zap.Error(err))
	}
	report.NewRecords = recorded.New

	adjustments := p.feedback.Adjustments(ctx)

	items := buildItems(report.RunID, allEvents, alerts)
	if err := p.feedback.RegisterItems(ctx, toFeedbackItems(report.RunID, items)); err != nil {
		p.logger.Warn("failed to register digest items for feedback", zap.Error(err))
	}

	msgs := p.composeMessages(ctx, report, analyses, items, alerts, highlights, adjustments)

	results, err := p.delivery.Deliver(ctx, msgs)
	for _, res := range results {
		if res.Err != nil {
			report.Failed++
		} else {
			report.Delivered++
		}
	}
	if err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("digest delivery failed: %w", err)
	}

	if err := p.exportAlerts(alerts); err != nil {
		p.logger.Warn("failed to export alerts", zap.Error(err))
	}

	completed := time.Now()
	channels := make([]string, 0, len(p.cfg.Channels))
	for _, ch := range p.cfg.Channels {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	if err := p.tracker.Commit(runstate.Run{
		RunID:       report.RunID,
		CompletedAt: completed,
		EventCount:  report.EventCount,
		AlertCount:  report.Alerts,
	}, channels); err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("failed to commit run state: %w", err)
	}

	p.logger.Info("digest run complete",
		zap.String("run_id", report.RunID),
		zap.Int("events", report.EventCount),
		zap.Int("alerts", report.Alerts),
		zap.Int("delivered", report.Delivered),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// analyzeTeams fetches and analyzes every team channel concurrently. A
// failed team degrades to an empty analysis so the rest of the run
// proceeds. Results come back in sorted team order for determinism.
func (p *Pipeline) analyzeTeams(ctx context.Context, since time.Time) []*events.TeamAnalysis {
	ctx, span := p.tracer.Start(ctx, "digest.analyze_teams")
	defer span.End()

	teams := make([]string, 0, len(p.cfg.Channels))
	for team := range p.cfg.Channels {
		teams = append(teams, team)
	}
	sort.Strings(teams)

	results := make([]*events.TeamAnalysis, len(teams))
	var wg sync.WaitGroup
	for i, team := range teams {
		wg.Add(1)
		go func(i int, team, channel string) {
			defer wg.Done()
			results[i] = p.analyzeTeam(ctx, team, channel, since)
		}(i, team, p.cfg.Channels[team])
	}
	wg.Wait()

	return results
}

func (p *Pipeline) analyzeTeam(ctx context.Context, team, channel string, since time.Time) *events.TeamAnalysis {
	msgs, err := p.source.Fetch(ctx, channel, since)
	if err != nil {
		p.logger.Warn("message fetch failed, team contributes nothing this run",
			zap.String("team", team),
			zap.Error(err),
		)
		return events.EmptyAnalysis(team, channel)
	}

	analysis, err := p.analyzer.Analyze(ctx, team, channel, msgs)
	if err != nil {
		p.logger.Warn("analysis failed, team contributes nothing this run",
			zap.String("team", team),
			zap.Int("messages", len(msgs)),
			zap.Error(err),
		)
		return events.EmptyAnalysis(team, channel)
	}
	return analysis
}

// buildItems flattens events and alerts into rankable digest items with
// run-scoped stable IDs.
func buildItems(runID string, evs []events.Event, alerts []linker.CrossTeamAlert) []ranker.Item {
	items := make([]ranker.Item, 0, len(evs)+len(alerts))
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}

	for i, ev := range evs {
		items = append(items, ranker.Item{
			ID:         fmt.Sprintf("%s-e%03d", short, i),
			Kind:       ev.Kind,
			Team:       ev.Team(),
			Teams:      ev.Teams,
			Summary:    ev.Summary,
			Urgency:    ev.Urgency,
			Confidence: ev.Confidence,
		})
	}
	for _, a := range alerts {
		items = append(items, ranker.Item{
			ID:         fmt.Sprintf("%s-%s", short, a.ID),
			Kind:       ranker.KindAlert,
			Team:       a.Dependency.FromTeam,
			Teams:      []string{a.Dependency.FromTeam, a.Dependency.ToTeam},
			Title:      a.Title,
			Summary:    a.Dependency.Summary,
			Urgency:    a.Dependency.Urgency,
			Confidence: a.Dependency.Confidence,
		})
	}
	return items
}

func toFeedbackItems(runID string, items []ranker.Item) []feedback.Item {
	out := make([]feedback.Item, 0, len(items))
	for _, it := range items {
		title := it.Title
		if title == "" {
			title = it.Summary
		}
		out = append(out, feedback.Item{
			ID:    it.ID,
			RunID: runID,
			Kind:  it.Kind,
			Team:  it.Team,
			Title: title,
		})
	}
	return out
}

// composeMessages builds the outbound posts: the main channel digest,
// one personalized digest per recipient, and leadership alert DMs.
func (p *Pipeline) composeMessages(
	ctx context.Context,
	report *Report,
	analyses []*events.TeamAnalysis,
	items []ranker.Item,
	alerts []linker.CrossTeamAlert,
	highlights []string,
	adjustments feedback.Adjustments,
) []delivery.Message {
	var msgs []delivery.Message

	if p.cfg.DigestChannel != "" {
		msgs = append(msgs, delivery.Message{
			Target: p.cfg.DigestChannel,
			Text:   p.formatMain(report, analyses, alerts, highlights),
		})
	}

	// Each team also gets its own summary in its own channel.
	for _, a := range analyses {
		if len(a.Events) == 0 {
			continue
		}
		if ch := p.cfg.Channels[a.TeamName]; ch != "" {
			msgs = append(msgs, delivery.Message{
				Target: ch,
				Text:   FormatTeamSummary(a.TeamName, a.Summary, a.Tone, len(a.Events)),
			})
		}
	}

	for _, rcpt := range p.cfg.Recipients {
		pers := p.resolveRecipient(ctx, rcpt)
		out := p.ranker.Rank(items, pers, adjustments)

		msgs = append(msgs, delivery.Message{
			Target: rcpt.ID,
			Text:   FormatPersonal(report.StartedAt, pers, out, highlights),
		})
		if thread := FormatSecondaryThread(out); thread != "" {
			msgs = append(msgs, delivery.Message{Target: rcpt.ID, Text: thread})
		}
	}

	if dm := FormatAlertDM(alerts); dm != "" {
		for _, leader := range p.cfg.Leadership {
			msgs = append(msgs, delivery.Message{Target: leader, Text: dm})
		}
	}

	return msgs
}

// resolveRecipient prefers a stored persona assignment over the static
// config entry.
func (p *Pipeline) resolveRecipient(ctx context.Context, rcpt config.Recipient) persona.Persona {
	role, team, overrides, err := p.feedback.Persona(ctx, rcpt.ID)
	if err != nil {
		role, team, overrides = rcpt.Role, rcpt.Team, nil
	}
	return p.resolver.Resolve(role, team, overrides)
}

func (p *Pipeline) formatMain(report *Report, analyses []*events.TeamAnalysis, alerts []linker.CrossTeamAlert, highlights []string) string {
	var b []string
	b = append(b, fmt.Sprintf("*Engineering Digest — %s*\n", report.StartedAt.Format("Mon Jan 2")))

	for _, h := range highlights {
		b = append(b, "> "+h)
	}
	for _, a := range analyses {
		b = append(b, FormatTeamSummary(a.TeamName, a.Summary, a.Tone, len(a.Events)))
	}
	if dm := FormatAlertDM(alerts); dm != "" {
		b = append(b, dm)
	}
	if board := FormatBlockerBoard(p.memory.ActiveBlockers()); board != "" {
		b = append(b, board)
	}
	if log := FormatDecisionLog(p.memory.DecisionsSince(time.Duration(p.cfg.LookbackHours) * time.Hour)); log != "" {
		b = append(b, log)
	}

	out := ""
	for i, s := range b {
		if i > 0 {
			out += "\n"
		}
		out += s
	}
	return out
}

// exportAlerts writes the run's alerts for leadership tooling and audit.
func (p *Pipeline) exportAlerts(alerts []linker.CrossTeamAlert) error {
	path := p.cfg.Storage.AlertExport
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(alerts, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
