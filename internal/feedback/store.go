// Package feedback persists reader reactions to digest items and turns
// them into confidence adjustments for future ranking runs.
package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/crestline-labs/digestd/internal/config"
	"github.com/crestline-labs/digestd/internal/events"
	"github.com/crestline-labs/digestd/internal/persona"
)

const instrumentationName = "github.com/crestline-labs/digestd/internal/feedback"

// Common errors.
var (
	ErrInvalidSignal  = errors.New("invalid feedback signal")
	ErrUnknownItem    = errors.New("unknown digest item")
	ErrMissingUser    = errors.New("feedback user id cannot be empty")
	ErrPersonaMissing = errors.New("no stored persona for user")
)

const schema = `
CREATE TABLE IF NOT EXISTS digest_items (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	team       TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS feedback_events (
	digest_item_id TEXT NOT NULL REFERENCES digest_items(id),
	user_id        TEXT NOT NULL,
	signal         TEXT NOT NULL,
	note           TEXT NOT NULL DEFAULT '',
	updated_at     TEXT NOT NULL,
	PRIMARY KEY (digest_item_id, user_id)
);

CREATE TABLE IF NOT EXISTS user_personas (
	user_id    TEXT PRIMARY KEY,
	role       TEXT NOT NULL,
	team       TEXT NOT NULL,
	overrides  TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feedback_item ON feedback_events(digest_item_id);
CREATE INDEX IF NOT EXISTS idx_items_run ON digest_items(run_id);
`

// Store is the SQLite-backed feedback ledger. One reaction row exists
// per (digest item, reader); a changed reaction replaces the old one.
type Store struct {
	db     *sql.DB
	step   float64
	clamp  float64
	logger *zap.Logger

	tracer          trace.Tracer
	feedbackCounter metric.Int64Counter
}

// NewStore opens (creating if needed) the feedback database at path.
func NewStore(path string, cfg config.FeedbackConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create feedback db dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open feedback db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate feedback schema: %w", err)
	}

	s := &Store{
		db:     db,
		step:   cfg.Step,
		clamp:  cfg.Clamp,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}

	meter := otel.Meter(instrumentationName)
	s.feedbackCounter, err = meter.Int64Counter(
		"digestd.feedback.events_total",
		metric.WithDescription("Total feedback events stored"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		logger.Warn("failed to create feedback counter", zap.Error(err))
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RegisterItems records the digest items of a run so later feedback can
// be attributed to each item's kind and team.
func (s *Store) RegisterItems(ctx context.Context, items []Item) error {
	ctx, span := s.tracer.Start(ctx, "feedback.register_items")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, it := range items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO digest_items (id, run_id, kind, team, title, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			it.ID, it.RunID, string(it.Kind), it.Team, it.Title, now,
		)
		if err != nil {
			return fmt.Errorf("failed to register item %s: %w", it.ID, err)
		}
	}

	span.SetAttributes(attribute.Int("item_count", len(items)))
	return tx.Commit()
}

// Record stores one feedback event. A repeat reaction from the same
// reader on the same item replaces the previous signal rather than
// accumulating, so one reader counts once per item.
func (s *Store) Record(ctx context.Context, ev Event) (StoreOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "feedback.record")
	defer span.End()

	if !ev.Signal.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSignal, ev.Signal)
	}
	if ev.UserID == "" {
		return "", ErrMissingUser
	}

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM digest_items WHERE id = ?`, ev.DigestItemID,
	).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("failed to look up digest item: %w", err)
	}
	if exists == 0 {
		return "", fmt.Errorf("%w: %s", ErrUnknownItem, ev.DigestItemID)
	}

	var prior string
	err = s.db.QueryRowContext(ctx,
		`SELECT signal FROM feedback_events WHERE digest_item_id = ? AND user_id = ?`,
		ev.DigestItemID, ev.UserID,
	).Scan(&prior)
	replaced := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to look up prior feedback: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO feedback_events (digest_item_id, user_id, signal, note, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(digest_item_id, user_id) DO UPDATE SET
		   signal = excluded.signal,
		   note = excluded.note,
		   updated_at = excluded.updated_at`,
		ev.DigestItemID, ev.UserID, string(ev.Signal), ev.Note,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to store feedback: %w", err)
	}

	if s.feedbackCounter != nil {
		s.feedbackCounter.Add(ctx, 1,
			metric.WithAttributes(attribute.String("signal", string(ev.Signal))))
	}

	if replaced {
		s.logger.Debug("feedback replaced",
			zap.String("item", ev.DigestItemID),
			zap.String("user", ev.UserID),
			zap.String("prior", prior),
			zap.String("signal", string(ev.Signal)),
		)
		return OutcomeReplaced, nil
	}
	return OutcomeStored, nil
}

// Adjustments aggregates stored feedback into per-(kind, team) confidence
// deltas.
//
// Each accurate signal pulls the delta up one step; wrong and irrelevant
// pull it down one step; missing-context is qualitative and contributes
// nothing here. The result is clamped to +/- the configured limit. A
// query failure degrades to no adjustments with a warning, never a
// failed run.
func (s *Store) Adjustments(ctx context.Context) Adjustments {
	ctx, span := s.tracer.Start(ctx, "feedback.adjustments")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `
		SELECT di.kind, di.team,
		       SUM(CASE fe.signal
		             WHEN 'accurate' THEN 1
		             WHEN 'wrong' THEN -1
		             WHEN 'irrelevant' THEN -1
		             ELSE 0
		           END)
		FROM feedback_events fe
		JOIN digest_items di ON di.id = fe.digest_item_id
		GROUP BY di.kind, di.team`)
	if err != nil {
		s.logger.Warn("feedback aggregation failed, ranking without adjustments", zap.Error(err))
		span.RecordError(err)
		return Adjustments{}
	}
	defer rows.Close()

	adj := Adjustments{}
	for rows.Next() {
		var kind, team string
		var net int
		if err := rows.Scan(&kind, &team, &net); err != nil {
			s.logger.Warn("feedback row scan failed, ranking without adjustments", zap.Error(err))
			return Adjustments{}
		}
		delta := float64(net) * s.step
		if delta > s.clamp {
			delta = s.clamp
		}
		if delta < -s.clamp {
			delta = -s.clamp
		}
		if delta != 0 {
			adj[adjustmentKey(events.Kind(kind), team)] = delta
		}
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("feedback aggregation failed, ranking without adjustments", zap.Error(err))
		return Adjustments{}
	}

	span.SetAttributes(attribute.Int("pair_count", len(adj)))
	return adj
}

// MissingContextNotes returns the notes attached to missing-context
// feedback for a team, most recent first. These surface to extraction as
// qualitative hints, not score changes.
func (s *Store) MissingContextNotes(ctx context.Context, team string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fe.note
		FROM feedback_events fe
		JOIN digest_items di ON di.id = fe.digest_item_id
		WHERE fe.signal = 'missing_context' AND di.team = ? AND fe.note != ''
		ORDER BY fe.updated_at DESC`, team)
	if err != nil {
		return nil, fmt.Errorf("failed to query missing-context notes: %w", err)
	}
	defer rows.Close()

	var notes []string
	for rows.Next() {
		var note string
		if err := rows.Scan(&note); err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

// SetPersona stores or replaces a reader's persona assignment.
func (s *Store) SetPersona(ctx context.Context, userID, role, team string, overrides *persona.Overrides) error {
	if userID == "" {
		return ErrMissingUser
	}

	var blob string
	if overrides != nil {
		data, err := json.Marshal(overrides)
		if err != nil {
			return fmt.Errorf("failed to encode persona overrides: %w", err)
		}
		blob = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_personas (user_id, role, team, overrides, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   role = excluded.role,
		   team = excluded.team,
		   overrides = excluded.overrides,
		   updated_at = excluded.updated_at`,
		userID, role, team, blob, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to store persona: %w", err)
	}
	return nil
}

// Persona returns a reader's stored role, team, and overrides.
func (s *Store) Persona(ctx context.Context, userID string) (role, team string, overrides *persona.Overrides, err error) {
	var blob string
	err = s.db.QueryRowContext(ctx,
		`SELECT role, team, overrides FROM user_personas WHERE user_id = ?`, userID,
	).Scan(&role, &team, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil, fmt.Errorf("%w: %s", ErrPersonaMissing, userID)
	}
	if err != nil {
		return "", "", nil, fmt.Errorf("failed to load persona: %w", err)
	}

	if blob != "" {
		var o persona.Overrides
		if err := json.Unmarshal([]byte(blob), &o); err != nil {
			s.logger.Warn("stored persona overrides corrupt, ignoring",
				zap.String("user", userID),
				zap.Error(err),
			)
		} else {
			overrides = &o
		}
	}
	return role, team, overrides, nil
}
