// Package memory persists decision and blocker records across digest runs,
// deduplicating repeats and tracking blocker resolution state.
package memory

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
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/crestline-labs/digestd/internal/events"
)

const instrumentationName = "github.com/crestline-labs/digestd/internal/memory"

const (
	decisionsFile = "decisions.json"
	blockersFile  = "blockers.json"
)

// Store is the single writer for persisted decision and blocker records.
// External orchestration guarantees single-writer access per run; the
// internal mutex only protects concurrent reads within a process.
type Store struct {
	dir    string
	logger *zap.Logger

	tracer        trace.Tracer
	meter         metric.Meter
	recordCounter metric.Int64Counter

	mu        sync.RWMutex
	decisions []DecisionRecord
	blockers  []BlockerRecord
}

// NewStore opens the store rooted at dir, creating it when absent.
//
// An unreadable or unparseable record file is state corruption: the store
// reinitializes that file empty and logs the data loss at error level
// rather than failing the run.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create memory dir %s: %w", dir, err)
	}

	s := &Store{
		dir:    dir,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	s.initMetrics()

	loadRecords(filepath.Join(dir, decisionsFile), &s.decisions, logger)
	loadRecords(filepath.Join(dir, blockersFile), &s.blockers, logger)

	return s, nil
}

func (s *Store) initMetrics() {
	var err error
	s.recordCounter, err = s.meter.Int64Counter(
		"digestd.memory.records_total",
		metric.WithDescription("Total events recorded into memory"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		s.logger.Warn("failed to create record counter", zap.Error(err))
	}
}

// loadRecords reads a JSON record file into dst, reinitializing empty on
// corruption.
func loadRecords[T any](path string, dst *[]T, logger *zap.Logger) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		logger.Error("memory store unreadable, reinitializing empty",
			zap.String("path", path),
			zap.Error(err),
		)
		return
	}
	if err := json.Unmarshal(data, dst); err != nil {
		logger.Error("memory store corrupt, reinitializing empty",
			zap.String("path", path),
			zap.Error(err),
		)
		*dst = nil
	}
}

// Record persists the run's decisions and blockers.
//
// Duplicate records (matching dedup keys) refresh the existing record's
// last-seen timestamp and, for blockers, advance status. A status
// transition that would move backward (e.g. resolved to open) violates
// the forward-only lifecycle and is logged and ignored; a reopened
// blocker must arrive as a new record. Writes are idempotent upserts, so
// a retried run converges to the same state.
func (s *Store) Record(ctx context.Context, evs []events.Event) (RecordResult, error) {
	ctx, span := s.tracer.Start(ctx, "memory.record")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var result RecordResult

	for i := range evs {
		ev := &evs[i]
		if err := ev.Validate(); err != nil {
			s.logger.Warn("skipping malformed event",
				zap.String("kind", string(ev.Kind)),
				zap.Error(err),
			)
			continue
		}

		switch ev.Kind {
		case events.KindDecision:
			if s.upsertDecision(ev, now) {
				result.New++
			} else {
				result.Duplicate++
			}
		case events.KindBlocker:
			if s.upsertBlocker(ev, now) {
				result.New++
			} else {
				result.Duplicate++
			}
		}
	}

	if err := s.save(); err != nil {
		span.RecordError(err)
		return result, err
	}

	if s.recordCounter != nil {
		s.recordCounter.Add(ctx, int64(result.New+result.Duplicate),
			metric.WithAttributes(attribute.Int("new", result.New)))
	}

	span.SetAttributes(
		attribute.Int("new_count", result.New),
		attribute.Int("duplicate_count", result.Duplicate),
	)
	return result, nil
}

// upsertDecision returns true when a new record was inserted.
func (s *Store) upsertDecision(ev *events.Event, now time.Time) bool {
	rec := DecisionRecord{
		Team:        ev.Team(),
		Summary:     ev.Summary,
		WhatDecided: ev.WhatDecided,
		DecidedBy:   ev.DecidedBy,
		Context:     ev.Context,
		Impact:      ev.Impact,
		Channel:     ev.Channel,
	}
	key := rec.dedupKey()

	for i := range s.decisions {
		if s.decisions[i].dedupKey() == key {
			s.decisions[i].LastSeen = now
			return false
		}
	}

	rec.ID = "dec_" + uuid.New().String()
	rec.RecordedAt = now
	rec.LastSeen = now
	s.decisions = append(s.decisions, rec)
	return true
}

// upsertBlocker returns true when a new record was inserted.
func (s *Store) upsertBlocker(ev *events.Event, now time.Time) bool {
	status := ev.Status
	if status == "" {
		status = events.StatusOpen
	}
	severity := ev.Severity
	if severity == "" {
		severity = ev.Urgency
	}

	rec := BlockerRecord{
		Team:      ev.Team(),
		Issue:     firstNonEmpty(ev.Issue, ev.Summary),
		Owner:     ev.Owner,
		Severity:  severity,
		Status:    status,
		BlockedBy: ev.BlockedBy,
		Channel:   ev.Channel,
	}
	key := rec.dedupKey()

	for i := range s.blockers {
		existing := &s.blockers[i]
		if existing.dedupKey() != key {
			continue
		}
		existing.LastSeen = now

		switch {
		case status.Rank() > existing.Status.Rank():
			existing.Status = status
			if status == events.StatusResolved {
				t := now
				existing.ResolvedAt = &t
			}
		case status.Rank() < existing.Status.Rank():
			s.logger.Warn("rejecting backward blocker status transition",
				zap.String("blocker_id", existing.ID),
				zap.String("from", string(existing.Status)),
				zap.String("to", string(status)),
			)
		}
		return false
	}

	rec.ID = "blk_" + uuid.New().String()
	rec.CreatedAt = now
	rec.LastSeen = now
	if status == events.StatusResolved {
		t := now
		rec.ResolvedAt = &t
	}
	s.blockers = append(s.blockers, rec)
	return true
}

// ActiveBlockers returns unresolved blockers ordered by severity
// descending, then oldest first.
func (s *Store) ActiveBlockers() []BlockerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []BlockerRecord
	for _, b := range s.blockers {
		if b.Status != events.StatusResolved {
			out = append(out, b)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity.Rank() != out[j].Severity.Rank() {
			return out[i].Severity.Rank() > out[j].Severity.Rank()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out
}

// DecisionsSince returns decisions recorded within the lookback window,
// newest first.
func (s *Store) DecisionsSince(lookback time.Duration) []DecisionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-lookback)
	var out []DecisionRecord
	for _, d := range s.decisions {
		if d.RecordedAt.After(cutoff) {
			out = append(out, d)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecordedAt.After(out[j].RecordedAt)
	})

	return out
}

// save writes both record files atomically (temp file then rename).
func (s *Store) save() error {
	if err := writeJSON(filepath.Join(s.dir, decisionsFile), s.decisions); err != nil {
		return fmt.Errorf("failed to save decisions: %w", err)
	}
	if err := writeJSON(filepath.Join(s.dir, blockersFile), s.blockers); err != nil {
		return fmt.Errorf("failed to save blockers: %w", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
