// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package conflict derives scheduling conflicts from a conversation's
// confirmed events and pending deadlines.
//
// Output is derived, never authoritative: each detection run replaces the
// conversation's unresolved conflict set. Pairwise comparison is O(n²) over
// the candidate set, acceptable for bounded per-conversation item counts.
package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/loopline/insights/internal/models"
)

// DefaultHorizon bounds how far ahead detection looks.
const DefaultHorizon = 60 * 24 * time.Hour

// Store is the persistence the detector needs.
type Store interface {
	ListConfirmedEventsInRange(ctx context.Context, conversationID string, from, to time.Time) ([]models.CalendarEvent, error)
	ListPendingDeadlinesInRange(ctx context.Context, conversationID string, from, to time.Time) ([]models.Deadline, error)
	ReplaceConflicts(ctx context.Context, conversationID string, detected []models.SchedulingConflict) ([]models.SchedulingConflict, error)
	ResolveConflict(ctx context.Context, id string) error
}

// Detector is the conflict detection engine.
type Detector struct {
	store   Store
	horizon time.Duration
	now     func() time.Time
}

// New creates a detector with the default forward horizon.
func New(store Store) *Detector {
	return &Detector{store: store, horizon: DefaultHorizon, now: time.Now}
}

// Detect recomputes the conversation's conflict set and returns the
// unresolved conflicts now on record.
func (d *Detector) Detect(ctx context.Context, conversationID string) ([]models.SchedulingConflict, error) {
	from := d.now().UTC().Truncate(24 * time.Hour)
	to := from.Add(d.horizon)

	events, err := d.store.ListConfirmedEventsInRange(ctx, conversationID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load confirmed events: %w", err)
	}
	deadlines, err := d.store.ListPendingDeadlinesInRange(ctx, conversationID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load pending deadlines: %w", err)
	}

	detected := Pairwise(events, deadlines)
	kept, err := d.store.ReplaceConflicts(ctx, conversationID, detected)
	if err != nil {
		return nil, fmt.Errorf("replace conflicts: %w", err)
	}
	return kept, nil
}

// Resolve marks one conflict resolved. The pair stays resolved across
// recomputation until either side's schedule changes.
func (d *Detector) Resolve(ctx context.Context, id string) error {
	if err := d.store.ResolveConflict(ctx, id); err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}
	return nil
}

// Pairwise compares every event/event and event/deadline pair and emits a
// conflict record for each time collision. Deadline/deadline pairs are not
// compared — two tasks due the same day are not a scheduling conflict.
// Deterministic: the same input always yields the same records in the same
// order.
func Pairwise(events []models.CalendarEvent, deadlines []models.Deadline) []models.SchedulingConflict {
	var out []models.SchedulingConflict

	for i := 0; i < len(events); i++ {
		for j := i + 1; j < len(events); j++ {
			if c := compareEvents(&events[i], &events[j]); c != nil {
				out = append(out, *c)
			}
		}
	}
	for i := range events {
		for j := range deadlines {
			if c := compareEventDeadline(&events[i], &deadlines[j]); c != nil {
				out = append(out, *c)
			}
		}
	}
	return out
}

// fingerprint canonicalises the pair's schedule so stores can tell a
// resolved conflict from a fresh one after either side moves.
func fingerprint(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func eventSchedule(e *models.CalendarEvent) string {
	return e.Date.UTC().Format("2006-01-02") + "T" + e.TimeOfDay
}

func deadlineSchedule(d *models.Deadline) string {
	return d.DueAt.UTC().Format("2006-01-02T15:04")
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func compareEvents(a, b *models.CalendarEvent) *models.SchedulingConflict {
	if !sameDay(a.Date, b.Date) {
		return nil
	}

	day := a.Date.UTC().Format("Jan 2")
	var severity models.ConflictSeverity
	var reason string
	switch {
	case a.TimeOfDay != "" && a.TimeOfDay == b.TimeOfDay:
		severity = models.SeverityHigh
		reason = fmt.Sprintf("%q and %q are both at %s on %s", a.Title, b.Title, a.TimeOfDay, day)
	case a.TimeOfDay != "" && b.TimeOfDay != "":
		severity = models.SeverityMedium
		reason = fmt.Sprintf("%q (%s) and %q (%s) are on the same day, %s", a.Title, a.TimeOfDay, b.Title, b.TimeOfDay, day)
	default:
		severity = models.SeverityLow
		reason = fmt.Sprintf("%q and %q may overlap on %s (time unknown)", a.Title, b.Title, day)
	}

	return &models.SchedulingConflict{
		ConversationID: a.ConversationID,
		FirstKind:      models.EntityEvent,
		FirstID:        a.ID,
		SecondKind:     models.EntityEvent,
		SecondID:       b.ID,
		Reason:         reason,
		Severity:       severity,
		Fingerprint:    fingerprint(eventSchedule(a), eventSchedule(b)),
	}
}

func compareEventDeadline(e *models.CalendarEvent, d *models.Deadline) *models.SchedulingConflict {
	if !sameDay(e.Date, d.DueAt) {
		return nil
	}

	day := e.Date.UTC().Format("Jan 2")
	dueClock := d.DueAt.UTC().Format("15:04")
	var severity models.ConflictSeverity
	var reason string
	switch {
	case e.TimeOfDay != "" && e.TimeOfDay == dueClock:
		severity = models.SeverityHigh
		reason = fmt.Sprintf("%q starts exactly when %q is due (%s %s)", e.Title, d.Task, day, dueClock)
	case e.TimeOfDay != "":
		severity = models.SeverityMedium
		reason = fmt.Sprintf("%q (%s) and the %q deadline land on the same day, %s", e.Title, e.TimeOfDay, d.Task, day)
	default:
		severity = models.SeverityLow
		reason = fmt.Sprintf("%q and the %q deadline may collide on %s", e.Title, d.Task, day)
	}

	return &models.SchedulingConflict{
		ConversationID: e.ConversationID,
		FirstKind:      models.EntityEvent,
		FirstID:        e.ID,
		SecondKind:     models.EntityDeadline,
		SecondID:       d.ID,
		Reason:         reason,
		Severity:       severity,
		Fingerprint:    fingerprint(eventSchedule(e), deadlineSchedule(d)),
	}
}
