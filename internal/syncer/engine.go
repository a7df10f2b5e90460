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

// Package syncer pushes confirmed events to external calendars and
// deadlines to external reminder lists, retries failures through a
// persistent queue, and reconciles changes made directly at the providers.
//
// Outbound sync is idempotent: an entity that already carries a provider ID
// is updated in place, never duplicated. Sync is strictly opt-in per user.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loopline/insights/internal/models"
)

var (
	// ErrSyncDisabled reports that the user has not enabled the relevant
	// sync target.
	ErrSyncDisabled = errors.New("sync disabled for user")

	// ErrNotFound reports that the entity to sync does not exist.
	ErrNotFound = errors.New("entity not found")
)

// CalendarAPI is the provider surface the engine needs for events.
// Implemented by *Client.
type CalendarAPI interface {
	Provider() string
	CreateEvent(ctx context.Context, userID string, ev *ExternalEvent) (string, error)
	UpdateEvent(ctx context.Context, userID, externalID string, ev *ExternalEvent) error
	ListEventsUpdatedSince(ctx context.Context, userID string, since time.Time) ([]ExternalEvent, error)
}

// ReminderAPI is the provider surface the engine needs for deadlines.
// Implemented by *Client.
type ReminderAPI interface {
	Provider() string
	CreateReminder(ctx context.Context, userID string, r *ExternalReminder) (string, error)
	UpdateReminder(ctx context.Context, userID, externalID string, r *ExternalReminder) error
	ListRemindersUpdatedSince(ctx context.Context, userID string, since time.Time) ([]ExternalReminder, error)
}

// Store is the persistence the engine needs. Implemented by store.Store.
type Store interface {
	GetEvent(ctx context.Context, id string) (*models.CalendarEvent, error)
	UpdateEventSync(ctx context.Context, id, provider, externalID string, status models.SyncStatus, syncErr string) error
	MarkEventSyncFailed(ctx context.Context, id, syncErr string) error
	ListPendingSyncEvents(ctx context.Context, userID string) ([]models.CalendarEvent, error)
	ListSyncedEvents(ctx context.Context, userID string) ([]models.CalendarEvent, error)
	ApplyExternalEventChange(ctx context.Context, id, title string, date time.Time, timeOfDay string) error
	ClearEventExternal(ctx context.Context, id, provider string) error

	GetDeadline(ctx context.Context, id string) (*models.Deadline, error)
	UpdateDeadlineSync(ctx context.Context, id, reminderID string, status models.SyncStatus, syncErr string) error
	ListPendingSyncDeadlines(ctx context.Context, userID string) ([]models.Deadline, error)
	ListSyncedDeadlines(ctx context.Context, userID string) ([]models.Deadline, error)
	ApplyExternalDeadlineChange(ctx context.Context, id, task string, dueAt time.Time) error
	ClearDeadlineExternal(ctx context.Context, id string) error
	CompleteDeadline(ctx context.Context, id string) error

	EnqueueSync(ctx context.Context, entityKind, entityID, userID, lastError string, nextAttempt time.Time) error
	DueSyncEntries(ctx context.Context, userID string, limit int) ([]models.SyncQueueEntry, error)
	RecordSyncFailure(ctx context.Context, id int64, lastError string, nextAttempt time.Time, abandon bool) error
	RemoveSyncEntry(ctx context.Context, id int64) error

	GetSyncSettings(ctx context.Context, userID string) (*models.SyncSettings, error)
	ListSyncEnabledUsers(ctx context.Context) ([]string, error)
}

// Engine coordinates outbound sync, the retry queue, and inbound
// reconciliation.
type Engine struct {
	store     Store
	calendars []CalendarAPI
	reminders ReminderAPI

	// busy serialises sync per entity so a manual request and a queue
	// retry for the same item cannot interleave.
	busy sync.Map

	now func() time.Time

	// cancels collects the stop functions of started background loops.
	// Loops are started once from main before serving traffic.
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

// Config holds the engine's collaborators.
type Config struct {
	Store     Store
	Calendars []CalendarAPI
	Reminders ReminderAPI
}

// New creates a sync engine.
func New(cfg Config) *Engine {
	return &Engine{
		store:     cfg.Store,
		calendars: cfg.Calendars,
		reminders: cfg.Reminders,
		now:       time.Now,
	}
}

func (e *Engine) lock(key string) func() {
	v, _ := e.busy.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// SyncEvent pushes one event to every configured calendar provider.
// Create-or-update on the stored external ID; a failure marks the event
// failed and enqueues a retry. Returns the event with its updated sync
// state; on partial failure both the event and an error are returned.
func (e *Engine) SyncEvent(ctx context.Context, eventID, userID string) (*models.CalendarEvent, error) {
	defer e.lock("event:" + eventID)()

	settings, err := e.store.GetSyncSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load sync settings: %w", err)
	}
	if !settings.CalendarEnabled || len(e.calendars) == 0 {
		return nil, ErrSyncDisabled
	}

	ev, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}
	if ev == nil {
		return nil, ErrNotFound
	}

	var failures []string
	for _, cal := range e.calendars {
		if err := e.pushEvent(ctx, cal, userID, settings, ev); err != nil {
			slog.Error("event sync failed",
				"event_id", eventID,
				"provider", cal.Provider(),
				"error", err,
			)
			failures = append(failures, fmt.Sprintf("%s: %v", cal.Provider(), err))
		}
	}

	if len(failures) > 0 {
		msg := strings.Join(failures, "; ")
		if err := e.store.MarkEventSyncFailed(ctx, eventID, msg); err != nil {
			slog.Error("mark event sync failed", "event_id", eventID, "error", err)
		}
		if err := e.store.EnqueueSync(ctx, models.EntityEvent, eventID, userID, msg, e.now().Add(retryBase)); err != nil {
			slog.Error("enqueue event retry", "event_id", eventID, "error", err)
		}
		ev.SyncStatus = models.SyncFailed
		ev.SyncError = msg
		return ev, fmt.Errorf("sync event %s: %s", eventID, msg)
	}

	ev.SyncStatus = models.SyncSynced
	ev.SyncError = ""
	return ev, nil
}

func (e *Engine) pushEvent(ctx context.Context, cal CalendarAPI, userID string, settings *models.SyncSettings, ev *models.CalendarEvent) error {
	payload := &ExternalEvent{
		Title:    ev.Title,
		Date:     ev.Date,
		Time:     ev.TimeOfDay,
		Location: ev.Location,
		Notes:    ev.Description,
		Calendar: settings.CalendarFor(ev.Category),
	}

	provider := cal.Provider()
	externalID := ev.ExternalID(provider)
	if externalID == "" {
		id, err := cal.CreateEvent(ctx, userID, payload)
		if err != nil {
			return err
		}
		ev.SetExternalID(provider, id)
		externalID = id
	} else {
		if err := cal.UpdateEvent(ctx, userID, externalID, payload); err != nil {
			return err
		}
	}

	return e.store.UpdateEventSync(ctx, ev.ID, provider, externalID, models.SyncSynced, "")
}

// AutoSyncEvent syncs an event only when the user has auto-sync enabled,
// silently skipping otherwise. Used by the extraction and RSVP paths; the
// updated sync state (external IDs, status) is copied back into ev so the
// caller's copy reflects what was pushed.
func (e *Engine) AutoSyncEvent(ctx context.Context, ev *models.CalendarEvent, userID string) error {
	settings, err := e.store.GetSyncSettings(ctx, userID)
	if err != nil {
		return fmt.Errorf("load sync settings: %w", err)
	}
	if !settings.AutoSync || !settings.CalendarEnabled {
		return nil
	}
	synced, err := e.SyncEvent(ctx, ev.ID, userID)
	if synced != nil {
		*ev = *synced
	}
	return err
}

// SyncDeadline pushes one deadline to the reminders provider, create-or-update
// on the stored reminder ID. Failures mark the deadline failed and enqueue a
// retry.
func (e *Engine) SyncDeadline(ctx context.Context, deadlineID, userID string) (*models.Deadline, error) {
	defer e.lock("deadline:" + deadlineID)()

	settings, err := e.store.GetSyncSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load sync settings: %w", err)
	}
	if !settings.RemindersEnabled || e.reminders == nil {
		return nil, ErrSyncDisabled
	}

	d, err := e.store.GetDeadline(ctx, deadlineID)
	if err != nil {
		return nil, fmt.Errorf("load deadline: %w", err)
	}
	if d == nil {
		return nil, ErrNotFound
	}

	payload := &ExternalReminder{
		Title:     d.Task,
		DueAt:     d.DueAt,
		Notes:     d.Details,
		Priority:  string(d.Priority),
		Completed: d.Status == models.DeadlineCompleted,
	}

	reminderID := d.ReminderID
	var pushErr error
	if reminderID == "" {
		reminderID, pushErr = e.reminders.CreateReminder(ctx, userID, payload)
	} else {
		pushErr = e.reminders.UpdateReminder(ctx, userID, reminderID, payload)
	}

	if pushErr != nil {
		slog.Error("deadline sync failed",
			"deadline_id", deadlineID,
			"provider", e.reminders.Provider(),
			"error", pushErr,
		)
		if err := e.store.UpdateDeadlineSync(ctx, deadlineID, d.ReminderID, models.SyncFailed, pushErr.Error()); err != nil {
			slog.Error("mark deadline sync failed", "deadline_id", deadlineID, "error", err)
		}
		if err := e.store.EnqueueSync(ctx, models.EntityDeadline, deadlineID, userID, pushErr.Error(), e.now().Add(retryBase)); err != nil {
			slog.Error("enqueue deadline retry", "deadline_id", deadlineID, "error", err)
		}
		d.SyncStatus = models.SyncFailed
		d.SyncError = pushErr.Error()
		return d, fmt.Errorf("sync deadline %s: %w", deadlineID, pushErr)
	}

	if err := e.store.UpdateDeadlineSync(ctx, deadlineID, reminderID, models.SyncSynced, ""); err != nil {
		return nil, fmt.Errorf("record deadline sync: %w", err)
	}
	d.ReminderID = reminderID
	d.SyncStatus = models.SyncSynced
	d.SyncError = ""
	return d, nil
}

// BatchResult summarises a batch sync pass.
type BatchResult struct {
	Synced int      `json:"synced"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

// SyncAllPendingEvents syncs every event of the user's conversations that has
// no external ID yet. Continues past per-item failures; stops early only when
// ctx is cancelled.
func (e *Engine) SyncAllPendingEvents(ctx context.Context, userID string) (*BatchResult, error) {
	settings, err := e.store.GetSyncSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load sync settings: %w", err)
	}
	if !settings.CalendarEnabled || len(e.calendars) == 0 {
		return nil, ErrSyncDisabled
	}

	pending, err := e.store.ListPendingSyncEvents(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}

	res := &BatchResult{}
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := e.SyncEvent(ctx, pending[i].ID, userID); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		res.Synced++
	}
	return res, nil
}

// SyncAllPendingDeadlines syncs every unsynced deadline owned by the user.
func (e *Engine) SyncAllPendingDeadlines(ctx context.Context, userID string) (*BatchResult, error) {
	settings, err := e.store.GetSyncSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load sync settings: %w", err)
	}
	if !settings.RemindersEnabled || e.reminders == nil {
		return nil, ErrSyncDisabled
	}

	pending, err := e.store.ListPendingSyncDeadlines(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list pending deadlines: %w", err)
	}

	res := &BatchResult{}
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := e.SyncDeadline(ctx, pending[i].ID, userID); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		res.Synced++
	}
	return res, nil
}
