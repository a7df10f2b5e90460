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

package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loopline/insights/internal/models"
)

// inboundLookback bounds how far back each reconciliation pass asks the
// provider for changes. Overlapping windows are safe: applying the same
// external state twice is a no-op.
const inboundLookback = 24 * time.Hour

// InboundResult summarises one reconciliation pass against the providers.
type InboundResult struct {
	EventsUpdated     int `json:"events_updated"`
	EventsUnlinked    int `json:"events_unlinked"`
	DeadlinesUpdated  int `json:"deadlines_updated"`
	DeadlinesDone     int `json:"deadlines_completed"`
	DeadlinesUnlinked int `json:"deadlines_unlinked"`
}

// DetectExternalChanges pulls recent provider-side edits and folds them into
// local state. The provider wins for edits (the change there is newer by
// construction); a provider-side deletion unlinks the local entity rather
// than deleting it, so the insight itself survives.
func (e *Engine) DetectExternalChanges(ctx context.Context, userID string) (*InboundResult, error) {
	settings, err := e.store.GetSyncSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load sync settings: %w", err)
	}

	res := &InboundResult{}
	since := e.now().Add(-inboundLookback)

	if settings.CalendarEnabled {
		for _, cal := range e.calendars {
			if err := e.reconcileEvents(ctx, cal, userID, since, res); err != nil {
				return res, err
			}
		}
	}
	if settings.RemindersEnabled && e.reminders != nil {
		if err := e.reconcileReminders(ctx, userID, since, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (e *Engine) reconcileEvents(ctx context.Context, cal CalendarAPI, userID string, since time.Time, res *InboundResult) error {
	provider := cal.Provider()
	changed, err := cal.ListEventsUpdatedSince(ctx, userID, since)
	if err != nil {
		return fmt.Errorf("%s: list changed events: %w", provider, err)
	}
	if len(changed) == 0 {
		return nil
	}

	synced, err := e.store.ListSyncedEvents(ctx, userID)
	if err != nil {
		return fmt.Errorf("list synced events: %w", err)
	}
	byExternal := make(map[string]*models.CalendarEvent, len(synced))
	for i := range synced {
		if id := synced[i].ExternalID(provider); id != "" {
			byExternal[id] = &synced[i]
		}
	}

	for _, ext := range changed {
		local, ok := byExternal[ext.ID]
		if !ok {
			continue // not an item we put there
		}

		if ext.Deleted {
			if err := e.store.ClearEventExternal(ctx, local.ID, provider); err != nil {
				return fmt.Errorf("unlink event %s: %w", local.ID, err)
			}
			slog.Info("event deleted at provider, unlinked",
				"event_id", local.ID,
				"provider", provider,
			)
			res.EventsUnlinked++
			continue
		}

		if !ext.UpdatedAt.After(local.UpdatedAt) {
			continue // local state is at least as new
		}
		if ext.Title == local.Title && ext.Date.Equal(local.Date) && ext.Time == local.TimeOfDay {
			continue
		}
		if err := e.store.ApplyExternalEventChange(ctx, local.ID, ext.Title, ext.Date, ext.Time); err != nil {
			return fmt.Errorf("apply event change %s: %w", local.ID, err)
		}
		res.EventsUpdated++
	}
	return nil
}

func (e *Engine) reconcileReminders(ctx context.Context, userID string, since time.Time, res *InboundResult) error {
	provider := e.reminders.Provider()
	changed, err := e.reminders.ListRemindersUpdatedSince(ctx, userID, since)
	if err != nil {
		return fmt.Errorf("%s: list changed reminders: %w", provider, err)
	}
	if len(changed) == 0 {
		return nil
	}

	synced, err := e.store.ListSyncedDeadlines(ctx, userID)
	if err != nil {
		return fmt.Errorf("list synced deadlines: %w", err)
	}
	byExternal := make(map[string]*models.Deadline, len(synced))
	for i := range synced {
		if synced[i].ReminderID != "" {
			byExternal[synced[i].ReminderID] = &synced[i]
		}
	}

	for _, ext := range changed {
		local, ok := byExternal[ext.ID]
		if !ok {
			continue
		}

		if ext.Deleted {
			if err := e.store.ClearDeadlineExternal(ctx, local.ID); err != nil {
				return fmt.Errorf("unlink deadline %s: %w", local.ID, err)
			}
			slog.Info("reminder deleted at provider, unlinked",
				"deadline_id", local.ID,
				"provider", provider,
			)
			res.DeadlinesUnlinked++
			continue
		}

		if ext.Completed && local.Status == models.DeadlinePending {
			if err := e.store.CompleteDeadline(ctx, local.ID); err != nil {
				return fmt.Errorf("complete deadline %s: %w", local.ID, err)
			}
			res.DeadlinesDone++
			continue
		}

		if !ext.UpdatedAt.After(local.UpdatedAt) {
			continue
		}
		if ext.Title == local.Task && ext.DueAt.Equal(local.DueAt) {
			continue
		}
		if err := e.store.ApplyExternalDeadlineChange(ctx, local.ID, ext.Title, ext.DueAt); err != nil {
			return fmt.Errorf("apply deadline change %s: %w", local.ID, err)
		}
		res.DeadlinesUpdated++
	}
	return nil
}

// StartInboundLoop reconciles provider-side changes for every sync-enabled
// user at the configured interval until Stop is called.
func (e *Engine) StartInboundLoop(ctx context.Context, interval time.Duration) {
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancels = append(e.cancels, cancel)
	e.wg.Add(1)

	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				users, err := e.store.ListSyncEnabledUsers(loopCtx)
				if err != nil {
					slog.Error("list sync-enabled users", "error", err)
					continue
				}
				for _, userID := range users {
					res, err := e.DetectExternalChanges(loopCtx, userID)
					if err != nil {
						slog.Error("inbound reconciliation failed", "user", userID, "error", err)
						continue
					}
					total := res.EventsUpdated + res.EventsUnlinked +
						res.DeadlinesUpdated + res.DeadlinesDone + res.DeadlinesUnlinked
					if total > 0 {
						slog.Info("inbound reconciliation complete",
							"user", userID,
							"events_updated", res.EventsUpdated,
							"events_unlinked", res.EventsUnlinked,
							"deadlines_updated", res.DeadlinesUpdated,
							"deadlines_completed", res.DeadlinesDone,
							"deadlines_unlinked", res.DeadlinesUnlinked,
						)
					}
				}
			}
		}
	}()

	slog.Info("inbound reconciliation loop started", "interval", interval)
}
