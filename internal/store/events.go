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

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loopline/insights/internal/models"
)

const eventColumns = `id, conversation_id, message_id, title, event_date, time_of_day,
	location, description, category, confidence, confirmed,
	apple_event_id, google_event_id, sync_status, sync_error, last_synced_at,
	created_at, updated_at`

// InsertEvent persists an extracted calendar event. Events carry no dedup
// key — repeated extraction over overlapping windows may insert duplicates.
func (s *Store) InsertEvent(ctx context.Context, e *models.CalendarEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.SyncStatus == "" {
		e.SyncStatus = models.SyncPending
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("event confidence %v out of range [0,1]", e.Confidence)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calendar_events
			(id, conversation_id, message_id, title, event_date, time_of_day,
			 location, description, category, confidence, confirmed, sync_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, e.ID, e.ConversationID, e.MessageID, e.Title, e.Date, e.TimeOfDay,
		e.Location, e.Description, string(e.Category), e.Confidence, e.Confirmed, string(e.SyncStatus))
	return err
}

// GetEvent retrieves a single calendar event, or nil if absent.
func (s *Store) GetEvent(ctx context.Context, id string) (*models.CalendarEvent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM calendar_events WHERE id = $1`, id)
	return scanEvent(row)
}

// ListEvents returns all calendar events for a conversation, oldest first.
func (s *Store) ListEvents(ctx context.Context, conversationID string) ([]models.CalendarEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM calendar_events
		WHERE conversation_id = $1
		ORDER BY event_date, created_at
	`, conversationID)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

// ListConfirmedEventsInRange returns user-confirmed events of a conversation
// whose date falls within [from, to). Input to conflict detection.
func (s *Store) ListConfirmedEventsInRange(ctx context.Context, conversationID string, from, to time.Time) ([]models.CalendarEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM calendar_events
		WHERE conversation_id = $1 AND confirmed AND event_date >= $2 AND event_date < $3
		ORDER BY event_date
	`, conversationID, from, to)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

// ListPendingSyncEvents returns events with no external identifier at all,
// in conversations the user participates in.
func (s *Store) ListPendingSyncEvents(ctx context.Context, userID string) ([]models.CalendarEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM calendar_events e
		WHERE e.apple_event_id = '' AND e.google_event_id = ''
		  AND e.conversation_id IN (
		      SELECT conversation_id FROM conversation_participants WHERE user_id = $1)
		ORDER BY e.created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

// ListSyncedEvents returns events holding at least one external identifier,
// in conversations the user participates in. Input to inbound reconciliation.
func (s *Store) ListSyncedEvents(ctx context.Context, userID string) ([]models.CalendarEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM calendar_events e
		WHERE (e.apple_event_id <> '' OR e.google_event_id <> '')
		  AND e.conversation_id IN (
		      SELECT conversation_id FROM conversation_participants WHERE user_id = $1)
		ORDER BY e.created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

// ConfirmEvent marks an event as user-confirmed.
func (s *Store) ConfirmEvent(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE calendar_events SET confirmed = TRUE, updated_at = NOW() WHERE id = $1
	`, id)
	return err
}

// UpdateEventSync records the outcome of an outbound sync attempt: external
// ID for the provider, sync status, and any error message.
func (s *Store) UpdateEventSync(ctx context.Context, id, provider, externalID string, status models.SyncStatus, syncErr string) error {
	column := ""
	switch provider {
	case models.ProviderApple:
		column = "apple_event_id"
	case models.ProviderGoogle:
		column = "google_event_id"
	default:
		return fmt.Errorf("unknown calendar provider %q", provider)
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE calendar_events
		SET `+column+` = $1, sync_status = $2, sync_error = $3,
		    last_synced_at = CASE WHEN $2 = 'synced' THEN NOW() ELSE last_synced_at END,
		    updated_at = NOW()
		WHERE id = $4
	`, externalID, string(status), syncErr, id)
	return err
}

// MarkEventSyncFailed records a failed sync without touching external IDs.
func (s *Store) MarkEventSyncFailed(ctx context.Context, id, syncErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE calendar_events
		SET sync_status = 'failed', sync_error = $1, updated_at = NOW()
		WHERE id = $2
	`, syncErr, id)
	return err
}

// ApplyExternalEventChange overwrites title/date/time from an external edit
// (inbound reconciliation, last-writer-wins).
func (s *Store) ApplyExternalEventChange(ctx context.Context, id, title string, date time.Time, timeOfDay string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE calendar_events
		SET title = $1, event_date = $2, time_of_day = $3,
		    last_synced_at = NOW(), updated_at = NOW()
		WHERE id = $4
	`, title, date, timeOfDay, id)
	return err
}

// ClearEventExternal drops a provider's external ID after an external
// deletion. The event returns to pending sync when no IDs remain.
func (s *Store) ClearEventExternal(ctx context.Context, id, provider string) error {
	// The CASE reads the row's pre-update values, so it must test the
	// provider column that is NOT being cleared.
	column, other := "", ""
	switch provider {
	case models.ProviderApple:
		column, other = "apple_event_id", "google_event_id"
	case models.ProviderGoogle:
		column, other = "google_event_id", "apple_event_id"
	default:
		return fmt.Errorf("unknown calendar provider %q", provider)
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE calendar_events
		SET `+column+` = '',
		    sync_status = CASE WHEN `+other+` = ''
		                       THEN 'pending' ELSE sync_status END,
		    updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

func scanEvent(row pgx.Row) (*models.CalendarEvent, error) {
	var e models.CalendarEvent
	var category, status string
	err := row.Scan(
		&e.ID, &e.ConversationID, &e.MessageID, &e.Title, &e.Date, &e.TimeOfDay,
		&e.Location, &e.Description, &category, &e.Confidence, &e.Confirmed,
		&e.AppleEventID, &e.GoogleEventID, &status, &e.SyncError, &e.LastSyncedAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Category = models.EventCategory(category)
	e.SyncStatus = models.SyncStatus(status)
	return &e, nil
}

func collectEvents(rows pgx.Rows) ([]models.CalendarEvent, error) {
	defer rows.Close()
	var out []models.CalendarEvent
	for rows.Next() {
		var e models.CalendarEvent
		var category, status string
		if err := rows.Scan(
			&e.ID, &e.ConversationID, &e.MessageID, &e.Title, &e.Date, &e.TimeOfDay,
			&e.Location, &e.Description, &category, &e.Confidence, &e.Confirmed,
			&e.AppleEventID, &e.GoogleEventID, &status, &e.SyncError, &e.LastSyncedAt,
			&e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, err
		}
		e.Category = models.EventCategory(category)
		e.SyncStatus = models.SyncStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}
