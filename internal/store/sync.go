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
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/loopline/insights/internal/models"
)

// EnqueueSync adds a failed sync to the retry queue, or resets an existing
// entry for the same entity back to queued.
func (s *Store) EnqueueSync(ctx context.Context, entityKind, entityID, userID, lastError string, nextAttempt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_queue (entity_kind, entity_id, user_id, last_error, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_kind, entity_id) DO UPDATE SET
			last_error      = EXCLUDED.last_error,
			next_attempt_at = EXCLUDED.next_attempt_at,
			status          = 'queued',
			updated_at      = NOW()
	`, entityKind, entityID, userID, lastError, nextAttempt)
	return err
}

// DueSyncEntries returns queued entries whose next attempt time has passed.
func (s *Store) DueSyncEntries(ctx context.Context, userID string, limit int) ([]models.SyncQueueEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, entity_kind, entity_id, user_id, attempts, last_error,
		       next_attempt_at, status, created_at, updated_at
		FROM sync_queue
		WHERE user_id = $1 AND status = 'queued' AND next_attempt_at <= NOW()
		ORDER BY next_attempt_at
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SyncQueueEntry
	for rows.Next() {
		var e models.SyncQueueEntry
		if err := rows.Scan(
			&e.ID, &e.EntityKind, &e.EntityID, &e.UserID, &e.Attempts, &e.LastError,
			&e.NextAttemptAt, &e.Status, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordSyncFailure increments the attempt counter, stores the latest error,
// and schedules the next attempt (or abandons the entry).
func (s *Store) RecordSyncFailure(ctx context.Context, id int64, lastError string, nextAttempt time.Time, abandon bool) error {
	status := "queued"
	if abandon {
		status = "abandoned"
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_queue
		SET attempts = attempts + 1, last_error = $1, next_attempt_at = $2,
		    status = $3, updated_at = NOW()
		WHERE id = $4
	`, lastError, nextAttempt, status, id)
	return err
}

// RemoveSyncEntry deletes a queue entry after a successful retry.
func (s *Store) RemoveSyncEntry(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sync_queue WHERE id = $1`, id)
	return err
}

// ListSyncEnabledUsers returns every user with at least one sync target
// enabled. Drives the background queue and reconciliation loops.
func (s *Store) ListSyncEnabledUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM user_sync_settings
		WHERE calendar_enabled OR reminders_enabled
		ORDER BY user_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GetSyncSettings returns a user's sync settings. A user with no stored row
// gets everything disabled — sync is strictly opt-in.
func (s *Store) GetSyncSettings(ctx context.Context, userID string) (*models.SyncSettings, error) {
	var (
		settings models.SyncSettings
		raw      []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, calendar_enabled, reminders_enabled, auto_sync, category_calendars
		FROM user_sync_settings
		WHERE user_id = $1
	`, userID).Scan(&settings.UserID, &settings.CalendarEnabled, &settings.RemindersEnabled,
		&settings.AutoSync, &raw)
	if err == pgx.ErrNoRows {
		return &models.SyncSettings{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &settings.CategoryCalendars); err != nil {
			return nil, fmt.Errorf("decode category calendars: %w", err)
		}
	}
	return &settings, nil
}

// UpsertSyncSettings stores a user's sync settings.
func (s *Store) UpsertSyncSettings(ctx context.Context, settings *models.SyncSettings) error {
	raw, err := json.Marshal(settings.CategoryCalendars)
	if err != nil {
		return fmt.Errorf("encode category calendars: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO user_sync_settings
			(user_id, calendar_enabled, reminders_enabled, auto_sync, category_calendars)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			calendar_enabled   = EXCLUDED.calendar_enabled,
			reminders_enabled  = EXCLUDED.reminders_enabled,
			auto_sync          = EXCLUDED.auto_sync,
			category_calendars = EXCLUDED.category_calendars
	`, settings.UserID, settings.CalendarEnabled, settings.RemindersEnabled, settings.AutoSync, raw)
	return err
}
