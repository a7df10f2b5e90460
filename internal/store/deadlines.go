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
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loopline/insights/internal/models"
)

const deadlineColumns = `id, conversation_id, message_id, user_id, task, due_at,
	category, priority, details, status, completed_at,
	reminder_id, sync_status, sync_error, last_synced_at, created_at, updated_at`

// InsertDeadline persists a newly extracted deadline. Dedup key is
// (message_id, conversation_id), same policy as RSVPs.
func (s *Store) InsertDeadline(ctx context.Context, d *models.Deadline) (inserted bool, err error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = models.DeadlinePending
	}
	if d.SyncStatus == "" {
		d.SyncStatus = models.SyncPending
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO deadlines
			(id, conversation_id, message_id, user_id, task, due_at,
			 category, priority, details, status, sync_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (message_id, conversation_id) DO NOTHING
	`, d.ID, d.ConversationID, d.MessageID, d.UserID, d.Task, d.DueAt,
		string(d.Category), string(d.Priority), d.Details, string(d.Status), string(d.SyncStatus))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetDeadline retrieves a single deadline, or nil if absent.
func (s *Store) GetDeadline(ctx context.Context, id string) (*models.Deadline, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+deadlineColumns+` FROM deadlines WHERE id = $1`, id)
	return scanDeadline(row)
}

// ListDeadlines returns all deadlines for a conversation ordered by due time.
func (s *Store) ListDeadlines(ctx context.Context, conversationID string) ([]models.Deadline, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+deadlineColumns+` FROM deadlines
		WHERE conversation_id = $1
		ORDER BY due_at
	`, conversationID)
	if err != nil {
		return nil, err
	}
	return collectDeadlines(rows)
}

// ListPendingDeadlinesInRange returns pending deadlines of a conversation
// due within [from, to). Input to conflict detection.
func (s *Store) ListPendingDeadlinesInRange(ctx context.Context, conversationID string, from, to time.Time) ([]models.Deadline, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+deadlineColumns+` FROM deadlines
		WHERE conversation_id = $1 AND status = 'pending' AND due_at >= $2 AND due_at < $3
		ORDER BY due_at
	`, conversationID, from, to)
	if err != nil {
		return nil, err
	}
	return collectDeadlines(rows)
}

// ListPendingSyncDeadlines returns a user's deadlines with no external
// reminder identifier.
func (s *Store) ListPendingSyncDeadlines(ctx context.Context, userID string) ([]models.Deadline, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+deadlineColumns+` FROM deadlines
		WHERE user_id = $1 AND reminder_id = '' AND status = 'pending'
		ORDER BY due_at
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectDeadlines(rows)
}

// ListSyncedDeadlines returns a user's deadlines holding an external
// reminder identifier. Input to inbound reconciliation.
func (s *Store) ListSyncedDeadlines(ctx context.Context, userID string) ([]models.Deadline, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+deadlineColumns+` FROM deadlines
		WHERE user_id = $1 AND reminder_id <> ''
		ORDER BY due_at
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectDeadlines(rows)
}

// CompleteDeadline marks a deadline completed; completed_at is set iff the
// status is completed.
func (s *Store) CompleteDeadline(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deadlines
		SET status = 'completed', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

// CancelDeadline marks a deadline cancelled. completed_at stays unset.
func (s *Store) CancelDeadline(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deadlines
		SET status = 'cancelled', completed_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

// UpdateDeadlineSync records the outcome of an outbound reminder sync.
func (s *Store) UpdateDeadlineSync(ctx context.Context, id, reminderID string, status models.SyncStatus, syncErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deadlines
		SET reminder_id = $1, sync_status = $2, sync_error = $3,
		    last_synced_at = CASE WHEN $2 = 'synced' THEN NOW() ELSE last_synced_at END,
		    updated_at = NOW()
		WHERE id = $4
	`, reminderID, string(status), syncErr, id)
	return err
}

// ApplyExternalDeadlineChange overwrites task/due time from an external edit.
func (s *Store) ApplyExternalDeadlineChange(ctx context.Context, id, task string, dueAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deadlines
		SET task = $1, due_at = $2, last_synced_at = NOW(), updated_at = NOW()
		WHERE id = $3
	`, task, dueAt, id)
	return err
}

// ClearDeadlineExternal drops the external reminder ID after an external
// deletion and re-marks the deadline pending sync.
func (s *Store) ClearDeadlineExternal(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deadlines
		SET reminder_id = '', sync_status = 'pending', updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

func scanDeadline(row pgx.Row) (*models.Deadline, error) {
	var d models.Deadline
	var category, priority, status, syncStatus string
	err := row.Scan(
		&d.ID, &d.ConversationID, &d.MessageID, &d.UserID, &d.Task, &d.DueAt,
		&category, &priority, &d.Details, &status, &d.CompletedAt,
		&d.ReminderID, &syncStatus, &d.SyncError, &d.LastSyncedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.Category = models.EventCategory(category)
	d.Priority = models.Priority(priority)
	d.Status = models.DeadlineStatus(status)
	d.SyncStatus = models.SyncStatus(syncStatus)
	return &d, nil
}

func collectDeadlines(rows pgx.Rows) ([]models.Deadline, error) {
	defer rows.Close()
	var out []models.Deadline
	for rows.Next() {
		var d models.Deadline
		var category, priority, status, syncStatus string
		if err := rows.Scan(
			&d.ID, &d.ConversationID, &d.MessageID, &d.UserID, &d.Task, &d.DueAt,
			&category, &priority, &d.Details, &status, &d.CompletedAt,
			&d.ReminderID, &syncStatus, &d.SyncError, &d.LastSyncedAt, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		d.Category = models.EventCategory(category)
		d.Priority = models.Priority(priority)
		d.Status = models.DeadlineStatus(status)
		d.SyncStatus = models.SyncStatus(syncStatus)
		out = append(out, d)
	}
	return out, rows.Err()
}
