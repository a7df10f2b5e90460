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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loopline/insights/internal/models"
)

const rsvpColumns = `id, conversation_id, message_id, event_name, event_date,
	deadline, status, responder_id, responded_at, created_at`

// InsertRSVP persists a newly extracted RSVP. Dedup key is (message_id,
// conversation_id): if a row for the pair already exists the insert is a
// no-op and inserted is false.
func (s *Store) InsertRSVP(ctx context.Context, r *models.RSVPTracking) (inserted bool, err error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = models.RSVPPending
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO rsvp_tracking
			(id, conversation_id, message_id, event_name, event_date, deadline, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id, conversation_id) DO NOTHING
	`, r.ID, r.ConversationID, r.MessageID, r.EventName, r.EventDate, r.Deadline, string(r.Status))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetRSVP retrieves a single RSVP, or nil if absent.
func (s *Store) GetRSVP(ctx context.Context, id string) (*models.RSVPTracking, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+rsvpColumns+` FROM rsvp_tracking WHERE id = $1`, id)
	return scanRSVP(row)
}

// ListRSVPs returns all RSVPs for a conversation, newest first.
func (s *Store) ListRSVPs(ctx context.Context, conversationID string) ([]models.RSVPTracking, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+rsvpColumns+` FROM rsvp_tracking
		WHERE conversation_id = $1
		ORDER BY created_at DESC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	return collectRSVPs(rows)
}

// ListPendingRSVPs returns RSVPs of a conversation still awaiting a response.
func (s *Store) ListPendingRSVPs(ctx context.Context, conversationID string) ([]models.RSVPTracking, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+rsvpColumns+` FROM rsvp_tracking
		WHERE conversation_id = $1 AND status = 'pending'
		ORDER BY created_at DESC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	return collectRSVPs(rows)
}

// RespondRSVP applies a response: status, responder, and responded_at are
// written together, never partially. Returns the updated row.
func (s *Store) RespondRSVP(ctx context.Context, id string, status models.RSVPStatus, responderID string) (*models.RSVPTracking, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE rsvp_tracking
		SET status = $1, responder_id = $2, responded_at = NOW()
		WHERE id = $3
		RETURNING `+rsvpColumns+`
	`, string(status), responderID, id)
	return scanRSVP(row)
}

func scanRSVP(row pgx.Row) (*models.RSVPTracking, error) {
	var r models.RSVPTracking
	var status string
	err := row.Scan(
		&r.ID, &r.ConversationID, &r.MessageID, &r.EventName, &r.EventDate,
		&r.Deadline, &status, &r.ResponderID, &r.RespondedAt, &r.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Status = models.RSVPStatus(status)
	return &r, nil
}

func collectRSVPs(rows pgx.Rows) ([]models.RSVPTracking, error) {
	defer rows.Close()
	var out []models.RSVPTracking
	for rows.Next() {
		var r models.RSVPTracking
		var status string
		if err := rows.Scan(
			&r.ID, &r.ConversationID, &r.MessageID, &r.EventName, &r.EventDate,
			&r.Deadline, &status, &r.ResponderID, &r.RespondedAt, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		r.Status = models.RSVPStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}
