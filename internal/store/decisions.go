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

	"github.com/loopline/insights/internal/models"
)

// InsertDecision persists an extracted decision. Decisions are immutable
// once created and carry no dedup key.
func (s *Store) InsertDecision(ctx context.Context, d *models.Decision) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO decisions
			(id, conversation_id, message_id, decision_text, category, decider_id, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, d.ID, d.ConversationID, d.MessageID, d.Text, string(d.Category), d.DeciderID, d.Deadline)
	return err
}

// ListDecisions returns all decisions for a conversation, newest first.
func (s *Store) ListDecisions(ctx context.Context, conversationID string) ([]models.Decision, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, message_id, decision_text, category, decider_id, deadline, created_at
		FROM decisions
		WHERE conversation_id = $1
		ORDER BY created_at DESC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Decision
	for rows.Next() {
		var d models.Decision
		var category string
		if err := rows.Scan(
			&d.ID, &d.ConversationID, &d.MessageID, &d.Text, &category,
			&d.DeciderID, &d.Deadline, &d.CreatedAt,
		); err != nil {
			return nil, err
		}
		d.Category = models.EventCategory(category)
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpsertPriorityMessage stores a priority flag. One flag per message;
// re-extraction overwrites the prior flag but keeps a dismissal.
func (s *Store) UpsertPriorityMessage(ctx context.Context, p *models.PriorityMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO priority_messages
			(message_id, conversation_id, priority, reason, action_required)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id) DO UPDATE SET
			priority        = EXCLUDED.priority,
			reason          = EXCLUDED.reason,
			action_required = EXCLUDED.action_required
	`, p.MessageID, p.ConversationID, string(p.Priority), p.Reason, p.ActionRequired)
	return err
}

// ListPriorityMessages returns non-dismissed priority flags for a
// conversation, most urgent first.
func (s *Store) ListPriorityMessages(ctx context.Context, conversationID string) ([]models.PriorityMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, conversation_id, priority, reason, action_required, dismissed, created_at
		FROM priority_messages
		WHERE conversation_id = $1 AND NOT dismissed
		ORDER BY CASE priority
			WHEN 'urgent' THEN 0
			WHEN 'high'   THEN 1
			WHEN 'medium' THEN 2
			ELSE 3 END,
			created_at DESC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PriorityMessage
	for rows.Next() {
		var p models.PriorityMessage
		var priority string
		if err := rows.Scan(
			&p.MessageID, &p.ConversationID, &priority, &p.Reason,
			&p.ActionRequired, &p.Dismissed, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		p.Priority = models.Priority(priority)
		out = append(out, p)
	}
	return out, rows.Err()
}

// DismissPriorityMessage hides a priority flag from future listings.
func (s *Store) DismissPriorityMessage(ctx context.Context, messageID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE priority_messages SET dismissed = TRUE WHERE message_id = $1
	`, messageID)
	return err
}
