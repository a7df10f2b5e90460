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

	"github.com/jackc/pgx/v5"

	"github.com/loopline/insights/internal/models"
)

const messageColumns = `id, conversation_id, sender_id, sender_name, body, created_at, last_processed_at`

// RecentMessages returns the most recent messages of a conversation created
// at or after since, limited to limit, plus up to contextBefore earlier
// messages for disambiguation. Results are in chronological order.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, since time.Time, limit, contextBefore int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`, conversationID, since, limit)
	if err != nil {
		return nil, err
	}
	window, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(window) == 0 {
		return nil, nil
	}

	// window is newest-first; the last entry is the oldest in the window.
	oldest := window[len(window)-1].CreatedAt

	var context_ []models.Message
	if contextBefore > 0 {
		rows, err := s.pool.Query(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = $1 AND created_at < $2
			ORDER BY created_at DESC
			LIMIT $3
		`, conversationID, oldest, contextBefore)
		if err != nil {
			return nil, err
		}
		context_, err = collectMessages(rows)
		if err != nil {
			return nil, err
		}
	}

	// Reassemble in chronological order: context first, then the window.
	out := make([]models.Message, 0, len(context_)+len(window))
	for i := len(context_) - 1; i >= 0; i-- {
		out = append(out, context_[i])
	}
	for i := len(window) - 1; i >= 0; i-- {
		out = append(out, window[i])
	}
	return out, nil
}

// UnprocessedSince returns messages created after since that extraction has
// never seen. Used by the poller as a webhook safety net.
func (s *Store) UnprocessedSince(ctx context.Context, since time.Time, limit int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE created_at >= $1 AND last_processed_at IS NULL
		ORDER BY created_at
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// MarkProcessed advances the last_processed_at watermark on the given
// messages after a successful extraction run.
func (s *Store) MarkProcessed(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE messages SET last_processed_at = NOW()
		WHERE id = ANY($1)
	`, messageIDs)
	return err
}

func collectMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName,
			&m.Body, &m.CreatedAt, &m.LastProcessedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
