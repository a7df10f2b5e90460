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

	"github.com/google/uuid"

	"github.com/loopline/insights/internal/models"
)

// ReplaceConflicts swaps the derived conflict set of a conversation for a
// freshly detected one. Unresolved rows are deleted and replaced; resolved
// rows survive, and a newly detected pair matching a resolved row is not
// re-inserted while its schedule fingerprint is unchanged. A resolved pair
// re-detected with a different fingerprint had its schedule moved: the
// stale resolved row is dropped and the conflict surfaces again.
func (s *Store) ReplaceConflicts(ctx context.Context, conversationID string, detected []models.SchedulingConflict) ([]models.SchedulingConflict, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin conflict replace: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT first_kind, first_id, second_kind, second_id, fingerprint
		FROM scheduling_conflicts
		WHERE conversation_id = $1 AND resolved
	`, conversationID)
	if err != nil {
		return nil, err
	}
	resolved := make(map[string]string)
	for rows.Next() {
		var c models.SchedulingConflict
		if err := rows.Scan(&c.FirstKind, &c.FirstID, &c.SecondKind, &c.SecondID, &c.Fingerprint); err != nil {
			rows.Close()
			return nil, err
		}
		resolved[c.PairKey()] = c.Fingerprint
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM scheduling_conflicts
		WHERE conversation_id = $1 AND NOT resolved
	`, conversationID); err != nil {
		return nil, err
	}

	var kept []models.SchedulingConflict
	for _, c := range detected {
		if fp, ok := resolved[c.PairKey()]; ok {
			if fp == c.Fingerprint {
				continue
			}
			// Either orientation: detection order is not stable across runs.
			if _, err := tx.Exec(ctx, `
				DELETE FROM scheduling_conflicts
				WHERE conversation_id = $1 AND resolved
				  AND ((first_kind = $2 AND first_id = $3 AND second_kind = $4 AND second_id = $5)
				    OR (first_kind = $4 AND first_id = $5 AND second_kind = $2 AND second_id = $3))
			`, conversationID, c.FirstKind, c.FirstID, c.SecondKind, c.SecondID); err != nil {
				return nil, err
			}
		}
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.ConversationID = conversationID
		if _, err := tx.Exec(ctx, `
			INSERT INTO scheduling_conflicts
				(id, conversation_id, first_kind, first_id, second_kind, second_id,
				 reason, severity, fingerprint, resolved)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE)
		`, c.ID, c.ConversationID, c.FirstKind, c.FirstID, c.SecondKind, c.SecondID,
			c.Reason, string(c.Severity), c.Fingerprint); err != nil {
			return nil, err
		}
		kept = append(kept, c)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit conflict replace: %w", err)
	}
	return kept, nil
}

// ListConflicts returns a conversation's conflicts, unresolved only unless
// includeResolved is set, highest severity first.
func (s *Store) ListConflicts(ctx context.Context, conversationID string, includeResolved bool) ([]models.SchedulingConflict, error) {
	query := `
		SELECT id, conversation_id, first_kind, first_id, second_kind, second_id,
		       reason, severity, fingerprint, resolved, detected_at
		FROM scheduling_conflicts
		WHERE conversation_id = $1`
	if !includeResolved {
		query += ` AND NOT resolved`
	}
	query += `
		ORDER BY CASE severity WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, detected_at`

	rows, err := s.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SchedulingConflict
	for rows.Next() {
		var c models.SchedulingConflict
		var severity string
		if err := rows.Scan(
			&c.ID, &c.ConversationID, &c.FirstKind, &c.FirstID, &c.SecondKind, &c.SecondID,
			&c.Reason, &severity, &c.Fingerprint, &c.Resolved, &c.DetectedAt,
		); err != nil {
			return nil, err
		}
		c.Severity = models.ConflictSeverity(severity)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ResolveConflict marks one conflict resolved. Resolved conflicts are
// excluded from severity counts until the underlying entities change.
func (s *Store) ResolveConflict(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scheduling_conflicts SET resolved = TRUE WHERE id = $1
	`, id)
	return err
}
