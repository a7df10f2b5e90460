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

// Package store provides Postgres-backed persistence for all insight
// entities: extracted events, RSVPs, deadlines, decisions, priority flags,
// derived scheduling conflicts, the sync retry queue, and per-user sync
// settings. It also holds the read model of the conversation/message store.
//
// Dedup policy: RSVPs and deadlines carry a UNIQUE(message_id,
// conversation_id) constraint so re-running extraction over an overlapping
// window cannot insert the same row twice. Calendar events and decisions
// have no dedup key (duplicates across windows are accepted — they are
// reviewed by the user before acting).
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides CRUD operations for insight entities in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store backed by the given Postgres pool. It ensures the
// schema exists on creation.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure insights schema: %w", err)
	}
	slog.Info("insights store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			title      TEXT DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL,
			user_id         TEXT NOT NULL,
			PRIMARY KEY (conversation_id, user_id)
		);
		CREATE TABLE IF NOT EXISTS messages (
			id                TEXT PRIMARY KEY,
			conversation_id   TEXT NOT NULL,
			sender_id         TEXT NOT NULL,
			sender_name       TEXT DEFAULT '',
			body              TEXT NOT NULL,
			created_at        TIMESTAMPTZ NOT NULL,
			last_processed_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conv_time ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS calendar_events (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			message_id      TEXT DEFAULT '',
			title           TEXT NOT NULL,
			event_date      TIMESTAMPTZ NOT NULL,
			time_of_day     TEXT DEFAULT '',
			location        TEXT DEFAULT '',
			description     TEXT DEFAULT '',
			category        TEXT NOT NULL,
			confidence      DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
			confirmed       BOOLEAN DEFAULT FALSE,
			apple_event_id  TEXT DEFAULT '',
			google_event_id TEXT DEFAULT '',
			sync_status     TEXT DEFAULT 'pending',
			sync_error      TEXT DEFAULT '',
			last_synced_at  TIMESTAMPTZ,
			created_at      TIMESTAMPTZ DEFAULT NOW(),
			updated_at      TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_events_conv ON calendar_events(conversation_id);
		CREATE INDEX IF NOT EXISTS idx_events_date ON calendar_events(event_date);

		CREATE TABLE IF NOT EXISTS rsvp_tracking (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			message_id      TEXT NOT NULL,
			event_name      TEXT NOT NULL,
			event_date      TIMESTAMPTZ,
			deadline        TIMESTAMPTZ,
			status          TEXT DEFAULT 'pending',
			responder_id    TEXT DEFAULT '',
			responded_at    TIMESTAMPTZ,
			created_at      TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE (message_id, conversation_id)
		);

		CREATE TABLE IF NOT EXISTS deadlines (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			message_id      TEXT NOT NULL,
			user_id         TEXT NOT NULL,
			task            TEXT NOT NULL,
			due_at          TIMESTAMPTZ NOT NULL,
			category        TEXT NOT NULL,
			priority        TEXT NOT NULL,
			details         TEXT DEFAULT '',
			status          TEXT DEFAULT 'pending',
			completed_at    TIMESTAMPTZ,
			reminder_id     TEXT DEFAULT '',
			sync_status     TEXT DEFAULT 'pending',
			sync_error      TEXT DEFAULT '',
			last_synced_at  TIMESTAMPTZ,
			created_at      TIMESTAMPTZ DEFAULT NOW(),
			updated_at      TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE (message_id, conversation_id)
		);
		CREATE INDEX IF NOT EXISTS idx_deadlines_user ON deadlines(user_id, due_at);

		CREATE TABLE IF NOT EXISTS decisions (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			message_id      TEXT DEFAULT '',
			decision_text   TEXT NOT NULL,
			category        TEXT NOT NULL,
			decider_id      TEXT DEFAULT '',
			deadline        TIMESTAMPTZ,
			created_at      TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_decisions_conv ON decisions(conversation_id);

		CREATE TABLE IF NOT EXISTS priority_messages (
			message_id      TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			priority        TEXT NOT NULL,
			reason          TEXT DEFAULT '',
			action_required BOOLEAN DEFAULT FALSE,
			dismissed       BOOLEAN DEFAULT FALSE,
			created_at      TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS scheduling_conflicts (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			first_kind      TEXT NOT NULL,
			first_id        TEXT NOT NULL,
			second_kind     TEXT NOT NULL,
			second_id       TEXT NOT NULL,
			reason          TEXT NOT NULL,
			severity        TEXT NOT NULL,
			fingerprint     TEXT NOT NULL DEFAULT '',
			resolved        BOOLEAN DEFAULT FALSE,
			detected_at     TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_conflicts_conv ON scheduling_conflicts(conversation_id);

		CREATE TABLE IF NOT EXISTS sync_queue (
			id              BIGSERIAL PRIMARY KEY,
			entity_kind     TEXT NOT NULL,
			entity_id       TEXT NOT NULL,
			user_id         TEXT NOT NULL,
			attempts        INT DEFAULT 0,
			last_error      TEXT DEFAULT '',
			next_attempt_at TIMESTAMPTZ NOT NULL,
			status          TEXT DEFAULT 'queued',
			created_at      TIMESTAMPTZ DEFAULT NOW(),
			updated_at      TIMESTAMPTZ,
			UNIQUE (entity_kind, entity_id)
		);
		CREATE INDEX IF NOT EXISTS idx_sync_queue_due ON sync_queue(status, next_attempt_at);

		CREATE TABLE IF NOT EXISTS user_sync_settings (
			user_id            TEXT PRIMARY KEY,
			calendar_enabled   BOOLEAN DEFAULT FALSE,
			reminders_enabled  BOOLEAN DEFAULT FALSE,
			auto_sync          BOOLEAN DEFAULT FALSE,
			category_calendars JSONB DEFAULT '{}'
		);
	`)
	return err
}

// IsParticipant reports whether a user belongs to a conversation. Used by
// the API layer for access checks.
func (s *Store) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM conversation_participants
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ConversationsForUser returns the IDs of all conversations a user belongs to.
func (s *Store) ConversationsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT conversation_id FROM conversation_participants
		WHERE user_id = $1
		ORDER BY conversation_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
