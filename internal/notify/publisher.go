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

// Package notify publishes insight notifications to a Redis list consumed by
// the push-delivery workers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Notification kinds.
const (
	KindInsightExtracted = "insight.extracted"
	KindRSVPResponded    = "rsvp.responded"
	KindPriorityFlagged  = "priority.flagged"
	KindConflictDetected = "conflict.detected"
)

// Publisher pushes notification envelopes onto a Redis queue.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a publisher targeting the given queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// envelope is the wire format the delivery workers consume.
type envelope struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	ConversationID string    `json:"conversation_id"`
	Payload        any       `json:"payload"`
	CreatedAt      time.Time `json:"created_at"`
}

// Publish serialises a notification and LPUSHes it onto the queue.
func (p *Publisher) Publish(ctx context.Context, kind, conversationID string, payload any) error {
	env := envelope{
		ID:             uuid.New().String(),
		Kind:           kind,
		ConversationID: conversationID,
		Payload:        payload,
		CreatedAt:      time.Now().UTC(),
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, string(raw)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("notification published",
		"notification_id", env.ID,
		"kind", kind,
		"conversation_id", conversationID,
		"queue", p.queueName,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
