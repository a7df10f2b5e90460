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

// Package poller runs a background sweep over recently arrived messages and
// feeds their conversations through opportunistic priority detection. It is
// the safety net behind the message hook: conversations whose hook deliveries
// were lost still get picked up on the next sweep.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/loopline/insights/internal/extract"
	"github.com/loopline/insights/internal/models"
	"github.com/loopline/insights/internal/notify"
	"github.com/loopline/insights/internal/ratelimit"
)

const sweepBatchSize = 200

// MessageSource lists messages not yet swept. Implemented by store.Store.
type MessageSource interface {
	UnprocessedSince(ctx context.Context, since time.Time, limit int) ([]models.Message, error)
}

// Detector runs priority detection. Implemented by extract.Service.
type Detector interface {
	DetectPriority(ctx context.Context, conversationID, callerID string, opportunistic bool) (*extract.PriorityResult, error)
}

// Deduper filters conversations already swept recently. Implemented by
// dedup.Filter.
type Deduper interface {
	IsNew(ctx context.Context, id string) (bool, error)
}

// Notifier publishes flagged-message notifications. Implemented by
// notify.Publisher.
type Notifier interface {
	Publish(ctx context.Context, kind, conversationID string, payload any) error
}

// Poller sweeps unprocessed messages on an interval.
type Poller struct {
	messages MessageSource
	detector Detector
	dedup    Deduper
	notifier Notifier
	interval time.Duration
	lookback time.Duration
}

// New creates a poller. lookback should exceed interval so a slow sweep
// cannot open a gap; the dedup filter absorbs the overlap.
func New(messages MessageSource, detector Detector, dedup Deduper, notifier Notifier, interval, lookback time.Duration) *Poller {
	return &Poller{
		messages: messages,
		detector: detector,
		dedup:    dedup,
		notifier: notifier,
		interval: interval,
		lookback: lookback,
	}
}

// Run starts the sweep loop. It blocks until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("message poller starting",
		"interval", p.interval,
		"lookback", p.lookback,
	)

	p.sweep(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("message poller stopping")
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep runs one pass: collect unswept messages, group by conversation, and
// run opportunistic detection once per conversation.
func (p *Poller) sweep(ctx context.Context) {
	since := time.Now().UTC().Add(-p.lookback)

	msgs, err := p.messages.UnprocessedSince(ctx, since, sweepBatchSize)
	if err != nil {
		slog.Error("poller: list unprocessed messages", "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}

	// One detection per conversation per sweep, sender of the newest
	// message as the nominal caller.
	byConversation := make(map[string]models.Message)
	for _, m := range msgs {
		prev, ok := byConversation[m.ConversationID]
		if !ok || m.CreatedAt.After(prev.CreatedAt) {
			byConversation[m.ConversationID] = m
		}
	}

	slog.Debug("poller sweep",
		"messages", len(msgs),
		"conversations", len(byConversation),
	)

	for convID, newest := range byConversation {
		if err := ctx.Err(); err != nil {
			return
		}

		isNew, err := p.dedup.IsNew(ctx, "sweep:"+convID+":"+newest.ID)
		if err != nil {
			slog.Warn("poller dedup check failed", "conversation_id", convID, "error", err)
		} else if !isNew {
			continue
		}

		res, err := p.detector.DetectPriority(ctx, convID, newest.SenderID, true)
		if err != nil {
			if ratelimit.IsLimited(err) {
				slog.Debug("poller: daily extraction budget exhausted")
				return // no point sweeping further conversations today
			}
			slog.Error("poller: priority detection failed",
				"conversation_id", convID,
				"error", err,
			)
			continue
		}

		for _, flagged := range res.Messages {
			if err := p.notifier.Publish(ctx, notify.KindPriorityFlagged, convID, flagged); err != nil {
				slog.Error("poller: publish notification",
					"message_id", flagged.MessageID,
					"error", err,
				)
			}
		}
	}
}
