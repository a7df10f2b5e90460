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

package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loopline/insights/internal/models"
)

const (
	retryBase   = 30 * time.Second
	retryCap    = time.Hour
	maxAttempts = 8

	queueBatchSize = 50
)

// backoffFor returns the delay before the next attempt after the given
// number of completed attempts: 30s, 1m, 2m, ... capped at an hour.
func backoffFor(attempts int) time.Duration {
	d := retryBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= retryCap {
			return retryCap
		}
	}
	return d
}

// QueueResult summarises one retry pass.
type QueueResult struct {
	Processed int `json:"processed"`
	Retried   int `json:"retried"`
	Abandoned int `json:"abandoned"`
}

// ProcessSyncQueue retries every due entry for the user. A successful retry
// removes the entry; a failed one reschedules it with exponential backoff
// until the attempt cap, after which it is abandoned. Entries whose sync
// target has since been disabled, or whose entity is gone, are dropped.
func (e *Engine) ProcessSyncQueue(ctx context.Context, userID string) (*QueueResult, error) {
	entries, err := e.store.DueSyncEntries(ctx, userID, queueBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list due sync entries: %w", err)
	}

	res := &QueueResult{}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var syncErr error
		switch entry.EntityKind {
		case models.EntityEvent:
			_, syncErr = e.SyncEvent(ctx, entry.EntityID, entry.UserID)
		case models.EntityDeadline:
			_, syncErr = e.SyncDeadline(ctx, entry.EntityID, entry.UserID)
		default:
			syncErr = fmt.Errorf("unknown entity kind %q", entry.EntityKind)
		}

		if syncErr == nil || errors.Is(syncErr, ErrSyncDisabled) || errors.Is(syncErr, ErrNotFound) {
			if err := e.store.RemoveSyncEntry(ctx, entry.ID); err != nil {
				slog.Error("remove sync entry", "entry_id", entry.ID, "error", err)
				continue
			}
			res.Processed++
			continue
		}

		attempts := entry.Attempts + 1
		abandon := attempts >= maxAttempts
		next := e.now().Add(backoffFor(attempts))
		if err := e.store.RecordSyncFailure(ctx, entry.ID, syncErr.Error(), next, abandon); err != nil {
			slog.Error("record sync failure", "entry_id", entry.ID, "error", err)
			continue
		}
		if abandon {
			slog.Warn("sync entry abandoned",
				"entity_kind", entry.EntityKind,
				"entity_id", entry.EntityID,
				"attempts", attempts,
			)
			res.Abandoned++
		} else {
			res.Retried++
		}
	}
	return res, nil
}

// StartQueueLoop retries due queue entries for every sync-enabled user at
// the configured interval until Stop is called.
func (e *Engine) StartQueueLoop(ctx context.Context, interval time.Duration) {
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancels = append(e.cancels, cancel)
	e.wg.Add(1)

	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				users, err := e.store.ListSyncEnabledUsers(loopCtx)
				if err != nil {
					slog.Error("list sync-enabled users", "error", err)
					continue
				}
				for _, userID := range users {
					res, err := e.ProcessSyncQueue(loopCtx, userID)
					if err != nil {
						slog.Error("sync queue pass failed", "user", userID, "error", err)
						continue
					}
					if res.Processed+res.Retried+res.Abandoned > 0 {
						slog.Info("sync queue pass complete",
							"user", userID,
							"processed", res.Processed,
							"retried", res.Retried,
							"abandoned", res.Abandoned,
						)
					}
				}
			}
		}
	}()

	slog.Info("sync queue loop started", "interval", interval)
}

// Stop shuts down the background loops.
func (e *Engine) Stop() {
	for _, cancel := range e.cancels {
		cancel()
	}
	e.wg.Wait()
}
