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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	errKeyPrefix = "insights:lasterr:"
	errTTL       = 7 * 24 * time.Hour
)

// StoredError is the last failure recorded for a (user, operation) pair.
// Clients poll it to surface "your last extraction failed" banners without
// tailing logs.
type StoredError struct {
	Op      string    `json:"op"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// ErrorStore keeps one last-error slot per user and operation in Redis.
type ErrorStore struct {
	rdb *redis.Client
}

// NewErrorStore creates an error store.
func NewErrorStore(rdb *redis.Client) *ErrorStore {
	return &ErrorStore{rdb: rdb}
}

func errKey(userID, op string) string {
	return fmt.Sprintf("%s%s:%s", errKeyPrefix, userID, op)
}

// Record overwrites the slot for (userID, op). Best-effort: a failure here
// is logged, never surfaced.
func (s *ErrorStore) Record(ctx context.Context, userID, op, message string) {
	raw, err := json.Marshal(StoredError{Op: op, Message: message, At: time.Now().UTC()})
	if err != nil {
		slog.Error("encode stored error", "op", op, "error", err)
		return
	}
	if err := s.rdb.Set(ctx, errKey(userID, op), raw, errTTL).Err(); err != nil {
		slog.Warn("record last error", "op", op, "error", err)
	}
}

// Get returns the stored error for (userID, op), or nil when the slot is
// empty.
func (s *ErrorStore) Get(ctx context.Context, userID, op string) (*StoredError, error) {
	raw, err := s.rdb.Get(ctx, errKey(userID, op)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET: %w", err)
	}
	var stored StoredError
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode stored error: %w", err)
	}
	return &stored, nil
}

// Clear empties the slot for (userID, op).
func (s *ErrorStore) Clear(ctx context.Context, userID, op string) error {
	if err := s.rdb.Del(ctx, errKey(userID, op)).Err(); err != nil {
		return fmt.Errorf("redis DEL: %w", err)
	}
	return nil
}
