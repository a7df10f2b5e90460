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

// Package ratelimit bounds per-user model invocations using Redis counters.
// Two scopes exist: a daily cap for opportunistic per-message extraction and
// a shorter window cap for explicit pull-based extraction. Exceeding a cap
// fails fast with *Error before any model call is made.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Scope names a rate-limit bucket.
type Scope string

const (
	// ScopeDaily covers opportunistic per-message extraction.
	ScopeDaily Scope = "daily"
	// ScopeWindow covers explicit pull-based extraction requests.
	ScopeWindow Scope = "window"
)

// windowTTL is the expiry of the request-window bucket.
const windowTTL = time.Hour

// Error is returned when a user exceeds an extraction cap. It carries the
// current count so callers can back off rather than retry immediately.
type Error struct {
	Scope Scope
	Count int64
	Limit int
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limited: %d/%d %s extractions", e.Count, e.Limit, e.Scope)
}

// IsLimited reports whether err is a rate-limit rejection.
func IsLimited(err error) bool {
	var le *Error
	return errors.As(err, &le)
}

// Counts is implemented by *redis.Client; narrowed for tests.
type Counts interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Limiter enforces per-user extraction caps.
type Limiter struct {
	rdb         Counts
	dailyLimit  int
	windowLimit int
	now         func() time.Time
}

// NewLimiter creates a limiter backed by Redis.
func NewLimiter(rdb Counts, dailyLimit, windowLimit int) *Limiter {
	return &Limiter{
		rdb:         rdb,
		dailyLimit:  dailyLimit,
		windowLimit: windowLimit,
		now:         time.Now,
	}
}

// Allow consumes one operation from the user's bucket for the scope.
// Returns *Error when the bucket is exhausted; the counting increment
// itself is what detects exhaustion, so exactly limit operations succeed.
func (l *Limiter) Allow(ctx context.Context, userID string, scope Scope) error {
	limit := l.dailyLimit
	ttl := l.untilMidnight()
	if scope == ScopeWindow {
		limit = l.windowLimit
		ttl = windowTTL
	}

	key := l.key(userID, scope)
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rate limit INCR: %w", err)
	}
	if count == 1 {
		// First hit creates the bucket; give it its expiry.
		if err := l.rdb.Expire(ctx, key, ttl).Err(); err != nil {
			return fmt.Errorf("rate limit EXPIRE: %w", err)
		}
	}

	if count > int64(limit) {
		return &Error{Scope: scope, Count: count, Limit: limit}
	}
	return nil
}

func (l *Limiter) key(userID string, scope Scope) string {
	if scope == ScopeWindow {
		return fmt.Sprintf("insights:ratelimit:window:%s", userID)
	}
	day := l.now().UTC().Format("2006-01-02")
	return fmt.Sprintf("insights:ratelimit:daily:%s:%s", userID, day)
}

func (l *Limiter) untilMidnight() time.Duration {
	now := l.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return midnight.Sub(now)
}
