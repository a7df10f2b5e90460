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

// Loopline Insights — Historical Backfill Command
//
// Standalone CLI tool that runs the full extraction pipeline over a user's
// existing conversations. Intended for seeding insights on new deployments
// or after enabling the service for a conversation with history.
//
// Usage:
//
//	go run ./cmd/backfill/ --user <user-id> [--conversations conv-1,conv-2] [--since 7]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/loopline/insights/internal/config"
	"github.com/loopline/insights/internal/extract"
	"github.com/loopline/insights/internal/ratelimit"
	"github.com/loopline/insights/internal/store"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	userFlag := flag.String("user", "", "User ID to backfill for (required)")
	convsFlag := flag.String("conversations", "", "Comma-separated conversation IDs (optional; empty = all the user's conversations)")
	sinceFlag := flag.Int("since", 7, "Lookback in days (clamped to the extraction window bounds)")
	flag.Parse()

	if *userFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: --user is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	slog.Info("starting insight backfill",
		"user", *userFlag,
		"since_days", *sinceFlag,
	)

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	db, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise store", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis (rate limiting only) ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	limiter := ratelimit.NewLimiter(rdb, cfg.DailyExtractionLimit, cfg.WindowExtractionLimit)

	// --- LLM Client ---
	llm, err := extract.NewClient(cfg.LLM)
	if err != nil {
		slog.Error("failed to build llm client", "error", err)
		os.Exit(1)
	}
	// Backfill never pushes to external calendars: historical events are
	// reviewed in the app first, so no syncer is wired.
	extractor := extract.New(llm, db, db, limiter, nil)

	// --- Resolve conversations ---
	var conversations []string
	if *convsFlag != "" {
		for _, id := range strings.Split(*convsFlag, ",") {
			if id = strings.TrimSpace(id); id != "" {
				conversations = append(conversations, id)
			}
		}
	} else {
		conversations, err = db.ConversationsForUser(ctx, *userFlag)
		if err != nil {
			slog.Error("failed to list conversations", "error", err)
			os.Exit(1)
		}
	}
	if len(conversations) == 0 {
		slog.Info("nothing to backfill")
		return
	}
	slog.Info("backfilling conversations", "count", len(conversations))

	// --- Run the pipeline per conversation ---
	var events, rsvps, deadlines, decisions, failures int
	for _, convID := range conversations {
		if err := ctx.Err(); err != nil {
			break
		}

		ok, err := db.IsParticipant(ctx, convID, *userFlag)
		if err != nil {
			slog.Error("membership check failed", "conversation", convID, "error", err)
			failures++
			continue
		}
		if !ok {
			slog.Warn("skipping conversation: user is not a participant", "conversation", convID)
			continue
		}

		if res, err := extractor.ExtractEvents(ctx, convID, *userFlag, *sinceFlag); err != nil {
			slog.Error("event extraction failed", "conversation", convID, "error", err)
			failures++
		} else {
			events += len(res.Events)
		}

		if res, err := extractor.TrackRSVPs(ctx, convID, *userFlag, *sinceFlag); err != nil {
			slog.Error("rsvp tracking failed", "conversation", convID, "error", err)
			failures++
		} else {
			rsvps += len(res.NewRSVPs)
		}

		if res, err := extractor.ExtractDeadlines(ctx, convID, *userFlag, *sinceFlag); err != nil {
			slog.Error("deadline extraction failed", "conversation", convID, "error", err)
			failures++
		} else {
			deadlines += len(res.Deadlines)
		}

		if res, err := extractor.TrackDecisions(ctx, convID, *userFlag, *sinceFlag); err != nil {
			slog.Error("decision tracking failed", "conversation", convID, "error", err)
			failures++
		} else {
			decisions += len(res.Decisions)
		}
	}

	slog.Info("backfill complete",
		"conversations", len(conversations),
		"events", events,
		"rsvps", rsvps,
		"deadlines", deadlines,
		"decisions", decisions,
		"failures", failures,
	)
	if failures > 0 {
		os.Exit(1)
	}
}
