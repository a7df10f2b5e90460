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

// Loopline Insights — conversation insight service
//
// Entry point for the insights service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL and Redis
//  3. Builds OAuth2 clients for the configured calendar providers
//  4. Starts the sync retry queue and inbound reconciliation loops
//  5. Starts the opportunistic message poller
//  6. Serves the insight API and the message webhook
//  7. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/loopline/insights/internal/api"
	"github.com/loopline/insights/internal/assistant"
	"github.com/loopline/insights/internal/config"
	"github.com/loopline/insights/internal/conflict"
	"github.com/loopline/insights/internal/dedup"
	"github.com/loopline/insights/internal/extract"
	"github.com/loopline/insights/internal/models"
	"github.com/loopline/insights/internal/notify"
	"github.com/loopline/insights/internal/poller"
	"github.com/loopline/insights/internal/ratelimit"
	"github.com/loopline/insights/internal/rsvp"
	"github.com/loopline/insights/internal/store"
	"github.com/loopline/insights/internal/syncer"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting loopline insights service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"llm_provider", cfg.LLM.Provider,
		"calendar_providers", len(cfg.Providers),
		"daily_limit", cfg.DailyExtractionLimit,
		"window_limit", cfg.WindowExtractionLimit,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	db, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise store", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := notify.NewPublisher(rdb, cfg.NotifyQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	filter := dedup.NewFilter(rdb)
	limiter := ratelimit.NewLimiter(rdb, cfg.DailyExtractionLimit, cfg.WindowExtractionLimit)
	errStore := api.NewErrorStore(rdb)

	// --- LLM Client ---
	llm, err := extract.NewClient(cfg.LLM)
	if err != nil {
		slog.Error("failed to build llm client", "error", err)
		os.Exit(1)
	}
	// --- Provider bridge clients (OAuth2 client credentials) ---
	var calendars []syncer.CalendarAPI
	var reminders syncer.ReminderAPI
	for _, p := range cfg.Providers {
		creds := &clientcredentials.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			TokenURL:     p.TokenURL,
		}
		httpClient := creds.Client(ctx)
		httpClient.Timeout = cfg.ExternalTimeout

		client := syncer.NewClient(httpClient, p.BaseURL, p.Name)
		calendars = append(calendars, client)
		// Reminders ride the Apple bridge; Google has no reminders surface.
		if p.Name == models.ProviderApple {
			reminders = client
		}
		slog.Info("calendar provider configured", "provider", p.Name)
	}

	// --- Sync Engine + background loops ---
	syncEngine := syncer.New(syncer.Config{
		Store:     db,
		Calendars: calendars,
		Reminders: reminders,
	})
	syncEngine.StartQueueLoop(ctx, cfg.SyncQueueInterval)
	syncEngine.StartInboundLoop(ctx, cfg.InboundInterval)

	// --- Domain engines ---
	extractor := extract.New(llm, db, db, limiter, syncEngine)
	rsvps := rsvp.New(db, syncEngine)
	conflicts := conflict.New(db)
	orchestrator := assistant.New(llm, db)

	// --- Message Poller ---
	sweep := poller.New(db, extractor, filter, publisher, cfg.PollInterval, cfg.PollLookback)
	go sweep.Run(ctx)

	// --- HTTP API ---
	handler := api.NewHandler(api.HandlerConfig{
		Extractor: extractor,
		Responder: rsvps,
		Conflicts: conflicts,
		Syncer:    syncEngine,
		Assistant: orchestrator,
		Access:    db,
		Dedup:     filter,
		Notifier:  publisher,
		Errors:    errStore,
	})
	mux := http.NewServeMux()
	handler.Register(mux)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second, // extraction calls wait on the model
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // stop poller and background loops

		syncEngine.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("insights service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("insights service stopped")
}
