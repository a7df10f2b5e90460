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

// Package extract turns raw conversation text into structured insight
// candidates by invoking a language model against a fixed output schema.
//
// Extraction itself is not idempotent — running it twice over the same
// window may yield duplicate candidates. Deduplication happens at the
// persistence layer (RSVPs and deadlines key on message+conversation).
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loopline/insights/internal/models"
	"github.com/loopline/insights/internal/ratelimit"
)

const (
	// Lookback window bounds, in days. Bounds model input size and cost.
	MinDaysBack = 1
	MaxDaysBack = 14

	// windowSize is the number of recent messages sent to the model;
	// contextSize earlier messages are prepended for disambiguation.
	windowSize  = 100
	contextSize = 5
)

// MessageStore is the read model of the conversation store.
type MessageStore interface {
	RecentMessages(ctx context.Context, conversationID string, since time.Time, limit, contextBefore int) ([]models.Message, error)
	MarkProcessed(ctx context.Context, messageIDs []string) error
}

// InsightStore persists extraction results.
type InsightStore interface {
	InsertEvent(ctx context.Context, e *models.CalendarEvent) error
	InsertRSVP(ctx context.Context, r *models.RSVPTracking) (bool, error)
	InsertDeadline(ctx context.Context, d *models.Deadline) (bool, error)
	InsertDecision(ctx context.Context, d *models.Decision) error
	UpsertPriorityMessage(ctx context.Context, p *models.PriorityMessage) error
	ListPendingRSVPs(ctx context.Context, conversationID string) ([]models.RSVPTracking, error)
}

// Limiter gates model invocations per user.
type Limiter interface {
	Allow(ctx context.Context, userID string, scope ratelimit.Scope) error
}

// EventSyncer pushes an extracted event to the external calendar when the
// user has auto-sync enabled. Implemented by the sync engine; settings
// gating happens there.
type EventSyncer interface {
	AutoSyncEvent(ctx context.Context, event *models.CalendarEvent, userID string) error
}

// Service is the entity extraction service.
type Service struct {
	llm      Client
	messages MessageStore
	insights InsightStore
	limiter  Limiter
	syncer   EventSyncer
}

// New creates an extraction service. syncer may be nil when no calendar
// integration is configured; extracted events then stay pending.
func New(llm Client, messages MessageStore, insights InsightStore, limiter Limiter, syncer EventSyncer) *Service {
	return &Service{llm: llm, messages: messages, insights: insights, limiter: limiter, syncer: syncer}
}

// clampDays bounds a lookback request to [MinDaysBack, MaxDaysBack].
func clampDays(days int) int {
	if days < MinDaysBack {
		return MinDaysBack
	}
	if days > MaxDaysBack {
		return MaxDaysBack
	}
	return days
}

// window loads the transcript window for a conversation, or nil when the
// window holds no messages (callers return empty without a model call).
func (s *Service) window(ctx context.Context, conversationID string, daysBack int) (*Transcript, error) {
	since := time.Now().UTC().AddDate(0, 0, -clampDays(daysBack))
	msgs, err := s.messages.RecentMessages(ctx, conversationID, since, windowSize, contextSize)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return buildTranscript(msgs), nil
}

// EventsResult is the outcome of a calendar event extraction run.
type EventsResult struct {
	Events []models.CalendarEvent `json:"events"`
	Errors []string               `json:"errors,omitempty"`
}

// ExtractEvents extracts candidate calendar events from a conversation and
// persists them. Candidates are never auto-confirmed. When the caller has
// auto-sync enabled, each persisted event is pushed to their calendars and
// returned carrying its external IDs and sync status.
func (s *Service) ExtractEvents(ctx context.Context, conversationID, callerID string, daysBack int) (*EventsResult, error) {
	t, err := s.window(ctx, conversationID, daysBack)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return &EventsResult{}, nil
	}
	if err := s.limiter.Allow(ctx, callerID, ratelimit.ScopeWindow); err != nil {
		return nil, err
	}

	raw, err := s.llm.Complete(ctx, Prompt{Kind: KindEvents, System: eventsSystemPrompt, User: t.Text})
	if err != nil {
		return nil, err
	}
	candidates, err := parseEvents(raw, t, conversationID)
	if err != nil {
		return nil, err
	}

	result := &EventsResult{Events: make([]models.CalendarEvent, 0, len(candidates))}
	for i := range candidates {
		if err := s.insights.InsertEvent(ctx, &candidates[i]); err != nil {
			slog.Error("persist calendar event failed",
				"conversation", conversationID,
				"title", candidates[i].Title,
				"error", err,
			)
			result.Errors = append(result.Errors, fmt.Sprintf("event %q: %v", candidates[i].Title, err))
			continue
		}
		if s.syncer != nil {
			// Best effort: a failed push leaves the event pending with a
			// queued retry, it never fails the extraction.
			if err := s.syncer.AutoSyncEvent(ctx, &candidates[i], callerID); err != nil {
				slog.Error("auto-sync extracted event failed",
					"conversation", conversationID,
					"title", candidates[i].Title,
					"error", err,
				)
				result.Errors = append(result.Errors, fmt.Sprintf("event %q sync: %v", candidates[i].Title, err))
			}
		}
		result.Events = append(result.Events, candidates[i])
	}

	s.markProcessed(ctx, t)
	return result, nil
}

// RSVPResult is the outcome of an RSVP extraction run.
type RSVPResult struct {
	NewRSVPs       []models.RSVPTracking `json:"new_rsvps"`
	PendingSummary string                `json:"pending_summary"`
	Errors         []string              `json:"errors,omitempty"`
}

// TrackRSVPs extracts invitations from a conversation, persists the new
// ones (deduped on originating message), and summarises what is still
// awaiting a response.
func (s *Service) TrackRSVPs(ctx context.Context, conversationID, userID string, daysBack int) (*RSVPResult, error) {
	t, err := s.window(ctx, conversationID, daysBack)
	if err != nil {
		return nil, err
	}
	result := &RSVPResult{}
	if t != nil {
		if err := s.limiter.Allow(ctx, userID, ratelimit.ScopeWindow); err != nil {
			return nil, err
		}
		raw, err := s.llm.Complete(ctx, Prompt{Kind: KindRSVPs, System: rsvpsSystemPrompt, User: t.Text})
		if err != nil {
			return nil, err
		}
		candidates, err := parseRSVPs(raw, t, conversationID)
		if err != nil {
			return nil, err
		}

		for i := range candidates {
			inserted, err := s.insights.InsertRSVP(ctx, &candidates[i])
			if err != nil {
				slog.Error("persist rsvp failed",
					"conversation", conversationID,
					"event", candidates[i].EventName,
					"error", err,
				)
				result.Errors = append(result.Errors, fmt.Sprintf("rsvp %q: %v", candidates[i].EventName, err))
				continue
			}
			if inserted {
				result.NewRSVPs = append(result.NewRSVPs, candidates[i])
			}
		}
		s.markProcessed(ctx, t)
	}

	pending, err := s.insights.ListPendingRSVPs(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list pending rsvps: %w", err)
	}
	result.PendingSummary = summarisePending(pending)
	return result, nil
}

// DeadlinesResult is the outcome of a deadline extraction run.
type DeadlinesResult struct {
	Deadlines []models.Deadline `json:"deadlines"`
	Errors    []string          `json:"errors,omitempty"`
}

// ExtractDeadlines extracts deadlines owned by userID from a conversation
// and persists the new ones (deduped on originating message).
func (s *Service) ExtractDeadlines(ctx context.Context, conversationID, userID string, daysBack int) (*DeadlinesResult, error) {
	t, err := s.window(ctx, conversationID, daysBack)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return &DeadlinesResult{}, nil
	}
	if err := s.limiter.Allow(ctx, userID, ratelimit.ScopeWindow); err != nil {
		return nil, err
	}

	raw, err := s.llm.Complete(ctx, Prompt{Kind: KindDeadlines, System: deadlinesSystemPrompt, User: t.Text})
	if err != nil {
		return nil, err
	}
	candidates, err := parseDeadlines(raw, t, conversationID, userID)
	if err != nil {
		return nil, err
	}

	result := &DeadlinesResult{}
	for i := range candidates {
		inserted, err := s.insights.InsertDeadline(ctx, &candidates[i])
		if err != nil {
			slog.Error("persist deadline failed",
				"conversation", conversationID,
				"task", candidates[i].Task,
				"error", err,
			)
			result.Errors = append(result.Errors, fmt.Sprintf("deadline %q: %v", candidates[i].Task, err))
			continue
		}
		if inserted {
			result.Deadlines = append(result.Deadlines, candidates[i])
		}
	}

	s.markProcessed(ctx, t)
	return result, nil
}

// DecisionsResult is the outcome of a decision extraction run.
type DecisionsResult struct {
	Decisions []models.Decision `json:"decisions"`
	Errors    []string          `json:"errors,omitempty"`
}

// TrackDecisions extracts decisions reached in a conversation.
func (s *Service) TrackDecisions(ctx context.Context, conversationID, callerID string, daysBack int) (*DecisionsResult, error) {
	t, err := s.window(ctx, conversationID, daysBack)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return &DecisionsResult{}, nil
	}
	if err := s.limiter.Allow(ctx, callerID, ratelimit.ScopeWindow); err != nil {
		return nil, err
	}

	raw, err := s.llm.Complete(ctx, Prompt{Kind: KindDecisions, System: decisionsSystemPrompt, User: t.Text})
	if err != nil {
		return nil, err
	}
	candidates, err := parseDecisions(raw, t, conversationID)
	if err != nil {
		return nil, err
	}

	result := &DecisionsResult{}
	for i := range candidates {
		if err := s.insights.InsertDecision(ctx, &candidates[i]); err != nil {
			slog.Error("persist decision failed",
				"conversation", conversationID,
				"error", err,
			)
			result.Errors = append(result.Errors, fmt.Sprintf("decision: %v", err))
			continue
		}
		result.Decisions = append(result.Decisions, candidates[i])
	}

	s.markProcessed(ctx, t)
	return result, nil
}

// PriorityResult is the outcome of a priority detection run.
type PriorityResult struct {
	Messages []models.PriorityMessage `json:"messages"`
	Errors   []string                 `json:"errors,omitempty"`
}

// DetectPriority flags messages needing attention. Scope is the daily
// opportunistic bucket when opportunistic is set (webhook/poller paths),
// else the explicit request window.
func (s *Service) DetectPriority(ctx context.Context, conversationID, callerID string, opportunistic bool) (*PriorityResult, error) {
	t, err := s.window(ctx, conversationID, MinDaysBack)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return &PriorityResult{}, nil
	}
	scope := ratelimit.ScopeWindow
	if opportunistic {
		scope = ratelimit.ScopeDaily
	}
	if err := s.limiter.Allow(ctx, callerID, scope); err != nil {
		return nil, err
	}

	raw, err := s.llm.Complete(ctx, Prompt{Kind: KindPriority, System: prioritySystemPrompt, User: t.Text})
	if err != nil {
		return nil, err
	}
	candidates, err := parsePriority(raw, t, conversationID)
	if err != nil {
		return nil, err
	}

	result := &PriorityResult{}
	for i := range candidates {
		if err := s.insights.UpsertPriorityMessage(ctx, &candidates[i]); err != nil {
			slog.Error("persist priority flag failed",
				"conversation", conversationID,
				"message", candidates[i].MessageID,
				"error", err,
			)
			result.Errors = append(result.Errors, fmt.Sprintf("priority %s: %v", candidates[i].MessageID, err))
			continue
		}
		result.Messages = append(result.Messages, candidates[i])
	}

	s.markProcessed(ctx, t)
	return result, nil
}

// DeadlinesForConversations runs deadline extraction across conversations
// with continue-on-error semantics: one conversation's failure is recorded
// and does not abort the others.
func (s *Service) DeadlinesForConversations(ctx context.Context, conversationIDs []string, userID string, daysBack int) (*DeadlinesResult, error) {
	combined := &DeadlinesResult{}
	for _, convID := range conversationIDs {
		if err := ctx.Err(); err != nil {
			return combined, err
		}
		res, err := s.ExtractDeadlines(ctx, convID, userID, daysBack)
		if err != nil {
			slog.Error("deadline extraction failed for conversation",
				"conversation", convID,
				"error", err,
			)
			combined.Errors = append(combined.Errors, fmt.Sprintf("conversation %s: %v", convID, err))
			continue
		}
		combined.Deadlines = append(combined.Deadlines, res.Deadlines...)
		combined.Errors = append(combined.Errors, res.Errors...)
	}
	return combined, nil
}

// markProcessed advances the window's watermarks; failure here is logged,
// not fatal — the worst case is a redundant re-extraction later, which
// dedup absorbs.
func (s *Service) markProcessed(ctx context.Context, t *Transcript) {
	if err := s.messages.MarkProcessed(ctx, t.IDs); err != nil {
		slog.Warn("mark messages processed failed", "error", err)
	}
}

// summarisePending renders a short human-readable digest of RSVPs still
// awaiting a response.
func summarisePending(pending []models.RSVPTracking) string {
	if len(pending) == 0 {
		return "No pending RSVPs."
	}
	parts := make([]string, 0, len(pending))
	for _, r := range pending {
		p := r.EventName
		if r.Deadline != nil {
			p += fmt.Sprintf(" (respond by %s)", r.Deadline.Format("Jan 2"))
		}
		parts = append(parts, p)
	}
	return fmt.Sprintf("%d pending RSVP(s): %s", len(pending), strings.Join(parts, "; "))
}
