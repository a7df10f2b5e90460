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

// Package api exposes the insight pipeline over HTTP. All endpoints are
// JSON-in, JSON-out; callers are identified by user_id in the request and
// checked against conversation membership before anything runs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loopline/insights/internal/assistant"
	"github.com/loopline/insights/internal/extract"
	"github.com/loopline/insights/internal/models"
	"github.com/loopline/insights/internal/notify"
	"github.com/loopline/insights/internal/ratelimit"
	"github.com/loopline/insights/internal/rsvp"
	"github.com/loopline/insights/internal/syncer"
)

// backgroundTimeout bounds work detached from a request.
const backgroundTimeout = 2 * time.Minute

// Extractor runs the LLM extraction pipeline. Implemented by
// extract.Service.
type Extractor interface {
	ExtractEvents(ctx context.Context, conversationID, callerID string, daysBack int) (*extract.EventsResult, error)
	TrackRSVPs(ctx context.Context, conversationID, userID string, daysBack int) (*extract.RSVPResult, error)
	ExtractDeadlines(ctx context.Context, conversationID, userID string, daysBack int) (*extract.DeadlinesResult, error)
	TrackDecisions(ctx context.Context, conversationID, callerID string, daysBack int) (*extract.DecisionsResult, error)
	DetectPriority(ctx context.Context, conversationID, callerID string, opportunistic bool) (*extract.PriorityResult, error)
}

// Responder applies RSVP responses. Implemented by rsvp.Engine.
type Responder interface {
	Respond(ctx context.Context, rsvpID string, status models.RSVPStatus, responderID string) (*rsvp.Result, error)
}

// ConflictDetector recomputes a conversation's conflicts. Implemented by
// conflict.Detector.
type ConflictDetector interface {
	Detect(ctx context.Context, conversationID string) ([]models.SchedulingConflict, error)
	Resolve(ctx context.Context, id string) error
}

// Syncer drives external calendar/reminder sync. Implemented by
// syncer.Engine.
type Syncer interface {
	SyncEvent(ctx context.Context, eventID, userID string) (*models.CalendarEvent, error)
	SyncDeadline(ctx context.Context, deadlineID, userID string) (*models.Deadline, error)
	SyncAllPendingEvents(ctx context.Context, userID string) (*syncer.BatchResult, error)
	SyncAllPendingDeadlines(ctx context.Context, userID string) (*syncer.BatchResult, error)
	ProcessSyncQueue(ctx context.Context, userID string) (*syncer.QueueResult, error)
	DetectExternalChanges(ctx context.Context, userID string) (*syncer.InboundResult, error)
}

// Assistant answers questions over stored insights. Implemented by
// assistant.Orchestrator.
type Assistant interface {
	Ask(ctx context.Context, conversationID, question string) (*assistant.Result, error)
}

// Access checks conversation membership. Implemented by store.Store.
type Access interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// Deduper filters already-seen hook deliveries. Implemented by dedup.Filter.
type Deduper interface {
	IsNew(ctx context.Context, id string) (bool, error)
}

// Notifier publishes notifications for delivery workers. Implemented by
// notify.Publisher.
type Notifier interface {
	Publish(ctx context.Context, kind, conversationID string, payload any) error
}

// ErrorSink records per-user operation failures. Implemented by ErrorStore.
type ErrorSink interface {
	Record(ctx context.Context, userID, op, message string)
	Get(ctx context.Context, userID, op string) (*StoredError, error)
	Clear(ctx context.Context, userID, op string) error
}

// Handler routes the HTTP API.
type Handler struct {
	extractor Extractor
	responder Responder
	conflicts ConflictDetector
	syncer    Syncer
	assistant Assistant
	access    Access
	dedup     Deduper
	notifier  Notifier
	errs      ErrorSink
}

// HandlerConfig holds the handler's collaborators.
type HandlerConfig struct {
	Extractor Extractor
	Responder Responder
	Conflicts ConflictDetector
	Syncer    Syncer
	Assistant Assistant
	Access    Access
	Dedup     Deduper
	Notifier  Notifier
	Errors    ErrorSink
}

// NewHandler creates the API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		extractor: cfg.Extractor,
		responder: cfg.Responder,
		conflicts: cfg.Conflicts,
		syncer:    cfg.Syncer,
		assistant: cfg.Assistant,
		access:    cfg.Access,
		dedup:     cfg.Dedup,
		notifier:  cfg.Notifier,
		errs:      cfg.Errors,
	}
}

// Register mounts every route on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/insights/events/extract", h.extractEvents)
	mux.HandleFunc("POST /api/insights/rsvps/extract", h.trackRSVPs)
	mux.HandleFunc("POST /api/insights/deadlines/extract", h.extractDeadlines)
	mux.HandleFunc("POST /api/insights/decisions/extract", h.trackDecisions)
	mux.HandleFunc("POST /api/insights/priority/detect", h.detectPriority)
	mux.HandleFunc("POST /api/insights/conflicts/detect", h.detectConflicts)
	mux.HandleFunc("POST /api/insights/conflicts/{id}/resolve", h.resolveConflict)

	mux.HandleFunc("POST /api/rsvps/{id}/respond", h.respondRSVP)
	mux.HandleFunc("POST /api/assistant/ask", h.ask)

	mux.HandleFunc("POST /api/sync/events/{id}", h.syncEvent)
	mux.HandleFunc("POST /api/sync/deadlines/{id}", h.syncDeadline)
	mux.HandleFunc("POST /api/sync/pending", h.syncPending)
	mux.HandleFunc("POST /api/sync/queue/process", h.processQueue)
	mux.HandleFunc("POST /api/sync/external/detect", h.detectExternal)

	mux.HandleFunc("GET /api/errors/{op}", h.getLastError)
	mux.HandleFunc("DELETE /api/errors/{op}", h.clearLastError)

	mux.HandleFunc("POST /hooks/message", h.messageHook)
	mux.HandleFunc("GET /health", h.health)
}

// extractRequest is the common body for the extraction endpoints.
type extractRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	DaysBack       int    `json:"days_back"`
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// checkAccess verifies conversation membership; it writes the response on
// failure and reports whether the caller may proceed.
func (h *Handler) checkAccess(w http.ResponseWriter, r *http.Request, conversationID, userID string) bool {
	if conversationID == "" || userID == "" {
		writeErr(w, http.StatusBadRequest, "conversation_id and user_id are required")
		return false
	}
	ok, err := h.access.IsParticipant(r.Context(), conversationID, userID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "membership check failed")
		return false
	}
	if !ok {
		writeErr(w, http.StatusForbidden, "not a participant of this conversation")
		return false
	}
	return true
}

// notifyExtracted publishes an insight.extracted notification when an
// extraction run produced anything. Best-effort: delivery workers catch up
// via polling if the queue push fails.
func (h *Handler) notifyExtracted(ctx context.Context, conversationID, entity string, count int) {
	if count == 0 {
		return
	}
	payload := map[string]any{"entity": entity, "count": count}
	if err := h.notifier.Publish(ctx, notify.KindInsightExtracted, conversationID, payload); err != nil {
		slog.Error("publish extraction notification", "entity", entity, "error", err)
	}
}

// fail maps a pipeline error onto the HTTP taxonomy and records it in the
// caller's last-error slot.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, userID, op string, err error) {
	h.errs.Record(r.Context(), userID, op, err.Error())

	var rl *ratelimit.Error
	switch {
	case errors.As(err, &rl):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": "extraction rate limit reached",
			"scope": string(rl.Scope),
			"count": rl.Count,
			"limit": rl.Limit,
		})
	case errors.Is(err, rsvp.ErrInvalidStatus):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, rsvp.ErrNotFound), errors.Is(err, syncer.ErrNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, syncer.ErrSyncDisabled):
		writeErr(w, http.StatusForbidden, "sync is not enabled for this user")
	case extract.IsSchemaError(err):
		writeErr(w, http.StatusBadGateway, fmt.Sprintf("model returned malformed data: %v", err))
	default:
		slog.Error("request failed", "op", op, "user", userID, "error", err)
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) extractEvents(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.checkAccess(w, r, req.ConversationID, req.UserID) {
		return
	}
	res, err := h.extractor.ExtractEvents(r.Context(), req.ConversationID, req.UserID, req.DaysBack)
	if err != nil {
		h.fail(w, r, req.UserID, "extract_events", err)
		return
	}
	h.notifyExtracted(r.Context(), req.ConversationID, "events", len(res.Events))
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) trackRSVPs(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.checkAccess(w, r, req.ConversationID, req.UserID) {
		return
	}
	res, err := h.extractor.TrackRSVPs(r.Context(), req.ConversationID, req.UserID, req.DaysBack)
	if err != nil {
		h.fail(w, r, req.UserID, "track_rsvps", err)
		return
	}
	h.notifyExtracted(r.Context(), req.ConversationID, "rsvps", len(res.NewRSVPs))
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) extractDeadlines(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.checkAccess(w, r, req.ConversationID, req.UserID) {
		return
	}
	res, err := h.extractor.ExtractDeadlines(r.Context(), req.ConversationID, req.UserID, req.DaysBack)
	if err != nil {
		h.fail(w, r, req.UserID, "extract_deadlines", err)
		return
	}
	h.notifyExtracted(r.Context(), req.ConversationID, "deadlines", len(res.Deadlines))
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) trackDecisions(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.checkAccess(w, r, req.ConversationID, req.UserID) {
		return
	}
	res, err := h.extractor.TrackDecisions(r.Context(), req.ConversationID, req.UserID, req.DaysBack)
	if err != nil {
		h.fail(w, r, req.UserID, "track_decisions", err)
		return
	}
	h.notifyExtracted(r.Context(), req.ConversationID, "decisions", len(res.Decisions))
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) detectPriority(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.checkAccess(w, r, req.ConversationID, req.UserID) {
		return
	}
	// Explicit request: charged against the per-window limit.
	res, err := h.extractor.DetectPriority(r.Context(), req.ConversationID, req.UserID, false)
	if err != nil {
		h.fail(w, r, req.UserID, "detect_priority", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) detectConflicts(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.checkAccess(w, r, req.ConversationID, req.UserID) {
		return
	}
	conflicts, err := h.conflicts.Detect(r.Context(), req.ConversationID)
	if err != nil {
		h.fail(w, r, req.UserID, "detect_conflicts", err)
		return
	}
	if len(conflicts) > 0 {
		payload := map[string]any{"count": len(conflicts)}
		if err := h.notifier.Publish(r.Context(), notify.KindConflictDetected, req.ConversationID, payload); err != nil {
			slog.Error("publish conflict notification", "conversation_id", req.ConversationID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})
}

func (h *Handler) resolveConflict(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.checkAccess(w, r, req.ConversationID, req.UserID) {
		return
	}
	if err := h.conflicts.Resolve(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, req.UserID, "resolve_conflict", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type respondRequest struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

func (h *Handler) respondRSVP(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeErr(w, http.StatusBadRequest, "user_id is required")
		return
	}
	res, err := h.responder.Respond(r.Context(), r.PathValue("id"), models.RSVPStatus(req.Status), req.UserID)
	if err != nil {
		h.fail(w, r, req.UserID, "rsvp_respond", err)
		return
	}
	if err := h.notifier.Publish(r.Context(), notify.KindRSVPResponded, res.RSVP.ConversationID, res.RSVP); err != nil {
		slog.Error("publish rsvp notification", "rsvp_id", res.RSVP.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, res)
}

type askRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Question       string `json:"question"`
}

func (h *Handler) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.checkAccess(w, r, req.ConversationID, req.UserID) {
		return
	}
	// An empty question is allowed: the assistant falls back to a general
	// summary of the conversation's insights.
	res, err := h.assistant.Ask(r.Context(), req.ConversationID, req.Question)
	if err != nil {
		h.fail(w, r, req.UserID, "assistant_ask", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type syncRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) syncEvent(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		writeErr(w, http.StatusBadRequest, "user_id is required")
		return
	}
	ev, err := h.syncer.SyncEvent(r.Context(), r.PathValue("id"), req.UserID)
	if err != nil && ev == nil {
		h.fail(w, r, req.UserID, "sync_event", err)
		return
	}
	if err != nil {
		// Partial: the event is marked failed and queued for retry.
		h.errs.Record(r.Context(), req.UserID, "sync_event", err.Error())
	}
	writeJSON(w, http.StatusOK, map[string]any{"event": ev})
}

func (h *Handler) syncDeadline(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		writeErr(w, http.StatusBadRequest, "user_id is required")
		return
	}
	d, err := h.syncer.SyncDeadline(r.Context(), r.PathValue("id"), req.UserID)
	if err != nil && d == nil {
		h.fail(w, r, req.UserID, "sync_deadline", err)
		return
	}
	if err != nil {
		h.errs.Record(r.Context(), req.UserID, "sync_deadline", err.Error())
	}
	writeJSON(w, http.StatusOK, map[string]any{"deadline": d})
}

func (h *Handler) syncPending(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		writeErr(w, http.StatusBadRequest, "user_id is required")
		return
	}

	events, err := h.syncer.SyncAllPendingEvents(r.Context(), req.UserID)
	if err != nil && !errors.Is(err, syncer.ErrSyncDisabled) {
		h.fail(w, r, req.UserID, "sync_pending", err)
		return
	}
	deadlines, err := h.syncer.SyncAllPendingDeadlines(r.Context(), req.UserID)
	if err != nil && !errors.Is(err, syncer.ErrSyncDisabled) {
		h.fail(w, r, req.UserID, "sync_pending", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events":    events,
		"deadlines": deadlines,
	})
}

func (h *Handler) processQueue(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		writeErr(w, http.StatusBadRequest, "user_id is required")
		return
	}
	res, err := h.syncer.ProcessSyncQueue(r.Context(), req.UserID)
	if err != nil {
		h.fail(w, r, req.UserID, "sync_queue", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) detectExternal(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		writeErr(w, http.StatusBadRequest, "user_id is required")
		return
	}
	res, err := h.syncer.DetectExternalChanges(r.Context(), req.UserID)
	if err != nil {
		h.fail(w, r, req.UserID, "sync_inbound", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) getLastError(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeErr(w, http.StatusBadRequest, "user_id is required")
		return
	}
	stored, err := h.errs.Get(r.Context(), userID, r.PathValue("op"))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	if stored == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (h *Handler) clearLastError(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeErr(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := h.errs.Clear(r.Context(), userID, r.PathValue("op")); err != nil {
		writeErr(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// messageHookPayload is what the chat backend POSTs on every new message.
type messageHookPayload struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
}

// messageHook accepts new-message notifications from the chat backend and
// kicks off opportunistic priority detection in the background. Responds 202
// immediately; duplicate deliveries are dropped via the dedup filter.
func (h *Handler) messageHook(w http.ResponseWriter, r *http.Request) {
	var payload messageHookPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.MessageID == "" || payload.ConversationID == "" {
		writeErr(w, http.StatusBadRequest, "message_id and conversation_id are required")
		return
	}

	isNew, err := h.dedup.IsNew(r.Context(), "hook:"+payload.MessageID)
	if err != nil {
		slog.Warn("hook dedup check failed", "message_id", payload.MessageID, "error", err)
	} else if !isNew {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	go h.detectPriorityBackground(payload)
	w.WriteHeader(http.StatusAccepted)
}

// detectPriorityBackground runs opportunistic priority detection detached
// from the hook request and publishes a notification per flagged message.
func (h *Handler) detectPriorityBackground(payload messageHookPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()

	res, err := h.extractor.DetectPriority(ctx, payload.ConversationID, payload.SenderID, true)
	if err != nil {
		// The daily budget running out is expected, not an incident.
		level := slog.LevelError
		if ratelimit.IsLimited(err) {
			level = slog.LevelDebug
		}
		slog.Log(ctx, level, "opportunistic priority detection failed",
			"conversation_id", payload.ConversationID,
			"error", err,
		)
		return
	}

	for _, msg := range res.Messages {
		if err := h.notifier.Publish(ctx, notify.KindPriorityFlagged, payload.ConversationID, msg); err != nil {
			slog.Error("publish priority notification",
				"message_id", msg.MessageID,
				"error", err,
			)
		}
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
