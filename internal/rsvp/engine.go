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

// Package rsvp applies user responses to tracked RSVPs and materialises
// accepted invitations as calendar events.
//
// The response is the primary action: calendar materialisation is best
// effort, and its failure never fails the response itself.
package rsvp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loopline/insights/internal/models"
)

var (
	// ErrNotFound is returned when the RSVP does not exist.
	ErrNotFound = errors.New("rsvp not found")
	// ErrInvalidStatus is returned for a response other than yes/no/maybe.
	ErrInvalidStatus = errors.New("invalid rsvp response status")
)

// Store is the persistence the engine needs.
type Store interface {
	GetRSVP(ctx context.Context, id string) (*models.RSVPTracking, error)
	RespondRSVP(ctx context.Context, id string, status models.RSVPStatus, responderID string) (*models.RSVPTracking, error)
	InsertEvent(ctx context.Context, e *models.CalendarEvent) error
}

// EventSyncer pushes a materialised event to the external calendar.
// Implemented by the sync engine; settings gating happens there.
type EventSyncer interface {
	AutoSyncEvent(ctx context.Context, event *models.CalendarEvent, userID string) error
}

// Engine is the RSVP response engine.
type Engine struct {
	store  Store
	syncer EventSyncer
	now    func() time.Time
}

// New creates an RSVP engine.
func New(store Store, syncer EventSyncer) *Engine {
	return &Engine{store: store, syncer: syncer, now: time.Now}
}

// Result is the outcome of a response.
type Result struct {
	RSVP *models.RSVPTracking `json:"rsvp"`
	// Event is the calendar event materialised for a yes/maybe response.
	Event *models.CalendarEvent `json:"event,omitempty"`
	// CalendarError reports a failed materialisation or sync; the response
	// itself succeeded.
	CalendarError string `json:"calendar_error,omitempty"`
	// Refresh tells the caller to re-fetch the conversation's RSVP list
	// rather than merging in place.
	Refresh bool `json:"refresh"`
}

// defaultEventOffset is used when an RSVP has no stored event date.
const defaultEventOffset = 7 * 24 * time.Hour

// Respond applies a user's response to an RSVP.
//
// Responding to an already-responded RSVP overwrites the prior response
// (last writer wins); responder and responded-at are always written
// together and never cleared. Calendar materialisation fires only when the
// status actually changes to yes/maybe, so an identical repeat response
// cannot create a second event.
func (e *Engine) Respond(ctx context.Context, rsvpID string, status models.RSVPStatus, responderID string) (*Result, error) {
	if !models.ValidResponse(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if responderID == "" {
		return nil, fmt.Errorf("%w: missing responder", ErrInvalidStatus)
	}

	existing, err := e.store.GetRSVP(ctx, rsvpID)
	if err != nil {
		return nil, fmt.Errorf("load rsvp: %w", err)
	}
	if existing == nil {
		return nil, ErrNotFound
	}
	statusChanged := existing.Status != status

	updated, err := e.store.RespondRSVP(ctx, rsvpID, status, responderID)
	if err != nil {
		return nil, fmt.Errorf("apply rsvp response: %w", err)
	}

	result := &Result{RSVP: updated, Refresh: true}

	if statusChanged && (status == models.RSVPYes || status == models.RSVPMaybe) {
		event, err := e.materialise(ctx, updated, responderID)
		if err != nil {
			// Best effort: report, don't fail the response.
			slog.Error("calendar materialisation failed",
				"rsvp", rsvpID,
				"event_name", updated.EventName,
				"error", err,
			)
			result.CalendarError = err.Error()
		} else {
			result.Event = event
		}
	}

	return result, nil
}

// materialise creates the calendar event for an accepted invitation and
// hands it to the sync engine.
func (e *Engine) materialise(ctx context.Context, r *models.RSVPTracking, userID string) (*models.CalendarEvent, error) {
	date := e.now().UTC().Add(defaultEventOffset)
	if r.EventDate != nil {
		date = *r.EventDate
	}

	event := &models.CalendarEvent{
		ConversationID: r.ConversationID,
		MessageID:      r.MessageID,
		Title:          r.EventName,
		Date:           date,
		Category:       models.CategorySocial,
		Confidence:     1.0, // user action, not an extraction guess
		Confirmed:      true,
		SyncStatus:     models.SyncPending,
	}
	if err := e.store.InsertEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("create calendar event: %w", err)
	}

	if e.syncer != nil {
		if err := e.syncer.AutoSyncEvent(ctx, event, userID); err != nil {
			// The event row exists; sync failure is recorded on the entity
			// and retried by the queue.
			slog.Warn("event sync after rsvp failed",
				"event", event.ID,
				"error", err,
			)
		}
	}
	return event, nil
}
