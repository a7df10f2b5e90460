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

package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/loopline/insights/internal/models"
)

// SchemaError reports model output that fails schema validation, naming the
// offending field path so a changed output shape is debuggable.
type SchemaError struct {
	Path string
	Msg  string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("model output format error at %s: %s", e.Path, e.Msg)
}

// IsSchemaError reports whether err is a schema validation failure.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

func schemaErrf(path, format string, args ...any) error {
	return &SchemaError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// Accepted date layouts in model output, most specific first.
var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"}

func parseDate(path, raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, schemaErrf(path, "unparseable date %q", raw)
}

func parseOptionalDate(path, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := parseDate(path, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// repairCategory maps unknown categories to "other" rather than failing —
// category drift is cosmetic, unlike a missing title or date.
func repairCategory(raw string) models.EventCategory {
	c := models.EventCategory(raw)
	if models.ValidCategory(c) {
		return c
	}
	return models.CategoryOther
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// --- per-kind raw shapes and parsers ---

type rawEvent struct {
	MessageRef  string  `json:"message_ref"`
	Title       string  `json:"title"`
	Date        string  `json:"date"`
	Time        string  `json:"time"`
	Location    string  `json:"location"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Confidence  float64 `json:"confidence"`
}

func parseEvents(raw string, t *Transcript, conversationID string) ([]models.CalendarEvent, error) {
	var payload struct {
		Events []rawEvent `json:"events"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, schemaErrf("events", "invalid JSON: %v", err)
	}

	out := make([]models.CalendarEvent, 0, len(payload.Events))
	for i, e := range payload.Events {
		path := fmt.Sprintf("events[%d]", i)
		if e.Title == "" {
			return nil, schemaErrf(path+".title", "missing")
		}
		date, err := parseDate(path+".date", e.Date)
		if err != nil {
			return nil, err
		}
		// Message ref is optional for events; an unknown ref degrades to no
		// originating message rather than failing the batch.
		msgID, _ := t.resolveRef(e.MessageRef)

		out = append(out, models.CalendarEvent{
			ConversationID: conversationID,
			MessageID:      msgID,
			Title:          e.Title,
			Date:           date,
			TimeOfDay:      e.Time,
			Location:       e.Location,
			Description:    e.Description,
			Category:       repairCategory(e.Category),
			Confidence:     clamp01(e.Confidence),
			SyncStatus:     models.SyncPending,
		})
	}
	return out, nil
}

type rawRSVP struct {
	MessageRef string `json:"message_ref"`
	EventName  string `json:"event_name"`
	EventDate  string `json:"event_date"`
	Deadline   string `json:"deadline"`
}

func parseRSVPs(raw string, t *Transcript, conversationID string) ([]models.RSVPTracking, error) {
	var payload struct {
		RSVPs []rawRSVP `json:"rsvps"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, schemaErrf("rsvps", "invalid JSON: %v", err)
	}

	out := make([]models.RSVPTracking, 0, len(payload.RSVPs))
	for i, r := range payload.RSVPs {
		path := fmt.Sprintf("rsvps[%d]", i)
		if r.EventName == "" {
			return nil, schemaErrf(path+".event_name", "missing")
		}
		// RSVPs dedup on the originating message, so the ref is required.
		msgID, ok := t.resolveRef(r.MessageRef)
		if !ok {
			return nil, schemaErrf(path+".message_ref", "unknown reference %q", r.MessageRef)
		}
		eventDate, err := parseOptionalDate(path+".event_date", r.EventDate)
		if err != nil {
			return nil, err
		}
		deadline, err := parseOptionalDate(path+".deadline", r.Deadline)
		if err != nil {
			return nil, err
		}

		out = append(out, models.RSVPTracking{
			ConversationID: conversationID,
			MessageID:      msgID,
			EventName:      r.EventName,
			EventDate:      eventDate,
			Deadline:       deadline,
			Status:         models.RSVPPending,
		})
	}
	return out, nil
}

type rawDeadline struct {
	MessageRef string `json:"message_ref"`
	Task       string `json:"task"`
	Due        string `json:"due"`
	Category   string `json:"category"`
	Priority   string `json:"priority"`
	Details    string `json:"details"`
}

func parseDeadlines(raw string, t *Transcript, conversationID, userID string) ([]models.Deadline, error) {
	var payload struct {
		Deadlines []rawDeadline `json:"deadlines"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, schemaErrf("deadlines", "invalid JSON: %v", err)
	}

	out := make([]models.Deadline, 0, len(payload.Deadlines))
	for i, d := range payload.Deadlines {
		path := fmt.Sprintf("deadlines[%d]", i)
		if d.Task == "" {
			return nil, schemaErrf(path+".task", "missing")
		}
		due, err := parseDate(path+".due", d.Due)
		if err != nil {
			return nil, err
		}
		msgID, ok := t.resolveRef(d.MessageRef)
		if !ok {
			return nil, schemaErrf(path+".message_ref", "unknown reference %q", d.MessageRef)
		}
		priority := models.Priority(d.Priority)
		if !models.ValidPriority(priority) {
			return nil, schemaErrf(path+".priority", "unknown priority %q", d.Priority)
		}

		out = append(out, models.Deadline{
			ConversationID: conversationID,
			MessageID:      msgID,
			UserID:         userID,
			Task:           d.Task,
			DueAt:          due,
			Category:       repairCategory(d.Category),
			Priority:       priority,
			Details:        d.Details,
			Status:         models.DeadlinePending,
			SyncStatus:     models.SyncPending,
		})
	}
	return out, nil
}

type rawDecision struct {
	MessageRef string `json:"message_ref"`
	Text       string `json:"text"`
	Category   string `json:"category"`
	DeciderRef string `json:"decider"`
	Deadline   string `json:"deadline"`
}

func parseDecisions(raw string, t *Transcript, conversationID string) ([]models.Decision, error) {
	var payload struct {
		Decisions []rawDecision `json:"decisions"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, schemaErrf("decisions", "invalid JSON: %v", err)
	}

	out := make([]models.Decision, 0, len(payload.Decisions))
	for i, d := range payload.Decisions {
		path := fmt.Sprintf("decisions[%d]", i)
		if d.Text == "" {
			return nil, schemaErrf(path+".text", "missing")
		}
		msgID, _ := t.resolveRef(d.MessageRef)
		deadline, err := parseOptionalDate(path+".deadline", d.Deadline)
		if err != nil {
			return nil, err
		}

		out = append(out, models.Decision{
			ConversationID: conversationID,
			MessageID:      msgID,
			Text:           d.Text,
			Category:       repairCategory(d.Category),
			DeciderID:      d.DeciderRef,
			Deadline:       deadline,
		})
	}
	return out, nil
}

type rawPriority struct {
	MessageRef     string `json:"message_ref"`
	Priority       string `json:"priority"`
	Reason         string `json:"reason"`
	ActionRequired bool   `json:"action_required"`
}

func parsePriority(raw string, t *Transcript, conversationID string) ([]models.PriorityMessage, error) {
	var payload struct {
		Messages []rawPriority `json:"messages"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, schemaErrf("messages", "invalid JSON: %v", err)
	}

	out := make([]models.PriorityMessage, 0, len(payload.Messages))
	for i, p := range payload.Messages {
		path := fmt.Sprintf("messages[%d]", i)
		msgID, ok := t.resolveRef(p.MessageRef)
		if !ok {
			return nil, schemaErrf(path+".message_ref", "unknown reference %q", p.MessageRef)
		}
		priority := models.Priority(p.Priority)
		switch priority {
		case models.PriorityUrgent, models.PriorityHigh, models.PriorityMedium:
		case models.PriorityLow:
			continue // low is not a flag — drop rather than fail
		default:
			return nil, schemaErrf(path+".priority", "unknown priority %q", p.Priority)
		}

		out = append(out, models.PriorityMessage{
			MessageID:      msgID,
			ConversationID: conversationID,
			Priority:       priority,
			Reason:         p.Reason,
			ActionRequired: p.ActionRequired,
		})
	}
	return out, nil
}
