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

// Package models defines the data structures shared across the insights service.
package models

import "time"

// EventCategory classifies an extracted calendar event or deadline.
type EventCategory string

const (
	CategorySchool  EventCategory = "school"
	CategoryMedical EventCategory = "medical"
	CategorySocial  EventCategory = "social"
	CategorySports  EventCategory = "sports"
	CategoryWork    EventCategory = "work"
	CategoryOther   EventCategory = "other"
)

// ValidCategory reports whether c is a known category.
func ValidCategory(c EventCategory) bool {
	switch c {
	case CategorySchool, CategoryMedical, CategorySocial, CategorySports, CategoryWork, CategoryOther:
		return true
	}
	return false
}

// Priority is a totally ordered urgency level: urgent > high > medium > low.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// priorityRank maps priorities to sortable ranks; lower rank sorts first.
var priorityRank = map[Priority]int{
	PriorityUrgent: 0,
	PriorityHigh:   1,
	PriorityMedium: 2,
	PriorityLow:    3,
}

// Rank returns the sort rank of p. Unknown priorities sort last.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// Before reports whether p is more urgent than other.
func (p Priority) Before(other Priority) bool {
	return p.Rank() < other.Rank()
}

// ValidPriority reports whether p is one of the defined priority levels.
func ValidPriority(p Priority) bool {
	_, ok := priorityRank[p]
	return ok
}

// SyncStatus tracks reconciliation state with the external calendar system.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// RSVPStatus is the response state of a tracked RSVP.
type RSVPStatus string

const (
	RSVPPending RSVPStatus = "pending"
	RSVPYes     RSVPStatus = "yes"
	RSVPNo      RSVPStatus = "no"
	RSVPMaybe   RSVPStatus = "maybe"
)

// ValidResponse reports whether s is a valid response to a pending RSVP.
func ValidResponse(s RSVPStatus) bool {
	return s == RSVPYes || s == RSVPNo || s == RSVPMaybe
}

// DeadlineStatus is the lifecycle state of a deadline.
type DeadlineStatus string

const (
	DeadlinePending   DeadlineStatus = "pending"
	DeadlineCompleted DeadlineStatus = "completed"
	DeadlineCancelled DeadlineStatus = "cancelled"
)

// ConflictSeverity ranks how serious a scheduling conflict is.
type ConflictSeverity string

const (
	SeverityHigh   ConflictSeverity = "high"
	SeverityMedium ConflictSeverity = "medium"
	SeverityLow    ConflictSeverity = "low"
)

// Message is a chat message from the conversation store. Read-only to this
// service except for the LastProcessedAt watermark.
type Message struct {
	ID              string     `json:"id"`
	ConversationID  string     `json:"conversation_id"`
	SenderID        string     `json:"sender_id"`
	SenderName      string     `json:"sender_name,omitempty"`
	Body            string     `json:"body"`
	CreatedAt       time.Time  `json:"created_at"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
}

// CalendarEvent is an extracted (and possibly user-confirmed) event.
//
// Confidence reflects extraction certainty, not user-confirmed truth; it is
// always in [0,1]. An event with both external IDs empty is pending sync.
type CalendarEvent struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	MessageID      string        `json:"message_id,omitempty"`
	Title          string        `json:"title"`
	Date           time.Time     `json:"date"`
	TimeOfDay      string        `json:"time,omitempty"` // "15:04", empty = unknown
	Location       string        `json:"location,omitempty"`
	Description    string        `json:"description,omitempty"`
	Category       EventCategory `json:"category"`
	Confidence     float64       `json:"confidence"`
	Confirmed      bool          `json:"confirmed"`

	AppleEventID  string     `json:"apple_event_id,omitempty"`
	GoogleEventID string     `json:"google_event_id,omitempty"`
	SyncStatus    SyncStatus `json:"sync_status"`
	SyncError     string     `json:"sync_error,omitempty"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExternalID returns the stored external identifier for a provider.
func (e *CalendarEvent) ExternalID(provider string) string {
	switch provider {
	case ProviderApple:
		return e.AppleEventID
	case ProviderGoogle:
		return e.GoogleEventID
	}
	return ""
}

// SetExternalID stores the external identifier for a provider.
func (e *CalendarEvent) SetExternalID(provider, id string) {
	switch provider {
	case ProviderApple:
		e.AppleEventID = id
	case ProviderGoogle:
		e.GoogleEventID = id
	}
}

// Calendar provider names.
const (
	ProviderApple  = "apple"
	ProviderGoogle = "google"
)

// RSVPTracking tracks an invitation found in a conversation and its response
// state. RSVPs are conversation-scoped: any participant may respond, and the
// response records who acted.
type RSVPTracking struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	MessageID      string     `json:"message_id"`
	EventName      string     `json:"event_name"`
	EventDate      *time.Time `json:"event_date,omitempty"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	Status         RSVPStatus `json:"status"`
	ResponderID    string     `json:"responder_id,omitempty"`
	RespondedAt    *time.Time `json:"responded_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Deadline is an extracted task with a due time, owned by a single user.
type Deadline struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	MessageID      string         `json:"message_id"`
	UserID         string         `json:"user_id"`
	Task           string         `json:"task"`
	DueAt          time.Time      `json:"due_at"`
	Category       EventCategory  `json:"category"`
	Priority       Priority       `json:"priority"`
	Details        string         `json:"details,omitempty"`
	Status         DeadlineStatus `json:"status"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"` // set iff status=completed

	ReminderID   string     `json:"reminder_id,omitempty"`
	SyncStatus   SyncStatus `json:"sync_status"`
	SyncError    string     `json:"sync_error,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Decision is an informational record of a decision reached in conversation.
// Immutable once created.
type Decision struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	MessageID      string        `json:"message_id"`
	Text           string        `json:"text"`
	Category       EventCategory `json:"category"`
	DeciderID      string        `json:"decider_id,omitempty"`
	Deadline       *time.Time    `json:"deadline,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// PriorityMessage flags a message as needing attention. One per message;
// re-extraction overwrites.
type PriorityMessage struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Priority       Priority  `json:"priority"` // urgent/high/medium only
	Reason         string    `json:"reason"`
	ActionRequired bool      `json:"action_required"`
	Dismissed      bool      `json:"dismissed"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conflict entity kinds referenced by SchedulingConflict.
const (
	EntityEvent    = "event"
	EntityDeadline = "deadline"
)

// SchedulingConflict is a derived record describing two overlapping time
// commitments. Recomputed by the conflict detector, never hand-edited.
type SchedulingConflict struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	FirstKind      string           `json:"first_kind"`
	FirstID        string           `json:"first_id"`
	SecondKind     string           `json:"second_kind"`
	SecondID       string           `json:"second_id"`
	Reason         string           `json:"reason"`
	Severity       ConflictSeverity `json:"severity"`
	// Fingerprint captures the pair's schedule at detection time. A
	// resolved conflict stays suppressed only while it is unchanged; a
	// moved event re-surfaces the conflict.
	Fingerprint string    `json:"fingerprint"`
	Resolved    bool      `json:"resolved"`
	DetectedAt  time.Time `json:"detected_at"`
}

// PairKey identifies the conflicting pair independent of detection run,
// used to preserve resolved state across recomputation.
func (c *SchedulingConflict) PairKey() string {
	a := c.FirstKind + ":" + c.FirstID
	b := c.SecondKind + ":" + c.SecondID
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// SyncQueueEntry is a pending retry of a failed outbound sync.
type SyncQueueEntry struct {
	ID            int64      `json:"id"`
	EntityKind    string     `json:"entity_kind"` // "event" or "deadline"
	EntityID      string     `json:"entity_id"`
	UserID        string     `json:"user_id"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	Status        string     `json:"status"` // "queued", "abandoned"
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// SyncSettings gates sync behaviour per user.
type SyncSettings struct {
	UserID           string            `json:"user_id"`
	CalendarEnabled  bool              `json:"calendar_enabled"`
	RemindersEnabled bool              `json:"reminders_enabled"`
	AutoSync         bool              `json:"auto_sync"`
	// CategoryCalendars routes event categories to named target calendars,
	// e.g. "school" -> "Family". Empty = provider default calendar.
	CategoryCalendars map[EventCategory]string `json:"category_calendars,omitempty"`
}

// CalendarFor returns the target calendar name for a category, or "" for
// the provider default.
func (s *SyncSettings) CalendarFor(c EventCategory) string {
	if s == nil || s.CategoryCalendars == nil {
		return ""
	}
	return s.CategoryCalendars[c]
}
