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

// Package assistant answers free-form questions about a conversation by
// gathering its stored insights in parallel and composing a model reply
// over them.
//
// Gathering is best-effort: a failed source is reported alongside whatever
// the other sources returned, so a partial answer is still an answer.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loopline/insights/internal/extract"
	"github.com/loopline/insights/internal/models"
)

// horizon bounds how far ahead the assistant looks for commitments.
const horizon = 30 * 24 * time.Hour

const systemPrompt = `You are a family-logistics assistant. You are given a ` +
	`question and the structured insights extracted from a group conversation: ` +
	`upcoming events, open invitations, pending deadlines, and scheduling ` +
	`conflicts. Answer the question concisely using only this material. If the ` +
	`insights do not contain the answer, say so plainly. Respond in plain text.`

// InsightReader is the stored-insight access the orchestrator needs.
// Implemented by store.Store.
type InsightReader interface {
	ListConfirmedEventsInRange(ctx context.Context, conversationID string, from, to time.Time) ([]models.CalendarEvent, error)
	ListPendingRSVPs(ctx context.Context, conversationID string) ([]models.RSVPTracking, error)
	ListPendingDeadlinesInRange(ctx context.Context, conversationID string, from, to time.Time) ([]models.Deadline, error)
	ListConflicts(ctx context.Context, conversationID string, includeResolved bool) ([]models.SchedulingConflict, error)
}

// Orchestrator fans a question out over the insight sources and summarises.
type Orchestrator struct {
	llm   extract.Client
	store InsightReader
	now   func() time.Time
}

// New creates an orchestrator.
func New(llm extract.Client, store InsightReader) *Orchestrator {
	return &Orchestrator{llm: llm, store: store, now: time.Now}
}

// Result is the assistant's answer plus the material it was grounded on.
type Result struct {
	Message    string                      `json:"message"`
	Events     []models.CalendarEvent      `json:"events,omitempty"`
	RSVPs      []models.RSVPTracking       `json:"rsvps,omitempty"`
	Deadlines  []models.Deadline           `json:"deadlines,omitempty"`
	Conflicts  []models.SchedulingConflict `json:"conflicts,omitempty"`
	ToolsUsed  []string                    `json:"tools_used"`
	ToolErrors []string                    `json:"tool_errors,omitempty"`
}

// defaultQuestion stands in when the caller asks for nothing specific.
const defaultQuestion = "Give a brief summary of upcoming events, open invitations, approaching deadlines, and any scheduling conflicts."

// Ask gathers the conversation's insights concurrently and asks the model to
// answer the question over them. An empty question yields a general summary
// of everything gathered. Source failures degrade the answer rather than
// fail it; only a model failure (or every source failing) is an error.
func (o *Orchestrator) Ask(ctx context.Context, conversationID, question string) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		question = defaultQuestion
	}

	from := o.now().UTC().Truncate(24 * time.Hour)
	to := from.Add(horizon)

	res := &Result{}
	var mu sync.Mutex
	fail := func(tool string, err error) {
		mu.Lock()
		defer mu.Unlock()
		res.ToolErrors = append(res.ToolErrors, fmt.Sprintf("%s: %v", tool, err))
	}
	used := func(tool string) {
		mu.Lock()
		defer mu.Unlock()
		res.ToolsUsed = append(res.ToolsUsed, tool)
	}

	var g errgroup.Group
	g.Go(func() error {
		events, err := o.store.ListConfirmedEventsInRange(ctx, conversationID, from, to)
		if err != nil {
			fail("events", err)
			return nil
		}
		res.Events = events
		used("events")
		return nil
	})
	g.Go(func() error {
		rsvps, err := o.store.ListPendingRSVPs(ctx, conversationID)
		if err != nil {
			fail("rsvps", err)
			return nil
		}
		res.RSVPs = rsvps
		used("rsvps")
		return nil
	})
	g.Go(func() error {
		deadlines, err := o.store.ListPendingDeadlinesInRange(ctx, conversationID, from, to)
		if err != nil {
			fail("deadlines", err)
			return nil
		}
		res.Deadlines = deadlines
		used("deadlines")
		return nil
	})
	g.Go(func() error {
		conflicts, err := o.store.ListConflicts(ctx, conversationID, false)
		if err != nil {
			fail("conflicts", err)
			return nil
		}
		res.Conflicts = conflicts
		used("conflicts")
		return nil
	})
	g.Wait() // goroutines never return errors; failures land in ToolErrors

	if len(res.ToolsUsed) == 0 {
		return nil, fmt.Errorf("all insight sources failed: %s", strings.Join(res.ToolErrors, "; "))
	}
	if len(res.ToolErrors) > 0 {
		slog.Warn("assistant answering from partial insights",
			"conversation_id", conversationID,
			"errors", res.ToolErrors,
		)
	}

	answer, err := o.llm.Complete(ctx, extract.Prompt{
		Kind:   extract.KindSummary,
		System: systemPrompt,
		User:   composeContext(question, res),
	})
	if err != nil {
		return nil, fmt.Errorf("compose answer: %w", err)
	}
	res.Message = strings.TrimSpace(answer)
	return res, nil
}

// composeContext renders the gathered insights into the model's user prompt.
func composeContext(question string, res *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", question)

	b.WriteString("\nUpcoming events:\n")
	if len(res.Events) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, e := range res.Events {
		fmt.Fprintf(&b, "  - %s on %s", e.Title, e.Date.Format("Mon Jan 2"))
		if e.TimeOfDay != "" {
			fmt.Fprintf(&b, " at %s", e.TimeOfDay)
		}
		if e.Location != "" {
			fmt.Fprintf(&b, " (%s)", e.Location)
		}
		b.WriteString("\n")
	}

	b.WriteString("\nOpen invitations:\n")
	if len(res.RSVPs) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, r := range res.RSVPs {
		fmt.Fprintf(&b, "  - %s", r.EventName)
		if r.Deadline != nil {
			fmt.Fprintf(&b, " (reply by %s)", r.Deadline.Format("Jan 2"))
		}
		b.WriteString("\n")
	}

	b.WriteString("\nPending deadlines:\n")
	if len(res.Deadlines) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, d := range res.Deadlines {
		fmt.Fprintf(&b, "  - %s due %s (%s priority)\n",
			d.Task, d.DueAt.Format("Mon Jan 2 15:04"), d.Priority)
	}

	b.WriteString("\nScheduling conflicts:\n")
	if len(res.Conflicts) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, c := range res.Conflicts {
		fmt.Fprintf(&b, "  - [%s] %s\n", c.Severity, c.Reason)
	}

	return b.String()
}
