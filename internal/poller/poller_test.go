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

package poller

import (
	"context"
	"testing"
	"time"

	"github.com/loopline/insights/internal/extract"
	"github.com/loopline/insights/internal/models"
	"github.com/loopline/insights/internal/ratelimit"
)

type fakeMessages struct {
	msgs []models.Message
}

func (f *fakeMessages) UnprocessedSince(context.Context, time.Time, int) ([]models.Message, error) {
	return f.msgs, nil
}

type fakeDetector struct {
	calls []string
	res   *extract.PriorityResult
	err   error
}

func (f *fakeDetector) DetectPriority(_ context.Context, conversationID, _ string, _ bool) (*extract.PriorityResult, error) {
	f.calls = append(f.calls, conversationID)
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

type fakeDedup struct {
	seen map[string]bool
}

func (f *fakeDedup) IsNew(_ context.Context, id string) (bool, error) {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[id] {
		return false, nil
	}
	f.seen[id] = true
	return true, nil
}

type fakeNotifier struct {
	published int
}

func (f *fakeNotifier) Publish(context.Context, string, string, any) error {
	f.published++
	return nil
}

func msg(id, convID string, at time.Time) models.Message {
	return models.Message{ID: id, ConversationID: convID, SenderID: "user-1", CreatedAt: at}
}

func TestSweepOncePerConversation(t *testing.T) {
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	det := &fakeDetector{res: &extract.PriorityResult{}}
	p := New(&fakeMessages{msgs: []models.Message{
		msg("m1", "conv-1", base),
		msg("m2", "conv-1", base.Add(time.Minute)),
		msg("m3", "conv-2", base),
	}}, det, &fakeDedup{}, &fakeNotifier{}, time.Minute, time.Hour)

	p.sweep(context.Background())

	if len(det.calls) != 2 {
		t.Fatalf("detections = %v, want one per conversation", det.calls)
	}
}

func TestSweepSkipsAlreadySeen(t *testing.T) {
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	det := &fakeDetector{res: &extract.PriorityResult{}}
	p := New(&fakeMessages{msgs: []models.Message{msg("m1", "conv-1", base)}},
		det, &fakeDedup{}, &fakeNotifier{}, time.Minute, time.Hour)

	p.sweep(context.Background())
	p.sweep(context.Background())

	if len(det.calls) != 1 {
		t.Fatalf("detections = %d, want 1 (second sweep deduped)", len(det.calls))
	}
}

func TestSweepPublishesFlags(t *testing.T) {
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	det := &fakeDetector{res: &extract.PriorityResult{Messages: []models.PriorityMessage{
		{MessageID: "m1", Priority: models.PriorityUrgent},
	}}}
	notifier := &fakeNotifier{}
	p := New(&fakeMessages{msgs: []models.Message{msg("m1", "conv-1", base)}},
		det, &fakeDedup{}, notifier, time.Minute, time.Hour)

	p.sweep(context.Background())

	if notifier.published != 1 {
		t.Fatalf("published = %d, want 1", notifier.published)
	}
}

func TestSweepStopsWhenBudgetExhausted(t *testing.T) {
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	det := &fakeDetector{err: &ratelimit.Error{Scope: ratelimit.ScopeDaily, Count: 1001, Limit: 1000}}
	p := New(&fakeMessages{msgs: []models.Message{
		msg("m1", "conv-1", base),
		msg("m2", "conv-2", base),
		msg("m3", "conv-3", base),
	}}, det, &fakeDedup{}, &fakeNotifier{}, time.Minute, time.Hour)

	p.sweep(context.Background())

	if len(det.calls) != 1 {
		t.Fatalf("detections = %d, want 1 (sweep aborts on exhausted budget)", len(det.calls))
	}
}
