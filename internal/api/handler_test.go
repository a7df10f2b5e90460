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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loopline/insights/internal/assistant"
	"github.com/loopline/insights/internal/extract"
	"github.com/loopline/insights/internal/models"
	"github.com/loopline/insights/internal/notify"
	"github.com/loopline/insights/internal/ratelimit"
	"github.com/loopline/insights/internal/rsvp"
	"github.com/loopline/insights/internal/syncer"
)

type fakeExtractor struct {
	eventsRes   *extract.EventsResult
	priorityRes *extract.PriorityResult
	err         error

	mu            sync.Mutex
	priorityCalls int
	called        chan struct{}
}

func (f *fakeExtractor) ExtractEvents(context.Context, string, string, int) (*extract.EventsResult, error) {
	return f.eventsRes, f.err
}

func (f *fakeExtractor) TrackRSVPs(context.Context, string, string, int) (*extract.RSVPResult, error) {
	return &extract.RSVPResult{}, f.err
}

func (f *fakeExtractor) ExtractDeadlines(context.Context, string, string, int) (*extract.DeadlinesResult, error) {
	return &extract.DeadlinesResult{}, f.err
}

func (f *fakeExtractor) TrackDecisions(context.Context, string, string, int) (*extract.DecisionsResult, error) {
	return &extract.DecisionsResult{}, f.err
}

func (f *fakeExtractor) DetectPriority(context.Context, string, string, bool) (*extract.PriorityResult, error) {
	f.mu.Lock()
	f.priorityCalls++
	f.mu.Unlock()
	if f.called != nil {
		f.called <- struct{}{}
	}
	return f.priorityRes, f.err
}

type fakeResponder struct {
	res *rsvp.Result
	err error
}

func (f *fakeResponder) Respond(context.Context, string, models.RSVPStatus, string) (*rsvp.Result, error) {
	return f.res, f.err
}

type fakeConflicts struct {
	res      []models.SchedulingConflict
	resolved int
	err      error
}

func (f *fakeConflicts) Detect(context.Context, string) ([]models.SchedulingConflict, error) {
	return f.res, f.err
}

func (f *fakeConflicts) Resolve(context.Context, string) error {
	f.resolved++
	return f.err
}

type fakeSyncer struct {
	event *models.CalendarEvent
	err   error
}

func (f *fakeSyncer) SyncEvent(context.Context, string, string) (*models.CalendarEvent, error) {
	return f.event, f.err
}

func (f *fakeSyncer) SyncDeadline(context.Context, string, string) (*models.Deadline, error) {
	return nil, f.err
}

func (f *fakeSyncer) SyncAllPendingEvents(context.Context, string) (*syncer.BatchResult, error) {
	return &syncer.BatchResult{}, f.err
}

func (f *fakeSyncer) SyncAllPendingDeadlines(context.Context, string) (*syncer.BatchResult, error) {
	return &syncer.BatchResult{}, f.err
}

func (f *fakeSyncer) ProcessSyncQueue(context.Context, string) (*syncer.QueueResult, error) {
	return &syncer.QueueResult{}, f.err
}

func (f *fakeSyncer) DetectExternalChanges(context.Context, string) (*syncer.InboundResult, error) {
	return &syncer.InboundResult{}, f.err
}

type fakeAssistant struct {
	res *assistant.Result
	err error
}

func (f *fakeAssistant) Ask(context.Context, string, string) (*assistant.Result, error) {
	return f.res, f.err
}

type fakeAccess struct {
	member bool
	err    error
}

func (f *fakeAccess) IsParticipant(context.Context, string, string) (bool, error) {
	return f.member, f.err
}

type fakeDedup struct {
	seen map[string]bool
	mu   sync.Mutex
}

func (f *fakeDedup) IsNew(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	mu        sync.Mutex
	published []string
}

func (f *fakeNotifier) Publish(_ context.Context, kind, _ string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, kind)
	return nil
}

func (f *fakeNotifier) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.published...)
}

type fakeErrors struct {
	mu    sync.Mutex
	slots map[string]*StoredError
}

func newFakeErrors() *fakeErrors { return &fakeErrors{slots: map[string]*StoredError{}} }

func (f *fakeErrors) Record(_ context.Context, userID, op, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[userID+":"+op] = &StoredError{Op: op, Message: message, At: time.Now()}
}

func (f *fakeErrors) Get(_ context.Context, userID, op string) (*StoredError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slots[userID+":"+op], nil
}

func (f *fakeErrors) Clear(_ context.Context, userID, op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.slots, userID+":"+op)
	return nil
}

type deps struct {
	extractor *fakeExtractor
	responder *fakeResponder
	conflicts *fakeConflicts
	syncer    *fakeSyncer
	assistant *fakeAssistant
	access    *fakeAccess
	dedup     *fakeDedup
	notifier  *fakeNotifier
	errs      *fakeErrors
}

func newDeps() *deps {
	return &deps{
		extractor: &fakeExtractor{
			eventsRes:   &extract.EventsResult{Events: []models.CalendarEvent{{Title: "Soccer"}}},
			priorityRes: &extract.PriorityResult{},
		},
		responder: &fakeResponder{res: &rsvp.Result{RSVP: &models.RSVPTracking{ID: "r1"}}},
		conflicts: &fakeConflicts{},
		syncer:    &fakeSyncer{},
		assistant: &fakeAssistant{res: &assistant.Result{Message: "hello"}},
		access:    &fakeAccess{member: true},
		dedup:     &fakeDedup{},
		notifier:  &fakeNotifier{},
		errs:      newFakeErrors(),
	}
}

func newTestServer(d *deps) *httptest.Server {
	h := NewHandler(HandlerConfig{
		Extractor: d.extractor,
		Responder: d.responder,
		Conflicts: d.conflicts,
		Syncer:    d.syncer,
		Assistant: d.assistant,
		Access:    d.access,
		Dedup:     d.dedup,
		Notifier:  d.notifier,
		Errors:    d.errs,
	})
	mux := http.NewServeMux()
	h.Register(mux)
	return httptest.NewServer(mux)
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestExtractEventsOK(t *testing.T) {
	srv := newTestServer(newDeps())
	defer srv.Close()

	resp := post(t, srv.URL+"/api/insights/events/extract",
		`{"conversation_id":"conv-1","user_id":"user-1","days_back":3}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var res extract.EventsResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 1 || res.Events[0].Title != "Soccer" {
		t.Errorf("events = %+v", res.Events)
	}
}

func TestNonParticipantForbidden(t *testing.T) {
	d := newDeps()
	d.access.member = false
	srv := newTestServer(d)
	defer srv.Close()

	resp := post(t, srv.URL+"/api/insights/events/extract",
		`{"conversation_id":"conv-1","user_id":"stranger"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestMissingFieldsBadRequest(t *testing.T) {
	srv := newTestServer(newDeps())
	defer srv.Close()

	resp := post(t, srv.URL+"/api/insights/events/extract", `{"days_back":3}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRateLimited429(t *testing.T) {
	d := newDeps()
	d.extractor.err = &ratelimit.Error{Scope: ratelimit.ScopeWindow, Count: 31, Limit: 30}
	srv := newTestServer(d)
	defer srv.Close()

	resp := post(t, srv.URL+"/api/insights/events/extract",
		`{"conversation_id":"conv-1","user_id":"user-1"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	var body struct {
		Count int `json:"count"`
		Limit int `json:"limit"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 31 || body.Limit != 30 {
		t.Errorf("body = %+v", body)
	}
}

func TestSchemaErrorBadGateway(t *testing.T) {
	d := newDeps()
	d.extractor.err = &extract.SchemaError{Path: "events[0].date", Msg: "missing"}
	srv := newTestServer(d)
	defer srv.Close()

	resp := post(t, srv.URL+"/api/insights/events/extract",
		`{"conversation_id":"conv-1","user_id":"user-1"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
}

func TestRespondRSVPErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid status", rsvp.ErrInvalidStatus, http.StatusBadRequest},
		{"not found", rsvp.ErrNotFound, http.StatusNotFound},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := newDeps()
			d.responder.err = c.err
			srv := newTestServer(d)
			defer srv.Close()

			resp := post(t, srv.URL+"/api/rsvps/r1/respond", `{"user_id":"user-1","status":"yes"}`)
			defer resp.Body.Close()
			if resp.StatusCode != c.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, c.want)
			}
		})
	}
}

func TestRespondRSVPPublishesNotification(t *testing.T) {
	d := newDeps()
	srv := newTestServer(d)
	defer srv.Close()

	resp := post(t, srv.URL+"/api/rsvps/r1/respond", `{"user_id":"user-1","status":"yes"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := d.notifier.kinds(); len(got) != 1 || got[0] != notify.KindRSVPResponded {
		t.Errorf("published = %v, want [%s]", got, notify.KindRSVPResponded)
	}
}

func TestExtractPublishesNotification(t *testing.T) {
	d := newDeps()
	srv := newTestServer(d)
	defer srv.Close()

	resp := post(t, srv.URL+"/api/insights/events/extract",
		`{"conversation_id":"conv-1","user_id":"user-1","days_back":3}`)
	resp.Body.Close()

	if got := d.notifier.kinds(); len(got) != 1 || got[0] != notify.KindInsightExtracted {
		t.Errorf("published = %v, want [%s]", got, notify.KindInsightExtracted)
	}
}

func TestResolveConflict(t *testing.T) {
	d := newDeps()
	srv := newTestServer(d)
	defer srv.Close()

	resp := post(t, srv.URL+"/api/insights/conflicts/c1/resolve",
		`{"conversation_id":"conv-1","user_id":"user-1"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if d.conflicts.resolved != 1 {
		t.Errorf("resolved = %d, want 1", d.conflicts.resolved)
	}
}

func TestSyncDisabledForbidden(t *testing.T) {
	d := newDeps()
	d.syncer.err = syncer.ErrSyncDisabled
	srv := newTestServer(d)
	defer srv.Close()

	resp := post(t, srv.URL+"/api/sync/events/e1", `{"user_id":"user-1"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestLastErrorLifecycle(t *testing.T) {
	d := newDeps()
	d.extractor.err = errors.New("model exploded")
	srv := newTestServer(d)
	defer srv.Close()

	resp := post(t, srv.URL+"/api/insights/events/extract",
		`{"conversation_id":"conv-1","user_id":"user-1"}`)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/errors/extract_events?user_id=user-1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}
	var stored StoredError
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stored.Message, "model exploded") {
		t.Errorf("message = %q", stored.Message)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/errors/extract_events?user_id=user-1", nil)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp2.StatusCode)
	}

	resp3, err := http.Get(srv.URL + "/api/errors/extract_events?user_id=user-1")
	if err != nil {
		t.Fatal(err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusNoContent {
		t.Fatalf("after clear status = %d, want 204", resp3.StatusCode)
	}
}

func TestMessageHookDedupsDeliveries(t *testing.T) {
	d := newDeps()
	d.extractor.called = make(chan struct{}, 2)
	srv := newTestServer(d)
	defer srv.Close()

	body := `{"message_id":"m1","conversation_id":"conv-1","sender_id":"user-1"}`
	resp := post(t, srv.URL+"/hooks/message", body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	select {
	case <-d.extractor.called:
	case <-time.After(2 * time.Second):
		t.Fatal("priority detection never ran")
	}

	// Duplicate delivery: accepted but not re-processed.
	resp = post(t, srv.URL+"/hooks/message", body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("duplicate status = %d, want 202", resp.StatusCode)
	}
	select {
	case <-d.extractor.called:
		t.Fatal("duplicate delivery triggered detection")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAskAllowsEmptyQuestion(t *testing.T) {
	srv := newTestServer(newDeps())
	defer srv.Close()

	resp := post(t, srv.URL+"/api/assistant/ask",
		`{"conversation_id":"conv-1","user_id":"user-1","question":""}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var res assistant.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Message != "hello" {
		t.Errorf("message = %q", res.Message)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(newDeps())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
