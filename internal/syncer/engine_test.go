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

package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loopline/insights/internal/models"
)

type fakeStore struct {
	mu        sync.Mutex
	settings  models.SyncSettings
	events    map[string]*models.CalendarEvent
	deadlines map[string]*models.Deadline
	queue     map[int64]*models.SyncQueueEntry
	nextID    int64

	completed []string
	unlinked  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		settings:  models.SyncSettings{CalendarEnabled: true, RemindersEnabled: true, AutoSync: true},
		events:    map[string]*models.CalendarEvent{},
		deadlines: map[string]*models.Deadline{},
		queue:     map[int64]*models.SyncQueueEntry{},
	}
}

func (f *fakeStore) ListSyncEnabledUsers(context.Context) ([]string, error) {
	return []string{"user-1"}, nil
}

func (f *fakeStore) GetSyncSettings(context.Context, string) (*models.SyncSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.settings
	return &s, nil
}

func (f *fakeStore) GetEvent(_ context.Context, id string) (*models.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.events[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) UpdateEventSync(_ context.Context, id, provider, externalID string, status models.SyncStatus, syncErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.events[id]
	e.SetExternalID(provider, externalID)
	e.SyncStatus = status
	e.SyncError = syncErr
	return nil
}

func (f *fakeStore) MarkEventSyncFailed(_ context.Context, id, syncErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[id].SyncStatus = models.SyncFailed
	f.events[id].SyncError = syncErr
	return nil
}

func (f *fakeStore) ListPendingSyncEvents(context.Context, string) ([]models.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CalendarEvent
	for _, e := range f.events {
		if e.AppleEventID == "" && e.GoogleEventID == "" {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeStore) ListSyncedEvents(context.Context, string) ([]models.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CalendarEvent
	for _, e := range f.events {
		if e.AppleEventID != "" || e.GoogleEventID != "" {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeStore) ApplyExternalEventChange(_ context.Context, id, title string, date time.Time, timeOfDay string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.events[id]
	e.Title = title
	e.Date = date
	e.TimeOfDay = timeOfDay
	return nil
}

func (f *fakeStore) ClearEventExternal(_ context.Context, id, provider string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.events[id]
	e.SetExternalID(provider, "")
	// No external IDs left means the event is back to pending sync.
	if e.AppleEventID == "" && e.GoogleEventID == "" {
		e.SyncStatus = models.SyncPending
	}
	f.unlinked = append(f.unlinked, "event:"+id)
	return nil
}

func (f *fakeStore) GetDeadline(_ context.Context, id string) (*models.Deadline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.deadlines[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) UpdateDeadlineSync(_ context.Context, id, reminderID string, status models.SyncStatus, syncErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.deadlines[id]
	d.ReminderID = reminderID
	d.SyncStatus = status
	d.SyncError = syncErr
	return nil
}

func (f *fakeStore) ListPendingSyncDeadlines(context.Context, string) ([]models.Deadline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Deadline
	for _, d := range f.deadlines {
		if d.ReminderID == "" {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeStore) ListSyncedDeadlines(context.Context, string) ([]models.Deadline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Deadline
	for _, d := range f.deadlines {
		if d.ReminderID != "" {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeStore) ApplyExternalDeadlineChange(_ context.Context, id, task string, dueAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.deadlines[id]
	d.Task = task
	d.DueAt = dueAt
	return nil
}

func (f *fakeStore) ClearDeadlineExternal(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadlines[id].ReminderID = ""
	f.unlinked = append(f.unlinked, "deadline:"+id)
	return nil
}

func (f *fakeStore) CompleteDeadline(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadlines[id].Status = models.DeadlineCompleted
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeStore) EnqueueSync(_ context.Context, entityKind, entityID, userID, lastError string, nextAttempt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.queue {
		if e.EntityKind == entityKind && e.EntityID == entityID {
			e.LastError = lastError
			e.NextAttemptAt = nextAttempt
			e.Status = "queued"
			return nil
		}
	}
	f.nextID++
	f.queue[f.nextID] = &models.SyncQueueEntry{
		ID: f.nextID, EntityKind: entityKind, EntityID: entityID, UserID: userID,
		LastError: lastError, NextAttemptAt: nextAttempt, Status: "queued",
	}
	return nil
}

func (f *fakeStore) DueSyncEntries(context.Context, string, int) ([]models.SyncQueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SyncQueueEntry
	for _, e := range f.queue {
		if e.Status == "queued" {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeStore) RecordSyncFailure(_ context.Context, id int64, lastError string, nextAttempt time.Time, abandon bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.queue[id]
	e.Attempts++
	e.LastError = lastError
	e.NextAttemptAt = nextAttempt
	if abandon {
		e.Status = "abandoned"
	}
	return nil
}

func (f *fakeStore) RemoveSyncEntry(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.queue, id)
	return nil
}

// fakeCalendar is an in-memory provider bridge.
type fakeCalendar struct {
	mu       sync.Mutex
	provider string
	items    map[string]ExternalEvent
	nextID   int
	creates  int
	updates  int
	failWith error
	changed  []ExternalEvent

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func newFakeCalendar(provider string) *fakeCalendar {
	return &fakeCalendar{provider: provider, items: map[string]ExternalEvent{}}
}

func (f *fakeCalendar) Provider() string { return f.provider }

func (f *fakeCalendar) CreateEvent(_ context.Context, _ string, ev *ExternalEvent) (string, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxInFlight.Load()
		if cur <= max || f.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	f.nextID++
	id := fmt.Sprintf("%s-ext-%d", f.provider, f.nextID)
	cp := *ev
	cp.ID = id
	f.items[id] = cp
	f.creates++
	return id, nil
}

func (f *fakeCalendar) UpdateEvent(_ context.Context, _ string, externalID string, ev *ExternalEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	cp := *ev
	cp.ID = externalID
	f.items[externalID] = cp
	f.updates++
	return nil
}

func (f *fakeCalendar) ListEventsUpdatedSince(context.Context, string, time.Time) ([]ExternalEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changed, nil
}

type fakeReminders struct {
	mu      sync.Mutex
	items   map[string]ExternalReminder
	nextID  int
	creates int
	updates int
	failWith error
	changed []ExternalReminder
}

func newFakeReminders() *fakeReminders {
	return &fakeReminders{items: map[string]ExternalReminder{}}
}

func (f *fakeReminders) Provider() string { return models.ProviderApple }

func (f *fakeReminders) CreateReminder(_ context.Context, _ string, r *ExternalReminder) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	f.nextID++
	id := fmt.Sprintf("rem-%d", f.nextID)
	cp := *r
	cp.ID = id
	f.items[id] = cp
	f.creates++
	return id, nil
}

func (f *fakeReminders) UpdateReminder(_ context.Context, _ string, externalID string, r *ExternalReminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	cp := *r
	cp.ID = externalID
	f.items[externalID] = cp
	f.updates++
	return nil
}

func (f *fakeReminders) ListRemindersUpdatedSince(context.Context, string, time.Time) ([]ExternalReminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changed, nil
}

func testEngine(store *fakeStore, cal *fakeCalendar, rem *fakeReminders) *Engine {
	cfg := Config{Store: store}
	if cal != nil {
		cfg.Calendars = []CalendarAPI{cal}
	}
	if rem != nil {
		cfg.Reminders = rem
	}
	return New(cfg)
}

func seedEvent(store *fakeStore, id string) {
	store.events[id] = &models.CalendarEvent{
		ID:             id,
		ConversationID: "conv-1",
		Title:          "Soccer practice",
		Date:           time.Date(2026, 9, 12, 0, 0, 0, 0, time.UTC),
		TimeOfDay:      "15:00",
		Category:       models.CategorySports,
		Confirmed:      true,
		SyncStatus:     models.SyncPending,
	}
}

func TestSyncEventIdempotent(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar(models.ProviderApple)
	seedEvent(store, "e1")
	e := testEngine(store, cal, nil)

	first, err := e.SyncEvent(context.Background(), "e1", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	firstID := first.AppleEventID
	if firstID == "" {
		t.Fatal("no external ID after first sync")
	}

	second, err := e.SyncEvent(context.Background(), "e1", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if second.AppleEventID != firstID {
		t.Errorf("external ID changed on re-sync: %s -> %s", firstID, second.AppleEventID)
	}
	if cal.creates != 1 || cal.updates != 1 {
		t.Errorf("creates=%d updates=%d, want 1 create + 1 update", cal.creates, cal.updates)
	}
	if len(cal.items) != 1 {
		t.Errorf("provider has %d items, want 1", len(cal.items))
	}
}

func TestSyncEventDisabled(t *testing.T) {
	store := newFakeStore()
	store.settings.CalendarEnabled = false
	seedEvent(store, "e1")
	e := testEngine(store, newFakeCalendar(models.ProviderApple), nil)

	if _, err := e.SyncEvent(context.Background(), "e1", "user-1"); !errors.Is(err, ErrSyncDisabled) {
		t.Fatalf("err = %v, want ErrSyncDisabled", err)
	}
}

func TestSyncEventNoProvidersConfigured(t *testing.T) {
	store := newFakeStore()
	seedEvent(store, "e1")
	e := testEngine(store, nil, nil)

	if _, err := e.SyncEvent(context.Background(), "e1", "user-1"); !errors.Is(err, ErrSyncDisabled) {
		t.Fatalf("err = %v, want ErrSyncDisabled with zero calendar providers", err)
	}
	if store.events["e1"].SyncStatus == models.SyncSynced {
		t.Error("event marked synced without any provider push")
	}
}

func TestSyncEventRoutesCategoryCalendar(t *testing.T) {
	store := newFakeStore()
	store.settings.CategoryCalendars = map[models.EventCategory]string{
		models.CategorySports: "Kids",
	}
	cal := newFakeCalendar(models.ProviderApple)
	seedEvent(store, "e1")
	e := testEngine(store, cal, nil)

	if _, err := e.SyncEvent(context.Background(), "e1", "user-1"); err != nil {
		t.Fatal(err)
	}
	for _, item := range cal.items {
		if item.Calendar != "Kids" {
			t.Errorf("calendar = %q, want Kids", item.Calendar)
		}
	}
}

func TestSyncEventFailureEnqueuesRetry(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar(models.ProviderApple)
	cal.failWith = errors.New("bridge down")
	seedEvent(store, "e1")
	e := testEngine(store, cal, nil)

	ev, err := e.SyncEvent(context.Background(), "e1", "user-1")
	if err == nil {
		t.Fatal("want error")
	}
	if ev.SyncStatus != models.SyncFailed {
		t.Errorf("status = %q, want failed", ev.SyncStatus)
	}
	if len(store.queue) != 1 {
		t.Fatalf("queue has %d entries, want 1", len(store.queue))
	}
}

func TestSyncEventSerialisedPerEntity(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar(models.ProviderApple)
	cal.delay = 10 * time.Millisecond
	seedEvent(store, "e1")
	e := testEngine(store, cal, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.SyncEvent(context.Background(), "e1", "user-1")
		}()
	}
	wg.Wait()

	if max := cal.maxInFlight.Load(); max > 1 {
		t.Errorf("observed %d concurrent pushes for one event, want at most 1", max)
	}
	if len(cal.items) != 1 {
		t.Errorf("provider has %d items, want 1", len(cal.items))
	}
}

func TestSyncDeadlineCreateThenUpdate(t *testing.T) {
	store := newFakeStore()
	rem := newFakeReminders()
	store.deadlines["d1"] = &models.Deadline{
		ID: "d1", UserID: "user-1", Task: "Permission slip",
		DueAt:    time.Date(2026, 9, 10, 9, 0, 0, 0, time.UTC),
		Priority: models.PriorityHigh, Status: models.DeadlinePending,
	}
	e := testEngine(store, nil, rem)

	d, err := e.SyncDeadline(context.Background(), "d1", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if d.ReminderID == "" || d.SyncStatus != models.SyncSynced {
		t.Fatalf("reminder_id=%q status=%q after sync", d.ReminderID, d.SyncStatus)
	}

	if _, err := e.SyncDeadline(context.Background(), "d1", "user-1"); err != nil {
		t.Fatal(err)
	}
	if rem.creates != 1 || rem.updates != 1 {
		t.Errorf("creates=%d updates=%d, want 1 and 1", rem.creates, rem.updates)
	}
}

func TestSyncAllPendingContinuesOnError(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar(models.ProviderApple)
	seedEvent(store, "e1")
	seedEvent(store, "e2")
	seedEvent(store, "e3")
	e := testEngine(store, cal, nil)

	cal.failWith = errors.New("transient")
	res, err := e.SyncAllPendingEvents(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 3 || res.Synced != 0 {
		t.Fatalf("all should fail while bridge is down: %+v", res)
	}

	cal.failWith = nil
	res, err = e.SyncAllPendingEvents(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Synced != 3 || res.Failed != 0 {
		t.Fatalf("recovery pass: %+v", res)
	}
}

func TestProcessSyncQueue(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar(models.ProviderApple)
	cal.failWith = errors.New("still down")
	seedEvent(store, "e1")
	e := testEngine(store, cal, nil)
	e.now = func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) }

	store.EnqueueSync(context.Background(), models.EntityEvent, "e1", "user-1", "boom", e.now())

	res, err := e.ProcessSyncQueue(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Retried != 1 {
		t.Fatalf("retried = %d, want 1: %+v", res.Retried, res)
	}

	cal.failWith = nil
	// Make the entry due again.
	for _, entry := range store.queue {
		entry.NextAttemptAt = e.now()
	}
	res, err = e.ProcessSyncQueue(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 {
		t.Fatalf("processed = %d, want 1: %+v", res.Processed, res)
	}
	if len(store.queue) != 0 {
		t.Errorf("queue not drained: %d entries", len(store.queue))
	}
}

func TestProcessSyncQueueAbandonsAfterCap(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar(models.ProviderApple)
	cal.failWith = errors.New("permanent")
	seedEvent(store, "e1")
	e := testEngine(store, cal, nil)

	store.EnqueueSync(context.Background(), models.EntityEvent, "e1", "user-1", "boom", time.Now())
	for _, entry := range store.queue {
		entry.Attempts = maxAttempts - 1
	}

	res, err := e.ProcessSyncQueue(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Abandoned != 1 {
		t.Fatalf("abandoned = %d, want 1: %+v", res.Abandoned, res)
	}
	for _, entry := range store.queue {
		if entry.Status != "abandoned" {
			t.Errorf("entry status = %q, want abandoned", entry.Status)
		}
	}
}

func TestBackoffFor(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{7, 32 * time.Minute},
		{8, time.Hour},
		{20, time.Hour},
	}
	for _, c := range cases {
		if got := backoffFor(c.attempts); got != c.want {
			t.Errorf("backoffFor(%d) = %v, want %v", c.attempts, got, c.want)
		}
	}
}

func TestInboundDeletionUnlinks(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar(models.ProviderApple)
	seedEvent(store, "e1")
	store.events["e1"].AppleEventID = "apple-ext-1"
	cal.changed = []ExternalEvent{{ID: "apple-ext-1", Deleted: true, UpdatedAt: time.Now()}}
	e := testEngine(store, cal, nil)

	res, err := e.DetectExternalChanges(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.EventsUnlinked != 1 {
		t.Fatalf("unlinked = %d, want 1", res.EventsUnlinked)
	}
	if store.events["e1"].AppleEventID != "" {
		t.Error("external ID not cleared")
	}
	if got := store.events["e1"].SyncStatus; got != models.SyncPending {
		t.Errorf("sync status = %q, want pending once no external IDs remain", got)
	}
}

func TestInboundNewerEditApplied(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar(models.ProviderApple)
	seedEvent(store, "e1")
	store.events["e1"].AppleEventID = "apple-ext-1"
	store.events["e1"].UpdatedAt = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	cal.changed = []ExternalEvent{{
		ID:        "apple-ext-1",
		Title:     "Soccer practice (moved)",
		Date:      time.Date(2026, 9, 13, 0, 0, 0, 0, time.UTC),
		Time:      "16:00",
		UpdatedAt: time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC),
	}}
	e := testEngine(store, cal, nil)

	res, err := e.DetectExternalChanges(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.EventsUpdated != 1 {
		t.Fatalf("updated = %d, want 1", res.EventsUpdated)
	}
	if store.events["e1"].Title != "Soccer practice (moved)" || store.events["e1"].TimeOfDay != "16:00" {
		t.Errorf("change not applied: %+v", store.events["e1"])
	}
}

func TestInboundStaleEditIgnored(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar(models.ProviderApple)
	seedEvent(store, "e1")
	store.events["e1"].AppleEventID = "apple-ext-1"
	store.events["e1"].UpdatedAt = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	cal.changed = []ExternalEvent{{
		ID:        "apple-ext-1",
		Title:     "Old title",
		UpdatedAt: time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC),
	}}
	e := testEngine(store, cal, nil)

	res, err := e.DetectExternalChanges(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.EventsUpdated != 0 {
		t.Fatalf("updated = %d, want 0", res.EventsUpdated)
	}
	if store.events["e1"].Title != "Soccer practice" {
		t.Error("stale edit overwrote local state")
	}
}

func TestInboundReminderCompletion(t *testing.T) {
	store := newFakeStore()
	rem := newFakeReminders()
	store.deadlines["d1"] = &models.Deadline{
		ID: "d1", UserID: "user-1", Task: "Permission slip",
		DueAt: time.Date(2026, 9, 10, 9, 0, 0, 0, time.UTC),
		Status: models.DeadlinePending, ReminderID: "rem-1",
	}
	rem.changed = []ExternalReminder{{ID: "rem-1", Completed: true, UpdatedAt: time.Now()}}
	e := testEngine(store, nil, rem)

	res, err := e.DetectExternalChanges(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.DeadlinesDone != 1 {
		t.Fatalf("completed = %d, want 1", res.DeadlinesDone)
	}
	if store.deadlines["d1"].Status != models.DeadlineCompleted {
		t.Error("deadline not completed")
	}
}

func TestAutoSyncSkippedWhenOff(t *testing.T) {
	store := newFakeStore()
	store.settings.AutoSync = false
	cal := newFakeCalendar(models.ProviderApple)
	seedEvent(store, "e1")
	e := testEngine(store, cal, nil)

	if err := e.AutoSyncEvent(context.Background(), store.events["e1"], "user-1"); err != nil {
		t.Fatal(err)
	}
	if cal.creates != 0 {
		t.Errorf("creates = %d, want 0 with auto-sync off", cal.creates)
	}
}

func TestAutoSyncCopiesSyncedState(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar(models.ProviderApple)
	seedEvent(store, "e1")
	e := testEngine(store, cal, nil)

	// The caller holds its own copy, the way extraction does.
	ev := *store.events["e1"]
	if err := e.AutoSyncEvent(context.Background(), &ev, "user-1"); err != nil {
		t.Fatal(err)
	}
	if ev.AppleEventID == "" {
		t.Error("caller's copy has no external ID after auto-sync")
	}
	if ev.SyncStatus != models.SyncSynced {
		t.Errorf("caller's copy status = %q, want synced", ev.SyncStatus)
	}
}
