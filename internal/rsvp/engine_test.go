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

package rsvp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loopline/insights/internal/models"
)

type fakeStore struct {
	rsvps       map[string]*models.RSVPTracking
	events      []models.CalendarEvent
	insertErr   error
	respondedAt time.Time
}

func newFakeStore(rsvps ...*models.RSVPTracking) *fakeStore {
	f := &fakeStore{
		rsvps:       make(map[string]*models.RSVPTracking),
		respondedAt: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, r := range rsvps {
		f.rsvps[r.ID] = r
	}
	return f
}

func (f *fakeStore) GetRSVP(_ context.Context, id string) (*models.RSVPTracking, error) {
	r, ok := f.rsvps[id]
	if !ok {
		return nil, nil
	}
	copied := *r
	return &copied, nil
}

func (f *fakeStore) RespondRSVP(_ context.Context, id string, status models.RSVPStatus, responderID string) (*models.RSVPTracking, error) {
	r := f.rsvps[id]
	r.Status = status
	r.ResponderID = responderID
	at := f.respondedAt
	r.RespondedAt = &at
	copied := *r
	return &copied, nil
}

func (f *fakeStore) InsertEvent(_ context.Context, e *models.CalendarEvent) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	e.ID = "event-1"
	f.events = append(f.events, *e)
	return nil
}

type fakeSyncer struct {
	synced []string
	err    error
}

func (f *fakeSyncer) AutoSyncEvent(_ context.Context, e *models.CalendarEvent, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.synced = append(f.synced, e.ID)
	return nil
}

func pendingRSVP(id string) *models.RSVPTracking {
	date := time.Date(2026, 9, 20, 0, 0, 0, 0, time.UTC)
	return &models.RSVPTracking{
		ID:             id,
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		EventName:      "Birthday party",
		EventDate:      &date,
		Status:         models.RSVPPending,
	}
}

// TestRespondTransition verifies pending -> yes sets responder and
// responded-at together.
func TestRespondTransition(t *testing.T) {
	store := newFakeStore(pendingRSVP("r1"))
	engine := New(store, &fakeSyncer{})

	res, err := engine.Respond(context.Background(), "r1", models.RSVPYes, "user-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RSVP.Status != models.RSVPYes {
		t.Errorf("status = %s, want yes", res.RSVP.Status)
	}
	if res.RSVP.ResponderID != "user-b" {
		t.Errorf("responder = %q, want user-b", res.RSVP.ResponderID)
	}
	if res.RSVP.RespondedAt == nil {
		t.Error("responded-at not set")
	}
	if !res.Refresh {
		t.Error("result does not instruct a refresh")
	}
}

// TestRespondYesCreatesEvent verifies yes materialises a confirmed calendar
// event on the stored event date and hands it to the syncer.
func TestRespondYesCreatesEvent(t *testing.T) {
	store := newFakeStore(pendingRSVP("r1"))
	syncer := &fakeSyncer{}
	engine := New(store, syncer)

	res, err := engine.Respond(context.Background(), "r1", models.RSVPYes, "user-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Event == nil {
		t.Fatal("no event materialised")
	}
	if !res.Event.Confirmed {
		t.Error("materialised event not confirmed")
	}
	if got := res.Event.Date; !got.Equal(time.Date(2026, 9, 20, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("event date = %v, want stored RSVP date", got)
	}
	if len(syncer.synced) != 1 {
		t.Errorf("syncer invoked %d times, want 1", len(syncer.synced))
	}
}

// TestRespondNoSkipsEvent verifies declining creates nothing.
func TestRespondNoSkipsEvent(t *testing.T) {
	store := newFakeStore(pendingRSVP("r1"))
	engine := New(store, &fakeSyncer{})

	res, err := engine.Respond(context.Background(), "r1", models.RSVPNo, "user-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Event != nil {
		t.Error("event materialised for a no response")
	}
	if len(store.events) != 0 {
		t.Errorf("store holds %d events, want 0", len(store.events))
	}
}

// TestRespondDefaultDate verifies a dateless RSVP defaults the event a week
// out.
func TestRespondDefaultDate(t *testing.T) {
	r := pendingRSVP("r1")
	r.EventDate = nil
	store := newFakeStore(r)
	engine := New(store, &fakeSyncer{})
	now := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	res, err := engine.Respond(context.Background(), "r1", models.RSVPMaybe, "user-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Event == nil {
		t.Fatal("no event materialised")
	}
	want := now.Add(7 * 24 * time.Hour)
	if !res.Event.Date.Equal(want) {
		t.Errorf("event date = %v, want %v", res.Event.Date, want)
	}
}

// TestRespondEventFailureIsPartial verifies a failed materialisation still
// succeeds the response and reports the failure separately.
func TestRespondEventFailureIsPartial(t *testing.T) {
	store := newFakeStore(pendingRSVP("r1"))
	store.insertErr = errors.New("storage down")
	engine := New(store, &fakeSyncer{})

	res, err := engine.Respond(context.Background(), "r1", models.RSVPYes, "user-b")
	if err != nil {
		t.Fatalf("response failed outright: %v", err)
	}
	if res.RSVP.Status != models.RSVPYes {
		t.Errorf("status = %s, want yes", res.RSVP.Status)
	}
	if res.CalendarError == "" {
		t.Error("calendar error not reported")
	}
	if res.Event != nil {
		t.Error("event returned despite failure")
	}
}

// TestReRespondKeepsResponderFields verifies re-responding overwrites but
// never clears responder/responded-at, and an identical repeat response
// does not materialise a second event.
func TestReRespondKeepsResponderFields(t *testing.T) {
	store := newFakeStore(pendingRSVP("r1"))
	engine := New(store, &fakeSyncer{})
	ctx := context.Background()

	if _, err := engine.Respond(ctx, "r1", models.RSVPYes, "user-b"); err != nil {
		t.Fatalf("first response: %v", err)
	}
	res, err := engine.Respond(ctx, "r1", models.RSVPYes, "user-c")
	if err != nil {
		t.Fatalf("second response: %v", err)
	}
	if res.RSVP.ResponderID != "user-c" {
		t.Errorf("responder = %q, want user-c (last writer wins)", res.RSVP.ResponderID)
	}
	if res.RSVP.RespondedAt == nil {
		t.Error("responded-at cleared by re-response")
	}
	if len(store.events) != 1 {
		t.Errorf("store holds %d events, want 1 (no duplicate on repeat yes)", len(store.events))
	}
}

// TestRespondInvalidStatus verifies rejection of non-response statuses.
func TestRespondInvalidStatus(t *testing.T) {
	engine := New(newFakeStore(pendingRSVP("r1")), &fakeSyncer{})

	for _, status := range []models.RSVPStatus{models.RSVPPending, "attending", ""} {
		if _, err := engine.Respond(context.Background(), "r1", status, "user-b"); !errors.Is(err, ErrInvalidStatus) {
			t.Errorf("status %q: error = %v, want ErrInvalidStatus", status, err)
		}
	}
}

// TestRespondMissing verifies a missing RSVP yields ErrNotFound.
func TestRespondMissing(t *testing.T) {
	engine := New(newFakeStore(), &fakeSyncer{})
	if _, err := engine.Respond(context.Background(), "ghost", models.RSVPYes, "user-b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
