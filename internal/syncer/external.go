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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ExternalEvent is the wire shape of a calendar item at a provider.
type ExternalEvent struct {
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title"`
	Date      time.Time `json:"date"`
	Time      string    `json:"time,omitempty"`
	Location  string    `json:"location,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Calendar  string    `json:"calendar,omitempty"`
	Deleted   bool      `json:"deleted,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// ExternalReminder is the wire shape of a reminder item at a provider.
type ExternalReminder struct {
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title"`
	DueAt     time.Time `json:"due_at"`
	Notes     string    `json:"notes,omitempty"`
	Priority  string    `json:"priority,omitempty"`
	Completed bool      `json:"completed,omitempty"`
	Deleted   bool      `json:"deleted,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Client talks to one provider's calendar and reminders bridge over HTTP.
// The http.Client is expected to carry authentication (OAuth2 transport).
type Client struct {
	httpClient *http.Client
	baseURL    string
	provider   string
}

// NewClient creates a provider bridge client.
func NewClient(httpClient *http.Client, baseURL, provider string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		provider:   provider,
	}
}

// Provider returns the provider name this client is bound to.
func (c *Client) Provider() string { return c.provider }

// CreateEvent creates a calendar item and returns its provider-assigned ID.
func (c *Client) CreateEvent(ctx context.Context, userID string, ev *ExternalEvent) (string, error) {
	var created ExternalEvent
	u := fmt.Sprintf("%s/users/%s/events", c.baseURL, url.PathEscape(userID))
	if err := c.do(ctx, http.MethodPost, u, ev, &created); err != nil {
		return "", fmt.Errorf("create event: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("create event: provider returned no id")
	}
	return created.ID, nil
}

// UpdateEvent overwrites an existing calendar item in place.
func (c *Client) UpdateEvent(ctx context.Context, userID, externalID string, ev *ExternalEvent) error {
	u := fmt.Sprintf("%s/users/%s/events/%s", c.baseURL, url.PathEscape(userID), url.PathEscape(externalID))
	if err := c.do(ctx, http.MethodPut, u, ev, nil); err != nil {
		return fmt.Errorf("update event %s: %w", externalID, err)
	}
	return nil
}

// GetEvent fetches a calendar item. Returns (nil, nil) when the item no
// longer exists at the provider.
func (c *Client) GetEvent(ctx context.Context, userID, externalID string) (*ExternalEvent, error) {
	var ev ExternalEvent
	u := fmt.Sprintf("%s/users/%s/events/%s", c.baseURL, url.PathEscape(userID), url.PathEscape(externalID))
	found, err := c.get(ctx, u, &ev)
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", externalID, err)
	}
	if !found {
		return nil, nil
	}
	return &ev, nil
}

// ListEventsUpdatedSince returns calendar items modified at the provider
// after the given instant, including tombstones for deletions.
func (c *Client) ListEventsUpdatedSince(ctx context.Context, userID string, since time.Time) ([]ExternalEvent, error) {
	params := url.Values{}
	params.Set("updated_since", since.UTC().Format(time.RFC3339))
	u := fmt.Sprintf("%s/users/%s/events?%s", c.baseURL, url.PathEscape(userID), params.Encode())

	var page struct {
		Events []ExternalEvent `json:"events"`
	}
	if _, err := c.get(ctx, u, &page); err != nil {
		return nil, fmt.Errorf("list updated events: %w", err)
	}
	return page.Events, nil
}

// CreateReminder creates a reminder and returns its provider-assigned ID.
func (c *Client) CreateReminder(ctx context.Context, userID string, r *ExternalReminder) (string, error) {
	var created ExternalReminder
	u := fmt.Sprintf("%s/users/%s/reminders", c.baseURL, url.PathEscape(userID))
	if err := c.do(ctx, http.MethodPost, u, r, &created); err != nil {
		return "", fmt.Errorf("create reminder: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("create reminder: provider returned no id")
	}
	return created.ID, nil
}

// UpdateReminder overwrites an existing reminder in place.
func (c *Client) UpdateReminder(ctx context.Context, userID, externalID string, r *ExternalReminder) error {
	u := fmt.Sprintf("%s/users/%s/reminders/%s", c.baseURL, url.PathEscape(userID), url.PathEscape(externalID))
	if err := c.do(ctx, http.MethodPut, u, r, nil); err != nil {
		return fmt.Errorf("update reminder %s: %w", externalID, err)
	}
	return nil
}

// ListRemindersUpdatedSince returns reminders modified at the provider after
// the given instant, including tombstones and completion flips.
func (c *Client) ListRemindersUpdatedSince(ctx context.Context, userID string, since time.Time) ([]ExternalReminder, error) {
	params := url.Values{}
	params.Set("updated_since", since.UTC().Format(time.RFC3339))
	u := fmt.Sprintf("%s/users/%s/reminders?%s", c.baseURL, url.PathEscape(userID), params.Encode())

	var page struct {
		Reminders []ExternalReminder `json:"reminders"`
	}
	if _, err := c.get(ctx, u, &page); err != nil {
		return nil, fmt.Errorf("list updated reminders: %w", err)
	}
	return page.Reminders, nil
}

// do sends a JSON request and optionally decodes a JSON response.
func (c *Client) do(ctx context.Context, method, u string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s bridge: %w", c.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		slog.Error("provider bridge error",
			"provider", c.provider,
			"status", resp.StatusCode,
			"body", string(raw),
		)
		return fmt.Errorf("%s bridge returned HTTP %d", c.provider, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// get fetches JSON; the bool reports whether the resource exists.
func (c *Client) get(ctx context.Context, u string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s bridge: %w", c.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%s bridge returned HTTP %d", c.provider, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return true, nil
}
