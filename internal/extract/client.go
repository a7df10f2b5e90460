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
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/loopline/insights/internal/config"
)

// Kind names an extractable entity kind.
type Kind string

const (
	KindEvents    Kind = "events"
	KindRSVPs     Kind = "rsvps"
	KindDeadlines Kind = "deadlines"
	KindDecisions Kind = "decisions"
	KindPriority  Kind = "priority"
	KindSummary   Kind = "summary" // assistant free-text, not schema-checked
)

// Prompt is one model invocation: a fixed system prompt carrying the output
// schema and a user prompt carrying the transcript.
type Prompt struct {
	Kind   Kind
	System string
	User   string
}

// Client is the model backend. Two implementations exist: the live OpenAI
// client and a deterministic mock, selected by configuration.
type Client interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// NewClient builds the configured model backend.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "mock":
		return &mockClient{}, nil
	case "openai":
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
		return &openaiClient{
			client:      openai.NewClientWithConfig(clientConfig),
			model:       cfg.Model,
			temperature: float32(cfg.Temperature),
		}, nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

// completionTimeout bounds a single model call. A hung model must surface
// as an error, not a stalled request.
const completionTimeout = 60 * time.Second

type openaiClient struct {
	client      *openai.Client
	model       string
	temperature float32
}

func (c *openaiClient) Complete(ctx context.Context, p Prompt) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, completionTimeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
	}
	if p.Kind != KindSummary {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("model completion (%s): %w", p.Kind, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model completion (%s): empty choices", p.Kind)
	}
	return resp.Choices[0].Message.Content, nil
}

// mockClient returns one canned candidate per kind, referencing the first
// message tag found in the transcript. Deterministic, for development and
// tests.
type mockClient struct{}

func (c *mockClient) Complete(_ context.Context, p Prompt) (string, error) {
	ref := firstTag(p.User)
	if ref == "" && p.Kind != KindSummary {
		return emptyResult(p.Kind), nil
	}

	switch p.Kind {
	case KindEvents:
		return fmt.Sprintf(`{"events":[{"message_ref":%q,"title":"Sample event","date":"2026-09-15","time":"15:00","location":"","description":"","category":"social","confidence":0.8}]}`, ref), nil
	case KindRSVPs:
		return fmt.Sprintf(`{"rsvps":[{"message_ref":%q,"event_name":"Sample invitation","event_date":"2026-09-15","deadline":"2026-09-10"}]}`, ref), nil
	case KindDeadlines:
		return fmt.Sprintf(`{"deadlines":[{"message_ref":%q,"task":"Sample task","due":"2026-09-12","category":"school","priority":"high","details":""}]}`, ref), nil
	case KindDecisions:
		return fmt.Sprintf(`{"decisions":[{"message_ref":%q,"text":"Sample decision","category":"social"}]}`, ref), nil
	case KindPriority:
		return fmt.Sprintf(`{"messages":[{"message_ref":%q,"priority":"high","reason":"sample","action_required":true}]}`, ref), nil
	case KindSummary:
		return "Here is a summary of what needs your attention.", nil
	}
	return "{}", nil
}

func emptyResult(k Kind) string {
	if k == KindPriority {
		return `{"messages":[]}`
	}
	return fmt.Sprintf(`{%q:[]}`, string(k))
}

// firstTag finds the first [MSG-n] tag in a transcript.
func firstTag(s string) string {
	start := strings.Index(s, "[MSG-")
	if start < 0 {
		return ""
	}
	end := strings.Index(s[start:], "]")
	if end < 0 {
		return ""
	}
	return s[start+1 : start+end]
}
