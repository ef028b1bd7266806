// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package anthropic implements the llm.Adapter contract for the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/llm"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

const (
	// DefaultBaseURL is the public API root.
	DefaultBaseURL = "https://api.anthropic.com/v1"

	// APIVersion is sent as the anthropic-version header.
	APIVersion = "2023-06-01"

	// DefaultMaxTokens is required by the API on every request.
	DefaultMaxTokens = 4096
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// Message is one turn. Only "user" and "assistant" roles are accepted.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessagesRequest is the body of POST /messages.
type MessagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream,omitempty"`
}

// MessagesResponse is a non-streamed reply.
type MessagesResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Text joins the text blocks of the reply.
func (r *MessagesResponse) Text() string {
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the adapter for one Anthropic provider.
type Client struct {
	transport  *llm.Transport
	configured bool
	logger     *zap.Logger
}

var _ llm.Adapter = (*Client)(nil)

// New creates a client for provider p.
func New(p model.Provider, opts llm.Options) *Client {
	base := p.Endpoint
	if base == "" {
		base = DefaultBaseURL
	}
	var cred llm.Credential
	if p.HasCredential() {
		cred = llm.HeaderAuth("x-api-key", p.APIKey)
	}
	opts.Logger = logging.For(opts.Logger, "anthropic")

	t := llm.NewTransport(model.FamilyAnthropic, base, cred, opts)
	t.SetHeader("anthropic-version", APIVersion)
	return &Client{transport: t, configured: p.HasCredential(), logger: opts.Logger}
}

// Family returns model.FamilyAnthropic.
func (c *Client) Family() model.Family { return model.FamilyAnthropic }

func (c *Client) requireKey(op string) error {
	if c.configured {
		return nil
	}
	return llm.NewError(llm.KindTransport, "anthropic."+op, "missing API key", llm.ErrNotConfigured)
}

// SendMessage streams a reply over SSE.
func (c *Client) SendMessage(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	if err := c.requireKey("chat"); err != nil {
		return nil, err
	}
	body := BuildRequest(req.Model.ID, llm.PrepareMessages(req))
	body.Stream = true

	rc, err := c.transport.PostStream(ctx, "chat", "/messages", body)
	if err != nil {
		return nil, err
	}
	return llm.NewStream(ctx, rc, llm.NewSSEReader(rc), eventDecoder, llm.StreamOptions{
		Family:  model.FamilyAnthropic,
		Logger:  c.logger,
		Metrics: c.transport.Metrics(),
	}), nil
}

// SendSimpleMessage returns one non-streamed reply.
func (c *Client) SendSimpleMessage(ctx context.Context, text string, m model.Model, systemPrompt string) (string, error) {
	resp, err := c.complete(ctx, "simple", text, m, systemPrompt)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// SendJSONMessage returns one reply parsed as a SearchIntent. The API has
// no JSON mode; the system instruction carries the format.
func (c *Client) SendJSONMessage(ctx context.Context, text string, m model.Model, systemPrompt string) (llm.SearchIntent, error) {
	resp, err := c.complete(ctx, "json", text, m, systemPrompt)
	if err != nil {
		return llm.SearchIntent{}, err
	}
	intent, ok := llm.ParseSearchIntent(resp.Text())
	if !ok {
		c.logger.Debug("classification reply is not valid JSON",
			logging.Fn("SendJSONMessage"),
			zap.String("reply", util.Preview(resp.Text(), 120)),
		)
	}
	return intent, nil
}

func (c *Client) complete(ctx context.Context, op, text string, m model.Model, systemPrompt string) (*MessagesResponse, error) {
	if err := c.requireKey(op); err != nil {
		return nil, err
	}
	body := BuildRequest(m.ID, llm.SimpleMessages(text, systemPrompt))
	var resp MessagesResponse
	if err := c.transport.PostJSON(ctx, op, "/messages", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EmbedText returns an empty list; the API has no embeddings endpoint.
func (c *Client) EmbedText(ctx context.Context, texts []string) ([][]float64, error) {
	return nil, nil
}

// AvailableModels lists model identifiers.
func (c *Client) AvailableModels(ctx context.Context) ([]string, error) {
	if err := c.requireKey("models"); err != nil {
		return nil, err
	}
	var resp modelsResponse
	if err := c.transport.GetJSON(ctx, "models", "/models", &resp); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Data))
	for _, d := range resp.Data {
		ids = append(ids, d.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// =============================================================================
// ROLE MAPPING
// =============================================================================

// BuildRequest lifts system messages into the top-level system field and
// merges consecutive same-role turns, which the API rejects.
func BuildRequest(modelID string, msgs []model.Message) MessagesRequest {
	req := MessagesRequest{Model: modelID, MaxTokens: DefaultMaxTokens}

	var system []string
	for _, m := range msgs {
		if m.Role == model.RoleSystem {
			if s := strings.TrimSpace(m.Content); s != "" {
				system = append(system, s)
			}
			continue
		}
		if m.IsEmpty() {
			continue
		}
		role := m.Role.String()
		if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == role {
			req.Messages[n-1].Content += "\n\n" + m.Content
			continue
		}
		req.Messages = append(req.Messages, Message{Role: role, Content: m.Content})
	}
	req.System = strings.Join(system, "\n\n")
	return req
}

// =============================================================================
// STREAM DECODING
// =============================================================================

// eventDecoder reads content_block_delta text. An in-band error event, such
// as overloaded_error, ends the stream with a transport error.
var eventDecoder = llm.DecoderFunc(func(record []byte) (string, bool, error) {
	var ev struct {
		Type  string `json:"type"`
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(record, &ev); err != nil {
		return "", false, err
	}
	if ev.Type == "error" && ev.Error != nil {
		return "", false, llm.NewError(llm.KindTransport, "anthropic.stream", "server error",
			errors.New(ev.Error.Type+": "+ev.Error.Message))
	}
	if ev.Type != "content_block_delta" {
		return "", false, nil
	}
	return llm.TextDelta.Decode(record)
})
