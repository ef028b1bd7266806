// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package polaris implements the llm.Adapter contract for the Polaris
// gateway. The gateway relays upstream payloads unchanged, so streamed
// records may carry any of the chat-message, choice-delta or delta-text
// shapes.
package polaris

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/llm"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// KeyParam is the query parameter carrying the credential.
const KeyParam = "key"

// =============================================================================
// WIRE TYPES
// =============================================================================

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Format   string    `json:"format,omitempty"`
}

// ChatReply is a non-streamed reply in any of the relayed shapes.
type ChatReply struct {
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// Text returns the first non-empty reply text.
func (r *ChatReply) Text() string {
	if r.Message != nil && r.Message.Content != "" {
		return r.Message.Content
	}
	if len(r.Choices) > 0 && r.Choices[0].Message.Content != "" {
		return r.Choices[0].Message.Content
	}
	for _, c := range r.Content {
		if c.Text != "" {
			return c.Text
		}
	}
	return ""
}

// EmbedRequest is the body of POST /v1/embed.
type EmbedRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

// EmbedResponse is the reply of POST /v1/embed.
type EmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// ModelsResponse is the reply of GET /v1/models.
type ModelsResponse struct {
	Models []struct {
		ID string `json:"id"`
	} `json:"models"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the gateway adapter.
type Client struct {
	transport      *llm.Transport
	configured     bool
	embeddingModel string
	logger         *zap.Logger
}

var _ llm.Adapter = (*Client)(nil)

// New creates a client. The provider endpoint is required.
func New(p model.Provider, opts llm.Options) *Client {
	var cred llm.Credential
	if p.HasCredential() {
		cred = llm.QueryAuth(KeyParam, p.APIKey)
	}
	opts.Logger = logging.For(opts.Logger, "polaris")
	return &Client{
		transport:      llm.NewTransport(model.FamilyPolaris, p.Endpoint, cred, opts),
		configured:     p.Endpoint != "" && p.HasCredential(),
		embeddingModel: p.EmbeddingModel,
		logger:         opts.Logger,
	}
}

// Family returns model.FamilyPolaris.
func (c *Client) Family() model.Family { return model.FamilyPolaris }

func (c *Client) requireConfig(op string) error {
	if c.configured {
		return nil
	}
	return llm.NewError(llm.KindTransport, "polaris."+op, "endpoint and key are required", llm.ErrNotConfigured)
}

// SendMessage streams a reply as NDJSON.
func (c *Client) SendMessage(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	if err := c.requireConfig("chat"); err != nil {
		return nil, err
	}
	body := ChatRequest{
		Model:    req.Model.ID,
		Messages: toWire(llm.PrepareMessages(req)),
		Stream:   true,
	}
	rc, err := c.transport.PostStream(ctx, "chat", "/v1/chat", body)
	if err != nil {
		return nil, err
	}
	return llm.NewStream(ctx, rc, llm.NewLineReader(rc), llm.GatewayDecoder, llm.StreamOptions{
		Family:  model.FamilyPolaris,
		Logger:  c.logger,
		Metrics: c.transport.Metrics(),
	}), nil
}

// SendSimpleMessage returns one non-streamed reply.
func (c *Client) SendSimpleMessage(ctx context.Context, text string, m model.Model, systemPrompt string) (string, error) {
	reply, err := c.chat(ctx, "simple", text, m, systemPrompt, "")
	if err != nil {
		return "", err
	}
	return reply.Text(), nil
}

// SendJSONMessage returns one reply parsed as a SearchIntent.
func (c *Client) SendJSONMessage(ctx context.Context, text string, m model.Model, systemPrompt string) (llm.SearchIntent, error) {
	reply, err := c.chat(ctx, "json", text, m, systemPrompt, "json")
	if err != nil {
		return llm.SearchIntent{}, err
	}
	intent, ok := llm.ParseSearchIntent(reply.Text())
	if !ok {
		c.logger.Debug("classification reply is not valid JSON",
			logging.Fn("SendJSONMessage"),
			zap.String("reply", util.Preview(reply.Text(), 120)),
		)
	}
	return intent, nil
}

func (c *Client) chat(ctx context.Context, op, text string, m model.Model, systemPrompt, format string) (*ChatReply, error) {
	if err := c.requireConfig(op); err != nil {
		return nil, err
	}
	body := ChatRequest{
		Model:    m.ID,
		Messages: toWire(llm.SimpleMessages(text, systemPrompt)),
		Format:   format,
	}
	var reply ChatReply
	if err := c.transport.PostJSON(ctx, op, "/v1/chat", body, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// EmbedText embeds texts through the gateway.
func (c *Client) EmbedText(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.requireConfig("embed"); err != nil {
		return nil, err
	}
	var resp EmbedResponse
	if err := c.transport.PostJSON(ctx, "embed", "/v1/embed", EmbedRequest{Model: c.embeddingModel, Input: texts}, &resp); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}

// AvailableModels lists gateway models.
func (c *Client) AvailableModels(ctx context.Context) ([]string, error) {
	if err := c.requireConfig("models"); err != nil {
		return nil, err
	}
	var resp ModelsResponse
	if err := c.transport.GetJSON(ctx, "models", "/v1/models", &resp); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func toWire(msgs []model.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Message{Role: m.Role.String(), Content: m.Content})
	}
	return out
}
