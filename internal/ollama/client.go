// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/llm"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

const (
	// DefaultBaseURL uses the explicit IPv4 loopback to avoid IPv6
	// resolution issues on Windows.
	DefaultBaseURL = "http://127.0.0.1:11434"

	// DefaultEmbeddingModel is used when the provider names none.
	DefaultEmbeddingModel = "nomic-embed-text"
)

// Client speaks the Ollama HTTP API.
//
// The Client is safe for concurrent use.
type Client struct {
	transport      *llm.Transport
	embeddingModel string
	logger         *zap.Logger
}

var _ llm.Adapter = (*Client)(nil)

// New creates a client for provider p. A credential, if set, is sent as a
// bearer token for authenticating reverse proxies.
func New(p model.Provider, opts llm.Options) *Client {
	base := p.Endpoint
	if base == "" {
		base = DefaultBaseURL
	}
	var cred llm.Credential
	if p.HasCredential() {
		cred = llm.BearerAuth(p.APIKey)
	}
	embed := p.EmbeddingModel
	if embed == "" {
		embed = DefaultEmbeddingModel
	}
	opts.Logger = logging.For(opts.Logger, "ollama")
	return &Client{
		transport:      llm.NewTransport(model.FamilyOllama, base, cred, opts),
		embeddingModel: embed,
		logger:         opts.Logger,
	}
}

// Family returns model.FamilyOllama.
func (c *Client) Family() model.Family { return model.FamilyOllama }

// SendMessage streams a chat reply.
func (c *Client) SendMessage(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	body := ChatRequest{
		Model:    req.Model.ID,
		Messages: toWire(llm.PrepareMessages(req)),
		Stream:   true,
	}
	rc, err := c.transport.PostStream(ctx, "chat", "/api/chat", body)
	if err != nil {
		return nil, err
	}
	return llm.NewStream(ctx, rc, llm.NewLineReader(rc), llm.MessageContent, llm.StreamOptions{
		Family:  model.FamilyOllama,
		Logger:  c.logger,
		Metrics: c.transport.Metrics(),
	}), nil
}

// SendSimpleMessage returns one non-streamed reply.
func (c *Client) SendSimpleMessage(ctx context.Context, text string, m model.Model, systemPrompt string) (string, error) {
	resp, err := c.chat(ctx, "simple", text, m, systemPrompt, "")
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// SendJSONMessage asks for a JSON reply and parses it as a SearchIntent.
func (c *Client) SendJSONMessage(ctx context.Context, text string, m model.Model, systemPrompt string) (llm.SearchIntent, error) {
	resp, err := c.chat(ctx, "json", text, m, systemPrompt, "json")
	if err != nil {
		return llm.SearchIntent{}, err
	}
	intent, ok := llm.ParseSearchIntent(resp.Message.Content)
	if !ok {
		c.logger.Debug("classification reply is not valid JSON",
			logging.Fn("SendJSONMessage"),
			zap.String("reply", util.Preview(resp.Message.Content, 120)),
		)
	}
	return intent, nil
}

func (c *Client) chat(ctx context.Context, op, text string, m model.Model, systemPrompt, format string) (*ChatResponse, error) {
	body := ChatRequest{
		Model:    m.ID,
		Messages: toWire(llm.SimpleMessages(text, systemPrompt)),
		Format:   format,
	}
	var resp ChatResponse
	if err := c.transport.PostJSON(ctx, op, "/api/chat", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EmbedText embeds texts in one batch request.
func (c *Client) EmbedText(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp EmbedResponse
	err := c.transport.PostJSON(ctx, "embed", "/api/embed", EmbedRequest{Model: c.embeddingModel, Input: texts}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}

// ListModels returns installed models with size details.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var resp ListModelsResponse
	if err := c.transport.GetJSON(ctx, "models", "/api/tags", &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// AvailableModels lists installed model names.
func (c *Client) AvailableModels(ctx context.Context) ([]string, error) {
	infos, err := c.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, m := range infos {
		names = append(names, m.Name)
	}
	return names, nil
}

func toWire(msgs []model.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Message{Role: m.Role.String(), Content: m.Content})
	}
	return out
}
