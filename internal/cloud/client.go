// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/llm"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// Client is the adapter for one OpenAI-compatible provider.
//
// The Client is safe for concurrent use.
type Client struct {
	family         model.Family
	transport      *llm.Transport
	configured     bool
	embeddingModel string
	logger         *zap.Logger
}

var _ llm.Adapter = (*Client)(nil)

// New creates a client. The provider endpoint overrides the vendor base
// URL and its embedding model overrides the vendor default.
func New(p model.Provider, opts llm.Options) (*Client, error) {
	preset, ok := PresetFor(p.Family)
	if !ok {
		return nil, fmt.Errorf("family %q is not OpenAI-compatible", p.Family)
	}

	base := p.Endpoint
	if base == "" {
		base = preset.BaseURL
	}
	embed := preset.EmbeddingModel
	if p.EmbeddingModel != "" && preset.SupportsEmbeddings() {
		embed = p.EmbeddingModel
	}

	var cred llm.Credential
	if p.HasCredential() {
		cred = llm.BearerAuth(p.APIKey)
	}
	opts.Logger = logging.For(opts.Logger, string(p.Family))

	return &Client{
		family:         p.Family,
		transport:      llm.NewTransport(p.Family, base, cred, opts),
		configured:     p.HasCredential(),
		embeddingModel: embed,
		logger:         opts.Logger,
	}, nil
}

// Family returns the vendor family.
func (c *Client) Family() model.Family { return c.family }

func (c *Client) requireKey(op string) error {
	if c.configured {
		return nil
	}
	return llm.NewError(llm.KindTransport, string(c.family)+"."+op, "missing API key", llm.ErrNotConfigured)
}

// SendMessage streams a chat completion over SSE.
func (c *Client) SendMessage(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	if err := c.requireKey("chat"); err != nil {
		return nil, err
	}
	body := ChatRequest{
		Model:    req.Model.ID,
		Messages: toWire(llm.PrepareMessages(req)),
		Stream:   true,
	}
	rc, err := c.transport.PostStream(ctx, "chat", "/chat/completions", body)
	if err != nil {
		return nil, err
	}
	return llm.NewStream(ctx, rc, llm.NewSSEReader(rc), llm.ChoiceDelta, llm.StreamOptions{
		Family:  c.family,
		Logger:  c.logger,
		Metrics: c.transport.Metrics(),
	}), nil
}

// SendSimpleMessage returns one non-streamed completion.
func (c *Client) SendSimpleMessage(ctx context.Context, text string, m model.Model, systemPrompt string) (string, error) {
	resp, err := c.complete(ctx, "simple", text, m, systemPrompt, nil)
	if err != nil {
		return "", err
	}
	return resp.GetContent(), nil
}

// SendJSONMessage requests a json_object completion and parses it as a
// SearchIntent.
func (c *Client) SendJSONMessage(ctx context.Context, text string, m model.Model, systemPrompt string) (llm.SearchIntent, error) {
	resp, err := c.complete(ctx, "json", text, m, systemPrompt, &ResponseFormat{Type: "json_object"})
	if err != nil {
		return llm.SearchIntent{}, err
	}
	intent, ok := llm.ParseSearchIntent(resp.GetContent())
	if !ok {
		c.logger.Debug("classification reply is not valid JSON",
			logging.Fn("SendJSONMessage"),
			zap.String("reply", util.Preview(resp.GetContent(), 120)),
		)
	}
	return intent, nil
}

func (c *Client) complete(ctx context.Context, op, text string, m model.Model, systemPrompt string, format *ResponseFormat) (*ChatResponse, error) {
	if err := c.requireKey(op); err != nil {
		return nil, err
	}
	body := ChatRequest{
		Model:          m.ID,
		Messages:       toWire(llm.SimpleMessages(text, systemPrompt)),
		ResponseFormat: format,
	}
	var resp ChatResponse
	if err := c.transport.PostJSON(ctx, op, "/chat/completions", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EmbedText embeds texts. Vendors without an embeddings endpoint return an
// empty list.
func (c *Client) EmbedText(ctx context.Context, texts []string) ([][]float64, error) {
	if c.embeddingModel == "" || len(texts) == 0 {
		return nil, nil
	}
	if err := c.requireKey("embed"); err != nil {
		return nil, err
	}

	var resp EmbeddingResponse
	err := c.transport.PostJSON(ctx, "embed", "/embeddings", EmbeddingRequest{Model: c.embeddingModel, Input: texts}, &resp)
	if err != nil {
		return nil, err
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float64, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, d.Embedding)
	}
	return out, nil
}

// AvailableModels lists model identifiers in sorted order.
func (c *Client) AvailableModels(ctx context.Context) ([]string, error) {
	if err := c.requireKey("models"); err != nil {
		return nil, err
	}
	var resp ModelsResponse
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

func toWire(msgs []model.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ChatMessage{Role: m.Role.String(), Content: m.Content})
	}
	return out
}
