// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/llm"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

func newTestClient(t *testing.T, family model.Family, key string, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(model.Provider{ID: "p", Family: family, Endpoint: srv.URL, APIKey: key}, llm.Options{})
	require.NoError(t, err)
	return c
}

func TestPresets(t *testing.T) {
	for _, f := range model.Families() {
		_, ok := PresetFor(f)
		assert.Equal(t, f.OpenAICompatible(), ok, "family %s", f)
	}

	openai, _ := PresetFor(model.FamilyOpenAI)
	assert.True(t, openai.SupportsEmbeddings())
	groq, _ := PresetFor(model.FamilyGroq)
	assert.False(t, groq.SupportsEmbeddings())
	assert.Equal(t, "https://api.groq.com/openai/v1", groq.BaseURL)
}

func TestNew_RejectsOtherFamilies(t *testing.T) {
	_, err := New(model.Provider{Family: model.FamilyAnthropic}, llm.Options{})
	assert.Error(t, err)
}

func TestSendMessage_SSE(t *testing.T) {
	c := newTestClient(t, model.FamilyGroq, "gsk_test", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer gsk_test", r.Header.Get("Authorization"))

		var req ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Len(t, req.Messages, 1)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" there\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stream, err := c.SendMessage(context.Background(), llm.ChatRequest{
		History: []model.Message{model.NewUserMessage("Hello"), model.NewPlaceholder("")},
		Model:   model.Model{ID: "llama-3.1-8b-instant"},
	})
	require.NoError(t, err)

	text, err := llm.Collect(stream)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", text)
}

func TestSendJSONMessage(t *testing.T) {
	c := newTestClient(t, model.FamilyOpenAI, "sk-test", func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if assert.NotNil(t, req.ResponseFormat) {
			assert.Equal(t, "json_object", req.ResponseFormat.Type)
		}
		assert.Equal(t, "system", req.Messages[0].Role)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"{\"query\":\"\",\"searchRequired\":false}"}}]}`)
	})

	intent, err := c.SendJSONMessage(context.Background(), "hi", model.Model{ID: "gpt-4o-mini"}, llm.SearchIntentInstruction)
	require.NoError(t, err)
	assert.Equal(t, llm.SearchIntent{}, intent)
}

func TestEmbedText(t *testing.T) {
	t.Run("ordered by index", func(t *testing.T) {
		c := newTestClient(t, model.FamilyOpenAI, "sk-test", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/embeddings", r.URL.Path)
			fmt.Fprint(w, `{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`)
		})
		vecs, err := c.EmbedText(context.Background(), []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, vecs)
	})

	t.Run("unsupported vendor", func(t *testing.T) {
		c := newTestClient(t, model.FamilyXAI, "xai-test", func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		vecs, err := c.EmbedText(context.Background(), []string{"a"})
		require.NoError(t, err)
		assert.Empty(t, vecs)
	})
}

func TestAvailableModels(t *testing.T) {
	c := newTestClient(t, model.FamilyMistral, "m-test", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"id":"mistral-small"},{"id":"mistral-embed"}]}`)
	})
	ids, err := c.AvailableModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"mistral-embed", "mistral-small"}, ids)
}

func TestMissingKey(t *testing.T) {
	c := newTestClient(t, model.FamilyCerebras, "", func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.SendSimpleMessage(context.Background(), "hi", model.Model{ID: "x"}, "")
	assert.ErrorIs(t, err, llm.ErrNotConfigured)
	assert.True(t, llm.IsTransport(err))
}

func TestRateLimited(t *testing.T) {
	c := newTestClient(t, model.FamilyOpenAI, "sk-test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"Rate limit reached","type":"requests"}}`)
	})
	_, err := c.SendMessage(context.Background(), llm.ChatRequest{
		History: []model.Message{model.NewUserMessage("Hello")},
		Model:   model.Model{ID: "gpt-4o"},
	})
	assert.ErrorIs(t, err, llm.ErrRateLimited)
}
