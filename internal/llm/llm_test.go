// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// DECODER TESTS
// =============================================================================

func TestDecoders_EquivalentFixtures(t *testing.T) {
	tests := []struct {
		name    string
		decoder Decoder
		record  string
	}{
		{"message content", MessageContent, `{"message":{"role":"assistant","content":"Hi"}}`},
		{"choice delta", ChoiceDelta, `{"choices":[{"delta":{"content":"Hi"}}]}`},
		{"text delta", TextDelta, `{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}`},
		{"gateway message", GatewayDecoder, `{"message":{"content":"Hi"}}`},
		{"gateway choice", GatewayDecoder, `{"choices":[{"delta":{"content":"Hi"}}]}`},
		{"gateway text", GatewayDecoder, `{"delta":{"text":"Hi"}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			text, ok, err := tc.decoder.Decode([]byte(tc.record))
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "Hi", text)
		})
	}
}

func TestDecoders_AbsentDelta(t *testing.T) {
	tests := []struct {
		name    string
		decoder Decoder
		record  string
	}{
		{"ollama done frame", MessageContent, `{"done":true}`},
		{"openai role header", ChoiceDelta, `{"choices":[{"delta":{"role":"assistant"}}]}`},
		{"openai no choices", ChoiceDelta, `{"choices":[]}`},
		{"anthropic ping", TextDelta, `{"type":"ping"}`},
		{"gateway usage frame", GatewayDecoder, `{"usage":{"total_tokens":3}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			text, ok, err := tc.decoder.Decode([]byte(tc.record))
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Empty(t, text)
		})
	}
}

func TestGatewayDecoder_Priority(t *testing.T) {
	record := `{"message":{"content":"A"},"choices":[{"delta":{"content":"B"}}],"delta":{"text":"C"}}`
	text, ok, err := GatewayDecoder.Decode([]byte(record))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A", text)

	record = `{"message":{"content":""},"choices":[{"delta":{"content":"B"}}]}`
	text, _, _ = GatewayDecoder.Decode([]byte(record))
	assert.Equal(t, "B", text)
}

func TestDecoders_Malformed(t *testing.T) {
	for _, d := range []Decoder{MessageContent, ChoiceDelta, TextDelta, GatewayDecoder} {
		_, ok, err := d.Decode([]byte(`{"message":`))
		assert.Error(t, err)
		assert.False(t, ok)
	}
}

// =============================================================================
// FRAMING TESTS
// =============================================================================

const ndjsonFixture = `{"message":{"content":"Hel"}}
{"message":{"content":"lo, "}}

{"message":{"content":"wörld ✓"}}
{"done":true}`

const sseFixture = "event: message_start\n" +
	"data: {\"type\":\"message_start\"}\n\n" +
	": keep-alive\n\n" +
	"event: content_block_delta\n" +
	"data: {\"delta\":{\"text\":\"Hel\"}}\n\n" +
	"event: content_block_delta\r\n" +
	"data: {\"delta\":{\"text\":\"lo, wörld ✓\"}}\r\n\r\n" +
	"data: [DONE]\n\n" +
	"data: {\"delta\":{\"text\":\"ignored\"}}\n\n"

func collect(t *testing.T, r io.Reader, records func(io.Reader) RecordReader, dec Decoder) string {
	t.Helper()
	s := NewStream(context.Background(), io.NopCloser(r), records(r), dec, StreamOptions{})
	text, err := Collect(s)
	require.NoError(t, err)
	return text
}

func lines(r io.Reader) RecordReader { return NewLineReader(r) }
func events(r io.Reader) RecordReader { return NewSSEReader(r) }

func TestStream_FragmentationIdempotent(t *testing.T) {
	tests := []struct {
		name    string
		fixture string
		records func(io.Reader) RecordReader
		decoder Decoder
	}{
		{"ndjson", ndjsonFixture, lines, MessageContent},
		{"sse", sseFixture, events, TextDelta},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			want := collect(t, strings.NewReader(tc.fixture), tc.records, tc.decoder)
			assert.Equal(t, "Hello, wörld ✓", want)

			got := collect(t, iotest.OneByteReader(strings.NewReader(tc.fixture)), tc.records, tc.decoder)
			assert.Equal(t, want, got, "one byte at a time")

			for i := 0; i <= len(tc.fixture); i++ {
				r := io.MultiReader(strings.NewReader(tc.fixture[:i]), strings.NewReader(tc.fixture[i:]))
				got := collect(t, iotest.HalfReader(r), tc.records, tc.decoder)
				if got != want {
					t.Fatalf("split at %d: got %q, want %q", i, got, want)
				}
			}
		})
	}
}

func TestSSEReader_EventType(t *testing.T) {
	r := NewSSEReader(strings.NewReader("event: ping\n\nevent: content_block_delta\ndata: a\ndata: b\n\n"))
	data, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "a\nb", string(data))
	assert.Equal(t, "content_block_delta", r.LastEvent)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStream_MalformedRecordSkipped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	body := "{\"message\":{\"content\":\"Hi\"}}\nnot json at all\n{\"message\":{\"content\":\" there\"}}\n"

	s := NewStream(context.Background(), io.NopCloser(strings.NewReader(body)),
		NewLineReader(strings.NewReader(body)), MessageContent,
		StreamOptions{Family: model.FamilyOllama, Logger: zap.New(core)})

	text, err := Collect(s)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", text)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "skipping malformed stream record", logs.All()[0].Message)
}

func TestStream_CanceledEndsSilently(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	body := "{\"message\":{\"content\":\"Hi\"}}\n{\"message\":{\"content\":\" there\"}}\n"
	closed := false
	rc := readCloser{Reader: strings.NewReader(body), close: func() { closed = true }}

	s := NewStream(ctx, rc, NewLineReader(rc), MessageContent, StreamOptions{})
	delta, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Hi", delta)

	cancel()
	_, err = s.Recv()
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, closed)
}

func TestStream_ReadErrorIsTransport(t *testing.T) {
	r := io.MultiReader(strings.NewReader("{\"message\":{\"content\":\"Hi\"}}\n"), iotest.ErrReader(errors.New("connection reset")))
	s := NewStream(context.Background(), io.NopCloser(r), NewLineReader(r), MessageContent, StreamOptions{})

	text, err := Collect(s)
	assert.Equal(t, "Hi", text)
	assert.True(t, IsTransport(err))
}

type readCloser struct {
	io.Reader
	close func()
}

func (r readCloser) Close() error {
	r.close()
	return nil
}

// =============================================================================
// MODEL CACHE TESTS
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestModelCache_TTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewModelCache(5*time.Minute, clock)

	var calls atomic.Int32
	fetch := func(context.Context) ([]string, error) {
		calls.Add(1)
		return []string{"a", "b"}, nil
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		models, err := cache.Get(ctx, "p1", fetch)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, models)
	}
	assert.EqualValues(t, 1, calls.Load())

	clock.Advance(4 * time.Minute)
	_, _ = cache.Get(ctx, "p1", fetch)
	assert.EqualValues(t, 1, calls.Load(), "still fresh")

	clock.Advance(2 * time.Minute)
	_, _ = cache.Get(ctx, "p1", fetch)
	assert.EqualValues(t, 2, calls.Load(), "expired")

	_, _ = cache.Get(ctx, "p2", fetch)
	assert.EqualValues(t, 3, calls.Load(), "keys are independent")

	cache.Invalidate("p2")
	_, _ = cache.Get(ctx, "p2", fetch)
	assert.EqualValues(t, 4, calls.Load())
}

func TestModelCache_ErrorsNotCached(t *testing.T) {
	cache := NewModelCache(0, &fakeClock{})
	boom := errors.New("boom")

	_, err := cache.Get(context.Background(), "p", func(context.Context) ([]string, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	models, err := cache.Get(context.Background(), "p", func(context.Context) ([]string, error) { return []string{"m"}, nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"m"}, models)
}

func TestModelCache_ReturnsCopies(t *testing.T) {
	cache := NewModelCache(0, &fakeClock{})
	fetch := func(context.Context) ([]string, error) { return []string{"m"}, nil }

	first, _ := cache.Get(context.Background(), "p", fetch)
	first[0] = "mutated"
	second, _ := cache.Get(context.Background(), "p", fetch)
	assert.Equal(t, "m", second[0])
}

// =============================================================================
// MESSAGE PREPARATION TESTS
// =============================================================================

func roles(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role.String() + ":" + m.Content
	}
	return out
}

func TestPrepareMessages(t *testing.T) {
	persona := &model.Persona{ID: "p", SystemPrompt: "Be brief."}

	tests := []struct {
		name    string
		history []model.Message
		persona *model.Persona
		want    []string
	}{
		{
			name:    "persona prompt prepended",
			history: []model.Message{model.NewUserMessage("Hello"), model.NewPlaceholder("p")},
			persona: persona,
			want:    []string{"system:Be brief.", "user:Hello"},
		},
		{
			name:    "existing system message wins",
			history: []model.Message{model.NewSystemMessage("Custom"), model.NewUserMessage("Hello")},
			persona: persona,
			want:    []string{"system:Custom", "user:Hello"},
		},
		{
			name: "trailing empty user turn dropped",
			history: []model.Message{
				model.NewUserMessage("Hello"),
				model.NewMessage(model.RoleAssistant, "Hi"),
				model.NewUserMessage("  "),
			},
			want: []string{"user:Hello", "assistant:Hi"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := PrepareMessages(ChatRequest{History: tc.history, Persona: tc.persona})
			if diff := cmp.Diff(tc.want, roles(got)); diff != "" {
				t.Errorf("PrepareMessages mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseSearchIntent(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want SearchIntent
		ok   bool
	}{
		{"plain", `{"query":"go 1.24 release","searchRequired":true}`, SearchIntent{"go 1.24 release", true}, true},
		{"fenced", "```json\n{\"query\":\"x\",\"searchRequired\":false}\n```", SearchIntent{"x", false}, true},
		{"with prose", `Sure! {"query":"weather","searchRequired":true} hope this helps`, SearchIntent{"weather", true}, true},
		{"invalid", `search please`, SearchIntent{}, false},
		{"broken json", `{"query": "x", "searchRequired": tru}`, SearchIntent{}, false},
		{"wrong types", `{"query": 3, "searchRequired": "yes"}`, SearchIntent{}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseSearchIntent(tc.raw)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

// =============================================================================
// TRANSPORT TESTS
// =============================================================================

func TestStatusError(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
		msg    string
	}{
		{401, `{"error":{"message":"invalid api key"}}`, ErrUnauthorized, "invalid api key"},
		{404, `{"error":"model 'x' not found"}`, ErrModelNotFound, "model 'x' not found"},
		{429, ``, ErrRateLimited, "rate limited"},
		{500, `upstream exploded`, nil, "HTTP 500: upstream exploded"},
	}

	for _, tc := range tests {
		err := StatusError(tc.status, []byte(tc.body))
		if tc.want != nil {
			assert.ErrorIs(t, err, tc.want)
		}
		assert.Contains(t, err.Error(), tc.msg)
	}
}

func TestTransport_CredentialsAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/query":
			if r.URL.Query().Get("key") != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		case "/bearer":
			if r.Header.Get("Authorization") != "Bearer secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		case "/fail":
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":{"message":"nope"}}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	var out struct {
		OK bool `json:"ok"`
	}

	q := NewTransport(model.FamilyPolaris, srv.URL+"/", QueryAuth("key", "secret"), Options{})
	require.NoError(t, q.GetJSON(ctx, "models", "/query", &out))
	assert.True(t, out.OK)

	b := NewTransport(model.FamilyOpenAI, srv.URL, BearerAuth("secret"), Options{})
	require.NoError(t, b.PostJSON(ctx, "chat", "/bearer", map[string]string{"a": "b"}, &out))

	err := b.GetJSON(ctx, "models", "/fail", &out)
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "nope")
}

func TestTransport_PostStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{\"message\":{\"content\":\"Hi\"}}\n{\"message\":{\"content\":\" there\"}}\n"))
	}))
	defer srv.Close()

	tr := NewTransport(model.FamilyOllama, srv.URL, nil, Options{})
	ctx := context.Background()
	body, err := tr.PostStream(ctx, "chat", "/api/chat", map[string]bool{"stream": true})
	require.NoError(t, err)

	text, err := Collect(NewStream(ctx, body, NewLineReader(body), MessageContent, StreamOptions{}))
	require.NoError(t, err)
	assert.Equal(t, "Hi there", text)
}

func TestReadBody_Limit(t *testing.T) {
	_, err := ReadBody(io.LimitReader(zeroReader{}, MaxResponseSize+10))
	assert.ErrorIs(t, err, ErrResponseTooLarge)

	data, err := ReadBody(strings.NewReader("ok"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = '0'
	}
	return len(p), nil
}

func TestError_Format(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := NewError(KindTransport, "openai.chat", "request failed", cause)
	assert.Equal(t, "openai.chat: request failed: dial tcp: refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindTransport, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(cause))
	assert.Equal(t, "title_generation", KindTitleGeneration.String())
}
