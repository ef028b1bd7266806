// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jeranaias/rigrun-chat/internal/assembler"
	"github.com/jeranaias/rigrun-chat/internal/backend"
	"github.com/jeranaias/rigrun-chat/internal/llm"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/pipeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

// =============================================================================
// FAKES
// =============================================================================

type personaMap map[string]model.Persona

func (p personaMap) Persona(id string) (model.Persona, bool) {
	persona, ok := p[id]
	return persona, ok
}

func (p personaMap) Personas() []model.Persona {
	out := make([]model.Persona, 0, len(p))
	for _, persona := range p {
		out = append(out, persona)
	}
	return out
}

type chanStream struct {
	ctx    context.Context
	deltas chan string
}

func (s *chanStream) Recv() (string, error) {
	select {
	case <-s.ctx.Done():
		return "", io.EOF
	case d, ok := <-s.deltas:
		if !ok {
			return "", io.EOF
		}
		return d, nil
	}
}

func (s *chanStream) Close() error { return nil }

// streamAdapter serves every SendMessage from one delta channel.
type streamAdapter struct {
	deltas  chan string
	sendErr error
	calls   atomic.Int32
}

func (a *streamAdapter) Family() model.Family { return model.FamilyOllama }

func (a *streamAdapter) SendMessage(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	a.calls.Add(1)
	if a.sendErr != nil {
		return nil, a.sendErr
	}
	return &chanStream{ctx: ctx, deltas: a.deltas}, nil
}

func (a *streamAdapter) SendSimpleMessage(ctx context.Context, text string, m model.Model, systemPrompt string) (string, error) {
	return "", errors.New("no titles here")
}

func (a *streamAdapter) SendJSONMessage(ctx context.Context, text string, m model.Model, systemPrompt string) (llm.SearchIntent, error) {
	return llm.SearchIntent{}, nil
}

func (a *streamAdapter) EmbedText(ctx context.Context, texts []string) ([][]float64, error) {
	return nil, nil
}

func (a *streamAdapter) AvailableModels(ctx context.Context) ([]string, error) { return nil, nil }

type fixedSource struct {
	adapter llm.Adapter
	err     error
}

func (f fixedSource) ForModel(model.Model) (llm.Adapter, error) { return f.adapter, f.err }

type recordingSink struct {
	mu      sync.Mutex
	updates []*model.Thread
}

func (r *recordingSink) ThreadUpdated(t *model.Thread) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, t)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func (r *recordingSink) last() *model.Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updates) == 0 {
		return nil
	}
	return r.updates[len(r.updates)-1]
}

// waitFor polls until the newest update satisfies cond.
func (r *recordingSink) waitFor(t *testing.T, cond func(*model.Thread) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		last := r.last()
		return last != nil && cond(last)
	}, 5*time.Second, 5*time.Millisecond)
}

type recordingSpeech struct {
	stops atomic.Int32
}

func (s *recordingSpeech) StreamText(string, bool) {}
func (s *recordingSpeech) Stop()                   { s.stops.Add(1) }

type recordingNotifier struct {
	mu    sync.Mutex
	warns []string
}

func (n *recordingNotifier) Warn(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.warns = append(n.warns, msg)
}

type memSaver struct {
	mu    sync.Mutex
	saved []*model.Thread
}

func (m *memSaver) Save(t *model.Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, t.Clone())
	return nil
}

func (m *memSaver) last() *model.Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return nil
	}
	return m.saved[len(m.saved)-1]
}

var testPersonas = personaMap{
	"helper": {ID: "helper", Name: "Helper", SystemPrompt: "You help {{user_name}}."},
	"gpt":    {ID: "gpt", Name: "GPTOnly", AllowedModels: []string{"gpt-4o"}},
}

func localModel(endpoint string) model.Model {
	return model.Model{ID: "llama3", Provider: model.Provider{
		ID: "local", Family: model.FamilyOllama, Endpoint: endpoint, Capabilities: model.CapChat,
	}}
}

func lastContent(th *model.Thread) string {
	m, _ := th.Last()
	return m.Content
}

// =============================================================================
// END TO END
// =============================================================================

func TestSend_HelloHiThere(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollama.ChatRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		if !req.Stream {
			json.NewEncoder(w).Encode(ollama.ChatResponse{
				Message: ollama.Message{Role: "assistant", Content: "Friendly Greeting Exchange"},
				Done:    true,
			})
			return
		}
		w.Write([]byte(`{"message":{"content":"Hi"}}` + "\n"))
		w.(http.Flusher).Flush()
		w.Write([]byte(`{"message":{"content":" there"}}` + "\n"))
	}))
	defer srv.Close()

	m := localModel(srv.URL)
	reg, err := backend.NewRegistry([]model.Provider{m.Provider}, nil, llm.Options{})
	require.NoError(t, err)

	saver := &memSaver{}
	sink := &recordingSink{}
	o := New(Config{
		Assembler: assembler.New(testPersonas, 0),
		Pipeline:  pipeline.Default(pipeline.Config{UserName: "Ada"}, pipeline.Deps{Threads: saver}),
		Adapters:  reg,
		Sink:      sink,
		Threads:   saver,
	})

	thread := model.NewThread(m, "helper")
	turn, err := o.Send(context.Background(), thread, "Hello")
	require.NoError(t, err)
	res := turn.Wait()

	require.NoError(t, res.Err)
	assert.False(t, res.Canceled)
	assert.Equal(t, "Hi there", res.Content)
	require.Len(t, res.Thread.Messages, 2)
	assert.Equal(t, "Hello", res.Thread.Messages[0].Content)
	assert.Equal(t, "Hi there", res.Thread.Messages[1].Content)
	assert.Equal(t, "helper", res.Thread.Messages[1].PersonaID)
	assert.Equal(t, "Friendly Greeting Exchange", res.Thread.Title)

	saved := saver.last()
	require.NotNil(t, saved)
	assert.Equal(t, "Friendly Greeting Exchange", saved.Title)
	assert.Equal(t, "Hi there", lastContent(saved))

	assert.Empty(t, thread.Messages, "caller's thread is never mutated")
	assert.False(t, o.InFlight())
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestInterrupt_NoMutationsAfterCancel(t *testing.T) {
	adapter := &streamAdapter{deltas: make(chan string, 8)}
	sink := &recordingSink{}
	speech := &recordingSpeech{}
	saver := &memSaver{}
	o := New(Config{
		Assembler: assembler.New(testPersonas, 0),
		Adapters:  fixedSource{adapter: adapter},
		Sink:      sink,
		Speech:    speech,
		Threads:   saver,
	})

	turn, err := o.Send(context.Background(), model.NewThread(localModel(""), ""), "Tell me a story")
	require.NoError(t, err)
	assert.True(t, o.InFlight())

	adapter.deltas <- "Once"
	sink.waitFor(t, func(th *model.Thread) bool { return lastContent(th) == "Once" })

	assert.Same(t, turn, o.Interrupt())
	frozen := sink.count()

	adapter.deltas <- " upon"
	adapter.deltas <- " a time"
	res := turn.Wait()

	assert.True(t, res.Canceled)
	assert.NoError(t, res.Err)
	assert.Equal(t, "Once", res.Content)
	assert.Equal(t, frozen, sink.count(), "thread mutated after interrupt")
	assert.EqualValues(t, 1, speech.stops.Load())
	assert.False(t, o.InFlight())

	saved := saver.last()
	require.NotNil(t, saved)
	assert.Equal(t, "Once", lastContent(saved), "partial content kept")
	assert.False(t, saved.HasPlaceholder())

	assert.Nil(t, o.Interrupt(), "nothing left to interrupt")
}

func TestSend_TurnInFlight(t *testing.T) {
	adapter := &streamAdapter{deltas: make(chan string)}
	o := New(Config{Assembler: assembler.New(nil, 0), Adapters: fixedSource{adapter: adapter}})

	thread := model.NewThread(localModel(""), "")
	turn, err := o.Send(context.Background(), thread, "first")
	require.NoError(t, err)

	_, err = o.Send(context.Background(), thread, "second")
	assert.ErrorIs(t, err, ErrTurnInFlight)

	o.Interrupt()
	turn.Wait()

	next, err := o.Send(context.Background(), thread, "third")
	require.NoError(t, err)
	o.Interrupt()
	next.Wait()
}

func TestSwitchThread(t *testing.T) {
	adapter := &streamAdapter{deltas: make(chan string)}
	o := New(Config{Assembler: assembler.New(nil, 0), Adapters: fixedSource{adapter: adapter}})

	a := model.NewThread(localModel(""), "")
	b := model.NewThread(localModel(""), "")

	turn, err := o.Send(context.Background(), a, "hi")
	require.NoError(t, err)
	assert.Equal(t, a.ID, o.ActiveThread())

	assert.Nil(t, o.SwitchThread(a.ID), "same thread keeps the turn")
	assert.True(t, o.InFlight())

	assert.Same(t, turn, o.SwitchThread(b.ID))
	assert.Equal(t, b.ID, o.ActiveThread())
	res := turn.Wait()
	assert.True(t, res.Canceled)
	assert.False(t, o.InFlight())
}

func TestSend_CallerContextCancels(t *testing.T) {
	adapter := &streamAdapter{deltas: make(chan string, 1)}
	sink := &recordingSink{}
	o := New(Config{Assembler: assembler.New(nil, 0), Adapters: fixedSource{adapter: adapter}, Sink: sink})

	ctx, cancel := context.WithCancel(context.Background())
	turn, err := o.Send(ctx, model.NewThread(localModel(""), ""), "hi")
	require.NoError(t, err)

	adapter.deltas <- "partial"
	sink.waitFor(t, func(th *model.Thread) bool { return lastContent(th) == "partial" })
	cancel()

	res := turn.Wait()
	assert.True(t, res.Canceled)
	assert.Equal(t, "partial", lastContent(res.Thread))
}

// =============================================================================
// REFUSALS AND FAILURES
// =============================================================================

func TestSend_ModelNotAllowed(t *testing.T) {
	adapter := &streamAdapter{deltas: make(chan string)}
	o := New(Config{Assembler: assembler.New(testPersonas, 0), Adapters: fixedSource{adapter: adapter}})

	tests := []struct {
		name   string
		thread *model.Thread
		text   string
	}{
		{"thread persona", model.NewThread(localModel(""), "gpt"), "hello"},
		{"mentioned persona", model.NewThread(localModel(""), "helper"), "@GPTOnly hello"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := o.Send(context.Background(), tc.thread, tc.text)
			assert.ErrorIs(t, err, ErrModelNotAllowed)
			assert.False(t, o.InFlight())
		})
	}
	assert.Zero(t, adapter.calls.Load(), "refused before any network call")
}

func TestSend_AdapterLookupFails(t *testing.T) {
	o := New(Config{Assembler: assembler.New(nil, 0), Adapters: fixedSource{err: llm.ErrNotConfigured}})
	_, err := o.Send(context.Background(), model.NewThread(localModel(""), ""), "hi")
	assert.ErrorIs(t, err, llm.ErrNotConfigured)
	assert.False(t, o.InFlight())
}

func TestSend_TransportErrorAbortsTurn(t *testing.T) {
	sendErr := llm.NewError(llm.KindTransport, "ollama.chat", "request failed", llm.ErrModelNotFound)
	adapter := &streamAdapter{sendErr: sendErr}
	sink := &recordingSink{}
	notifier := &recordingNotifier{}
	saver := &memSaver{}
	o := New(Config{
		Assembler: assembler.New(nil, 0),
		Pipeline:  pipeline.New(nil, nil, pipeline.Bookkeeping(saver)),
		Adapters:  fixedSource{adapter: adapter},
		Sink:      sink,
		Threads:   saver,
		Notifier:  notifier,
	})

	turn, err := o.Send(context.Background(), model.NewThread(localModel(""), ""), "hi")
	require.NoError(t, err)
	res := turn.Wait()

	require.Error(t, res.Err)
	assert.True(t, llm.IsTransport(res.Err))
	assert.ErrorIs(t, res.Err, llm.ErrModelNotFound)

	require.Len(t, res.Thread.Messages, 1)
	assert.Equal(t, "hi", res.Thread.Messages[0].Content)
	assert.False(t, sink.last().HasPlaceholder())
	assert.False(t, saver.last().HasPlaceholder())

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.warns, 1)
	assert.Contains(t, notifier.warns[0], "llama3")
}
