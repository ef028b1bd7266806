// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/assembler"
	"github.com/jeranaias/rigrun-chat/internal/dispatch"
	"github.com/jeranaias/rigrun-chat/internal/llm"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/pipeline"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

var (
	// ErrTurnInFlight is returned by Send while another turn is running.
	ErrTurnInFlight = errors.New("a turn is already in flight")

	// ErrModelNotAllowed is returned when the turn's persona restricts
	// models and the thread's model is not on its list.
	ErrModelNotAllowed = errors.New("persona does not allow this model")
)

// AdapterSource resolves the adapter serving a model.
type AdapterSource interface {
	ForModel(m model.Model) (llm.Adapter, error)
}

// Config wires an Orchestrator. Assembler and Adapters are required.
type Config struct {
	Assembler *assembler.Assembler
	Pipeline  *pipeline.Pipeline
	Adapters  AdapterSource

	Sink     dispatch.Sink
	Speech   dispatch.Speech
	Threads  dispatch.ThreadSaver
	Notifier pipeline.Notifier

	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// Orchestrator owns the in-flight turn.
//
// The Orchestrator is safe for concurrent use.
type Orchestrator struct {
	assembler  *assembler.Assembler
	pipeline   *pipeline.Pipeline
	adapters   AdapterSource
	dispatcher *dispatch.Dispatcher
	sink       dispatch.Sink
	speech     dispatch.Speech
	threads    dispatch.ThreadSaver
	notifier   pipeline.Notifier
	logger     *zap.Logger
	metrics    *telemetry.Metrics

	mu           sync.Mutex
	current      *Turn
	activeThread string
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	p := cfg.Pipeline
	if p == nil {
		p = pipeline.New(cfg.Logger, cfg.Metrics)
	}
	return &Orchestrator{
		assembler: cfg.Assembler,
		pipeline:  p,
		adapters:  cfg.Adapters,
		dispatcher: dispatch.New(dispatch.Config{
			Sink:    cfg.Sink,
			Speech:  cfg.Speech,
			Threads: cfg.Threads,
			Logger:  cfg.Logger,
			Metrics: cfg.Metrics,
		}),
		sink:     cfg.Sink,
		speech:   cfg.Speech,
		threads:  cfg.Threads,
		notifier: cfg.Notifier,
		logger:   logging.For(cfg.Logger, "orchestrator"),
		metrics:  cfg.Metrics,
	}
}

// =============================================================================
// TURN HANDLE
// =============================================================================

// Result is the outcome of a finished turn.
type Result struct {
	Thread   *model.Thread
	Content  string
	Canceled bool
	Err      error
}

// Turn is a handle on one in-flight turn.
type Turn struct {
	ID       string
	ThreadID string

	cancel context.CancelFunc
	gate   *dispatch.Gate
	done   chan struct{}
	result Result
}

// Done is closed when the turn has fully unwound.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Wait blocks until the turn finishes and returns its result.
func (t *Turn) Wait() Result {
	<-t.done
	return t.result
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Send starts a turn for text on thread and returns immediately. thread is
// not modified; updates flow to the sink.
func (o *Orchestrator) Send(ctx context.Context, thread *model.Thread, text string) (*Turn, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current != nil {
		return nil, ErrTurnInFlight
	}

	snapshot := thread.Clone()
	res := o.assembler.Assemble(text, snapshot)
	if res.Persona != nil && !res.Persona.Allows(snapshot.Model.ID) {
		return nil, fmt.Errorf("%w: persona %q, model %q", ErrModelNotAllowed, res.Persona.DisplayName(), snapshot.Model.ID)
	}
	adapter, err := o.adapters.ForModel(snapshot.Model)
	if err != nil {
		return nil, err
	}

	turnCtx, cancel := context.WithCancel(ctx)
	turn := &Turn{
		ID:       "turn_" + uuid.NewString(),
		ThreadID: snapshot.ID,
		cancel:   cancel,
		gate:     dispatch.NewGate(),
		done:     make(chan struct{}),
	}
	o.current = turn
	o.activeThread = snapshot.ID

	o.logger.Info("turn started",
		logging.Fn("Send"),
		zap.String("turn", turn.ID),
		zap.String("thread", snapshot.ID),
		zap.String("model", snapshot.Model.ID),
		zap.Int("mentions", len(res.Mentions)),
		zap.String("query", util.Preview(res.Query, 80)),
	)

	tc := pipeline.NewTurnContext(turn.ID, snapshot, adapter, res)
	go o.run(turnCtx, turn, tc)
	return turn, nil
}

// Interrupt cancels the in-flight turn, keeping any content already
// applied. It returns the interrupted turn, or nil when none was running.
// Once Interrupt returns the thread receives no further updates from that
// turn.
func (o *Orchestrator) Interrupt() *Turn {
	o.mu.Lock()
	t := o.current
	o.mu.Unlock()
	if t == nil {
		return nil
	}

	t.gate.Close()
	t.cancel()
	if o.speech != nil {
		o.speech.Stop()
	}
	o.logger.Info("turn interrupted", logging.Fn("Interrupt"), zap.String("turn", t.ID))
	return t
}

// SwitchThread makes threadID the active thread. A turn running on another
// thread is interrupted and returned.
func (o *Orchestrator) SwitchThread(threadID string) *Turn {
	o.mu.Lock()
	o.activeThread = threadID
	t := o.current
	o.mu.Unlock()

	if t == nil || t.ThreadID == threadID {
		return nil
	}
	return o.Interrupt()
}

// ActiveThread returns the id of the thread the last Send or SwitchThread
// targeted.
func (o *Orchestrator) ActiveThread() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeThread
}

// InFlight reports whether a turn is running.
func (o *Orchestrator) InFlight() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current != nil
}

// =============================================================================
// TURN LIFECYCLE
// =============================================================================

func (o *Orchestrator) run(ctx context.Context, turn *Turn, tc pipeline.TurnContext) {
	started := time.Now()
	res := o.execute(ctx, turn, tc, started)

	turn.cancel()
	turn.result = res

	o.mu.Lock()
	if o.current == turn {
		o.current = nil
	}
	o.mu.Unlock()

	o.metrics.TurnFinished(telemetry.Outcome(res.Err, res.Canceled))
	o.logger.Info("turn finished",
		logging.Fn("run"),
		zap.String("turn", turn.ID),
		zap.Bool("canceled", res.Canceled),
		zap.Int("chars", len(res.Content)),
		zap.Duration("elapsed", time.Since(started)),
		zap.Error(res.Err),
	)
	close(turn.done)
}

func (o *Orchestrator) execute(ctx context.Context, turn *Turn, tc pipeline.TurnContext, started time.Time) Result {
	tc = o.pipeline.Run(ctx, tc)
	if !tc.Persisted {
		tc = tc.WithTurnAppended()
	}
	if ctx.Err() != nil || turn.gate.Closed() {
		return o.canceledEarly(tc)
	}

	// Show the user message and empty placeholder before the first delta.
	if !turn.gate.DoContext(ctx, func() { o.publish(tc.Thread) }) {
		return o.canceledEarly(tc)
	}

	stream, err := tc.Adapter.SendMessage(ctx, llm.ChatRequest{
		History: tc.Outbound(),
		Model:   tc.Model,
		Persona: tc.Persona,
	})
	if err != nil {
		if ctx.Err() != nil {
			return o.canceledEarly(tc)
		}
		return o.failed(ctx, turn, tc, err)
	}

	dr := o.dispatcher.Run(ctx, dispatch.Turn{
		ID:            turn.ID,
		Thread:        tc.Thread,
		Stream:        stream,
		Gate:          turn.gate,
		Adapter:       tc.Adapter,
		Model:         tc.Model,
		FirstExchange: tc.FirstExchange,
		Started:       started,
	})
	if dr.Err != nil {
		o.warn(fmt.Sprintf("Reply interrupted: %v", dr.Err))
	}
	return Result{Thread: dr.Thread, Content: dr.Content, Canceled: dr.Canceled, Err: dr.Err}
}

// canceledEarly stores the thread without the unused placeholder when the
// turn is canceled before streaming starts.
func (o *Orchestrator) canceledEarly(tc pipeline.TurnContext) Result {
	th := tc.Thread.Clone()
	th.RemovePlaceholder()
	o.save(th)
	return Result{Thread: th, Canceled: true}
}

// failed handles a transport error before any delta: the empty placeholder
// is dropped and the user is told.
func (o *Orchestrator) failed(ctx context.Context, turn *Turn, tc pipeline.TurnContext, err error) Result {
	th := tc.Thread.Clone()
	th.RemovePlaceholder()

	o.logger.Error("backend request failed",
		logging.Fn("execute"),
		zap.String("turn", turn.ID),
		zap.String("family", string(tc.Model.Provider.Family)),
		zap.Error(err),
	)
	if !turn.gate.DoContext(ctx, func() { o.publish(th) }) {
		return Result{Thread: th, Canceled: true}
	}
	o.save(th)
	o.warn(fmt.Sprintf("%s request failed: %v", tc.Model.Name(), err))
	return Result{Thread: th, Err: err}
}

func (o *Orchestrator) publish(th *model.Thread) {
	if o.sink != nil {
		o.sink.ThreadUpdated(th.Clone())
	}
}

func (o *Orchestrator) save(th *model.Thread) {
	if o.threads == nil {
		return
	}
	if err := o.threads.Save(th); err != nil {
		o.logger.Warn("thread save failed",
			logging.Fn("save"),
			zap.String("thread", th.ID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) warn(msg string) {
	if o.notifier != nil {
		o.notifier.Warn(msg)
	}
}
