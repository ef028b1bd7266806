// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/llm"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
)

// Config wires the dispatcher's collaborators. Every field is optional.
type Config struct {
	Sink    Sink
	Speech  Speech
	Threads ThreadSaver
	Logger  *zap.Logger
	Metrics *telemetry.Metrics

	// TitleTimeout bounds the title call. Zero means DefaultTitleTimeout.
	TitleTimeout time.Duration
}

// Dispatcher applies streamed replies to threads.
type Dispatcher struct {
	sink         Sink
	speech       Speech
	threads      ThreadSaver
	logger       *zap.Logger
	metrics      *telemetry.Metrics
	titleTimeout time.Duration
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.TitleTimeout <= 0 {
		cfg.TitleTimeout = DefaultTitleTimeout
	}
	return &Dispatcher{
		sink:         cfg.Sink,
		speech:       cfg.Speech,
		threads:      cfg.Threads,
		logger:       logging.For(cfg.Logger, "dispatch"),
		metrics:      cfg.Metrics,
		titleTimeout: cfg.TitleTimeout,
	}
}

// Turn is one streamed reply to apply.
type Turn struct {
	ID string

	// Thread must end with the placeholder the deltas fill. The dispatcher
	// works on its own clone.
	Thread *model.Thread
	Stream llm.Stream
	Gate   *Gate

	// Adapter and Model serve the title call.
	Adapter llm.Adapter
	Model   model.Model

	FirstExchange bool
	Started       time.Time
}

// Result describes how a turn ended.
type Result struct {
	// Thread is the final state, including partial content on error or
	// cancellation.
	Thread   *model.Thread
	Content  string
	Deltas   int
	Canceled bool
	Titled   bool

	// Err is the read error that stopped the stream, if any.
	Err error
}

// =============================================================================
// STREAM LOOP
// =============================================================================

// Run drains t.Stream until it ends, the context is canceled or the gate
// closes. It always closes the stream.
func (d *Dispatcher) Run(ctx context.Context, t Turn) Result {
	defer t.Stream.Close()

	gate := t.Gate
	if gate == nil {
		gate = NewGate()
	}
	if t.Started.IsZero() {
		t.Started = time.Now()
	}

	th := t.Thread.Clone()
	res := Result{Thread: th}
	var acc strings.Builder

	for {
		delta, err := t.Stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				res.Err = err
			}
			break
		}
		if delta == "" {
			continue
		}

		applied := gate.DoContext(ctx, func() {
			if res.Deltas == 0 {
				d.metrics.FirstDelta(string(t.Model.Provider.Family), time.Since(t.Started))
				d.speak("", false)
			}
			acc.WriteString(delta)
			res.Deltas++
			if err := th.SetPlaceholderContent(acc.String()); err != nil {
				d.logger.Error("delta without placeholder",
					logging.Fn("Run"),
					zap.String("turn", t.ID),
					zap.Error(err),
				)
				return
			}
			d.publish(th)
			d.speak(delta, false)
		})
		if !applied {
			break
		}
	}
	res.Content = acc.String()

	if ctx.Err() != nil || gate.Closed() {
		return d.canceled(t, res)
	}

	finished := gate.DoContext(ctx, func() {
		th.FinishPlaceholder()
		if res.Deltas > 0 {
			d.speak("", true)
		}
		d.publish(th)
	})
	if !finished {
		return d.canceled(t, res)
	}

	if res.Err != nil {
		d.logger.Warn("stream read failed, keeping partial reply",
			logging.Fn("Run"),
			zap.String("turn", t.ID),
			zap.Int("deltas", res.Deltas),
			zap.Error(res.Err),
		)
		d.save(t.ID, th)
		return res
	}

	d.save(t.ID, th)
	if t.FirstExchange {
		res.Titled = d.title(ctx, t, gate, th)
	}
	return res
}

// canceled persists a finished copy of the partial reply without touching
// the published thread.
func (d *Dispatcher) canceled(t Turn, res Result) Result {
	res.Canceled = true
	res.Err = nil

	final := res.Thread.Clone()
	final.RemovePlaceholder()
	final.FinishPlaceholder()
	res.Thread = final

	d.logger.Debug("turn canceled",
		zap.String("turn", t.ID),
		zap.Int("deltas", res.Deltas),
	)
	d.save(t.ID, final)
	return res
}

func (d *Dispatcher) publish(th *model.Thread) {
	if d.sink != nil {
		d.sink.ThreadUpdated(th.Clone())
	}
}

func (d *Dispatcher) speak(text string, final bool) {
	if d.speech != nil {
		d.speech.StreamText(text, final)
	}
}

func (d *Dispatcher) save(turnID string, th *model.Thread) {
	if d.threads == nil {
		return
	}
	if err := d.threads.Save(th); err != nil {
		d.logger.Warn("thread save failed",
			logging.Fn("save"),
			zap.String("turn", turnID),
			zap.String("thread", th.ID),
			zap.Error(err),
		)
	}
}
