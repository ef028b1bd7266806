// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/llm"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
)

// Step is one enrichment stage.
type Step interface {
	Name() string
	Run(ctx context.Context, tc TurnContext) (TurnContext, error)
}

type namedStep struct {
	name string
	fn   func(ctx context.Context, tc TurnContext) (TurnContext, error)
}

func (s namedStep) Name() string { return s.name }

func (s namedStep) Run(ctx context.Context, tc TurnContext) (TurnContext, error) {
	return s.fn(ctx, tc)
}

// StepFunc wraps a function as a named step.
func StepFunc(name string, fn func(ctx context.Context, tc TurnContext) (TurnContext, error)) Step {
	return namedStep{name: name, fn: fn}
}

// =============================================================================
// RUNNER
// =============================================================================

// Pipeline runs steps strictly in order.
type Pipeline struct {
	steps   []Step
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// New creates a pipeline over steps.
func New(logger *zap.Logger, metrics *telemetry.Metrics, steps ...Step) *Pipeline {
	return &Pipeline{
		steps:   steps,
		logger:  logging.For(logger, "pipeline"),
		metrics: metrics,
	}
}

// Steps returns the step names in order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Run applies every step. A failing step leaves the context as it was
// before the step. Run stops early when ctx is canceled.
func (p *Pipeline) Run(ctx context.Context, tc TurnContext) TurnContext {
	for _, step := range p.steps {
		if ctx.Err() != nil {
			p.logger.Debug("pipeline canceled",
				logging.Fn("Run"),
				zap.String("turn", tc.TurnID),
				zap.String("before_step", step.Name()),
			)
			return tc
		}

		start := time.Now()
		next, err := p.runStep(ctx, step, tc)
		if err != nil {
			p.logger.Warn("enrichment step failed",
				logging.Fn("Run"),
				zap.String("turn", tc.TurnID),
				zap.String("step", step.Name()),
				zap.Error(err),
			)
			p.metrics.EnrichmentFailure(step.Name())
			continue
		}
		p.logger.Debug("step done",
			zap.String("turn", tc.TurnID),
			zap.String("step", step.Name()),
			zap.Duration("elapsed", time.Since(start)),
		)
		tc = next
	}
	return tc
}

func (p *Pipeline) runStep(ctx context.Context, step Step, tc TurnContext) (out TurnContext, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = llm.NewError(llm.KindEnrichment, step.Name(), "step panicked", fmt.Errorf("%v", r))
		}
	}()

	out, err = step.Run(ctx, tc)
	if err != nil {
		if llm.KindOf(err) != llm.KindEnrichment {
			err = llm.NewError(llm.KindEnrichment, step.Name(), "step failed", err)
		}
		return tc, err
	}
	return out, nil
}
