// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"sync"
)

// Gate is a per-turn completion flag guarding thread mutations.
type Gate struct {
	mu     sync.Mutex
	closed bool
}

// NewGate returns an open gate.
func NewGate() *Gate {
	return &Gate{}
}

// Do runs fn unless the gate is closed and reports whether it ran.
func (g *Gate) Do(fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	fn()
	return true
}

// DoContext is Do for a turn bound to ctx: a done ctx closes the gate
// before fn could run, so cancellation through the context stops mutations
// the same way Close does.
func (g *Gate) DoContext(ctx context.Context, fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed && ctx.Err() != nil {
		g.closed = true
	}
	if g.closed {
		return false
	}
	fn()
	return true
}

// Close shuts the gate. It blocks until a running Do returns and is safe to
// call more than once.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// Closed reports whether Close has been called.
func (g *Gate) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}
