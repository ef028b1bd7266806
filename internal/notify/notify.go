// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package notify delivers user-visible warnings without blocking the sender.
package notify

import (
	"sync/atomic"
	"time"
)

// DefaultBuffer is the queue length used when New gets zero.
const DefaultBuffer = 32

// Level grades a notice.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
)

func (l Level) String() string {
	if l == LevelWarn {
		return "warn"
	}
	return "info"
}

// Notice is one notification.
type Notice struct {
	Level   Level
	Message string
	At      time.Time
}

// Queue is a buffered notification sink. When the buffer is full new
// notices are dropped and counted.
type Queue struct {
	ch      chan Notice
	dropped atomic.Int64
}

// New creates a queue holding up to size notices.
func New(size int) *Queue {
	if size <= 0 {
		size = DefaultBuffer
	}
	return &Queue{ch: make(chan Notice, size)}
}

// Warn enqueues a warning.
func (q *Queue) Warn(msg string) { q.push(LevelWarn, msg) }

// Info enqueues an informational notice.
func (q *Queue) Info(msg string) { q.push(LevelInfo, msg) }

func (q *Queue) push(level Level, msg string) {
	select {
	case q.ch <- Notice{Level: level, Message: msg, At: time.Now()}:
	default:
		q.dropped.Add(1)
	}
}

// C returns the receive side of the queue.
func (q *Queue) C() <-chan Notice { return q.ch }

// Drain returns every queued notice without blocking.
func (q *Queue) Drain() []Notice {
	var out []Notice
	for {
		select {
		case n := <-q.ch:
			out = append(out, n)
		default:
			return out
		}
	}
}

// Dropped returns how many notices were discarded.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }
