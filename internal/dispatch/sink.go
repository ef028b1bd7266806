// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import "github.com/jeranaias/rigrun-chat/internal/model"

// Sink receives a snapshot of the thread after every applied change. The
// snapshot belongs to the receiver.
type Sink interface {
	ThreadUpdated(t *model.Thread)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(t *model.Thread)

// ThreadUpdated calls f(t).
func (f SinkFunc) ThreadUpdated(t *model.Thread) { f(t) }

// Speech is the speech-synthesis collaborator. StreamText receives each
// delta; final marks the end of the utterance.
type Speech interface {
	StreamText(text string, final bool)
	Stop()
}

// ThreadSaver persists a thread.
type ThreadSaver interface {
	Save(t *model.Thread) error
}
