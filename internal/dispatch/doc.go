// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatch applies a backend's streamed reply to a thread.
//
// The Dispatcher drains an llm.Stream, writes every non-empty delta into the
// thread's trailing placeholder and publishes the updated thread to a Sink
// immediately, with no batching. An optional Speech sink receives the same
// deltas. On completion of a thread's first exchange the dispatcher asks the
// model for a short title.
//
// # Cancellation
//
// Every turn carries a Gate. Each thread mutation runs inside
// Gate.DoContext, and Gate.Close waits for a running mutation to finish, so
// once Close returns no further delta, finish or title reaches the thread or
// the sink. A canceled turn context closes the gate at the next mutation.
package dispatch
