// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama implements the llm.Adapter contract for the Ollama local
// LLM server.
//
// # Endpoints
//
//   - POST /api/chat: streamed (NDJSON) and non-streamed chat, "format":"json"
//     for the structured classification call
//   - POST /api/embed: batch embeddings
//   - GET /api/tags: installed models
//
// # Usage
//
//	client := ollama.New(provider, llm.Options{Logger: logger})
//	stream, err := client.SendMessage(ctx, llm.ChatRequest{History: msgs, Model: m})
//	for {
//	    delta, err := stream.Recv()
//	    if err == io.EOF {
//	        break
//	    }
//	    fmt.Print(delta)
//	}
package ollama
