// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm talks to a local OpenAI-compatible chat-completion server
// (LM Studio, Ollama's /v1 endpoint, llama.cpp server).
//
// # Key Types
//
//   - Client: streaming chat client with separate connect and total timeouts
//   - Stream: lazy, non-restartable sequence of Events read from one response
//   - LineBuffer: holds partial SSE lines across network reads
//   - Completer: short non-streaming calls (probe, query refinement, models)
//   - Probe: two-step search-vs-answer capability check
//
// # Usage
//
//	client, err := llm.NewClient(llm.ClientConfig{
//	    BaseURL:   "http://127.0.0.1:1234",
//	    Model:     "qwen2.5-7b-instruct",
//	    MaxTokens: 2048,
//	    Timeout:   5 * time.Minute,
//	})
//	stream, err := client.Stream(ctx, messages)
//	defer stream.Close()
//	for {
//	    ev, err := stream.Recv()
//	    if err != nil { ... }
//	    if ev.Type == llm.EventDone { break }
//	    fmt.Print(ev.Text)
//	}
//
// Missing mandatory settings fail with an apperr ConfigurationError; a
// connection that drops before the terminal event fails with an apperr
// StreamInterrupted carrying the text already delivered.
package llm
