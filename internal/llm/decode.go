// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"encoding/json"
)

// Decoder extracts the text delta from one stream record. It reports
// ok=false for a well-formed record that carries no text (role headers,
// usage frames, ping events) and a non-nil error for a malformed record.
type Decoder interface {
	Decode(record []byte) (text string, ok bool, err error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(record []byte) (string, bool, error)

// Decode calls f.
func (f DecoderFunc) Decode(record []byte) (string, bool, error) {
	return f(record)
}

// =============================================================================
// PER-BACKEND DECODERS
// =============================================================================

// MessageContent decodes Ollama-style {"message":{"content":"..."}} lines.
var MessageContent Decoder = DecoderFunc(func(record []byte) (string, bool, error) {
	var rec struct {
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(record, &rec); err != nil {
		return "", false, err
	}
	if rec.Message == nil || rec.Message.Content == "" {
		return "", false, nil
	}
	return rec.Message.Content, true, nil
})

// ChoiceDelta decodes OpenAI-style {"choices":[{"delta":{"content":"..."}}]}
// frames. Only the first choice is read.
var ChoiceDelta Decoder = DecoderFunc(func(record []byte) (string, bool, error) {
	var rec struct {
		Choices []struct {
			Delta *struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(record, &rec); err != nil {
		return "", false, err
	}
	if len(rec.Choices) == 0 || rec.Choices[0].Delta == nil || rec.Choices[0].Delta.Content == "" {
		return "", false, nil
	}
	return rec.Choices[0].Delta.Content, true, nil
})

// TextDelta decodes Anthropic-style {"delta":{"text":"..."}} events.
var TextDelta Decoder = DecoderFunc(func(record []byte) (string, bool, error) {
	var rec struct {
		Delta *struct {
			Text string `json:"text"`
		} `json:"delta"`
	}
	if err := json.Unmarshal(record, &rec); err != nil {
		return "", false, err
	}
	if rec.Delta == nil || rec.Delta.Text == "" {
		return "", false, nil
	}
	return rec.Delta.Text, true, nil
})

// =============================================================================
// ORDERED COMPOSITION
// =============================================================================

// Ordered tries each decoder in turn and returns the first non-empty delta.
// A record is malformed only when every decoder rejects it.
func Ordered(decoders ...Decoder) Decoder {
	return DecoderFunc(func(record []byte) (string, bool, error) {
		var firstErr error
		parsed := false
		for _, d := range decoders {
			text, ok, err := d.Decode(record)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			parsed = true
			if ok {
				return text, true, nil
			}
		}
		if !parsed {
			return "", false, firstErr
		}
		return "", false, nil
	})
}

// GatewayDecoder checks the chat-message field, then the choice-delta
// field, then the delta-text field.
var GatewayDecoder = Ordered(MessageContent, ChoiceDelta, TextDelta)
