// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// RecordReader yields one raw payload per call and io.EOF at end of stream.
// Records are independent; the reader never interprets their content.
type RecordReader interface {
	Next() ([]byte, error)
}

// =============================================================================
// NDJSON READER
// =============================================================================

// LineReader splits newline-delimited JSON. Chunk boundaries of the
// underlying reader do not need to align with line boundaries.
type LineReader struct {
	reader *bufio.Reader
	eof    bool
}

// NewLineReader creates a LineReader over r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{reader: bufio.NewReader(r)}
}

// Next returns the next non-blank line without its terminator.
func (l *LineReader) Next() ([]byte, error) {
	for {
		if l.eof {
			return nil, io.EOF
		}
		line, err := l.reader.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, err
			}
			// Last line may arrive without a trailing newline.
			l.eof = true
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}

// =============================================================================
// SSE READER
// =============================================================================

var sseDone = []byte("[DONE]")

// SSEReader parses Server-Sent Events and yields each event's data payload.
// A "[DONE]" payload ends the stream.
type SSEReader struct {
	reader *bufio.Reader
	done   bool

	// LastEvent is the event type of the most recently returned payload.
	LastEvent string
}

// NewSSEReader creates an SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReader(r)}
}

// Next returns the data of the next event.
func (s *SSEReader) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	eventType, data, err := s.ReadEvent()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.done = true
		}
		return nil, err
	}
	if bytes.Equal(data, sseDone) {
		s.done = true
		return nil, io.EOF
	}
	s.LastEvent = eventType
	return data, nil
}

// ReadEvent reads the next SSE event from the stream.
// Returns the event type, data, and any error.
// Returns io.EOF when the stream ends.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", nil, err
		}
		atEOF := err != nil

		line = bytes.TrimRight(line, "\r\n")

		switch {
		case len(line) == 0:
			// Blank line terminates an event; one without data is dropped.
			if len(dataLines) == 0 {
				eventType = ""
			}
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			data := line[len("data:"):]
			if len(data) > 0 && data[0] == ' ' {
				data = data[1:]
			}
			dataLines = append(dataLines, append([]byte(nil), data...))
		}
		// id:, retry: and ":" comments are ignored.

		if (len(line) == 0 || atEOF) && len(dataLines) > 0 {
			return eventType, bytes.Join(dataLines, []byte("\n")), nil
		}
		if atEOF {
			return "", nil, io.EOF
		}
	}
}
