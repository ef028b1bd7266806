// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// previewWidth bounds how much of a malformed record is logged.
const previewWidth = 120

// StreamOptions carries the ambient collaborators of a decoded stream.
type StreamOptions struct {
	Family  model.Family
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// decodedStream turns framed records into text deltas.
type decodedStream struct {
	ctx     context.Context
	body    io.Closer
	records RecordReader
	decoder Decoder
	family  model.Family
	logger  *zap.Logger
	metrics *telemetry.Metrics

	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps a response body. records must read from body; closing the
// stream closes body.
func NewStream(ctx context.Context, body io.ReadCloser, records RecordReader, dec Decoder, opts StreamOptions) Stream {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &decodedStream{
		ctx:     ctx,
		body:    body,
		records: records,
		decoder: dec,
		family:  opts.Family,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// Recv returns the next non-empty delta.
func (s *decodedStream) Recv() (string, error) {
	for {
		if s.ctx.Err() != nil {
			s.Close()
			return "", io.EOF
		}

		record, err := s.records.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			// A canceled request surfaces as a read error on the body.
			if s.ctx.Err() != nil {
				s.Close()
				return "", io.EOF
			}
			return "", NewError(KindTransport, string(s.family)+".stream", "read failed", err)
		}

		text, ok, err := s.decoder.Decode(record)
		if IsTransport(err) {
			// In-band server error: the stream cannot continue.
			s.Close()
			return "", err
		}
		if err != nil {
			s.logger.Warn("skipping malformed stream record",
				logging.Fn("Recv"),
				zap.String("family", string(s.family)),
				zap.String("record", util.Preview(string(record), previewWidth)),
				zap.Error(NewError(KindDecode, "decode", "malformed record", err)),
			)
			s.metrics.DecodeError(string(s.family))
			continue
		}
		if !ok {
			continue
		}
		return text, nil
	}
}

// Close releases the body once.
func (s *decodedStream) Close() error {
	s.closeOnce.Do(func() {
		if s.body != nil {
			s.closeErr = s.body.Close()
		}
	})
	return s.closeErr
}

// Collect drains a stream into one string. Used by non-interactive callers
// and tests.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var out []byte
	for {
		delta, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return string(out), nil
		}
		if err != nil {
			return string(out), err
		}
		out = append(out, delta...)
	}
}
