// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"errors"
	"strings"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// Kind categorizes errors for handling.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransport is a network or HTTP failure. Fatal at top-level dispatch.
	KindTransport
	// KindDecode is one malformed stream record. Logged and skipped.
	KindDecode
	// KindEnrichment is a pipeline step failure. The step's effect is discarded.
	KindEnrichment
	// KindClassification is a failed structured call. Treated as "no search".
	KindClassification
	// KindTitleGeneration is a failed title call. The default title stays.
	KindTitleGeneration
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	case KindEnrichment:
		return "enrichment"
	case KindClassification:
		return "classification"
	case KindTitleGeneration:
		return "title_generation"
	default:
		return "unknown"
	}
}

// Error is the error type returned across adapter, pipeline and dispatch
// boundaries.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds an Error.
func NewError(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// Sentinel causes wrapped by transport errors.
var (
	ErrUnauthorized     = errors.New("authentication failed")
	ErrRateLimited      = errors.New("rate limited")
	ErrModelNotFound    = errors.New("model not found")
	ErrNotConfigured    = errors.New("provider not configured")
	ErrResponseTooLarge = errors.New("response exceeded maximum size")
	ErrUnsupported      = errors.New("operation not supported by backend")
)

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	return KindOf(err) == KindTransport
}
