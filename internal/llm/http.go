// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultTimeout bounds non-streamed calls.
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize caps non-streamed response bodies (10MB).
	MaxResponseSize = 10 * 1024 * 1024
)

// Options configures the HTTP side of an adapter.
type Options struct {
	// HTTPClient replaces both the unary and the streaming client.
	HTTPClient *http.Client

	// Timeout for non-streamed calls (default: DefaultTimeout).
	Timeout time.Duration

	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// =============================================================================
// CREDENTIALS
// =============================================================================

// Credential attaches an API key to a request.
type Credential interface {
	Apply(req *http.Request)
}

type bearerAuth string

func (b bearerAuth) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+string(b))
}

// BearerAuth sends the key as "Authorization: Bearer <key>".
func BearerAuth(key string) Credential { return bearerAuth(key) }

type headerAuth struct{ name, value string }

func (h headerAuth) Apply(req *http.Request) {
	req.Header.Set(h.name, h.value)
}

// HeaderAuth sends the key in a custom header.
func HeaderAuth(name, key string) Credential { return headerAuth{name: name, value: key} }

type queryAuth struct{ param, value string }

func (q queryAuth) Apply(req *http.Request) {
	v := req.URL.Query()
	v.Set(q.param, q.value)
	req.URL.RawQuery = v.Encode()
}

// QueryAuth sends the key as a query parameter.
func QueryAuth(param, key string) Credential { return queryAuth{param: param, value: key} }

// =============================================================================
// TRANSPORT
// =============================================================================

// Transport performs JSON requests against one backend base URL and maps
// failures into transport errors.
type Transport struct {
	family       model.Family
	baseURL      string
	cred         Credential
	headers      http.Header
	client       *http.Client
	streamClient *http.Client
	logger       *zap.Logger
	metrics      *telemetry.Metrics
}

// NewTransport creates a transport. cred may be nil.
func NewTransport(family model.Family, baseURL string, cred Credential, opts Options) *Transport {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := opts.HTTPClient
	streamClient := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
		// Streams are bounded by the turn context, not a wall-clock timeout.
		streamClient = &http.Client{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Transport{
		family:       family,
		baseURL:      strings.TrimRight(baseURL, "/"),
		cred:         cred,
		headers:      make(http.Header),
		client:       client,
		streamClient: streamClient,
		logger:       logger,
		metrics:      opts.Metrics,
	}
}

// SetHeader adds a header sent with every request.
func (t *Transport) SetHeader(name, value string) {
	t.headers.Set(name, value)
}

// BaseURL returns the normalized base URL.
func (t *Transport) BaseURL() string { return t.baseURL }

// Logger returns the transport's logger.
func (t *Transport) Logger() *zap.Logger { return t.logger }

// Metrics returns the transport's metrics, possibly nil.
func (t *Transport) Metrics() *telemetry.Metrics { return t.metrics }

// Family returns the backend family.
func (t *Transport) Family() model.Family { return t.family }

// PostJSON sends body and decodes a 200 response into out.
func (t *Transport) PostJSON(ctx context.Context, op, path string, body, out any) error {
	resp, err := t.do(ctx, t.client, op, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return t.decode(op, resp, out)
}

// GetJSON issues a GET and decodes a 200 response into out.
func (t *Transport) GetJSON(ctx context.Context, op, path string, out any) error {
	resp, err := t.do(ctx, t.client, op, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return t.decode(op, resp, out)
}

// PostStream sends body and returns the open response body on success. The
// caller owns the body.
func (t *Transport) PostStream(ctx context.Context, op, path string, body any) (io.ReadCloser, error) {
	resp, err := t.do(ctx, t.streamClient, op, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	t.observe(op, nil)
	return resp.Body, nil
}

func (t *Transport) do(ctx context.Context, client *http.Client, op, method, path string, body any) (*http.Response, error) {
	fullOp := string(t.family) + "." + op

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, NewError(KindTransport, fullOp, "failed to marshal request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return nil, NewError(KindTransport, fullOp, "failed to create request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, values := range t.headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if t.cred != nil {
		t.cred.Apply(req)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		// Never log the URL: it may carry a query credential.
		t.logger.Debug("request failed",
			logging.Fn(op),
			zap.String("family", string(t.family)),
			zap.String("path", path),
			zap.Error(err),
		)
		terr := NewError(KindTransport, fullOp, "request failed", unwrapURLError(err))
		t.observe(op, terr)
		return nil, terr
	}

	t.logger.Debug("response",
		logging.Fn(op),
		zap.String("family", string(t.family)),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := ReadBody(resp.Body)
		terr := NewError(KindTransport, fullOp, fmt.Sprintf("status %d", resp.StatusCode), StatusError(resp.StatusCode, data))
		t.observe(op, terr)
		return nil, terr
	}
	return resp, nil
}

func (t *Transport) decode(op string, resp *http.Response, out any) error {
	fullOp := string(t.family) + "." + op
	data, err := ReadBody(resp.Body)
	if err != nil {
		terr := NewError(KindTransport, fullOp, "failed to read response", err)
		t.observe(op, terr)
		return terr
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			terr := NewError(KindTransport, fullOp, "failed to parse response", err)
			t.observe(op, terr)
			return terr
		}
	}
	t.observe(op, nil)
	return nil
}

func (t *Transport) observe(op string, err error) {
	t.metrics.ObserveRequest(string(t.family), op, telemetry.Outcome(err, false))
}

// unwrapURLError drops the *url.Error wrapper, whose message contains the
// full request URL.
func unwrapURLError(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return ue.Err
	}
	return err
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

// ReadBody reads at most MaxResponseSize bytes.
//
// SECURITY: Response size limit prevents memory exhaustion.
func ReadBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > MaxResponseSize {
		return nil, ErrResponseTooLarge
	}
	return body, nil
}

// apiErrorBody covers {"error":{"message":"..."}} and {"error":"..."}.
type apiErrorBody struct {
	Error json.RawMessage `json:"error"`
}

func errorMessage(body []byte) string {
	var env apiErrorBody
	if err := json.Unmarshal(body, &env); err != nil || len(env.Error) == 0 {
		return strings.TrimSpace(string(body))
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Error, &nested); err == nil && nested.Message != "" {
		return nested.Message
	}
	var flat string
	if err := json.Unmarshal(env.Error, &flat); err == nil && flat != "" {
		return flat
	}
	return strings.TrimSpace(string(body))
}

// StatusError converts a non-200 response into an error wrapping the
// matching sentinel.
func StatusError(status int, body []byte) error {
	msg := errorMessage(body)

	var sentinel error
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		sentinel = ErrUnauthorized
	case http.StatusNotFound:
		sentinel = ErrModelNotFound
	case http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	}

	switch {
	case sentinel != nil && msg != "":
		return fmt.Errorf("%w: %s", sentinel, msg)
	case sentinel != nil:
		return sentinel
	case msg != "":
		return fmt.Errorf("HTTP %d: %s", status, msg)
	default:
		return fmt.Errorf("HTTP %d", status)
	}
}
