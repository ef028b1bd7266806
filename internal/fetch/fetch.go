// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package fetch retrieves web pages and extracts their readable text for the
// URL extraction step.
//
// Requests go through an SSRF guard that refuses private, loopback and
// metadata addresses both before the request and at dial time, follow a
// bounded number of redirects, read at most MaxSize bytes and are paced by
// a shared rate limiter.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

// Defaults for Config fields left zero.
const (
	DefaultMaxSize       = 2 * 1024 * 1024
	DefaultTimeout       = 15 * time.Second
	DefaultMaxRedirects  = 5
	DefaultRatePerSecond = 4.0
	DefaultUserAgent     = "rigchat/1.0 (+https://github.com/jeranaias/rigrun-chat)"
)

var (
	// ErrResponseTooLarge is returned when a body exceeds MaxSize.
	ErrResponseTooLarge = errors.New("response body too large")

	// ErrUnsupportedContent is returned for non-text content types.
	ErrUnsupportedContent = errors.New("unsupported content type")
)

// Config tunes a Fetcher.
type Config struct {
	MaxSize       int64
	Timeout       time.Duration
	MaxRedirects  int
	RatePerSecond float64
	UserAgent     string

	// AllowPrivate disables the SSRF guard. Intended for local setups and
	// tests.
	AllowPrivate bool
}

// Fetcher implements the page-fetch collaborator.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultRatePerSecond
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	f := &Fetcher{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(1, int(cfg.RatePerSecond))),
		logger:  logging.For(logger, "fetch"),
	}

	transport := &http.Transport{
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
	if !cfg.AllowPrivate {
		transport.DialContext = guardedDialer()
	}

	f.client = &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return ErrTooManyRedirects
			}
			_, err := validateURL(req.URL.String(), cfg.AllowPrivate)
			return err
		},
	}
	return f
}

// ParseSize parses a human byte size such as "2MB" or "512 KiB".
func ParseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// Fetch downloads rawURL and returns its readable text. HTML is reduced to
// text; other text types are returned as is.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (model.Page, error) {
	u, err := validateURL(rawURL, f.cfg.AllowPrivate)
	if err != nil {
		return model.Page{}, err
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return model.Page{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return model.Page{}, err
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return model.Page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return model.Page{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxSize+1))
	if err != nil {
		return model.Page{}, err
	}
	if int64(len(body)) > f.cfg.MaxSize {
		return model.Page{}, fmt.Errorf("%w: over %s", ErrResponseTooLarge, humanize.IBytes(uint64(f.cfg.MaxSize)))
	}

	page := model.Page{URL: resp.Request.URL.String()}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "" || mediaType == "text/html" || mediaType == "application/xhtml+xml":
		page.Title, page.Text, err = ExtractText(bytes.NewReader(body))
		if err != nil {
			return model.Page{}, err
		}
	case strings.HasPrefix(mediaType, "text/") || mediaType == "application/json":
		page.Text = strings.TrimSpace(string(body))
	default:
		return model.Page{}, fmt.Errorf("%w: %s", ErrUnsupportedContent, mediaType)
	}

	f.logger.Debug("page fetched",
		logging.Fn("Fetch"),
		zap.String("url", page.URL),
		zap.String("size", humanize.IBytes(uint64(len(body)))),
		zap.Int("text_runes", len([]rune(page.Text))),
		zap.Duration("elapsed", time.Since(start)),
	)
	return page, nil
}

// Close releases idle connections.
func (f *Fetcher) Close() {
	f.client.CloseIdleConnections()
}
