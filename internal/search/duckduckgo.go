// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package search implements the web search collaborator on top of the
// DuckDuckGo HTML endpoint, which needs no API key.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

const (
	DefaultBaseURL    = "https://html.duckduckgo.com/html/"
	DefaultTimeout    = 15 * time.Second
	DefaultMaxResults = 5

	maxBody   = 5 * 1024 * 1024
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("search query is empty")

// Config tunes a DuckDuckGo searcher.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxResults int
}

// DuckDuckGo queries the DuckDuckGo HTML endpoint.
type DuckDuckGo struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewDuckDuckGo creates a searcher.
func NewDuckDuckGo(cfg Config, logger *zap.Logger) *DuckDuckGo {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	return &DuckDuckGo{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
		logger: logging.For(logger, "search"),
	}
}

// Search returns up to limit results for query, in engine order. A
// non-positive limit uses the configured maximum.
func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = d.cfg.MaxResults
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.BaseURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	// The default transport negotiates gzip itself; setting Accept-Encoding
	// here would disable transparent decompression.
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	results, err := ParseResults(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}
	if len(results) > limit {
		results = results[:limit]
	}

	d.logger.Debug("search done",
		logging.Fn("Search"),
		zap.String("query", query),
		zap.Int("results", len(results)),
	)
	return results, nil
}

// =============================================================================
// RESULT PAGE PARSING
// =============================================================================

// ParseResults extracts results from a DuckDuckGo HTML result page:
//
//	<div class="result">
//	  <h2 class="result__title"><a class="result__a" href="//duckduckgo.com/l/?uddg=URL">Title</a></h2>
//	  <a class="result__snippet" href="...">Snippet text</a>
//	</div>
func ParseResults(r io.Reader) ([]model.SearchResult, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var results []model.SearchResult
	// open is set while the latest title was kept and has no snippet yet.
	open := false
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			switch {
			case hasClass(n, "result__a"):
				target := resultURL(attr(n, "href"))
				title := text(n)
				open = target != "" && title != ""
				if open {
					results = append(results, model.SearchResult{Title: title, URL: target})
				}
				return
			case hasClass(n, "result__snippet"):
				if open {
					results[len(results)-1].Snippet = text(n)
					open = false
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results, nil
}

// resultURL unwraps DuckDuckGo's redirect links.
func resultURL(href string) string {
	if strings.Contains(href, "uddg=") {
		if strings.HasPrefix(href, "//") {
			href = "https:" + href
		}
		u, err := url.Parse(href)
		if err != nil {
			return ""
		}
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	return slices.Contains(strings.Fields(attr(n, "class")), class)
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
