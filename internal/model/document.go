// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// Document is a stored text attached to personas or threads.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Source    string    `json:"source,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Snippet is a search hit inside a document.
type Snippet struct {
	DocumentID string
	Title      string
	Text       string
}

// SearchResult is one ranked hit from a web search.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Page is the readable text extracted from a fetched URL.
type Page struct {
	URL   string
	Title string
	Text  string
}
