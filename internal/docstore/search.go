// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package docstore

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// Search finds documents matching every term of query and returns one
// snippet per document, best match first. Matched terms are wrapped in
// [brackets].
func (s *Store) Search(ctx context.Context, query string, limit int) ([]model.Snippet, error) {
	fts := BuildFTSQuery(query)
	if fts == "" {
		return []model.Snippet{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.title, snippet(documents_fts, 1, '[', ']', '...', 16)
		FROM documents_fts
		JOIN documents d ON d.pk = documents_fts.rowid
		WHERE documents_fts MATCH ?
		ORDER BY bm25(documents_fts)
		LIMIT ?
	`, fts, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	results := []model.Snippet{}
	for rows.Next() {
		var sn model.Snippet
		if err := rows.Scan(&sn.DocumentID, &sn.Title, &sn.Text); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		results = append(results, sn)
	}
	return results, rows.Err()
}

// BuildFTSQuery turns free text into an FTS5 expression: each word becomes a
// quoted prefix term, so FTS5 operators in user input are inert.
func BuildFTSQuery(query string) string {
	words := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	terms := make([]string, 0, len(words))
	for _, w := range words {
		terms = append(terms, `"`+w+`"*`)
	}
	return strings.Join(terms, " ")
}
