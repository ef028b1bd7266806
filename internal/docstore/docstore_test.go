// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package docstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "docs.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutAndGet(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	a, err := s.Put(ctx, model.Document{ID: "doc_a", Title: "Style guide", Content: "Use gofmt."})
	require.NoError(t, err)
	b, err := s.Put(ctx, model.Document{Content: "Release checklist", Source: "/tmp/notes/release.md"})
	require.NoError(t, err)
	assert.Contains(t, b.ID, "doc_")
	assert.Equal(t, "release.md", b.Title)

	// Request order is kept, unknown and duplicate ids are skipped.
	docs, err := s.Get(ctx, []string{b.ID, "doc_missing", a.ID, b.ID})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, b.ID, docs[0].ID)
	assert.Equal(t, "Use gofmt.", docs[1].Content)

	docs, err = s.Get(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestStore_PutReplaces(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, err := s.Put(ctx, model.Document{ID: "doc_a", Title: "v1", Content: "alpha version"})
	require.NoError(t, err)
	_, err = s.Put(ctx, model.Document{ID: "doc_a", Title: "v2", Content: "beta version"})
	require.NoError(t, err)

	docs, err := s.Get(ctx, []string{"doc_a"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "beta version", docs[0].Content)

	// The FTS index follows the update.
	hits, err := s.Search(ctx, "alpha", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	hits, err = s.Search(ctx, "beta", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestStore_PutRejects(t *testing.T) {
	s := openStore(t)
	_, err := s.Put(context.Background(), model.Document{Content: "   "})
	assert.ErrorIs(t, err, ErrEmptyDocument)
	_, err = s.Put(context.Background(), model.Document{Content: "\xff\xfe"})
	assert.ErrorIs(t, err, ErrNotText)
}

func TestStore_Search(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, err := s.Put(ctx, model.Document{ID: "doc_go", Title: "Go notes", Content: "Goroutines are cheap. Channels connect goroutines."})
	require.NoError(t, err)
	_, err = s.Put(ctx, model.Document{ID: "doc_cook", Title: "Recipes", Content: "Simmer the sauce for ten minutes."})
	require.NoError(t, err)

	hits, err := s.Search(ctx, "goroutine", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc_go", hits[0].DocumentID)
	assert.Equal(t, "Go notes", hits[0].Title)
	assert.Contains(t, hits[0].Text, "[Goroutines]")

	// Operators in user input are treated as text.
	hits, err = s.Search(ctx, `sauce" OR (NEAR`, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.Search(ctx, "  ", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	path := filepath.Join(t.TempDir(), "guide.txt")
	require.NoError(t, os.WriteFile(path, []byte("Line one.\nLine two.\n"), 0644))
	doc, err := s.AddFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "guide.txt", doc.Title)

	metas, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, doc.ID, metas[0].ID)
	assert.EqualValues(t, 20, metas[0].Size)

	require.NoError(t, s.Delete(ctx, doc.ID))
	assert.ErrorIs(t, s.Delete(ctx, doc.ID), ErrNotFound)

	hits, err := s.Search(ctx, "line", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBuildFTSQuery(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"goroutine", `"goroutine"*`},
		{`a "quoted" (group)`, `"a"* "quoted"* "group"*`},
		{"NEAR:x-y", `"NEAR"* "x"* "y"*`},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, BuildFTSQuery(tc.in), tc.in)
	}
}
