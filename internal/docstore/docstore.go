// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package docstore keeps reference documents in SQLite with an FTS5 index.
//
// Documents are attached to personas and threads by id; the document
// context step loads them with Get. Search returns highlighted snippets for
// the CLI.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrNotFound      = errors.New("document not found")
	ErrEmptyDocument = errors.New("document has no content")
	ErrNotText       = errors.New("document is not valid UTF-8 text")
	ErrDatabaseError = errors.New("database error")
)

// DefaultSearchLimit caps Search when limit <= 0.
const DefaultSearchLimit = 10

// =============================================================================
// STORE
// =============================================================================

// Meta describes a stored document without its content.
type Meta struct {
	ID        string
	Title     string
	Source    string
	Size      int64
	CreatedAt time.Time
}

// Store is a SQLite-backed document store. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// DefaultPath returns ~/.rigchat/documents.db.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".rigchat", "documents.db"), nil
}

// Open opens (creating if needed) the database at path. ":memory:" opens a
// private in-memory store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	return &Store{db: db, logger: logging.For(logger, "docstore"), now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// WRITES
// =============================================================================

// Put stores doc, replacing any document with the same id. An empty id gets
// a fresh "doc_" id; an empty title falls back to the source's base name.
func (s *Store) Put(ctx context.Context, doc model.Document) (model.Document, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return model.Document{}, ErrEmptyDocument
	}
	if !utf8.ValidString(doc.Content) {
		return model.Document{}, ErrNotText
	}
	if doc.ID == "" {
		doc.ID = "doc_" + uuid.NewString()
	}
	if doc.Title == "" {
		doc.Title = filepath.Base(doc.Source)
		if doc.Source == "" {
			doc.Title = doc.ID
		}
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, source, content, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			source = excluded.source,
			content = excluded.content,
			size = excluded.size
	`, doc.ID, doc.Title, doc.Source, doc.Content, len(doc.Content), doc.CreatedAt.Unix())
	if err != nil {
		return model.Document{}, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	s.logger.Debug("document stored",
		logging.Fn("Put"),
		zap.String("id", doc.ID),
		zap.Int("bytes", len(doc.Content)),
	)
	return doc, nil
}

// AddFile reads a text file and stores it with the file name as title.
func (s *Store) AddFile(ctx context.Context, path string) (model.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Document{}, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return s.Put(ctx, model.Document{
		Title:   filepath.Base(path),
		Source:  abs,
		Content: string(data),
	})
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// Get returns the documents with the given ids in request order. Unknown ids
// are skipped.
func (s *Store) Get(ctx context.Context, ids []string) ([]model.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, source, content, created_at FROM documents WHERE id IN ("+strings.Join(placeholders, ",")+")",
		args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	byID := make(map[string]model.Document, len(ids))
	for rows.Next() {
		var d model.Document
		var source sql.NullString
		var created int64
		if err := rows.Scan(&d.ID, &d.Title, &source, &d.Content, &created); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		d.Source = source.String
		d.CreatedAt = time.Unix(created, 0)
		byID[d.ID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	docs := make([]model.Document, 0, len(byID))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if d, ok := byID[id]; ok && !seen[id] {
			seen[id] = true
			docs = append(docs, d)
		}
	}
	return docs, nil
}

// List returns metadata for every document, newest first.
func (s *Store) List(ctx context.Context) ([]Meta, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, source, size, created_at FROM documents ORDER BY created_at DESC, pk DESC")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var m Meta
		var source sql.NullString
		var created int64
		if err := rows.Scan(&m.ID, &m.Title, &source, &m.Size, &created); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		m.Source = source.String
		m.CreatedAt = time.Unix(created, 0)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}
