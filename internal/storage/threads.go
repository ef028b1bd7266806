// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrThreadNotFound is returned when a thread doesn't exist.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrInvalidID is returned for ids that could escape the store directory.
	ErrInvalidID = errors.New("invalid thread id")
)

// =============================================================================
// THREAD METADATA
// =============================================================================

// ThreadMeta contains metadata for listing threads.
type ThreadMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	PersonaID    string    `json:"persona_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"` // First user message truncated
}

// =============================================================================
// THREAD STORE
// =============================================================================

// ThreadStore handles thread persistence. It is safe for concurrent use.
type ThreadStore struct {
	// BaseDir is the directory for storing threads
	BaseDir string

	// MaxThreads limits stored threads (0 = unlimited). The least recently
	// updated threads are removed first.
	MaxThreads int

	mu  sync.Mutex
	now func() time.Time
}

// DefaultDir returns ~/.rigchat/threads.
func DefaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".rigchat", "threads"), nil
}

// NewThreadStore creates a store rooted at baseDir, creating it if needed.
func NewThreadStore(baseDir string) (*ThreadStore, error) {
	if baseDir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		baseDir = dir
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create thread directory: %w", err)
	}
	return &ThreadStore{BaseDir: baseDir, now: time.Now}, nil
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// Save persists a snapshot of th. The caller's thread is not modified; the
// stored copy gets a fresh UpdatedAt.
func (s *ThreadStore) Save(th *model.Thread) error {
	if th == nil {
		return errors.New("nil thread")
	}
	path, err := s.filePath(th.ID)
	if err != nil {
		return err
	}

	snapshot := th.Clone()
	snapshot.UpdatedAt = s.now()
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = snapshot.UpdatedAt
	}
	for i := range snapshot.Messages {
		snapshot.Messages[i].IsStreaming = false
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return err
	}
	if s.MaxThreads > 0 {
		s.enforceLimit()
	}
	return nil
}

// enforceLimit removes the oldest threads if over limit. Called with mu held.
func (s *ThreadStore) enforceLimit() {
	metas, err := s.list()
	if err != nil || len(metas) <= s.MaxThreads {
		return
	}
	// list is most recent first
	for _, m := range metas[s.MaxThreads:] {
		os.Remove(filepath.Join(s.BaseDir, m.ID+".json"))
	}
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// Get retrieves a thread by ID.
func (s *ThreadStore) Get(id string) (*model.Thread, error) {
	path, err := s.filePath(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return readThread(path)
}

func readThread(path string) (*model.Thread, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrThreadNotFound
		}
		return nil, err
	}

	var th model.Thread
	if err := json.Unmarshal(data, &th); err != nil {
		return nil, fmt.Errorf("corrupt thread file %s: %w", filepath.Base(path), err)
	}
	if th.Metadata == nil {
		th.Metadata = make(map[string]string)
	}
	th.DropEmptyReplies()
	return &th, nil
}

// =============================================================================
// LIST OPERATIONS
// =============================================================================

// List returns all saved threads, most recently updated first. Unreadable
// files are skipped.
func (s *ThreadStore) List() ([]ThreadMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list()
}

func (s *ThreadStore) list() ([]ThreadMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []ThreadMeta{}, nil
		}
		return nil, err
	}

	metas := make([]ThreadMeta, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		th, err := readThread(filepath.Join(s.BaseDir, entry.Name()))
		if err != nil {
			continue // Skip corrupted files
		}

		preview := ""
		if first, ok := th.FirstUserMessage(); ok {
			preview = util.Preview(first.Content, 80)
		}
		metas = append(metas, ThreadMeta{
			ID:           th.ID,
			Title:        th.Title,
			Model:        th.Model.ID,
			PersonaID:    th.PersonaID,
			CreatedAt:    th.CreatedAt,
			UpdatedAt:    th.UpdatedAt,
			MessageCount: len(th.Messages),
			Preview:      preview,
		})
	}

	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// Delete removes a thread by ID.
func (s *ThreadStore) Delete(id string) error {
	path, err := s.filePath(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrThreadNotFound
		}
		return err
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (s *ThreadStore) filePath(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(s.BaseDir, id+".json"), nil
}
