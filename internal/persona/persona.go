// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package persona loads persona definitions from a directory of YAML files
// and keeps them current while the files change.
//
// Each file holds one persona:
//
//	id: reviewer
//	name: Code Reviewer
//	system_prompt: |
//	  You review Go code for {{user_name}}.
//	document_ids: [doc_style]
//	allowed_models: [gpt-4o, llama3]
//
// A missing id defaults to the file name without extension.
package persona

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

// DefaultID is the persona used when a thread names none.
const DefaultID = "assistant"

// Builtin is always available, even with an empty directory. A file with
// the same id replaces it.
var Builtin = model.Persona{
	ID:           DefaultID,
	Name:         "Assistant",
	SystemPrompt: "You are a helpful assistant talking with {{user_name}}. Today is {{date}}.",
}

// validID matches ids usable in @mentions.
var validID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ErrInvalidPersona wraps a persona file that cannot be used.
var ErrInvalidPersona = errors.New("invalid persona")

// =============================================================================
// STORE
// =============================================================================

// Store holds the current set of personas. It is safe for concurrent use.
type Store struct {
	dir    string
	logger *zap.Logger

	mu       sync.RWMutex
	personas map[string]model.Persona
}

// Load reads every *.yaml and *.yml file in dir. A missing directory yields
// a store holding only Builtin. Invalid files are logged and skipped.
func Load(dir string, logger *zap.Logger) (*Store, error) {
	s := &Store{dir: dir, logger: logging.For(logger, "persona")}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the watched directory.
func (s *Store) Dir() string { return s.dir }

// Reload re-reads the directory and swaps the persona set atomically.
func (s *Store) Reload() error {
	personas := map[string]model.Persona{Builtin.ID: Builtin}

	entries, err := os.ReadDir(s.dir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read persona directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !isPersonaFile(e.Name()) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		p, err := ParseFile(path)
		if err != nil {
			s.logger.Warn("skipping persona file",
				logging.Fn("Reload"),
				zap.String("file", e.Name()),
				zap.Error(err),
			)
			continue
		}
		personas[p.ID] = p
	}

	s.mu.Lock()
	s.personas = personas
	s.mu.Unlock()

	s.logger.Debug("personas loaded", logging.Fn("Reload"), zap.Int("count", len(personas)))
	return nil
}

// Persona looks up a persona by id, case-insensitively.
func (s *Store) Persona(id string) (model.Persona, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.personas[id]; ok {
		return p, true
	}
	for key, p := range s.personas {
		if strings.EqualFold(key, id) {
			return p, true
		}
	}
	return model.Persona{}, false
}

// Personas returns every persona sorted by id.
func (s *Store) Personas() []model.Persona {
	s.mu.RLock()
	out := make([]model.Persona, 0, len(s.personas))
	for _, p := range s.personas {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// =============================================================================
// FILES
// =============================================================================

func isPersonaFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// ParseFile decodes one persona file.
func ParseFile(path string) (model.Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Persona{}, err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Parse(data, base)
}

// Parse decodes YAML persona data. defaultID is used when the document has
// no id. Unknown keys are rejected.
func Parse(data []byte, defaultID string) (model.Persona, error) {
	var p model.Persona
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return model.Persona{}, fmt.Errorf("%w: %v", ErrInvalidPersona, err)
	}

	if p.ID == "" {
		p.ID = defaultID
	}
	if !validID.MatchString(p.ID) {
		return model.Persona{}, fmt.Errorf("%w: id %q must be letters, digits, '-' or '_'", ErrInvalidPersona, p.ID)
	}
	p.SystemPrompt = strings.TrimRight(p.SystemPrompt, "\n")
	return p, nil
}

// Write saves p as <dir>/<id>.yaml.
func Write(dir string, p model.Persona) error {
	if !validID.MatchString(p.ID) {
		return fmt.Errorf("%w: id %q", ErrInvalidPersona, p.ID)
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, p.ID+".yaml"), data, 0644)
}
