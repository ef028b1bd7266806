// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persona

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const reviewerYAML = `id: reviewer
name: Code Reviewer
system_prompt: |
  You review Go code for {{user_name}}.
document_ids: [doc_style]
allowed_models: [gpt-4o]
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "reviewer.yaml", reviewerYAML)
	writeFile(t, dir, "poet.yml", "name: Poet\nsystem_prompt: Answer in verse.\n")
	writeFile(t, dir, "broken.yaml", "id: [not, a, string]\n")
	writeFile(t, dir, "notes.txt", "id: ignored\n")

	core, logs := observer.New(zap.WarnLevel)
	s, err := Load(dir, zap.New(core))
	require.NoError(t, err)

	ids := []string{}
	for _, p := range s.Personas() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"assistant", "poet", "reviewer"}, ids)

	p, ok := s.Persona("Reviewer")
	require.True(t, ok, "lookup is case-insensitive")
	assert.Equal(t, "Code Reviewer", p.Name)
	assert.Equal(t, "You review Go code for {{user_name}}.", p.SystemPrompt)
	assert.Equal(t, []string{"doc_style"}, p.DocumentIDs)
	assert.True(t, p.Allows("gpt-4o"))
	assert.False(t, p.Allows("llama3"))

	assert.Equal(t, 1, logs.FilterMessage("skipping persona file").Len())
}

func TestLoad_MissingDir(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent"), nil)
	require.NoError(t, err)
	p, ok := s.Persona(DefaultID)
	require.True(t, ok)
	assert.Equal(t, Builtin, p)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantID  string
		wantErr bool
	}{
		{name: "default id", data: "name: X\n", wantID: "fallback"},
		{name: "explicit id", data: "id: custom\n", wantID: "custom"},
		{name: "bad id", data: "id: has space\n", wantErr: true},
		{name: "unknown key", data: "id: a\nprompt: typo\n", wantErr: true},
		{name: "empty", data: "", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Parse([]byte(tc.data), "fallback")
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPersona)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, p.ID)
		})
	}
}

func TestWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := model.Persona{ID: "tutor", Name: "Tutor", SystemPrompt: "Explain simply.", DocumentIDs: []string{"doc_a"}, AllowedModels: []string{"llama3"}}
	require.NoError(t, Write(dir, in))

	out, err := ParseFile(filepath.Join(dir, "tutor.yaml"))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	assert.ErrorIs(t, Write(dir, model.Persona{ID: "../x"}), ErrInvalidPersona)
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir, nil)
	require.NoError(t, err)

	reloaded := make(chan struct{}, 8)
	w, err := s.Watch(context.Background(),
		WithDebounce(20*time.Millisecond),
		OnReload(func() {
			select {
			case reloaded <- struct{}{}:
			default:
			}
		}),
	)
	require.NoError(t, err)
	defer w.Close()

	writeFile(t, dir, "reviewer.yaml", reviewerYAML)

	require.Eventually(t, func() bool {
		_, ok := s.Persona("reviewer")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "reviewer.yaml")))
	require.Eventually(t, func() bool {
		_, ok := s.Persona("reviewer")
		return !ok
	}, 5*time.Second, 10*time.Millisecond)

	assert.NotEmpty(t, reloaded)
}

func TestWatch_StopsWithContext(t *testing.T) {
	s, err := Load(t.TempDir(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	w, err := s.Watch(ctx)
	require.NoError(t, err)
	cancel()
	require.NoError(t, w.Close())
}
