// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// THREAD STORE TESTS
// =============================================================================

func testModel() model.Model {
	return model.Model{ID: "llama3", Provider: model.Provider{ID: "local", Family: model.FamilyOllama}}
}

func newStore(t *testing.T) *ThreadStore {
	t.Helper()
	store, err := NewThreadStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestThreadStore_SaveAndGet(t *testing.T) {
	store := newStore(t)

	th := model.NewThread(testModel(), "helper")
	th.Append(model.NewUserMessage("Hello"), model.NewPlaceholder("helper"))
	require.NoError(t, th.SetPlaceholderContent("Hi there"))

	require.NoError(t, store.Save(th))
	assert.True(t, th.Messages[1].IsStreaming, "caller's thread must not be modified")

	loaded, err := store.Get(th.ID)
	require.NoError(t, err)
	assert.Equal(t, th.ID, loaded.ID)
	assert.Equal(t, model.DefaultTitle, loaded.Title)
	assert.Equal(t, "llama3", loaded.Model.ID)
	assert.Equal(t, "helper", loaded.PersonaID)

	got := make([]string, 0, len(loaded.Messages))
	for _, m := range loaded.Messages {
		got = append(got, string(m.Role)+":"+m.Content)
		assert.False(t, m.IsStreaming)
	}
	if diff := cmp.Diff([]string{"user:Hello", "assistant:Hi there"}, got); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestThreadStore_GetDropsUnfinishedPlaceholder(t *testing.T) {
	store := newStore(t)

	// Saved before the first delta, as the pipeline does, then never finished.
	th := model.NewThread(testModel(), "")
	th.Append(model.NewUserMessage("Hello"), model.NewPlaceholder(""))
	require.NoError(t, store.Save(th))

	loaded, err := store.Get(th.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 1)
	assert.Equal(t, model.RoleUser, loaded.Messages[0].Role)

	// The next turn appends cleanly after the recovered history.
	loaded.Append(model.NewUserMessage("Again"), model.NewPlaceholder(""))
	assert.True(t, loaded.HasPlaceholder())
	assert.Len(t, loaded.Messages, 3)
}

func TestThreadStore_GetNotFound(t *testing.T) {
	_, err := newStore(t).Get("thr_missing")
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestThreadStore_InvalidIDs(t *testing.T) {
	store := newStore(t)
	for _, id := range []string{"", "../escape", "a/b", `a\b`, ".hidden"} {
		t.Run(id, func(t *testing.T) {
			_, err := store.Get(id)
			assert.ErrorIs(t, err, ErrInvalidID)
		})
	}
}

func TestThreadStore_ListOrderAndPreview(t *testing.T) {
	store := newStore(t)
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	older := model.NewThread(testModel(), "")
	older.Append(model.NewUserMessage("first question"))
	newer := model.NewThread(testModel(), "")
	newer.Title = "Go Generics Discussion"

	require.NoError(t, store.Save(older))
	require.NoError(t, store.Save(newer))

	// A corrupt file is skipped.
	require.NoError(t, os.WriteFile(filepath.Join(store.BaseDir, "broken.json"), []byte("{"), 0644))

	metas, err := store.List()
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, newer.ID, metas[0].ID)
	assert.Equal(t, "Go Generics Discussion", metas[0].Title)
	assert.Equal(t, older.ID, metas[1].ID)
	assert.Equal(t, "first question", metas[1].Preview)
	assert.Equal(t, 1, metas[1].MessageCount)
}

func TestThreadStore_MaxThreads(t *testing.T) {
	store := newStore(t)
	store.MaxThreads = 2
	base := time.Now()
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	var ids []string
	for i := 0; i < 3; i++ {
		th := model.NewThread(testModel(), "")
		ids = append(ids, th.ID)
		require.NoError(t, store.Save(th))
	}

	metas, err := store.List()
	require.NoError(t, err)
	require.Len(t, metas, 2)
	_, err = store.Get(ids[0])
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestThreadStore_Delete(t *testing.T) {
	store := newStore(t)
	th := model.NewThread(testModel(), "")
	require.NoError(t, store.Save(th))

	require.NoError(t, store.Delete(th.ID))
	assert.ErrorIs(t, store.Delete(th.ID), ErrThreadNotFound)
}

func TestThreadStore_ConcurrentSaves(t *testing.T) {
	store := newStore(t)
	th := model.NewThread(testModel(), "")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := th.Clone()
			c.Append(model.NewUserMessage("msg"))
			assert.NoError(t, store.Save(c))
		}(i)
	}
	wg.Wait()

	loaded, err := store.Get(th.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 1)
}
