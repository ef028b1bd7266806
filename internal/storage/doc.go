// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chat threads.
//
// Each thread is one JSON file named after its id, written atomically so a
// crash leaves either the previous or the new version on disk.
//
// # Usage
//
//	store, err := storage.NewThreadStore(dir)
//	err = store.Save(thread)
//
// List and load threads:
//
//	metas, err := store.List()
//	th, err := store.Get(metas[0].ID)
//
// # Storage Location
//
// Threads are stored in ~/.rigchat/threads/ unless configured otherwise.
package storage
