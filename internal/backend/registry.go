// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend maps configured providers to adapters.
package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jeranaias/rigrun-chat/internal/anthropic"
	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/llm"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/polaris"
)

// NewAdapter builds the adapter for p's family. Every value of
// model.Families has a case here.
func NewAdapter(p model.Provider, opts llm.Options) (llm.Adapter, error) {
	switch p.Family {
	case model.FamilyOllama:
		return ollama.New(p, opts), nil
	case model.FamilyOpenAI, model.FamilyGroq, model.FamilyCerebras, model.FamilyMistral, model.FamilyXAI:
		return cloud.New(p, opts)
	case model.FamilyAnthropic:
		return anthropic.New(p, opts), nil
	case model.FamilyPolaris:
		return polaris.New(p, opts), nil
	default:
		return nil, fmt.Errorf("provider %q: unknown backend family %q", p.ID, p.Family)
	}
}

// Registry holds one adapter per configured provider.
//
// The Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]model.Provider
	adapters  map[string]llm.Adapter
	cache     *llm.ModelCache
	opts      llm.Options
}

// NewRegistry builds adapters for providers. Model discovery of every
// adapter is served through cache when it is non-nil.
func NewRegistry(providers []model.Provider, cache *llm.ModelCache, opts llm.Options) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]model.Provider, len(providers)),
		adapters:  make(map[string]llm.Adapter, len(providers)),
		cache:     cache,
		opts:      opts,
	}
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces a provider.
func (r *Registry) Register(p model.Provider) error {
	if p.ID == "" {
		return fmt.Errorf("provider id is required")
	}
	a, err := NewAdapter(p, r.opts)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Key on identity and endpoint so a re-registered provider does not
	// read a stale listing.
	key := p.ID + "|" + p.Endpoint
	if r.cache != nil {
		if old, ok := r.providers[p.ID]; ok {
			r.cache.Invalidate(old.ID + "|" + old.Endpoint)
		}
	}
	r.providers[p.ID] = p
	r.adapters[p.ID] = llm.WithModelCache(a, key, r.cache)
	return nil
}

// Adapter returns the adapter for a provider id.
func (r *Registry) Adapter(providerID string) (llm.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[providerID]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", providerID, llm.ErrNotConfigured)
	}
	return a, nil
}

// ForModel returns the adapter serving m.
func (r *Registry) ForModel(m model.Model) (llm.Adapter, error) {
	return r.Adapter(m.Provider.ID)
}

// Provider returns a configured provider.
func (r *Registry) Provider(id string) (model.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// Providers returns every configured provider sorted by id.
func (r *Registry) Providers() []model.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
