// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jeranaias/rigrun-chat/internal/fetch"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/pipeline"
	"github.com/jeranaias/rigrun-chat/internal/search"
)

// Settings accessors convert the validated file form into the types the
// components take. They assume Validate has passed.

// ErrNoDefaultModel is returned when no model is configured for new threads.
var ErrNoDefaultModel = errors.New("no default model configured")

// toProvider converts p. A provider without a capabilities list can chat,
// and also classify search intent when web search is enabled.
func (p ProviderConfig) toProvider(searchEnabled bool) (model.Provider, error) {
	family, err := model.ParseFamily(p.Family)
	if err != nil {
		return model.Provider{}, err
	}
	caps := []string{"chat"}
	if searchEnabled {
		caps = append(caps, "search")
	}
	if len(p.Capabilities) > 0 {
		caps = p.Capabilities
	}
	c, err := model.ParseCapabilities(caps)
	if err != nil {
		return model.Provider{}, err
	}
	return model.Provider{
		ID:             p.ID,
		Family:         family,
		Endpoint:       strings.TrimRight(p.Endpoint, "/"),
		APIKey:         p.APIKey,
		Capabilities:   c,
		EmbeddingModel: p.EmbeddingModel,
	}, nil
}

// ModelProviders returns every configured provider.
func (c *Config) ModelProviders() ([]model.Provider, error) {
	out := make([]model.Provider, 0, len(c.Providers))
	for _, pc := range c.Providers {
		p, err := pc.toProvider(c.Search.Enabled)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", pc.ID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// ProviderConfig returns the configured entry for id.
func (c *Config) ProviderConfig(id string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// DefaultModel resolves the model new threads start with. modelID and
// providerID override the configured defaults when non-empty.
func (c *Config) DefaultModel(providerID, modelID string) (model.Model, error) {
	if providerID == "" {
		providerID = c.General.DefaultProvider
	}
	pc, ok := c.ProviderConfig(providerID)
	if !ok {
		return model.Model{}, fmt.Errorf("unknown provider %q", providerID)
	}
	if modelID == "" {
		modelID = c.General.DefaultModel
	}
	if modelID == "" && len(pc.Models) > 0 {
		modelID = pc.Models[0]
	}
	if modelID == "" {
		return model.Model{}, ErrNoDefaultModel
	}
	p, err := pc.toProvider(c.Search.Enabled)
	if err != nil {
		return model.Model{}, err
	}
	return model.Model{ID: modelID, Provider: p}, nil
}

// PipelineSettings returns the enrichment pipeline configuration.
func (c *Config) PipelineSettings() pipeline.Config {
	policy, err := pipeline.ParseMergePolicy(c.Pipeline.MergePolicy)
	if err != nil {
		policy = pipeline.MergeScore
	}
	return pipeline.Config{
		UserName: c.General.UserName,
		Relevance: pipeline.RelevanceConfig{
			ChunkSize:        c.Pipeline.ChunkSize,
			SimilarityFloor:  c.Pipeline.SimilarityFloor,
			TopK:             c.Pipeline.TopK,
			EmbedBatchSize:   c.Pipeline.EmbedBatchSize,
			EmbedConcurrency: c.Pipeline.EmbedConcurrency,
			MergePolicy:      policy,
		},
		SearchEnabled: c.Search.Enabled,
		SearchResults: c.Search.MaxResults,
		MaxURLs:       c.Pipeline.MaxURLs,
	}
}

// FetchSettings returns the URL fetcher configuration.
func (c *Config) FetchSettings() (fetch.Config, error) {
	size, err := humanize.ParseBytes(c.Fetch.MaxSize)
	if err != nil {
		return fetch.Config{}, fmt.Errorf("fetch.max_size: %w", err)
	}
	timeout, err := time.ParseDuration(c.Fetch.Timeout)
	if err != nil {
		return fetch.Config{}, fmt.Errorf("fetch.timeout: %w", err)
	}
	return fetch.Config{
		MaxSize:       int64(size),
		Timeout:       timeout,
		MaxRedirects:  c.Fetch.MaxRedirects,
		RatePerSecond: c.Fetch.RatePerSecond,
		UserAgent:     c.Fetch.UserAgent,
		AllowPrivate:  c.Fetch.AllowPrivate,
	}, nil
}

// SearchSettings returns the DuckDuckGo searcher configuration.
func (c *Config) SearchSettings() search.Config {
	timeout, _ := time.ParseDuration(c.Search.Timeout)
	return search.Config{
		BaseURL:    c.Search.BaseURL,
		Timeout:    timeout,
		MaxResults: c.Search.MaxResults,
	}
}

// CacheTTL returns the model discovery cache lifetime.
func (c *Config) CacheTTL() time.Duration {
	d, _ := time.ParseDuration(c.Models.CacheTTL)
	return d
}

// LoggingSettings returns the logger configuration.
func (c *Config) LoggingSettings() logging.Config {
	return logging.Config{Level: c.Logging.Level, Format: c.Logging.Format, File: c.Logging.File}
}

// StoragePaths resolves the storage locations, defaulting under dir.
func (c *Config) StoragePaths(dir string) (threads, documents, personas string) {
	threads, documents, personas = c.Storage.ThreadsDir, c.Storage.DocumentsDB, c.Storage.PersonasDir
	if threads == "" {
		threads = filepath.Join(dir, "threads")
	}
	if documents == "" {
		documents = filepath.Join(dir, "documents.db")
	}
	if personas == "" {
		personas = filepath.Join(dir, "personas")
	}
	return threads, documents, personas
}
