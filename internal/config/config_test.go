// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/pipeline"
)

// clearEnv blanks every variable ApplyEnvOverrides reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"RIGCHAT_PROVIDER", "RIGCHAT_MODEL", "RIGCHAT_PERSONA", "RIGCHAT_USER_NAME",
		"RIGCHAT_OLLAMA_URL", "RIGCHAT_SEARCH", "RIGCHAT_MERGE_POLICY",
		"RIGCHAT_LOG_LEVEL", "RIGCHAT_METRICS_ADDR", "RIGCHAT_OFFLINE",
	} {
		t.Setenv(key, "")
	}
	for _, env := range credentialEnv {
		t.Setenv(env, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	m, err := cfg.DefaultModel("", "")
	require.NoError(t, err)
	assert.Equal(t, "llama3.2", m.ID)
	assert.Equal(t, model.FamilyOllama, m.Provider.Family)
	assert.True(t, m.Provider.Capabilities.Has(model.CapEmbeddings))
}

func TestDefault_SearchReachable(t *testing.T) {
	cfg := Default()
	cfg.SetDefaults()
	require.True(t, cfg.PipelineSettings().SearchEnabled)

	m, err := cfg.DefaultModel("", "")
	require.NoError(t, err)
	assert.True(t, m.Provider.Capabilities.Has(model.CapSearch), "default provider can run the search step")
}

func TestProviderCapabilities_Fallback(t *testing.T) {
	tests := []struct {
		name       string
		caps       []string
		search     bool
		wantSearch bool
	}{
		{name: "unset with search on", search: true, wantSearch: true},
		{name: "unset with search off", search: false, wantSearch: false},
		{name: "explicit list wins", caps: []string{"chat"}, search: true, wantSearch: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Providers[0].Capabilities = tc.caps
			cfg.Search.Enabled = tc.search

			providers, err := cfg.ModelProviders()
			require.NoError(t, err)
			require.Len(t, providers, 1)
			assert.True(t, providers[0].Capabilities.Has(model.CapChat))
			assert.Equal(t, tc.wantSearch, providers[0].Capabilities.Has(model.CapSearch))
		})
	}
}

func TestLoadFromPath(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")

	path := writeConfig(t, `
[general]
default_provider = "openai"
default_model = "gpt-4o"
user_name = "Ada"

[[providers]]
id = "openai"
family = "openai"
capabilities = ["chat", "embeddings", "search"]

[[providers]]
id = "claude"
family = "anthropic"
api_key = "sk-file"

[pipeline]
merge_policy = "interleave"
top_k = 3

[fetch]
max_size = "512KiB"

[search]
enabled = false
`)
	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "Ada", cfg.General.UserName)
	require.Len(t, cfg.Providers, 2, "file providers replace the default list")
	assert.Equal(t, "sk-env", cfg.Providers[0].APIKey, "key falls back to the conventional variable")
	assert.Equal(t, "sk-file", cfg.Providers[1].APIKey)

	// Untouched keys keep their defaults.
	assert.Equal(t, 800, cfg.Pipeline.ChunkSize)
	assert.Equal(t, "15s", cfg.Fetch.Timeout)

	ps := cfg.PipelineSettings()
	assert.Equal(t, pipeline.MergeInterleave, ps.Relevance.MergePolicy)
	assert.Equal(t, 3, ps.Relevance.TopK)
	assert.False(t, ps.SearchEnabled)
	assert.Equal(t, "Ada", ps.UserName)

	fc, err := cfg.FetchSettings()
	require.NoError(t, err)
	assert.EqualValues(t, 512*1024, fc.MaxSize)
	assert.Equal(t, 15*time.Second, fc.Timeout)

	m, err := cfg.DefaultModel("", "")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", m.ID)
	assert.True(t, m.Provider.Capabilities.Has(model.CapSearch))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoadFromPath_KeepsDefaultProviders(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFromPath(writeConfig(t, "[logging]\nlevel = \"debug\"\n"))
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "local", cfg.Providers[0].ID)
	assert.Equal(t, "debug", cfg.LoggingSettings().Level)
}

func TestLoadFromPath_UnknownKey(t *testing.T) {
	clearEnv(t)
	_, err := LoadFromPath(writeConfig(t, "[pipeline]\ntopk = 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.topk")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"no providers", func(c *Config) { c.Providers = nil }, "providers"},
		{"unknown family", func(c *Config) { c.Providers[0].Family = "bard" }, "providers[0]"},
		{"bad capability", func(c *Config) { c.Providers[0].Capabilities = []string{"telepathy"} }, "providers[0]"},
		{"duplicate id", func(c *Config) { c.Providers = append(c.Providers, c.Providers[0]) }, "providers[1].id"},
		{"bad endpoint", func(c *Config) { c.Providers[0].Endpoint = "localhost:11434" }, "providers[0].endpoint"},
		{"unknown default provider", func(c *Config) { c.General.DefaultProvider = "nope" }, "general.default_provider"},
		{"floor out of range", func(c *Config) { c.Pipeline.SimilarityFloor = 2 }, "pipeline.similarity_floor"},
		{"merge policy", func(c *Config) { c.Pipeline.MergePolicy = "random" }, "pipeline.merge_policy"},
		{"fetch size", func(c *Config) { c.Fetch.MaxSize = "huge" }, "fetch.max_size"},
		{"timeout", func(c *Config) { c.Search.Timeout = "soon" }, "search.timeout"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()

			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs), "got %v", err)
			fields := make([]string, len(verrs))
			for i, v := range verrs {
				fields[i] = v.Field
			}
			assert.Contains(t, fields, tc.field)
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RIGCHAT_MODEL", "qwen2.5")
	t.Setenv("RIGCHAT_OLLAMA_URL", "http://gpu-box:11434")
	t.Setenv("RIGCHAT_SEARCH", "false")
	t.Setenv("RIGCHAT_MERGE_POLICY", "web_first")
	t.Setenv("RIGCHAT_METRICS_ADDR", ":9091")
	t.Setenv("RIGCHAT_OFFLINE", "true")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "qwen2.5", cfg.General.DefaultModel)
	assert.Equal(t, "http://gpu-box:11434", cfg.Providers[0].Endpoint)
	assert.False(t, cfg.Search.Enabled)
	assert.Equal(t, "web_first", cfg.Pipeline.MergePolicy)
	assert.Equal(t, ":9091", cfg.Metrics.Addr)
	assert.True(t, cfg.General.Offline)
	assert.Empty(t, cfg.Providers[0].APIKey, "ollama has no conventional key")
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.General.UserName = "Grace"
	cfg.Providers = append(cfg.Providers, ProviderConfig{ID: "groq", Family: "groq", Models: []string{"llama-3.1-8b-instant"}})
	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "Grace", loaded.General.UserName)
	require.Len(t, loaded.Providers, 2)
	assert.Equal(t, []string{"llama-3.1-8b-instant"}, loaded.Providers[1].Models)
}

func TestString_MasksKeys(t *testing.T) {
	cfg := Default()
	cfg.Providers[0].APIKey = "secret-value"
	out := cfg.String()
	assert.NotContains(t, out, "secret-value")
	assert.Contains(t, out, "****")
	assert.Equal(t, "secret-value", cfg.Providers[0].APIKey, "String must not modify the config")
}

func TestStoragePaths(t *testing.T) {
	cfg := Default()
	cfg.Storage.PersonasDir = "/srv/personas"
	threads, docs, personas := cfg.StoragePaths("/home/u/.rigchat")
	assert.Equal(t, filepath.Join("/home/u/.rigchat", "threads"), threads)
	assert.Equal(t, filepath.Join("/home/u/.rigchat", "documents.db"), docs)
	assert.Equal(t, "/srv/personas", personas)
}
