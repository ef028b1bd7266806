// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigchat configuration.
type Config struct {
	General   GeneralConfig    `toml:"general"`
	Providers []ProviderConfig `toml:"providers"`
	Pipeline  PipelineConfig   `toml:"pipeline"`
	Search    SearchConfig     `toml:"search"`
	Fetch     FetchConfig      `toml:"fetch"`
	Models    ModelsConfig     `toml:"models"`
	Storage   StorageConfig    `toml:"storage"`
	Logging   LoggingConfig    `toml:"logging"`
	Metrics   MetricsConfig    `toml:"metrics"`
}

// GeneralConfig selects what a new thread starts with.
type GeneralConfig struct {
	DefaultProvider string `toml:"default_provider"`
	DefaultModel    string `toml:"default_model"`
	DefaultPersona  string `toml:"default_persona"`

	// UserName fills the {{user_name}} placeholder in system prompts.
	UserName string `toml:"user_name"`

	// Offline restricts rigchat to localhost providers and disables web
	// fetch and search.
	Offline bool `toml:"offline"`
}

// ProviderConfig describes one configured backend.
type ProviderConfig struct {
	ID       string `toml:"id"`
	Family   string `toml:"family"`
	Endpoint string `toml:"endpoint,omitempty"`

	// APIKey falls back to the family's conventional environment variable
	// when empty.
	APIKey string `toml:"api_key,omitempty"`

	Capabilities   []string `toml:"capabilities"`
	EmbeddingModel string   `toml:"embedding_model,omitempty"`

	// Models lists models offered without asking the provider.
	Models []string `toml:"models,omitempty"`
}

// PipelineConfig tunes the enrichment pipeline.
type PipelineConfig struct {
	ChunkSize        int     `toml:"chunk_size"`
	SimilarityFloor  float64 `toml:"similarity_floor"`
	TopK             int     `toml:"top_k"`
	EmbedBatchSize   int     `toml:"embed_batch_size"`
	EmbedConcurrency int     `toml:"embed_concurrency"`

	// MergePolicy is one of score, documents_first, web_first, interleave.
	MergePolicy string `toml:"merge_policy"`

	// MentionWindow caps the history slice sent on mention-scoped turns.
	MentionWindow int `toml:"mention_window"`

	// MaxURLs caps how many URLs of one message are fetched.
	MaxURLs int `toml:"max_urls"`
}

// SearchConfig controls the web search step.
type SearchConfig struct {
	Enabled    bool   `toml:"enabled"`
	BaseURL    string `toml:"base_url"`
	MaxResults int    `toml:"max_results"`
	Timeout    string `toml:"timeout"`
}

// FetchConfig controls URL extraction.
type FetchConfig struct {
	// MaxSize is a human byte size such as "2MB".
	MaxSize       string  `toml:"max_size"`
	Timeout       string  `toml:"timeout"`
	MaxRedirects  int     `toml:"max_redirects"`
	RatePerSecond float64 `toml:"rate_per_second"`
	AllowPrivate  bool    `toml:"allow_private"`
	UserAgent     string  `toml:"user_agent,omitempty"`
}

// ModelsConfig controls model discovery.
type ModelsConfig struct {
	CacheTTL string `toml:"cache_ttl"`
}

// StorageConfig holds on-disk locations. Empty values resolve under the
// config directory.
type StorageConfig struct {
	ThreadsDir  string `toml:"threads_dir"`
	DocumentsDB string `toml:"documents_db"`
	PersonasDir string `toml:"personas_dir"`
	MaxThreads  int    `toml:"max_threads"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns the default configuration: one local Ollama provider.
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			DefaultProvider: "local",
			DefaultModel:    "llama3.2",
			DefaultPersona:  "assistant",
			UserName:        defaultUserName(),
		},
		Providers: []ProviderConfig{{
			ID:             "local",
			Family:         "ollama",
			Endpoint:       "http://127.0.0.1:11434",
			Capabilities:   []string{"chat", "embeddings", "search"},
			EmbeddingModel: "nomic-embed-text",
		}},
		Pipeline: PipelineConfig{
			ChunkSize:        800,
			SimilarityFloor:  0.3,
			TopK:             5,
			EmbedBatchSize:   16,
			EmbedConcurrency: 4,
			MergePolicy:      "score",
			MentionWindow:    6,
			MaxURLs:          3,
		},
		Search: SearchConfig{
			Enabled:    true,
			BaseURL:    "https://html.duckduckgo.com/html/",
			MaxResults: 5,
			Timeout:    "15s",
		},
		Fetch: FetchConfig{
			MaxSize:       "2MiB",
			Timeout:       "15s",
			MaxRedirects:  5,
			RatePerSecond: 4,
		},
		Models: ModelsConfig{CacheTTL: "5m"},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

func defaultUserName() string {
	for _, key := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "User"
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions tightens config files to 0600 since they may
// hold API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads ~/.rigchat/config.toml when it exists, otherwise starts from
// defaults. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPathTOML()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr == nil {
		return LoadFromPath(path)
	}
	return finish(Default())
}

// LoadFromPath loads configuration from a specific file with full
// validation. Keys absent from the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	cfg := Default()
	// A [[providers]] table in the file replaces the default list.
	cfg.Providers = nil
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
	}
	if !md.IsDefined("providers") {
		cfg.Providers = Default().Providers
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# rigchat configuration file\n")
	buf.WriteString("# Generated by rigchat - edit with care\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// String renders the configuration as TOML with API keys masked.
func (c *Config) String() string {
	masked := c.Clone()
	for i := range masked.Providers {
		if masked.Providers[i].APIKey != "" {
			masked.Providers[i].APIKey = "****"
		}
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(masked); err != nil {
		return fmt.Sprintf("error encoding config: %v", err)
	}
	return buf.String()
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Providers = make([]ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		p.Capabilities = append([]string(nil), p.Capabilities...)
		p.Models = append([]string(nil), p.Models...)
		out.Providers[i] = p
	}
	return &out
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns ValidateErrors listing
// every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// ==========================================================================
	// Providers
	// ==========================================================================

	if len(c.Providers) == 0 {
		add("providers", "at least one provider is required")
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		field := fmt.Sprintf("providers[%d]", i)
		if p.ID == "" {
			add(field+".id", "must not be empty")
		} else if seen[p.ID] {
			add(field+".id", "duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true

		if _, err := p.toProvider(c.Search.Enabled); err != nil {
			add(field, "%v", err)
		}
		if p.Endpoint != "" {
			if u, err := url.Parse(p.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				add(field+".endpoint", "invalid URL %q", p.Endpoint)
			}
		}
	}
	if c.General.DefaultProvider != "" && !seen[c.General.DefaultProvider] {
		add("general.default_provider", "unknown provider %q", c.General.DefaultProvider)
	}

	// ==========================================================================
	// Pipeline
	// ==========================================================================

	if c.Pipeline.SimilarityFloor < -1 || c.Pipeline.SimilarityFloor > 1 {
		add("pipeline.similarity_floor", "must be between -1 and 1, got %g", c.Pipeline.SimilarityFloor)
	}
	if c.Pipeline.ChunkSize < 50 {
		add("pipeline.chunk_size", "must be at least 50, got %d", c.Pipeline.ChunkSize)
	}
	if c.Pipeline.EmbedConcurrency > 32 {
		add("pipeline.embed_concurrency", "must be at most 32, got %d", c.Pipeline.EmbedConcurrency)
	}
	if !validMergePolicies[strings.ToLower(c.Pipeline.MergePolicy)] {
		add("pipeline.merge_policy", "invalid policy %q, must be one of: score, documents_first, web_first, interleave", c.Pipeline.MergePolicy)
	}

	// ==========================================================================
	// Search / Fetch / Models
	// ==========================================================================

	if c.Search.Enabled {
		if u, err := url.Parse(c.Search.BaseURL); err != nil || u.Host == "" {
			add("search.base_url", "invalid URL %q", c.Search.BaseURL)
		}
	}
	checkDuration := func(field, value string) {
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			add(field, "invalid duration %q", value)
		}
	}
	checkDuration("search.timeout", c.Search.Timeout)
	checkDuration("fetch.timeout", c.Fetch.Timeout)
	checkDuration("models.cache_ttl", c.Models.CacheTTL)

	if n, err := humanize.ParseBytes(c.Fetch.MaxSize); err != nil || n == 0 {
		add("fetch.max_size", "invalid size %q", c.Fetch.MaxSize)
	}
	if c.Fetch.RatePerSecond <= 0 {
		add("fetch.rate_per_second", "must be positive")
	}

	// ==========================================================================
	// Logging
	// ==========================================================================

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level", "invalid level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		add("logging.format", "invalid format %q, must be json or console", c.Logging.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

var validMergePolicies = map[string]bool{
	"score": true, "documents_first": true, "web_first": true, "interleave": true,
}

// SetDefaults fills zero-value fields from Default. Providers are left as
// configured.
func (c *Config) SetDefaults() {
	d := Default()

	if c.General.DefaultProvider == "" && len(c.Providers) > 0 {
		c.General.DefaultProvider = c.Providers[0].ID
	}
	if c.General.DefaultPersona == "" {
		c.General.DefaultPersona = d.General.DefaultPersona
	}
	if c.General.UserName == "" {
		c.General.UserName = d.General.UserName
	}

	if c.Pipeline.ChunkSize == 0 {
		c.Pipeline.ChunkSize = d.Pipeline.ChunkSize
	}
	if c.Pipeline.TopK <= 0 {
		c.Pipeline.TopK = d.Pipeline.TopK
	}
	if c.Pipeline.EmbedBatchSize <= 0 {
		c.Pipeline.EmbedBatchSize = d.Pipeline.EmbedBatchSize
	}
	if c.Pipeline.EmbedConcurrency <= 0 {
		c.Pipeline.EmbedConcurrency = d.Pipeline.EmbedConcurrency
	}
	if c.Pipeline.MergePolicy == "" {
		c.Pipeline.MergePolicy = d.Pipeline.MergePolicy
	}
	if c.Pipeline.MentionWindow <= 0 {
		c.Pipeline.MentionWindow = d.Pipeline.MentionWindow
	}
	if c.Pipeline.MaxURLs <= 0 {
		c.Pipeline.MaxURLs = d.Pipeline.MaxURLs
	}

	if c.Search.BaseURL == "" {
		c.Search.BaseURL = d.Search.BaseURL
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = d.Search.MaxResults
	}
	if c.Search.Timeout == "" {
		c.Search.Timeout = d.Search.Timeout
	}

	if c.Fetch.MaxSize == "" {
		c.Fetch.MaxSize = d.Fetch.MaxSize
	}
	if c.Fetch.Timeout == "" {
		c.Fetch.Timeout = d.Fetch.Timeout
	}
	if c.Fetch.MaxRedirects <= 0 {
		c.Fetch.MaxRedirects = d.Fetch.MaxRedirects
	}
	if c.Fetch.RatePerSecond == 0 {
		c.Fetch.RatePerSecond = d.Fetch.RatePerSecond
	}

	if c.Models.CacheTTL == "" {
		c.Models.CacheTTL = d.Models.CacheTTL
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RIGCHAT_PROVIDER: overrides general.default_provider
//   - RIGCHAT_MODEL: overrides general.default_model
//   - RIGCHAT_PERSONA: overrides general.default_persona
//   - RIGCHAT_USER_NAME: overrides general.user_name
//   - RIGCHAT_OLLAMA_URL: overrides the endpoint of every ollama provider
//   - RIGCHAT_SEARCH: "1"/"true" or "0"/"false" toggles search.enabled
//   - RIGCHAT_OFFLINE: "1"/"true" enables general.offline
//   - RIGCHAT_MERGE_POLICY: overrides pipeline.merge_policy
//   - RIGCHAT_LOG_LEVEL: overrides logging.level
//   - RIGCHAT_METRICS_ADDR: overrides metrics.addr
//
// Providers without an api_key then take the family's conventional
// variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RIGCHAT_PROVIDER"); v != "" {
		c.General.DefaultProvider = v
	}
	if v := os.Getenv("RIGCHAT_MODEL"); v != "" {
		c.General.DefaultModel = v
	}
	if v := os.Getenv("RIGCHAT_PERSONA"); v != "" {
		c.General.DefaultPersona = v
	}
	if v := os.Getenv("RIGCHAT_USER_NAME"); v != "" {
		c.General.UserName = v
	}
	if v := os.Getenv("RIGCHAT_OLLAMA_URL"); v != "" {
		for i := range c.Providers {
			if strings.EqualFold(c.Providers[i].Family, "ollama") {
				c.Providers[i].Endpoint = v
			}
		}
	}
	if v := os.Getenv("RIGCHAT_SEARCH"); v != "" {
		c.Search.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("RIGCHAT_OFFLINE"); v != "" {
		c.General.Offline = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("RIGCHAT_MERGE_POLICY"); v != "" {
		c.Pipeline.MergePolicy = v
	}
	if v := os.Getenv("RIGCHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RIGCHAT_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		if p.APIKey != "" {
			continue
		}
		if env := CredentialEnv(p.Family); env != "" {
			p.APIKey = os.Getenv(env)
		}
	}
}

// credentialEnv maps a family to its conventional API key variable.
var credentialEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"groq":      "GROQ_API_KEY",
	"cerebras":  "CEREBRAS_API_KEY",
	"mistral":   "MISTRAL_API_KEY",
	"xai":       "XAI_API_KEY",
	"polaris":   "POLARIS_API_KEY",
}

// CredentialEnv returns the environment variable holding the API key for
// family, or "" when the family needs none.
func CredentialEnv(family string) string {
	return credentialEnv[strings.ToLower(family)]
}
