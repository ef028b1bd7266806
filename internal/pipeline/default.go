// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/telemetry"
)

// Config holds the settings of the canonical pipeline.
type Config struct {
	UserName      string
	Relevance     RelevanceConfig
	SearchEnabled bool
	SearchResults int
	MaxURLs       int
}

// Deps are the collaborators of the canonical pipeline. Any may be nil;
// the step that needs it then does nothing.
type Deps struct {
	Documents DocumentSource
	Fetcher   PageFetcher
	Searcher  Searcher
	Threads   ThreadSaver
	Notifier  Notifier
	Logger    *zap.Logger
	Metrics   *telemetry.Metrics
	Now       func() time.Time
}

// Default builds the seven canonical steps in order.
func Default(cfg Config, deps Deps) *Pipeline {
	return New(deps.Logger, deps.Metrics,
		Template(cfg.UserName, deps.Now),
		Documents(deps.Documents),
		URLs(deps.Fetcher, deps.Notifier, cfg.MaxURLs, deps.Logger),
		Relevance(cfg.Relevance, deps.Logger),
		Search(deps.Searcher, cfg.SearchEnabled, cfg.SearchResults, deps.Logger),
		Bookkeeping(deps.Threads),
		FirstTurn(),
	)
}
