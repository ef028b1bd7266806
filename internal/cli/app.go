// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/assembler"
	"github.com/jeranaias/rigrun-chat/internal/backend"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/dispatch"
	"github.com/jeranaias/rigrun-chat/internal/docstore"
	"github.com/jeranaias/rigrun-chat/internal/fetch"
	"github.com/jeranaias/rigrun-chat/internal/llm"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/notify"
	"github.com/jeranaias/rigrun-chat/internal/offline"
	"github.com/jeranaias/rigrun-chat/internal/orchestrator"
	"github.com/jeranaias/rigrun-chat/internal/persona"
	"github.com/jeranaias/rigrun-chat/internal/pipeline"
	"github.com/jeranaias/rigrun-chat/internal/search"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
)

func dirOf(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Dir(path)
	}
	return filepath.Dir(abs)
}

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// app holds the collaborators one command needs.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *telemetry.Metrics
	registry *backend.Registry
	threads  *storage.ThreadStore
	docs     *docstore.Store
	personas *persona.Store
	notices  *notify.Queue
	policy   offline.Policy

	closers []func()
}

// newApp opens the stores and the provider registry.
func newApp(o *Options) (*app, error) {
	dir, err := o.configDir()
	if err != nil {
		return nil, err
	}
	threadsDir, docsPath, personasDir := o.cfg.StoragePaths(dir)

	a := &app{
		cfg:     o.cfg,
		logger:  o.logger,
		notices: notify.New(notify.DefaultBuffer),
		policy:  offline.Policy{Enabled: o.cfg.General.Offline},
	}

	reg := prometheus.NewRegistry()
	a.metrics = telemetry.New(reg)
	if addr := o.cfg.Metrics.Addr; addr != "" {
		a.serveMetrics(addr, reg)
	}

	providers, err := o.cfg.ModelProviders()
	if err != nil {
		return nil, err
	}
	providers, blocked := a.policy.FilterProviders(providers)
	if len(blocked) > 0 {
		a.logger.Info("offline mode: providers disabled", logging.Fn("newApp"), zap.Strings("providers", blocked))
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("offline mode: no localhost provider configured (disabled: %s)", strings.Join(blocked, ", "))
	}
	a.registry, err = backend.NewRegistry(providers, llm.NewModelCache(o.cfg.CacheTTL(), nil), llm.Options{
		Logger:  o.logger,
		Metrics: a.metrics,
	})
	if err != nil {
		return nil, err
	}

	if a.threads, err = storage.NewThreadStore(threadsDir); err != nil {
		return nil, err
	}
	a.threads.MaxThreads = o.cfg.Storage.MaxThreads

	if a.personas, err = persona.Load(personasDir, o.logger); err != nil {
		return nil, err
	}

	if a.docs, err = docstore.Open(docsPath, o.logger); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { a.docs.Close() })
	return a, nil
}

func (a *app) serveMetrics(addr string, g prometheus.Gatherer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	log := logging.For(a.logger, "metrics")
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", logging.Fn("serveMetrics"), zap.String("addr", addr), zap.Error(err))
		}
	}()
	log.Info("serving metrics", logging.Fn("serveMetrics"), zap.String("addr", addr))

	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
}

// orchestrator builds the turn orchestrator with the canonical pipeline.
func (a *app) orchestrator(sink dispatch.Sink) (*orchestrator.Orchestrator, error) {
	fc, err := a.cfg.FetchSettings()
	if err != nil {
		return nil, err
	}
	var (
		fetcher  pipeline.PageFetcher
		searcher pipeline.Searcher
	)
	if a.policy.CheckWebAllowed() == nil {
		f := fetch.New(fc, a.logger)
		a.closers = append(a.closers, f.Close)
		fetcher = f
		if a.cfg.Search.Enabled {
			searcher = search.NewDuckDuckGo(a.cfg.SearchSettings(), a.logger)
		}
	}

	p := pipeline.Default(a.cfg.PipelineSettings(), pipeline.Deps{
		Documents: a.docs,
		Fetcher:   fetcher,
		Searcher:  searcher,
		Threads:   a.threads,
		Notifier:  a.notices,
		Logger:    a.logger,
		Metrics:   a.metrics,
	})

	return orchestrator.New(orchestrator.Config{
		Assembler: assembler.New(a.personas, a.cfg.Pipeline.MentionWindow),
		Pipeline:  p,
		Adapters:  a.registry,
		Sink:      sink,
		Threads:   a.threads,
		Notifier:  a.notices,
		Logger:    a.logger,
		Metrics:   a.metrics,
	}), nil
}

// Close releases everything newApp and orchestrator opened, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
