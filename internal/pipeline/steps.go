// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-chat/internal/llm"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// Step names, used in logs and metrics.
const (
	StepTemplate    = "template"
	StepDocuments   = "documents"
	StepURLs        = "urls"
	StepRelevance   = "relevance"
	StepSearch      = "search"
	StepBookkeeping = "bookkeeping"
	StepFirstTurn   = "first_turn"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// DocumentSource returns stored documents by id. Unknown ids are skipped.
type DocumentSource interface {
	Get(ctx context.Context, ids []string) ([]model.Document, error)
}

// PageFetcher extracts readable text from a URL.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (model.Page, error)
}

// Searcher queries a web search service.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error)
}

// ThreadSaver persists a thread.
type ThreadSaver interface {
	Save(t *model.Thread) error
}

// Notifier receives non-blocking user-visible warnings.
type Notifier interface {
	Warn(msg string)
}

// =============================================================================
// 1. TEMPLATE SUBSTITUTION
// =============================================================================

// Template rewrites {{user_name}}, {{date}}, {{time}}, {{thread_title}},
// {{persona_name}} and {{model_name}} in the system prompt.
func Template(userName string, now func() time.Time) Step {
	if now == nil {
		now = time.Now
	}
	return StepFunc(StepTemplate, func(ctx context.Context, tc TurnContext) (TurnContext, error) {
		if !strings.Contains(tc.SystemPrompt, "{{") {
			return tc, nil
		}
		t := now()
		personaName := ""
		if tc.Persona != nil {
			personaName = tc.Persona.DisplayName()
		}
		r := strings.NewReplacer(
			"{{user_name}}", userName,
			"{{date}}", t.Format("Monday, January 2, 2006"),
			"{{time}}", t.Format("15:04"),
			"{{thread_title}}", tc.Thread.Title,
			"{{persona_name}}", personaName,
			"{{model_name}}", tc.Model.Name(),
		)
		tc.SystemPrompt = r.Replace(tc.SystemPrompt)
		return tc, nil
	})
}

// =============================================================================
// 2. DOCUMENT CONTEXT
// =============================================================================

// Documents stages the text of documents attached to the persona or the
// thread.
func Documents(src DocumentSource) Step {
	return StepFunc(StepDocuments, func(ctx context.Context, tc TurnContext) (TurnContext, error) {
		if src == nil {
			return tc, nil
		}
		var ids []string
		if tc.Persona != nil {
			ids = append(ids, tc.Persona.DocumentIDs...)
		}
		for _, id := range tc.Thread.DocumentIDs() {
			if !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return tc, nil
		}

		docs, err := src.Get(ctx, ids)
		if err != nil {
			return tc, err
		}
		passages := make([]Passage, 0, len(docs))
		for _, d := range docs {
			if strings.TrimSpace(d.Content) == "" {
				continue
			}
			ref := d.Title
			if ref == "" {
				ref = d.ID
			}
			passages = append(passages, Passage{Source: SourceDocument, Ref: ref, Text: d.Content})
		}
		return tc.WithPassages(passages...), nil
	})
}

// =============================================================================
// 3. URL EXTRACTION
// =============================================================================

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'` + "`" + `]+`)

// ExtractURLs returns the distinct http(s) URLs in text, in order, without
// trailing punctuation.
func ExtractURLs(text string) []string {
	var out []string
	for _, u := range urlPattern.FindAllString(text, -1) {
		u = strings.TrimRight(u, ".,;:!?)]}")
		if !slices.Contains(out, u) {
			out = append(out, u)
		}
	}
	return out
}

// URLs fetches every URL in the user text concurrently. A failed URL emits
// one warning and does not affect the others.
func URLs(fetcher PageFetcher, notifier Notifier, maxURLs int, logger *zap.Logger) Step {
	logger = logging.For(logger, "pipeline.urls")
	return StepFunc(StepURLs, func(ctx context.Context, tc TurnContext) (TurnContext, error) {
		urls := ExtractURLs(tc.UserText)
		if fetcher == nil || len(urls) == 0 {
			return tc, nil
		}
		if maxURLs > 0 && len(urls) > maxURLs {
			urls = urls[:maxURLs]
		}

		pages := make([]*model.Page, len(urls))
		var g errgroup.Group
		for i, u := range urls {
			g.Go(func() error {
				page, err := fetcher.Fetch(ctx, u)
				if err != nil {
					logger.Warn("url fetch failed",
						logging.Fn("URLs"),
						zap.String("url", util.Preview(u, 120)),
						zap.Error(err),
					)
					if notifier != nil && ctx.Err() == nil {
						notifier.Warn(fmt.Sprintf("Could not read %s: %v", util.TruncateWidth(u, 80), err))
					}
					return nil
				}
				pages[i] = &page
				return nil
			})
		}
		_ = g.Wait()

		tc.URLs = append(slices.Clip(tc.URLs), urls...)
		var passages []Passage
		for _, p := range pages {
			if p == nil || strings.TrimSpace(p.Text) == "" {
				continue
			}
			passages = append(passages, Passage{Source: SourceWeb, Ref: p.URL, Text: p.Text})
		}
		return tc.WithPassages(passages...), nil
	})
}

// =============================================================================
// 4. RELEVANCE FILTERING
// =============================================================================

// RelevanceConfig tunes chunking and ranking.
type RelevanceConfig struct {
	ChunkSize        int
	SimilarityFloor  float64
	TopK             int
	EmbedBatchSize   int
	EmbedConcurrency int
	MergePolicy      MergePolicy
}

func (c RelevanceConfig) withDefaults() RelevanceConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = 16
	}
	if c.EmbedConcurrency <= 0 {
		c.EmbedConcurrency = 4
	}
	if c.MergePolicy == "" {
		c.MergePolicy = MergeScore
	}
	return c
}

// Relevance chunks staged passages, ranks them against the query and
// appends the kept chunks as one system message. Without embedding support
// the first chunks are kept in merge-policy order.
func Relevance(cfg RelevanceConfig, logger *zap.Logger) Step {
	cfg = cfg.withDefaults()
	logger = logging.For(logger, "pipeline.relevance")
	return StepFunc(StepRelevance, func(ctx context.Context, tc TurnContext) (TurnContext, error) {
		if len(tc.Passages) == 0 {
			return tc, nil
		}

		var cands []Candidate
		for _, p := range tc.Passages {
			for _, c := range Chunk(p.Text, cfg.ChunkSize) {
				cands = append(cands, Candidate{Source: p.Source, Ref: p.Ref, Text: c})
			}
		}
		if len(cands) == 0 {
			return tc, nil
		}

		kept, err := rankCandidates(ctx, tc, cands, cfg, logger)
		if err != nil {
			return tc, err
		}
		if len(kept) == 0 {
			return tc, nil
		}
		return tc.WithEnrichment(formatContext(kept)), nil
	})
}

func rankCandidates(ctx context.Context, tc TurnContext, cands []Candidate, cfg RelevanceConfig, logger *zap.Logger) ([]Candidate, error) {
	unranked := func() []Candidate {
		return capped(merge(cands, cfg.MergePolicy), cfg.TopK)
	}
	if tc.Adapter == nil || !tc.Capabilities().Has(model.CapEmbeddings) {
		return unranked(), nil
	}

	queryVecs, err := tc.Adapter.EmbedText(ctx, []string{tc.Query})
	if err != nil {
		return nil, err
	}
	if len(queryVecs) == 0 {
		logger.Debug("embeddings unavailable, keeping unranked chunks", logging.Fn("rankCandidates"))
		return unranked(), nil
	}

	vecs, err := embedAll(ctx, tc.Adapter, cands, cfg)
	if err != nil {
		return nil, err
	}
	for i := range cands {
		cands[i].Score = Cosine(queryVecs[0], vecs[i])
	}
	return Select(Rank(cands), cfg.SimilarityFloor, cfg.TopK, cfg.MergePolicy), nil
}

// embedAll embeds candidate texts in concurrent batches, preserving order.
func embedAll(ctx context.Context, a llm.Adapter, cands []Candidate, cfg RelevanceConfig) ([][]float64, error) {
	vecs := make([][]float64, len(cands))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.EmbedConcurrency)

	for start := 0; start < len(cands); start += cfg.EmbedBatchSize {
		end := min(start+cfg.EmbedBatchSize, len(cands))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range cands[start:end] {
				texts = append(texts, c.Text)
			}
			out, err := a.EmbedText(gctx, texts)
			if err != nil {
				return err
			}
			if len(out) != len(texts) {
				return fmt.Errorf("embedding batch returned %d vectors for %d inputs", len(out), len(texts))
			}
			copy(vecs[start:end], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vecs, nil
}

func formatContext(kept []Candidate) string {
	var b strings.Builder
	b.WriteString("Relevant context for the user's message:\n")
	for _, c := range kept {
		fmt.Fprintf(&b, "\n[%s: %s]\n%s\n", c.Source, c.Ref, c.Text)
	}
	return b.String()
}

// =============================================================================
// 5. WEB SEARCH AUGMENTATION
// =============================================================================

// Search asks the model whether the turn needs a web search and, if so,
// attaches the top results. It runs only when enabled, a searcher is
// configured, and the provider declares the search capability.
func Search(searcher Searcher, enabled bool, maxResults int, logger *zap.Logger) Step {
	if maxResults <= 0 {
		maxResults = 3
	}
	logger = logging.For(logger, "pipeline.search")
	return StepFunc(StepSearch, func(ctx context.Context, tc TurnContext) (TurnContext, error) {
		if !enabled || searcher == nil || tc.Adapter == nil || !tc.Capabilities().Has(model.CapSearch) {
			return tc, nil
		}

		intent, err := tc.Adapter.SendJSONMessage(ctx, tc.Query, tc.Model, llm.SearchIntentInstruction)
		if err != nil {
			logger.Warn("classification failed, skipping search",
				logging.Fn("Search"),
				zap.String("turn", tc.TurnID),
				zap.Error(llm.NewError(llm.KindClassification, "search", "classification failed", err)),
			)
			return tc, nil
		}
		tc.Intent = intent
		if !intent.SearchRequired {
			return tc, nil
		}

		query := intent.Query
		if query == "" {
			query = tc.Query
		}
		results, err := searcher.Search(ctx, query, maxResults)
		if err != nil {
			return tc, err
		}
		if len(results) > maxResults {
			results = results[:maxResults]
		}
		if len(results) == 0 {
			return tc, nil
		}
		return tc.WithEnrichment(formatResults(query, results)), nil
	})
}

func formatResults(query string, results []model.SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Web search results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s (%s)\n%s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return b.String()
}

// =============================================================================
// 6. BOOKKEEPING
// =============================================================================

// Bookkeeping appends the user message and placeholder to a thread clone
// and persists it before any backend call.
func Bookkeeping(store ThreadSaver) Step {
	return StepFunc(StepBookkeeping, func(ctx context.Context, tc TurnContext) (TurnContext, error) {
		next := tc.WithTurnAppended()
		if store != nil {
			if err := store.Save(next.Thread); err != nil {
				return tc, err
			}
		}
		return next, nil
	})
}

// =============================================================================
// 7. FIRST-TURN DETECTION
// =============================================================================

// FirstTurn flags the thread's first exchange.
func FirstTurn() Step {
	return StepFunc(StepFirstTurn, func(ctx context.Context, tc TurnContext) (TurnContext, error) {
		n := tc.Thread.ConversationLen()
		if !tc.Persisted {
			n += 2
		}
		tc.FirstExchange = n == 2
		return tc, nil
	})
}
