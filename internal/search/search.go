// Package search composes lexical and semantic retrieval over the
// event store. Lexical ranking comes from the full-text index; semantic
// ranking is a cosine-similarity scan over cached embedding vectors,
// with missing vectors computed lazily on first encounter. Hybrid
// queries merge both lists by Reciprocal Rank Fusion.
package search

import (
	"context"
	"fmt"
	"math"
	"sort"

	"keyrecall/internal/embedding"
	"keyrecall/internal/logging"
	"keyrecall/internal/metrics"
	"keyrecall/internal/store"
)

// rrfK dampens the influence of top ranks during fusion.
const rrfK = 60

// embedBatchSize bounds how many texts go to the encoder per request.
const embedBatchSize = 64

// MinScoreDisabled turns the score floor off entirely. A MinScore of
// zero means "use the default"; any negative value disables filtering.
const MinScoreDisabled = -1

// Options tune result counts and fusion weights.
type Options struct {
	Limit          int
	TextWeight     float64
	SemanticWeight float64
	MinScore       float64
}

// DefaultOptions returns the standard retrieval settings.
func DefaultOptions() Options {
	return Options{
		Limit:          50,
		TextWeight:     0.7,
		SemanticWeight: 0.3,
		MinScore:       0.1,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Limit <= 0 {
		o.Limit = d.Limit
	}
	if o.TextWeight <= 0 {
		o.TextWeight = d.TextWeight
	}
	if o.SemanticWeight <= 0 {
		o.SemanticWeight = d.SemanticWeight
	}
	if o.MinScore < 0 {
		o.MinScore = 0
	} else if o.MinScore == 0 {
		o.MinScore = d.MinScore
	}
	return o
}

// Result is one ranked hit. Score semantics depend on the query kind:
// bm25-derived for text, cosine similarity for semantic, fused RRF
// score for hybrid.
type Result struct {
	EventID     int64   `json:"event_id"`
	Text        string  `json:"text"`
	Timestamp   int64   `json:"timestamp"`
	Score       float64 `json:"score"`
	Application string  `json:"application,omitempty"`
	WindowTitle string  `json:"window_title,omitempty"`
}

// Engine serves search queries against a Store.
type Engine struct {
	store   *store.Store
	encoder embedding.Encoder
	opts    Options
	log     *logging.Logger
	metrics *metrics.PipelineMetrics
}

// New builds an Engine. A nil encoder disables semantic ranking; hybrid
// queries then degrade to lexical-only results.
func New(s *store.Store, enc embedding.Encoder, opts Options, log *logging.Logger, pm *metrics.PipelineMetrics) *Engine {
	if enc == nil {
		enc = embedding.Disabled{}
	}
	if log == nil {
		log = logging.Default()
	}
	if pm == nil {
		pm = metrics.NewPipelineMetrics(nil)
	}
	return &Engine{
		store:   s,
		encoder: enc,
		opts:    opts.withDefaults(),
		log:     log.WithComponent("search"),
		metrics: pm,
	}
}

// SearchText runs a lexical full-text query. The full-text engine's
// bm25 rank is negative with better matches more negative; it is
// negated here so callers always see higher-is-better scores.
func (e *Engine) SearchText(ctx context.Context, query string, limit int) ([]Result, error) {
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = e.opts.Limit
	}
	defer e.observe()()

	hits, err := e.store.SearchText(query, limit)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			EventID:     h.ID,
			Text:        h.Content,
			Timestamp:   h.Timestamp,
			Score:       -h.Score,
			Application: h.Application,
			WindowTitle: h.WindowTitle,
		})
	}
	return results, nil
}

// SearchSemantic ranks stored events by cosine similarity to the query
// embedding. Events indexed before an encoder was configured get their
// vectors computed here on first encounter. Without an encoder the
// result is empty, not an error.
func (e *Engine) SearchSemantic(ctx context.Context, query string, limit int) ([]Result, error) {
	return e.searchSemantic(ctx, query, limit, e.opts.MinScore)
}

func (e *Engine) searchSemantic(ctx context.Context, query string, limit int, minScore float64) ([]Result, error) {
	if query == "" {
		return nil, nil
	}
	if ok, reason := e.encoder.Available(); !ok {
		e.log.Debug("semantic search skipped", "reason", reason)
		return nil, nil
	}
	if limit <= 0 {
		limit = e.opts.Limit
	}
	defer e.observe()()

	queryVecs, err := e.encoder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(queryVecs) == 0 || len(queryVecs[0]) == 0 {
		return nil, nil
	}
	queryVec := queryVecs[0]

	if err := e.embedMissing(ctx); err != nil {
		// Stale coverage degrades recall, not correctness.
		e.log.Warn("lazy embedding pass failed", "error", err)
	}

	vectors, err := e.store.AllEmbeddings()
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}

	var results []Result
	for _, v := range vectors {
		sim := cosineSimilarity(queryVec, v.Vector)
		if sim < minScore {
			continue
		}
		results = append(results, Result{
			EventID:   v.EventID,
			Text:      v.Text,
			Timestamp: v.Timestamp,
			Score:     sim,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// SearchHybrid runs lexical and semantic retrieval independently and
// merges by weighted Reciprocal Rank Fusion. An event found by only
// one modality contributes nothing for the other. When the semantic
// side is unavailable the fused list is lexical-only.
func (e *Engine) SearchHybrid(ctx context.Context, query string, opts *Options) ([]Result, error) {
	if query == "" {
		return nil, nil
	}
	o := e.opts
	if opts != nil {
		o = opts.withDefaults()
	}
	defer e.observe()()

	type retrieval struct {
		results []Result
		err     error
	}
	textCh := make(chan retrieval, 1)
	semCh := make(chan retrieval, 1)

	go func() {
		r, err := e.SearchText(ctx, query, o.Limit*2)
		textCh <- retrieval{r, err}
	}()
	go func() {
		r, err := e.searchSemantic(ctx, query, o.Limit*2, o.MinScore)
		semCh <- retrieval{r, err}
	}()

	text := <-textCh
	sem := <-semCh

	if text.err != nil && sem.err != nil {
		return nil, fmt.Errorf("hybrid search: %w", text.err)
	}
	if text.err != nil {
		e.log.Warn("lexical retrieval failed, semantic only", "error", text.err)
		text.results = nil
	}
	if sem.err != nil {
		e.log.Warn("semantic retrieval failed, lexical only", "error", sem.err)
		sem.results = nil
	}

	fused := make(map[int64]*Result)
	merge := func(list []Result, weight float64) {
		for rank, r := range list {
			contribution := weight / float64(rrfK+rank+1)
			if existing, ok := fused[r.EventID]; ok {
				existing.Score += contribution
				continue
			}
			hit := r
			hit.Score = contribution
			fused[r.EventID] = &hit
		}
	}
	merge(text.results, o.TextWeight)
	merge(sem.results, o.SemanticWeight)

	results := make([]Result, 0, len(fused))
	for _, r := range fused {
		if r.Score < o.MinScore {
			continue
		}
		results = append(results, *r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].EventID < results[j].EventID
	})
	if len(results) > o.Limit {
		results = results[:o.Limit]
	}
	return results, nil
}

// Suggestions proposes completions for a partial query from matching
// indexed text. Failures degrade to an empty list.
func (e *Engine) Suggestions(ctx context.Context, partial string, limit int) []string {
	if partial == "" {
		return nil
	}
	if limit <= 0 {
		limit = 10
	}
	results, err := e.SearchText(ctx, partial, limit)
	if err != nil {
		e.log.Warn("suggestion lookup failed", "error", err)
		return nil
	}
	seen := make(map[string]bool, len(results))
	var out []string
	for _, r := range results {
		if r.Text == "" || seen[r.Text] {
			continue
		}
		seen[r.Text] = true
		out = append(out, r.Text)
	}
	return out
}

// Optimize compacts the full-text index and refreshes planner stats.
func (e *Engine) Optimize() error {
	return e.store.Optimize()
}

// embedMissing computes and caches vectors for indexed texts that have
// none yet.
func (e *Engine) embedMissing(ctx context.Context) error {
	pending, err := e.store.UnembeddedTexts(embedBatchSize)
	if err != nil {
		return fmt.Errorf("list unembedded: %w", err)
	}

	for len(pending) > 0 {
		texts := make([]string, len(pending))
		for i, p := range pending {
			texts[i] = p.Text
		}

		vectors, err := e.encoder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		for i, p := range pending {
			if err := e.store.StoreEmbedding(p.ID, vectors[i]); err != nil {
				return fmt.Errorf("cache embedding for event %d: %w", p.ID, err)
			}
		}

		if len(pending) < embedBatchSize {
			break
		}
		pending, err = e.store.UnembeddedTexts(embedBatchSize)
		if err != nil {
			return fmt.Errorf("list unembedded: %w", err)
		}
	}
	return nil
}

func (e *Engine) observe() func() {
	e.metrics.SearchesTotal.Inc()
	t := e.metrics.SearchDuration.Timer()
	return func() { t.Stop() }
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
