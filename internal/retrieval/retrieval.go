// Package retrieval implements the Context Engine: embedding-cached
// search, relationship expansion, ranking, and budget-aware template
// formatting into a single prompt-ready string.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"time"

	"convmem/internal/embed"
	"convmem/internal/model"
	"convmem/internal/pipelineerr"
	"convmem/internal/storage"
	"convmem/internal/tokenizer"
)

// Options tune a single search/buildContext call.
type Options struct {
	Limit              int
	Types              []string
	DateFrom, DateTo   *time.Time
	MinConfidence      float64
	ConversationID     string
	ExpandRelationships bool
	ExpandDepth        int
	Ranker             string
	Template           string
	TokenBudget        int
	Instruction        string
}

// Scored pairs a memory with its similarity score (raw, pre-ranking).
type Scored struct {
	Memory model.ExtractedMemory
	Score  float64
	// Depth is 0 for a direct search hit, >0 for memories pulled in by
	// relationship expansion; RelationTo/RelationType describe the edge
	// that introduced it.
	Depth        int
	RelationTo   string
	RelationType string
}

// ContextResult is the output of buildContext/buildContextByVector.
type ContextResult struct {
	Text       string
	Memories   []model.ExtractedMemory
	TokenCount int
	Truncated  bool
}

// PreviewResult additionally exposes the ranked ids, their scores, and
// budget utilization, without committing to final formatting decisions.
type PreviewResult struct {
	ContextResult
	MemoryIDs        []string
	RankingScores    map[string]float64
	BudgetUsedPercent float64
}

// Engine is the Context Engine: it owns the storage client, embedding
// provider (wrapped in a cache), tokenizer, and the ranker/template
// registries.
type Engine struct {
	store    storage.Store
	embedder embed.Provider
	tokens   *tokenizer.Counter

	rankers   *rankerRegistry
	templates *templateRegistry
}

// New builds an Engine. embedCacheSize <= 0 disables the embedding cache
// (embedder is used directly instead of being wrapped).
func New(store storage.Store, embedder embed.Provider, tokens *tokenizer.Counter, embedCacheSize int) (*Engine, error) {
	if embedCacheSize > 0 {
		embedder = embed.NewCached(embedder, embedCacheSize)
	}
	return &Engine{
		store:     store,
		embedder:  embedder,
		tokens:    tokens,
		rankers:   newRankerRegistry(),
		templates: newTemplateRegistry(),
	}, nil
}

// RegisterRanker adds or replaces a named ranker. Default ranker names
// cannot be overwritten.
func (e *Engine) RegisterRanker(name string, r Ranker) error { return e.rankers.register(name, r) }

// RegisterTemplate adds or replaces a named formatting template. Default
// template names cannot be overwritten.
func (e *Engine) RegisterTemplate(name string, t Template) error { return e.templates.register(name, t) }

// Search embeds queryText (via the embedding cache keyed by
// (model, sha256(text))) and delegates to SearchByVector.
func (e *Engine) Search(ctx context.Context, queryText, workspaceID string, opt Options) ([]Scored, error) {
	embedText := queryText
	if opt.Instruction != "" {
		embedText = "Instruct: " + opt.Instruction + "\nQuery: " + queryText
	}
	vec, err := e.embedder.Embed(ctx, embedText)
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.KindEmbedding, "embed query", err)
	}
	return e.SearchByVector(ctx, vec, workspaceID, opt)
}

// SearchByVector skips embedding, validating the vector's length and
// finiteness before delegating to storage.
func (e *Engine) SearchByVector(ctx context.Context, vector []float32, workspaceID string, opt Options) ([]Scored, error) {
	if len(vector) != e.embedder.Dimension() {
		return nil, pipelineerr.New(pipelineerr.KindEmbedding, fmt.Sprintf("vector has %d dimensions, provider expects %d", len(vector), e.embedder.Dimension()))
	}
	for _, x := range vector {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil, pipelineerr.New(pipelineerr.KindEmbedding, "vector contains non-finite values")
		}
	}

	hits, err := e.store.SearchMemories(ctx, workspaceID, storage.SearchQuery{
		Vector: vector, Limit: limitOrDefault(opt.Limit), Types: opt.Types,
		DateFrom: opt.DateFrom, DateTo: opt.DateTo,
	})
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.KindStorage, "search memories", err)
	}

	results := make([]Scored, 0, len(hits))
	for _, h := range hits {
		if h.Memory.Confidence < opt.MinConfidence {
			continue
		}
		if opt.ConversationID != "" && h.Memory.ConversationID != opt.ConversationID {
			continue
		}
		results = append(results, Scored{Memory: h.Memory, Score: h.Score})
	}

	if opt.ExpandRelationships {
		results, err = e.expand(ctx, results, workspaceID, opt)
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return 10
	}
	return n
}

// expand follows relationships from each seed result up to opt.ExpandDepth
// (clamped to [1,10]), tracking a global seen-id set so any memory is
// fetched at most once across the whole traversal.
func (e *Engine) expand(ctx context.Context, seeds []Scored, workspaceID string, opt Options) ([]Scored, error) {
	depth := opt.ExpandDepth
	if depth < 1 {
		depth = 1
	}
	if depth > 10 {
		depth = 10
	}

	seen := make(map[string]bool, len(seeds))
	out := make([]Scored, 0, len(seeds))
	for _, s := range seeds {
		seen[s.Memory.ID] = true
		out = append(out, s)
	}

	frontier := append([]Scored(nil), seeds...)
	for d := 1; d <= depth; d++ {
		var next []Scored
		for _, s := range frontier {
			rels, err := e.store.GetMemoryRelationships(ctx, s.Memory.ID, workspaceID)
			if err != nil {
				return nil, pipelineerr.Wrap(pipelineerr.KindStorage, "expand relationships", err)
			}
			for _, r := range rels {
				otherID := r.ToID
				if otherID == s.Memory.ID {
					otherID = r.FromID
				}
				if seen[otherID] {
					continue
				}
				mem, ok, err := e.store.GetMemory(ctx, otherID, workspaceID)
				if err != nil {
					return nil, pipelineerr.Wrap(pipelineerr.KindStorage, "fetch related memory", err)
				}
				if !ok {
					continue
				}
				seen[otherID] = true
				added := Scored{Memory: mem, Score: r.Confidence * s.Score, Depth: d, RelationTo: s.Memory.ID, RelationType: r.Type}
				out = append(out, added)
				next = append(next, added)
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}
	return out, nil
}

// BuildContext runs Search, ranks with the named ranker (or the default
// linear blend), and formats the result into a single budget-bounded
// string using the named template (or "chat").
func (e *Engine) BuildContext(ctx context.Context, queryText, workspaceID string, opt Options) (ContextResult, error) {
	scored, err := e.Search(ctx, queryText, workspaceID, opt)
	if err != nil {
		return ContextResult{}, err
	}
	return e.rankAndFormat(scored, opt)
}

// BuildContextByVector is BuildContext's vector-input counterpart.
func (e *Engine) BuildContextByVector(ctx context.Context, vector []float32, workspaceID string, opt Options) (ContextResult, error) {
	scored, err := e.SearchByVector(ctx, vector, workspaceID, opt)
	if err != nil {
		return ContextResult{}, err
	}
	return e.rankAndFormat(scored, opt)
}

// PreviewContext behaves like BuildContext but additionally reports the
// ranked memory ids, their ranking scores, and the fraction of the token
// budget consumed.
func (e *Engine) PreviewContext(ctx context.Context, queryText, workspaceID string, opt Options) (PreviewResult, error) {
	scored, err := e.Search(ctx, queryText, workspaceID, opt)
	if err != nil {
		return PreviewResult{}, err
	}
	return e.previewAndFormat(scored, opt)
}

func (e *Engine) rankAndFormat(scored []Scored, opt Options) (ContextResult, error) {
	pr, err := e.previewAndFormat(scored, opt)
	if err != nil {
		return ContextResult{}, err
	}
	return pr.ContextResult, nil
}

func (e *Engine) previewAndFormat(scored []Scored, opt Options) (PreviewResult, error) {
	ranker, err := e.rankers.get(rankerNameOrDefault(opt.Ranker))
	if err != nil {
		return PreviewResult{}, err
	}
	ranked := ranker.Rank(scored)

	tmpl, err := e.templates.get(templateNameOrDefault(opt.Template))
	if err != nil {
		return PreviewResult{}, err
	}
	budget := opt.TokenBudget
	if budget <= 0 {
		budget = 4000
	}

	fr := format(ranked, tmpl, budget, e.tokens)

	scores := make(map[string]float64, len(ranked))
	ids := make([]string, 0, len(ranked))
	for _, r := range ranked {
		scores[r.Memory.ID] = r.Score
		ids = append(ids, r.Memory.ID)
	}

	return PreviewResult{
		ContextResult:     fr,
		MemoryIDs:         ids,
		RankingScores:     scores,
		BudgetUsedPercent: 100 * float64(fr.TokenCount) / float64(budget),
	}, nil
}

func rankerNameOrDefault(name string) string {
	if name == "" {
		return RankerLinearBlend
	}
	return name
}

func templateNameOrDefault(name string) string {
	if name == "" {
		return TemplateChat
	}
	return name
}

