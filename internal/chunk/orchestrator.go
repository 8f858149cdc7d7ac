package chunk

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"convmem/internal/model"
	"convmem/internal/pipelineerr"
	"convmem/internal/tokenizer"
)

// Registry holds named chunking strategies. The three built-ins are
// protected from silent overwrite; custom registrations may replace a
// previously custom-registered strategy.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	protected  map[string]bool
}

// NewRegistry builds a Registry preloaded with sliding-window, boundary,
// and semantic.
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[string]Strategy), protected: make(map[string]bool)}
	for _, s := range []Strategy{SlidingWindow{}, Boundary{}, Semantic{}} {
		r.strategies[s.Name()] = s
		r.protected[s.Name()] = true
	}
	return r
}

// Register adds or replaces a named strategy. Replacing a protected default
// panics. Replacing a previously custom strategy is allowed; callers that
// want a warning logged should check Registered first.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.protected[s.Name()] {
		panic("chunk: refusing to overwrite default strategy " + s.Name())
	}
	r.strategies[s.Name()] = s
}

// Registered reports whether a strategy name is already registered.
func (r *Registry) Registered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.strategies[name]
	return ok
}

func (r *Registry) get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, pipelineerr.New(pipelineerr.KindProviderNotFound, "no chunking strategy registered as "+name)
	}
	return s, nil
}

// NeedsChunking reports whether conv's whole-conversation token count
// exceeds cfg.MaxTokensPerChunk.
func NeedsChunking(conv model.NormalizedConversation, counter *tokenizer.Counter, cfg Config) bool {
	return counter.CountMessages(cfg.TokenMethod, conv.Messages) > cfg.MaxTokensPerChunk
}

// SelectStrategy looks up the named strategy and confirms it can handle
// conv under cfg.
func (r *Registry) SelectStrategy(name string, conv model.NormalizedConversation, counter *tokenizer.Counter, cfg Config) (Strategy, error) {
	s, err := r.get(name)
	if err != nil {
		return nil, err
	}
	if !s.CanHandle(conv, counter, cfg) {
		return nil, pipelineerr.New(pipelineerr.KindValidation, "strategy "+name+" cannot handle conversation "+conv.ID)
	}
	return s, nil
}

// FailureMode controls how the Orchestrator reacts to a per-conversation
// chunking error when processing a batch.
type FailureMode int

const (
	FailFast FailureMode = iota
	ContinueOnError
)

// Orchestrator selects a strategy per conversation and runs it, either
// sequentially or with bounded parallelism across conversations. Neither
// mode carries context between conversations or chunks.
type Orchestrator struct {
	Registry    *Registry
	Counter     *tokenizer.Counter
	Concurrency int
	FailureMode FailureMode
}

// NewOrchestrator builds an Orchestrator with the default registry.
func NewOrchestrator(counter *tokenizer.Counter, concurrency int) *Orchestrator {
	if concurrency <= 0 {
		concurrency = 3
	}
	return &Orchestrator{Registry: NewRegistry(), Counter: counter, Concurrency: concurrency, FailureMode: FailFast}
}

// RunOne chunks a single conversation if needed, or returns it as a single
// chunk otherwise.
func (o *Orchestrator) RunOne(strategyName string, conv model.NormalizedConversation, cfg Config) ([]model.Chunk, error) {
	if !NeedsChunking(conv, o.Counter, cfg) {
		return []model.Chunk{{
			ID:             chunkID(conv.ID, 0),
			ConversationID: conv.ID,
			Index:          0,
			TotalChunks:    1,
			Messages:       conv.Messages,
			Strategy:       "none",
			TokenCount:     o.Counter.CountMessages(cfg.TokenMethod, conv.Messages),
		}}, nil
	}
	strat, err := o.Registry.SelectStrategy(strategyName, conv, o.Counter, cfg)
	if err != nil {
		return nil, err
	}
	return strat.Chunk(conv, o.Counter, cfg)
}

// RunSequential chunks each conversation in order; no context is carried
// from one conversation to the next.
func (o *Orchestrator) RunSequential(strategyName string, convs []model.NormalizedConversation, cfg Config) ([]model.ChunkResult, error) {
	var results []model.ChunkResult

	for _, conv := range convs {
		chunks, err := o.RunOne(strategyName, conv, cfg)
		if err != nil {
			results = append(results, model.ChunkResult{Err: err})
			if o.FailureMode == FailFast {
				return results, err
			}
			continue
		}
		for _, c := range chunks {
			results = append(results, model.ChunkResult{Chunk: c})
		}
	}
	return results, nil
}

// RunParallel chunks conversations with bounded concurrency. Results are
// returned in input order (conversation order, then chunk order) regardless
// of completion order, and no ChunkContext is carried between conversations.
func (o *Orchestrator) RunParallel(ctx context.Context, strategyName string, convs []model.NormalizedConversation, cfg Config) ([]model.ChunkResult, error) {
	results := make([][]model.ChunkResult, len(convs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Concurrency)

	for idx, conv := range convs {
		idx, conv := idx, conv
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			chunks, err := o.RunOne(strategyName, conv, cfg)
			if err != nil {
				results[idx] = []model.ChunkResult{{Err: err}}
				if o.FailureMode == FailFast {
					return err
				}
				return nil
			}
			out := make([]model.ChunkResult, len(chunks))
			for i, c := range chunks {
				out[i] = model.ChunkResult{Chunk: c}
			}
			results[idx] = out
			return nil
		})
	}

	err := g.Wait()
	var flat []model.ChunkResult
	for _, r := range results {
		flat = append(flat, r...)
	}
	if err != nil && o.FailureMode == FailFast {
		return flat, err
	}
	return flat, nil
}
