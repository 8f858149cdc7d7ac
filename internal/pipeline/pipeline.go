// Package pipeline implements the Pipeline Coordinator: it glues parse →
// chunk → extract → merge → validate → store together for ingestion, and
// search → expand → rank → format together for retrieval, emitting a
// per-stage timing breakdown for both.
package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"convmem/internal/chunk"
	"convmem/internal/dedup"
	"convmem/internal/embed"
	"convmem/internal/extract"
	"convmem/internal/logging"
	"convmem/internal/model"
	"convmem/internal/parser"
	"convmem/internal/pipelineerr"
	"convmem/internal/retrieval"
	"convmem/internal/storage"
	"convmem/internal/tokenizer"
	"convmem/internal/validate"
)

// Clock abstracts time.Now so timing can be tested deterministically.
type Clock interface{ Now() time.Time }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Metrics receives the coordinator's counters and histograms; NoopMetrics
// drops them, for callers that want the interface without a backend.
type Metrics interface {
	IncCounter(name string, labels map[string]string)
	ObserveHistogram(name string, valueMS float64, labels map[string]string)
}

// NoopMetrics implements Metrics without side effects.
type NoopMetrics struct{}

func (NoopMetrics) IncCounter(string, map[string]string)              {}
func (NoopMetrics) ObserveHistogram(string, float64, map[string]string) {}

// IngestOptions configures a single ingestion call.
type IngestOptions struct {
	WorkspaceID     string
	ProviderName    string // empty triggers auto-detection
	ChunkStrategy   string
	ChunkConfig     chunk.Config
	ExtractConfig   extract.Config
	ValidateConfig  validate.Config
	Parallel        bool
	FailureMode     chunk.FailureMode
}

// Timing is the per-stage duration breakdown in milliseconds.
type Timing struct {
	ParseMS, ChunkMS, ExtractMS, DedupMS, ValidateMS, StoreMS, TotalMS int64
}

// IngestStats aggregates chunk-size and extraction metrics across a run.
type IngestStats struct {
	ChunkCount           int
	MinChunkSize         int
	MaxChunkSize         int
	AvgChunkSize         float64
	AvgMemoriesPerChunk  float64
	SuccessCount         int
	FailureCount         int
}

// IngestResult is the Coordinator's aggregated ingestion output.
type IngestResult struct {
	Memories      []model.ExtractedMemory
	Relationships []model.ExtractedRelationship
	Invalid       validate.Result
	Errors        []error
	Timing        Timing
	Stats         IngestStats
}

// Coordinator wires every stage together behind one entry point.
type Coordinator struct {
	Parsers   *parser.Registry
	Chunker   *chunk.Orchestrator
	Extractor *extract.Strategy
	Store     storage.Store
	Retrieval *retrieval.Engine
	Embedder  embed.Provider
	Tokens    *tokenizer.Counter
	Clock     Clock
	Metrics   Metrics
}

// New builds a Coordinator from its component parts. Parsers/Chunker
// default to the standard registries when nil. embedder computes the
// vector stored alongside each memory so the retrieval path it feeds can
// find it again; a memory that already carries an Embedding (e.g. set by
// a caller ahead of time) is left untouched.
func New(extractor *extract.Strategy, store storage.Store, retr *retrieval.Engine, embedder embed.Provider, tokens *tokenizer.Counter, opts ...Option) *Coordinator {
	c := &Coordinator{
		Parsers:   parser.NewRegistry(),
		Chunker:   chunk.NewOrchestrator(tokens, 3),
		Extractor: extractor,
		Store:     store,
		Retrieval: retr,
		Embedder:  embedder,
		Tokens:    tokens,
		Clock:     systemClock{},
		Metrics:   NewOtelMetrics(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures a Coordinator during construction.
type Option func(*Coordinator)

// WithMetrics overrides the metrics sink.
func WithMetrics(m Metrics) Option { return func(c *Coordinator) { c.Metrics = m } }

// WithClock overrides the clock, for deterministic tests.
func WithClock(cl Clock) Option { return func(c *Coordinator) { c.Clock = cl } }

// WithParserRegistry overrides the parser registry.
func WithParserRegistry(r *parser.Registry) Option { return func(c *Coordinator) { c.Parsers = r } }

// WithChunkOrchestrator overrides the chunk orchestrator.
func WithChunkOrchestrator(o *chunk.Orchestrator) Option {
	return func(c *Coordinator) { c.Chunker = o }
}

func (c *Coordinator) ms(d time.Duration) int64 { return int64(d / time.Millisecond) }

// Ingest runs the full parse → chunk → extract → dedup → validate → store
// pipeline over a single raw export payload, returning the aggregated,
// already-persisted memory set alongside per-stage timing and stats.
func (c *Coordinator) Ingest(ctx context.Context, raw []byte, opt IngestOptions) (IngestResult, error) {
	start := c.Clock.Now()
	log := logging.FromContext(ctx)

	t0 := c.Clock.Now()
	convs, providerName, err := c.parse(raw, opt.ProviderName)
	parseMS := c.ms(c.Clock.Now().Sub(t0))
	c.Metrics.ObserveHistogram("ingestion_stage_ms", float64(parseMS), map[string]string{"stage": "parse"})
	if err != nil {
		return IngestResult{}, err
	}
	log.Debug().Str("provider", providerName).Int("conversations", len(convs)).Msg("parsed export")

	t0 = c.Clock.Now()
	chunkResults, err := c.chunkAll(ctx, opt, convs)
	chunkMS := c.ms(c.Clock.Now().Sub(t0))
	c.Metrics.ObserveHistogram("ingestion_stage_ms", float64(chunkMS), map[string]string{"stage": "chunk"})
	if err != nil && opt.FailureMode != chunk.ContinueOnError {
		return IngestResult{}, err
	}

	opt.ExtractConfig.WorkspaceID = opt.WorkspaceID

	t0 = c.Clock.Now()
	extractions, extractErrs := c.extractAll(ctx, chunkResults, opt)
	extractMS := c.ms(c.Clock.Now().Sub(t0))
	c.Metrics.ObserveHistogram("ingestion_stage_ms", float64(extractMS), map[string]string{"stage": "extract"})

	var allMemories []model.ExtractedMemory
	var allRelationships []model.ExtractedRelationship
	for _, e := range extractions {
		allMemories = append(allMemories, e.Memories...)
		allRelationships = append(allRelationships, e.Relationships...)
	}

	t0 = c.Clock.Now()
	merged := dedup.Merge(allMemories, allRelationships)
	dedupMS := c.ms(c.Clock.Now().Sub(t0))
	c.Metrics.ObserveHistogram("ingestion_stage_ms", float64(dedupMS), map[string]string{"stage": "dedup"})

	t0 = c.Clock.Now()
	validated := validate.Validate(merged.Memories, merged.Relationships, opt.ValidateConfig)
	validateMS := c.ms(c.Clock.Now().Sub(t0))
	c.Metrics.ObserveHistogram("ingestion_stage_ms", float64(validateMS), map[string]string{"stage": "validate"})

	t0 = c.Clock.Now()
	if err := c.storeAll(ctx, validated.ValidMemories, validated.ValidRelationships); err != nil {
		return IngestResult{}, err
	}
	storeMS := c.ms(c.Clock.Now().Sub(t0))
	c.Metrics.ObserveHistogram("ingestion_stage_ms", float64(storeMS), map[string]string{"stage": "store"})

	totalMS := c.ms(c.Clock.Now().Sub(start))
	c.Metrics.ObserveHistogram("ingestion_stage_ms", float64(totalMS), map[string]string{"stage": "total"})

	return IngestResult{
		Memories:      validated.ValidMemories,
		Relationships: validated.ValidRelationships,
		Invalid:       validated,
		Errors:        extractErrs,
		Timing: Timing{
			ParseMS: parseMS, ChunkMS: chunkMS, ExtractMS: extractMS,
			DedupMS: dedupMS, ValidateMS: validateMS, StoreMS: storeMS, TotalMS: totalMS,
		},
		Stats: computeStats(chunkResults, extractions),
	}, nil
}

func (c *Coordinator) parse(raw []byte, providerName string) ([]model.NormalizedConversation, string, error) {
	if providerName != "" {
		p, err := c.Parsers.Get(providerName)
		if err != nil {
			return nil, "", err
		}
		convs, err := p.Parse(raw)
		if err != nil {
			return nil, providerName, pipelineerr.Wrap(pipelineerr.KindParse, "parse export", err).WithProvider(providerName)
		}
		return convs, providerName, nil
	}
	convs, name, err := c.Parsers.ParseAuto(raw)
	if err != nil {
		return nil, "", err
	}
	return convs, name, nil
}

func (c *Coordinator) chunkAll(ctx context.Context, opt IngestOptions, convs []model.NormalizedConversation) ([]model.ChunkResult, error) {
	c.Chunker.FailureMode = opt.FailureMode
	if opt.Parallel {
		return c.Chunker.RunParallel(ctx, opt.ChunkStrategy, convs, opt.ChunkConfig)
	}
	return c.Chunker.RunSequential(opt.ChunkStrategy, convs, opt.ChunkConfig)
}

// extractAll runs the Extraction Strategy over every successfully chunked
// Chunk. Sequential mode threads the previous chunk's Summarize() output
// in as prior context, one LLM call at a time. Parallel mode submits up to
// c.Chunker.Concurrency chunks to the LLM at once — the LLM call is the
// sole suspension point bounded parallelism throttles — and never carries
// context between chunks, matching the orchestrator's own
// sequential-vs-parallel context-carry rule.
func (c *Coordinator) extractAll(ctx context.Context, results []model.ChunkResult, opt IngestOptions) ([]model.ChunkExtraction, []error) {
	if opt.Parallel {
		return c.extractParallel(ctx, results, opt)
	}
	return c.extractSequential(ctx, results, opt)
}

func (c *Coordinator) extractSequential(ctx context.Context, results []model.ChunkResult, opt IngestOptions) ([]model.ChunkExtraction, []error) {
	var extractions []model.ChunkExtraction
	var errs []error
	var prev *extract.PreviousContext

	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		ext, err := c.Extractor.Extract(ctx, r.Chunk.ConversationID, r.Chunk, opt.ExtractConfig, prev)
		if err != nil {
			errs = append(errs, err)
			if opt.FailureMode == chunk.FailFast {
				return extractions, errs
			}
			continue
		}
		extractions = append(extractions, ext)
		summary := extract.Summarize(r.Chunk.Index, len(r.Chunk.Messages), ext.Memories)
		prev = &extract.PreviousContext{Summary: summary}
	}
	return extractions, errs
}

// extractParallel submits the successfully chunked results to the
// Extraction Strategy through an errgroup bounded by c.Chunker.Concurrency,
// so no more than that many chunks are ever in flight to the LLM at once.
// Results are collected into slots indexed by each chunk's position among
// the submitted results, preserving submission order in the final,
// flattened output regardless of completion order.
func (c *Coordinator) extractParallel(ctx context.Context, results []model.ChunkResult, opt IngestOptions) ([]model.ChunkExtraction, []error) {
	limit := 3
	if c.Chunker != nil && c.Chunker.Concurrency > 0 {
		limit = c.Chunker.Concurrency
	}

	type slot struct {
		ext model.ChunkExtraction
		err error
		ok  bool
	}
	slots := make([]slot, 0, len(results))
	indices := make([]int, 0, len(results))
	var errs []error
	for i, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		slots = append(slots, slot{})
		indices = append(indices, i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for s := range slots {
		s := s
		r := results[indices[s]]
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			ext, err := c.Extractor.Extract(gctx, r.Chunk.ConversationID, r.Chunk, opt.ExtractConfig, nil)
			if err != nil {
				slots[s] = slot{err: err}
				if opt.FailureMode == chunk.FailFast {
					return err
				}
				return nil
			}
			slots[s] = slot{ext: ext, ok: true}
			return nil
		})
	}

	waitErr := g.Wait()

	var extractions []model.ChunkExtraction
	for _, sl := range slots {
		if sl.err != nil {
			errs = append(errs, sl.err)
			continue
		}
		if sl.ok {
			extractions = append(extractions, sl.ext)
		}
	}
	if waitErr != nil && opt.FailureMode == chunk.FailFast {
		return extractions, errs
	}
	return extractions, errs
}

func (c *Coordinator) storeAll(ctx context.Context, memories []model.ExtractedMemory, relationships []model.ExtractedRelationship) error {
	for _, m := range memories {
		if m.Embedding == nil && c.Embedder != nil {
			vec, err := c.Embedder.Embed(ctx, m.Content)
			if err != nil {
				return pipelineerr.Wrap(pipelineerr.KindEmbedding, "embed memory "+m.ID, err)
			}
			m.Embedding = vec
		}
		if err := c.Store.SaveMemory(ctx, m); err != nil {
			return pipelineerr.Wrap(pipelineerr.KindStorage, "save memory "+m.ID, err)
		}
	}
	for _, r := range relationships {
		if err := c.Store.SaveRelationship(ctx, r); err != nil {
			return pipelineerr.Wrap(pipelineerr.KindStorage, "save relationship "+r.ID, err)
		}
	}
	return nil
}

func computeStats(chunkResults []model.ChunkResult, extractions []model.ChunkExtraction) IngestStats {
	stats := IngestStats{}
	var totalSize, totalMemories int
	for _, r := range chunkResults {
		if r.Err != nil {
			stats.FailureCount++
			continue
		}
		stats.SuccessCount++
		stats.ChunkCount++
		size := len(r.Chunk.Messages)
		totalSize += size
		if stats.MinChunkSize == 0 || size < stats.MinChunkSize {
			stats.MinChunkSize = size
		}
		if size > stats.MaxChunkSize {
			stats.MaxChunkSize = size
		}
	}
	for _, e := range extractions {
		totalMemories += len(e.Memories)
	}
	if stats.ChunkCount > 0 {
		stats.AvgChunkSize = float64(totalSize) / float64(stats.ChunkCount)
		stats.AvgMemoriesPerChunk = float64(totalMemories) / float64(stats.ChunkCount)
	}
	return stats
}

// RetrieveOptions configures a single retrieval call.
type RetrieveOptions = retrieval.Options

// RetrieveResult is the Coordinator's retrieval output, re-exported from
// the Context Engine so callers depend only on this package.
type RetrieveResult = retrieval.ContextResult

// Retrieve runs search → expand → rank → format through the Context
// Engine, recording the same stage-timing discipline as Ingest.
func (c *Coordinator) Retrieve(ctx context.Context, queryText, workspaceID string, opt RetrieveOptions) (RetrieveResult, error) {
	start := c.Clock.Now()
	result, err := c.Retrieval.BuildContext(ctx, queryText, workspaceID, opt)
	c.Metrics.ObserveHistogram("retrieval_stage_ms", float64(c.ms(c.Clock.Now().Sub(start))), map[string]string{"stage": "total"})
	return result, err
}
