// Command memctl exercises the conversation-to-memory pipeline end to
// end: ingesting a chat export into workspace-scoped memories, and
// retrieving a budget-bounded context string back out of them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/pterm/pterm"

	"convmem/internal/chunk"
	"convmem/internal/config"
	"convmem/internal/embed"
	"convmem/internal/extract"
	"convmem/internal/logging"
	"convmem/internal/pipeline"
	"convmem/internal/retrieval"
	"convmem/internal/storage"
	"convmem/internal/tokenizer"
	"convmem/internal/validate"
)

// defaultMemoryTypeInstructions backs the baseline vocabulary (entity,
// fact, decision) when a config file doesn't spell out per-type prompt
// instructions itself.
var defaultMemoryTypeInstructions = map[string]string{
	"entity":   "Note any person, place, product, or organization mentioned, with a normalized name.",
	"fact":     "Note any standalone fact or preference stated or implied by the user.",
	"decision": "Note any decision, commitment, or plan the user settled on.",
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ingest":
		runIngest(os.Args[2:])
	case "retrieve":
		runRetrieve(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: memctl <ingest|retrieve> [flags]")
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config.yaml")
	file := fs.String("file", "", "path to a chat export file")
	workspace := fs.String("workspace", "", "workspace id memories are scoped to")
	provider := fs.String("provider", "", "provider name; empty auto-detects")
	parallel := fs.Bool("parallel", false, "chunk conversations with bounded parallelism instead of sequentially")
	fs.Parse(args)

	if *file == "" || *workspace == "" {
		pterm.Error.Println("ingest requires -file and -workspace")
		os.Exit(1)
	}

	cfg, coord := mustBuild(*configPath)
	raw, err := os.ReadFile(*file)
	if err != nil {
		pterm.Fatal.Printf("read export: %v\n", err)
	}

	spinner, _ := pterm.DefaultSpinner.Start("ingesting " + *file)
	ctx := context.Background()
	res, err := coord.Ingest(ctx, raw, pipeline.IngestOptions{
		WorkspaceID:   *workspace,
		ProviderName:  *provider,
		ChunkStrategy: cfg.Chunking.Strategy,
		ChunkConfig: chunk.Config{
			MaxTokensPerChunk: cfg.Chunking.MaxTokensPerChunk,
			OverlapTokens:     cfg.Chunking.OverlapTokens,
			TokenMethod:       tokenizer.Method(cfg.Tokenizer.Method),
			Semantic: chunk.SemanticConfig{
				LowThreshold:  cfg.Chunking.Semantic.LowThreshold,
				HighThreshold: cfg.Chunking.Semantic.HighThreshold,
			},
		},
		ExtractConfig: extract.Config{
			MemoryTypes: memoryTypeConfigs(cfg.Extraction.MemoryTypes),
			Model:       cfg.Extraction.Model,
			Temperature: cfg.Extraction.Temperature,
			Timeout:     cfg.Extraction.Timeout,
		},
		ValidateConfig: validate.Config{
			MinConfidence:    cfg.Validator.MinConfidence,
			MinContentLength: cfg.Validator.MinContentLength,
		},
		Parallel:    *parallel || cfg.Chunking.Parallel,
		FailureMode: failureMode(cfg.Chunking.FailFast),
	})
	if err != nil {
		spinner.Fail(err.Error())
		os.Exit(1)
	}
	spinner.Success(fmt.Sprintf("ingested %d memories, %d relationships", len(res.Memories), len(res.Relationships)))

	pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"stage", "ms"},
		{"parse", fmt.Sprint(res.Timing.ParseMS)},
		{"chunk", fmt.Sprint(res.Timing.ChunkMS)},
		{"extract", fmt.Sprint(res.Timing.ExtractMS)},
		{"dedup", fmt.Sprint(res.Timing.DedupMS)},
		{"validate", fmt.Sprint(res.Timing.ValidateMS)},
		{"store", fmt.Sprint(res.Timing.StoreMS)},
		{"total", fmt.Sprint(res.Timing.TotalMS)},
	}).Render()

	pterm.Info.Printf("chunks: %d ok / %d failed, avg size %.1f messages, avg %.1f memories/chunk\n",
		res.Stats.SuccessCount, res.Stats.FailureCount, res.Stats.AvgChunkSize, res.Stats.AvgMemoriesPerChunk)
	if len(res.Invalid.InvalidMemories) > 0 || len(res.Invalid.InvalidRelationships) > 0 {
		pterm.Warning.Printf("%d memories and %d relationships failed validation and were dropped\n",
			len(res.Invalid.InvalidMemories), len(res.Invalid.InvalidRelationships))
	}
}

func runRetrieve(args []string) {
	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config.yaml")
	query := fs.String("query", "", "query text")
	workspace := fs.String("workspace", "", "workspace id to search")
	limit := fs.Int("limit", 10, "max memories to consider before formatting")
	budget := fs.Int("budget", 0, "token budget; 0 uses the configured default")
	expand := fs.Bool("expand", false, "expand results across relationships")
	depth := fs.Int("depth", 2, "relationship expansion depth")
	template := fs.String("template", "", "formatting template name; empty uses the configured default")
	fs.Parse(args)

	if *query == "" || *workspace == "" {
		pterm.Error.Println("retrieve requires -query and -workspace")
		os.Exit(1)
	}

	cfg, coord := mustBuild(*configPath)
	tokenBudget := *budget
	if tokenBudget <= 0 {
		tokenBudget = cfg.Context.DefaultTokenBudget
	}
	tmpl := *template
	if tmpl == "" {
		tmpl = cfg.Context.DefaultTemplate
	}

	result, err := coord.Retrieve(context.Background(), *query, *workspace, retrieval.Options{
		Limit:               *limit,
		ExpandRelationships: *expand,
		ExpandDepth:         depth2orDefault(*expand, *depth),
		Template:            tmpl,
		TokenBudget:         tokenBudget,
	})
	if err != nil {
		pterm.Fatal.Printf("retrieve: %v\n", err)
	}

	fmt.Println(result.Text)
	pterm.Info.Printf("%d memories, %d tokens, truncated=%v\n", len(result.Memories), result.TokenCount, result.Truncated)
}

func depth2orDefault(expand bool, depth int) int {
	if !expand {
		return 0
	}
	return depth
}

// mustBuild loads configuration and assembles a Coordinator with the
// configured storage backend, embedding provider, and LLM extraction
// provider, exiting with a formatted error on any wiring failure.
func mustBuild(configPath string) (*config.Config, *pipeline.Coordinator) {
	cfg, err := config.Load(configPath)
	if err != nil {
		pterm.Fatal.Printf("load config: %v\n", err)
	}
	logging.Init(cfg.Logging.Level)

	cache := tokenizer.NewCache(tokenizer.CacheConfig{
		MaxSize:   cfg.Tokenizer.CacheMaxSize,
		TTL:       cfg.Tokenizer.CacheTTL,
		RedisAddr: cfg.Tokenizer.RedisAddr,
	})
	tokens := tokenizer.New("cl100k_base", cache)

	vectorBackend, err := buildVectorBackend(cfg.Storage)
	if err != nil {
		pterm.Fatal.Printf("storage backend: %v\n", err)
	}
	store := storage.New(vectorBackend)

	embedder := embed.NewHTTPProvider(embed.HTTPConfig{
		Host:       cfg.Embedding.Host,
		APIKey:     cfg.Embedding.APIKey,
		Dimensions: cfg.Embedding.Dimensions,
	})

	llm, err := buildLLM(cfg.Extraction, cfg.LLM)
	if err != nil {
		pterm.Fatal.Printf("llm provider: %v\n", err)
	}
	strategy := extract.New(llm)

	engine, err := retrieval.New(store, embedder, tokens, cfg.Tokenizer.CacheMaxSize)
	if err != nil {
		pterm.Fatal.Printf("retrieval engine: %v\n", err)
	}

	coord := pipeline.New(strategy, store, engine, embedder, tokens,
		WithConfiguredChunker(tokens, cfg.Chunking.Concurrency),
	)
	return cfg, coord
}

// WithConfiguredChunker builds a chunk.Orchestrator sized from config
// instead of the Coordinator's hardcoded default concurrency.
func WithConfiguredChunker(tokens *tokenizer.Counter, concurrency int) pipeline.Option {
	if concurrency <= 0 {
		concurrency = 3
	}
	return pipeline.WithChunkOrchestrator(chunk.NewOrchestrator(tokens, concurrency))
}

func buildVectorBackend(cfg config.StorageConfig) (storage.VectorBackend, error) {
	switch cfg.Backend {
	case "qdrant":
		return storage.NewQdrantVectorBackend(cfg.QdrantDSN, cfg.Collection, cfg.Dimensions, "cosine")
	default:
		return storage.NewMemoryVectorBackend(), nil
	}
}

func buildLLM(extCfg config.ExtractionConfig, llmCfg config.LLMConfig) (extract.LLM, error) {
	switch extCfg.Provider {
	case "openai":
		if llmCfg.OpenAIKey == "" {
			return nil, fmt.Errorf("extraction.provider is openai but llm.openai_key is unset")
		}
		return extract.NewOpenAILLM(llmCfg.OpenAIKey, extCfg.Model), nil
	default:
		if llmCfg.AnthropicKey == "" {
			return nil, fmt.Errorf("extraction.provider is anthropic but llm.anthropic_key is unset")
		}
		return extract.NewAnthropicLLM(llmCfg.AnthropicKey, extCfg.Model), nil
	}
}

func memoryTypeConfigs(types []string) []extract.MemoryTypeConfig {
	if len(types) == 0 {
		types = []string{"entity", "fact", "decision"}
	}
	out := make([]extract.MemoryTypeConfig, 0, len(types))
	for _, t := range types {
		instruction := defaultMemoryTypeInstructions[t]
		if instruction == "" {
			instruction = "Note anything relevant classified as " + t + "."
		}
		out = append(out, extract.MemoryTypeConfig{Type: t, Instruction: instruction})
	}
	return out
}

func failureMode(failFast bool) chunk.FailureMode {
	if failFast {
		return chunk.FailFast
	}
	return chunk.ContinueOnError
}
