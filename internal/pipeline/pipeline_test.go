package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convmem/internal/chunk"
	"convmem/internal/embed"
	"convmem/internal/extract"
	"convmem/internal/model"
	"convmem/internal/parser"
	"convmem/internal/retrieval"
	"convmem/internal/storage"
	"convmem/internal/tokenizer"
)

type scriptedLLM struct{ response []byte }

func (s scriptedLLM) Name() string { return "scripted" }
func (s scriptedLLM) CompleteStructured(_ context.Context, _ string, _ map[string]any) ([]byte, error) {
	return s.response, nil
}

const extractionBody = `{
	"memories": [{"type": "preference", "content": "prefers dark roast coffee", "confidence": 0.9}],
	"relationships": []
}`

func newTestCoordinator(t *testing.T) (*Coordinator, storage.Store) {
	t.Helper()
	tokens := tokenizer.New("cl100k_base", nil)
	store := storage.New(storage.NewMemoryVectorBackend())
	embedder := embed.NewDeterministic(8, true, 0)
	engine, err := retrieval.New(store, embedder, tokens, 0)
	require.NoError(t, err)

	strategy := extract.New(scriptedLLM{response: []byte(extractionBody)})
	orch := chunk.NewOrchestrator(tokens, 3)

	coord := New(strategy, store, engine, embedder, tokens,
		WithParserRegistry(parser.NewRegistry()),
		WithChunkOrchestrator(orch),
		WithMetrics(NoopMetrics{}),
	)
	return coord, store
}

func sampleExport() []byte {
	return []byte(`[{
		"id": "conv-1",
		"provider": "generic",
		"messages": [
			{"id": "m1", "role": "user", "content": "I really like dark roast coffee in the morning."},
			{"id": "m2", "role": "assistant", "content": "Good to know, I will remember that."}
		]
	}]`)
}

func TestIngestRunsFullPipelineAndPersists(t *testing.T) {
	coord, store := newTestCoordinator(t)

	res, err := coord.Ingest(context.Background(), sampleExport(), IngestOptions{
		WorkspaceID:   "ws1",
		ChunkStrategy: "sliding-window",
		ChunkConfig:   chunk.Config{MaxTokensPerChunk: 500},
	})
	require.NoError(t, err)
	require.Len(t, res.Memories, 1)
	assert.Equal(t, "preference", res.Memories[0].Type)
	assert.Equal(t, "ws1", res.Memories[0].WorkspaceID)
	assert.Greater(t, res.Timing.TotalMS, int64(-1))
	assert.Equal(t, 1, res.Stats.SuccessCount)

	stored, ok, err := store.GetMemory(context.Background(), res.Memories[0].ID, "ws1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, res.Memories[0].Content, stored.Content)
}

func TestIngestParallelExtractionBoundedByChunkerConcurrency(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	raw := []byte(`[{
		"id": "conv-parallel",
		"provider": "generic",
		"messages": [
			{"id": "m1", "role": "user", "content": "I really like dark roast coffee in the morning."},
			{"id": "m2", "role": "assistant", "content": "Good to know, I will remember that."},
			{"id": "m3", "role": "user", "content": "I also enjoy a light breakfast beforehand."},
			{"id": "m4", "role": "assistant", "content": "Noted, thanks for sharing."},
			{"id": "m5", "role": "user", "content": "One more thing, I prefer oat milk."},
			{"id": "m6", "role": "assistant", "content": "Got it, oat milk it is."}
		]
	}]`)

	res, err := coord.Ingest(context.Background(), raw, IngestOptions{
		WorkspaceID:   "ws-parallel",
		ChunkStrategy: "sliding-window",
		ChunkConfig:   chunk.Config{MaxTokensPerChunk: 20, OverlapTokens: 2, TokenMethod: tokenizer.MethodCharDivide},
		Parallel:      true,
	})
	require.NoError(t, err)
	assert.Greater(t, res.Stats.ChunkCount, 1)
	// Every chunk's scripted LLM response is identical, so dedup collapses
	// them to one survivor regardless of how many chunks ran concurrently.
	require.Len(t, res.Memories, 1)
	assert.Equal(t, res.Stats.ChunkCount, res.Stats.SuccessCount)
}

func TestIngestRejectsUnknownProvider(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	_, err := coord.Ingest(context.Background(), sampleExport(), IngestOptions{
		WorkspaceID:  "ws1",
		ProviderName: "not-a-real-provider",
	})
	assert.Error(t, err)
}

func TestIngestInvalidMemoriesAreNotStored(t *testing.T) {
	coord, store := newTestCoordinator(t)
	strategy := extract.New(scriptedLLM{response: []byte(`{"memories": [{"type": "", "content": "x", "confidence": 0.5}], "relationships": []}`)})
	coord.Extractor = strategy

	res, err := coord.Ingest(context.Background(), sampleExport(), IngestOptions{
		WorkspaceID:   "ws1",
		ChunkStrategy: "sliding-window",
		ChunkConfig:   chunk.Config{MaxTokensPerChunk: 500},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Memories)
	assert.Len(t, res.Invalid.InvalidMemories, 1)

	all, err := store.SearchMemories(context.Background(), "ws1", storage.SearchQuery{Vector: make([]float32, 8), Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRetrieveThinWrapsContextEngine(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	_, err := coord.Ingest(context.Background(), sampleExport(), IngestOptions{
		WorkspaceID:   "ws1",
		ChunkStrategy: "sliding-window",
		ChunkConfig:   chunk.Config{MaxTokensPerChunk: 500},
	})
	require.NoError(t, err)

	result, err := coord.Retrieve(context.Background(), "coffee preferences", "ws1", retrieval.Options{Limit: 5, TokenBudget: 500})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Memories)
}

func TestComputeStatsAveragesAcrossSuccessfulChunksOnly(t *testing.T) {
	chunks := []model.ChunkResult{
		{Chunk: model.Chunk{Messages: make([]model.NormalizedMessage, 4)}},
		{Chunk: model.Chunk{Messages: make([]model.NormalizedMessage, 2)}},
		{Err: assertErr{}},
	}
	extractions := []model.ChunkExtraction{
		{Memories: make([]model.ExtractedMemory, 3)},
		{Memories: make([]model.ExtractedMemory, 1)},
	}
	stats := computeStats(chunks, extractions)
	assert.Equal(t, 2, stats.ChunkCount)
	assert.Equal(t, 1, stats.FailureCount)
	assert.Equal(t, 2, stats.MinChunkSize)
	assert.Equal(t, 4, stats.MaxChunkSize)
	assert.InDelta(t, 3.0, stats.AvgChunkSize, 0.001)
	assert.InDelta(t, 2.0, stats.AvgMemoriesPerChunk, 0.001)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
