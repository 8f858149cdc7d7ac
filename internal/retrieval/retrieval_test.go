package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convmem/internal/embed"
	"convmem/internal/model"
	"convmem/internal/storage"
	"convmem/internal/tokenizer"
)

func newTestEngine(t *testing.T) (*Engine, storage.Store) {
	t.Helper()
	store := storage.New(storage.NewMemoryVectorBackend())
	embedder := embed.NewDeterministic(8, true, 0)
	tokens := tokenizer.New("cl100k_base", nil)
	e, err := New(store, embedder, tokens, 100)
	require.NoError(t, err)
	return e, store
}

func seedMemory(t *testing.T, store storage.Store, embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}, id, ws, content string, confidence float64, createdAt time.Time) {
	t.Helper()
	vec, err := embedder.Embed(context.Background(), content)
	require.NoError(t, err)
	err = store.SaveMemory(context.Background(), model.ExtractedMemory{
		ID: id, Type: "fact", Content: content, WorkspaceID: ws, ConversationID: "c1",
		Confidence: confidence, CreatedAt: createdAt, Embedding: vec,
	})
	require.NoError(t, err)
}

func TestSearchReturnsWorkspaceScopedResults(t *testing.T) {
	e, store := newTestEngine(t)
	embedder := embed.NewDeterministic(8, true, 0)
	seedMemory(t, store, embedder, "a", "ws1", "likes coffee", 0.9, time.Now())
	seedMemory(t, store, embedder, "b", "ws2", "likes coffee", 0.9, time.Now())

	results, err := e.Search(context.Background(), "likes coffee", "ws1", Options{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Memory.ID)
}

func TestSearchByVectorRejectsDimensionMismatch(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.SearchByVector(context.Background(), []float32{1, 2}, "ws1", Options{})
	assert.Error(t, err)
}

func TestExpandRelationshipsRespectsSeenSetAndDepth(t *testing.T) {
	e, store := newTestEngine(t)
	embedder := embed.NewDeterministic(8, true, 0)
	seedMemory(t, store, embedder, "a", "ws1", "seed memory", 0.9, time.Now())
	seedMemory(t, store, embedder, "b", "ws1", "related one", 0.8, time.Now())
	seedMemory(t, store, embedder, "c", "ws1", "related two", 0.8, time.Now())
	require.NoError(t, store.SaveRelationship(context.Background(), model.ExtractedRelationship{ID: "r1", FromID: "a", ToID: "b", Type: "related_to", Confidence: 0.5}))
	require.NoError(t, store.SaveRelationship(context.Background(), model.ExtractedRelationship{ID: "r2", FromID: "b", ToID: "c", Type: "related_to", Confidence: 0.5}))

	results, err := e.Search(context.Background(), "seed memory", "ws1", Options{Limit: 10, ExpandRelationships: true, ExpandDepth: 2})
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, r := range results {
		ids[r.Memory.ID] = true
	}
	assert.True(t, ids["a"])
	assert.True(t, ids["b"])
	assert.True(t, ids["c"])
}

func TestLinearBlendRankerBreaksTiesByID(t *testing.T) {
	r := NewLinearBlendRanker(Weights{Similarity: 1})
	now := time.Now()
	candidates := []Scored{
		{Memory: model.ExtractedMemory{ID: "z", CreatedAt: now}, Score: 0.5},
		{Memory: model.ExtractedMemory{ID: "a", CreatedAt: now}, Score: 0.5},
	}
	ranked := r.Rank(candidates)
	assert.Equal(t, "a", ranked[0].Memory.ID)
}

func TestRegisterRankerPanicsOnDefaultName(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.Panics(t, func() {
		_ = e.RegisterRanker(RankerLinearBlend, similarityOnlyRanker{})
	})
}

func TestRegisterTemplatePanicsOnDefaultName(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.Panics(t, func() {
		_ = e.RegisterTemplate(TemplateChat, Template{Format: "{content}"})
	})
}

func TestBuildContextRespectsTokenBudgetAndReportsTruncation(t *testing.T) {
	e, store := newTestEngine(t)
	embedder := embed.NewDeterministic(8, true, 0)
	for i := 0; i < 20; i++ {
		seedMemory(t, store, embedder, string(rune('a'+i)), "ws1", "a fairly long memory about preferences and habits", 0.5, time.Now())
	}

	result, err := e.BuildContext(context.Background(), "preferences", "ws1", Options{Limit: 20, TokenBudget: 20})
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Less(t, len(result.Memories), 20)
}

func TestPreviewContextReportsBudgetUsage(t *testing.T) {
	e, store := newTestEngine(t)
	embedder := embed.NewDeterministic(8, true, 0)
	seedMemory(t, store, embedder, "a", "ws1", "short memory", 0.9, time.Now())

	preview, err := e.PreviewContext(context.Background(), "short memory", "ws1", Options{Limit: 5, TokenBudget: 1000})
	require.NoError(t, err)
	require.Len(t, preview.MemoryIDs, 1)
	assert.Greater(t, preview.BudgetUsedPercent, 0.0)
}
