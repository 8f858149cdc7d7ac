package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convmem/internal/model"
)

func memory(id, ws string, embedding []float32) model.ExtractedMemory {
	return model.ExtractedMemory{
		ID: id, Type: "fact", Content: "content " + id, WorkspaceID: ws,
		ConversationID: "conv", Confidence: 0.8, CreatedAt: time.Now(), Embedding: embedding,
	}
}

func TestSaveAndGetMemoryRoundTrips(t *testing.T) {
	s := New(NewMemoryVectorBackend())
	ctx := context.Background()
	m := memory("m1", "ws1", []float32{1, 0, 0})
	require.NoError(t, s.SaveMemory(ctx, m))

	got, ok, err := s.GetMemory(ctx, "m1", "ws1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m.Content, got.Content)
}

func TestGetMemoryReturnsFalseAcrossWorkspaces(t *testing.T) {
	s := New(NewMemoryVectorBackend())
	ctx := context.Background()
	require.NoError(t, s.SaveMemory(ctx, memory("m1", "ws1", nil)))

	_, ok, err := s.GetMemory(ctx, "m1", "ws2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSearchMemoriesIsWorkspaceScoped(t *testing.T) {
	s := New(NewMemoryVectorBackend())
	ctx := context.Background()
	require.NoError(t, s.SaveMemory(ctx, memory("a", "ws1", []float32{1, 0, 0})))
	require.NoError(t, s.SaveMemory(ctx, memory("b", "ws2", []float32{1, 0, 0})))

	results, err := s.SearchMemories(ctx, "ws1", SearchQuery{Vector: []float32{1, 0, 0}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Memory.ID)
}

func TestSearchMemoriesFiltersByType(t *testing.T) {
	s := New(NewMemoryVectorBackend())
	ctx := context.Background()
	fact := memory("a", "ws1", []float32{1, 0, 0})
	pref := memory("b", "ws1", []float32{1, 0, 0})
	pref.Type = "preference"
	require.NoError(t, s.SaveMemory(ctx, fact))
	require.NoError(t, s.SaveMemory(ctx, pref))

	results, err := s.SearchMemories(ctx, "ws1", SearchQuery{Vector: []float32{1, 0, 0}, Limit: 10, Types: []string{"preference"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].Memory.ID)
}

func TestUpdateMemoryAppliesWhitelistedFieldsOnly(t *testing.T) {
	s := New(NewMemoryVectorBackend())
	ctx := context.Background()
	require.NoError(t, s.SaveMemory(ctx, memory("a", "ws1", nil)))

	newContent := "updated content"
	got, ok, err := s.UpdateMemory(ctx, "a", "ws1", MemoryUpdate{Content: &newContent})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, newContent, got.Content)
}

func TestUpdateMemoryReturnsFalseAcrossWorkspaces(t *testing.T) {
	s := New(NewMemoryVectorBackend())
	ctx := context.Background()
	require.NoError(t, s.SaveMemory(ctx, memory("a", "ws1", nil)))

	newContent := "nope"
	_, ok, err := s.UpdateMemory(ctx, "a", "ws2", MemoryUpdate{Content: &newContent})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRelationshipsAreWorkspaceScopedBothDirections(t *testing.T) {
	s := New(NewMemoryVectorBackend())
	ctx := context.Background()
	require.NoError(t, s.SaveMemory(ctx, memory("a", "ws1", nil)))
	require.NoError(t, s.SaveMemory(ctx, memory("b", "ws1", nil)))
	require.NoError(t, s.SaveRelationship(ctx, model.ExtractedRelationship{ID: "r1", FromID: "a", ToID: "b", Type: "related_to", Confidence: 0.5}))

	relsFromA, err := s.GetMemoryRelationships(ctx, "a", "ws1")
	require.NoError(t, err)
	assert.Len(t, relsFromA, 1)

	relsFromB, err := s.GetMemoryRelationships(ctx, "b", "ws1")
	require.NoError(t, err)
	assert.Len(t, relsFromB, 1)
}

func TestMemoryVectorBackendCosineOrdering(t *testing.T) {
	b := NewMemoryVectorBackend()
	ctx := context.Background()
	require.NoError(t, b.Upsert(ctx, "close", []float32{1, 0, 0}, nil))
	require.NoError(t, b.Upsert(ctx, "far", []float32{0, 1, 0}, nil))

	results, err := b.SimilaritySearch(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "close", results[0].ID)
}
