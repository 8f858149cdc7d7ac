package extract

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convmem/internal/model"
)

// scriptedLLM returns a fixed response regardless of prompt, standing in
// for a real provider the same way the deterministic embedder stands in
// for a real embedding service.
type scriptedLLM struct {
	response []byte
	err      error
}

func (s scriptedLLM) Name() string { return "scripted" }
func (s scriptedLLM) CompleteStructured(_ context.Context, _ string, _ map[string]any) ([]byte, error) {
	return s.response, s.err
}

func testChunk() model.Chunk {
	return model.Chunk{
		ID:             "chunk-1",
		ConversationID: "conv-1",
		Messages: []model.NormalizedMessage{
			{ID: "m1", Role: "user", Content: "My favorite color is blue.", Timestamp: time.Now()},
		},
	}
}

func TestExtractMapsMemoriesAndRelationships(t *testing.T) {
	resp := rawResponse{
		Memories: []rawMemory{
			{Type: "fact", Content: "favorite color is blue", Confidence: 0.9},
			{Type: "fact", Content: "likes the ocean", Confidence: 0.7},
		},
		Relationships: []rawRelationship{
			{FromMemoryIndex: 0, ToMemoryIndex: 1, RelationshipType: "related_to", Confidence: 0.5},
		},
	}
	body, err := json.Marshal(resp)
	require.NoError(t, err)

	s := New(scriptedLLM{response: body})
	cfg := Config{WorkspaceID: "ws1", MemoryTypes: []MemoryTypeConfig{{Type: "fact", Instruction: "facts"}}}

	result, err := s.Extract(context.Background(), "conv-1", testChunk(), cfg, nil)
	require.NoError(t, err)
	require.Len(t, result.Memories, 2)
	assert.Equal(t, "ws1", result.Memories[0].WorkspaceID)
	assert.Equal(t, []string{"m1"}, result.Memories[0].SourceMsgs)
	require.Len(t, result.Relationships, 1)
	assert.Equal(t, result.Memories[0].ID, result.Relationships[0].FromID)
	assert.Equal(t, result.Memories[1].ID, result.Relationships[0].ToID)
}

func TestExtractDropsRelationshipsWithInvalidIndices(t *testing.T) {
	resp := rawResponse{
		Memories: []rawMemory{{Type: "fact", Content: "x", Confidence: 0.5}},
		Relationships: []rawRelationship{
			{FromMemoryIndex: 0, ToMemoryIndex: 5, RelationshipType: "related_to", Confidence: 0.5},
		},
	}
	body, _ := json.Marshal(resp)
	s := New(scriptedLLM{response: body})
	cfg := Config{WorkspaceID: "ws1", MemoryTypes: []MemoryTypeConfig{{Type: "fact", Instruction: "facts"}}}

	result, err := s.Extract(context.Background(), "conv-1", testChunk(), cfg, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Relationships)
}

func TestExtractSurfacesLLMFailureAsTypedError(t *testing.T) {
	s := New(scriptedLLM{err: assertErr{}})
	cfg := Config{WorkspaceID: "ws1"}
	_, err := s.Extract(context.Background(), "conv-1", testChunk(), cfg, nil)
	assert.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestSummarizeIncludesCountsAndMemories(t *testing.T) {
	memories := []model.ExtractedMemory{{ID: "a", Type: "fact", Content: "x"}}
	s := Summarize(1, 3, memories)
	assert.Contains(t, s, "Chunk 1: 3 messages, 1 memories extracted")
	assert.Contains(t, s, "(fact) x")
}
