package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convmem/internal/model"
)

func TestMergeKeepsHighestConfidenceSurvivorAndUnionsSources(t *testing.T) {
	t1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	memories := []model.ExtractedMemory{
		{ID: "dup", Confidence: 0.6, SourceMsgs: []string{"m1"}, SourceChunks: []string{"c1"}, CreatedAt: t1, Metadata: map[string]string{"a": "1"}},
		{ID: "dup", Confidence: 0.9, SourceMsgs: []string{"m2"}, SourceChunks: []string{"c2"}, CreatedAt: t2, Metadata: map[string]string{"b": "2"}},
	}

	result := Merge(memories, nil)
	require.Len(t, result.Memories, 1)
	survivor := result.Memories[0]
	assert.Equal(t, 0.9, survivor.Confidence)
	assert.Equal(t, []string{"m1", "m2"}, survivor.SourceMsgs)
	assert.Equal(t, []string{"c1", "c2"}, survivor.SourceChunks)
	assert.Equal(t, t2, survivor.CreatedAt)
	assert.Equal(t, "1", survivor.Metadata["a"])
	assert.Equal(t, "2", survivor.Metadata["b"])
	assert.Contains(t, survivor.MergedFrom, "dup")
}

func TestRelationshipsRewireThroughSurvivorAndDropOrphans(t *testing.T) {
	memories := []model.ExtractedMemory{
		{ID: "dup", Confidence: 0.9},
		{ID: "dup", Confidence: 0.5},
		{ID: "other", Confidence: 1.0},
	}
	relationships := []model.ExtractedRelationship{
		{ID: "r1", FromID: "dup", ToID: "other", Type: "related_to", Confidence: 0.4},
		{ID: "r2", FromID: "missing", ToID: "other", Type: "related_to", Confidence: 0.9},
	}

	result := Merge(memories, relationships)
	require.Len(t, result.Relationships, 1)
	assert.Equal(t, "other", result.Relationships[0].ToID)
}

func TestDuplicateRelationshipTuplesCollapseToMaxConfidence(t *testing.T) {
	memories := []model.ExtractedMemory{{ID: "a", Confidence: 1}, {ID: "b", Confidence: 1}}
	relationships := []model.ExtractedRelationship{
		{ID: "r1", FromID: "a", ToID: "b", Type: "related_to", Confidence: 0.3},
		{ID: "r2", FromID: "a", ToID: "b", Type: "related_to", Confidence: 0.8},
	}

	result := Merge(memories, relationships)
	require.Len(t, result.Relationships, 1)
	assert.Equal(t, 0.8, result.Relationships[0].Confidence)
}

func TestMergeIsOrderIndependent(t *testing.T) {
	a := []model.ExtractedMemory{{ID: "x", Confidence: 0.5}, {ID: "x", Confidence: 0.9}}
	b := []model.ExtractedMemory{{ID: "x", Confidence: 0.9}, {ID: "x", Confidence: 0.5}}

	r1 := Merge(a, nil)
	r2 := Merge(b, nil)
	assert.Equal(t, r1.Memories[0].Confidence, r2.Memories[0].Confidence)
}
