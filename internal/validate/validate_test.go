package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convmem/internal/model"
)

func TestValidateRejectsEmptyRequiredFields(t *testing.T) {
	memories := []model.ExtractedMemory{
		{ID: "m1", Type: "", WorkspaceID: "", ConversationID: "c1", Content: "ok content", Confidence: 0.5},
	}
	res := Validate(memories, nil, Config{})
	require.Len(t, res.InvalidMemories, 1)
	assert.Empty(t, res.ValidMemories)
	var fields []string
	for _, e := range res.Errors {
		fields = append(fields, e.Field)
	}
	assert.Contains(t, fields, "type")
	assert.Contains(t, fields, "workspace_id")
}

func TestValidateEnforcesMinContentLengthTrimmed(t *testing.T) {
	memories := []model.ExtractedMemory{
		{ID: "m1", Type: "fact", WorkspaceID: "ws", ConversationID: "c1", Content: "  hi  ", Confidence: 0.5},
	}
	res := Validate(memories, nil, Config{MinContentLength: 5})
	require.Len(t, res.InvalidMemories, 1)
	assert.Equal(t, "content", res.Errors[0].Field)
}

func TestValidateEnforcesConfidenceRangeAndThreshold(t *testing.T) {
	memories := []model.ExtractedMemory{
		{ID: "m1", Type: "fact", WorkspaceID: "ws", ConversationID: "c1", Content: "ok content", Confidence: 1.5},
		{ID: "m2", Type: "fact", WorkspaceID: "ws", ConversationID: "c1", Content: "ok content", Confidence: 0.1},
	}
	res := Validate(memories, nil, Config{MinConfidence: 0.5})
	assert.Len(t, res.InvalidMemories, 2)
}

func TestValidateAcceptsWellFormedMemory(t *testing.T) {
	memories := []model.ExtractedMemory{
		{ID: "m1", Type: "fact", WorkspaceID: "ws", ConversationID: "c1", Content: "well formed content", Confidence: 0.8},
	}
	res := Validate(memories, nil, Config{})
	assert.Len(t, res.ValidMemories, 1)
	assert.Empty(t, res.InvalidMemories)
	assert.Empty(t, res.Errors)
}

func TestValidateRelationshipRequiresResolvableSameWorkspaceEndpoints(t *testing.T) {
	memories := []model.ExtractedMemory{
		{ID: "a", Type: "fact", WorkspaceID: "ws1", ConversationID: "c1", Content: "content a", Confidence: 0.8},
		{ID: "b", Type: "fact", WorkspaceID: "ws2", ConversationID: "c1", Content: "content b", Confidence: 0.8},
	}
	relationships := []model.ExtractedRelationship{
		{ID: "r1", FromID: "a", ToID: "b", Type: "related_to", Confidence: 0.5},
		{ID: "r2", FromID: "a", ToID: "missing", Type: "related_to", Confidence: 0.5},
	}
	res := Validate(memories, relationships, Config{})
	assert.Len(t, res.InvalidRelationships, 2)
	assert.Empty(t, res.ValidRelationships)
}

func TestValidateAcceptsRelationshipBetweenSameWorkspaceMemories(t *testing.T) {
	memories := []model.ExtractedMemory{
		{ID: "a", Type: "fact", WorkspaceID: "ws1", ConversationID: "c1", Content: "content a", Confidence: 0.8},
		{ID: "b", Type: "fact", WorkspaceID: "ws1", ConversationID: "c1", Content: "content b", Confidence: 0.8},
	}
	relationships := []model.ExtractedRelationship{
		{ID: "r1", FromID: "a", ToID: "b", Type: "related_to", Confidence: 0.5},
	}
	res := Validate(memories, relationships, Config{})
	assert.Len(t, res.ValidRelationships, 1)
}
