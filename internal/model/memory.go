package model

import "time"

// ExtractedMemory is a single structured fact or preference pulled from a
// chunk by the extraction strategy.
type ExtractedMemory struct {
	ID             string            `json:"id"` // content hash, stable across re-extraction of identical content
	Type           string            `json:"type"`
	Content        string            `json:"content"`
	Confidence     float64           `json:"confidence"`
	WorkspaceID    string            `json:"workspace_id"`
	ConversationID string            `json:"conversation_id"`
	SourceMsgs     []string          `json:"source_message_ids"`
	SourceChunks   []string          `json:"source_chunk_ids,omitempty"`
	MergedFrom     []string          `json:"merged_from,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Embedding      []float32         `json:"-"` // populated by the ingestion pipeline before storage, never serialized
}

// EntityKey returns the normalized (entityType, name) identity string used
// in content-hash computation when Type == "entity"; empty for other types.
func (m ExtractedMemory) EntityKey() string {
	if m.Type != "entity" {
		return ""
	}
	return NormalizeContent(m.Metadata["entity_type"]) + ":" + NormalizeContent(m.Metadata["entity_name"])
}

// ExtractedRelationship links two memories discovered in the same chunk.
type ExtractedRelationship struct {
	ID         string    `json:"id"`
	FromID     string    `json:"from_id"`
	ToID       string    `json:"to_id"`
	Type       string    `json:"type"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChunkExtraction is the raw per-chunk output of the Extraction Strategy,
// before cross-chunk deduplication rewires ids.
type ChunkExtraction struct {
	ChunkID       string
	Memories      []ExtractedMemory
	Relationships []ExtractedRelationship
}
