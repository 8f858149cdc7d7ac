// Package model holds the types shared across the pipeline: normalized
// conversations, chunks, and the records produced by extraction.
package model

import "time"

// NormalizedMessage is a single turn in a conversation, translated from a
// provider-specific export format into the pipeline's common shape.
type NormalizedMessage struct {
	ID        string            `json:"id"`
	Role      string            `json:"role"` // user | assistant | system | tool
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NormalizedConversation is a provider-agnostic chat export.
type NormalizedConversation struct {
	ID        string              `json:"id"`
	Provider  string              `json:"provider"`
	Title     string              `json:"title,omitempty"`
	Messages  []NormalizedMessage `json:"messages"`
	CreatedAt time.Time           `json:"created_at"`
	Metadata  map[string]string   `json:"metadata,omitempty"`
}

// Chunk is a contiguous slice of a conversation's messages sized to fit
// within a token budget, along with the strategy that produced it.
type Chunk struct {
	ID                        string              `json:"id"`
	ConversationID            string              `json:"conversation_id"`
	Index                     int                 `json:"index"`
	TotalChunks               int                 `json:"total_chunks"`
	Messages                  []NormalizedMessage `json:"messages"`
	Strategy                  string              `json:"strategy"`
	TokenCount                int                 `json:"token_count"`
	CreatedAt                 time.Time           `json:"created_at"`
	StartMessageIndex         int                 `json:"start_message_index"` // index of Messages[0] in the parent conversation
	EndMessageIndex           int                 `json:"end_message_index"`   // index of the last message in the parent conversation

	OverlapWith               string `json:"overlap_with,omitempty"` // previous chunk id; set on every chunk after the first, even with zero overlap
	OverlapWithPrevious       int    `json:"overlap_with_previous,omitempty"`        // message count shared with the previous chunk
	OverlapWithNext           int    `json:"overlap_with_next,omitempty"`            // message count shared with the next chunk
	OverlapTokensWithPrevious int    `json:"overlap_tokens_with_previous,omitempty"`
	OverlapTokensWithNext     int    `json:"overlap_tokens_with_next,omitempty"`
}

// ChunkContext is an immutable record describing a previous chunk. Nothing
// in this module constructs or threads one: sequential extraction in the
// pipeline package carries an extract.PreviousContext summary instead.
type ChunkContext struct {
	PreviousChunkID string
	PreviousSummary string
	MessageCount    int
}

// ChunkResult pairs a chunk with the outcome of a stage (e.g. extraction)
// applied to it, without forcing success.
type ChunkResult struct {
	Chunk Chunk
	Err   error
}
