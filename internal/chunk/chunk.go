// Package chunk implements the Chunking Strategies and the Chunking
// Orchestrator that selects and runs them.
package chunk

import (
	"fmt"
	"time"

	"convmem/internal/model"
	"convmem/internal/pipelineerr"
	"convmem/internal/tokenizer"
)

// Config carries the shared chunking parameters every strategy validates
// and builds on, mirroring the common base in the Chunking Strategies
// design.
type Config struct {
	MaxTokensPerChunk   int
	OverlapTokens       int     // wins over OverlapPercentage if both set
	OverlapPercentage   float64 // in [0, 1)
	MinChunkSize        int     // defaults to 20% of max if unset
	TokenMethod         tokenizer.Method
	Semantic            SemanticConfig
}

// SemanticConfig holds the tunable thresholds for the semantic strategy.
type SemanticConfig struct {
	LowThreshold  float64 // carried for configuration; Semantic.Chunk does not read it
	HighThreshold float64 // similarity below this is a boundary where Semantic.Chunk cuts
}

// Validate checks the common configuration invariants every strategy
// relies on before running.
func (c Config) Validate() error {
	if c.MaxTokensPerChunk <= 0 {
		return pipelineerr.New(pipelineerr.KindValidation, "maxTokensPerChunk must be > 0")
	}
	if c.OverlapTokens < 0 {
		return pipelineerr.New(pipelineerr.KindValidation, "overlapTokens must be >= 0")
	}
	if c.OverlapPercentage < 0 || c.OverlapPercentage >= 1 {
		return pipelineerr.New(pipelineerr.KindValidation, "overlapPercentage must be in [0, 1)")
	}
	eff := c.effectiveOverlapTokens()
	if eff >= c.MaxTokensPerChunk {
		return pipelineerr.New(pipelineerr.KindValidation, "effective overlap must be strictly less than maxTokensPerChunk")
	}
	if float64(eff) > 0.9*float64(c.MaxTokensPerChunk) {
		return pipelineerr.New(pipelineerr.KindValidation, "effective overlap must be <= 90% of maxTokensPerChunk")
	}
	return nil
}

func (c Config) effectiveOverlapTokens() int {
	if c.OverlapTokens > 0 {
		return c.OverlapTokens
	}
	if c.OverlapPercentage > 0 {
		return int(float64(c.MaxTokensPerChunk) * c.OverlapPercentage)
	}
	return 0
}

func (c Config) minChunkSize() int {
	if c.MinChunkSize > 0 {
		return c.MinChunkSize
	}
	return int(float64(c.MaxTokensPerChunk) * 0.2)
}

// Strategy produces an ordered sequence of Chunks from a conversation.
type Strategy interface {
	Name() string
	// CanHandle reports whether the strategy can chunk conv under cfg —
	// e.g. a single message exceeding MaxTokensPerChunk makes every
	// strategy reject, since messages are never split.
	CanHandle(conv model.NormalizedConversation, counter *tokenizer.Counter, cfg Config) bool
	Chunk(conv model.NormalizedConversation, counter *tokenizer.Counter, cfg Config) ([]model.Chunk, error)
}

func chunkID(convID string, index int) string {
	return fmt.Sprintf("%s-chunk-%03d", convID, index)
}

// selectOverlapTail returns the trailing messages of msgs whose cumulative
// token count stays within budget, preserving whole messages, for use as
// the next chunk's leading overlap.
func selectOverlapTail(msgs []model.NormalizedMessage, counter *tokenizer.Counter, method tokenizer.Method, budget int) []model.NormalizedMessage {
	if budget <= 0 || len(msgs) == 0 {
		return nil
	}
	var tail []model.NormalizedMessage
	tokens := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		t := counter.CountMessage(method, msgs[i])
		if tokens+t > budget {
			break
		}
		tail = append([]model.NormalizedMessage{msgs[i]}, tail...)
		tokens += t
	}
	return tail
}

func anyMessageExceeds(conv model.NormalizedConversation, counter *tokenizer.Counter, method tokenizer.Method, max int) bool {
	for _, m := range conv.Messages {
		if counter.CountMessage(method, m) > max {
			return true
		}
	}
	return false
}

// finalizePass fills TotalChunks, start/end message indices into the parent
// conversation, CreatedAt, and both directions of overlap linkage (message
// counts and token counts), the "second pass" the sliding-window design
// calls for.
func finalizePass(conv model.NormalizedConversation, chunks []model.Chunk, counter *tokenizer.Counter, method tokenizer.Method) {
	now := time.Now()
	cursor := 0
	for i := range chunks {
		chunks[i].TotalChunks = len(chunks)
		chunks[i].CreatedAt = now
		start := messageIndexFrom(conv.Messages, chunks[i].Messages, cursor)
		chunks[i].StartMessageIndex = start
		chunks[i].EndMessageIndex = start + len(chunks[i].Messages) - 1
		cursor = start + 1
	}
	for i := 0; i < len(chunks)-1; i++ {
		chunks[i+1].OverlapWith = chunks[i].ID
		overlap := overlapMessageCount(chunks[i].Messages, chunks[i+1].Messages)
		tokens := 0
		for _, m := range chunks[i+1].Messages[:overlap] {
			tokens += counter.CountMessage(method, m)
		}
		chunks[i].OverlapWithNext = overlap
		chunks[i].OverlapTokensWithNext = tokens
		chunks[i+1].OverlapWithPrevious = overlap
		chunks[i+1].OverlapTokensWithPrevious = tokens
	}
}

// messageIndexFrom locates the parent-conversation index of chunkMsgs[0],
// scanning forward from `from` (monotonic across chunks, since chunks are
// produced in conversation order).
func messageIndexFrom(parent, chunkMsgs []model.NormalizedMessage, from int) int {
	if len(chunkMsgs) == 0 {
		return from
	}
	want := chunkMsgs[0].ID
	for i := from; i < len(parent); i++ {
		if parent[i].ID == want {
			return i
		}
	}
	return from
}

// overlapMessageCount returns how many of next's leading messages are the
// same messages (by id) as prev's trailing messages.
func overlapMessageCount(prev, next []model.NormalizedMessage) int {
	max := len(prev)
	if len(next) < max {
		max = len(next)
	}
	for n := max; n > 0; n-- {
		match := true
		for i := 0; i < n; i++ {
			if prev[len(prev)-n+i].ID != next[i].ID {
				match = false
				break
			}
		}
		if match {
			return n
		}
	}
	return 0
}
