package chunk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convmem/internal/model"
	"convmem/internal/tokenizer"
)

func makeConversation(n int) model.NormalizedConversation {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := make([]model.NormalizedMessage, n)
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msgs[i] = model.NormalizedMessage{
			ID:        idOf(i),
			Role:      role,
			Content:   "this is message number with some content to count tokens against",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return model.NormalizedConversation{ID: "conv-1", Provider: "generic", Messages: msgs}
}

func idOf(i int) string {
	return "m" + string(rune('a'+i))
}

func TestSlidingWindowNeverSplitsMessagesAndRespectsMax(t *testing.T) {
	counter := tokenizer.New("cl100k_base", nil)
	conv := makeConversation(20)
	cfg := Config{MaxTokensPerChunk: 60, OverlapTokens: 10, TokenMethod: tokenizer.MethodCharDivide}

	chunks, err := SlidingWindow{}.Chunk(conv, counter, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, cfg.MaxTokensPerChunk)
	}

	seen := map[string]bool{}
	for _, m := range conv.Messages {
		seen[m.ID] = false
	}
	for _, c := range chunks {
		for _, m := range c.Messages {
			seen[m.ID] = true
		}
	}
	for id, wasSeen := range seen {
		assert.True(t, wasSeen, "message %s missing from any chunk", id)
	}
}

func TestOverlapAccountingMatchesSharedMessages(t *testing.T) {
	counter := tokenizer.New("cl100k_base", nil)
	conv := makeConversation(20)
	cfg := Config{MaxTokensPerChunk: 60, OverlapTokens: 10, TokenMethod: tokenizer.MethodCharDivide}

	chunks, err := SlidingWindow{}.Chunk(conv, counter, cfg)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i := 0; i < len(chunks)-1; i++ {
		assert.Equal(t, chunks[i].ID, chunks[i+1].OverlapWith)
		assert.GreaterOrEqual(t, chunks[i].OverlapTokensWithNext, 0)
	}
}

func TestConfigValidateRejectsExcessiveOverlap(t *testing.T) {
	cfg := Config{MaxTokensPerChunk: 100, OverlapTokens: 95}
	assert.Error(t, cfg.Validate())
}

func TestBoundaryFallsBackToSlidingWindowWhenNoValidBoundary(t *testing.T) {
	counter := tokenizer.New("cl100k_base", nil)
	// All same role, no timestamp gaps -> every boundary candidate scores 0.
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := make([]model.NormalizedMessage, 10)
	for i := range msgs {
		msgs[i] = model.NormalizedMessage{ID: idOf(i), Role: "assistant", Content: "short", Timestamp: base}
	}
	conv := model.NormalizedConversation{ID: "conv-flat", Messages: msgs}
	cfg := Config{MaxTokensPerChunk: 12, OverlapTokens: 2, TokenMethod: tokenizer.MethodCharDivide}

	chunks, err := Boundary{}.Chunk(conv, counter, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
}

func TestSemanticBypassesShortConversations(t *testing.T) {
	counter := tokenizer.New("cl100k_base", nil)
	conv := makeConversation(3)
	cfg := Config{MaxTokensPerChunk: 200, TokenMethod: tokenizer.MethodCharDivide, Semantic: SemanticConfig{LowThreshold: 0.3, HighThreshold: 0.5}}

	chunks, err := Semantic{}.Chunk(conv, counter, cfg)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestOrchestratorSkipsChunkingWhenUnderBudget(t *testing.T) {
	counter := tokenizer.New("cl100k_base", nil)
	orch := NewOrchestrator(counter, 2)
	conv := makeConversation(2)
	cfg := Config{MaxTokensPerChunk: 5000, TokenMethod: tokenizer.MethodCharDivide}

	chunks, err := orch.RunOne("sliding-window", conv, cfg)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "none", chunks[0].Strategy)
}

func TestRegistryRefusesDefaultOverwrite(t *testing.T) {
	r := NewRegistry()
	assert.Panics(t, func() {
		r.Register(SlidingWindow{})
	})
}
