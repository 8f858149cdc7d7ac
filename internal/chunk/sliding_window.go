package chunk

import (
	"convmem/internal/model"
	"convmem/internal/tokenizer"
)

// SlidingWindow walks a conversation forward, starting each new chunk with
// the previous chunk's trailing overlap messages and filling with whole
// messages up to the token budget.
type SlidingWindow struct{}

func (SlidingWindow) Name() string { return "sliding-window" }

func (SlidingWindow) CanHandle(conv model.NormalizedConversation, counter *tokenizer.Counter, cfg Config) bool {
	return !anyMessageExceeds(conv, counter, cfg.TokenMethod, cfg.MaxTokensPerChunk)
}

func (s SlidingWindow) Chunk(conv model.NormalizedConversation, counter *tokenizer.Counter, cfg Config) ([]model.Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !s.CanHandle(conv, counter, cfg) {
		return nil, chunkTooLargeErr(conv.ID)
	}

	overlapBudget := cfg.effectiveOverlapTokens()
	messages := conv.Messages

	var chunks []model.Chunk
	var carry []model.NormalizedMessage
	i := 0
	for i < len(messages) {
		current := append([]model.NormalizedMessage(nil), carry...)
		tokens := messageListTokens(current, counter, cfg.TokenMethod)
		startIdx := i

		// Add whole messages while tokens+nextMessageTokens <= max; the
		// chunk keeps growing past minChunkSize on its own, it only ever
		// stops here because the next message would exceed max.
		for i < len(messages) {
			next := messages[i]
			nextTokens := counter.CountMessage(cfg.TokenMethod, next)
			if len(current) > 0 && tokens+nextTokens > cfg.MaxTokensPerChunk {
				break
			}
			current = append(current, next)
			tokens += nextTokens
			i++
		}

		// Guarantee forward progress: if the overlap carry alone already
		// left no room under max for a single new message, drop the carry
		// and start fresh with just that message instead of ever exceeding
		// maxTokensPerChunk.
		if i == startIdx && i < len(messages) {
			next := messages[i]
			current = []model.NormalizedMessage{next}
			tokens = counter.CountMessage(cfg.TokenMethod, next)
			i++
		}

		if len(current) == 0 {
			break
		}

		chunks = append(chunks, model.Chunk{
			ID:             chunkID(conv.ID, len(chunks)),
			ConversationID: conv.ID,
			Index:          len(chunks),
			Messages:       current,
			Strategy:       s.Name(),
			TokenCount:     tokens,
		})

		carry = selectOverlapTail(current, counter, cfg.TokenMethod, overlapBudget)
		if i >= len(messages) {
			break
		}
	}

	finalizePass(conv, chunks, counter, cfg.TokenMethod)
	return chunks, nil
}

func messageListTokens(msgs []model.NormalizedMessage, counter *tokenizer.Counter, method tokenizer.Method) int {
	total := 0
	for _, m := range msgs {
		total += counter.CountMessage(method, m)
	}
	return total
}
