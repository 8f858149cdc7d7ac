package chunk

import (
	"time"

	"convmem/internal/model"
	"convmem/internal/tokenizer"
)

// Boundary scores candidate split points between adjacent messages and
// greedily cuts the conversation at the best-scoring candidates that yield
// a validly-sized chunk, falling back to sliding-window when no boundary
// can.
type Boundary struct{}

func (Boundary) Name() string { return "boundary" }

func (Boundary) CanHandle(conv model.NormalizedConversation, counter *tokenizer.Counter, cfg Config) bool {
	return !anyMessageExceeds(conv, counter, cfg.TokenMethod, cfg.MaxTokensPerChunk)
}

// boundaryScore scores the candidate split point that falls right before
// msgs[idx] (i.e. between msgs[idx-1] and msgs[idx]).
func boundaryScore(msgs []model.NormalizedMessage, idx int) int {
	if idx <= 0 || idx >= len(msgs) {
		return 0
	}
	score := 0
	if msgs[idx].Role == "user" {
		score += 50
	}
	gap := msgs[idx].Timestamp.Sub(msgs[idx-1].Timestamp)
	switch {
	case gap > 5*time.Minute:
		score += 30
	case gap > time.Minute:
		score += 15
	}

	edge := len(msgs) / 10
	if edge > 3 {
		edge = 3
	}
	if idx <= edge || idx >= len(msgs)-edge {
		score /= 2
	}
	return score
}

func (b Boundary) Chunk(conv model.NormalizedConversation, counter *tokenizer.Counter, cfg Config) ([]model.Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !b.CanHandle(conv, counter, cfg) {
		return nil, chunkTooLargeErr(conv.ID)
	}

	chunks, ok := b.splitAtBoundaries(conv, counter, cfg)
	if !ok {
		sw := SlidingWindow{}
		return sw.Chunk(conv, counter, cfg)
	}
	finalizePass(conv, chunks, counter, cfg.TokenMethod)
	return chunks, nil
}

// splitAtBoundaries scans message indices in order, accumulating a segment
// and cutting it at the first candidate boundary (score > 0) whose
// resulting size is in [min, max], or when the next candidate would push
// the segment over max. Returns ok=false if no boundary anywhere could
// yield a valid chunk, signalling the caller to fall back.
func (b Boundary) splitAtBoundaries(conv model.NormalizedConversation, counter *tokenizer.Counter, cfg Config) ([]model.Chunk, bool) {
	messages := conv.Messages
	min := cfg.minChunkSize()
	overlapBudget := cfg.effectiveOverlapTokens()

	var chunks []model.Chunk
	var carry []model.NormalizedMessage
	segStart := 0
	anyBoundaryUsed := false

	for segStart < len(messages) {
		current := append([]model.NormalizedMessage(nil), carry...)
		tokens := messageListTokens(current, counter, cfg.TokenMethod)
		cut := -1

		i := segStart
		for i < len(messages) {
			next := messages[i]
			nextTokens := counter.CountMessage(cfg.TokenMethod, next)
			if tokens+nextTokens > cfg.MaxTokensPerChunk && len(current) > 0 {
				break // hard stop: would exceed max regardless of boundary
			}
			current = append(current, next)
			tokens += nextTokens
			i++

			if tokens >= min && i < len(messages) {
				score := boundaryScore(messages, i)
				if score > 0 {
					cut = i
					break
				}
			}
		}

		if i == segStart && segStart < len(messages) {
			// Carry alone already left no room under max; drop it and
			// start fresh with just the next message rather than ever
			// exceeding maxTokensPerChunk.
			next := messages[i]
			current = []model.NormalizedMessage{next}
			tokens = counter.CountMessage(cfg.TokenMethod, next)
			i++
		}

		if len(current) == 0 {
			return nil, false
		}
		if cut > 0 {
			anyBoundaryUsed = true
		}

		chunks = append(chunks, model.Chunk{
			ID:             chunkID(conv.ID, len(chunks)),
			ConversationID: conv.ID,
			Index:          len(chunks),
			Messages:       current,
			Strategy:       b.Name(),
			TokenCount:     tokens,
		})

		carry = selectOverlapTail(current, counter, cfg.TokenMethod, overlapBudget)
		if i >= len(messages) {
			break
		}
		segStart = i
	}

	if !anyBoundaryUsed && len(chunks) > 1 {
		return nil, false
	}
	return chunks, true
}
