package chunk

import (
	"regexp"
	"strings"

	"convmem/internal/model"
	"convmem/internal/tokenizer"
)

var (
	nonWord  = regexp.MustCompile(`[^\w]+`)
	stopWords = map[string]bool{
		"the": true, "and": true, "for": true, "that": true, "this": true,
		"with": true, "you": true, "have": true, "are": true, "was": true,
		"were": true, "but": true, "not": true, "can": true, "your": true,
		"from": true, "what": true, "about": true, "just": true, "like": true,
		"they": true, "them": true, "their": true, "would": true, "could": true,
	}
)

// Semantic cuts a conversation at points of low keyword-overlap similarity
// between the messages before and after the candidate point, falling back
// to sliding-window both for short conversations and for any oversized
// segment it produces.
type Semantic struct{}

func (Semantic) Name() string { return "semantic" }

func (Semantic) CanHandle(conv model.NormalizedConversation, counter *tokenizer.Counter, cfg Config) bool {
	return !anyMessageExceeds(conv, counter, cfg.TokenMethod, cfg.MaxTokensPerChunk)
}

func (s Semantic) Chunk(conv model.NormalizedConversation, counter *tokenizer.Counter, cfg Config) ([]model.Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !s.CanHandle(conv, counter, cfg) {
		return nil, chunkTooLargeErr(conv.ID)
	}

	sw := SlidingWindow{}
	if len(conv.Messages) < 5 {
		return sw.Chunk(conv, counter, cfg)
	}

	keywords := make([]map[string]int, len(conv.Messages))
	for i, m := range conv.Messages {
		keywords[i] = extractKeywords(m)
	}

	min := cfg.minChunkSize()
	overlapBudget := cfg.effectiveOverlapTokens()
	messages := conv.Messages

	var chunks []model.Chunk
	var carry []model.NormalizedMessage
	segStart := 0
	fellBack := false

	for segStart < len(messages) {
		current := append([]model.NormalizedMessage(nil), carry...)
		tokens := messageListTokens(current, counter, cfg.TokenMethod)

		i := segStart
		for i < len(messages) {
			next := messages[i]
			nextTokens := counter.CountMessage(cfg.TokenMethod, next)
			if tokens+nextTokens > cfg.MaxTokensPerChunk && len(current) > 0 {
				break
			}
			current = append(current, next)
			tokens += nextTokens
			i++

			if tokens >= min && i < len(messages) {
				sim := windowSimilarity(keywords, i)
				if sim < cfg.Semantic.HighThreshold {
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
			break
		}

		if tokens > cfg.MaxTokensPerChunk {
			// The boundary search still produced an oversized segment;
			// re-split it internally with sliding-window and annotate.
			sub, err := sw.Chunk(model.NormalizedConversation{ID: conv.ID, Messages: current}, counter, cfg)
			if err != nil {
				return nil, err
			}
			for j := range sub {
				sub[j].Strategy = "semantic (fallback to sliding-window)"
				sub[j].Index = len(chunks) + j
				sub[j].ID = chunkID(conv.ID, len(chunks)+j)
			}
			chunks = append(chunks, sub...)
			fellBack = true
		} else {
			chunks = append(chunks, model.Chunk{
				ID:             chunkID(conv.ID, len(chunks)),
				ConversationID: conv.ID,
				Index:          len(chunks),
				Messages:       current,
				Strategy:       s.Name(),
				TokenCount:     tokens,
			})
		}

		carry = selectOverlapTail(current, counter, cfg.TokenMethod, overlapBudget)
		if i >= len(messages) {
			break
		}
		segStart = i
	}

	_ = fellBack
	finalizePass(conv, chunks, counter, cfg.TokenMethod)
	return chunks, nil
}

// extractKeywords tokenizes a message's content and string metadata values
// into a lowercase term-frequency map, dropping short tokens and stop words.
func extractKeywords(m model.NormalizedMessage) map[string]int {
	freq := make(map[string]int)
	addTerms := func(text string) {
		for _, tok := range nonWord.Split(strings.ToLower(text), -1) {
			if len(tok) <= 2 || stopWords[tok] {
				continue
			}
			freq[tok]++
		}
	}
	addTerms(m.Content)
	for _, v := range m.Metadata {
		addTerms(v)
	}
	return freq
}

// windowSimilarity computes the weighted-Jaccard similarity between the up
// to 3 messages preceding idx and the up to 3 messages following it.
func windowSimilarity(keywords []map[string]int, idx int) float64 {
	before := mergeWindow(keywords, idx-3, idx)
	after := mergeWindow(keywords, idx, idx+3)
	return weightedJaccard(before, after)
}

func mergeWindow(keywords []map[string]int, from, to int) map[string]int {
	if from < 0 {
		from = 0
	}
	if to > len(keywords) {
		to = len(keywords)
	}
	merged := make(map[string]int)
	for i := from; i < to; i++ {
		for term, count := range keywords[i] {
			merged[term] += count
		}
	}
	return merged
}

func weightedJaccard(a, b map[string]int) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	var intersection, union float64
	seen := make(map[string]bool)
	for term, fa := range a {
		fb := a0(b, term)
		intersection += minInt(fa, fb)
		union += maxInt(fa, fb)
		seen[term] = true
	}
	for term, fb := range b {
		if seen[term] {
			continue
		}
		union += float64(fb)
	}
	if union == 0 {
		return 1
	}
	return intersection / union
}

func a0(m map[string]int, key string) int { return m[key] }

func minInt(a, b int) float64 {
	if a < b {
		return float64(a)
	}
	return float64(b)
}

func maxInt(a, b int) float64 {
	if a > b {
		return float64(a)
	}
	return float64(b)
}
