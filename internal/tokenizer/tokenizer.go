// Package tokenizer implements the Token Counter: pluggable counting
// methods (exact BPE, two provider linear estimates, a char-divide
// fallback) behind a shared LRU+TTL cache.
package tokenizer

import (
	"math"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"convmem/internal/model"
)

// Method names a token-counting strategy.
type Method string

const (
	MethodExactBPE    Method = "exact_bpe"
	MethodProviderA   Method = "provider_a"
	MethodProviderB   Method = "provider_b"
	MethodCharDivide  Method = "char_divide"
)

// Accuracy classifies how closely a count reflects what a provider's real
// tokenizer would report.
type Accuracy string

const (
	AccuracyExact       Accuracy = "exact"
	AccuracyEstimated   Accuracy = "estimated"
	AccuracyApproximate Accuracy = "approximate"
)

// CountResult is the full count(text, method) contract: the token count,
// the method that produced it, and that count's accuracy.
type CountResult struct {
	Tokens   int
	Method   Method
	Accuracy Accuracy
}

// Counter counts tokens in text and in whole conversations, caching results
// by (method, content hash).
type Counter struct {
	mu    sync.Mutex
	bpe   *tiktoken.Tiktoken
	cache *Cache
}

// New builds a Counter. encodingName selects the tiktoken encoding used by
// MethodExactBPE (e.g. "cl100k_base"); if it fails to load, exact-bpe
// degrades to the char-divide heuristic, the same graceful fallback the
// teacher's tokenizer.go uses for providers with no tokenizer endpoint.
func New(encodingName string, cache *Cache) *Counter {
	enc, _ := tiktoken.GetEncoding(encodingName)
	return &Counter{bpe: enc, cache: cache}
}

// Count returns the token count of text under the given method, consulting
// the cache first.
func (c *Counter) Count(method Method, text string) int {
	if c.cache != nil {
		if n, ok := c.cache.Get(string(method), text); ok {
			return n
		}
	}
	n := c.countUncached(method, text)
	if c.cache != nil {
		c.cache.Set(string(method), text, n)
	}
	return n
}

func (c *Counter) countUncached(method Method, text string) int {
	switch method {
	case MethodExactBPE:
		return c.exactBPE(text)
	case MethodProviderA:
		return providerAEstimate(text)
	case MethodProviderB:
		return providerBEstimate(text)
	default:
		return charDivideEstimate(text)
	}
}

func (c *Counter) exactBPE(text string) int {
	c.mu.Lock()
	enc := c.bpe
	c.mu.Unlock()
	if enc == nil {
		return charDivideEstimate(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// accuracyFor reports the accuracy Count actually delivers for method,
// downgrading exact-bpe to approximate when the bundled tokenizer never
// loaded and Count silently fell back to char-divide.
func (c *Counter) accuracyFor(method Method) Accuracy {
	switch method {
	case MethodExactBPE:
		c.mu.Lock()
		loaded := c.bpe != nil
		c.mu.Unlock()
		if !loaded {
			return AccuracyApproximate
		}
		return AccuracyExact
	case MethodProviderA, MethodProviderB:
		return AccuracyEstimated
	default:
		return AccuracyApproximate
	}
}

// CountWithAccuracy is the count(text, method) contract in full: the token
// count alongside the method and the accuracy that count actually carries.
func (c *Counter) CountWithAccuracy(method Method, text string) CountResult {
	return CountResult{Tokens: c.Count(method, text), Method: method, Accuracy: c.accuracyFor(method)}
}

// ceilDiv divides len(text) by perToken and rounds up.
func ceilDiv(n int, perToken float64) int {
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / perToken))
}

// providerAEstimate models a provider whose tokens run ~3.5 chars/token.
func providerAEstimate(text string) int {
	return ceilDiv(len(text), 3.5)
}

// providerBEstimate models a provider whose tokens run ~3.8 chars/token.
func providerBEstimate(text string) int {
	return ceilDiv(len(text), 3.8)
}

// charDivideEstimate is the universal fallback: chars/4, rounded up. Ported
// from EstimateTokens.
func charDivideEstimate(text string) int {
	return ceilDiv(len(text), 4)
}

// CountMessage counts the "role: content" concatenation a chat API bills
// for, the countMessage contract.
func (c *Counter) CountMessage(method Method, m model.NormalizedMessage) int {
	return c.Count(method, string(m.Role)+": "+m.Content)
}

// CountMessageWithAccuracy is CountMessage plus the accuracy the method
// delivers.
func (c *Counter) CountMessageWithAccuracy(method Method, m model.NormalizedMessage) CountResult {
	return CountResult{Tokens: c.CountMessage(method, m), Method: method, Accuracy: c.accuracyFor(method)}
}

// CountMessages sums CountMessage over a conversation's messages.
func (c *Counter) CountMessages(method Method, messages []model.NormalizedMessage) int {
	total := 0
	for _, m := range messages {
		total += c.CountMessage(method, m)
	}
	return total
}

// CountConversation sums every message's CountMessage, the
// countConversation contract.
func (c *Counter) CountConversation(method Method, conv model.NormalizedConversation) CountResult {
	return CountResult{Tokens: c.CountMessages(method, conv.Messages), Method: method, Accuracy: c.accuracyFor(method)}
}

// RecommendedMethod picks a counting method for a provider name, defaulting
// to char-divide when the provider has no known exact or linear model.
func RecommendedMethod(provider string) Method {
	switch strings.ToLower(provider) {
	case "openai", "chatgpt":
		return MethodExactBPE
	case "anthropic", "claude":
		return MethodProviderA
	case "google", "gemini":
		return MethodProviderB
	default:
		return MethodCharDivide
	}
}
