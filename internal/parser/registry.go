// Package parser implements the Parser Registry: provider-keyed chat
// export parsers plus confidence-scored auto-detection for unlabeled
// input.
package parser

import (
	"encoding/json"
	"sort"
	"sync"

	"convmem/internal/model"
	"convmem/internal/pipelineerr"
)

// Parser turns a raw export payload into normalized conversations.
type Parser interface {
	Name() string
	// CanParse returns a confidence in [0, 1] that raw is this provider's
	// export format, without fully parsing it.
	CanParse(raw []byte) float64
	Parse(raw []byte) ([]model.NormalizedConversation, error)
}

// Registry holds the known parsers and picks one for unlabeled input.
// Construction-time registration of the defaults is followed by read-mostly
// use; custom registrations are serialized the same way a provider factory
// guards its provider map.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
	defaults map[string]bool
}

// NewRegistry builds a Registry preloaded with the built-in provider
// parsers.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser), defaults: make(map[string]bool)}
	for _, p := range []Parser{
		ChatGPTParser{},
		ClaudeParser{},
		GenericParser{},
	} {
		r.parsers[p.Name()] = p
		r.defaults[p.Name()] = true
	}
	return r
}

// Register adds or replaces a named parser. Overwriting a default (built-in)
// parser panics; overwriting a previously custom-registered parser is
// allowed and logged by the caller's choice.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.defaults[p.Name()] {
		panic("parser: refusing to overwrite default parser " + p.Name())
	}
	r.parsers[p.Name()] = p
}

// Get returns the named parser.
func (r *Registry) Get(name string) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[name]
	if !ok {
		return nil, pipelineerr.New(pipelineerr.KindProviderNotFound, "no parser registered for provider "+name)
	}
	return p, nil
}

// Confidence classifies how a detection was reached: high if both the
// structural pattern table and the parser's own CanParse agree, medium if
// only the structural table matched, low if only CanParse did.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

var confidenceRank = map[Confidence]int{ConfidenceHigh: 3, ConfidenceMedium: 2, ConfidenceLow: 1}

// Detection is the result of auto-detection: the chosen parser, how
// confident that choice is, and which structural patterns matched raw
// (independent of which parser, if any, ultimately won).
type Detection struct {
	Parser          Parser
	Confidence      Confidence
	MatchedPatterns []string
}

// structuralPattern describes one provider's expected export shape: a
// required top-level field, plus a nested field checked on a representative
// child of that field (an element of an array field, or a value of a map
// field). Evaluated independently of any parser's own CanParse.
type structuralPattern struct {
	provider       string
	requiredField  string
	nestedField    string
	representative func(field json.RawMessage) (json.RawMessage, bool)
}

var structuralPatterns = []structuralPattern{
	{provider: "chatgpt", requiredField: "mapping", nestedField: "message", representative: firstMapValue},
	{provider: "claude", requiredField: "chat_messages", nestedField: "sender", representative: firstArrayElement},
	{provider: "generic", requiredField: "messages", nestedField: "role", representative: firstArrayElement},
}

func firstArrayElement(field json.RawMessage) (json.RawMessage, bool) {
	var arr []json.RawMessage
	if err := json.Unmarshal(field, &arr); err != nil || len(arr) == 0 {
		return nil, false
	}
	return arr[0], true
}

func firstMapValue(field json.RawMessage) (json.RawMessage, bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(field, &m); err != nil {
		return nil, false
	}
	for _, v := range m {
		return v, true
	}
	return nil, false
}

// matchStructural evaluates the structural pattern table against raw's
// first element, returning the provider names whose required field is
// present and whose representative-child nested-field check also passes.
func matchStructural(first map[string]json.RawMessage) []string {
	var matched []string
	for _, pat := range structuralPatterns {
		field, ok := first[pat.requiredField]
		if !ok {
			continue
		}
		child, ok := pat.representative(field)
		if !ok {
			continue
		}
		var childFields map[string]json.RawMessage
		if err := json.Unmarshal(child, &childFields); err != nil {
			continue
		}
		if _, ok := childFields[pat.nestedField]; ok {
			matched = append(matched, pat.provider)
		}
	}
	return matched
}

// Detect runs the structural pattern table first, then asks every
// registered parser's own CanParse, and combines the two into a tri-level
// confidence: high when both agree on a parser, medium for a
// structural-only match, low for a CanParse-only match. Raw bytes are
// JSON-decoded first; non-JSON input fails detection outright. Ties within
// a confidence tier break on CanParse score, then parser name, for
// determinism.
func (r *Registry) Detect(raw []byte) (Detection, error) {
	var probe []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil || len(probe) == 0 {
		return Detection{}, pipelineerr.New(pipelineerr.KindDetectionFailed, "input is not valid JSON")
	}

	structuralNames := matchStructural(probe[0])
	structuralMatch := make(map[string]bool, len(structuralNames))
	for _, name := range structuralNames {
		structuralMatch[name] = true
	}
	sort.Strings(structuralNames)

	r.mu.RLock()
	defer r.mu.RUnlock()

	type scored struct {
		parser     Parser
		confidence Confidence
		score      float64
	}
	var candidates []scored
	for _, p := range r.parsers {
		canParse := p.CanParse(raw)
		structural := structuralMatch[p.Name()]
		switch {
		case structural && canParse > 0:
			candidates = append(candidates, scored{p, ConfidenceHigh, canParse})
		case structural:
			candidates = append(candidates, scored{p, ConfidenceMedium, 0})
		case canParse > 0:
			candidates = append(candidates, scored{p, ConfidenceLow, canParse})
		}
	}
	if len(candidates) == 0 {
		return Detection{}, pipelineerr.New(pipelineerr.KindDetectionFailed, "could not detect export provider")
	}

	sort.Slice(candidates, func(i, j int) bool {
		if confidenceRank[candidates[i].confidence] != confidenceRank[candidates[j].confidence] {
			return confidenceRank[candidates[i].confidence] > confidenceRank[candidates[j].confidence]
		}
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].parser.Name() < candidates[j].parser.Name()
	})

	winner := candidates[0]
	return Detection{Parser: winner.parser, Confidence: winner.confidence, MatchedPatterns: structuralNames}, nil
}

// ParseAuto detects the provider and parses raw with it.
func (r *Registry) ParseAuto(raw []byte) ([]model.NormalizedConversation, string, error) {
	det, err := r.Detect(raw)
	if err != nil {
		return nil, "", err
	}
	convs, err := det.Parser.Parse(raw)
	if err != nil {
		return nil, det.Parser.Name(), err
	}
	return convs, det.Parser.Name(), nil
}
