package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convmem/internal/model"
)

func TestDetectPrefersHigherConfidence(t *testing.T) {
	r := NewRegistry()
	raw := []byte(`[{"uuid":"c1","name":"t","created_at":"2024-01-01T00:00:00Z","chat_messages":[{"uuid":"m1","sender":"human","text":"hi","created_at":"2024-01-01T00:00:00Z"}]}]`)

	det, err := r.Detect(raw)
	require.NoError(t, err)
	assert.Equal(t, "claude", det.Parser.Name())
	assert.Equal(t, ConfidenceHigh, det.Confidence)
	assert.Contains(t, det.MatchedPatterns, "claude")
}

func TestDetectFailsOnGarbage(t *testing.T) {
	r := NewRegistry()
	_, err := r.Detect([]byte(`not json`))
	assert.Error(t, err)
}

func TestDetectAgreesOnGenericWhenStructuralAndParserBothMatch(t *testing.T) {
	r := NewRegistry()
	raw := []byte(`[{"id":"g1","messages":[{"id":"m1","role":"user","content":"hi","timestamp":"2024-01-01T00:00:00Z"}]}]`)

	det, err := r.Detect(raw)
	require.NoError(t, err)
	assert.Equal(t, "generic", det.Parser.Name())
	assert.Equal(t, ConfidenceHigh, det.Confidence)
	assert.Contains(t, det.MatchedPatterns, "generic")
}

func TestDetectLowConfidenceWhenOnlyCanParseMatches(t *testing.T) {
	r := NewRegistry()
	r.Register(stubParser{name: "stub", confidence: 0.2})

	raw := []byte(`[{"unrelated":"shape"}]`)
	det, err := r.Detect(raw)
	require.NoError(t, err)
	assert.Equal(t, "stub", det.Parser.Name())
	assert.Equal(t, ConfidenceLow, det.Confidence)
	assert.Empty(t, det.MatchedPatterns)
}

type stubParser struct {
	name       string
	confidence float64
}

func (s stubParser) Name() string              { return s.name }
func (s stubParser) CanParse(raw []byte) float64 { return s.confidence }
func (s stubParser) Parse(raw []byte) ([]model.NormalizedConversation, error) {
	return nil, nil
}

func TestParseAutoRoundTripsGeneric(t *testing.T) {
	r := NewRegistry()
	raw := []byte(`[{"id":"g1","messages":[{"id":"m1","role":"user","content":"hello","timestamp":"2024-01-01T00:00:00Z"}]}]`)

	convs, provider, err := r.ParseAuto(raw)
	require.NoError(t, err)
	assert.Equal(t, "generic", provider)
	require.Len(t, convs, 1)
	assert.Equal(t, "hello", convs[0].Messages[0].Content)
}

func TestRegisterRefusesDefaultOverwrite(t *testing.T) {
	r := NewRegistry()
	assert.Panics(t, func() {
		r.Register(ClaudeParser{})
	})
}
