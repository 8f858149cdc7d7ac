package parser

import (
	"encoding/json"
	"time"

	"github.com/araddon/dateparse"

	"convmem/internal/model"
	"convmem/internal/pipelineerr"
)

// claudeExport mirrors Claude's chat export: an array of conversations with
// a flat chat_messages list and provider-native ISO-ish timestamps that
// sometimes vary in format, hence dateparse rather than a fixed layout.
type claudeExport struct {
	UUID         string              `json:"uuid"`
	Name         string              `json:"name"`
	CreatedAt    string              `json:"created_at"`
	ChatMessages []claudeChatMessage `json:"chat_messages"`
}

type claudeChatMessage struct {
	UUID      string `json:"uuid"`
	Sender    string `json:"sender"` // "human" | "assistant"
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// ClaudeParser parses Claude's chat export format.
type ClaudeParser struct{}

func (ClaudeParser) Name() string { return "claude" }

func (ClaudeParser) CanParse(raw []byte) float64 {
	var probe []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil || len(probe) == 0 {
		return 0
	}
	if _, ok := probe[0]["chat_messages"]; ok {
		return 0.95
	}
	return 0
}

func (p ClaudeParser) Parse(raw []byte) ([]model.NormalizedConversation, error) {
	var exports []claudeExport
	if err := json.Unmarshal(raw, &exports); err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.KindParse, "claude export decode failed", err).WithProvider(p.Name())
	}

	out := make([]model.NormalizedConversation, 0, len(exports))
	for _, e := range exports {
		msgs := make([]model.NormalizedMessage, 0, len(e.ChatMessages))
		for _, cm := range e.ChatMessages {
			role := "assistant"
			if cm.Sender == "human" {
				role = "user"
			}
			msgs = append(msgs, model.NormalizedMessage{
				ID:        cm.UUID,
				Role:      role,
				Content:   cm.Text,
				Timestamp: parseTimestamp(cm.CreatedAt),
			})
		}
		sortMessagesByTime(msgs)
		out = append(out, model.NormalizedConversation{
			ID:        e.UUID,
			Provider:  p.Name(),
			Title:     e.Name,
			Messages:  msgs,
			CreatedAt: parseTimestamp(e.CreatedAt),
		})
	}
	return out, nil
}

// parseTimestamp tolerates the handful of date layouts providers actually
// emit, falling back to the zero time rather than failing the whole parse.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
