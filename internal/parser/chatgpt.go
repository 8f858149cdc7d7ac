package parser

import (
	"encoding/json"
	"fmt"
	"time"

	"convmem/internal/model"
	"convmem/internal/pipelineerr"
)

// chatgptExport mirrors the shape of ChatGPT's "conversations.json" export:
// a top-level array of conversations, each with a mapping of node id to
// message node (tree-shaped, but linear in the common case).
type chatgptExport struct {
	Title        string                    `json:"title"`
	CreateTime   float64                   `json:"create_time"`
	Mapping      map[string]chatgptNode    `json:"mapping"`
	ConversationID string                  `json:"conversation_id"`
}

type chatgptNode struct {
	ID      string `json:"id"`
	Message *struct {
		Author struct {
			Role string `json:"role"`
		} `json:"author"`
		Content struct {
			Parts []string `json:"parts"`
		} `json:"content"`
		CreateTime *float64 `json:"create_time"`
	} `json:"message"`
	Parent   *string  `json:"parent"`
	Children []string `json:"children"`
}

// ChatGPTParser parses ChatGPT's conversations.json export format.
type ChatGPTParser struct{}

func (ChatGPTParser) Name() string { return "chatgpt" }

func (ChatGPTParser) CanParse(raw []byte) float64 {
	var probe []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil || len(probe) == 0 {
		return 0
	}
	if _, ok := probe[0]["mapping"]; ok {
		return 0.95
	}
	return 0
}

func (p ChatGPTParser) Parse(raw []byte) ([]model.NormalizedConversation, error) {
	var exports []chatgptExport
	if err := json.Unmarshal(raw, &exports); err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.KindParse, "chatgpt export decode failed", err).WithProvider(p.Name())
	}

	out := make([]model.NormalizedConversation, 0, len(exports))
	for i, e := range exports {
		var msgs []model.NormalizedMessage
		for id, node := range e.Mapping {
			if node.Message == nil || len(node.Message.Content.Parts) == 0 {
				continue
			}
			ts := time.Unix(int64(e.CreateTime), 0).UTC()
			if node.Message.CreateTime != nil {
				ts = time.Unix(int64(*node.Message.CreateTime), 0).UTC()
			}
			content := ""
			for _, part := range node.Message.Content.Parts {
				content += part
			}
			if content == "" {
				continue
			}
			msgs = append(msgs, model.NormalizedMessage{
				ID:        id,
				Role:      node.Message.Author.Role,
				Content:   content,
				Timestamp: ts,
			})
		}
		sortMessagesByTime(msgs)
		convID := e.ConversationID
		if convID == "" {
			convID = fmt.Sprintf("chatgpt-%d", i)
		}
		out = append(out, model.NormalizedConversation{
			ID:        convID,
			Provider:  p.Name(),
			Title:     e.Title,
			Messages:  msgs,
			CreatedAt: time.Unix(int64(e.CreateTime), 0).UTC(),
		})
	}
	return out, nil
}
