package parser

import (
	"encoding/json"
	"sort"

	"convmem/internal/model"
	"convmem/internal/pipelineerr"
)

// genericExport is the lowest-common-denominator shape this module accepts
// directly: an array of conversations already close to the normalized
// form. It is the fallback parser for exports that don't match a named
// provider, and the format this module's own output round-trips through.
type genericExport struct {
	ID        string                     `json:"id"`
	Provider  string                     `json:"provider,omitempty"`
	Title     string                     `json:"title,omitempty"`
	CreatedAt string                     `json:"created_at,omitempty"`
	Messages  []model.NormalizedMessage `json:"messages"`
}

// GenericParser accepts the module's own normalized-conversation JSON shape
// and anything structurally close enough to it. It reports a low
// confidence (0.4) when the first conversation has a "messages" field and
// zero otherwise, so it loses auto-detection to a named provider parser
// that also recognizes the input.
type GenericParser struct{}

func (GenericParser) Name() string { return "generic" }

func (GenericParser) CanParse(raw []byte) float64 {
	var probe []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil || len(probe) == 0 {
		return 0
	}
	if _, ok := probe[0]["messages"]; ok {
		return 0.4
	}
	return 0
}

func (p GenericParser) Parse(raw []byte) ([]model.NormalizedConversation, error) {
	var exports []genericExport
	if err := json.Unmarshal(raw, &exports); err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.KindParse, "generic export decode failed", err).WithProvider(p.Name())
	}

	out := make([]model.NormalizedConversation, 0, len(exports))
	for i, e := range exports {
		msgs := append([]model.NormalizedMessage(nil), e.Messages...)
		sortMessagesByTime(msgs)
		provider := e.Provider
		if provider == "" {
			provider = p.Name()
		}
		id := e.ID
		if id == "" {
			id = "generic-" + string(rune('a'+i))
		}
		out = append(out, model.NormalizedConversation{
			ID:        id,
			Provider:  provider,
			Title:     e.Title,
			Messages:  msgs,
			CreatedAt: parseTimestamp(e.CreatedAt),
		})
	}
	return out, nil
}

func sortMessagesByTime(msgs []model.NormalizedMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}
