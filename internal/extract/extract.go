// Package extract implements the Extraction Strategy: prompt/schema
// construction per chunk, an LLM provider adapter, and response mapping
// into ExtractedMemory/ExtractedRelationship records.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"convmem/internal/model"
	"convmem/internal/pipelineerr"
)

// MemoryTypeConfig describes one configured memory type's prompt
// instruction and allowed vocabulary entry.
type MemoryTypeConfig struct {
	Type        string
	Instruction string
}

// Config configures a single extraction call.
type Config struct {
	WorkspaceID string
	MemoryTypes []MemoryTypeConfig
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// PreviousContext is the optional prior-chunk summary threaded through
// sequential chunking mode.
type PreviousContext struct {
	Summary string
}

// rawMemory/rawRelationship mirror the JSON schema's response shape,
// indices into the memories array rather than resolved ids.
type rawMemory struct {
	Type       string            `json:"type"`
	Content    string            `json:"content"`
	Confidence float64           `json:"confidence"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type rawRelationship struct {
	FromMemoryIndex  int     `json:"from_memory_index"`
	ToMemoryIndex    int     `json:"to_memory_index"`
	RelationshipType string  `json:"relationship_type"`
	Confidence       float64 `json:"confidence"`
}

type rawResponse struct {
	Memories      []rawMemory       `json:"memories"`
	Relationships []rawRelationship `json:"relationships"`
}

// LLM is the consumed LLM provider interface (§6): one-shot structured
// completion against a JSON schema.
type LLM interface {
	CompleteStructured(ctx context.Context, prompt string, schema map[string]any) ([]byte, error)
	Name() string
}

// Strategy runs the Extraction Strategy against a single chunk.
type Strategy struct {
	LLM LLM
}

// New builds a Strategy bound to an LLM provider adapter.
func New(llm LLM) *Strategy { return &Strategy{LLM: llm} }

// Extract produces the memories and relationships found in chunk, given an
// optional summary of the chunk(s) that preceded it.
func (s *Strategy) Extract(ctx context.Context, convID string, chunk model.Chunk, cfg Config, prev *PreviousContext) (model.ChunkExtraction, error) {
	prompt := buildPrompt(chunk, cfg, prev)
	schema := buildSchema(cfg.MemoryTypes)

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	raw, err := s.LLM.CompleteStructured(ctx, prompt, schema)
	if err != nil {
		return model.ChunkExtraction{}, pipelineerr.Wrap(pipelineerr.KindLLM, fmt.Sprintf("extraction failed for chunk %s", chunk.ID), err).WithProvider(s.LLM.Name())
	}

	resp, err := decodeResponse(raw)
	if err != nil {
		return model.ChunkExtraction{}, pipelineerr.Wrap(pipelineerr.KindLLM, fmt.Sprintf("malformed extraction response for chunk %s", chunk.ID), err).WithProvider(s.LLM.Name())
	}

	return mapResponse(convID, chunk, cfg.WorkspaceID, resp), nil
}

// buildPrompt enumerates the active memory types' instructions, embeds the
// previous-chunk summary as a preamble when present, then lists the
// chunk's messages as "ROLE: content" lines.
func buildPrompt(chunk model.Chunk, cfg Config, prev *PreviousContext) string {
	var b strings.Builder
	b.WriteString("Extract structured memories and relationships from the conversation excerpt below.\n\n")
	b.WriteString("Memory types to extract:\n")
	for _, mt := range cfg.MemoryTypes {
		fmt.Fprintf(&b, "- %s: %s\n", mt.Type, mt.Instruction)
	}
	if prev != nil && prev.Summary != "" {
		b.WriteString("\nPrior context (do not re-emit memories already captured here):\n")
		b.WriteString(prev.Summary)
		b.WriteString("\n")
	}
	b.WriteString("\nConversation:\n")
	for _, m := range chunk.Messages {
		fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(m.Role), m.Content)
	}
	return b.String()
}

// buildSchema assembles the {memories, relationships} JSON schema, with
// the memory "type" enum restricted to the configured vocabulary. The
// schema is built as typed jsonschema.Schema values and flattened to the
// map[string]any the LLM interface expects, rather than hand-assembled
// map literals, so the shape stays checked against the package's own
// schema model instead of a parallel ad hoc one.
func buildSchema(types []MemoryTypeConfig) map[string]any {
	names := make([]any, len(types))
	for i, t := range types {
		names[i] = t.Type
	}
	unit := confidenceRange()

	memorySchema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"type":       {Type: "string", Enum: names},
			"content":    {Type: "string"},
			"confidence": unit,
			"metadata":   {Type: "object"},
		},
		Required: []string{"type", "content", "confidence"},
	}
	relationshipSchema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"from_memory_index": {Type: "integer"},
			"to_memory_index":   {Type: "integer"},
			"relationship_type": {Type: "string"},
			"confidence":        unit,
		},
		Required: []string{"from_memory_index", "to_memory_index", "relationship_type", "confidence"},
	}
	root := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"memories":      {Type: "array", Items: memorySchema},
			"relationships": {Type: "array", Items: relationshipSchema},
		},
		Required: []string{"memories", "relationships"},
	}
	return schemaToMap(root)
}

func confidenceRange() *jsonschema.Schema {
	zero, one := 0.0, 1.0
	return &jsonschema.Schema{Type: "number", Minimum: &zero, Maximum: &one}
}

func schemaToMap(s *jsonschema.Schema) map[string]any {
	data, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// mapResponse assigns workspace/conversation/source-message ids and
// content-hash ids to each returned memory, then resolves relationship
// indices into those ids, silently dropping any that reference an
// out-of-range or otherwise missing memory index.
func mapResponse(convID string, chunk model.Chunk, workspaceID string, resp rawResponse) model.ChunkExtraction {
	sourceMsgIDs := make([]string, len(chunk.Messages))
	for i, m := range chunk.Messages {
		sourceMsgIDs[i] = m.ID
	}

	now := time.Now().UTC()
	memories := make([]model.ExtractedMemory, len(resp.Memories))
	for i, rm := range resp.Memories {
		entityKey := ""
		if rm.Type == "entity" {
			entityKey = model.NormalizeContent(rm.Metadata["entity_type"]) + ":" + model.NormalizeContent(rm.Metadata["entity_name"])
		}
		memories[i] = model.ExtractedMemory{
			ID:             model.ContentHash(rm.Type, rm.Content, workspaceID, entityKey),
			Type:           rm.Type,
			Content:        rm.Content,
			Confidence:     rm.Confidence,
			WorkspaceID:    workspaceID,
			ConversationID: convID,
			SourceMsgs:     append([]string(nil), sourceMsgIDs...),
			SourceChunks:   []string{chunk.ID},
			CreatedAt:      now,
			Metadata:       rm.Metadata,
		}
	}

	var relationships []model.ExtractedRelationship
	for _, rr := range resp.Relationships {
		if rr.FromMemoryIndex < 0 || rr.FromMemoryIndex >= len(memories) {
			continue
		}
		if rr.ToMemoryIndex < 0 || rr.ToMemoryIndex >= len(memories) {
			continue
		}
		relationships = append(relationships, model.ExtractedRelationship{
			ID:         fmt.Sprintf("%s-rel-%d", chunk.ID, len(relationships)),
			FromID:     memories[rr.FromMemoryIndex].ID,
			ToID:       memories[rr.ToMemoryIndex].ID,
			Type:       rr.RelationshipType,
			Confidence: rr.Confidence,
			CreatedAt:  now,
		})
	}

	return model.ChunkExtraction{ChunkID: chunk.ID, Memories: memories, Relationships: relationships}
}

// Summarize builds the default ChunkContext summary ("Chunk N: M messages,
// K memories extracted" plus each memory's (type, content) pair), used as
// the next chunk's prior-context preamble in sequential mode.
func Summarize(index, messageCount int, memories []model.ExtractedMemory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chunk %d: %d messages, %d memories extracted", index, messageCount, len(memories))
	sorted := append([]model.ExtractedMemory(nil), memories...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, m := range sorted {
		fmt.Fprintf(&b, "\n- (%s) %s", m.Type, m.Content)
	}
	return b.String()
}
