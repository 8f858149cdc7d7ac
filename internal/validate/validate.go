// Package validate implements the Validator: per-field checks over
// memories and relationships that never panic and never throw on an
// individual record's failure.
package validate

import (
	"fmt"
	"strings"

	"convmem/internal/model"
)

// Config tunes the Validator's thresholds.
type Config struct {
	MinContentLength int
	MinConfidence    float64
}

// FieldError describes a single record's validation failure.
type FieldError struct {
	RecordID string
	Field    string
	Reason   string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.RecordID, e.Field, e.Reason)
}

// Result is the outcome of validating a batch of memories and
// relationships.
type Result struct {
	ValidMemories        []model.ExtractedMemory
	InvalidMemories      []model.ExtractedMemory
	ValidRelationships   []model.ExtractedRelationship
	InvalidRelationships []model.ExtractedRelationship
	Errors               []FieldError
}

// Validate checks every memory and relationship against Config, returning
// the valid/invalid partitions plus the errors explaining each rejection.
// Relationship endpoints are resolved by id against the memories in this
// batch that passed validation, and must share a workspace.
func Validate(memories []model.ExtractedMemory, relationships []model.ExtractedRelationship, cfg Config) Result {
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = 3
	}

	var res Result
	memoryWorkspace := make(map[string]string, len(memories))

	for _, m := range memories {
		if errs := validateMemory(m, cfg); len(errs) > 0 {
			res.InvalidMemories = append(res.InvalidMemories, m)
			res.Errors = append(res.Errors, errs...)
			continue
		}
		res.ValidMemories = append(res.ValidMemories, m)
		memoryWorkspace[m.ID] = m.WorkspaceID
	}

	for _, r := range relationships {
		if errs := validateRelationship(r, memoryWorkspace); len(errs) > 0 {
			res.InvalidRelationships = append(res.InvalidRelationships, r)
			res.Errors = append(res.Errors, errs...)
			continue
		}
		res.ValidRelationships = append(res.ValidRelationships, r)
	}

	return res
}

func validateMemory(m model.ExtractedMemory, cfg Config) []FieldError {
	var errs []FieldError
	if strings.TrimSpace(m.Type) == "" {
		errs = append(errs, FieldError{m.ID, "type", "must not be empty"})
	}
	if strings.TrimSpace(m.WorkspaceID) == "" {
		errs = append(errs, FieldError{m.ID, "workspace_id", "must not be empty"})
	}
	if strings.TrimSpace(m.ConversationID) == "" {
		errs = append(errs, FieldError{m.ID, "conversation_id", "must not be empty"})
	}
	if len(strings.TrimSpace(m.Content)) < cfg.MinContentLength {
		errs = append(errs, FieldError{m.ID, "content", fmt.Sprintf("must be at least %d characters (trimmed)", cfg.MinContentLength)})
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		errs = append(errs, FieldError{m.ID, "confidence", "must be in [0, 1]"})
	}
	if cfg.MinConfidence > 0 && m.Confidence < cfg.MinConfidence {
		errs = append(errs, FieldError{m.ID, "confidence", fmt.Sprintf("below minimum threshold %.2f", cfg.MinConfidence)})
	}
	return errs
}

func validateRelationship(r model.ExtractedRelationship, memoryWorkspace map[string]string) []FieldError {
	var errs []FieldError
	fromWS, fromOK := memoryWorkspace[r.FromID]
	toWS, toOK := memoryWorkspace[r.ToID]
	if !fromOK {
		errs = append(errs, FieldError{r.ID, "from_id", "does not resolve to a valid memory"})
	}
	if !toOK {
		errs = append(errs, FieldError{r.ID, "to_id", "does not resolve to a valid memory"})
	}
	if fromOK && toOK && fromWS != toWS {
		errs = append(errs, FieldError{r.ID, "workspace", "endpoints belong to different workspaces"})
	}
	return errs
}
