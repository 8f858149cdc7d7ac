// Package storage implements the consumed Storage client interface: a
// workspace-scoped memory/relationship store with pluggable vector-search
// backends. Cross-workspace access always returns empty or nil, never an
// error.
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"convmem/internal/model"
)

// SearchQuery is the argument to SearchMemories.
type SearchQuery struct {
	Vector   []float32
	Limit    int
	Types    []string
	DateFrom *time.Time
	DateTo   *time.Time
}

// ScoredMemory pairs a memory with its similarity score.
type ScoredMemory struct {
	Memory model.ExtractedMemory
	Score  float64
}

// MemoryUpdate carries the whitelisted fields updateMemory accepts; nil
// fields are left unchanged. Any other field on the stored record is
// immutable through this path.
type MemoryUpdate struct {
	Content  *string
	Metadata map[string]string
}

// Store is the consumed Storage client: all operations are workspace
// scoped, and cross-workspace lookups return the zero value rather than
// an error.
type Store interface {
	SearchMemories(ctx context.Context, workspaceID string, q SearchQuery) ([]ScoredMemory, error)
	GetMemory(ctx context.Context, id, workspaceID string) (model.ExtractedMemory, bool, error)
	GetMemoryRelationships(ctx context.Context, memoryID, workspaceID string) ([]model.ExtractedRelationship, error)
	SaveMemory(ctx context.Context, m model.ExtractedMemory) error
	SaveRelationship(ctx context.Context, r model.ExtractedRelationship) error
	UpdateMemory(ctx context.Context, id, workspaceID string, upd MemoryUpdate) (model.ExtractedMemory, bool, error)
	Close() error
}

// VectorBackend is the pluggable nearest-neighbor search backend a Store
// delegates to; it is deliberately identity-agnostic (operates on ids and
// raw vectors), matching the vector-store/business-record split the
// in-memory and Qdrant backends share.
type VectorBackend interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error)
	Close() error
}

// VectorResult is a single nearest-neighbor hit.
type VectorResult struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// memoryStore is the reference Store implementation: an in-process
// business-record index plus a pluggable VectorBackend for similarity
// search. It never errors on cross-workspace access, returning the zero
// value instead.
type memoryStore struct {
	mu            sync.RWMutex
	memories      map[string]model.ExtractedMemory
	relationships map[string][]model.ExtractedRelationship // keyed by memory id, both directions
	vectors       VectorBackend
}

// New builds a Store backed by the given vector search backend. Pass
// NewMemoryVectorBackend() for a dependency-free in-process backend, or
// a Qdrant-backed one for production use.
func New(vectors VectorBackend) Store {
	return &memoryStore{
		memories:      make(map[string]model.ExtractedMemory),
		relationships: make(map[string][]model.ExtractedRelationship),
		vectors:       vectors,
	}
}

func (s *memoryStore) SaveMemory(ctx context.Context, m model.ExtractedMemory) error {
	if m.Embedding != nil {
		if err := s.vectors.Upsert(ctx, m.ID, m.Embedding, map[string]string{
			"workspace_id": m.WorkspaceID,
			"type":         m.Type,
		}); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[m.ID] = m
	return nil
}

func (s *memoryStore) GetMemory(_ context.Context, id, workspaceID string) (model.ExtractedMemory, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memories[id]
	if !ok || m.WorkspaceID != workspaceID {
		return model.ExtractedMemory{}, false, nil
	}
	return m, true, nil
}

func (s *memoryStore) UpdateMemory(_ context.Context, id, workspaceID string, upd MemoryUpdate) (model.ExtractedMemory, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok || m.WorkspaceID != workspaceID {
		return model.ExtractedMemory{}, false, nil
	}
	if upd.Content != nil {
		m.Content = *upd.Content
	}
	if upd.Metadata != nil {
		m.Metadata = upd.Metadata
	}
	s.memories[id] = m
	return m, true, nil
}

func (s *memoryStore) SaveRelationship(_ context.Context, r model.ExtractedRelationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relationships[r.FromID] = append(s.relationships[r.FromID], r)
	if r.ToID != r.FromID {
		s.relationships[r.ToID] = append(s.relationships[r.ToID], r)
	}
	return nil
}

func (s *memoryStore) GetMemoryRelationships(_ context.Context, memoryID, workspaceID string) ([]model.ExtractedRelationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.memories[memoryID]
	if !ok || owner.WorkspaceID != workspaceID {
		return nil, nil
	}
	rels := s.relationships[memoryID]
	out := make([]model.ExtractedRelationship, 0, len(rels))
	for _, r := range rels {
		other := r.ToID
		if other == memoryID {
			other = r.FromID
		}
		if peer, ok := s.memories[other]; ok && peer.WorkspaceID == workspaceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memoryStore) SearchMemories(ctx context.Context, workspaceID string, q SearchQuery) ([]ScoredMemory, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	hits, err := s.vectors.SimilaritySearch(ctx, q.Vector, limit*4, map[string]string{"workspace_id": workspaceID})
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	typeSet := make(map[string]bool, len(q.Types))
	for _, t := range q.Types {
		typeSet[t] = true
	}

	out := make([]ScoredMemory, 0, len(hits))
	for _, h := range hits {
		m, ok := s.memories[h.ID]
		if !ok || m.WorkspaceID != workspaceID {
			continue
		}
		if len(typeSet) > 0 && !typeSet[m.Type] {
			continue
		}
		if q.DateFrom != nil && m.CreatedAt.Before(*q.DateFrom) {
			continue
		}
		if q.DateTo != nil && m.CreatedAt.After(*q.DateTo) {
			continue
		}
		out = append(out, ScoredMemory{Memory: m, Score: h.Score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) Close() error { return s.vectors.Close() }
