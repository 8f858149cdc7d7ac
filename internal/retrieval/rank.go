package retrieval

import (
	"sort"
	"sync"

	"convmem/internal/pipelineerr"
)

// Default ranker names; these cannot be overwritten by RegisterRanker.
const (
	RankerLinearBlend    = "linear-blend"
	RankerSimilarityOnly = "similarity-only"
	RankerRecencyOnly    = "recency-only"
	RankerConfidenceOnly = "confidence-only"
)

// Ranker orders scored candidates, typically producing a new Score field
// reflecting the blended rank rather than the raw similarity.
type Ranker interface {
	Rank(candidates []Scored) []Scored
}

// Weights configures the default linear-blend ranker.
type Weights struct {
	Similarity float64
	Recency    float64
	Confidence float64
}

// DefaultWeights is the default ranking blend: similarity 0.5, recency 0.3,
// confidence 0.2.
var DefaultWeights = Weights{Similarity: 0.5, Recency: 0.3, Confidence: 0.2}

// linearBlendRanker combines similarity, recency (normalized against the
// newest result in the set), and confidence. Ties break on memory id
// ascending for determinism.
type linearBlendRanker struct{ w Weights }

// NewLinearBlendRanker builds the default ranker with the given weights.
func NewLinearBlendRanker(w Weights) Ranker { return linearBlendRanker{w: w} }

func (r linearBlendRanker) Rank(candidates []Scored) []Scored {
	if len(candidates) == 0 {
		return candidates
	}
	newest := candidates[0].Memory.CreatedAt
	for _, c := range candidates[1:] {
		if c.Memory.CreatedAt.After(newest) {
			newest = c.Memory.CreatedAt
		}
	}

	out := make([]Scored, len(candidates))
	copy(out, candidates)
	for i, c := range out {
		recency := 0.0
		if !newest.IsZero() {
			age := newest.Sub(c.Memory.CreatedAt).Hours()
			recency = 1.0 / (1.0 + age/24.0) // decays toward 0 as a candidate ages in days relative to newest
		}
		blended := r.w.Similarity*c.Score + r.w.Recency*recency + r.w.Confidence*c.Memory.Confidence
		out[i].Score = blended
	}
	sortScoredDeterministic(out)
	return out
}

type similarityOnlyRanker struct{}

func (similarityOnlyRanker) Rank(candidates []Scored) []Scored {
	out := append([]Scored(nil), candidates...)
	sortScoredDeterministic(out)
	return out
}

type recencyOnlyRanker struct{}

func (recencyOnlyRanker) Rank(candidates []Scored) []Scored {
	out := make([]Scored, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].Score = float64(out[i].Memory.CreatedAt.Unix())
	}
	sortScoredDeterministic(out)
	return out
}

type confidenceOnlyRanker struct{}

func (confidenceOnlyRanker) Rank(candidates []Scored) []Scored {
	out := make([]Scored, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].Score = out[i].Memory.Confidence
	}
	sortScoredDeterministic(out)
	return out
}

func sortScoredDeterministic(items []Scored) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Memory.ID < items[j].Memory.ID
	})
}

// rankerRegistry holds named rankers, populated with protected defaults at
// construction and writable afterwards only for non-default names.
type rankerRegistry struct {
	mu        sync.RWMutex
	byName    map[string]Ranker
	protected map[string]bool
}

func newRankerRegistry() *rankerRegistry {
	reg := &rankerRegistry{byName: make(map[string]Ranker), protected: make(map[string]bool)}
	defaults := map[string]Ranker{
		RankerLinearBlend:    NewLinearBlendRanker(DefaultWeights),
		RankerSimilarityOnly: similarityOnlyRanker{},
		RankerRecencyOnly:    recencyOnlyRanker{},
		RankerConfidenceOnly: confidenceOnlyRanker{},
	}
	for name, r := range defaults {
		reg.byName[name] = r
		reg.protected[name] = true
	}
	return reg
}

func (reg *rankerRegistry) register(name string, r Ranker) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.protected[name] {
		panic("retrieval: cannot overwrite default ranker " + name)
	}
	reg.byName[name] = r
	return nil
}

func (reg *rankerRegistry) get(name string) (Ranker, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.byName[name]
	if !ok {
		return nil, pipelineerr.New(pipelineerr.KindSearch, "unknown ranker: "+name)
	}
	return r, nil
}
