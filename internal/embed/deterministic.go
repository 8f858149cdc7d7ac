package embed

import (
	"context"
	"hash/fnv"
	"math"
)

// deterministicProvider is a hash-based embedder with no external
// dependency, suitable for tests: it hashes byte 3-grams into a fixed-size
// vector and optionally L2-normalizes.
type deterministicProvider struct {
	dim       int
	normalize bool
	seed      uint64
}

// NewDeterministic constructs a deterministic embedder with the given
// dimension. If normalize is true, vectors are L2-normalized.
func NewDeterministic(dim int, normalize bool, seed uint64) Provider {
	if dim <= 0 {
		dim = 64
	}
	return &deterministicProvider{dim: dim, normalize: normalize, seed: seed}
}

func (d *deterministicProvider) Name() string   { return "deterministic" }
func (d *deterministicProvider) Dimension() int { return d.dim }

func (d *deterministicProvider) Embed(_ context.Context, s string) ([]float32, error) {
	v := make([]float32, d.dim)
	if len(s) == 0 {
		return v, nil
	}
	b := []byte(s)
	if len(b) < 3 {
		addGram(d.seed, b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			addGram(d.seed, b[i:i+3], v)
		}
	}
	if d.normalize {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if sum > 0 {
			inv := float32(1.0 / math.Sqrt(sum))
			for i := range v {
				v[i] *= inv
			}
		}
	}
	return v, nil
}

func addGram(seed uint64, gram []byte, v []float32) {
	h := fnv.New64a()
	if seed != 0 {
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(seed >> (8 * i))
		}
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
