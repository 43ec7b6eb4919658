package embedding

import (
	"context"
	"hash/fnv"

	"github.com/rcliao/sector-memory/internal/model"
	"github.com/rcliao/sector-memory/internal/text"
	"github.com/rcliao/sector-memory/internal/vector"
)

// DefaultSyntheticDims matches the "smart" tier.
const DefaultSyntheticDims = 384

// Synthetic is a deterministic, offline embedder based on feature hashing of
// stemmed tokens and their bigrams. Texts sharing words get similar vectors,
// which is enough for local use and tests. The sector does not change the
// vector, so mean vectors stay comparable across sectors.
type Synthetic struct {
	dims int
}

// NewSynthetic creates a synthetic embedder; dims <= 0 uses the default.
func NewSynthetic(dims int) *Synthetic {
	if dims <= 0 {
		dims = DefaultSyntheticDims
	}
	return &Synthetic{dims: dims}
}

func (s *Synthetic) Embed(_ context.Context, t string, _ model.Sector) (vector.Vector, error) {
	v := make(vector.Vector, s.dims)
	tokens := text.Tokens(t)
	for _, tok := range tokens {
		s.add(v, tok, 1.0)
	}
	for _, bg := range text.Bigrams(tokens) {
		s.add(v, bg, 0.5)
	}
	return vector.Normalize(v), nil
}

// add hashes feature into a bucket with a signed contribution.
func (s *Synthetic) add(v vector.Vector, feature string, w float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(s.dims))
	if sum>>63 == 1 {
		w = -w
	}
	v[idx] += w
}

func (s *Synthetic) Dims() int { return s.dims }
