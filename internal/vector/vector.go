// Package vector provides vector math, the persisted blob format and the
// in-memory nearest-neighbour indexes used by the store.
package vector

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Cosine computes cosine similarity between two vectors.
func Cosine(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Norm returns the euclidean length of v.
func Norm(v Vector) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v. A zero vector is returned as a copy.
func Normalize(v Vector) Vector {
	out := make(Vector, len(v))
	n := Norm(v)
	if n == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// WeightedMean returns the normalised weighted average of vs. All vectors
// must share a dimension.
func WeightedMean(vs []Vector, weights []float64) (Vector, error) {
	if len(vs) == 0 {
		return nil, fmt.Errorf("no vectors")
	}
	if len(weights) != len(vs) {
		return nil, fmt.Errorf("have %d weights for %d vectors", len(weights), len(vs))
	}
	dim := len(vs[0])
	acc := make([]float64, dim)
	for i, v := range vs {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has %d dims, want %d", i, len(v), dim)
		}
		for j, x := range v {
			acc[j] += weights[i] * float64(x)
		}
	}
	out := make(Vector, dim)
	for j, x := range acc {
		out[j] = float32(x)
	}
	return Normalize(out), nil
}

// Compress average-pools v down to dims buckets and normalises the result.
// Vectors already at or below dims are only normalised.
func Compress(v Vector, dims int) Vector {
	if dims <= 0 || len(v) <= dims {
		return Normalize(v)
	}
	out := make(Vector, dims)
	for i := 0; i < dims; i++ {
		lo := i * len(v) / dims
		hi := (i + 1) * len(v) / dims
		var sum float64
		for _, x := range v[lo:hi] {
			sum += float64(x)
		}
		out[i] = float32(sum / float64(hi-lo))
	}
	return Normalize(out)
}

// Encode serialises v as little-endian float32.
func Encode(v Vector) []byte {
	if v == nil {
		return nil
	}
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(x))
	}
	return b
}

// Decode parses a blob written by Encode.
func Decode(b []byte) (Vector, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make(Vector, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
