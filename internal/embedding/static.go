package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// StaticEncoder is a deterministic in-process encoder used in tests and
// offline setups. Vectors are derived from token hashes, so identical
// texts always map to identical vectors and overlapping texts land near
// each other in vector space.
type StaticEncoder struct {
	mu         sync.Mutex
	dimensions int
	fixed      map[string][]float32
	calls      int
}

// NewStaticEncoder returns an encoder producing vectors of the given width.
func NewStaticEncoder(dimensions int) *StaticEncoder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &StaticEncoder{
		dimensions: dimensions,
		fixed:      make(map[string][]float32),
	}
}

// SetVector pins the vector returned for an exact text.
func (e *StaticEncoder) SetVector(text string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fixed[text] = vec
}

// Calls reports how many Embed invocations the encoder has served.
func (e *StaticEncoder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *StaticEncoder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if pinned, ok := e.fixed[text]; ok {
			vectors[i] = pinned
			continue
		}
		vectors[i] = e.hashVector(text)
	}
	return vectors, nil
}

func (e *StaticEncoder) hashVector(text string) []float32 {
	vec := make([]float32, e.dimensions)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dimensions))
		sign := float32(1)
		if sum&(1<<63) != 0 {
			sign = -1
		}
		vec[idx] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func tokenize(text string) []string {
	var toks []string
	start := -1
	for i, r := range text {
		if r == ' ' || r == '\t' || r == '\n' {
			if start >= 0 {
				toks = append(toks, text[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		toks = append(toks, text[start:])
	}
	return toks
}

func (e *StaticEncoder) Dimensions() int { return e.dimensions }

func (e *StaticEncoder) Available() (bool, string) { return true, "" }
