// Package semantic scores how alike two transaction descriptions are.
//
// Descriptions are turned into vectors by an Embedder and compared through a
// nearest-neighbour Index. Both are small capability interfaces so that the
// embedding model and the index implementation can be swapped without
// touching the scoring logic. The package ships:
//   - HashingEmbedder, a deterministic offline embedding
//   - GeminiEmbedder, backed by the Gemini embedding API
//   - CachedEmbedder, a keyed SQLite cache in front of any Embedder
//   - FlatIndex, an exact brute-force cosine index
package semantic

import (
	"context"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Embedder maps texts to fixed-dimensional vectors. The same text must always
// yield the same vector within a run. An empty text may map to a nil or zero
// vector, which compares as dissimilar to everything.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Embed calls f.
func (f EmbedderFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}

// DefaultHashingDimensions is the vector size used by the offline embedder.
const DefaultHashingDimensions = 256

// HashingEmbedder embeds text with signed feature hashing over lower-cased
// word tokens and character trigrams. Vectors are L2-normalised.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder creates a hashing embedder with the given dimensionality
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = DefaultHashingDimensions
	}
	return &HashingEmbedder{dims: dims}
}

// Model identifies the embedding space, used as part of cache keys.
func (e *HashingEmbedder) Model() string {
	return "hashing-v1-" + strconv.Itoa(e.dims)
}

// Embed implements Embedder. It never fails except on cancellation.
func (e *HashingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embedOne(text)
	}
	return out, nil
}

func (e *HashingEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dims)
	for _, token := range Tokenize(text) {
		e.add(vec, "w:"+token, 1.0)

		padded := []rune("#" + token + "#")
		for i := 0; i+3 <= len(padded); i++ {
			e.add(vec, "c:"+string(padded[i:i+3]), 0.5)
		}
	}
	normalize(vec)
	return vec
}

func (e *HashingEmbedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	bucket := int(sum % uint64(e.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[bucket] += weight
}

// Tokenize lower-cases text and splits it on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
