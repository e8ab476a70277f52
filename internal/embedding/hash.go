package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultHashDims matches all-MiniLM-L6-v2 so stored vectors keep the same
// width when switching to a local model.
const DefaultHashDims = 384

// HashEmbedder is a deterministic, offline embedder. Each lower-cased token is
// hashed into one of Dims buckets and counted, so texts sharing words score
// proportionally to their overlap under cosine similarity.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hashing embedder; dims <= 0 uses DefaultHashDims.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDims
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := make(Vector, h.dims)
	for _, tok := range Tokenize(text) {
		f := fnv.New64a()
		f.Write([]byte(tok))
		v[f.Sum64()%uint64(h.dims)]++
	}
	return v, nil
}

func (h *HashEmbedder) Dims() int { return h.dims }

// Tokenize lower-cases text and splits it on anything that is not a letter or
// digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
