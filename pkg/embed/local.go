package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalProvider is the deterministic, network-free fallback generator.
// It scatters character, word and bigram hash features into fixed
// positions of the output vector and L2-normalizes the result. Identical
// input always yields an identical vector, so retrieval keeps working
// (degraded, but stable) when no embedding service is reachable.
type LocalProvider struct {
	dim int
}

func NewLocalProvider(dim int) *LocalProvider {
	if dim <= 0 {
		dim = 1024
	}
	return &LocalProvider{dim: dim}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) Embed(_ context.Context, text string) ([]float32, error) {
	return p.generate(text), nil
}

func (p *LocalProvider) generate(text string) []float32 {
	dim := p.dim
	acc := make([]float64, dim)

	clean := normalizeText(text)
	words := strings.Fields(clean)

	// Character-level rolling features.
	for i, r := range clean {
		code := int(r)
		pos1 := (code*7 + i) % dim
		pos2 := (code*13 + i*3) % dim
		pos3 := (code*17 + i*5) % dim

		acc[pos1] += math.Sin(float64(code)*0.1 + float64(i)*0.01)
		acc[pos2] += math.Cos(float64(code)*0.1 + float64(i)*0.01)
		acc[pos3] += math.Tanh(float64(code) * 0.01)
	}

	// Word-level features with positional weighting.
	for idx, word := range words {
		h := hashWord(word)
		for i := 0; i < 3; i++ {
			pos := int((h + uint64(i*1000) + uint64(idx)) % uint64(dim))
			acc[pos] += float64(len(word))*0.1 + 0.05/float64(idx+1)
		}

		posEncoding := math.Sin(float64(idx) / float64(len(words)) * math.Pi)
		posIndex := int((h + uint64(idx)) % uint64(dim))
		acc[posIndex] += posEncoding * 0.1
	}

	// Adjacent-word (bigram) features.
	for i := 0; i+1 < len(words); i++ {
		h := hashWord(words[i] + words[i+1])
		acc[int(h%uint64(dim))] += 0.05
	}

	// Document-level statistics.
	if len(words) > 0 {
		totalLen := 0
		unique := make(map[string]struct{}, len(words))
		for _, w := range words {
			totalLen += len(w)
			unique[w] = struct{}{}
		}
		acc[0] += float64(len(words)) * 0.001
		acc[1] += float64(totalLen) / float64(len(words)) * 0.01
		acc[2] += float64(len(unique)) * 0.001
	}

	// L2 normalize to unit length.
	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	vector := make([]float32, dim)
	if norm > 0 {
		for i, v := range acc {
			vector[i] = float32(v / norm)
		}
	}
	return vector
}

func normalizeText(text string) string {
	lower := strings.ToLower(text)
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, lower)
	return strings.Join(strings.Fields(mapped), " ")
}

func hashWord(word string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(word))
	return h.Sum64()
}
