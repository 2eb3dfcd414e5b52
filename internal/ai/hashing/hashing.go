// Package hashing provides an offline embedder based on signed feature hashing
// of word unigrams and bigrams. It needs no network and is fully deterministic.
package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultDimensions = 512

// Embedder hashes tokens into a fixed-size vector.
type Embedder struct {
	dimensions int
	stopwords  map[string]struct{}
}

func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = defaultDimensions
	}

	stop := make(map[string]struct{}, len(stopwords))
	for _, w := range stopwords {
		stop[w] = struct{}{}
	}

	return &Embedder{dimensions: dimensions, stopwords: stop}
}

func (e *Embedder) Dimensions() int { return e.dimensions }

// Embed never fails for non-cancelled contexts. Text without tokens yields a
// zero vector, which has zero similarity to everything.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, e.dimensions)
	tokens := e.tokenize(text)

	for i, tok := range tokens {
		e.add(vec, tok, 1)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, e.dimensions)
	if norm == 0 {
		return out, nil
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func (e *Embedder) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(e.dimensions))
	if (sum>>63)&1 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func (e *Embedder) tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, skip := e.stopwords[f]; skip {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

var stopwords = []string{
	"a", "an", "and", "the", "of", "for", "to", "in", "on", "with", "at", "by", "or",
	"is", "are", "be", "as", "we", "you", "our", "your", "will",
}
