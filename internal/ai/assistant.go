package ai

import (
	"context"
)

// Embedder turns text into a fixed-length vector. Implementations must be
// deterministic for identical input.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Candidate is a canonical role offered to a verifier.
type Candidate struct {
	ID          string
	Title       string
	Family      string
	Description string
	Similarity  float64
}

// Verdict is the verifier's answer. Either ChosenID is set or None is true.
type Verdict struct {
	ChosenID   string
	None       bool
	Confidence float64
	Rationale  string
	Raw        string
}

// Verifier picks the best candidate for a request or rejects all of them.
type Verifier interface {
	ChooseBest(ctx context.Context, request string, candidates []Candidate) (*Verdict, error)
}
