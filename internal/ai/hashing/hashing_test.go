package hashing

import (
	"context"
	"math"
	"testing"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}

func TestEmbedIsDeterministic(t *testing.T) {
	t.Parallel()

	e := New(128)
	a, err := e.Embed(context.Background(), "Software Engineer, Python backend")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := New(128).Embed(context.Background(), "Software Engineer, Python backend")

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding differs at %d: %v != %v", i, a[i], b[i])
		}
	}
}

func TestEmbedIsNormalized(t *testing.T) {
	t.Parallel()

	vec, _ := New(0).Embed(context.Background(), "Data Engineer Spark Airflow")
	if len(vec) != defaultDimensions {
		t.Fatalf("expected %d dimensions, got %d", defaultDimensions, len(vec))
	}

	norm := 0.0
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Fatalf("expected unit norm, got %v", norm)
	}
}

func TestEmbedRanksRelatedTextHigher(t *testing.T) {
	t.Parallel()

	e := New(256)
	ctx := context.Background()

	query, _ := e.Embed(ctx, "Senior Python backend engineer")
	backend, _ := e.Embed(ctx, "Backend engineer building Python services")
	chef, _ := e.Embed(ctx, "Pastry chef in a restaurant kitchen")

	if cosine(query, backend) <= cosine(query, chef) {
		t.Fatalf("expected related text to be more similar")
	}
}

func TestEmbedEmptyTextIsZero(t *testing.T) {
	t.Parallel()

	vec, err := New(16).Embed(context.Background(), " the, and ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, v := range vec {
		if v != 0 {
			t.Fatalf("expected zero vector, got %v", vec)
		}
	}
}
