package matching

import (
	"math"
	"testing"

	"github.com/spigell/hh-pricer/internal/pricing"
)

func role(id string, vec ...float32) pricing.CanonicalRole {
	return pricing.CanonicalRole{ID: id, Title: id, Family: "engineering", Embedding: vec}
}

func TestIndexSearchOrdersBySimilarity(t *testing.T) {
	t.Parallel()

	idx, err := NewIndex([]pricing.CanonicalRole{
		role("far", 0, 1, 0),
		role("near", 1, 0.1, 0),
		role("exact", 2, 0, 0),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := idx.Search([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Role.ID != "exact" || got[1].Role.ID != "near" {
		t.Fatalf("unexpected order: %s, %s", got[0].Role.ID, got[1].Role.ID)
	}
	if math.Abs(got[0].Similarity-1) > 1e-9 {
		t.Fatalf("expected similarity 1, got %v", got[0].Similarity)
	}
}

func TestIndexSearchBreaksTiesByID(t *testing.T) {
	t.Parallel()

	idx, err := NewIndex([]pricing.CanonicalRole{role("b", 1, 0), role("a", 1, 0), role("c", 1, 0)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 5; i++ {
		got, _ := idx.Search([]float32{1, 0}, 3)
		if got[0].Role.ID != "a" || got[1].Role.ID != "b" || got[2].Role.ID != "c" {
			t.Fatalf("tie order is not deterministic: %v", got)
		}
	}
}

func TestIndexClampsNegativeSimilarity(t *testing.T) {
	t.Parallel()

	idx, _ := NewIndex([]pricing.CanonicalRole{role("opposite", -1, 0)})
	got, _ := idx.Search([]float32{1, 0}, 1)
	if got[0].Similarity != 0 {
		t.Fatalf("expected clamped similarity 0, got %v", got[0].Similarity)
	}
}

func TestIndexRejectsInvalidRoles(t *testing.T) {
	t.Parallel()

	cases := map[string][]pricing.CanonicalRole{
		"duplicate id":       {role("a", 1), role("a", 1)},
		"missing embedding":  {role("a")},
		"mixed dimensions":   {role("a", 1, 0), role("b", 1)},
		"missing identifier": {{Title: "x", Embedding: []float32{1}}},
	}

	for name, roles := range cases {
		if _, err := NewIndex(roles); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestIndexVersionIsContentAddressed(t *testing.T) {
	t.Parallel()

	a, _ := NewIndex([]pricing.CanonicalRole{role("a", 1, 0)})
	b, _ := NewIndex([]pricing.CanonicalRole{role("a", 1, 0)})
	c, _ := NewIndex([]pricing.CanonicalRole{role("a", 0, 1)})

	if a.Version() != b.Version() {
		t.Fatalf("identical content must have identical versions")
	}
	if a.Version() == c.Version() {
		t.Fatalf("different content must have different versions")
	}
}

func TestEmptyIndex(t *testing.T) {
	t.Parallel()

	var idx *Index
	got, err := idx.Search([]float32{1}, 3)
	if err != nil || got != nil {
		t.Fatalf("expected empty result, got %v, %v", got, err)
	}

	empty, err := NewIndex(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if empty.Len() != 0 {
		t.Fatalf("expected empty index")
	}
}

func TestIndexRejectsQueryDimensionMismatch(t *testing.T) {
	t.Parallel()

	idx, _ := NewIndex([]pricing.CanonicalRole{role("a", 1, 0)})
	if _, err := idx.Search([]float32{1, 0, 0}, 1); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}
