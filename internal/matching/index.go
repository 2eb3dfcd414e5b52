package matching

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"github.com/spigell/hh-pricer/internal/pricing"
)

// Candidate is a role returned by an index lookup.
type Candidate struct {
	Role       pricing.CanonicalRole
	Similarity float64
}

// Index is an immutable nearest-neighbour index over canonical role
// embeddings. It is safe for concurrent use.
type Index struct {
	roles      []pricing.CanonicalRole
	vectors    [][]float64
	byID       map[string]int
	dimensions int
	version    string
}

// NewIndex builds an index. All roles must carry embeddings of equal length
// and unique ids.
func NewIndex(roles []pricing.CanonicalRole) (*Index, error) {
	idx := &Index{
		roles:   make([]pricing.CanonicalRole, 0, len(roles)),
		vectors: make([][]float64, 0, len(roles)),
		byID:    make(map[string]int, len(roles)),
	}

	hash := sha256.New()
	buf := make([]byte, 4)

	for _, role := range roles {
		if role.ID == "" {
			return nil, fmt.Errorf("role %q has no id", role.Title)
		}
		if _, dup := idx.byID[role.ID]; dup {
			return nil, fmt.Errorf("duplicate role id %q", role.ID)
		}
		if len(role.Embedding) == 0 {
			return nil, fmt.Errorf("role %q has no embedding", role.ID)
		}
		if idx.dimensions == 0 {
			idx.dimensions = len(role.Embedding)
		}
		if len(role.Embedding) != idx.dimensions {
			return nil, fmt.Errorf("role %q has %d dimensions, expected %d", role.ID, len(role.Embedding), idx.dimensions)
		}

		idx.byID[role.ID] = len(idx.roles)
		idx.roles = append(idx.roles, role)
		idx.vectors = append(idx.vectors, normalize(role.Embedding))

		hash.Write([]byte(role.ID))
		for _, v := range role.Embedding {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			hash.Write(buf)
		}
	}

	idx.version = hex.EncodeToString(hash.Sum(nil))[:16]
	return idx, nil
}

// Len is the number of indexed roles.
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.roles)
}

// Dimensions is the embedding length, zero for an empty index.
func (i *Index) Dimensions() int {
	if i == nil {
		return 0
	}
	return i.dimensions
}

// Version is a content address of the indexed roles and vectors.
func (i *Index) Version() string {
	if i == nil {
		return ""
	}
	return i.version
}

// Role looks a role up by id.
func (i *Index) Role(id string) (pricing.CanonicalRole, bool) {
	if i == nil {
		return pricing.CanonicalRole{}, false
	}
	pos, ok := i.byID[id]
	if !ok {
		return pricing.CanonicalRole{}, false
	}
	return i.roles[pos], true
}

// Search returns up to k roles ordered by cosine similarity, most similar
// first. Similarities are clamped to [0,1]; ties are broken by role id.
func (i *Index) Search(query []float32, k int) ([]Candidate, error) {
	if i.Len() == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != i.dimensions {
		return nil, fmt.Errorf("query has %d dimensions, index has %d", len(query), i.dimensions)
	}

	q := normalize(query)
	results := make([]Candidate, 0, len(i.roles))
	for pos, vec := range i.vectors {
		results = append(results, Candidate{Role: i.roles[pos], Similarity: clamp01(dot(q, vec))})
	}

	sort.SliceStable(results, func(a, b int) bool {
		if results[a].Similarity != results[b].Similarity {
			return results[a].Similarity > results[b].Similarity
		}
		return results[a].Role.ID < results[b].Role.ID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func normalize(v []float32) []float64 {
	out := make([]float64, len(v))
	norm := 0.0
	for i, x := range v {
		out[i] = float64(x)
		norm += out[i] * out[i]
	}
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i := range out {
		out[i] /= norm
	}
	return out
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
