package taxonomy

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve"

	"github.com/spigell/hh-pricer/internal/pricing"
)

// Hit is a keyword search result.
type Hit struct {
	Role  pricing.CanonicalRole
	Score float64
}

type document struct {
	Title       string `json:"title"`
	Family      string `json:"family"`
	Level       string `json:"level"`
	Tags        string `json:"tags"`
	Description string `json:"description"`
}

// Catalog is an in-memory full-text index over role metadata. It lets
// operators find role ids by keyword.
type Catalog struct {
	index bleve.Index
	roles map[string]pricing.CanonicalRole
}

func NewCatalog(roles []pricing.CanonicalRole) (*Catalog, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating keyword index: %w", err)
	}

	c := &Catalog{index: index, roles: make(map[string]pricing.CanonicalRole, len(roles))}
	batch := index.NewBatch()
	for _, r := range roles {
		c.roles[r.ID] = r
		doc := document{
			Title:       r.Title,
			Family:      r.Family,
			Level:       r.Level,
			Tags:        strings.Join(r.Tags, " "),
			Description: r.Description,
		}
		if err := batch.Index(r.ID, doc); err != nil {
			index.Close()
			return nil, fmt.Errorf("indexing role %q: %w", r.ID, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		index.Close()
		return nil, fmt.Errorf("indexing roles: %w", err)
	}
	return c, nil
}

// Search returns roles matching text, best first. Ties keep bleve's order,
// which is by document id.
func (c *Catalog) Search(text string, limit int) ([]Hit, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	q := bleve.NewMatchQuery(text)
	q.SetFuzziness(1)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.SortBy([]string{"-_score", "_id"})

	res, err := c.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		role, ok := c.roles[h.ID]
		if !ok {
			continue
		}
		hits = append(hits, Hit{Role: role, Score: h.Score})
	}
	return hits, nil
}

func (c *Catalog) Close() error {
	return c.index.Close()
}
