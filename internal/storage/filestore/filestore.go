// Package filestore serves benchmark rows and job postings from a YAML file.
package filestore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spigell/hh-pricer/internal/sources"
)

// Dataset is the on-disk layout.
type Dataset struct {
	Benchmarks []map[string]any `yaml:"benchmarks"`
	Postings   []PostingRow     `yaml:"postings"`
}

// PostingRow is a posting as written in the dataset file.
type PostingRow struct {
	Source     string    `yaml:"source"`
	ID         string    `yaml:"id"`
	RoleID     string    `yaml:"role_id"`
	Locale     string    `yaml:"locale"`
	Currency   string    `yaml:"currency"`
	SalaryFrom float64   `yaml:"salary_from"`
	SalaryTo   float64   `yaml:"salary_to"`
	PostedAt   time.Time `yaml:"posted_at"`
}

// Store is an immutable in-memory copy of a dataset file.
type Store struct {
	data Dataset
}

// Load reads the dataset at path.
func Load(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a dataset from YAML.
func Parse(raw []byte) (*Store, error) {
	var data Dataset
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	return &Store{data: data}, nil
}

// Benchmarks returns rows for the role. Rows without a source key belong to
// every source.
func (s *Store) Benchmarks(ctx context.Context, sourceID, roleID string) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows := make([]map[string]any, 0)
	for _, row := range s.data.Benchmarks {
		if str(row["role_id"]) != roleID {
			continue
		}
		if src := str(row["source"]); src != "" && src != sourceID {
			continue
		}
		copied := make(map[string]any, len(row))
		for k, v := range row {
			copied[k] = v
		}
		rows = append(rows, copied)
	}
	return rows, nil
}

// PostingSource returns the postings view for one source.
func (s *Store) PostingSource(sourceID string) sources.PostingStore {
	return postingView{store: s, sourceID: sourceID}
}

type postingView struct {
	store    *Store
	sourceID string
}

func (v postingView) Postings(ctx context.Context, roleID, _ string) ([]sources.Posting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	postings := make([]sources.Posting, 0)
	for _, row := range v.store.data.Postings {
		if row.RoleID != roleID {
			continue
		}
		if row.Source != "" && row.Source != v.sourceID {
			continue
		}
		postings = append(postings, sources.Posting{
			ID:         row.ID,
			RoleID:     row.RoleID,
			Locale:     row.Locale,
			Currency:   row.Currency,
			SalaryFrom: row.SalaryFrom,
			SalaryTo:   row.SalaryTo,
			PostedAt:   row.PostedAt,
		})
	}
	return postings, nil
}

func str(v any) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
