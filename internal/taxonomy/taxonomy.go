package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spigell/hh-pricer/internal/ai"
	"github.com/spigell/hh-pricer/internal/matching"
	"github.com/spigell/hh-pricer/internal/pricing"
)

// File is the on-disk taxonomy.
type File struct {
	Roles []Role `yaml:"roles"`
}

// Role is a taxonomy entry. Embedding is optional; roles without one are
// embedded when the index is built.
type Role struct {
	ID          string    `yaml:"id"`
	Title       string    `yaml:"title"`
	Family      string    `yaml:"family"`
	Level       string    `yaml:"level"`
	Tags        []string  `yaml:"tags"`
	Description string    `yaml:"description"`
	Embedding   []float32 `yaml:"embedding,omitempty"`
}

// Load reads and parses a taxonomy file.
func Load(path string) ([]pricing.CanonicalRole, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading taxonomy %q: %w", path, err)
	}
	roles, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("taxonomy %q: %w", path, err)
	}
	return roles, nil
}

// Parse decodes a taxonomy document.
func Parse(raw []byte) ([]pricing.CanonicalRole, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}
	if len(f.Roles) == 0 {
		return nil, errors.New("no roles defined")
	}

	seen := make(map[string]struct{}, len(f.Roles))
	roles := make([]pricing.CanonicalRole, 0, len(f.Roles))
	for i, r := range f.Roles {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			return nil, fmt.Errorf("role %d: id is required", i)
		}
		if strings.TrimSpace(r.Title) == "" {
			return nil, fmt.Errorf("role %q: title is required", id)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate role id %q", id)
		}
		seen[id] = struct{}{}

		roles = append(roles, pricing.CanonicalRole{
			ID:          id,
			Title:       strings.TrimSpace(r.Title),
			Family:      strings.TrimSpace(r.Family),
			Level:       strings.TrimSpace(r.Level),
			Tags:        r.Tags,
			Description: strings.TrimSpace(r.Description),
			Embedding:   r.Embedding,
		})
	}
	return roles, nil
}

// Text is what gets embedded for a role.
func Text(r pricing.CanonicalRole) string {
	parts := []string{r.Title}
	if r.Level != "" {
		parts = append(parts, r.Level)
	}
	if len(r.Tags) > 0 {
		parts = append(parts, strings.Join(r.Tags, ", "))
	}
	if r.Description != "" {
		parts = append(parts, r.Description)
	}
	return strings.Join(parts, "\n")
}

// Build embeds roles that carry no vector yet and indexes them. Preset
// vectors must match the embedder's dimensions.
func Build(ctx context.Context, roles []pricing.CanonicalRole, embedder ai.Embedder) (*matching.Index, error) {
	embedded := make([]pricing.CanonicalRole, len(roles))
	copy(embedded, roles)

	for i := range embedded {
		if len(embedded[i].Embedding) > 0 {
			if embedder != nil && len(embedded[i].Embedding) != embedder.Dimensions() {
				return nil, fmt.Errorf("role %q: preset embedding has %d dimensions, embedder has %d",
					embedded[i].ID, len(embedded[i].Embedding), embedder.Dimensions())
			}
			continue
		}
		if embedder == nil {
			return nil, fmt.Errorf("role %q has no embedding and no embedder is configured", embedded[i].ID)
		}
		vec, err := embedder.Embed(ctx, Text(embedded[i]))
		if err != nil {
			return nil, fmt.Errorf("embedding role %q: %w", embedded[i].ID, err)
		}
		embedded[i].Embedding = vec
	}

	return matching.NewIndex(embedded)
}
