package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/hh-pricer/internal/retry"
)

const defaultEmbeddingDimensions = 768

// Embedder produces embeddings with a Gemini embedding model.
type Embedder struct {
	models     models
	model      string
	dimensions int
	retry      retry.Policy
	logger     *zap.Logger
}

// NewEmbedder reuses the generator's client for embedding calls.
func NewEmbedder(g *Generator, model string, dimensions int) (*Embedder, error) {
	if g == nil || g.models == nil {
		return nil, errors.New("gemini generator is not initialized")
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultEmbeddingModel
	}
	if dimensions <= 0 {
		dimensions = defaultEmbeddingDimensions
	}

	return &Embedder{
		models:     g.models,
		model:      model,
		dimensions: dimensions,
		retry:      g.retry,
		logger:     g.logger.With(zap.String("embedding_model", model)),
	}, nil
}

func (e *Embedder) Dimensions() int { return e.dimensions }

// Embed returns the embedding of text. Results for identical input are
// identical as long as the model does not change.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("text to embed must not be empty")
	}

	dims := int32(e.dimensions)
	config := &genai.EmbedContentConfig{
		TaskType:             "SEMANTIC_SIMILARITY",
		OutputDimensionality: &dims,
	}

	var vector []float32
	err := e.retry.Do(ctx, e.logger, "gemini embed content", func(ctx context.Context) error {
		resp, err := e.models.EmbedContent(ctx, e.model, genai.Text(text), config)
		if err != nil {
			return classify(err)
		}
		if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
			return errors.New("gemini api returned no embeddings")
		}

		values := resp.Embeddings[0].Values
		if len(values) != e.dimensions {
			return retry.Permanent(fmt.Errorf("gemini api returned %d dimensions, expected %d", len(values), e.dimensions))
		}
		vector = values
		return nil
	})
	if err != nil {
		return nil, err
	}

	return vector, nil
}
