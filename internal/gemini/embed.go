package gemini

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
)

const DefaultEmbeddingModel = "text-embedding-004"

// Embedder turns caption text into vectors
type Embedder struct {
	model *genai.EmbeddingModel
}

func (c *Client) Embedder(name string) *Embedder {
	if name == "" {
		name = DefaultEmbeddingModel
	}
	return &Embedder{model: c.client.EmbeddingModel(name)}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := e.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, classify(err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return res.Embedding.Values, nil
}
