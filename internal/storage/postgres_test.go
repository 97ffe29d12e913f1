package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 0}, nil
}

func (e fixedEmbedder) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func TestPostgresStorage(t *testing.T) {
	url := os.Getenv("VIDEOQA_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("VIDEOQA_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	cfg := PostgresConfig{URL: url}
	require.NoError(t, InitSchema(ctx, cfg, 3))

	s, err := NewPostgresStorage(ctx, cfg, fixedEmbedder{}, nil)
	require.NoError(t, err)
	defer s.Close()

	r := run(uuid.NewString())
	r.CreatedAt = time.Now()
	r.Captions = []string{"<<00:00,00:05>>: a red ball rolls", "<<00:05,00:09>>: a dog"}
	require.NoError(t, s.AddRun(ctx, r))

	matches, err := s.SearchCaptions(ctx, "a dog", 1)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "match.mp4", matches[0].Video)
}
