package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls atomic.Int64
	fail  string
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if text == e.fail {
		return nil, errors.New("embedding failed")
	}
	return []float32{float32(len(text)), 1}, nil
}

func TestEmbedAllKeepsOrder(t *testing.T) {
	e := &countingEmbedder{}
	s := NewService(e, 3)
	defer s.Close()

	out, err := s.EmbedAll(context.Background(), []string{"a", "bbb", "cc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {3, 1}, {2, 1}}, out)
}

func TestEmbedUsesCache(t *testing.T) {
	e := &countingEmbedder{}
	s := NewService(e, 1)
	defer s.Close()

	for i := 0; i < 3; i++ {
		v, err := s.Embed(context.Background(), "ball rolls")
		require.NoError(t, err)
		assert.Equal(t, []float32{10, 1}, v)
	}
	assert.Equal(t, int64(1), e.calls.Load())
}

func TestEmbedAllReportsErrors(t *testing.T) {
	e := &countingEmbedder{fail: "bad"}
	s := NewService(e, 2)
	defer s.Close()

	_, err := s.EmbedAll(context.Background(), []string{"good", "bad"})
	assert.Error(t, err)

	// failures are not cached
	_, err = s.Embed(context.Background(), "bad")
	assert.Error(t, err)
	assert.Equal(t, int64(3), e.calls.Load())
}

func TestCloseIsIdempotent(t *testing.T) {
	s := NewService(&countingEmbedder{}, 0)
	s.Close()
	s.Close()
}

// gatedEmbedder blocks every call until gate is closed.
type gatedEmbedder struct {
	gate chan struct{}
}

func (e *gatedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	<-e.gate
	return []float32{float32(len(text))}, nil
}

func captions(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("0:%02d caption %d", i%60, i)
	}
	return out
}

func TestEmbedAllWaitsForQueueSpace(t *testing.T) {
	e := &gatedEmbedder{gate: make(chan struct{})}
	s := NewService(e, 2)
	defer s.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(e.gate)
	}()

	contents := captions(250)
	out, err := s.EmbedAll(context.Background(), contents)
	require.NoError(t, err)
	require.Len(t, out, len(contents))
	assert.Equal(t, []float32{float32(len(contents[249]))}, out[249])
}

func TestEmbedAllStopsWhenContextDone(t *testing.T) {
	e := &gatedEmbedder{gate: make(chan struct{})}
	s := NewService(e, 1)
	t.Cleanup(s.Close)
	t.Cleanup(func() { close(e.gate) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.EmbedAll(ctx, captions(250))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
