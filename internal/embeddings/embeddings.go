// Package embeddings turns captions into vectors with a bounded worker pool
// and an in-memory cache.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrQueueFull is returned when the work queue cannot take another request.
var ErrQueueFull = errors.New("embedding queue is full, try again later")

// Embedder produces the vector of one text
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result represents the result of embedding generation
type Result struct {
	Content   string
	Embedding []float32
	Error     error
}

// Work represents a unit of embedding work
type Work struct {
	Ctx     context.Context
	Content string
	Result  chan<- Result
}

// Service manages embedding generation and caching
type Service struct {
	embedder   Embedder
	numWorkers int
	workQueue  chan Work
	cache      sync.Map // Thread-safe map for caching embeddings
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewService creates a new embedding service with the specified number of workers
func NewService(embedder Embedder, numWorkers int) *Service {
	if numWorkers <= 0 {
		numWorkers = 4 // Default to 4 workers if not specified
	}

	service := &Service{
		embedder:   embedder,
		numWorkers: numWorkers,
		workQueue:  make(chan Work, 100), // Buffer size for embedding requests
	}

	// Start embedding workers
	service.startWorkers()

	return service
}

// startWorkers starts a pool of goroutines for generating embeddings
func (s *Service) startWorkers() {
	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for work := range s.workQueue {
				// Check cache first
				if cached, ok := s.cache.Load(work.Content); ok {
					work.Result <- Result{Content: work.Content, Embedding: cached.([]float32)}
					continue
				}

				embedding, err := s.embedder.Embed(work.Ctx, work.Content)
				if err == nil {
					s.cache.Store(work.Content, embedding)
				}

				work.Result <- Result{
					Content:   work.Content,
					Embedding: embedding,
					Error:     err,
				}
			}
		}()
	}
}

// GetEmbedding requests an embedding generation asynchronously
func (s *Service) GetEmbedding(ctx context.Context, content string) <-chan Result {
	resultChan := make(chan Result, 1)

	select {
	case s.workQueue <- Work{Ctx: ctx, Content: content, Result: resultChan}:
	default:
		resultChan <- Result{Content: content, Error: ErrQueueFull}
	}

	return resultChan
}

// Embed waits for the embedding of one text.
func (s *Service) Embed(ctx context.Context, content string) ([]float32, error) {
	select {
	case res := <-s.GetEmbedding(ctx, content):
		return res.Embedding, res.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EmbedAll embeds every text through the pool and returns vectors in input order.
// It waits for queue space instead of failing with ErrQueueFull.
func (s *Service) EmbedAll(ctx context.Context, contents []string) ([][]float32, error) {
	pending := make([]chan Result, len(contents))
	for i, c := range contents {
		pending[i] = make(chan Result, 1)
		select {
		case s.workQueue <- Work{Ctx: ctx, Content: c, Result: pending[i]}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([][]float32, len(contents))
	for i, ch := range pending {
		select {
		case res := <-ch:
			if res.Error != nil {
				return nil, fmt.Errorf("embed %q: %w", res.Content, res.Error)
			}
			out[i] = res.Embedding
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

// Close shuts down the embedding service and waits for all workers to finish
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.workQueue) })
	s.wg.Wait()
}
