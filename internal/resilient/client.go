// Package resilient wraps calls to a rate-limited reasoning service with
// bounded retry, a process-wide backoff and artifact resolution.
package resilient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bdougie/videoqa/internal/artifact"
	"github.com/bdougie/videoqa/internal/models"
	"github.com/bdougie/videoqa/internal/schema"
)

var (
	// ErrResourceExhausted is the transient throttling signal. Service
	// implementations wrap it around rate-limit failures.
	ErrResourceExhausted = errors.New("remote resource exhausted")
	// ErrRetriesExhausted is returned when the terminate hook returns instead of exiting.
	ErrRetriesExhausted = errors.New("max retries reached")
	// ErrTerminated is returned by every call after the retry ceiling was hit.
	ErrTerminated = errors.New("run terminated after retry ceiling")
)

// Part is one element of a request payload: an optional local media file
// followed by optional text.
type Part struct {
	MediaPath string
	Text      string
}

func Text(s string) []Part {
	return []Part{{Text: s}}
}

func Media(path, text string) []Part {
	return []Part{{MediaPath: path, Text: text}}
}

// Content is what a Service receives: either text or a resolved artifact.
type Content struct {
	Text     string
	Artifact *artifact.Handle
}

// Reply is the raw output of one service call
type Reply struct {
	Text  string
	Usage models.Usage
}

// Service is a remote reasoning model. The system role, output schema and
// sampling settings are fixed when the Service is built.
type Service interface {
	Generate(ctx context.Context, contents []Content) (Reply, error)
}

// Response is a schema-conformant service output.
type Response struct {
	Text   string
	Fields map[string]any
}

// Decode unmarshals the response into a call-site type.
func (r Response) Decode(v any) error {
	data := []byte(r.Text)
	if r.Fields != nil {
		var err error
		if data, err = json.Marshal(r.Fields); err != nil {
			return fmt.Errorf("%w: %v", schema.ErrMalformedResponse, err)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", schema.ErrMalformedResponse, err)
	}
	return nil
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetry
	outcomeFatal
)

// Client calls one Service with retry on throttling.
type Client struct {
	name       string
	service    Service
	schema     *schema.Schema
	cache      *artifact.Cache
	backoff    *Backoff
	maxRetries int
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	terminate  func(err error)

	mu        sync.Mutex
	lastFiles []artifact.Handle
}

type Option func(*Client)

func WithSchema(s schema.Schema) Option {
	return func(c *Client) { c.schema = &s }
}

func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSleep replaces the backoff wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithTerminate replaces the hook run when the retry ceiling is exceeded.
// The default exits the process.
func WithTerminate(terminate func(err error)) Option {
	return func(c *Client) { c.terminate = terminate }
}

func NewClient(name string, service Service, cache *artifact.Cache, backoff *Backoff, opts ...Option) *Client {
	c := &Client{
		name:       name,
		service:    service,
		cache:      cache,
		backoff:    backoff,
		maxRetries: DefaultMaxRetries,
		logger:     slog.Default(),
		sleep:      sleepContext,
		terminate:  func(error) { os.Exit(1) },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

// Invoke resolves media parts through the artifact cache and calls the service.
// Throttled calls are retried with the shared backoff; past the retry ceiling
// the whole run is terminated. Other errors are returned immediately.
func (c *Client) Invoke(ctx context.Context, payload []Part) (Response, models.Usage, error) {
	if c.backoff.Terminated() {
		return Response{}, models.Usage{}, ErrTerminated
	}
	for attempt := 0; ; attempt++ {
		resp, usage, out, err := c.attempt(ctx, payload)
		switch out {
		case outcomeSuccess:
			c.backoff.Reset()
			return resp, usage, nil
		case outcomeFatal:
			return Response{}, models.Usage{}, err
		}

		if attempt >= c.maxRetries {
			c.backoff.Terminate()
			c.logger.Error("resource exhausted, max retries reached", "client", c.name, "max_retries", c.maxRetries)
			c.terminate(fmt.Errorf("%s: %w (%d)", c.name, ErrRetriesExhausted, c.maxRetries))
			return Response{}, models.Usage{}, ErrRetriesExhausted
		}
		delay := c.backoff.Escalate()
		c.logger.Warn("resource exhausted, retrying",
			"client", c.name,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"delay", delay,
		)
		if err := c.sleep(ctx, delay); err != nil {
			return Response{}, models.Usage{}, err
		}
		if c.backoff.Terminated() {
			return Response{}, models.Usage{}, ErrTerminated
		}
	}
}

// attempt resolves media and calls the service once. Throttling from either
// the artifact store or the service is retryable.
func (c *Client) attempt(ctx context.Context, payload []Part) (Response, models.Usage, outcome, error) {
	contents, files, err := c.resolve(ctx, payload)
	if err != nil {
		if errors.Is(err, ErrResourceExhausted) {
			return Response{}, models.Usage{}, outcomeRetry, err
		}
		return Response{}, models.Usage{}, outcomeFatal, err
	}
	c.mu.Lock()
	c.lastFiles = files
	c.mu.Unlock()

	reply, err := c.service.Generate(ctx, contents)
	if err != nil {
		if errors.Is(err, ErrResourceExhausted) {
			return Response{}, models.Usage{}, outcomeRetry, err
		}
		return Response{}, models.Usage{}, outcomeFatal, fmt.Errorf("%s: %w", c.name, err)
	}
	resp := Response{Text: reply.Text}
	if c.schema != nil {
		fields, err := c.schema.Validate([]byte(reply.Text))
		if err != nil {
			return Response{}, models.Usage{}, outcomeFatal, fmt.Errorf("%s: %w", c.name, err)
		}
		resp.Fields = fields
	}
	return resp, reply.Usage, outcomeSuccess, nil
}

func (c *Client) resolve(ctx context.Context, payload []Part) ([]Content, []artifact.Handle, error) {
	var (
		contents []Content
		files    []artifact.Handle
	)
	for _, p := range payload {
		if p.MediaPath != "" {
			if c.cache == nil {
				return nil, nil, fmt.Errorf("%s: media part %s without artifact cache", c.name, p.MediaPath)
			}
			h, err := c.cache.Resolve(ctx, p.MediaPath)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: resolve %s: %w", c.name, p.MediaPath, err)
			}
			contents = append(contents, Content{Artifact: &h})
			files = append(files, h)
		}
		if p.Text != "" {
			contents = append(contents, Content{Text: p.Text})
		}
	}
	return contents, files, nil
}

// LastExecutionFiles returns the artifacts referenced by the most recent call.
func (c *Client) LastExecutionFiles() []artifact.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]artifact.Handle, len(c.lastFiles))
	copy(out, c.lastFiles)
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
