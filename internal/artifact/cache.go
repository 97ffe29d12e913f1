// Package artifact deduplicates media uploaded to the reasoning service.
//
// Artifacts are identified by the base name of the local file, not by a hash
// of its content: two different files with the same name resolve to the same
// remote artifact.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrUploadFailed is returned when the remote side reports a terminal failure state.
var ErrUploadFailed = errors.New("artifact upload failed")

const DefaultPollInterval = 2 * time.Second

// State is the remote processing state of an artifact
type State int

const (
	StateUnspecified State = iota
	StateProcessing
	StateActive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateProcessing:
		return "processing"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	}
	return "unspecified"
}

// Handle is the remote identity of an uploaded media object
type Handle struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	URI         string `json:"uri"`
	MIMEType    string `json:"mime_type"`
	State       State  `json:"-"`
}

// Store is the remote media upload service
type Store interface {
	Upload(ctx context.Context, path, displayName string) (Handle, error)
	Get(ctx context.Context, name string) (Handle, error)
	List(ctx context.Context) ([]Handle, error)
	Delete(ctx context.Context, name string) error
}

// Identity returns the content identity used to deduplicate a local file.
func Identity(path string) string {
	return filepath.Base(path)
}

// Cache resolves local media paths to remote handles, uploading at most once per identity.
type Cache struct {
	store        Store
	logger       *slog.Logger
	pollInterval time.Duration

	mu    sync.Mutex
	known map[string]Handle
	group singleflight.Group
}

type Option func(*Cache)

func WithPollInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewCache(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:        store,
		logger:       slog.Default(),
		pollInterval: DefaultPollInterval,
		known:        make(map[string]Handle),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the remote handle for path, uploading the file if no
// artifact with the same identity exists remotely. Concurrent resolves of the
// same identity share a single upload.
func (c *Cache) Resolve(ctx context.Context, path string) (Handle, error) {
	id := Identity(path)
	if h, ok := c.lookup(id); ok {
		return h, nil
	}

	v, err, _ := c.group.Do(id, func() (any, error) {
		if h, ok := c.lookup(id); ok {
			return h, nil
		}
		existing, err := c.store.List(ctx)
		if err != nil {
			return Handle{}, fmt.Errorf("list artifacts: %w", err)
		}
		for _, h := range existing {
			if h.DisplayName == id && h.State != StateFailed {
				c.remember(id, h)
				return h, nil
			}
		}
		h, err := c.upload(ctx, path, id)
		if err != nil {
			return Handle{}, err
		}
		c.remember(id, h)
		return h, nil
	})
	if err != nil {
		return Handle{}, err
	}
	return v.(Handle), nil
}

func (c *Cache) upload(ctx context.Context, path, id string) (Handle, error) {
	c.logger.Debug("uploading artifact", "path", path, "identity", id)
	h, err := c.store.Upload(ctx, path, id)
	if err != nil {
		return Handle{}, fmt.Errorf("upload %s: %w", path, err)
	}
	for h.State == StateProcessing {
		select {
		case <-ctx.Done():
			return Handle{}, ctx.Err()
		case <-time.After(c.pollInterval):
		}
		if h, err = c.store.Get(ctx, h.Name); err != nil {
			return Handle{}, fmt.Errorf("poll artifact %s: %w", id, err)
		}
	}
	if h.State == StateFailed {
		return Handle{}, fmt.Errorf("%w: %s (%s)", ErrUploadFailed, h.URI, h.DisplayName)
	}
	return h, nil
}

// Evict deletes the given handles remotely and forgets them.
func (c *Cache) Evict(ctx context.Context, handles ...Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range handles {
		if err := c.store.Delete(ctx, h.Name); err != nil {
			return fmt.Errorf("delete artifact %s: %w", h.Name, err)
		}
		for id, known := range c.known {
			if known.Name == h.Name {
				delete(c.known, id)
			}
		}
	}
	return nil
}

// FlushAll deletes every remote artifact, including ones this cache never uploaded.
func (c *Cache) FlushAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	handles, err := c.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list artifacts: %w", err)
	}
	for _, h := range handles {
		if err := c.store.Delete(ctx, h.Name); err != nil {
			return fmt.Errorf("delete artifact %s: %w", h.Name, err)
		}
	}
	c.known = make(map[string]Handle)
	c.logger.Debug("flushed artifacts", "count", len(handles))
	return nil
}

func (c *Cache) lookup(id string) (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.known[id]
	return h, ok
}

func (c *Cache) remember(id string, h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.known[id] = h
}
