// Package artifacttest provides an in-memory artifact.Store for tests.
package artifacttest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bdougie/videoqa/internal/artifact"
)

// Store keeps artifacts in memory. Uploads stay in processing for
// ProcessingPolls Get calls, then become active (or failed with FailUploads).
type Store struct {
	ProcessingPolls int
	FailUploads     bool
	UploadDelay     time.Duration
	// UploadErrs are returned, in order, by the first Upload calls.
	UploadErrs []error

	Uploads atomic.Int64
	Deletes atomic.Int64

	mu      sync.Mutex
	seq     int
	files   map[string]artifact.Handle
	pending map[string]int
}

func NewStore() *Store {
	return &Store{
		files:   make(map[string]artifact.Handle),
		pending: make(map[string]int),
	}
}

// Seed adds an already-active artifact as if uploaded by a previous run.
func (s *Store) Seed(displayName string) artifact.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.newHandle(displayName)
	h.State = artifact.StateActive
	s.files[h.Name] = h
	return h
}

func (s *Store) Upload(ctx context.Context, path, displayName string) (artifact.Handle, error) {
	s.Uploads.Add(1)
	if s.UploadDelay > 0 {
		time.Sleep(s.UploadDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.UploadErrs) > 0 {
		err := s.UploadErrs[0]
		s.UploadErrs = s.UploadErrs[1:]
		return artifact.Handle{}, err
	}
	h := s.newHandle(displayName)
	h.State = artifact.StateProcessing
	if s.ProcessingPolls == 0 {
		h.State = s.finalState()
	}
	s.pending[h.Name] = s.ProcessingPolls
	s.files[h.Name] = h
	return h, nil
}

func (s *Store) Get(ctx context.Context, name string) (artifact.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.files[name]
	if !ok {
		return artifact.Handle{}, fmt.Errorf("artifact %s not found", name)
	}
	if h.State == artifact.StateProcessing {
		s.pending[name]--
		if s.pending[name] <= 0 {
			h.State = s.finalState()
			s.files[name] = h
		}
	}
	return h, nil
}

func (s *Store) List(ctx context.Context) ([]artifact.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]artifact.Handle, 0, len(s.files))
	for _, h := range s.files {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	s.Deletes.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[name]; !ok {
		return fmt.Errorf("artifact %s not found", name)
	}
	delete(s.files, name)
	return nil
}

// Len returns the number of artifacts currently stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

func (s *Store) newHandle(displayName string) artifact.Handle {
	s.seq++
	name := fmt.Sprintf("files/%04d", s.seq)
	return artifact.Handle{
		Name:        name,
		DisplayName: displayName,
		URI:         "https://example.test/" + name,
		MIMEType:    "video/mp4",
	}
}

func (s *Store) finalState() artifact.State {
	if s.FailUploads {
		return artifact.StateFailed
	}
	return artifact.StateActive
}
