package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bdougie/videoqa/internal/models"
)

const batchSize = 10 // Number of runs to batch write

const runsFile = "runs.json"

// Storage defines the interface for storing finished runs
type Storage interface {
	// AddRun adds a single run record
	AddRun(ctx context.Context, run models.RunRecord) error

	// Flush ensures all pending runs are saved
	Flush() error
}

// JSONStorage appends run records to a JSON file in batches
type JSONStorage struct {
	runs      []models.RunRecord
	mu        sync.Mutex
	outputDir string
	logger    *slog.Logger
}

// NewStorage creates a new storage manager writing to outputDir/runs.json
func NewStorage(outputDir string, logger *slog.Logger) *JSONStorage {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONStorage{
		outputDir: outputDir,
		logger:    logger,
	}
}

// AddRun adds a run to the batch and flushes if the batch is full
func (s *JSONStorage) AddRun(ctx context.Context, run models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)

	// Write to disk when batch is full
	if len(s.runs) >= batchSize {
		if err := s.flush(); err != nil {
			s.logger.Error("error flushing runs", "error", err)
			return err
		}
	}
	return nil
}

// Flush writes all pending runs to disk
func (s *JSONStorage) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

// Runs returns every stored run followed by the pending ones.
func (s *JSONStorage) Runs() ([]models.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.load()
	if err != nil {
		return nil, err
	}
	return append(stored, s.runs...), nil
}

func (s *JSONStorage) path() string {
	return filepath.Join(s.outputDir, runsFile)
}

func (s *JSONStorage) load() ([]models.RunRecord, error) {
	var existing []models.RunRecord
	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read runs file: %w", err)
	}
	if err := json.Unmarshal(data, &existing); err != nil {
		return nil, fmt.Errorf("failed to unmarshal existing runs: %w", err)
	}
	return existing, nil
}

// Internal flush implementation
func (s *JSONStorage) flush() error {
	if len(s.runs) == 0 {
		return nil
	}

	existing, err := s.load()
	if err != nil {
		return err
	}
	all := append(existing, s.runs...)

	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory for runs: %w", err)
	}

	file, err := os.Create(s.path())
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(all); err != nil {
		return err
	}

	s.logger.Debug("flushed runs", "count", len(s.runs), "path", s.path())
	s.runs = nil // Clear the batch
	return nil
}
