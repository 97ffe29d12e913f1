package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/bdougie/videoqa/internal/models"
)

// DefaultDimensions matches the text-embedding-004 output size.
const DefaultDimensions = 768

// PostgresConfig holds connection details for PostgreSQL
type PostgresConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

// ConnString returns URL when set, otherwise builds one from the parts.
func (c PostgresConfig) ConnString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.DBName,
	)
}

// Embedder vectorizes captions for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedAll(ctx context.Context, texts []string) ([][]float32, error)
}

// PostgresStorage stores runs, stage records and caption embeddings
type PostgresStorage struct {
	pool     *pgxpool.Pool
	embedder Embedder
	logger   *slog.Logger
}

// NewPostgresStorage creates a new PostgreSQL storage connection
func NewPostgresStorage(ctx context.Context, config PostgresConfig, embedder Embedder, logger *slog.Logger) (*PostgresStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, config.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStorage{
		pool:     pool,
		embedder: embedder,
		logger:   logger,
	}, nil
}

// Close closes the database connection
func (s *PostgresStorage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// getOrCreateVideo gets an existing video entry or creates a new one
func getOrCreateVideo(ctx context.Context, tx pgx.Tx, videoName string) (int, error) {
	var id int
	err := tx.QueryRow(ctx,
		"SELECT id FROM videos WHERE name = $1",
		videoName).Scan(&id)

	if err == nil {
		return id, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("error checking for existing video: %w", err)
	}

	err = tx.QueryRow(ctx,
		"INSERT INTO videos (name, created_at) VALUES ($1, $2) RETURNING id",
		videoName, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create video entry: %w", err)
	}
	return id, nil
}

// AddRun stores a run with its stage records and embedded captions in one transaction.
func (s *PostgresStorage) AddRun(ctx context.Context, run models.RunRecord) error {
	// Embed before opening the transaction; a failed embedding stores the caption without a vector.
	var vectors [][]float32
	if s.embedder != nil && len(run.Captions) > 0 {
		var err error
		if vectors, err = s.embedder.EmbedAll(ctx, run.Captions); err != nil {
			s.logger.Warn("failed to generate caption embeddings", "run", run.ID, "error", err)
			vectors = nil
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	videoID, err := getOrCreateVideo(ctx, tx, run.Video)
	if err != nil {
		return err
	}

	options, err := json.Marshal(run.Options)
	if err != nil {
		return fmt.Errorf("failed to encode options: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO runs
        (id, video_id, question, options, duration_ms, initial_answer, final_answer, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, videoID, run.Question, options, run.Duration.Milliseconds(), run.Initial, run.Final, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store run: %w", err)
	}

	for _, st := range run.Stages {
		response, err := json.Marshal(st.Response)
		if err != nil {
			return fmt.Errorf("failed to encode %s response: %w", st.Key, err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO stages
            (run_id, key, response, input_tokens, output_tokens, delay_ms)
            VALUES ($1, $2, $3, $4, $5, $6)`,
			run.ID, string(st.Key), response, st.Usage.InputTokens, st.Usage.OutputTokens, st.Delay.Milliseconds())
		if err != nil {
			return fmt.Errorf("failed to store stage %s: %w", st.Key, err)
		}
	}

	for i, caption := range run.Captions {
		var embedding any
		if i < len(vectors) {
			embedding = pgvector.NewVector(vectors[i])
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO captions (run_id, content, embedding, created_at) VALUES ($1, $2, $3, $4)`,
			run.ID, caption, embedding, time.Now())
		if err != nil {
			return fmt.Errorf("failed to store caption: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	s.logger.Debug("stored run", "run", run.ID, "stages", len(run.Stages), "captions", len(run.Captions))
	return nil
}

// Flush implements the Storage interface - no-op for Postgres as we save immediately
func (s *PostgresStorage) Flush() error {
	return nil
}

// SearchCaptions finds stored captions similar to query
func (s *PostgresStorage) SearchCaptions(ctx context.Context, query string, limit int) ([]models.CaptionMatch, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	queryEmbedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT r.id::text, v.name, c.content,
        1 - (c.embedding <=> $1) AS similarity
        FROM captions c
        JOIN runs r ON c.run_id = r.id
        JOIN videos v ON r.video_id = v.id
        WHERE c.embedding IS NOT NULL
        ORDER BY c.embedding <=> $1
        LIMIT $2`,
		pgvector.NewVector(queryEmbedding), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar captions: %w", err)
	}
	defer rows.Close()

	var results []models.CaptionMatch
	for rows.Next() {
		var m models.CaptionMatch
		if err := rows.Scan(&m.RunID, &m.Video, &m.Caption, &m.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan search results: %w", err)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// InitSchema creates the database schema if it doesn't exist
func InitSchema(ctx context.Context, config PostgresConfig, dimensions int) error {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	conn, err := pgx.Connect(ctx, config.ConnString())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	_, err = conn.Exec(ctx, fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS videos (
            id SERIAL PRIMARY KEY,
            name VARCHAR(255) NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            UNIQUE(name)
        );

        CREATE TABLE IF NOT EXISTS runs (
            id UUID PRIMARY KEY,
            video_id INTEGER REFERENCES videos(id) ON DELETE CASCADE,
            question TEXT NOT NULL,
            options JSONB NOT NULL,
            duration_ms BIGINT NOT NULL,
            initial_answer TEXT NOT NULL,
            final_answer TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL
        );

        CREATE TABLE IF NOT EXISTS stages (
            id SERIAL PRIMARY KEY,
            run_id UUID REFERENCES runs(id) ON DELETE CASCADE,
            key VARCHAR(64) NOT NULL,
            response JSONB,
            input_tokens INTEGER NOT NULL,
            output_tokens INTEGER NOT NULL,
            delay_ms BIGINT NOT NULL,
            UNIQUE(run_id, key)
        );

        CREATE TABLE IF NOT EXISTS captions (
            id SERIAL PRIMARY KEY,
            run_id UUID REFERENCES runs(id) ON DELETE CASCADE,
            content TEXT NOT NULL,
            embedding vector(%d),
            created_at TIMESTAMPTZ NOT NULL
        );
    `, dimensions))
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	_, err = conn.Exec(ctx, `
        CREATE INDEX IF NOT EXISTS idx_runs_video_id ON runs(video_id);
        CREATE INDEX IF NOT EXISTS idx_stages_run_id ON stages(run_id);
        CREATE INDEX IF NOT EXISTS idx_captions_run_id ON captions(run_id);
        CREATE INDEX IF NOT EXISTS idx_captions_embedding ON captions USING hnsw (embedding vector_cosine_ops);
    `)
	if err != nil {
		return fmt.Errorf("failed to create database indexes: %w", err)
	}
	return nil
}
