package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/videoqa/internal/models"
)

func run(id string) models.RunRecord {
	return models.RunRecord{
		ID:       id,
		Video:    "match.mp4",
		Question: "What color is the ball?",
		Initial:  "1",
		Final:    "1",
		Duration: 90 * time.Second,
		Stages: []models.StageRecord{
			{Key: models.StageAnswer, Response: map[string]any{"answer": "1"}, Usage: models.Usage{InputTokens: 3, OutputTokens: 1}},
		},
	}
}

func TestJSONStorageFlush(t *testing.T) {
	dir := t.TempDir()
	s := NewStorage(dir, nil)

	require.NoError(t, s.AddRun(context.Background(), run("a")))
	_, err := os.Stat(s.path())
	assert.True(t, os.IsNotExist(err), "single run should stay in the batch")

	require.NoError(t, s.Flush())
	runs, err := NewStorage(dir, nil).Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "a", runs[0].ID)
	assert.Equal(t, models.StageAnswer, runs[0].Stages[0].Key)
	assert.Equal(t, int32(3), runs[0].Stages[0].Usage.InputTokens)
}

func TestJSONStorageBatches(t *testing.T) {
	dir := t.TempDir()
	s := NewStorage(dir, nil)

	for i := 0; i < batchSize; i++ {
		require.NoError(t, s.AddRun(context.Background(), run(string(rune('a'+i)))))
	}
	stored, err := NewStorage(dir, nil).Runs()
	require.NoError(t, err)
	assert.Len(t, stored, batchSize)

	require.NoError(t, s.AddRun(context.Background(), run("z")))
	all, err := s.Runs()
	require.NoError(t, err)
	assert.Len(t, all, batchSize+1)
}

func TestJSONStorageAppends(t *testing.T) {
	dir := t.TempDir()
	for _, id := range []string{"a", "b"} {
		s := NewStorage(dir, nil)
		require.NoError(t, s.AddRun(context.Background(), run(id)))
		require.NoError(t, s.Flush())
	}
	runs, err := NewStorage(dir, nil).Runs()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[1].ID)
}

func TestConnString(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/videoqa",
		PostgresConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "videoqa"}.ConnString())
	assert.Equal(t, "postgres://x", PostgresConfig{URL: "postgres://x", Host: "ignored"}.ConnString())
}

var (
	_ Storage = (*JSONStorage)(nil)
	_ Storage = (*PostgresStorage)(nil)
)
