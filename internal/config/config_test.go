package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "videoqa.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvAPIKey, "key")
	t.Setenv(EnvDetectorURL, "")
	t.Setenv(EnvDatabaseURL, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "key", cfg.Gemini.APIKey)
	assert.Equal(t, 20, cfg.Retry.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Retry.DelayFloor)
	assert.Equal(t, 5*time.Second, cfg.Retry.DelayStep)
	assert.Equal(t, 2*time.Second, cfg.Upload.PollInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.Grounding.MergeThreshold)
	assert.Equal(t, 2500*time.Millisecond, cfg.Clarify.TrimPad)
	assert.True(t, cfg.Clarify.Trim)
	assert.Equal(t, float32(0), cfg.Gemini.Temperature)
}

func TestLoadFileAndEnv(t *testing.T) {
	t.Setenv(EnvAPIKey, "from-env")
	t.Setenv(EnvDetectorURL, "http://detector:9001")
	t.Setenv(EnvDatabaseURL, "postgres://db/videoqa")

	path := writeConfig(t, `
gemini:
  api_key: from-file
  model: gemini-1.5-flash
  seed: 7
retry:
  max_retries: 3
  delay_floor: 1s
clarify:
  trim: false
  max_questions: 2
storage:
  driver: postgres
log:
  level: debug
subinstruction: "Answer with the option index."
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Gemini.APIKey)
	assert.Equal(t, "gemini-1.5-flash", cfg.Gemini.Model)
	require.NotNil(t, cfg.Gemini.Seed)
	assert.Equal(t, int32(7), *cfg.Gemini.Seed)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.DelayFloor)
	assert.Equal(t, 5*time.Second, cfg.Retry.DelayStep)
	assert.False(t, cfg.Clarify.Trim)
	assert.Equal(t, 2, cfg.Clarify.MaxQuestions)
	assert.Equal(t, "http://detector:9001", cfg.Detector.URL)
	assert.Equal(t, "postgres://db/videoqa", cfg.Storage.Postgres.ConnString())
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, "Answer with the option index.", cfg.Subinstruction)
}

func TestValidate(t *testing.T) {
	type testCase struct {
		name   string
		mutate func(*Config)
		valid  bool
	}
	cases := []testCase{
		{name: "defaults with key", mutate: func(c *Config) {}, valid: true},
		{name: "missing key", mutate: func(c *Config) { c.Gemini.APIKey = "" }},
		{name: "negative retries", mutate: func(c *Config) { c.Retry.MaxRetries = -1 }},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "sqlite" }},
		{name: "postgres without url", mutate: func(c *Config) { c.Storage.Driver = "postgres" }},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }},
		{name: "no detector", mutate: func(c *Config) { c.Detector.URL = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Gemini.APIKey = "key"
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalid)
			}
		})
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	t.Setenv(EnvAPIKey, "key")
	_, err := Load(writeConfig(t, "retry: [unterminated"))
	assert.Error(t, err)
}
