package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"

	"github.com/bdougie/videoqa/internal/analyzer"
	"github.com/bdougie/videoqa/internal/artifact"
	"github.com/bdougie/videoqa/internal/config"
	"github.com/bdougie/videoqa/internal/detect"
	"github.com/bdougie/videoqa/internal/embeddings"
	"github.com/bdougie/videoqa/internal/extractor"
	"github.com/bdougie/videoqa/internal/gemini"
	"github.com/bdougie/videoqa/internal/resilient"
	"github.com/bdougie/videoqa/internal/storage"
)

// app wires the components shared by every command
type app struct {
	cfg    config.Config
	logger *slog.Logger
	gemini *gemini.Client
	cache  *artifact.Cache
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	// Configure logger
	logger := slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      cfg.SlogLevel(),
			TimeFormat: "15:04:05",
		}),
	)
	slog.SetDefault(logger)

	client, err := gemini.NewClient(ctx, cfg.Gemini.APIKey, logger)
	if err != nil {
		return nil, err
	}
	cache := artifact.NewCache(client.Files(),
		artifact.WithPollInterval(cfg.Upload.PollInterval),
		artifact.WithLogger(logger),
	)
	return &app{cfg: cfg, logger: logger, gemini: client, cache: cache}, nil
}

func (a *app) Close() {
	if err := a.gemini.Close(); err != nil {
		a.logger.Warn("failed to close gemini client", "error", err)
	}
}

// services builds the reasoning backend of every role. Text-only roles go to
// Ollama when it is enabled.
func (a *app) services(ctx context.Context, roles analyzer.Roles) (map[string]resilient.Service, error) {
	out := make(map[string]resilient.Service)
	for _, role := range []analyzer.Role{roles.Answer, roles.Captions, roles.Targets, roles.Scoped, roles.Reconcile, roles.Questions, roles.Final} {
		if a.cfg.Ollama.Enabled && !role.Vision {
			m, err := analyzer.NewTextModel(ctx, analyzer.OllamaConfig{
				BaseURL: a.cfg.Ollama.BaseURL,
				Port:    a.cfg.Ollama.Port,
				Model:   a.cfg.Ollama.Model,
			}, role, a.logger)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize %s model: %w", role.Name, err)
			}
			out[role.Name] = m
			continue
		}
		schema := role.Schema
		out[role.Name] = a.gemini.Model(gemini.ModelConfig{
			Name:         a.cfg.Gemini.Model,
			SystemPrompt: role.SystemPrompt,
			Schema:       &schema,
			Temperature:  a.cfg.Gemini.Temperature,
			Seed:         a.cfg.Gemini.Seed,
		})
	}
	return out, nil
}

func (a *app) orchestrator(ctx context.Context) (*analyzer.Orchestrator, error) {
	roles := analyzer.DefaultRoles(a.cfg.Subinstruction)
	services, err := a.services(ctx, roles)
	if err != nil {
		return nil, err
	}
	backoff := resilient.NewBackoff(a.cfg.Retry.DelayFloor, a.cfg.Retry.DelayStep)
	clients := analyzer.NewClients(roles, func(r analyzer.Role) resilient.Service {
		return services[r.Name]
	}, a.cache, backoff,
		resilient.WithMaxRetries(a.cfg.Retry.MaxRetries),
		resilient.WithLogger(a.logger),
	)

	video := extractor.New(a.cfg.Video.FFmpeg, a.cfg.Video.FFprobe, a.logger)
	detector := detect.NewClient(a.cfg.Detector.URL, a.cfg.Detector.Model, a.cfg.Detector.Confidence, a.cfg.Detector.Timeout)
	filter := detect.Filter{
		Confidence:   a.cfg.Detector.Confidence,
		NMSThreshold: a.cfg.Detector.NMSThreshold,
		MaxAreaRatio: a.cfg.Detector.MaxAreaRatio,
	}
	runner := detect.NewRunner(detector, video, filter, a.cfg.Detector.Workers, a.cfg.WorkDir, a.logger)

	return analyzer.New(clients, a.cache, video, runner, analyzer.Options{
		MergeThreshold: a.cfg.Grounding.MergeThreshold,
		TrimPad:        a.cfg.Clarify.TrimPad,
		Trim:           a.cfg.Clarify.Trim,
		WorkDir:        a.cfg.WorkDir,
		MaxTargets:     a.cfg.Grounding.MaxTargets,
		MaxQuestions:   a.cfg.Clarify.MaxQuestions,
	}, a.logger), nil
}

// storage opens the configured run store. The returned func releases it.
func (a *app) storage(ctx context.Context) (storage.Storage, func(), error) {
	switch a.cfg.Storage.Driver {
	case "postgres":
		pg, svc, err := a.postgres(ctx)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { pg.Close(); svc.Close() }, nil
	case "json":
		return storage.NewStorage(a.cfg.Storage.OutputDir, a.logger), func() {}, nil
	}
	return nil, func() {}, nil
}

func (a *app) postgres(ctx context.Context) (*storage.PostgresStorage, *embeddings.Service, error) {
	pgCfg := a.cfg.Storage.Postgres
	if err := storage.InitSchema(ctx, pgCfg, a.cfg.Storage.Dimensions); err != nil {
		return nil, nil, err
	}
	svc := embeddings.NewService(a.gemini.Embedder(a.cfg.Gemini.EmbeddingModel), 4)
	pg, err := storage.NewPostgresStorage(ctx, pgCfg, svc, a.logger)
	if err != nil {
		svc.Close()
		return nil, nil, err
	}
	return pg, svc, nil
}
