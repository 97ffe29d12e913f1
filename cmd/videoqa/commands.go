package main

import (
	"context"
	"fmt"
	"time"
)

func (c *AnswerCmd) Execute(args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, c.global.Config)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.orchestrator(ctx)
	if err != nil {
		return err
	}
	store, release, err := a.storage(ctx)
	if err != nil {
		return err
	}
	defer release()

	a.logger.Info("answering", "video", c.Video, "question", c.Question, "options", len(c.Options))
	res, err := orch.Answer(ctx, c.Video, c.Question, c.Options)
	if err != nil {
		return err
	}

	if !c.KeepCache {
		if err := orch.ReleaseCache(ctx); err != nil {
			a.logger.Warn("failed to release cache", "error", err)
		}
	}

	if store != nil {
		if err := store.AddRun(ctx, res.Record(time.Now())); err != nil {
			return fmt.Errorf("failed to store run: %w", err)
		}
		if err := store.Flush(); err != nil {
			return fmt.Errorf("failed to flush runs: %w", err)
		}
	}

	usage := res.Records.TotalUsage()
	fmt.Printf("Initial answer: %s\n", res.Initial)
	fmt.Printf("Final answer:   %s\n", res.Final)
	fmt.Printf("Tokens:         %d in / %d out\n", usage.InputTokens, usage.OutputTokens)
	return nil
}

func (c *ReleaseCmd) Execute(args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, c.global.Config)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.cache.FlushAll(ctx); err != nil {
		return err
	}
	fmt.Println("Released all uploaded artifacts")
	return nil
}

func (c *SearchCmd) Execute(args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, c.global.Config)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Storage.Driver != "postgres" {
		return fmt.Errorf("search needs the postgres storage driver, got %q", a.cfg.Storage.Driver)
	}
	pg, svc, err := a.postgres(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()
	defer pg.Close()

	matches, err := pg.SearchCaptions(ctx, c.Query, c.Limit)
	if err != nil {
		return err
	}
	for _, m := range matches {
		fmt.Printf("%.3f  %s  %s  %s\n", m.Similarity, m.Video, m.RunID, m.Caption)
	}
	return nil
}
