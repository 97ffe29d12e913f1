// Package analyzer answers questions about a video by cross-checking a
// reasoning model against object detection grounding.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bdougie/videoqa/internal/artifact"
	"github.com/bdougie/videoqa/internal/extractor"
	"github.com/bdougie/videoqa/internal/intervals"
	"github.com/bdougie/videoqa/internal/models"
	"github.com/bdougie/videoqa/internal/resilient"
)

// Video reads and trims local video files.
type Video interface {
	Probe(ctx context.Context, videoPath string) (extractor.Info, error)
	Trim(ctx context.Context, videoPath string, r extractor.Range, pad time.Duration, outPath string) (string, error)
}

// Grounder detects the requested classes on every frame of a video.
type Grounder interface {
	Detect(ctx context.Context, videoPath string, classes []string) (models.DetectionTrack, error)
}

type Options struct {
	MergeThreshold time.Duration
	TrimPad        time.Duration
	// Trim asks clarification questions against the clip named by their
	// timeframe marker instead of the whole video.
	Trim         bool
	WorkDir      string
	MaxTargets   int
	MaxQuestions int
}

func DefaultOptions() Options {
	return Options{
		MergeThreshold: intervals.DefaultMergeThreshold,
		TrimPad:        extractor.DefaultTrimPad,
		Trim:           true,
		MaxTargets:     4,
		MaxQuestions:   3,
	}
}

// Metadata is recorded under the metadata stage key
type Metadata struct {
	VideoDuration string  `json:"video_duration"`
	Seconds       float64 `json:"seconds"`
	FPS           float64 `json:"fps"`
	Frames        int     `json:"frames"`
}

// Result is the outcome of one invocation
type Result struct {
	Invocation models.Invocation
	Initial    string
	Final      string
	Captions   []string
	Records    *models.Records
}

// Record flattens the result for persistence.
func (r Result) Record(createdAt time.Time) models.RunRecord {
	return models.RunRecord{
		ID:        r.Invocation.ID,
		Video:     r.Invocation.Video,
		Question:  r.Invocation.Question,
		Options:   r.Invocation.Options,
		Duration:  r.Invocation.Duration,
		Initial:   r.Initial,
		Final:     r.Final,
		Captions:  r.Captions,
		Stages:    r.Records.Stages(),
		CreatedAt: createdAt,
	}
}

// Orchestrator runs the stage pipeline for one question at a time.
type Orchestrator struct {
	clients  Clients
	cache    *artifact.Cache
	video    Video
	grounder Grounder
	opts     Options
	logger   *slog.Logger
}

func New(clients Clients, cache *artifact.Cache, video Video, grounder Grounder, opts Options, logger *slog.Logger) *Orchestrator {
	def := DefaultOptions()
	if opts.MergeThreshold <= 0 {
		opts.MergeThreshold = def.MergeThreshold
	}
	if opts.TrimPad < 0 {
		opts.TrimPad = def.TrimPad
	}
	if opts.MaxTargets <= 0 {
		opts.MaxTargets = def.MaxTargets
	}
	if opts.MaxQuestions <= 0 {
		opts.MaxQuestions = def.MaxQuestions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		clients:  clients,
		cache:    cache,
		video:    video,
		grounder: grounder,
		opts:     opts,
		logger:   logger,
	}
}

type answerResponse struct {
	Reasoning string `json:"reasoning"`
	Answer    string `json:"answer"`
}

type captionsResponse struct {
	Timeframes []string `json:"timeframes"`
}

type targetsResponse struct {
	Targets []string `json:"targets"`
}

type scopedResponse struct {
	Answer string `json:"answer"`
}

type reconcileResponse struct {
	Reasoning string `json:"reasoning"`
	Disagree  bool   `json:"disagree"`
}

type questionsResponse struct {
	Questions []string `json:"questions"`
}

// run carries the state threaded between stages of one invocation
type run struct {
	inv       models.Invocation
	prompt    string
	records   *models.Records
	answer    answerResponse
	captions  []string
	targets   []string
	grounding intervals.Result
	reconcile reconcileResponse
	qa        []qaPair
	clarified bool
	final     answerResponse
}

// Answer runs every stage for question against videoPath and returns the
// initial and final answers together with the per-stage records.
func (o *Orchestrator) Answer(ctx context.Context, videoPath, question string, options []string) (Result, error) {
	r := &run{
		inv: models.Invocation{
			ID:       uuid.NewString(),
			Video:    videoPath,
			Question: question,
			Options:  options,
		},
		prompt:  questionText(question, options),
		records: models.NewRecords(),
	}
	logger := o.logger.With("invocation", r.inv.ID)

	stages := []struct {
		name string
		fn   func(context.Context, *run) error
	}{
		{"init", o.init},
		{"reasoning", o.reason},
		{"grounding", o.ground},
		{"reconcile", o.reconcileStage},
		{"clarify", o.clarify},
		{"finalize", o.finalize},
	}
	for _, s := range stages {
		logger.Debug("entering stage", "stage", s.name)
		if err := s.fn(ctx, r); err != nil {
			return Result{}, fmt.Errorf("%s: %w", s.name, err)
		}
	}

	logger.Info("answered", "initial", r.answer.Answer, "final", r.final.Answer, "clarified", r.clarified)
	return Result{
		Invocation: r.inv,
		Initial:    r.answer.Answer,
		Final:      r.final.Answer,
		Captions:   r.captions,
		Records:    r.records,
	}, nil
}

// ReleaseCache evicts the artifacts referenced by the latest answer call.
func (o *Orchestrator) ReleaseCache(ctx context.Context) error {
	files := o.clients.Answer.LastExecutionFiles()
	if err := o.cache.Evict(ctx, files...); err != nil {
		return err
	}
	o.logger.Info("removed files from cache", "count", len(files))
	return nil
}

func (o *Orchestrator) init(ctx context.Context, r *run) error {
	start := time.Now()
	info, err := o.video.Probe(ctx, r.inv.Video)
	if err != nil {
		return err
	}
	r.inv.Duration = info.Duration
	meta := Metadata{
		VideoDuration: extractor.FormatDuration(info.Duration),
		Seconds:       info.Duration.Seconds(),
		FPS:           info.FPS,
		Frames:        info.Frames,
	}
	if err := r.records.Put(models.StageMetadata, meta, models.Usage{}, time.Since(start)); err != nil {
		return err
	}
	return o.cache.FlushAll(ctx)
}

func (o *Orchestrator) reason(ctx context.Context, r *run) error {
	var captions captionsResponse
	var targets targetsResponse

	// errgroup without a derived context: a failed call does not cancel its siblings.
	var g errgroup.Group
	g.Go(func() error {
		return o.call(ctx, o.clients.Answer, r.records, models.StageAnswer, resilient.Media(r.inv.Video, r.prompt), &r.answer)
	})
	g.Go(func() error {
		return o.call(ctx, o.clients.Captions, r.records, models.StageCaptions, resilient.Media(r.inv.Video, r.prompt), &captions)
	})
	g.Go(func() error {
		return o.call(ctx, o.clients.Targets, r.records, models.StageTargets, resilient.Media(r.inv.Video, r.prompt), &targets)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	r.captions = captions.Timeframes
	r.targets = uniqueTargets(targets.Targets)
	if len(r.targets) > o.opts.MaxTargets {
		o.logger.Warn("too many detection targets, truncating", "targets", r.targets, "max", o.opts.MaxTargets)
		r.targets = r.targets[:o.opts.MaxTargets]
	}
	return nil
}

// uniqueTargets drops blank and repeated class names, keeping first-seen order.
func uniqueTargets(targets []string) []string {
	seen := make(map[string]bool, len(targets))
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func (o *Orchestrator) ground(ctx context.Context, r *run) error {
	start := time.Now()
	if len(r.targets) == 0 {
		o.logger.Warn("no detection targets, skipping detection")
		r.grounding = intervals.Result{Ranges: map[string][]intervals.TimeRange{}}
	} else {
		track, err := o.grounder.Detect(ctx, r.inv.Video, r.targets)
		if err != nil {
			return err
		}
		r.grounding, err = intervals.Extract(r.targets, track.Frames, track.FPS, o.opts.MergeThreshold)
		if err != nil {
			return err
		}
	}
	o.logger.Info("object detections", "stage", models.StageIntervals, "grounding", r.grounding.String())
	return r.records.Put(models.StageIntervals, r.grounding, models.Usage{}, time.Since(start))
}

func (o *Orchestrator) reconcileStage(ctx context.Context, r *run) error {
	text := reconcileText(r.answer.Reasoning, r.captions, r.grounding.String())
	return o.call(ctx, o.clients.Reconcile, r.records, models.StageReconcile, resilient.Text(text), &r.reconcile)
}

func (o *Orchestrator) finalize(ctx context.Context, r *run) error {
	text := finalText(r.prompt, r.answer.Reasoning, r.captions, r.grounding.String(), r.qa, r.clarified)
	return o.call(ctx, o.clients.Final, r.records, models.StageFinal, resilient.Text(text), &r.final)
}

// call invokes one client, decodes its response into out and records it under key.
func (o *Orchestrator) call(ctx context.Context, client *resilient.Client, records *models.Records, key models.StageKey, payload []resilient.Part, out any) error {
	start := time.Now()
	resp, usage, err := client.Invoke(ctx, payload)
	if err != nil {
		return err
	}
	if err := resp.Decode(out); err != nil {
		return fmt.Errorf("%s: %w", client.Name(), err)
	}
	delay := time.Since(start)
	o.logger.Info("stage response", "stage", key, "response", resp.Text, "input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens, "delay", delay)
	var response any = resp.Fields
	if resp.Fields == nil {
		response = resp.Text
	}
	return records.Put(key, response, usage, delay)
}
