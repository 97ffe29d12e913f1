package analyzer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bdougie/videoqa/internal/extractor"
	"github.com/bdougie/videoqa/internal/models"
	"github.com/bdougie/videoqa/internal/resilient"
)

// unanswerable is the literal answer of the scoped role when the content is not visible.
const unanswerable = "unanswerable"

var timeframeMarker = regexp.MustCompile(`<<\s*(\d{1,2}:\d{2})\s*,\s*(\d{1,2}:\d{2})\s*>>`)

// splitTimeframe returns the question without its timeframe markers and the
// first marked range, if any.
func splitTimeframe(question string) (string, *extractor.Range) {
	m := timeframeMarker.FindStringSubmatch(question)
	if m == nil {
		return strings.TrimSpace(question), nil
	}
	stripped := strings.Join(strings.Fields(timeframeMarker.ReplaceAllString(question, " ")), " ")
	r, err := extractor.ParseRange(m[1] + "," + m[2])
	if err != nil {
		return stripped, nil
	}
	return stripped, &r
}

// clipName returns a per-question file name for a trimmed clip.
func clipName(videoPath string, r extractor.Range, n int) string {
	return fmt.Sprintf("%s_%s_q%d%s", extractor.VideoName(videoPath), r.Compact(), n, filepath.Ext(videoPath))
}

func (o *Orchestrator) clarify(ctx context.Context, r *run) error {
	if !r.reconcile.Disagree {
		return nil
	}
	r.clarified = true

	meta, _ := r.records.Response(models.StageMetadata)
	duration := extractor.FormatDuration(r.inv.Duration)
	if m, ok := meta.(Metadata); ok {
		duration = m.VideoDuration
	}

	var resp questionsResponse
	text := questionsText(r.prompt, r.reconcile.Reasoning, duration)
	if err := o.call(ctx, o.clients.Questions, r.records, models.StageClarifyQuestions, resilient.Text(text), &resp); err != nil {
		return err
	}
	questions := resp.Questions
	if len(questions) > o.opts.MaxQuestions {
		o.logger.Warn("too many clarification questions, truncating", "count", len(questions), "max", o.opts.MaxQuestions)
		questions = questions[:o.opts.MaxQuestions]
	}
	if len(questions) == 0 {
		o.logger.Info("no clarification questions")
		return nil
	}

	clipDir, err := os.MkdirTemp(o.opts.WorkDir, "videoqa-clips-")
	if err != nil {
		return fmt.Errorf("create clip directory: %w", err)
	}
	defer os.RemoveAll(clipDir)

	answers := make([]qaPair, len(questions))
	var g errgroup.Group
	for i, q := range questions {
		g.Go(func() error {
			pair, err := o.ask(ctx, r, clipDir, i+1, q)
			if err != nil {
				return err
			}
			answers[i] = pair
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.qa = answers
	return nil
}

// ask answers the n-th clarification question, against a trimmed clip when
// the question names a timeframe. The clip is removed before returning.
func (o *Orchestrator) ask(ctx context.Context, r *run, clipDir string, n int, question string) (qaPair, error) {
	start := time.Now()
	text := strings.TrimSpace(question)
	source := r.inv.Video

	if stripped, tf := splitTimeframe(question); tf != nil && o.opts.Trim {
		clipPath := filepath.Join(clipDir, clipName(r.inv.Video, *tf, n))
		defer os.Remove(clipPath)
		clip, err := o.video.Trim(ctx, r.inv.Video, *tf, o.opts.TrimPad, clipPath)
		switch {
		case errors.Is(err, extractor.ErrEmptyRange):
			o.logger.Warn("timeframe outside the video, asking against the full video", "question", n, "error", err)
		case err != nil:
			return qaPair{}, err
		default:
			source, text = clip, stripped
		}
	}

	resp, usage, err := o.clients.Scoped.Invoke(ctx, resilient.Media(source, text))
	if err != nil {
		return qaPair{}, err
	}
	var out scopedResponse
	if err := resp.Decode(&out); err != nil {
		return qaPair{}, fmt.Errorf("%s: %w", o.clients.Scoped.Name(), err)
	}
	delay := time.Since(start)
	if err := r.records.Put(models.ClarifyKey(n), resp.Fields, usage, delay); err != nil {
		return qaPair{}, err
	}
	o.logger.Info("clarification", "question", n, "text", text, "answer", out.Answer, "unanswerable", strings.EqualFold(out.Answer, unanswerable))
	return qaPair{Question: text, Answer: out.Answer}, nil
}
