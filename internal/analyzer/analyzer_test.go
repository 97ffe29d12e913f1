package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/videoqa/internal/artifact"
	"github.com/bdougie/videoqa/internal/artifact/artifacttest"
	"github.com/bdougie/videoqa/internal/extractor"
	"github.com/bdougie/videoqa/internal/models"
	"github.com/bdougie/videoqa/internal/resilient"
	"github.com/bdougie/videoqa/internal/schema"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeService struct {
	mu    sync.Mutex
	reply func(contents []resilient.Content) (string, error)
	calls [][]resilient.Content
}

func (f *fakeService) Generate(ctx context.Context, contents []resilient.Content) (resilient.Reply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, contents)
	f.mu.Unlock()
	text, err := f.reply(contents)
	if err != nil {
		return resilient.Reply{}, err
	}
	return resilient.Reply{Text: text, Usage: models.Usage{InputTokens: 10, OutputTokens: 2}}, nil
}

func (f *fakeService) Calls() [][]resilient.Content {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fixed(text string) func([]resilient.Content) (string, error) {
	return func([]resilient.Content) (string, error) { return text, nil }
}

// echoScoped answers every scoped question with "seen: <question>".
func echoScoped(contents []resilient.Content) (string, error) {
	var text string
	for _, c := range contents {
		if c.Text != "" {
			text = c.Text
		}
	}
	out, err := json.Marshal(map[string]string{"answer": "seen: " + text})
	return string(out), err
}

type fakeVideo struct {
	mu      sync.Mutex
	clips   []string
	trimErr error
}

func (v *fakeVideo) Probe(ctx context.Context, videoPath string) (extractor.Info, error) {
	if strings.HasSuffix(videoPath, ".broken") {
		return extractor.Info{}, extractor.ErrUnopenable
	}
	return extractor.Info{Duration: 90 * time.Second, FPS: 10, Frames: 900}, nil
}

func (v *fakeVideo) Trim(ctx context.Context, videoPath string, r extractor.Range, pad time.Duration, outPath string) (string, error) {
	v.mu.Lock()
	v.clips = append(v.clips, outPath)
	v.mu.Unlock()
	if err := os.WriteFile(outPath, []byte("clip"), 0644); err != nil {
		return "", err
	}
	if v.trimErr != nil {
		return "", v.trimErr
	}
	return outPath, nil
}

func (v *fakeVideo) Clips() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.clips...)
}

type fakeGrounder struct {
	mu      sync.Mutex
	classes [][]string
}

func (g *fakeGrounder) Detect(ctx context.Context, videoPath string, classes []string) (models.DetectionTrack, error) {
	g.mu.Lock()
	g.classes = append(g.classes, classes)
	g.mu.Unlock()
	frames := make([]models.Detection, 10)
	for i := 0; i < 5; i++ {
		frames[i] = models.Detection{Class: classes[0]}
	}
	return models.DetectionTrack{FPS: 1, Frames: frames}, nil
}

type harness struct {
	store    *artifacttest.Store
	cache    *artifact.Cache
	services map[string]*fakeService
	video    *fakeVideo
	grounder *fakeGrounder
	orch     *Orchestrator
}

func defaultReplies() map[string]func([]resilient.Content) (string, error) {
	return map[string]func([]resilient.Content) (string, error){
		"answer":    fixed(`{"reasoning": "the ball is red", "answer": "1"}`),
		"captions":  fixed(`{"timeframes": ["<<00:00,00:05>>: a red ball rolls"]}`),
		"targets":   fixed(`{"targets": ["ball"]}`),
		"scoped":    echoScoped,
		"reconcile": fixed(`{"reasoning": "no disagreement", "disagree": false}`),
		"questions": fixed(`{"questions": []}`),
		"final":     fixed(`{"reasoning": "confirmed", "answer": "1"}`),
	}
}

func newHarness(t *testing.T, overrides map[string]func([]resilient.Content) (string, error)) *harness {
	t.Helper()
	replies := defaultReplies()
	for k, v := range overrides {
		replies[k] = v
	}
	h := &harness{
		store:    artifacttest.NewStore(),
		services: make(map[string]*fakeService),
		video:    &fakeVideo{},
		grounder: &fakeGrounder{},
	}
	h.cache = artifact.NewCache(h.store, artifact.WithLogger(discard))
	for name, reply := range replies {
		h.services[name] = &fakeService{reply: reply}
	}
	clients := NewClients(DefaultRoles(""), func(r Role) resilient.Service {
		return h.services[r.Name]
	}, h.cache, resilient.NewBackoff(resilient.DefaultDelayFloor, resilient.DefaultDelayStep),
		resilient.WithLogger(discard),
		resilient.WithSleep(func(context.Context, time.Duration) error { return nil }),
		resilient.WithTerminate(func(error) {}),
	)
	opts := DefaultOptions()
	opts.WorkDir = t.TempDir()
	h.orch = New(clients, h.cache, h.video, h.grounder, opts, discard)
	return h
}

func (h *harness) finalText(t *testing.T) string {
	calls := h.services["final"].Calls()
	require.Len(t, calls, 1)
	return calls[0][0].Text
}

func TestAnswerWithoutDisagreement(t *testing.T) {
	h := newHarness(t, nil)
	h.store.Seed("stale.mp4")

	res, err := h.orch.Answer(context.Background(), "/videos/match.mp4", "What color is the ball?", []string{"blue", "red"})
	require.NoError(t, err)

	assert.Equal(t, "1", res.Initial)
	assert.Equal(t, "1", res.Final)
	assert.Equal(t, 90*time.Second, res.Invocation.Duration)
	assert.NotEmpty(t, res.Invocation.ID)
	assert.ElementsMatch(t, []models.StageKey{
		models.StageMetadata,
		models.StageAnswer,
		models.StageCaptions,
		models.StageTargets,
		models.StageIntervals,
		models.StageReconcile,
		models.StageFinal,
	}, res.Records.Keys())

	for _, k := range res.Records.Keys() {
		_, ok := res.Records.Usage(k)
		assert.True(t, ok, "usage for %s", k)
		_, ok = res.Records.Delay(k)
		assert.True(t, ok, "delay for %s", k)
	}

	assert.Empty(t, h.services["questions"].Calls())
	assert.Empty(t, h.services["scoped"].Calls())
	final := h.finalText(t)
	assert.NotContains(t, final, "Clarification Questions")
	assert.Contains(t, final, "- ball: [0:00:00 - 0:00:04]")
	assert.Contains(t, final, "1. red")
	assert.Equal(t, [][]string{{"ball"}}, h.grounder.classes)

	// stale artifact flushed, the video uploaded once for three concurrent calls
	assert.Equal(t, int64(1), h.store.Uploads.Load())
	assert.Equal(t, int64(1), h.store.Deletes.Load())
	assert.Equal(t, 1, h.store.Len())

	meta, ok := res.Records.Response(models.StageMetadata)
	require.True(t, ok)
	assert.Equal(t, "1:30", meta.(Metadata).VideoDuration)

	rec := res.Record(time.Unix(0, 0))
	assert.Equal(t, res.Invocation.ID, rec.ID)
	assert.Equal(t, []string{"<<00:00,00:05>>: a red ball rolls"}, rec.Captions)
	assert.Len(t, rec.Stages, 7)
}

func TestAnswerDisagreementWithoutQuestions(t *testing.T) {
	h := newHarness(t, map[string]func([]resilient.Content) (string, error){
		"reconcile": fixed(`{"reasoning": "<<00:02,00:04>> the ball is not visible", "disagree": true}`),
	})

	res, err := h.orch.Answer(context.Background(), "match.mp4", "What color is the ball?", nil)
	require.NoError(t, err)
	assert.Equal(t, "1", res.Final)

	assert.True(t, res.Records.Has(models.StageClarifyQuestions))
	assert.False(t, res.Records.Has(models.ClarifyKey(1)))
	assert.Empty(t, h.services["scoped"].Calls())

	questions := h.services["questions"].Calls()
	require.Len(t, questions, 1)
	assert.Contains(t, questions[0][0].Text, "- **Video duration**: 1:30")
	assert.Contains(t, questions[0][0].Text, "the ball is not visible")
	assert.Contains(t, h.finalText(t), "Clarification Questions already answered")
}

func TestAnswerClarifiesAgainstTrimmedClips(t *testing.T) {
	h := newHarness(t, map[string]func([]resilient.Content) (string, error){
		"reconcile": fixed(`{"reasoning": "conflict", "disagree": true}`),
		"questions": fixed(`{"questions": ["Is the ball red? <<00:10,00:15>>", "Who scores?", "What falls? <<01:00,01:05>>", "Dropped question"]}`),
	})

	res, err := h.orch.Answer(context.Background(), "/videos/match.mp4", "What color is the ball?", nil)
	require.NoError(t, err)

	for n := 1; n <= 3; n++ {
		assert.True(t, res.Records.Has(models.ClarifyKey(n)), "clarify.qa.%d", n)
	}
	assert.False(t, res.Records.Has(models.ClarifyKey(4)))
	assert.Len(t, h.services["scoped"].Calls(), 3)

	clips := h.video.Clips()
	require.Len(t, clips, 2)
	for _, clip := range clips {
		_, err := os.Stat(clip)
		assert.True(t, os.IsNotExist(err), "clip %s left behind", clip)
	}
	assert.ElementsMatch(t, []string{"match_0010_0015_q1.mp4", "match_0100_0105_q3.mp4"},
		[]string{filepath.Base(clips[0]), filepath.Base(clips[1])})

	final := h.finalText(t)
	assert.Contains(t, final, "- Is the ball red? - seen: Is the ball red?")
	assert.Contains(t, final, "- Who scores? - seen: Who scores?")
	assert.Contains(t, final, "- What falls? - seen: What falls?")
	assert.NotContains(t, final, "Dropped question")
}

func TestClipRemovedWhenScopedCallFails(t *testing.T) {
	h := newHarness(t, map[string]func([]resilient.Content) (string, error){
		"reconcile": fixed(`{"reasoning": "conflict", "disagree": true}`),
		"questions": fixed(`{"questions": ["Is the ball red? <<00:10,00:15>>"]}`),
		"scoped": func([]resilient.Content) (string, error) {
			return "", errors.New("service unavailable")
		},
	})

	_, err := h.orch.Answer(context.Background(), "match.mp4", "What color is the ball?", nil)
	require.Error(t, err)
	assert.Empty(t, h.services["final"].Calls())

	clips := h.video.Clips()
	require.Len(t, clips, 1)
	_, statErr := os.Stat(clips[0])
	assert.True(t, os.IsNotExist(statErr))
}

func TestClipRemovedWhenTrimFails(t *testing.T) {
	h := newHarness(t, map[string]func([]resilient.Content) (string, error){
		"reconcile": fixed(`{"reasoning": "conflict", "disagree": true}`),
		"questions": fixed(`{"questions": ["Is the ball red? <<00:10,00:15>>"]}`),
	})
	h.video.trimErr = errors.New("ffmpeg trim failed")

	_, err := h.orch.Answer(context.Background(), "match.mp4", "What color is the ball?", nil)
	require.Error(t, err)

	clips := h.video.Clips()
	require.Len(t, clips, 1)
	_, statErr := os.Stat(clips[0])
	assert.True(t, os.IsNotExist(statErr))
}

func TestOutOfRangeTimeframeUsesFullVideo(t *testing.T) {
	h := newHarness(t, map[string]func([]resilient.Content) (string, error){
		"reconcile": fixed(`{"reasoning": "conflict", "disagree": true}`),
		"questions": fixed(`{"questions": ["Is the ball red? <<05:00,05:10>>"]}`),
	})
	h.video.trimErr = extractor.ErrEmptyRange

	_, err := h.orch.Answer(context.Background(), "match.mp4", "What color is the ball?", nil)
	require.NoError(t, err)

	calls := h.services["scoped"].Calls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0][0].Artifact)
	assert.Equal(t, "match.mp4", calls[0][0].Artifact.DisplayName)
	assert.Equal(t, "Is the ball red? <<05:00,05:10>>", calls[0][1].Text)
}

func TestTargetsNormalized(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     []string
	}{
		{"truncated to four", `{"targets": ["a", "b", "c", "d", "e", "f"]}`, []string{"a", "b", "c", "d"}},
		{"duplicates dropped", `{"targets": ["ball", "ball", "cup"]}`, []string{"ball", "cup"}},
		{"duplicates dropped before truncating", `{"targets": ["a", "a", "b", "c", "b", "d", "e"]}`, []string{"a", "b", "c", "d"}},
		{"blank names dropped", `{"targets": [" ", "ball ", "ball"]}`, []string{"ball"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, map[string]func([]resilient.Content) (string, error){
				"targets": fixed(tt.response),
			})

			_, err := h.orch.Answer(context.Background(), "match.mp4", "q", nil)
			require.NoError(t, err)
			assert.Equal(t, [][]string{tt.want}, h.grounder.classes)
		})
	}
}

func TestEmptyTargetsSkipDetection(t *testing.T) {
	h := newHarness(t, map[string]func([]resilient.Content) (string, error){
		"targets": fixed(`{"targets": []}`),
	})

	res, err := h.orch.Answer(context.Background(), "match.mp4", "q", nil)
	require.NoError(t, err)
	assert.Empty(t, h.grounder.classes)
	assert.True(t, res.Records.Has(models.StageIntervals))
}

func TestMalformedResponsePropagates(t *testing.T) {
	h := newHarness(t, map[string]func([]resilient.Content) (string, error){
		"answer": fixed(`{"answer": "1"}`),
	})

	_, err := h.orch.Answer(context.Background(), "match.mp4", "q", nil)
	assert.ErrorIs(t, err, schema.ErrMalformedResponse)
	assert.Empty(t, h.services["reconcile"].Calls())
}

func TestUnopenableVideo(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.Answer(context.Background(), "match.broken", "q", nil)
	assert.ErrorIs(t, err, extractor.ErrUnopenable)
	assert.Empty(t, h.services["answer"].Calls())
}

func TestReleaseCache(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.Answer(context.Background(), "match.mp4", "q", nil)
	require.NoError(t, err)
	require.Equal(t, 1, h.store.Len())

	require.NoError(t, h.orch.ReleaseCache(context.Background()))
	assert.Equal(t, 0, h.store.Len())
}

func TestSplitTimeframe(t *testing.T) {
	type testCase struct {
		name     string
		question string
		text     string
		tf       *extractor.Range
	}
	cases := []testCase{
		{
			name:     "no marker",
			question: " Who scores? ",
			text:     "Who scores?",
		},
		{
			name:     "trailing marker",
			question: "Is the ball red? <<00:10,00:15>>",
			text:     "Is the ball red?",
			tf:       &extractor.Range{Start: 10 * time.Second, End: 15 * time.Second},
		},
		{
			name:     "leading marker with spaces",
			question: "<< 1:02 , 1:05 >> what falls?",
			text:     "what falls?",
			tf:       &extractor.Range{Start: 62 * time.Second, End: 65 * time.Second},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			text, tf := splitTimeframe(tc.question)
			assert.Equal(t, tc.text, text)
			assert.Equal(t, tc.tf, tf)
		})
	}
}

func TestQuestionText(t *testing.T) {
	assert.Equal(t, "- **Question**: why?", questionText("why?", nil))
	assert.Equal(t, "- **Question**: why?\n- **Possible answers**:\n0. a\n1. b", questionText("why?", []string{"a", "b"}))
}

func TestTextModelRejectsMedia(t *testing.T) {
	m := &TextModel{logger: discard}
	_, err := m.Generate(context.Background(), []resilient.Content{{Artifact: &artifact.Handle{DisplayName: "match.mp4"}}})
	assert.ErrorIs(t, err, ErrMediaUnsupported)

	_, err = NewTextModel(context.Background(), OllamaConfig{}, DefaultRoles("").Answer, discard)
	assert.ErrorIs(t, err, ErrMediaUnsupported)
}

func TestCheckServer(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	assert.NoError(t, checkServer(context.Background(), ok.URL))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	assert.Error(t, checkServer(context.Background(), down.URL))
}
