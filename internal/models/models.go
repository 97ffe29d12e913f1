package models

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrStageOverwrite is returned when a stage key is recorded twice in one invocation.
var ErrStageOverwrite = errors.New("stage already recorded")

// StageKey names the output of one pipeline stage
type StageKey string

const (
	StageMetadata         StageKey = "metadata"
	StageAnswer           StageKey = "reasoning.answer"
	StageCaptions         StageKey = "reasoning.captions"
	StageTargets          StageKey = "reasoning.targets"
	StageIntervals        StageKey = "grounding.intervals"
	StageReconcile        StageKey = "reconcile.disagree"
	StageClarifyQuestions StageKey = "clarify.questions"
	StageFinal            StageKey = "final.answer"
)

// ClarifyKey returns the key of the n-th (1-based) clarification answer.
func ClarifyKey(n int) StageKey {
	return StageKey(fmt.Sprintf("clarify.qa.%d", n))
}

// Invocation is one question asked against one video
type Invocation struct {
	ID       string
	Video    string
	Question string
	Options  []string
	Duration time.Duration
}

// Usage is the token cost of one remote call
type Usage struct {
	InputTokens  int32 `json:"input_tokens"`
	OutputTokens int32 `json:"output_tokens"`
}

// Box is a bounding region in pixel coordinates
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Area returns the box area, zero for degenerate boxes.
func (b Box) Area() float64 {
	w, h := b.X2-b.X1, b.Y2-b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Detection is the top detection of one frame. Class is empty when nothing was detected.
type Detection struct {
	Class      string  `json:"class,omitempty"`
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence,omitempty"`
}

// DetectionTrack is the per-frame detection stream of a whole video
type DetectionTrack struct {
	FPS    float64
	Frames []Detection
}

// WorkItem represents a frame to be processed
type WorkItem struct {
	FramePath string
	FrameNum  int
	Total     int
}

// StageRecord is the persisted form of one recorded stage
type StageRecord struct {
	Key      StageKey      `json:"key"`
	Response any           `json:"response"`
	Usage    Usage         `json:"usage"`
	Delay    time.Duration `json:"delay"`
}

// RunRecord is the persisted form of a finished invocation
type RunRecord struct {
	ID        string        `json:"id"`
	Video     string        `json:"video"`
	Question  string        `json:"question"`
	Options   []string      `json:"options,omitempty"`
	Duration  time.Duration `json:"duration"`
	Initial   string        `json:"initial_answer"`
	Final     string        `json:"final_answer"`
	Captions  []string      `json:"captions,omitempty"`
	Stages    []StageRecord `json:"stages"`
	CreatedAt time.Time     `json:"created_at"`
}

// CaptionMatch is a stored caption returned by a similarity search
type CaptionMatch struct {
	RunID      string
	Video      string
	Caption    string
	Similarity float64
}

// Records holds the responses, token usage and latency of every stage that ran.
// The three maps always carry the same keys and a key is never overwritten.
type Records struct {
	mu        sync.Mutex
	responses map[StageKey]any
	usages    map[StageKey]Usage
	delays    map[StageKey]time.Duration
}

func NewRecords() *Records {
	return &Records{
		responses: make(map[StageKey]any),
		usages:    make(map[StageKey]Usage),
		delays:    make(map[StageKey]time.Duration),
	}
}

// Put records a stage. It fails if the key was already written.
func (r *Records) Put(key StageKey, response any, usage Usage, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.responses[key]; ok {
		return fmt.Errorf("%w: %s", ErrStageOverwrite, key)
	}
	r.responses[key] = response
	r.usages[key] = usage
	r.delays[key] = delay
	return nil
}

func (r *Records) Response(key StageKey) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.responses[key]
	return v, ok
}

func (r *Records) Usage(key StageKey) (Usage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.usages[key]
	return v, ok
}

func (r *Records) Delay(key StageKey) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.delays[key]
	return v, ok
}

func (r *Records) Has(key StageKey) bool {
	_, ok := r.Response(key)
	return ok
}

// Keys returns the recorded keys in lexical order.
func (r *Records) Keys() []StageKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]StageKey, 0, len(r.responses))
	for k := range r.responses {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// TotalUsage sums the token usage of all recorded stages.
func (r *Records) TotalUsage() Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total Usage
	for _, u := range r.usages {
		total.InputTokens += u.InputTokens
		total.OutputTokens += u.OutputTokens
	}
	return total
}

// Stages flattens the records for persistence.
func (r *Records) Stages() []StageRecord {
	keys := r.Keys()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StageRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, StageRecord{
			Key:      k,
			Response: r.responses[k],
			Usage:    r.usages[k],
			Delay:    r.delays[k],
		})
	}
	return out
}
