// Package intervals reduces per-frame detections into merged time intervals per class.
package intervals

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bdougie/videoqa/internal/models"
)

const DefaultMergeThreshold = 1500 * time.Millisecond

var ErrInvalidFrameRate = errors.New("frame rate must be positive")

// Span is an inclusive frame range
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// TimeRange is a span rendered as H:MM:SS timestamps
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Result holds the merged ranges of every requested class, in request order.
type Result struct {
	Classes []string               `json:"classes"`
	Ranges  map[string][]TimeRange `json:"ranges"`
}

// Collect walks the frames in order and builds the unmerged spans of each class.
// A frame extends the open span of its class only when the class was also seen
// on the immediately preceding frame. Frames without a requested label close
// every open span.
func Collect(classes []string, detections []models.Detection) map[string][]Span {
	spans := make(map[string][]Span, len(classes))
	last := make(map[string]int, len(classes))
	for _, cls := range classes {
		spans[cls] = []Span{}
		last[cls] = -1
	}

	for frame, det := range detections {
		cls := det.Class
		if _, requested := spans[cls]; cls == "" || !requested {
			for c := range last {
				last[c] = -1
			}
			continue
		}
		if prev := last[cls]; prev >= 0 && frame == prev+1 {
			spans[cls][len(spans[cls])-1].End = frame
		} else {
			spans[cls] = append(spans[cls], Span{Start: frame, End: frame})
		}
		last[cls] = frame
	}
	return spans
}

// Merge sorts spans by start and joins neighbours whose gap, in seconds at
// fps, is at most threshold. Merging is idempotent. fps must be positive.
func Merge(spans []Span, threshold time.Duration, fps float64) []Span {
	if len(spans) == 0 {
		return []Span{}
	}
	sorted := slices.Clone(spans)
	slices.SortStableFunc(sorted, func(a, b Span) int { return a.Start - b.Start })

	limit := threshold.Seconds()
	merged := []Span{sorted[0]}
	for _, s := range sorted[1:] {
		last := &merged[len(merged)-1]
		gap := float64(s.Start-last.End) / fps
		if gap <= limit {
			last.End = max(last.End, s.End)
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// Extract runs Collect and Merge and renders every frame index as a timestamp.
// Every requested class is present in the result, possibly with no ranges.
func Extract(classes []string, detections []models.Detection, fps float64, threshold time.Duration) (Result, error) {
	if fps <= 0 {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidFrameRate, fps)
	}
	collected := Collect(classes, detections)
	result := Result{
		Classes: slices.Clone(classes),
		Ranges:  make(map[string][]TimeRange, len(classes)),
	}
	for _, cls := range classes {
		merged := Merge(collected[cls], threshold, fps)
		ranges := make([]TimeRange, 0, len(merged))
		for _, s := range merged {
			ranges = append(ranges, TimeRange{
				Start: FormatTimestamp(s.Start, fps),
				End:   FormatTimestamp(s.End, fps),
			})
		}
		result.Ranges[cls] = ranges
	}
	return result, nil
}

// FormatTimestamp renders a frame index as H:MM:SS, truncating fractional seconds.
func FormatTimestamp(frame int, fps float64) string {
	total := int(float64(frame) / fps)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, total/60%60, total%60)
}

// String renders the grounding text handed to the reasoning service.
func (r Result) String() string {
	lines := make([]string, 0, len(r.Classes))
	for _, cls := range r.Classes {
		ranges := r.Ranges[cls]
		parts := make([]string, len(ranges))
		for i, tr := range ranges {
			parts[i] = fmt.Sprintf("[%s - %s]", tr.Start, tr.End)
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", cls, strings.Join(parts, ", ")))
	}
	return strings.Join(lines, "\n")
}
