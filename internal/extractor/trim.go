package extractor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultTrimPad extends the end of a trimmed clip past the requested timeframe.
const DefaultTrimPad = 2500 * time.Millisecond

var ErrEmptyRange = errors.New("empty time range")

// Range is a time window inside a video
type Range struct {
	Start time.Duration
	End   time.Duration
}

// ParseRange parses "mm:ss,mm:ss".
func ParseRange(s string) (Range, error) {
	startStr, endStr, ok := strings.Cut(s, ",")
	if !ok {
		return Range{}, fmt.Errorf("invalid time range %q", s)
	}
	start, err := parseClock(startStr)
	if err != nil {
		return Range{}, err
	}
	end, err := parseClock(endStr)
	if err != nil {
		return Range{}, err
	}
	return Range{Start: start, End: end}, nil
}

func parseClock(s string) (time.Duration, error) {
	minStr, secStr, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	m, err := strconv.Atoi(minStr)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	sec, err := strconv.Atoi(secStr)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}

// Compact renders the range as "mmss_mmss" for file names.
func (r Range) Compact() string {
	return strings.ReplaceAll(FormatClock(r.Start)+"_"+FormatClock(r.End), ":", "")
}

// FormatClock renders a duration as mm:ss.
func FormatClock(d time.Duration) string {
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// ClampRange pads the end of r and caps it at the true video duration.
// It never extends a range past the available content.
func ClampRange(r Range, pad, duration time.Duration) (Range, error) {
	end := r.End + pad
	if end > duration {
		end = duration
	}
	if r.Start < 0 || r.Start >= end {
		return Range{}, fmt.Errorf("%w: %s-%s of %s", ErrEmptyRange, FormatClock(r.Start), FormatClock(end), FormatClock(duration))
	}
	return Range{Start: r.Start, End: end}, nil
}

// Trim writes the clamped range of videoPath to outPath and returns outPath.
func (e *Extractor) Trim(ctx context.Context, videoPath string, r Range, pad time.Duration, outPath string) (string, error) {
	info, err := e.Probe(ctx, videoPath)
	if err != nil {
		return "", err
	}
	clamped, err := ClampRange(r, pad, info.Duration)
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx,
		e.ffmpeg,
		"-y",
		"-v", "error",
		"-ss", seconds(clamped.Start),
		"-i", videoPath,
		"-t", seconds(clamped.End-clamped.Start),
		"-an",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		outPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg trim failed: %v\nOutput: %s", err, string(output))
	}
	e.logger.Debug("trimmed clip", "video", videoPath, "start", clamped.Start, "end", clamped.End, "out", outPath)
	return outPath, nil
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
