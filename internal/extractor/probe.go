package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Info describes the video stream of a file
type Info struct {
	Duration time.Duration
	FPS      float64
	Frames   int
	Width    int
	Height   int
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads duration, frame rate and frame count with ffprobe.
func (e *Extractor) Probe(ctx context.Context, videoPath string) (Info, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return Info{}, fmt.Errorf("%w: %s: %v", ErrUnopenable, videoPath, err)
	}
	cmd := exec.CommandContext(ctx,
		e.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames,duration:format=duration",
		"-of", "json",
		videoPath,
	)
	output, err := cmd.Output()
	if err != nil {
		return Info{}, fmt.Errorf("%w: ffprobe %s: %v", ErrUnopenable, videoPath, err)
	}
	info, err := parseProbe(output)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %s: %v", ErrUnopenable, videoPath, err)
	}
	return info, nil
}

func parseProbe(data []byte) (Info, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Info{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return Info{}, fmt.Errorf("no video stream")
	}
	s := out.Streams[0]

	fps := parseRate(s.AvgFrameRate)
	if fps <= 0 {
		fps = parseRate(s.RFrameRate)
	}
	if fps <= 0 {
		return Info{}, fmt.Errorf("unknown frame rate")
	}

	seconds := parseSeconds(s.Duration)
	if seconds <= 0 {
		seconds = parseSeconds(out.Format.Duration)
	}
	frames, _ := strconv.Atoi(s.NbFrames)
	if frames <= 0 {
		frames = int(math.Round(seconds * fps))
	}
	if frames > 0 {
		seconds = float64(frames) / fps
	}
	if seconds <= 0 {
		return Info{}, fmt.Errorf("unknown duration")
	}

	return Info{
		Duration: time.Duration(seconds * float64(time.Second)),
		FPS:      fps,
		Frames:   frames,
		Width:    s.Width,
		Height:   s.Height,
	}, nil
}

// parseRate parses ffprobe rationals such as "30000/1001".
func parseRate(rate string) float64 {
	num, den, ok := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// FormatDuration renders a duration as M:SS, truncating fractional seconds.
func FormatDuration(d time.Duration) string {
	total := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
