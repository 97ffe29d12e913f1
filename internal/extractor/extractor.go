package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnopenable is returned when a video cannot be read or probed.
var ErrUnopenable = errors.New("could not open video file")

// Extractor wraps the ffmpeg and ffprobe binaries
type Extractor struct {
	ffmpeg  string
	ffprobe string
	logger  *slog.Logger
}

// New returns an extractor using the given binaries, defaulting to the ones on PATH.
func New(ffmpeg, ffprobe string, logger *slog.Logger) *Extractor {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{ffmpeg: ffmpeg, ffprobe: ffprobe, logger: logger}
}

// VideoName returns the file name of a video without its extension.
func VideoName(videoPath string) string {
	return strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
}

// ExtractFrames writes every frame of a video as a JPEG into outputDir and
// returns the frame paths in order. outputDir must not hold frames of
// another video.
func (e *Extractor) ExtractFrames(ctx context.Context, videoPath, outputDir string) ([]string, error) {
	// Check if video file exists
	if _, err := os.Stat(videoPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: video file does not exist at path: '%s'", ErrUnopenable, videoPath)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create frame directory '%s': %w", outputDir, err)
	}

	e.logger.Info("extracting frames", "video", videoPath, "dir", outputDir)

	cmd := exec.CommandContext(ctx,
		e.ffmpeg,
		"-v", "error",
		"-i", videoPath,
		"-vsync", "0",
		"-q:v", "2",
		filepath.Join(outputDir, "frame_%06d.jpg"),
	)

	// Capture output for better error reporting
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg failed: %v\nOutput: %s", ErrUnopenable, err, string(output))
	}

	frames, err := listFrames(outputDir)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no frames extracted from '%s'", ErrUnopenable, videoPath)
	}
	e.logger.Info("extracted frames", "dir", outputDir, "frames", len(frames))
	return frames, nil
}

func listFrames(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frames directory '%s': %w", dir, err)
	}
	var frames []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(strings.ToLower(file.Name()), ".jpg") {
			frames = append(frames, filepath.Join(dir, file.Name()))
		}
	}
	sort.Strings(frames)
	return frames, nil
}
