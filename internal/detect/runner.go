package detect

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bdougie/videoqa/internal/extractor"
	"github.com/bdougie/videoqa/internal/models"
)

const defaultWorkers = 4 // Adjust based on detector capacity

// FrameSource provides video metadata and decoded frames.
type FrameSource interface {
	Probe(ctx context.Context, videoPath string) (extractor.Info, error)
	ExtractFrames(ctx context.Context, videoPath, outputDir string) ([]string, error)
}

// Runner detects objects on every frame of a video with a pool of workers.
type Runner struct {
	detector Detector
	frames   FrameSource
	filter   Filter
	workers  int
	frameDir string
	logger   *slog.Logger
}

func NewRunner(detector Detector, frames FrameSource, filter Filter, workers int, frameDir string, logger *slog.Logger) *Runner {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		detector: detector,
		frames:   frames,
		filter:   filter,
		workers:  workers,
		frameDir: frameDir,
		logger:   logger,
	}
}

// Detect returns the filtered top detection of every frame, in frame order.
// Frames are extracted into a fresh directory that is removed afterwards.
func (r *Runner) Detect(ctx context.Context, videoPath string, classes []string) (models.DetectionTrack, error) {
	info, err := r.frames.Probe(ctx, videoPath)
	if err != nil {
		return models.DetectionTrack{}, err
	}
	if err := os.MkdirAll(r.frameDir, 0755); err != nil {
		return models.DetectionTrack{}, fmt.Errorf("create work dir: %w", err)
	}
	dir, err := os.MkdirTemp(r.frameDir, extractor.VideoName(videoPath)+"_frames_")
	if err != nil {
		return models.DetectionTrack{}, fmt.Errorf("create frame dir: %w", err)
	}
	defer os.RemoveAll(dir)

	framePaths, err := r.frames.ExtractFrames(ctx, videoPath, dir)
	if err != nil {
		return models.DetectionTrack{}, err
	}
	detections, err := r.processFrames(ctx, framePaths, classes)
	if err != nil {
		return models.DetectionTrack{}, err
	}
	return models.DetectionTrack{FPS: info.FPS, Frames: detections}, nil
}

func (r *Runner) processFrames(ctx context.Context, frames []string, classes []string) ([]models.Detection, error) {
	workChan := make(chan models.WorkItem, len(frames))
	errorsChan := make(chan error, len(frames))
	detections := make([]models.Detection, len(frames))

	var wg sync.WaitGroup

	remainingFrames := atomic.Int64{}
	remainingFrames.Store(int64(len(frames)))

	// Start worker pool
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for work := range workChan {
				det, err := r.detectFrame(ctx, work.FramePath, classes)
				if err != nil {
					errorsChan <- fmt.Errorf("frame %d/%d failed: %w", work.FrameNum, work.Total, err)
					continue
				}
				// each index is written by exactly one worker
				detections[work.FrameNum-1] = det

				remaining := remainingFrames.Add(-1)
				if remaining%100 == 0 {
					r.logger.Debug("detection progress", "remaining", remaining, "total", len(frames))
				}
			}
		}()
	}

	// Send work to workers
	for i, frame := range frames {
		workChan <- models.WorkItem{
			FramePath: frame,
			FrameNum:  i + 1,
			Total:     len(frames),
		}
	}
	close(workChan)

	wg.Wait()
	close(errorsChan)

	var errorMessages []string
	var first error
	for err := range errorsChan {
		if first == nil {
			first = err
		}
		errorMessages = append(errorMessages, err.Error())
	}
	if len(errorMessages) > 0 {
		return nil, fmt.Errorf("encountered errors during detection: %s: %w", strings.Join(errorMessages, "; "), first)
	}
	return detections, nil
}

func (r *Runner) detectFrame(ctx context.Context, framePath string, classes []string) (models.Detection, error) {
	image, err := os.ReadFile(framePath)
	if err != nil {
		return models.Detection{}, err
	}
	frame, err := r.detector.Infer(ctx, image, classes)
	if err != nil {
		return models.Detection{}, err
	}
	return r.filter.Apply(frame), nil
}
