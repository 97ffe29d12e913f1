package detect

import (
	"sort"

	"github.com/bdougie/videoqa/internal/models"
)

const (
	DefaultConfidence   = 0.01
	DefaultNMSThreshold = 0.1
	DefaultMaxAreaRatio = 0.1
)

// Filter reduces raw predictions to the single best detection of a frame.
type Filter struct {
	Confidence   float64
	NMSThreshold float64
	MaxAreaRatio float64
}

func DefaultFilter() Filter {
	return Filter{
		Confidence:   DefaultConfidence,
		NMSThreshold: DefaultNMSThreshold,
		MaxAreaRatio: DefaultMaxAreaRatio,
	}
}

// Apply drops low-confidence predictions, suppresses overlaps per class,
// rejects boxes covering MaxAreaRatio or more of the frame and returns the
// most confident survivor. The zero Detection means nothing was found.
func (f Filter) Apply(frame Frame) models.Detection {
	var kept []models.Detection
	for _, p := range frame.Predictions {
		if p.Confidence < f.Confidence || p.Class == "" {
			continue
		}
		kept = append(kept, models.Detection{Class: p.Class, Box: toBox(p), Confidence: p.Confidence})
	}
	kept = nms(kept, f.NMSThreshold)

	frameArea := frame.Width * frame.Height
	var best models.Detection
	for _, d := range kept {
		if frameArea > 0 && d.Box.Area()/frameArea >= f.MaxAreaRatio {
			continue
		}
		if best.Class == "" || d.Confidence > best.Confidence {
			best = d
		}
	}
	return best
}

func toBox(p Prediction) models.Box {
	return models.Box{
		X1: p.X - p.Width/2,
		Y1: p.Y - p.Height/2,
		X2: p.X + p.Width/2,
		Y2: p.Y + p.Height/2,
	}
}

// nms keeps, per class, the most confident box of every group overlapping
// above threshold.
func nms(dets []models.Detection, threshold float64) []models.Detection {
	sorted := make([]models.Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	var kept []models.Detection
	for _, d := range sorted {
		suppressed := false
		for _, k := range kept {
			if k.Class == d.Class && iou(k.Box, d.Box) > threshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

func iou(a, b models.Box) float64 {
	inter := models.Box{
		X1: max(a.X1, b.X1),
		Y1: max(a.Y1, b.Y1),
		X2: min(a.X2, b.X2),
		Y2: min(a.Y2, b.Y2),
	}.Area()
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
