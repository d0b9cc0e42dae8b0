package train

import (
	"time"
)

// EpochStats are the metrics of one epoch.
type EpochStats struct {
	Epoch        int
	TrainLoss    float32 // Mean training batch loss
	TestLoss     float32
	TestAccuracy float32 // Percent
	Duration     time.Duration
}

// History is the sequence of epoch metrics of a run.
type History struct {
	Epochs []EpochStats
}

func (h *History) add(s EpochStats) {
	h.Epochs = append(h.Epochs, s)
}

// Len returns the number of recorded epochs.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.Epochs)
}

// Last returns the metrics of the final epoch, or false if none ran.
func (h *History) Last() (EpochStats, bool) {
	if h.Len() == 0 {
		return EpochStats{}, false
	}
	return h.Epochs[len(h.Epochs)-1], true
}

// Best returns the epoch with the highest test accuracy. Ties go to the
// earliest epoch.
func (h *History) Best() (EpochStats, bool) {
	if h.Len() == 0 {
		return EpochStats{}, false
	}
	best := h.Epochs[0]
	for _, s := range h.Epochs[1:] {
		if s.TestAccuracy > best.TestAccuracy {
			best = s
		}
	}
	return best, true
}
