package experiment

import (
	"fmt"
	"math"
	"time"
)

// Progress is a periodic report emitted while a run is in flight
type Progress struct {
	Completed      int           `json:"completed"`
	Total          int           `json:"total"`
	Elapsed        time.Duration `json:"elapsed"`
	LastInterval   time.Duration `json:"last_interval"`
	Remaining      time.Duration `json:"remaining"`
	RemainingKnown bool          `json:"remaining_known"`
}

// newProgress extrapolates the remaining time linearly from the rows done so
// far. Nothing can be extrapolated before the first row completes.
func newProgress(completed, total int, elapsed, lastInterval time.Duration) Progress {
	p := Progress{
		Completed:    completed,
		Total:        total,
		Elapsed:      elapsed,
		LastInterval: lastInterval,
	}
	if completed > 0 {
		remaining := float64(elapsed) * float64(total-completed) / float64(completed)
		p.Remaining = time.Duration(math.Round(remaining))
		p.RemainingKnown = true
	}
	return p
}

func (p Progress) String() string {
	remaining := "unknown"
	if p.RemainingKnown {
		remaining = fmt.Sprintf("%.2f mins", p.Remaining.Minutes())
	}
	return fmt.Sprintf("%d samples in %.2fmins, last batch in %.2fs, est. %s remaining",
		p.Completed, p.Elapsed.Minutes(), p.LastInterval.Seconds(), remaining)
}
