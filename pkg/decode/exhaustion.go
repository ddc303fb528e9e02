package decode

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ExhaustionTracker decides when pool exhaustion stops being backpressure
// and becomes a leak.
type ExhaustionTracker struct {
	limit       int
	consecutive int
	total       uint64

	mu sync.Mutex
}

// ExhaustionStats is a snapshot of the tracker.
type ExhaustionStats struct {
	Consecutive int
	Total       uint64
	Limit       int
}

// NewExhaustionTracker tolerates up to limit consecutive exhausted
// iterations.
func NewExhaustionTracker(limit int) *ExhaustionTracker {
	if limit < 1 {
		limit = 1
	}
	return &ExhaustionTracker{limit: limit}
}

// Observe records one loop iteration. exhausted reports whether Acquire hit
// ErrPoolExhausted; inputFlowing whether units are still being submitted.
// It returns ErrPoolLeak once exhaustion can no longer resolve itself.
func (t *ExhaustionTracker) Observe(exhausted, inputFlowing bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !exhausted {
		if t.consecutive > 0 {
			logrus.WithFields(logrus.Fields{
				"function":   "ExhaustionTracker.Observe",
				"iterations": t.consecutive,
			}).Debug("Decode pool recovered")
		}
		t.consecutive = 0
		return nil
	}

	t.consecutive++
	t.total++

	if !inputFlowing {
		return fmt.Errorf("%w: exhausted after end of input", ErrPoolLeak)
	}
	if t.consecutive >= t.limit {
		return fmt.Errorf("%w: %d consecutive iterations", ErrPoolLeak, t.consecutive)
	}
	return nil
}

// Reset clears the consecutive counter.
func (t *ExhaustionTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutive = 0
}

func (t *ExhaustionTracker) Stats() ExhaustionStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ExhaustionStats{Consecutive: t.consecutive, Total: t.total, Limit: t.limit}
}
