package decode

import (
	"context"
	"errors"
	"time"

	"kmsplay/pkg/frame"
)

// Outcome is the result of waiting for decoder output.
type Outcome int

const (
	// Ready means a picture was obtained.
	Ready Outcome = iota
	// StillPending means a single poll found nothing yet.
	StillPending
	// TimedOut means every attempt of a backoff found nothing.
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Ready:
		return "ready"
	case StillPending:
		return "pending"
	case TimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// Backoff bounds a retry loop: at most Attempts polls, Delay apart.
type Backoff struct {
	Attempts int
	Delay    time.Duration
}

// Decoders usually need several units queued before the first picture comes
// out, so the first few units get a longer wait.
var (
	WarmupBackoff = Backoff{Attempts: 20, Delay: 20 * time.Millisecond}
	SteadyBackoff = Backoff{Attempts: 5, Delay: 5 * time.Millisecond}
)

const warmupUnits = 5

// DrainPolicy returns the backoff to use after the given number of submitted
// units.
func DrainPolicy(submitted uint64) Backoff {
	if submitted <= warmupUnits {
		return WarmupBackoff
	}
	return SteadyBackoff
}

// PollFunc makes one non-blocking attempt and reports Ready or StillPending.
type PollFunc func() (Outcome, error)

// Retry polls until Ready, an error, cancellation of ctx, or the attempts of
// b run out, in which case it returns TimedOut.
func Retry(ctx context.Context, b Backoff, poll PollFunc) (Outcome, error) {
	for attempt := 1; ; attempt++ {
		out, err := poll()
		if err != nil {
			return out, err
		}
		if out == Ready {
			return Ready, nil
		}
		if attempt >= b.Attempts {
			return TimedOut, nil
		}

		timer := time.NewTimer(b.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return StillPending, ctx.Err()
		case <-timer.C:
		}
	}
}

// Poll makes a single acquire attempt on src.
func Poll(src *Source) (*frame.Descriptor, Outcome, error) {
	d, err := src.Acquire()
	switch {
	case errors.Is(err, ErrWouldBlock):
		return nil, StillPending, nil
	case err != nil:
		return nil, StillPending, err
	}
	return d, Ready, nil
}

// Drain waits for the next picture from src under backoff b. Errors other
// than ErrWouldBlock (exhaustion, end of stream, fatal decoder errors) are
// returned immediately.
func Drain(ctx context.Context, src *Source, b Backoff) (*frame.Descriptor, Outcome, error) {
	var d *frame.Descriptor
	out, err := Retry(ctx, b, func() (Outcome, error) {
		got, out, err := Poll(src)
		d = got
		return out, err
	})
	return d, out, err
}
