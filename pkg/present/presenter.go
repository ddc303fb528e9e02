// Package present swaps composited frames to the display and programs the
// scanout engine on the first frame.
package present

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"kmsplay/pkg/frame"
	"kmsplay/pkg/surface"
)

var (
	// ErrPresentFailed is fatal: the negotiated configuration cannot be
	// swapped or scanned out.
	ErrPresentFailed = errors.New("present failed")

	// ErrNotNegotiated is returned when presenting without a negotiated
	// surface configuration.
	ErrNotNegotiated = errors.New("present before surface negotiation")
)

// Buffer is a front buffer locked out of the swap chain.
type Buffer struct {
	Handle uint32
	Pitch  uint32
	Width  uint32
	Height uint32
	Format frame.Fourcc

	// Ref is the backend's own buffer object, passed back on release.
	Ref uintptr
}

// SwapSurface is the composited window surface and its buffer chain.
type SwapSurface interface {
	SwapBuffers() error
	LockFrontBuffer() (Buffer, error)
	ReleaseBuffer(Buffer)
}

// Scanout drives the display from a buffer.
type Scanout interface {
	Bind(b Buffer, mode surface.Mode) error
}

// Statistics only ever grow.
type Statistics struct {
	FramesPresented uint64
	TotalLatency    time.Duration
}

// AverageLatency is the mean wall-clock time of one Present call.
func (s Statistics) AverageLatency() time.Duration {
	if s.FramesPresented == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.FramesPresented)
}

// Presenter runs the per-frame swap and the one-time scanout bind.
type Presenter struct {
	surface SwapSurface
	scanout Scanout
	mode    surface.Mode

	bound    bool
	pinned   Buffer
	previous *Buffer
	stats    Statistics
	now      func() time.Time
}

// NewPresenter returns a presenter for a negotiated configuration.
func NewPresenter(s SwapSurface, scanout Scanout, cfg surface.Configuration) (*Presenter, error) {
	if !cfg.Valid() {
		return nil, ErrNotNegotiated
	}
	return &Presenter{
		surface: s,
		scanout: scanout,
		mode:    cfg.Mode,
		now:     time.Now,
	}, nil
}

// Present swaps the back buffer to the front. The first successful call binds
// the front buffer to the display at the negotiated mode; that buffer stays
// locked for as long as it is scanned out. Every error wraps ErrPresentFailed.
func (p *Presenter) Present() error {
	start := p.now()

	if err := p.surface.SwapBuffers(); err != nil {
		return fmt.Errorf("%w: swap: %v", ErrPresentFailed, err)
	}
	front, err := p.surface.LockFrontBuffer()
	if err != nil {
		return fmt.Errorf("%w: lock front buffer: %v", ErrPresentFailed, err)
	}

	if !p.bound {
		if err := p.scanout.Bind(front, p.mode); err != nil {
			p.surface.ReleaseBuffer(front)
			return fmt.Errorf("%w: bind scanout: %v", ErrPresentFailed, err)
		}
		p.bound = true
		p.pinned = front

		logrus.WithFields(logrus.Fields{
			"function": "Present",
			"mode":     p.mode.String(),
			"format":   front.Format.String(),
			"pitch":    front.Pitch,
		}).Info("Scanout bound")
	} else {
		if p.previous != nil {
			p.surface.ReleaseBuffer(*p.previous)
		}
		p.previous = &front
	}

	p.stats.FramesPresented++
	p.stats.TotalLatency += p.now().Sub(start)
	return nil
}

// Bound reports whether the scanout engine has been programmed.
func (p *Presenter) Bound() bool {
	return p.bound
}

func (p *Presenter) Stats() Statistics {
	return p.stats
}

// Close returns every locked buffer to the swap chain.
func (p *Presenter) Close() {
	if p.previous != nil {
		p.surface.ReleaseBuffer(*p.previous)
		p.previous = nil
	}
	if p.bound {
		p.surface.ReleaseBuffer(p.pinned)
		p.bound = false
	}
}
