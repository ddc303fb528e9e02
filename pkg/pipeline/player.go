// Package pipeline runs the single cooperative playback loop: input, submit,
// drain, warp, composite, present, release.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/math/f32"

	"kmsplay/pkg/decode"
	"kmsplay/pkg/frame"
	"kmsplay/pkg/input"
	"kmsplay/pkg/performance"
	"kmsplay/pkg/present"
	"kmsplay/pkg/render"
	"kmsplay/pkg/warp"
)

// Demuxer yields compressed units in decode order and io.EOF at the end.
type Demuxer interface {
	Info() decode.StreamInfo
	Next() (decode.Unit, error)
}

// Compositor draws one picture into the back buffer.
type Compositor interface {
	Composite(d *frame.Descriptor, transform f32.Mat4) error
	Placeholder()
	Stats() render.Stats
}

// Presenter posts the back buffer to the display.
type Presenter interface {
	Present() error
	Stats() present.Statistics
}

// Input is a non-blocking key event source.
type Input interface {
	Poll() ([]input.Event, error)
}

// Options tune the loop.
type Options struct {
	FrameInterval     time.Duration
	TestPatternFrames int
	ExhaustionLimit   int
	StatsInterval     time.Duration

	// EOFTimeouts bounds how many empty drains are tolerated after end of
	// input before the stream is considered finished.
	EOFTimeouts int

	// DrainPolicy picks the backoff for each drain from the number of units
	// submitted so far.
	DrainPolicy func(submitted uint64) decode.Backoff
}

// DefaultOptions paces at 60 Hz.
func DefaultOptions() Options {
	return Options{
		FrameInterval:   16667 * time.Microsecond,
		ExhaustionLimit: 8,
		StatsInterval:   5 * time.Second,
		EOFTimeouts:     10,
		DrainPolicy:     decode.DrainPolicy,
	}
}

// Player owns every stage of the hardware pipeline for one playback session.
type Player struct {
	demux      Demuxer
	source     *decode.Source
	compositor Compositor
	presenter  Presenter
	transform  *warp.Transform
	controller *warp.Controller
	input      Input

	opts       Options
	monitor    *performance.Monitor
	exhaustion *decode.ExhaustionTracker
	log        *logrus.Entry

	pending     *decode.Unit
	eof         bool
	eofTimeouts int
	lastStats   time.Time

	timeoutLog   sampler
	corruptLog   sampler
	compositeLog sampler

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// Stages are the collaborators a Player drives. Controller and Input may be
// nil when keyboard control is off.
type Stages struct {
	Demuxer    Demuxer
	Source     *decode.Source
	Compositor Compositor
	Presenter  Presenter
	Transform  *warp.Transform
	Controller *warp.Controller
	Input      Input
}

// NewPlayer assembles a player. The demuxed stream must be H.264.
func NewPlayer(s Stages, opts Options, log *logrus.Entry) (*Player, error) {
	if s.Demuxer == nil || s.Source == nil || s.Compositor == nil || s.Presenter == nil {
		return nil, errors.New("pipeline: missing stage")
	}
	if err := decode.CheckStream(s.Demuxer.Info()); err != nil {
		return nil, Configuration("decoder", err)
	}
	if s.Transform == nil {
		s.Transform = warp.New()
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = DefaultOptions().FrameInterval
	}
	if opts.EOFTimeouts <= 0 {
		opts.EOFTimeouts = DefaultOptions().EOFTimeouts
	}
	if opts.DrainPolicy == nil {
		opts.DrainPolicy = decode.DrainPolicy
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Player{
		demux:      s.Demuxer,
		source:     s.Source,
		compositor: s.Compositor,
		presenter:  s.Presenter,
		transform:  s.Transform,
		controller: s.Controller,
		input:      s.Input,
		opts:       opts,
		monitor:    performance.NewMonitor(120),
		exhaustion: decode.NewExhaustionTracker(opts.ExhaustionLimit),
		log:        log,
		now:        time.Now,
		sleep:      sleepContext,
	}, nil
}

// Monitor exposes the timing statistics.
func (p *Player) Monitor() *performance.Monitor {
	return p.monitor
}

// Run plays until the stream ends, the user quits or ctx is cancelled, all
// of which return nil. Any other error is fatal for the hardware path.
func (p *Player) Run(ctx context.Context) error {
	info := p.demux.Info()
	p.log.WithFields(logrus.Fields{
		"function":  "Run",
		"width":     info.Width,
		"height":    info.Height,
		"framerate": info.FrameRate,
		"codec":     decode.DetectCodec(info.Codec).String(),
	}).Info("Playback starting")

	p.lastStats = p.now()
	defer p.report()

	if err := p.testPattern(ctx); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			p.log.WithField("function", "Run").Info("Playback cancelled")
			return nil
		}
		start := p.now()

		if p.pollInput() {
			p.log.WithField("function", "Run").Info("Quit requested")
			return nil
		}

		if err := p.feed(); err != nil {
			return err
		}

		done, err := p.step(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		p.monitor.RecordFrame(p.now().Sub(start))
		p.maybeReport()
		p.pace(ctx, start)
	}
}

// testPattern shows placeholder frames before the first picture so the
// display path is proven before decoding starts.
func (p *Player) testPattern(ctx context.Context) error {
	if p.opts.TestPatternFrames <= 0 {
		return nil
	}
	p.log.WithFields(logrus.Fields{
		"function": "testPattern",
		"frames":   p.opts.TestPatternFrames,
	}).Info("Showing test pattern")

	for i := 0; i < p.opts.TestPatternFrames; i++ {
		if ctx.Err() != nil {
			return nil
		}
		start := p.now()
		p.compositor.Placeholder()
		p.monitor.RecordPlaceholder()
		if err := p.presenter.Present(); err != nil {
			return err
		}
		p.pace(ctx, start)
	}
	return nil
}

// pollInput applies pending key events and reports whether quit was pressed.
func (p *Player) pollInput() bool {
	if p.input == nil || p.controller == nil {
		return false
	}
	events, err := p.input.Poll()
	if err != nil {
		p.log.WithFields(logrus.Fields{
			"function": "pollInput",
			"error":    err.Error(),
		}).Warn("Keyboard input disabled")
		p.input = nil
		return false
	}
	for _, ev := range events {
		action, err := p.controller.Handle(ev)
		if err != nil {
			p.log.WithFields(logrus.Fields{
				"function": "pollInput",
				"key":      ev.Key.String(),
				"error":    err.Error(),
			}).Warn("Warp command failed")
			continue
		}
		if action == warp.ActionQuit {
			return true
		}
	}
	return false
}

// feed submits the next unit, or the one refused last time. Backpressure
// keeps the unit pending; the drain that follows frees decoder input.
func (p *Player) feed() error {
	if p.eof {
		return nil
	}
	if p.pending == nil {
		u, err := p.demux.Next()
		if errors.Is(err, io.EOF) {
			p.eof = true
			p.log.WithField("function", "feed").Debug("End of input, draining decoder")
			if err := p.source.EndOfInput(); err != nil {
				return fmt.Errorf("end of input: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("demux: %w", err)
		}
		p.pending = &u
	}

	err := p.source.Submit(*p.pending)
	switch {
	case err == nil:
		p.pending = nil
	case errors.Is(err, decode.ErrBackpressure):
		p.log.WithField("function", "feed").Trace("Decoder input full")
	case errors.Is(err, decode.ErrCorrupt):
		p.pending = nil
		p.monitor.RecordDropped()
		if p.corruptLog.allow() {
			p.log.WithFields(logrus.Fields{
				"function":    "feed",
				"occurrences": p.corruptLog.count,
			}).Warn("Corrupt unit dropped")
		}
	default:
		return err
	}
	return nil
}

// step drains at most one picture and shows it. It reports done at end of
// stream or on cancellation.
func (p *Player) step(ctx context.Context) (bool, error) {
	backoff := p.opts.DrainPolicy(p.source.Stats().Submitted)
	drainStart := p.now()
	d, outcome, err := decode.Drain(ctx, p.source, backoff)

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true, nil
	case errors.Is(err, decode.ErrEndOfStream):
		p.log.WithField("function", "step").Info("End of stream")
		return true, nil
	case errors.Is(err, decode.ErrPoolExhausted):
		return false, p.exhaustion.Observe(true, !p.eof)
	case err != nil:
		return false, err
	}
	if err := p.exhaustion.Observe(false, !p.eof); err != nil {
		return false, err
	}

	if outcome != decode.Ready {
		if p.timeoutLog.allow() {
			p.log.WithFields(logrus.Fields{
				"function":    "step",
				"attempts":    backoff.Attempts,
				"occurrences": p.timeoutLog.count,
			}).Debug("No picture within backoff")
		}
		if p.eof {
			p.eofTimeouts++
			if p.eofTimeouts >= p.opts.EOFTimeouts {
				p.log.WithField("function", "step").Info("Decoder produced no further pictures after end of input")
				return true, nil
			}
		}
		return false, nil
	}
	p.eofTimeouts = 0
	p.monitor.RecordDecode(p.now().Sub(drainStart))

	return false, p.show(d)
}

// show composites, presents and releases one descriptor. The descriptor is
// released on every path, exactly once.
func (p *Player) show(d *frame.Descriptor) error {
	if d.Placeholder() {
		p.monitor.RecordPlaceholder()
	}

	compositeStart := p.now()
	if err := p.compositor.Composite(d, p.transform.Resolve()); err != nil {
		p.monitor.RecordDropped()
		if p.compositeLog.allow() {
			p.log.WithFields(logrus.Fields{
				"function":    "show",
				"picture":     d.String(),
				"error":       err.Error(),
				"occurrences": p.compositeLog.count,
			}).Warn("Composite failed, frame skipped")
		}
		return p.release(d)
	}
	p.monitor.RecordComposite(p.now().Sub(compositeStart))

	presentStart := p.now()
	if err := p.presenter.Present(); err != nil {
		if relErr := p.release(d); relErr != nil {
			return errors.Join(err, relErr)
		}
		return err
	}
	p.monitor.RecordPresent(p.now().Sub(presentStart))

	return p.release(d)
}

func (p *Player) release(d *frame.Descriptor) error {
	if err := p.source.Release(d); err != nil {
		p.log.WithFields(logrus.Fields{
			"function": "release",
			"slot":     d.Slot.Index,
			"error":    err.Error(),
		}).Error("Descriptor release failed")
		return err
	}
	return nil
}

func (p *Player) pace(ctx context.Context, start time.Time) {
	if wait := p.opts.FrameInterval - p.now().Sub(start); wait > 0 {
		p.sleep(ctx, wait)
	}
}

func (p *Player) maybeReport() {
	if p.opts.StatsInterval <= 0 || p.now().Sub(p.lastStats) < p.opts.StatsInterval {
		return
	}
	p.lastStats = p.now()
	p.report()
}

func (p *Player) report() {
	src := p.source.Stats()
	pres := p.presenter.Stats()
	ex := p.exhaustion.Stats()
	comp := p.compositor.Stats()

	p.monitor.Log(logrus.Fields{
		"submitted":      src.Submitted,
		"decoded":        src.Acquired,
		"released":       src.Released,
		"backpressure":   src.Backpressure,
		"invalid":        src.Invalid,
		"exhausted":      ex.Total,
		"placeholders":   comp.Placeholders,
		"planes":         comp.ImportedPlanes,
		"presented":      pres.FramesPresented,
		"avg_latency_ms": float64(pres.AverageLatency().Microseconds()) / 1000,
		"held":           fmt.Sprintf("%d/%d", p.source.Held(), p.source.Capacity()),
	})
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
