package surface

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"kmsplay/pkg/frame"
)

// FallbackFormats are tried in order when the chosen layout cannot be bound.
var FallbackFormats = []frame.Fourcc{
	frame.FormatXRGB8888,
	frame.FormatARGB8888,
	frame.FormatXBGR8888,
	frame.FormatABGR8888,
	frame.FormatRGB565,
}

// Negotiator runs the one-shot format and mode search.
type Negotiator struct {
	gpu     GPU
	alloc   Allocator
	display Display
}

func NewNegotiator(gpu GPU, alloc Allocator, display Display) *Negotiator {
	return &Negotiator{gpu: gpu, alloc: alloc, display: display}
}

// Negotiate picks a display mode and a GPU config and binds a backing
// surface both agree on. A zero width or height requests the display's
// preferred mode; a zero refresh matches any rate.
func (n *Negotiator) Negotiate(width, height, refresh int) (Configuration, error) {
	log := logrus.WithFields(logrus.Fields{
		"function": "Negotiate",
		"width":    width,
		"height":   height,
		"refresh":  refresh,
	})

	modes, err := n.display.Modes()
	if err != nil {
		return Configuration{}, fmt.Errorf("%w: list modes: %v", ErrNegotiationFailed, err)
	}
	if len(modes) == 0 {
		return Configuration{}, fmt.Errorf("%w: display advertises no modes", ErrNegotiationFailed)
	}
	mode := SelectMode(modes, width, height, refresh)
	log.WithField("mode", mode.String()).Info("Selected display mode")

	candidates := n.candidates()
	if len(candidates) == 0 {
		return Configuration{}, fmt.Errorf("%w: no compatible GPU config", ErrNegotiationFailed)
	}
	var lastErr error
	for _, c := range candidates {
		conf, err := n.attempt(log.WithField("step", c.step.String()), c, mode)
		if err == nil {
			return conf, nil
		}
		log.WithError(err).WithField("step", c.step.String()).Warn("Negotiation step failed")
		lastErr = err
	}
	return Configuration{}, lastErr
}

type candidate struct {
	cfg    Config
	format frame.Fourcc
	step   Step
}

// candidates walks the three config requests in order. The exact steps only
// qualify when the display can also scan out their layout.
func (n *Negotiator) candidates() []candidate {
	var out []candidate
	if n.alloc.Supports(frame.FormatXRGB8888) {
		if cfg, ok := n.gpu.ChooseConfig(ConfigRequest{AlphaSize: 0, NativeVisual: frame.FormatXRGB8888}); ok {
			out = append(out, candidate{cfg, frame.FormatXRGB8888, StepOpaque})
		}
	}
	if n.alloc.Supports(frame.FormatARGB8888) {
		if cfg, ok := n.gpu.ChooseConfig(ConfigRequest{AlphaSize: 8, NativeVisual: frame.FormatARGB8888}); ok {
			out = append(out, candidate{cfg, frame.FormatARGB8888, StepAlpha})
		}
	}
	if cfg, ok := n.gpu.ChooseConfig(ConfigRequest{}); ok {
		out = append(out, candidate{cfg, frame.FormatARGB8888, StepGeneric})
	}
	return out
}

// attempt binds a backing surface for one candidate config, recreating it in
// the config's native layout and then walking FallbackFormats as needed.
func (n *Negotiator) attempt(log *logrus.Entry, c candidate, mode Mode) (Configuration, error) {
	cfg, format, step := c.cfg, c.format, c.step

	backing, err := n.alloc.CreateSurface(mode.Width, mode.Height, format)
	if err != nil {
		log.WithError(err).WithField("format", format.String()).Warn("Backing surface creation failed")
		return n.fallback(cfg, mode, step, nil, err)
	}

	native, err := n.gpu.NativeFormat(cfg)
	if err != nil {
		log.WithError(err).Debug("GPU config reports no native format")
		native = 0
	}
	if native != 0 && native != format {
		log.WithFields(logrus.Fields{
			"created": format.String(),
			"native":  native.String(),
		}).Info("Recreating backing surface with the config's native format")
		n.alloc.DestroySurface(backing)
		format = native
		backing, err = n.alloc.CreateSurface(mode.Width, mode.Height, format)
		if err != nil {
			log.WithError(err).Warn("Backing surface recreation failed")
			return n.fallback(cfg, mode, step, []frame.Fourcc{format}, err)
		}
	}

	err = n.gpu.BindWindow(cfg, backing)
	if err == nil {
		return n.done(log, cfg, mode, step, backing), nil
	}
	n.alloc.DestroySurface(backing)
	tried := []frame.Fourcc{format}

	if errors.Is(err, ErrFormatMismatch) && native != 0 && native != format {
		log.WithField("native", native.String()).Info("Format mismatch, recreating backing surface")
		b, rerr := n.bind(cfg, mode, native)
		if rerr == nil {
			return n.done(log, cfg, mode, step, b), nil
		}
		err = rerr
		tried = append(tried, native)
	}
	log.WithError(err).Warn("Binding backing surface failed")
	return n.fallback(cfg, mode, step, tried, err)
}

// Release tears down a negotiated configuration: the GPU window first, then
// the backing it was made on.
func (n *Negotiator) Release(c Configuration) {
	if c.Backing == nil {
		return
	}
	n.gpu.UnbindWindow()
	n.alloc.DestroySurface(c.Backing)
}

func (n *Negotiator) bind(cfg Config, mode Mode, format frame.Fourcc) (Backing, error) {
	b, err := n.alloc.CreateSurface(mode.Width, mode.Height, format)
	if err != nil {
		return nil, err
	}
	if err := n.gpu.BindWindow(cfg, b); err != nil {
		n.alloc.DestroySurface(b)
		return nil, err
	}
	return b, nil
}

func (n *Negotiator) fallback(cfg Config, mode Mode, step Step, tried []frame.Fourcc, cause error) (Configuration, error) {
	log := logrus.WithFields(logrus.Fields{"function": "Negotiate", "step": step.String()})
	lastErr := cause
	for _, f := range FallbackFormats {
		if containsFormat(tried, f) {
			continue
		}
		b, err := n.bind(cfg, mode, f)
		if err != nil {
			log.WithError(err).WithField("format", f.String()).Debug("Fallback format rejected")
			lastErr = err
			continue
		}
		log.WithField("format", f.String()).Info("Using fallback surface format")
		return n.done(log, cfg, mode, step, b), nil
	}
	return Configuration{}, fmt.Errorf("%w: no backing surface format could be bound: %v", ErrNegotiationFailed, lastErr)
}

func (n *Negotiator) done(log *logrus.Entry, cfg Config, mode Mode, step Step, b Backing) Configuration {
	c := Configuration{
		Format:  b.Format(),
		Mode:    mode,
		Config:  cfg,
		Backing: b,
		Step:    step,
	}
	log.WithFields(logrus.Fields{
		"format": c.Format.String(),
		"mode":   c.Mode.String(),
	}).Info("Surface negotiated")
	return c
}

func containsFormat(list []frame.Fourcc, f frame.Fourcc) bool {
	for _, x := range list {
		if x == f {
			return true
		}
	}
	return false
}

// SelectMode picks the preferred mode when no resolution was requested,
// otherwise an exact match, otherwise the first mode. modes must not be
// empty.
func SelectMode(modes []Mode, width, height, refresh int) Mode {
	if width <= 0 || height <= 0 {
		for _, m := range modes {
			if m.Preferred {
				return m
			}
		}
		return modes[0]
	}
	for _, m := range modes {
		if m.Width == width && m.Height == height && (refresh <= 0 || m.Refresh == refresh) {
			return m
		}
	}
	return modes[0]
}
