// Package surface negotiates the pixel format and display mode shared by the
// GPU context and the scanout engine.
package surface

import (
	"errors"
	"fmt"

	"kmsplay/pkg/frame"
)

var (
	// ErrNegotiationFailed is returned when no format or mode works.
	ErrNegotiationFailed = errors.New("surface negotiation failed")

	// ErrFormatMismatch is returned by GPU.BindWindow when the backing
	// surface layout does not match the GPU configuration.
	ErrFormatMismatch = errors.New("backing surface format does not match GPU config")
)

// preferredModeFlag is DRM_MODE_TYPE_PREFERRED.
const preferredModeFlag = 1 << 3

// Mode is one display timing advertised by the connector.
type Mode struct {
	Width     int
	Height    int
	Refresh   int
	Preferred bool
	Name      string

	// Native is the backend's own mode record, passed back when binding.
	Native any
}

// IsPreferred reports whether a DRM mode type carries the preferred flag.
func IsPreferred(modeType uint32) bool {
	return modeType&preferredModeFlag != 0
}

func (m Mode) String() string {
	s := fmt.Sprintf("%dx%d@%d", m.Width, m.Height, m.Refresh)
	if m.Preferred {
		s += " (preferred)"
	}
	return s
}

// Config is an opaque GPU framebuffer configuration handle.
type Config uintptr

// ConfigRequest describes the colour buffer wanted from the GPU.
type ConfigRequest struct {
	AlphaSize int
	// NativeVisual constrains the config to one scanout format; zero means
	// any color-capable config will do.
	NativeVisual frame.Fourcc
}

// Backing is a scanout-capable buffer surface the GPU renders into.
type Backing interface {
	Format() frame.Fourcc
	Size() (width, height int)
}

// GPU is the rendering context side of negotiation.
type GPU interface {
	ChooseConfig(req ConfigRequest) (Config, bool)
	// NativeFormat reports the scanout layout the config renders in, or zero
	// when the config does not say.
	NativeFormat(cfg Config) (frame.Fourcc, error)
	// BindWindow creates the GPU window surface on b and makes it current.
	BindWindow(cfg Config, b Backing) error
	// UnbindWindow releases the window surface made by BindWindow. It must
	// run before the backing it was made on is destroyed.
	UnbindWindow()
}

// Allocator creates backing surfaces.
type Allocator interface {
	// Supports reports whether the display side can scan out format.
	Supports(format frame.Fourcc) bool
	CreateSurface(width, height int, format frame.Fourcc) (Backing, error)
	DestroySurface(b Backing)
}

// Display is the scanout side: a connected output and its modes.
type Display interface {
	Modes() ([]Mode, error)
}

// Step identifies which negotiation step produced the GPU config.
type Step int

const (
	StepNone Step = iota
	StepOpaque
	StepAlpha
	StepGeneric
)

func (s Step) String() string {
	switch s {
	case StepOpaque:
		return "opaque-exact"
	case StepAlpha:
		return "alpha"
	case StepGeneric:
		return "generic"
	default:
		return "none"
	}
}

// Configuration is the immutable result of a successful negotiation.
type Configuration struct {
	Format  frame.Fourcc
	Mode    Mode
	Config  Config
	Backing Backing
	Step    Step
}

// Valid reports whether c came out of a successful negotiation.
func (c Configuration) Valid() bool {
	return c.Backing != nil && c.Format != 0 && c.Mode.Width > 0 && c.Mode.Height > 0
}
