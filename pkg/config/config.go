// Package config reads player settings from the environment, after loading
// any .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// ErrInvalid wraps every malformed variable.
var ErrInvalid = errors.New("invalid configuration")

// Switch is a setting that can also be left to detection.
type Switch int

const (
	Auto Switch = iota
	On
	Off
)

func (s Switch) String() string {
	switch s {
	case On:
		return "on"
	case Off:
		return "off"
	default:
		return "auto"
	}
}

// Resolve returns the switch value, or detected when it is Auto.
func (s Switch) Resolve(detected bool) bool {
	if s == Auto {
		return detected
	}
	return s == On
}

// Config holds every tunable of the player.
type Config struct {
	DRMDevice string // empty probes the usual cards
	Decoder   string
	HWDevice  string // empty uses DRMDevice

	Width   int // zero selects the preferred mode
	Height  int
	Refresh int // zero accepts any rate

	FrameInterval   time.Duration
	PoolSize        int
	ExhaustionLimit int

	Brightness float32
	Contrast   float32
	Saturation float32

	WarpFile          string
	TestPatternFrames int
	Keyboard          Switch

	FallbackEnabled bool
	FallbackLoop    bool

	StatsInterval time.Duration
	LogLevel      logrus.Level
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Decoder:         "h264_v4l2m2m",
		FrameInterval:   16667 * time.Microsecond,
		PoolSize:        4,
		ExhaustionLimit: 8,
		Brightness:      1,
		Contrast:        1,
		Saturation:      1,
		WarpFile:        "warp_config.txt",
		FallbackEnabled: true,
		StatsInterval:   5 * time.Second,
		LogLevel:        logrus.InfoLevel,
	}
}

// Load reads the given .env files (".env" when none are named) and then the
// environment. Missing .env files are not an error.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, starting at Default.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	p := parser{lookup: lookup}

	p.str("DRM_DEVICE", &c.DRMDevice)
	p.str("VIDEO_DECODER", &c.Decoder)
	p.str("HWDEC_DEVICE", &c.HWDevice)
	p.nonNegative("DISPLAY_WIDTH", &c.Width)
	p.nonNegative("DISPLAY_HEIGHT", &c.Height)
	p.nonNegative("DISPLAY_REFRESH", &c.Refresh)
	p.duration("FRAME_INTERVAL", &c.FrameInterval)
	p.positive("DECODE_POOL_SIZE", &c.PoolSize)
	p.positive("EXHAUSTION_LIMIT", &c.ExhaustionLimit)
	p.adjustment("BRIGHTNESS", &c.Brightness)
	p.adjustment("CONTRAST", &c.Contrast)
	p.adjustment("SATURATION", &c.Saturation)
	p.str("WARP_CONFIG", &c.WarpFile)
	p.nonNegative("TEST_PATTERN_FRAMES", &c.TestPatternFrames)
	p.toggle("KEYBOARD_CONTROL", &c.Keyboard)
	p.boolean("FALLBACK_ENABLED", &c.FallbackEnabled)
	p.boolean("FALLBACK_LOOP", &c.FallbackLoop)
	p.duration("STATS_INTERVAL", &c.StatsInterval)
	p.level("LOG_LEVEL", &c.LogLevel)

	if len(p.errs) > 0 {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(p.errs...))
	}
	if (c.Width == 0) != (c.Height == 0) {
		return Config{}, fmt.Errorf("%w: DISPLAY_WIDTH and DISPLAY_HEIGHT must be set together", ErrInvalid)
	}
	return c, nil
}

// Fields renders c for structured logging.
func (c Config) Fields() logrus.Fields {
	return logrus.Fields{
		"drm_device":     c.DRMDevice,
		"decoder":        c.Decoder,
		"mode":           fmt.Sprintf("%dx%d@%d", c.Width, c.Height, c.Refresh),
		"frame_interval": c.FrameInterval.String(),
		"pool_size":      c.PoolSize,
		"warp_file":      c.WarpFile,
		"keyboard":       c.Keyboard.String(),
		"fallback":       c.FallbackEnabled,
	}
}

// parser collects every bad variable instead of stopping at the first.
type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) get(key string) (string, bool) {
	v, ok := p.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) fail(key, value string, reason string) {
	p.errs = append(p.errs, fmt.Errorf("%s=%q: %s", key, value, reason))
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *parser) integer(key string, dst *int, min int) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		p.fail(key, v, fmt.Sprintf("want an integer >= %d", min))
		return
	}
	*dst = n
}

func (p *parser) nonNegative(key string, dst *int) { p.integer(key, dst, 0) }
func (p *parser) positive(key string, dst *int)    { p.integer(key, dst, 1) }

func (p *parser) duration(key string, dst *time.Duration) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.fail(key, v, "want a positive duration such as 16.667ms")
		return
	}
	*dst = d
}

// adjustment accepts colour corrections in [0,2].
func (p *parser) adjustment(key string, dst *float32) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil || f < 0 || f > 2 {
		p.fail(key, v, "want a number in [0,2]")
		return
	}
	*dst = float32(f)
}

func (p *parser) boolean(key string, dst *bool) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, "want true or false")
		return
	}
	*dst = b
}

func (p *parser) toggle(key string, dst *Switch) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	if strings.EqualFold(v, "auto") {
		*dst = Auto
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, "want true, false or auto")
		return
	}
	*dst = Off
	if b {
		*dst = On
	}
}

func (p *parser) level(key string, dst *logrus.Level) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	l, err := logrus.ParseLevel(v)
	if err != nil {
		p.fail(key, v, "want a log level such as debug or info")
		return
	}
	*dst = l
}
