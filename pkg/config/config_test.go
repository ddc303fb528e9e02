package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestFromEnvDefaults(t *testing.T) {
	c, err := FromEnv(env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.Equal(t, "h264_v4l2m2m", c.Decoder)
	assert.Equal(t, 16667*time.Microsecond, c.FrameInterval)
	assert.Equal(t, 4, c.PoolSize)
	assert.True(t, c.FallbackEnabled)
	assert.Equal(t, Auto, c.Keyboard)
}

func TestFromEnvOverrides(t *testing.T) {
	c, err := FromEnv(env(map[string]string{
		"DRM_DEVICE":          "/dev/dri/card0",
		"DISPLAY_WIDTH":       "1280",
		"DISPLAY_HEIGHT":      "720",
		"DISPLAY_REFRESH":     "50",
		"FRAME_INTERVAL":      "20ms",
		"DECODE_POOL_SIZE":    "6",
		"BRIGHTNESS":          "1.25",
		"SATURATION":          "0",
		"TEST_PATTERN_FRAMES": "180",
		"KEYBOARD_CONTROL":    "false",
		"FALLBACK_LOOP":       "1",
		"LOG_LEVEL":           "debug",
		"WARP_CONFIG":         "  /etc/warp.txt  ",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/dev/dri/card0", c.DRMDevice)
	assert.Equal(t, 1280, c.Width)
	assert.Equal(t, 720, c.Height)
	assert.Equal(t, 50, c.Refresh)
	assert.Equal(t, 20*time.Millisecond, c.FrameInterval)
	assert.Equal(t, 6, c.PoolSize)
	assert.Equal(t, float32(1.25), c.Brightness)
	assert.Zero(t, c.Saturation)
	assert.Equal(t, 180, c.TestPatternFrames)
	assert.Equal(t, Off, c.Keyboard)
	assert.True(t, c.FallbackLoop)
	assert.Equal(t, logrus.DebugLevel, c.LogLevel)
	assert.Equal(t, "/etc/warp.txt", c.WarpFile)
}

func TestFromEnvCollectsErrors(t *testing.T) {
	_, err := FromEnv(env(map[string]string{
		"DECODE_POOL_SIZE": "0",
		"CONTRAST":         "3",
		"FRAME_INTERVAL":   "fast",
		"LOG_LEVEL":        "loud",
	}))
	require.ErrorIs(t, err, ErrInvalid)
	for _, key := range []string{"DECODE_POOL_SIZE", "CONTRAST", "FRAME_INTERVAL", "LOG_LEVEL"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestFromEnvRequiresBothDimensions(t *testing.T) {
	_, err := FromEnv(env(map[string]string{"DISPLAY_WIDTH": "1920"}))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSwitchResolve(t *testing.T) {
	assert.True(t, Auto.Resolve(true))
	assert.False(t, Auto.Resolve(false))
	assert.True(t, On.Resolve(false))
	assert.False(t, Off.Resolve(true))
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("EXHAUSTION_LIMIT=12\n"), 0o644))
	t.Setenv("EXHAUSTION_LIMIT", "")
	os.Unsetenv("EXHAUSTION_LIMIT")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, c.ExhaustionLimit)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}
