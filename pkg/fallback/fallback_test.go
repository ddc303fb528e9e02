package fallback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/veandco/go-sdl2/sdl"
)

func TestLetterbox(t *testing.T) {
	tests := []struct {
		name           string
		vw, vh, sw, sh int32
		want           sdl.Rect
	}{
		{"same aspect", 1280, 720, 1920, 1080, sdl.Rect{X: 0, Y: 0, W: 1920, H: 1080}},
		{"pillarbox", 1440, 1080, 1920, 1080, sdl.Rect{X: 240, Y: 0, W: 1440, H: 1080}},
		{"letterbox", 1920, 800, 1920, 1080, sdl.Rect{X: 0, Y: 140, W: 1920, H: 800}},
		{"no video size", 0, 0, 800, 600, sdl.Rect{W: 800, H: 600}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, letterbox(tt.vw, tt.vh, tt.sw, tt.sh))
		})
	}
}

func TestVideoDriversPutsEnvironmentFirst(t *testing.T) {
	assert.Equal(t, "kmsdrm", videoDrivers("")[0])

	drivers := videoDrivers("x11")
	assert.Equal(t, "x11", drivers[0])
	assert.Equal(t, 1, count(drivers, "x11"))
	assert.Equal(t, "dummy", drivers[len(drivers)-1])
}

func TestRendererDriver(t *testing.T) {
	assert.Equal(t, "opengles2", rendererDriver("kmsdrm"))
	assert.Equal(t, "opengl", rendererDriver("x11"))
	assert.Equal(t, "software", rendererDriver("fbcon"))
}

func TestDecoderCandidates(t *testing.T) {
	assert.Equal(t, []string{"h264"}, decoderCandidates("h264_v4l2m2m", false))

	got := decoderCandidates("h264_vaapi", true)
	assert.Equal(t, "h264_vaapi", got[0])
	assert.Equal(t, 1, count(got, "h264_vaapi"))
	assert.Equal(t, "h264", got[len(got)-1])

	assert.Equal(t, h264Candidates, decoderCandidates("", true))
}

func TestCopyRowsHonoursPitch(t *testing.T) {
	src := []byte{
		1, 2, 3, 4, 0xee, 0xee,
		5, 6, 7, 8, 0xee, 0xee,
	}
	dst := make([]byte, 2*8)
	copyRows(dst, 8, src, 6, 4, 2)

	assert.Equal(t, []byte{1, 2, 3, 4, 0, 0, 0, 0, 5, 6, 7, 8, 0, 0, 0, 0}, dst)
}

func TestCopyRowsStopsAtShortBuffer(t *testing.T) {
	dst := make([]byte, 4)
	copyRows(dst, 4, []byte{1, 2, 3, 4, 5, 6, 7, 8}, 4, 4, 2)
	assert.Equal(t, []byte{1, 2, 3, 4}, dst)
}

func count(list []string, s string) int {
	n := 0
	for _, v := range list {
		if v == s {
			n++
		}
	}
	return n
}
