package present

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kmsplay/pkg/frame"
	"kmsplay/pkg/surface"
)

type fakeBacking struct{}

func (fakeBacking) Format() frame.Fourcc { return frame.FormatXRGB8888 }
func (fakeBacking) Size() (int, int)     { return 1920, 1080 }

var negotiated = surface.Configuration{
	Format:  frame.FormatXRGB8888,
	Mode:    surface.Mode{Width: 1920, Height: 1080, Refresh: 60},
	Config:  1,
	Backing: fakeBacking{},
	Step:    surface.StepOpaque,
}

type fakeSurface struct {
	next     uintptr
	swaps    int
	locked   map[uintptr]bool
	swapErr  error
	lockErr  error
	released []uintptr
}

func (s *fakeSurface) SwapBuffers() error {
	s.swaps++
	return s.swapErr
}

func (s *fakeSurface) LockFrontBuffer() (Buffer, error) {
	if s.lockErr != nil {
		return Buffer{}, s.lockErr
	}
	s.next++
	if s.locked == nil {
		s.locked = map[uintptr]bool{}
	}
	s.locked[s.next] = true
	return Buffer{Handle: uint32(s.next), Pitch: 7680, Width: 1920, Height: 1080, Format: frame.FormatXRGB8888, Ref: s.next}, nil
}

func (s *fakeSurface) ReleaseBuffer(b Buffer) {
	delete(s.locked, b.Ref)
	s.released = append(s.released, b.Ref)
}

type fakeScanout struct {
	binds []Buffer
	modes []surface.Mode
	err   error
}

func (s *fakeScanout) Bind(b Buffer, m surface.Mode) error {
	if s.err != nil {
		return s.err
	}
	s.binds = append(s.binds, b)
	s.modes = append(s.modes, m)
	return nil
}

func TestNewPresenterRequiresNegotiation(t *testing.T) {
	_, err := NewPresenter(&fakeSurface{}, &fakeScanout{}, surface.Configuration{})
	assert.ErrorIs(t, err, ErrNotNegotiated)
}

func TestFirstPresentOnlyBind(t *testing.T) {
	surf, scan := &fakeSurface{}, &fakeScanout{}
	p, err := NewPresenter(surf, scan, negotiated)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Present())
	}

	require.Len(t, scan.binds, 1)
	assert.Equal(t, uintptr(1), scan.binds[0].Ref)
	assert.Equal(t, negotiated.Mode, scan.modes[0])
	assert.True(t, p.Bound())
	assert.Equal(t, 5, surf.swaps)

	// The bound buffer stays pinned plus at most one other locked buffer.
	assert.True(t, surf.locked[1])
	assert.Len(t, surf.locked, 2)
	assert.Equal(t, uint64(5), p.Stats().FramesPresented)

	p.Close()
	assert.Empty(t, surf.locked)
}

func TestBindRetriedAfterFailure(t *testing.T) {
	surf, scan := &fakeSurface{}, &fakeScanout{err: errors.New("drmModeSetCrtc: EACCES")}
	p, err := NewPresenter(surf, scan, negotiated)
	require.NoError(t, err)

	err = p.Present()
	assert.ErrorIs(t, err, ErrPresentFailed)
	assert.False(t, p.Bound())
	assert.Empty(t, surf.locked)
	assert.Zero(t, p.Stats().FramesPresented)

	scan.err = nil
	require.NoError(t, p.Present())
	require.NoError(t, p.Present())
	assert.Len(t, scan.binds, 1)
}

func TestSwapAndLockFailuresAreFatal(t *testing.T) {
	surf := &fakeSurface{swapErr: errors.New("EGL_BAD_SURFACE")}
	p, err := NewPresenter(surf, &fakeScanout{}, negotiated)
	require.NoError(t, err)
	assert.ErrorIs(t, p.Present(), ErrPresentFailed)

	surf.swapErr = nil
	surf.lockErr = errors.New("no free buffer")
	assert.ErrorIs(t, p.Present(), ErrPresentFailed)
}

func TestStatisticsAccumulate(t *testing.T) {
	p, err := NewPresenter(&fakeSurface{}, &fakeScanout{}, negotiated)
	require.NoError(t, err)

	clock := time.Unix(0, 0)
	p.now = func() time.Time {
		clock = clock.Add(2 * time.Millisecond)
		return clock
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Present())
	}

	s := p.Stats()
	assert.Equal(t, uint64(4), s.FramesPresented)
	assert.Equal(t, 8*time.Millisecond, s.TotalLatency)
	assert.Equal(t, 2*time.Millisecond, s.AverageLatency())
	assert.Zero(t, Statistics{}.AverageLatency())
}
