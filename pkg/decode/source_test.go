package decode

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kmsplay/pkg/frame"
)

// fakeCodec turns every queued unit into one NV12 picture. It holds back
// output until delay units are queued, like a hardware decoder warming up.
type fakeCodec struct {
	inCap    int
	delay    int
	queue    []Unit
	eof      bool
	received int
	freed    int
	flushed  int
	closed   bool
	failNext error
	mangle   func(*Picture)
}

func (c *fakeCodec) Send(u Unit) error {
	if len(c.queue) >= c.inCap {
		return ErrBackpressure
	}
	c.queue = append(c.queue, u)
	return nil
}

func (c *fakeCodec) SendEOF() error {
	c.eof = true
	return nil
}

func (c *fakeCodec) Receive() (Picture, error) {
	c.received++
	if c.failNext != nil {
		err := c.failNext
		c.failNext = nil
		return Picture{}, err
	}
	if len(c.queue) == 0 {
		if c.eof {
			return Picture{}, ErrEndOfStream
		}
		return Picture{}, ErrWouldBlock
	}
	if len(c.queue) < c.delay && !c.eof {
		return Picture{}, ErrWouldBlock
	}
	u := c.queue[0]
	c.queue = c.queue[1:]
	pic := Picture{
		Width:  64,
		Height: 32,
		Layout: frame.SemiPlanar,
		Planes: []frame.Plane{{FD: 7, Pitch: 64}, {FD: 7, Offset: 2048, Pitch: 64}},
		PTS:    u.PTS,
		Free:   func() { c.freed++ },
	}
	if c.mangle != nil {
		c.mangle(&pic)
	}
	return pic, nil
}

func (c *fakeCodec) Flush() error {
	c.flushed++
	c.queue = nil
	return nil
}

func (c *fakeCodec) Close() error {
	c.closed = true
	return nil
}

func unit(pts int64) Unit {
	return Unit{Data: []byte{0, 0, 0, 1, 0x65}, PTS: pts, Key: pts == 0}
}

func TestSourceAcquireReleaseBalance(t *testing.T) {
	codec := &fakeCodec{inCap: 4}
	src := NewSource(codec, 3)
	before := src.Available()

	for i := 0; i < 10; i++ {
		require.NoError(t, src.Submit(unit(int64(i))))
		d, err := src.Acquire()
		require.NoError(t, err)
		assert.Equal(t, int64(i), d.PTS)
		assert.Equal(t, before-1, src.Available())
		require.NoError(t, src.Release(d))
	}

	assert.Equal(t, before, src.Available())
	assert.Equal(t, 10, codec.freed)
	stats := src.Stats()
	assert.Equal(t, uint64(10), stats.Acquired)
	assert.Equal(t, stats.Acquired, stats.Released)
}

func TestSourceDoubleRelease(t *testing.T) {
	codec := &fakeCodec{inCap: 4}
	src := NewSource(codec, 2)
	require.NoError(t, src.Submit(unit(0)))
	d, err := src.Acquire()
	require.NoError(t, err)

	require.NoError(t, src.Release(d))
	err = src.Release(d)
	assert.ErrorIs(t, err, ErrNotHeld)
	assert.Equal(t, 1, codec.freed)
	assert.ErrorIs(t, src.Release(nil), ErrNotHeld)
}

func TestSourceStaleDescriptorAfterSlotReuse(t *testing.T) {
	src := NewSource(&fakeCodec{inCap: 4}, 1)
	require.NoError(t, src.Submit(unit(0)))
	require.NoError(t, src.Submit(unit(1)))

	first, err := src.Acquire()
	require.NoError(t, err)
	stale := *first
	require.NoError(t, src.Release(first))

	second, err := src.Acquire()
	require.NoError(t, err)
	assert.Equal(t, stale.Slot.Index, second.Slot.Index)

	assert.ErrorIs(t, src.Release(&stale), ErrNotHeld)
	require.NoError(t, src.Release(second))
}

func TestSourceForeignDescriptor(t *testing.T) {
	a := NewSource(&fakeCodec{inCap: 4}, 2)
	b := NewSource(&fakeCodec{inCap: 4}, 2)
	require.NoError(t, a.Submit(unit(0)))
	d, err := a.Acquire()
	require.NoError(t, err)

	assert.ErrorIs(t, b.Release(d), ErrNotHeld)
	require.NoError(t, a.Release(d))
}

func TestSourcePoolExhausted(t *testing.T) {
	codec := &fakeCodec{inCap: 8}
	src := NewSource(codec, 2)
	for i := 0; i < 3; i++ {
		require.NoError(t, src.Submit(unit(int64(i))))
	}

	d1, err := src.Acquire()
	require.NoError(t, err)
	d2, err := src.Acquire()
	require.NoError(t, err)
	calls := codec.received

	_, err = src.Acquire()
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Equal(t, calls, codec.received, "exhausted acquire must not pull from the decoder")
	assert.Equal(t, 0, src.Available())

	require.NoError(t, src.Release(d1))
	d3, err := src.Acquire()
	require.NoError(t, err)
	require.NoError(t, src.Release(d2))
	require.NoError(t, src.Release(d3))
	assert.Equal(t, uint64(1), src.Stats().Exhausted)
}

func TestSourceBackpressureRoundTrip(t *testing.T) {
	codec := &fakeCodec{inCap: 2, delay: 2}
	src := NewSource(codec, 4)

	require.NoError(t, src.Submit(unit(0)))
	require.NoError(t, src.Submit(unit(1)))

	blocked := unit(2)
	require.ErrorIs(t, src.Submit(blocked), ErrBackpressure)

	var d *frame.Descriptor
	for i := 0; i < 5 && d == nil; i++ {
		got, err := src.Acquire()
		if errors.Is(err, ErrWouldBlock) {
			continue
		}
		require.NoError(t, err)
		d = got
	}
	require.NotNil(t, d)
	require.NoError(t, src.Release(d))

	require.NoError(t, src.Submit(blocked))
	assert.Equal(t, uint64(1), src.Stats().Backpressure)
}

func TestSourceEndOfStream(t *testing.T) {
	codec := &fakeCodec{inCap: 4, delay: 3}
	src := NewSource(codec, 4)
	require.NoError(t, src.Submit(unit(0)))
	require.NoError(t, src.Submit(unit(1)))

	_, err := src.Acquire()
	require.ErrorIs(t, err, ErrWouldBlock)

	require.NoError(t, src.EndOfInput())
	for i := 0; i < 2; i++ {
		d, err := src.Acquire()
		require.NoError(t, err)
		require.NoError(t, src.Release(d))
	}
	_, err = src.Acquire()
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestSourceFatalReceive(t *testing.T) {
	boom := errors.New("v4l2 capture queue died")
	src := NewSource(&fakeCodec{inCap: 4, failNext: boom}, 2)
	_, err := src.Acquire()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, src.Available())
}

func TestSourceFlushKeepsHeldDescriptors(t *testing.T) {
	codec := &fakeCodec{inCap: 4}
	src := NewSource(codec, 2)
	require.NoError(t, src.Submit(unit(0)))
	require.NoError(t, src.Submit(unit(1)))
	d, err := src.Acquire()
	require.NoError(t, err)

	require.NoError(t, src.Flush())
	assert.Equal(t, 1, codec.flushed)
	_, err = src.Acquire()
	assert.ErrorIs(t, err, ErrWouldBlock)
	require.NoError(t, src.Release(d))
}

func TestSourceCloseFreesHeld(t *testing.T) {
	codec := &fakeCodec{inCap: 4}
	src := NewSource(codec, 2)
	require.NoError(t, src.Submit(unit(0)))
	d, err := src.Acquire()
	require.NoError(t, err)

	require.NoError(t, src.Close())
	assert.True(t, codec.closed)
	assert.Equal(t, 1, codec.freed)
	assert.ErrorIs(t, src.Release(d), ErrClosed)
	assert.ErrorIs(t, src.Submit(unit(1)), ErrClosed)
	require.NoError(t, src.Close())
}

func TestCheckStream(t *testing.T) {
	require.NoError(t, CheckStream(StreamInfo{Width: 1920, Height: 1080, Codec: "h264"}))
	assert.ErrorIs(t, CheckStream(StreamInfo{Width: 1920, Height: 1080, Codec: "hevc"}), ErrUnsupportedCodec)
	assert.Error(t, CheckStream(StreamInfo{Codec: "h264"}))
	assert.Equal(t, CodecH264, DetectCodec("h264_v4l2m2m"))
	assert.Equal(t, "VP9", DetectCodec("vp9").String())
}

func TestClassifyPrime(t *testing.T) {
	assert.Equal(t, frame.SemiPlanar, ClassifyPrime(frame.FormatNV12, 1, 2))
	assert.Equal(t, frame.SeparatePlanar, ClassifyPrime(frame.FormatYUV420, 1, 3))
	assert.Equal(t, frame.SemiPlanar, ClassifyPrime(frame.FormatR8, 2, 2))
	assert.Equal(t, frame.SeparatePlanar, ClassifyPrime(frame.FormatR8, 3, 3))
	assert.Equal(t, frame.Opaque, ClassifyPrime(frame.FormatNV12, 1, 1))
	assert.Equal(t, frame.Opaque, ClassifyPrime(frame.FormatARGB8888, 1, 1))
}

func TestSourceInvalidPictureBecomesPlaceholder(t *testing.T) {
	codec := &fakeCodec{inCap: 4, mangle: func(p *Picture) {
		if p.PTS == 1 {
			p.Planes[1].FD = -1
		}
	}}
	src := NewSource(codec, 2)
	require.NoError(t, src.Submit(unit(0)))
	require.NoError(t, src.Submit(unit(1)))

	good, err := src.Acquire()
	require.NoError(t, err)
	assert.False(t, good.Placeholder())

	bad, err := src.Acquire()
	require.NoError(t, err)
	assert.True(t, bad.Placeholder())
	assert.Equal(t, int64(1), bad.PTS)
	assert.Equal(t, 2, src.Held())

	require.NoError(t, src.Release(good))
	require.NoError(t, src.Release(bad))
	assert.Equal(t, 2, codec.freed)
	assert.Equal(t, uint64(1), src.Stats().Invalid)
	assert.Equal(t, 2, src.Capacity())
}
