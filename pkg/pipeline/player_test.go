package pipeline

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/math/f32"

	"kmsplay/pkg/decode"
	"kmsplay/pkg/frame"
	"kmsplay/pkg/input"
	"kmsplay/pkg/present"
	"kmsplay/pkg/render"
	"kmsplay/pkg/warp"
)

// scriptedCodec decodes every accepted unit into one NV12 picture. sendErrs
// is consumed one entry per Send call; a non-nil entry refuses the unit.
type scriptedCodec struct {
	sendErrs []error
	queue    []decode.Unit
	eof      bool
	freed    int
	closed   bool
}

func (c *scriptedCodec) Send(u decode.Unit) error {
	if len(c.sendErrs) > 0 {
		err := c.sendErrs[0]
		c.sendErrs = c.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	c.queue = append(c.queue, u)
	return nil
}

func (c *scriptedCodec) SendEOF() error {
	c.eof = true
	return nil
}

func (c *scriptedCodec) Receive() (decode.Picture, error) {
	if len(c.queue) == 0 {
		if c.eof {
			return decode.Picture{}, decode.ErrEndOfStream
		}
		return decode.Picture{}, decode.ErrWouldBlock
	}
	u := c.queue[0]
	c.queue = c.queue[1:]
	return decode.Picture{
		Width:  64,
		Height: 32,
		Layout: frame.SemiPlanar,
		Planes: []frame.Plane{{FD: 5, Pitch: 64}, {FD: 5, Offset: 2048, Pitch: 64}},
		PTS:    u.PTS,
		Free:   func() { c.freed++ },
	}, nil
}

func (c *scriptedCodec) Flush() error {
	c.queue = nil
	return nil
}

func (c *scriptedCodec) Close() error {
	c.closed = true
	return nil
}

type fakeDemuxer struct {
	info   decode.StreamInfo
	units  int
	next   int
	closed bool
}

func newDemuxer(units int) *fakeDemuxer {
	return &fakeDemuxer{
		info:  decode.StreamInfo{Width: 64, Height: 32, FrameRate: 30, Codec: "h264"},
		units: units,
	}
}

func (d *fakeDemuxer) Info() decode.StreamInfo { return d.info }

func (d *fakeDemuxer) Close() error {
	d.closed = true
	return nil
}

func (d *fakeDemuxer) Next() (decode.Unit, error) {
	if d.next >= d.units {
		return decode.Unit{}, io.EOF
	}
	u := decode.Unit{Data: []byte{0, 0, 0, 1, 0x65}, PTS: int64(d.next), Key: d.next == 0}
	d.next++
	return u, nil
}

type fakeCompositor struct {
	drawn        []int64
	placeholders int
	failPTS      map[int64]bool
	transforms   []f32.Mat4
}

func (c *fakeCompositor) Composite(d *frame.Descriptor, m f32.Mat4) error {
	if c.failPTS[d.PTS] {
		return errors.New("import rejected")
	}
	c.drawn = append(c.drawn, d.PTS)
	c.transforms = append(c.transforms, m)
	return nil
}

func (c *fakeCompositor) Placeholder() {
	c.placeholders++
}

func (c *fakeCompositor) Stats() render.Stats {
	return render.Stats{
		Frames:       uint64(len(c.drawn) + c.placeholders),
		Placeholders: uint64(c.placeholders),
	}
}

type fakePresenter struct {
	presents int
	failAt   int
	onFrame  func(n int)
}

func (p *fakePresenter) Present() error {
	p.presents++
	if p.failAt > 0 && p.presents == p.failAt {
		return present.ErrPresentFailed
	}
	if p.onFrame != nil {
		p.onFrame(p.presents)
	}
	return nil
}

func (p *fakePresenter) Stats() present.Statistics {
	return present.Statistics{FramesPresented: uint64(p.presents)}
}

type fakeInput struct {
	batches [][]input.Event
}

func (i *fakeInput) Poll() ([]input.Event, error) {
	if len(i.batches) == 0 {
		return nil, nil
	}
	b := i.batches[0]
	i.batches = i.batches[1:]
	return b, nil
}

type harness struct {
	codec      *scriptedCodec
	source     *decode.Source
	demux      *fakeDemuxer
	compositor *fakeCompositor
	presenter  *fakePresenter
	stages     Stages
	opts       Options
}

func newHarness(units int) *harness {
	h := &harness{
		codec:      &scriptedCodec{},
		demux:      newDemuxer(units),
		compositor: &fakeCompositor{},
		presenter:  &fakePresenter{},
	}
	h.source = decode.NewSource(h.codec, 4)
	h.stages = Stages{
		Demuxer:    h.demux,
		Source:     h.source,
		Compositor: h.compositor,
		Presenter:  h.presenter,
	}
	h.opts = DefaultOptions()
	h.opts.StatsInterval = 0
	h.opts.EOFTimeouts = 3
	h.opts.DrainPolicy = func(uint64) decode.Backoff {
		return decode.Backoff{Attempts: 2, Delay: time.Microsecond}
	}
	return h
}

func (h *harness) player(t *testing.T) *Player {
	t.Helper()
	p, err := NewPlayer(h.stages, h.opts, nil)
	require.NoError(t, err)
	p.sleep = func(context.Context, time.Duration) {}
	return p
}

func TestRunPresentsEveryUnitInOrder(t *testing.T) {
	h := newHarness(10)
	require.NoError(t, h.player(t).Run(context.Background()))

	assert.Equal(t, 10, h.presenter.presents)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, h.compositor.drawn)

	stats := h.source.Stats()
	assert.Equal(t, uint64(10), stats.Acquired)
	assert.Equal(t, stats.Acquired, stats.Released)
	assert.Zero(t, h.source.Held())
	assert.Equal(t, 10, h.codec.freed)
}

func TestRunRetriesUnitAfterBackpressure(t *testing.T) {
	h := newHarness(4)
	h.codec.sendErrs = []error{nil, decode.ErrBackpressure, nil, decode.ErrBackpressure, nil}
	require.NoError(t, h.player(t).Run(context.Background()))

	assert.Equal(t, []int64{0, 1, 2, 3}, h.compositor.drawn)
	assert.Equal(t, uint64(2), h.source.Stats().Backpressure)
	assert.Zero(t, h.source.Held())
}

func TestRunDropsCorruptUnits(t *testing.T) {
	h := newHarness(3)
	h.codec.sendErrs = []error{nil, decode.ErrCorrupt, nil}
	p := h.player(t)
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, []int64{0, 2}, h.compositor.drawn)
	assert.Equal(t, 1, p.Monitor().Report().Dropped)
}

func TestRunCancellationCompletesInFlightFrame(t *testing.T) {
	h := newHarness(100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.presenter.onFrame = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	require.NoError(t, h.player(t).Run(ctx))
	assert.Equal(t, 3, h.presenter.presents)
	assert.Zero(t, h.source.Held(), "descriptor of the cancelled frame must still be released")
}

func TestRunCompositeFailureSkipsPresentButReleases(t *testing.T) {
	h := newHarness(4)
	h.compositor.failPTS = map[int64]bool{2: true}
	p := h.player(t)
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, 3, h.presenter.presents)
	assert.Equal(t, []int64{0, 1, 3}, h.compositor.drawn)
	assert.Equal(t, uint64(4), h.source.Stats().Released)
	assert.Equal(t, 1, p.Monitor().Report().Dropped)
}

func TestRunPresentFailureIsFatal(t *testing.T) {
	h := newHarness(5)
	h.presenter.failAt = 2
	err := h.player(t).Run(context.Background())

	require.ErrorIs(t, err, present.ErrPresentFailed)
	assert.Zero(t, h.source.Held())
}

func TestRunShowsTestPatternFirst(t *testing.T) {
	h := newHarness(2)
	h.opts.TestPatternFrames = 3
	p := h.player(t)
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, 3, h.compositor.placeholders)
	assert.Equal(t, 5, h.presenter.presents)
	assert.Equal(t, 3, p.Monitor().Report().Placeholders)
}

func TestRunAppliesWarpKeysAndQuits(t *testing.T) {
	h := newHarness(50)
	transform := warp.New()
	h.stages.Transform = transform
	h.stages.Controller = warp.NewController(transform, filepath.Join(t.TempDir(), "warp.txt"))
	h.stages.Input = &fakeInput{batches: [][]input.Event{
		{{Key: input.KeyUp}},
		nil,
		{{Key: input.KeyRune, Rune: 'q'}},
	}}

	require.NoError(t, h.player(t).Run(context.Background()))

	require.Len(t, h.compositor.transforms, 2)
	assert.NotEqual(t, warp.Identity, h.compositor.transforms[0])
	assert.Zero(t, h.source.Held())
}

func TestRunFinishesWhenDecoderStallsAfterEOF(t *testing.T) {
	h := newHarness(0)
	stall := &stallingCodec{}
	h.source = decode.NewSource(stall, 4)
	h.stages.Source = h.source

	require.NoError(t, h.player(t).Run(context.Background()))
	assert.True(t, stall.eof)
	assert.Zero(t, h.presenter.presents)
}

// stallingCodec never produces output, not even end of stream.
type stallingCodec struct {
	eof bool
}

func (c *stallingCodec) Send(decode.Unit) error { return nil }
func (c *stallingCodec) Flush() error           { return nil }
func (c *stallingCodec) Close() error           { return nil }

func (c *stallingCodec) SendEOF() error {
	c.eof = true
	return nil
}

func (c *stallingCodec) Receive() (decode.Picture, error) {
	return decode.Picture{}, decode.ErrWouldBlock
}

func TestNewPlayerRejectsUnsupportedCodec(t *testing.T) {
	h := newHarness(1)
	h.demux.info.Codec = "hevc"

	_, err := NewPlayer(h.stages, h.opts, nil)
	require.ErrorIs(t, err, ErrConfiguration)
	require.ErrorIs(t, err, decode.ErrUnsupportedCodec)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "decoder", cfgErr.Stage)
}

func TestConfiguration(t *testing.T) {
	assert.NoError(t, Configuration("surface", nil))

	err := Configuration("surface", errors.New("no config"))
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.EqualError(t, err, "surface: no config")
}

func TestOpenStreamClassifiesFailures(t *testing.T) {
	_, err := OpenStream("broken.mp4", func(string) (*fakeDemuxer, error) {
		return nil, errors.New("invalid data found when processing input")
	})
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "demux", cerr.Stage)
	assert.ErrorIs(t, err, ErrConfiguration)

	hevc := newDemuxer(1)
	hevc.info.Codec = "hevc"
	_, err = OpenStream("clip.mp4", func(string) (*fakeDemuxer, error) { return hevc, nil })
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "stream", cerr.Stage)
	assert.True(t, hevc.closed)

	good := newDemuxer(1)
	d, err := OpenStream("clip.mp4", func(string) (*fakeDemuxer, error) { return good, nil })
	require.NoError(t, err)
	assert.Same(t, good, d)
	assert.False(t, good.closed)
}

func TestSampler(t *testing.T) {
	var s sampler
	var allowed []uint64
	for i := 0; i < 150; i++ {
		if s.allow() {
			allowed = append(allowed, s.count)
		}
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 50, 100, 150}, allowed)
}
