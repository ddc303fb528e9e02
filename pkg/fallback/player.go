// Package fallback is a software player: FFmpeg decodes and converts to
// RGBA, SDL presents. It runs when the zero-copy hardware path cannot be
// configured.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"

	"kmsplay/pkg/input"
)

// Options control the software player.
type Options struct {
	Title          string
	Decoder        string // preferred FFmpeg decoder name
	HardwareDecode bool   // try hardware decoders before the software one
	Loop           bool
}

// Play shows path in a fullscreen SDL window until the end of the video
// (unless looping), ESC or q, an SDL quit event, or cancellation of ctx.
// Must be called on the main thread.
func Play(ctx context.Context, path string, opts Options) error {
	if opts.Title == "" {
		opts.Title = "kmsplay"
	}

	dec, err := openVideoDecoder(path, opts)
	if err != nil {
		return err
	}
	defer dec.close()

	driver, err := initSDL()
	if err != nil {
		return err
	}
	defer sdl.Quit()

	window, screenW, screenH, err := createWindow(opts.Title)
	if err != nil {
		return fmt.Errorf("create window: %w", err)
	}
	defer window.Destroy()

	renderer, err := createRenderer(window, driver)
	if err != nil {
		return fmt.Errorf("create renderer: %w", err)
	}
	defer renderer.Destroy()

	texture, err := renderer.CreateTexture(uint32(sdl.PIXELFORMAT_RGBA32), sdl.TEXTUREACCESS_STREAMING,
		int32(dec.width), int32(dec.height))
	if err != nil {
		return fmt.Errorf("create texture: %w", err)
	}
	defer texture.Destroy()

	p := &player{
		dec:      dec,
		renderer: renderer,
		texture:  texture,
		dst:      letterbox(int32(dec.width), int32(dec.height), screenW, screenH),
		loop:     opts.Loop,
		keys:     input.NewKeyPressTracker(),
	}

	logrus.WithFields(logrus.Fields{
		"function": "Play",
		"path":     path,
		"driver":   driver,
		"screen":   fmt.Sprintf("%dx%d", screenW, screenH),
		"loop":     opts.Loop,
	}).Info("Software playback starting")

	return p.run(ctx)
}

type player struct {
	dec      *videoDecoder
	renderer *sdl.Renderer
	texture  *sdl.Texture
	dst      sdl.Rect
	loop     bool
	keys     input.KeyPressTracker
	frames   uint64
}

func (p *player) run(ctx context.Context) error {
	interval := time.Duration(float64(time.Second) / p.dec.fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer func() {
		logrus.WithFields(logrus.Fields{
			"function": "player.run",
			"frames":   p.frames,
		}).Info("Software playback finished")
	}()

	for {
		if p.quitRequested() {
			return nil
		}

		data, pitch, err := p.dec.nextFrame()
		if errors.Is(err, io.EOF) {
			if !p.loop {
				return nil
			}
			if err := p.dec.rewind(); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if err := p.upload(data, pitch); err != nil {
			return err
		}
		if err := p.draw(); err != nil {
			return err
		}
		p.frames++

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *player) quitRequested() bool {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		if _, ok := event.(*sdl.QuitEvent); ok {
			return true
		}
	}
	for _, ev := range p.keys.Events(sdl.GetKeyboardState()) {
		if ev.Key == input.KeyEscape || (ev.Key == input.KeyRune && ev.Rune == 'q') {
			return true
		}
	}
	return false
}

// upload copies one RGBA frame into the streaming texture row by row.
func (p *player) upload(data []byte, srcPitch int) error {
	pixels, dstPitch, err := p.texture.Lock(nil)
	if err != nil {
		return fmt.Errorf("lock texture: %w", err)
	}
	defer p.texture.Unlock()

	copyRows(pixels, dstPitch, data, srcPitch, p.dec.width*4, p.dec.height)
	return nil
}

func (p *player) draw() error {
	if err := p.renderer.SetDrawColor(0, 0, 0, 255); err != nil {
		return err
	}
	if err := p.renderer.Clear(); err != nil {
		return err
	}
	if err := p.renderer.Copy(p.texture, nil, &p.dst); err != nil {
		return err
	}
	p.renderer.Present()
	return nil
}

// copyRows copies rows of rowBytes between buffers of different pitch.
func copyRows(dst []byte, dstPitch int, src []byte, srcPitch, rowBytes, rows int) {
	for y := 0; y < rows; y++ {
		d, s := y*dstPitch, y*srcPitch
		if d+rowBytes > len(dst) || s+rowBytes > len(src) {
			return
		}
		copy(dst[d:d+rowBytes], src[s:s+rowBytes])
	}
}
