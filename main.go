package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"kmsplay/pkg/config"
	"kmsplay/pkg/decode"
	"kmsplay/pkg/decode/ffmpeg"
	"kmsplay/pkg/egl"
	"kmsplay/pkg/fallback"
	"kmsplay/pkg/input"
	"kmsplay/pkg/kms"
	"kmsplay/pkg/pipeline"
	"kmsplay/pkg/present"
	"kmsplay/pkg/render"
	"kmsplay/pkg/surface"
	"kmsplay/pkg/warp"
)

func main() {
	// EGL contexts and SDL are bound to the thread that created them.
	runtime.LockOSThread()
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Error("Configuration rejected")
		return 2
	}
	setupLogging(cfg.LogLevel)

	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <video.mp4>\n", filepath.Base(os.Args[0]))
		return 2
	}
	path := os.Args[1]

	log := logrus.WithFields(logrus.Fields{
		"session": uuid.NewString(),
		"path":    path,
	})
	log.WithFields(cfg.Fields()).Info("Starting kmsplay")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = playHardware(ctx, path, cfg, log)
	switch {
	case err == nil:
		log.Info("kmsplay shutting down")
		return 0
	case errors.Is(err, pipeline.ErrConfiguration) && cfg.FallbackEnabled:
		log.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Warn("Zero-copy path unavailable, switching to software playback")
		fmt.Fprintf(os.Stderr, "hardware pipeline unavailable: %v\nfalling back to software playback\n", err)

		err = fallback.Play(ctx, path, fallback.Options{
			Title:          "kmsplay",
			Decoder:        cfg.Decoder,
			HardwareDecode: true,
			Loop:           cfg.FallbackLoop,
		})
		if err != nil {
			log.WithFields(logrus.Fields{
				"function": "main",
				"error":    err.Error(),
			}).Error("Software playback failed")
			return 1
		}
		return 0
	default:
		log.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Error("Playback failed")
		return 1
	}
}

func setupLogging(level logrus.Level) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetOutput(os.Stderr)
	logrus.SetLevel(level)
}

// playHardware runs the zero-copy pipeline. Startup failures a software
// player could work around wrap pipeline.ErrConfiguration.
func playHardware(ctx context.Context, path string, cfg config.Config, log *logrus.Entry) error {
	demux, err := pipeline.OpenStream(path, ffmpeg.OpenDemuxer)
	if err != nil {
		return err
	}
	defer demux.Close()

	card, err := kms.Open(cfg.DRMDevice)
	if err != nil {
		return pipeline.Configuration("display", err)
	}
	// Closed last so the original CRTC comes back after everything else.
	defer card.Close()

	alloc, err := egl.NewAllocator(card.Fd())
	if err != nil {
		return pipeline.Configuration("gbm", err)
	}
	defer alloc.Close()

	gl, err := egl.NewContext(alloc)
	if err != nil {
		return pipeline.Configuration("egl", err)
	}
	defer gl.Close()

	negotiator := surface.NewNegotiator(gl, alloc, card)
	surf, err := negotiator.Negotiate(cfg.Width, cfg.Height, cfg.Refresh)
	if err != nil {
		return pipeline.Configuration("surface", err)
	}
	defer negotiator.Release(surf)

	device := gl.Renderer()
	defer device.Close()
	compositor, err := render.NewCompositor(device, surf.Mode.Width, surf.Mode.Height, render.Adjustments{
		Brightness: cfg.Brightness,
		Contrast:   cfg.Contrast,
		Saturation: cfg.Saturation,
	})
	if err != nil {
		return pipeline.Configuration("shaders", err)
	}
	defer compositor.Close()

	presenter, err := present.NewPresenter(gl, card, surf)
	if err != nil {
		return err
	}
	defer presenter.Close()

	hwDevice := cfg.HWDevice
	if hwDevice == "" {
		hwDevice = card.Path()
	}
	codec, err := ffmpeg.OpenDecoder(demux.Info(), ffmpeg.Options{Decoder: cfg.Decoder, Device: hwDevice})
	if err != nil {
		return pipeline.Configuration("decoder", err)
	}
	source := decode.NewSource(codec, cfg.PoolSize)
	defer source.Close()

	transform := warp.New()
	params, err := warp.LoadFile(cfg.WarpFile)
	if err == nil {
		err = transform.Apply(params)
	}
	if err != nil {
		log.WithFields(logrus.Fields{
			"function": "playHardware",
			"file":     cfg.WarpFile,
			"error":    err.Error(),
		}).Warn("Ignoring warp configuration")
	}

	stages := pipeline.Stages{
		Demuxer:    demux,
		Source:     source,
		Compositor: compositor,
		Presenter:  presenter,
		Transform:  transform,
	}
	if cfg.Keyboard.Resolve(term.IsTerminal(int(os.Stdin.Fd()))) {
		tty, err := input.OpenTerminal(os.Stdin)
		if err != nil {
			log.WithFields(logrus.Fields{
				"function": "playHardware",
				"error":    err.Error(),
			}).Warn("Keyboard control unavailable")
		} else {
			defer tty.Close()
			stages.Input = tty
			stages.Controller = warp.NewController(transform, cfg.WarpFile)
			log.Info("Warp keys: arrows move corner, 1-4 select, f fine, r reset, s save, l load, q quit")
		}
	}

	player, err := pipeline.NewPlayer(stages, pipeline.Options{
		FrameInterval:     cfg.FrameInterval,
		TestPatternFrames: cfg.TestPatternFrames,
		ExhaustionLimit:   cfg.ExhaustionLimit,
		StatsInterval:     cfg.StatsInterval,
	}, log)
	if err != nil {
		return err
	}
	return player.Run(ctx)
}
