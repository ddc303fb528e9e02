package fallback

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"
)

// videoDrivers is the order SDL drivers are tried in. An SDL_VIDEODRIVER
// from the environment goes first.
func videoDrivers(env string) []string {
	drivers := []string{"kmsdrm", "fbcon", "wayland", "x11", "software", "dummy"}
	if env == "" {
		return drivers
	}
	out := []string{env}
	for _, d := range drivers {
		if d != env {
			out = append(out, d)
		}
	}
	return out
}

// rendererDriver picks the SDL render backend suited to a video driver.
func rendererDriver(driver string) string {
	switch driver {
	case "kmsdrm":
		return "opengles2"
	case "wayland", "x11":
		return "opengl"
	default:
		return "software"
	}
}

// initSDL tries every video driver until one initializes.
func initSDL() (string, error) {
	for _, driver := range videoDrivers(os.Getenv("SDL_VIDEODRIVER")) {
		log := logrus.WithFields(logrus.Fields{
			"function": "initSDL",
			"driver":   driver,
		})

		sdl.Quit()
		sdl.SetHint(sdl.HINT_VIDEODRIVER, driver)
		sdl.SetHint(sdl.HINT_RENDER_DRIVER, rendererDriver(driver))
		sdl.SetHint(sdl.HINT_VIDEO_MINIMIZE_ON_FOCUS_LOSS, "0")
		switch driver {
		case "kmsdrm":
			sdl.SetHint("SDL_KMSDRM_REQUIRE_DRM_MASTER", "1")
			sdl.SetHint("SDL_RENDER_VSYNC", "1")
		case "fbcon":
			sdl.SetHint("SDL_FBDEV", "/dev/fb0")
		}

		if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
			log.WithField("error", err.Error()).Debug("SDL video driver failed")
			continue
		}
		name, err := sdl.GetCurrentVideoDriver()
		if err != nil {
			sdl.Quit()
			continue
		}
		log.WithField("active", name).Info("SDL initialized")
		return name, nil
	}
	return "", fmt.Errorf("all SDL video drivers failed")
}

// createWindow opens a fullscreen window at the current display size.
func createWindow(title string) (*sdl.Window, int32, int32, error) {
	width, height := int32(1920), int32(1080)
	if mode, err := sdl.GetCurrentDisplayMode(0); err == nil {
		width, height = mode.W, mode.H
	}
	window, err := sdl.CreateWindow(title, 0, 0, width, height, sdl.WINDOW_SHOWN|sdl.WINDOW_FULLSCREEN)
	if err != nil {
		return nil, 0, 0, err
	}
	return window, width, height, nil
}

// createRenderer prefers an accelerated renderer and falls back to software.
func createRenderer(window *sdl.Window, driver string) (*sdl.Renderer, error) {
	if driver != "kmsdrm" && driver != "dummy" {
		r, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED|sdl.RENDERER_PRESENTVSYNC)
		if err == nil {
			return r, nil
		}
		logrus.WithFields(logrus.Fields{
			"function": "createRenderer",
			"driver":   driver,
			"error":    err.Error(),
		}).Warn("Accelerated renderer failed, using software")
	} else if driver == "kmsdrm" {
		// VSync on kmsdrm triggers async flip errors on VC4.
		r, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED)
		if err == nil {
			return r, nil
		}
	}
	return sdl.CreateRenderer(window, -1, sdl.RENDERER_SOFTWARE)
}

// letterbox fits a video into the screen keeping its aspect ratio.
func letterbox(videoW, videoH, screenW, screenH int32) sdl.Rect {
	if videoW <= 0 || videoH <= 0 {
		return sdl.Rect{W: screenW, H: screenH}
	}
	scale := float64(screenW) / float64(videoW)
	if s := float64(screenH) / float64(videoH); s < scale {
		scale = s
	}
	w := int32(float64(videoW) * scale)
	h := int32(float64(videoH) * scale)
	return sdl.Rect{X: (screenW - w) / 2, Y: (screenH - h) / 2, W: w, H: h}
}
