//go:build linux

package egl

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/sirupsen/logrus"

	"kmsplay/pkg/frame"
	"kmsplay/pkg/present"
	"kmsplay/pkg/surface"
)

const maxConfigs = 64

// Context is an EGL display and GLES 2 context on a GBM device. All methods
// must be called from the thread that created it.
type Context struct {
	dpy    uintptr
	ctx    uintptr
	win    uintptr
	bound  *Surface
	config uintptr
}

// NewContext initializes EGL on alloc's GBM device and loads the dmabuf
// import extensions.
func NewContext(alloc *Allocator) (*Context, error) {
	dpy := eglGetDisplay(alloc.dev)
	if dpy == 0 {
		return nil, errors.New("eglGetDisplay returned no display")
	}

	var major, minor int32
	ok := eglInitialize(dpy, uintptr(unsafe.Pointer(&major)), uintptr(unsafe.Pointer(&minor)))
	runtime.KeepAlive(&major)
	runtime.KeepAlive(&minor)
	if ok == eglFalse {
		return nil, lastError("eglInitialize")
	}
	if eglBindAPI(eglOpenGLESAPI) == eglFalse {
		eglTerminate(dpy)
		return nil, lastError("eglBindAPI")
	}
	if err := loadExtensions(); err != nil {
		eglTerminate(dpy)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewContext",
		"version":  fmt.Sprintf("%d.%d", major, minor),
		"vendor":   eglQueryString(dpy, eglVendor),
	}).Info("EGL initialized")

	return &Context{dpy: dpy}, nil
}

// configAttribs asks for a window-renderable GLES 2 config with 8-bit colour
// channels and the requested alpha.
func configAttribs(req surface.ConfigRequest) []int32 {
	return []int32{
		eglSurfaceType, eglWindowBit,
		eglRedSize, 8,
		eglGreenSize, 8,
		eglBlueSize, 8,
		eglAlphaSize, int32(req.AlphaSize),
		eglRenderableType, eglOpenGLES2Bit,
		eglNone,
	}
}

// ChooseConfig returns a matching config. With a NativeVisual only configs
// rendering in exactly that layout qualify.
func (c *Context) ChooseConfig(req surface.ConfigRequest) (surface.Config, bool) {
	attribs := configAttribs(req)
	configs := make([]uintptr, maxConfigs)
	var n int32
	ok := eglChooseConfig(c.dpy, uintptr(unsafe.Pointer(&attribs[0])),
		uintptr(unsafe.Pointer(&configs[0])), maxConfigs, uintptr(unsafe.Pointer(&n)))
	runtime.KeepAlive(attribs)
	runtime.KeepAlive(configs)
	if ok == eglFalse || n == 0 {
		return 0, false
	}

	for _, cfg := range configs[:n] {
		if req.NativeVisual == 0 {
			return surface.Config(cfg), true
		}
		if visual, err := c.NativeFormat(surface.Config(cfg)); err == nil && visual == req.NativeVisual {
			return surface.Config(cfg), true
		}
	}
	return 0, false
}

// NativeFormat reports the DRM format the config renders in.
func (c *Context) NativeFormat(cfg surface.Config) (frame.Fourcc, error) {
	var id int32
	ok := eglGetConfigAttrib(c.dpy, uintptr(cfg), eglNativeVisualID, uintptr(unsafe.Pointer(&id)))
	runtime.KeepAlive(&id)
	if ok == eglFalse {
		return 0, lastError("eglGetConfigAttrib")
	}
	return frame.Fourcc(uint32(id)), nil
}

// BindWindow creates the EGL window surface on b and makes the context
// current. A layout mismatch between b and cfg wraps
// surface.ErrFormatMismatch.
func (c *Context) BindWindow(cfg surface.Config, b surface.Backing) error {
	s, ok := b.(*Surface)
	if !ok {
		return fmt.Errorf("backing %T is not a GBM surface", b)
	}

	if c.ctx == 0 || c.config != uintptr(cfg) {
		c.destroyContext()
		attribs := []int32{eglContextClientVer, 2, eglNone}
		ctx := eglCreateContext(c.dpy, uintptr(cfg), 0, uintptr(unsafe.Pointer(&attribs[0])))
		runtime.KeepAlive(attribs)
		if ctx == 0 {
			return lastError("eglCreateContext")
		}
		c.ctx = ctx
		c.config = uintptr(cfg)
	}

	c.destroyWindow()
	win := eglCreateWindowSurface(c.dpy, uintptr(cfg), s.ptr, 0)
	if win == 0 {
		code := Error(eglGetError())
		if code == eglBadMatch || code == eglBadNativeWindow {
			return fmt.Errorf("eglCreateWindowSurface %s: %w: %w", s.format, surface.ErrFormatMismatch, code)
		}
		return fmt.Errorf("eglCreateWindowSurface: %w", code)
	}
	if eglMakeCurrent(c.dpy, win, win, c.ctx) == eglFalse {
		err := lastError("eglMakeCurrent")
		eglDestroySurface(c.dpy, win)
		return err
	}

	c.win = win
	c.bound = s
	return nil
}

// SwapBuffers posts the back buffer.
func (c *Context) SwapBuffers() error {
	if c.win == 0 {
		return ErrNotCurrent
	}
	if eglSwapBuffers(c.dpy, c.win) == eglFalse {
		return lastError("eglSwapBuffers")
	}
	return nil
}

// LockFrontBuffer takes the buffer just swapped to the front.
func (c *Context) LockFrontBuffer() (present.Buffer, error) {
	if c.bound == nil {
		return present.Buffer{}, ErrNotCurrent
	}
	return c.bound.lockFront()
}

// ReleaseBuffer returns a locked buffer to the swap chain.
func (c *Context) ReleaseBuffer(b present.Buffer) {
	if c.bound != nil {
		c.bound.release(b)
	}
}

// Renderer returns the GLES drawing device for the current context.
func (c *Context) Renderer() *Renderer {
	return newRenderer(c.dpy)
}

// UnbindWindow drops the current window surface so the GBM surface under it
// can be destroyed. The context survives for a later BindWindow.
func (c *Context) UnbindWindow() {
	if c.dpy == 0 || c.win == 0 {
		return
	}
	eglMakeCurrent(c.dpy, 0, 0, 0)
	c.destroyWindow()
}

// Close releases the window surface, the context and the display.
func (c *Context) Close() {
	if c.dpy == 0 {
		return
	}
	eglMakeCurrent(c.dpy, 0, 0, 0)
	c.destroyWindow()
	c.destroyContext()
	eglTerminate(c.dpy)
	c.dpy = 0
}

func (c *Context) destroyWindow() {
	if c.win != 0 {
		eglDestroySurface(c.dpy, c.win)
		c.win = 0
		c.bound = nil
	}
}

func (c *Context) destroyContext() {
	if c.ctx != 0 {
		eglDestroyContext(c.dpy, c.ctx)
		c.ctx = 0
	}
}
