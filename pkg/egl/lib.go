//go:build linux

// Package egl binds libEGL, libGLESv2 and libgbm at run time and implements
// the GPU side of the player on top of them: surface negotiation, dmabuf
// import, drawing and buffer swapping.
package egl

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ebitengine/purego"
)

var (
	loadOnce sync.Once
	loadErr  error
)

// Library search lists, versioned names first. EGL_LIB_PATH, GLES_LIB_PATH
// and GBM_LIB_PATH override them.
var (
	eglPaths  = []string{"libEGL.so.1", "libEGL.so"}
	glesPaths = []string{"libGLESv2.so.2", "libGLESv2.so"}
	gbmPaths  = []string{"libgbm.so.1", "libgbm.so"}
)

// EGL
var (
	eglGetDisplay          func(native uintptr) uintptr
	eglInitialize          func(dpy uintptr, major, minor uintptr) uint32
	eglTerminate           func(dpy uintptr) uint32
	eglBindAPI             func(api uint32) uint32
	eglChooseConfig        func(dpy uintptr, attribs uintptr, configs uintptr, size int32, num uintptr) uint32
	eglGetConfigAttrib     func(dpy, cfg uintptr, attr int32, value uintptr) uint32
	eglCreateContext       func(dpy, cfg, share uintptr, attribs uintptr) uintptr
	eglDestroyContext      func(dpy, ctx uintptr) uint32
	eglCreateWindowSurface func(dpy, cfg, win uintptr, attribs uintptr) uintptr
	eglDestroySurface      func(dpy, surf uintptr) uint32
	eglMakeCurrent         func(dpy, draw, read, ctx uintptr) uint32
	eglSwapBuffers         func(dpy, surf uintptr) uint32
	eglGetError            func() int32
	eglQueryString         func(dpy uintptr, name int32) string
	eglGetProcAddress      func(name string) uintptr

	// Extensions, resolved through eglGetProcAddress.
	eglCreateImageKHR            func(dpy, ctx uintptr, target uint32, buffer uintptr, attribs uintptr) uintptr
	eglDestroyImageKHR           func(dpy, image uintptr) uint32
	glEGLImageTargetTexture2DOES func(target uint32, image uintptr)
)

// GBM
var (
	gbmCreateDevice            func(fd int32) uintptr
	gbmDeviceDestroy           func(dev uintptr)
	gbmDeviceIsFormatSupported func(dev uintptr, format, usage uint32) int32
	gbmSurfaceCreate           func(dev uintptr, width, height, format, flags uint32) uintptr
	gbmSurfaceDestroy          func(surf uintptr)
	gbmSurfaceLockFrontBuffer  func(surf uintptr) uintptr
	gbmSurfaceReleaseBuffer    func(surf, bo uintptr)
	gbmSurfaceHasFreeBuffers   func(surf uintptr) int32
	gbmBoGetHandle             func(bo uintptr) uint64
	gbmBoGetStride             func(bo uintptr) uint32
	gbmBoGetWidth              func(bo uintptr) uint32
	gbmBoGetHeight             func(bo uintptr) uint32
	gbmBoGetFormat             func(bo uintptr) uint32
)

// GLES 2
var (
	glCreateShader            func(typ uint32) uint32
	glShaderSource            func(shader uint32, count int32, strings uintptr, lengths uintptr)
	glCompileShader           func(shader uint32)
	glGetShaderiv             func(shader, pname uint32, params uintptr)
	glGetShaderInfoLog        func(shader uint32, max int32, length uintptr, log uintptr)
	glDeleteShader            func(shader uint32)
	glCreateProgram           func() uint32
	glAttachShader            func(program, shader uint32)
	glBindAttribLocation      func(program, index uint32, name string)
	glLinkProgram             func(program uint32)
	glGetProgramiv            func(program, pname uint32, params uintptr)
	glGetProgramInfoLog       func(program uint32, max int32, length uintptr, log uintptr)
	glDeleteProgram           func(program uint32)
	glUseProgram              func(program uint32)
	glGetUniformLocation      func(program uint32, name string) int32
	glUniform1i               func(loc int32, v int32)
	glUniform1f               func(loc int32, v float32)
	glUniformMatrix4fv        func(loc int32, count int32, transpose uint8, value uintptr)
	glGenBuffers              func(n int32, buffers uintptr)
	glDeleteBuffers           func(n int32, buffers uintptr)
	glBindBuffer              func(target, buffer uint32)
	glBufferData              func(target uint32, size int, data uintptr, usage uint32)
	glVertexAttribPointer     func(index uint32, size int32, typ uint32, normalized uint8, stride int32, offset uintptr)
	glEnableVertexAttribArray func(index uint32)
	glGenTextures             func(n int32, textures uintptr)
	glDeleteTextures          func(n int32, textures uintptr)
	glBindTexture             func(target, texture uint32)
	glActiveTexture           func(texture uint32)
	glTexParameteri           func(target, pname uint32, param int32)
	glViewport                func(x, y, width, height int32)
	glClearColor              func(r, g, b, a float32)
	glClear                   func(mask uint32)
	glDrawElements            func(mode uint32, count int32, typ uint32, indices uintptr)
	glGetError                func() uint32
)

// Load opens the three libraries once per process.
func Load() error {
	loadOnce.Do(func() {
		loadErr = load()
	})
	return loadErr
}

func load() error {
	eglLib, err := open("EGL_LIB_PATH", eglPaths)
	if err != nil {
		return err
	}
	glesLib, err := open("GLES_LIB_PATH", glesPaths)
	if err != nil {
		return err
	}
	gbmLib, err := open("GBM_LIB_PATH", gbmPaths)
	if err != nil {
		return err
	}

	purego.RegisterLibFunc(&eglGetDisplay, eglLib, "eglGetDisplay")
	purego.RegisterLibFunc(&eglInitialize, eglLib, "eglInitialize")
	purego.RegisterLibFunc(&eglTerminate, eglLib, "eglTerminate")
	purego.RegisterLibFunc(&eglBindAPI, eglLib, "eglBindAPI")
	purego.RegisterLibFunc(&eglChooseConfig, eglLib, "eglChooseConfig")
	purego.RegisterLibFunc(&eglGetConfigAttrib, eglLib, "eglGetConfigAttrib")
	purego.RegisterLibFunc(&eglCreateContext, eglLib, "eglCreateContext")
	purego.RegisterLibFunc(&eglDestroyContext, eglLib, "eglDestroyContext")
	purego.RegisterLibFunc(&eglCreateWindowSurface, eglLib, "eglCreateWindowSurface")
	purego.RegisterLibFunc(&eglDestroySurface, eglLib, "eglDestroySurface")
	purego.RegisterLibFunc(&eglMakeCurrent, eglLib, "eglMakeCurrent")
	purego.RegisterLibFunc(&eglSwapBuffers, eglLib, "eglSwapBuffers")
	purego.RegisterLibFunc(&eglGetError, eglLib, "eglGetError")
	purego.RegisterLibFunc(&eglQueryString, eglLib, "eglQueryString")
	purego.RegisterLibFunc(&eglGetProcAddress, eglLib, "eglGetProcAddress")

	purego.RegisterLibFunc(&gbmCreateDevice, gbmLib, "gbm_create_device")
	purego.RegisterLibFunc(&gbmDeviceDestroy, gbmLib, "gbm_device_destroy")
	purego.RegisterLibFunc(&gbmDeviceIsFormatSupported, gbmLib, "gbm_device_is_format_supported")
	purego.RegisterLibFunc(&gbmSurfaceCreate, gbmLib, "gbm_surface_create")
	purego.RegisterLibFunc(&gbmSurfaceDestroy, gbmLib, "gbm_surface_destroy")
	purego.RegisterLibFunc(&gbmSurfaceLockFrontBuffer, gbmLib, "gbm_surface_lock_front_buffer")
	purego.RegisterLibFunc(&gbmSurfaceReleaseBuffer, gbmLib, "gbm_surface_release_buffer")
	purego.RegisterLibFunc(&gbmSurfaceHasFreeBuffers, gbmLib, "gbm_surface_has_free_buffers")
	purego.RegisterLibFunc(&gbmBoGetHandle, gbmLib, "gbm_bo_get_handle")
	purego.RegisterLibFunc(&gbmBoGetStride, gbmLib, "gbm_bo_get_stride")
	purego.RegisterLibFunc(&gbmBoGetWidth, gbmLib, "gbm_bo_get_width")
	purego.RegisterLibFunc(&gbmBoGetHeight, gbmLib, "gbm_bo_get_height")
	purego.RegisterLibFunc(&gbmBoGetFormat, gbmLib, "gbm_bo_get_format")

	purego.RegisterLibFunc(&glCreateShader, glesLib, "glCreateShader")
	purego.RegisterLibFunc(&glShaderSource, glesLib, "glShaderSource")
	purego.RegisterLibFunc(&glCompileShader, glesLib, "glCompileShader")
	purego.RegisterLibFunc(&glGetShaderiv, glesLib, "glGetShaderiv")
	purego.RegisterLibFunc(&glGetShaderInfoLog, glesLib, "glGetShaderInfoLog")
	purego.RegisterLibFunc(&glDeleteShader, glesLib, "glDeleteShader")
	purego.RegisterLibFunc(&glCreateProgram, glesLib, "glCreateProgram")
	purego.RegisterLibFunc(&glAttachShader, glesLib, "glAttachShader")
	purego.RegisterLibFunc(&glBindAttribLocation, glesLib, "glBindAttribLocation")
	purego.RegisterLibFunc(&glLinkProgram, glesLib, "glLinkProgram")
	purego.RegisterLibFunc(&glGetProgramiv, glesLib, "glGetProgramiv")
	purego.RegisterLibFunc(&glGetProgramInfoLog, glesLib, "glGetProgramInfoLog")
	purego.RegisterLibFunc(&glDeleteProgram, glesLib, "glDeleteProgram")
	purego.RegisterLibFunc(&glUseProgram, glesLib, "glUseProgram")
	purego.RegisterLibFunc(&glGetUniformLocation, glesLib, "glGetUniformLocation")
	purego.RegisterLibFunc(&glUniform1i, glesLib, "glUniform1i")
	purego.RegisterLibFunc(&glUniform1f, glesLib, "glUniform1f")
	purego.RegisterLibFunc(&glUniformMatrix4fv, glesLib, "glUniformMatrix4fv")
	purego.RegisterLibFunc(&glGenBuffers, glesLib, "glGenBuffers")
	purego.RegisterLibFunc(&glDeleteBuffers, glesLib, "glDeleteBuffers")
	purego.RegisterLibFunc(&glBindBuffer, glesLib, "glBindBuffer")
	purego.RegisterLibFunc(&glBufferData, glesLib, "glBufferData")
	purego.RegisterLibFunc(&glVertexAttribPointer, glesLib, "glVertexAttribPointer")
	purego.RegisterLibFunc(&glEnableVertexAttribArray, glesLib, "glEnableVertexAttribArray")
	purego.RegisterLibFunc(&glGenTextures, glesLib, "glGenTextures")
	purego.RegisterLibFunc(&glDeleteTextures, glesLib, "glDeleteTextures")
	purego.RegisterLibFunc(&glBindTexture, glesLib, "glBindTexture")
	purego.RegisterLibFunc(&glActiveTexture, glesLib, "glActiveTexture")
	purego.RegisterLibFunc(&glTexParameteri, glesLib, "glTexParameteri")
	purego.RegisterLibFunc(&glViewport, glesLib, "glViewport")
	purego.RegisterLibFunc(&glClearColor, glesLib, "glClearColor")
	purego.RegisterLibFunc(&glClear, glesLib, "glClear")
	purego.RegisterLibFunc(&glDrawElements, glesLib, "glDrawElements")
	purego.RegisterLibFunc(&glGetError, glesLib, "glGetError")

	return nil
}

// loadExtensions resolves the dmabuf import entry points. It needs an
// initialized display on some drivers.
func loadExtensions() error {
	for _, ext := range []struct {
		fptr any
		name string
	}{
		{&eglCreateImageKHR, "eglCreateImageKHR"},
		{&eglDestroyImageKHR, "eglDestroyImageKHR"},
		{&glEGLImageTargetTexture2DOES, "glEGLImageTargetTexture2DOES"},
	} {
		addr := eglGetProcAddress(ext.name)
		if addr == 0 {
			return fmt.Errorf("%w: %s", ErrMissingExtension, ext.name)
		}
		purego.RegisterFunc(ext.fptr, addr)
	}
	return nil
}

func open(env string, paths []string) (uintptr, error) {
	if p := os.Getenv(env); p != "" {
		paths = append([]string{p}, paths...)
	}
	var errs []error
	for _, p := range paths {
		h, err := purego.Dlopen(p, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			return h, nil
		}
		errs = append(errs, err)
	}
	return 0, fmt.Errorf("%w: %w", ErrLibrary, errors.Join(errs...))
}
