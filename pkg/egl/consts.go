//go:build linux

package egl

import (
	"errors"
	"fmt"
)

var (
	// ErrLibrary is returned when a native library cannot be opened.
	ErrLibrary = errors.New("native graphics library unavailable")

	// ErrMissingExtension is returned when the driver lacks dmabuf import.
	ErrMissingExtension = errors.New("required EGL extension missing")

	// ErrNotCurrent is returned when drawing before a window is bound.
	ErrNotCurrent = errors.New("no current EGL surface")
)

const (
	eglFalse = 0

	eglSuccess           = 0x3000
	eglNotInitialized    = 0x3001
	eglBadAccess         = 0x3002
	eglBadAlloc          = 0x3003
	eglBadAttribute      = 0x3004
	eglBadConfig         = 0x3005
	eglBadContext        = 0x3006
	eglBadCurrentSurface = 0x3007
	eglBadDisplay        = 0x3008
	eglBadMatch          = 0x3009
	eglBadNativePixmap   = 0x300A
	eglBadNativeWindow   = 0x300B
	eglBadParameter      = 0x300C
	eglBadSurface        = 0x300D

	eglAlphaSize          = 0x3021
	eglBlueSize           = 0x3022
	eglGreenSize          = 0x3023
	eglRedSize            = 0x3024
	eglSurfaceType        = 0x3033
	eglNativeVisualID     = 0x302E
	eglNone               = 0x3038
	eglRenderableType     = 0x3040
	eglHeight             = 0x3056
	eglWidth              = 0x3057
	eglVendor             = 0x3053
	eglVersion            = 0x3054
	eglExtensions         = 0x3055
	eglContextClientVer   = 0x3098
	eglOpenGLESAPI        = 0x30A0
	eglWindowBit          = 0x0004
	eglOpenGLES2Bit       = 0x0004
	eglLinuxDmaBuf        = 0x3270
	eglLinuxDrmFourcc     = 0x3271
	eglDmaBufPlane0FD     = 0x3272
	eglDmaBufPlane0Offset = 0x3273
	eglDmaBufPlane0Pitch  = 0x3274
)

const (
	gbmBoUseScanout   = 1 << 0
	gbmBoUseRendering = 1 << 2
)

const (
	glFalse              = 0
	glTriangles          = 0x0004
	glUnsignedShort      = 0x1403
	glFloat              = 0x1406
	glTexture2D          = 0x0DE1
	glLinear             = 0x2601
	glTextureMagFilter   = 0x2800
	glTextureMinFilter   = 0x2801
	glTextureWrapS       = 0x2802
	glTextureWrapT       = 0x2803
	glColorBufferBit     = 0x4000
	glClampToEdge        = 0x812F
	glTexture0           = 0x84C0
	glArrayBuffer        = 0x8892
	glElementArrayBuffer = 0x8893
	glStaticDraw         = 0x88E4
	glFragmentShader     = 0x8B30
	glVertexShader       = 0x8B31
	glCompileStatus      = 0x8B81
	glLinkStatus         = 0x8B82
	glInfoLogLength      = 0x8B84
)

var eglErrorNames = map[int32]string{
	eglSuccess:           "EGL_SUCCESS",
	eglNotInitialized:    "EGL_NOT_INITIALIZED",
	eglBadAccess:         "EGL_BAD_ACCESS",
	eglBadAlloc:          "EGL_BAD_ALLOC",
	eglBadAttribute:      "EGL_BAD_ATTRIBUTE",
	eglBadConfig:         "EGL_BAD_CONFIG",
	eglBadContext:        "EGL_BAD_CONTEXT",
	eglBadCurrentSurface: "EGL_BAD_CURRENT_SURFACE",
	eglBadDisplay:        "EGL_BAD_DISPLAY",
	eglBadMatch:          "EGL_BAD_MATCH",
	eglBadNativePixmap:   "EGL_BAD_NATIVE_PIXMAP",
	eglBadNativeWindow:   "EGL_BAD_NATIVE_WINDOW",
	eglBadParameter:      "EGL_BAD_PARAMETER",
	eglBadSurface:        "EGL_BAD_SURFACE",
}

// Error is an EGL error code.
type Error int32

func (e Error) Error() string {
	if name, ok := eglErrorNames[int32(e)]; ok {
		return name
	}
	return fmt.Sprintf("EGL error 0x%04x", int32(e))
}

// lastError reads and clears the thread's EGL error.
func lastError(op string) error {
	return fmt.Errorf("%s: %w", op, Error(eglGetError()))
}
