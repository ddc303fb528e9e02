//go:build linux

package egl

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"kmsplay/pkg/frame"
	"kmsplay/pkg/present"
	"kmsplay/pkg/surface"
)

// Allocator creates scanout-capable GBM surfaces on a DRM card.
type Allocator struct {
	dev uintptr
}

// NewAllocator opens a GBM device on the card descriptor fd. The caller keeps
// ownership of fd.
func NewAllocator(fd int) (*Allocator, error) {
	if err := Load(); err != nil {
		return nil, err
	}
	dev := gbmCreateDevice(int32(fd))
	if dev == 0 {
		return nil, fmt.Errorf("gbm_create_device failed on fd %d", fd)
	}
	return &Allocator{dev: dev}, nil
}

// Surface is a GBM surface, the backing the GPU renders into and the display
// scans out of.
type Surface struct {
	ptr    uintptr
	format frame.Fourcc
	width  int
	height int
}

func (s *Surface) Format() frame.Fourcc { return s.format }
func (s *Surface) Size() (int, int)     { return s.width, s.height }

const surfaceUsage = gbmBoUseScanout | gbmBoUseRendering

// Supports reports whether format can be rendered to and scanned out.
func (a *Allocator) Supports(format frame.Fourcc) bool {
	return a.dev != 0 && gbmDeviceIsFormatSupported(a.dev, uint32(format), surfaceUsage) != 0
}

// CreateSurface allocates a width x height surface in format.
func (a *Allocator) CreateSurface(width, height int, format frame.Fourcc) (surface.Backing, error) {
	if !a.Supports(format) {
		return nil, fmt.Errorf("gbm: format %s not supported for scanout", format)
	}
	ptr := gbmSurfaceCreate(a.dev, uint32(width), uint32(height), uint32(format), surfaceUsage)
	if ptr == 0 {
		return nil, fmt.Errorf("gbm_surface_create %dx%d %s failed", width, height, format)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Allocator.CreateSurface",
		"width":    width,
		"height":   height,
		"format":   format.String(),
	}).Debug("GBM surface created")

	return &Surface{ptr: ptr, format: format, width: width, height: height}, nil
}

// DestroySurface frees a surface made by CreateSurface.
func (a *Allocator) DestroySurface(b surface.Backing) {
	s, ok := b.(*Surface)
	if !ok || s.ptr == 0 {
		return
	}
	gbmSurfaceDestroy(s.ptr)
	s.ptr = 0
}

// Close destroys the GBM device. Surfaces must be destroyed first.
func (a *Allocator) Close() {
	if a.dev != 0 {
		gbmDeviceDestroy(a.dev)
		a.dev = 0
	}
}

// lockFront takes the buffer just swapped to the front out of the chain.
func (s *Surface) lockFront() (present.Buffer, error) {
	bo := gbmSurfaceLockFrontBuffer(s.ptr)
	if bo == 0 {
		return present.Buffer{}, fmt.Errorf("gbm_surface_lock_front_buffer failed (free buffers: %d)", gbmSurfaceHasFreeBuffers(s.ptr))
	}
	return present.Buffer{
		Handle: boHandle(gbmBoGetHandle(bo)),
		Pitch:  gbmBoGetStride(bo),
		Width:  gbmBoGetWidth(bo),
		Height: gbmBoGetHeight(bo),
		Format: frame.Fourcc(gbmBoGetFormat(bo)),
		Ref:    bo,
	}, nil
}

func (s *Surface) release(b present.Buffer) {
	if b.Ref != 0 && s.ptr != 0 {
		gbmSurfaceReleaseBuffer(s.ptr, b.Ref)
	}
}

// boHandle extracts the 32-bit GEM handle from the gbm_bo_handle union.
func boHandle(u uint64) uint32 {
	return uint32(u)
}
