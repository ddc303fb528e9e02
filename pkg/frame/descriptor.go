package frame

import (
	"fmt"
	"math"
)

// NoPTS marks a picture whose presentation timestamp is unknown.
const NoPTS int64 = math.MinInt64

// MaxPlanes is the largest plane count any layout carries.
const MaxPlanes = 3

// Plane is one exported memory region of a decoded picture.
type Plane struct {
	FD     int    // dmabuf file descriptor, owned by the decoder
	Offset uint32 // byte offset of the plane inside FD
	Pitch  uint32 // bytes per row
}

// Slot identifies the pool entry a descriptor was handed out from. Only the
// owning pool interprets it.
type Slot struct {
	Pool       uint64
	Index      int
	Generation uint64
}

// Descriptor is a borrowed view of one decoded picture. It never owns the
// memory behind its planes; the decode source that produced it does, and the
// descriptor must be given back to that source exactly once.
type Descriptor struct {
	Width  int
	Height int
	Layout Layout
	Planes []Plane
	PTS    int64

	Slot Slot
}

// Placeholder reports whether the picture has no importable memory and the
// compositor should draw the fallback pattern instead.
func (d *Descriptor) Placeholder() bool {
	return d == nil || len(d.Planes) == 0 || d.Layout == Opaque
}

// HasPTS reports whether the presentation timestamp is known.
func (d *Descriptor) HasPTS() bool {
	return d.PTS != NoPTS
}

// Validate checks that the plane list matches the layout.
func (d *Descriptor) Validate() error {
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("invalid picture size %dx%d", d.Width, d.Height)
	}
	if len(d.Planes) > MaxPlanes {
		return fmt.Errorf("too many planes: %d", len(d.Planes))
	}
	if d.Placeholder() {
		return nil
	}
	if want := d.Layout.PlaneCount(); len(d.Planes) != want {
		return fmt.Errorf("%s picture carries %d planes, want %d", d.Layout, len(d.Planes), want)
	}
	for i, p := range d.Planes {
		if p.FD < 0 {
			return fmt.Errorf("plane %d has no exported memory", i)
		}
		if p.Pitch == 0 {
			return fmt.Errorf("plane %d has zero pitch", i)
		}
	}
	return nil
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%dx%d %s planes=%d pts=%d", d.Width, d.Height, d.Layout, len(d.Planes), d.PTS)
}
