package frame

// Layout is the chroma arrangement of a decoded picture.
type Layout int

const (
	// Opaque pictures stay in decoder-private memory and cannot be imported.
	Opaque Layout = iota
	// SeparatePlanar is YUV 4:2:0 with Y, U and V in three planes.
	SeparatePlanar
	// SemiPlanar is NV12: a Y plane followed by one interleaved CbCr plane.
	SemiPlanar
)

func (l Layout) String() string {
	switch l {
	case SeparatePlanar:
		return "yuv420"
	case SemiPlanar:
		return "nv12"
	case Opaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// PlaneCount returns the number of planes the layout requires.
func (l Layout) PlaneCount() int {
	switch l {
	case SeparatePlanar:
		return 3
	case SemiPlanar:
		return 2
	default:
		return 0
	}
}

// PlaneGeometry is the size and single-plane format used to import one plane.
type PlaneGeometry struct {
	Width  int
	Height int
	Format Fourcc
}

// Geometry returns the import geometry of every plane of a width x height
// picture. Chroma planes are subsampled by two in both directions.
func (l Layout) Geometry(width, height int) []PlaneGeometry {
	cw, ch := (width+1)/2, (height+1)/2
	switch l {
	case SeparatePlanar:
		return []PlaneGeometry{
			{width, height, FormatR8},
			{cw, ch, FormatR8},
			{cw, ch, FormatR8},
		}
	case SemiPlanar:
		return []PlaneGeometry{
			{width, height, FormatR8},
			{cw, ch, FormatGR88},
		}
	default:
		return nil
	}
}

// LayoutForFormat maps a multi-plane DRM format to its layout. Unknown
// formats are Opaque.
func LayoutForFormat(f Fourcc) Layout {
	switch f {
	case FormatNV12:
		return SemiPlanar
	case FormatYUV420:
		return SeparatePlanar
	default:
		return Opaque
	}
}
