package frame

// Fourcc is a DRM four-character pixel format code.
type Fourcc uint32

// NewFourcc packs four characters little-endian, the way drm_fourcc.h does.
func NewFourcc(a, b, c, d byte) Fourcc {
	return Fourcc(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

var (
	FormatXRGB8888 = NewFourcc('X', 'R', '2', '4')
	FormatARGB8888 = NewFourcc('A', 'R', '2', '4')
	FormatXBGR8888 = NewFourcc('X', 'B', '2', '4')
	FormatABGR8888 = NewFourcc('A', 'B', '2', '4')
	FormatRGB565   = NewFourcc('R', 'G', '1', '6')

	FormatNV12   = NewFourcc('N', 'V', '1', '2')
	FormatYUV420 = NewFourcc('Y', 'U', '1', '2')

	FormatR8   = NewFourcc('R', '8', ' ', ' ')
	FormatGR88 = NewFourcc('G', 'R', '8', '8')
)

func (f Fourcc) String() string {
	if f == 0 {
		return "none"
	}
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			b[i] = '?'
		}
	}
	return string(b)
}

// Depth and BitsPerPixel describe the scanout-relevant layout of RGB formats.
func (f Fourcc) Depth() uint8 {
	switch f {
	case FormatARGB8888, FormatABGR8888:
		return 32
	case FormatRGB565:
		return 16
	default:
		return 24
	}
}

func (f Fourcc) BitsPerPixel() uint8 {
	if f == FormatRGB565 {
		return 16
	}
	return 32
}
