package frame

// ColorMatrix holds the YCbCr to RGB coefficients applied after chroma has
// been recentred around zero.
type ColorMatrix struct {
	RCr float32
	GCb float32
	GCr float32
	BCb float32
}

// BT709 is the HD video colour matrix.
var BT709 = ColorMatrix{
	RCr: 1.5748,
	GCb: -0.1873,
	GCr: -0.4681,
	BCb: 1.8556,
}

// ToRGB converts one normalized sample. Cb and Cr are in [0,1] and are
// recentred by subtracting 0.5. Results are not clamped.
func (m ColorMatrix) ToRGB(y, cb, cr float32) (r, g, b float32) {
	cb -= 0.5
	cr -= 0.5
	r = y + m.RCr*cr
	g = y + m.GCb*cb + m.GCr*cr
	b = y + m.BCb*cb
	return r, g, b
}
