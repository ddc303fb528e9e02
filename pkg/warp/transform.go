// Package warp keeps the projector correction matrix applied when
// compositing. It is driven either by four movable corners or by a keystone
// pair.
package warp

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/image/math/f32"
)

// ErrDegenerate is returned for corners that do not form a convex quad.
var ErrDegenerate = errors.New("degenerate warp quad")

// Mode selects which parameters produce the matrix.
type Mode int

const (
	ModeCorners Mode = iota
	ModeKeystone
)

func (m Mode) String() string {
	if m == ModeKeystone {
		return "keystone"
	}
	return "corners"
}

// Point is a position in normalised device coordinates, y up.
type Point struct {
	X, Y float32
}

// Corner indexes into Corners.
const (
	TopLeft = iota
	TopRight
	BottomLeft
	BottomRight
)

// Corners are the output positions of the picture's four corners.
type Corners [4]Point

// DefaultCorners leave the picture untouched.
var DefaultCorners = Corners{
	TopLeft:     {-1, 1},
	TopRight:    {1, 1},
	BottomLeft:  {-1, -1},
	BottomRight: {1, -1},
}

// Params is the full warp parameter set.
type Params struct {
	Mode      Mode
	Corners   Corners
	KeystoneH float32
	KeystoneV float32
}

// DefaultParams resolve to the identity.
func DefaultParams() Params {
	return Params{Mode: ModeCorners, Corners: DefaultCorners}
}

// Identity is the 4x4 identity matrix.
var Identity = f32.Mat4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

// Transform memoizes the matrix for the current parameters. Matrices are
// row-major.
type Transform struct {
	params Params
	matrix f32.Mat4
	dirty  bool
}

// New returns an identity transform.
func New() *Transform {
	return &Transform{params: DefaultParams(), matrix: Identity}
}

// SetCorners switches to corner mode. Degenerate quads are rejected and leave
// the transform unchanged.
func (t *Transform) SetCorners(c Corners) error {
	if _, err := Homography(c); err != nil {
		return err
	}
	t.params.Mode = ModeCorners
	t.params.Corners = c
	t.dirty = true
	return nil
}

// SetKeystone switches to keystone mode.
func (t *Transform) SetKeystone(h, v float32) {
	t.params.Mode = ModeKeystone
	t.params.KeystoneH = h
	t.params.KeystoneV = v
	t.dirty = true
}

// Apply replaces every parameter at once, as when loading a saved warp. The
// inactive mode's values are kept so a later save round-trips them.
func (t *Transform) Apply(p Params) error {
	if p.Mode == ModeCorners {
		if _, err := Homography(p.Corners); err != nil {
			return err
		}
	}
	t.params = p
	t.dirty = true
	return nil
}

// Resolve returns the matrix, recomputing it only when parameters changed
// since the last call.
func (t *Transform) Resolve() f32.Mat4 {
	if !t.dirty {
		return t.matrix
	}
	switch t.params.Mode {
	case ModeKeystone:
		t.matrix = Keystone(t.params.KeystoneH, t.params.KeystoneV)
	default:
		m, err := Homography(t.params.Corners)
		if err == nil {
			t.matrix = m
		}
	}
	t.dirty = false
	return t.matrix
}

// Reset restores the identity and clears the dirty flag.
func (t *Transform) Reset() {
	t.params = DefaultParams()
	t.matrix = Identity
	t.dirty = false
}

func (t *Transform) Dirty() bool {
	return t.dirty
}

func (t *Transform) Params() Params {
	return t.params
}

// Keystone shears the identity: h moves y with x and v moves x with y.
func Keystone(h, v float32) f32.Mat4 {
	m := Identity
	m[1] = v * 0.5
	m[4] = h * 0.5
	return m
}

// Homography solves the projective map taking the square [-1,1]² onto c, so
// that each default corner lands on the matching corner of c. The 3x3 result
// is embedded so a vertex (x, y, 0, 1) comes out with w = g·x + h·y + 1.
func Homography(c Corners) (f32.Mat4, error) {
	if err := checkConvex(c); err != nil {
		return f32.Mat4{}, err
	}

	// Unknowns a b c d e f g h of
	//   x' = (a·x + b·y + c) / (g·x + h·y + 1)
	//   y' = (d·x + e·y + f) / (g·x + h·y + 1)
	var sys [8][9]float64
	for i := 0; i < 4; i++ {
		x, y := float64(DefaultCorners[i].X), float64(DefaultCorners[i].Y)
		u, v := float64(c[i].X), float64(c[i].Y)
		sys[2*i] = [9]float64{x, y, 1, 0, 0, 0, -x * u, -y * u, u}
		sys[2*i+1] = [9]float64{0, 0, 0, x, y, 1, -x * v, -y * v, v}
	}
	s, err := solve(sys)
	if err != nil {
		return f32.Mat4{}, err
	}

	return f32.Mat4{
		float32(s[0]), float32(s[1]), 0, float32(s[2]),
		float32(s[3]), float32(s[4]), 0, float32(s[5]),
		0, 0, 1, 0,
		float32(s[6]), float32(s[7]), 0, 1,
	}, nil
}

// checkConvex walks the quad in TL, TR, BR, BL order and requires every turn
// to bend the same way.
func checkConvex(c Corners) error {
	ring := [4]Point{c[TopLeft], c[TopRight], c[BottomRight], c[BottomLeft]}
	var sign float64
	for i := range ring {
		a, b, p := ring[i], ring[(i+1)%4], ring[(i+2)%4]
		if !finite(a.X) || !finite(a.Y) {
			return fmt.Errorf("%w: corner %d is not finite", ErrDegenerate, i)
		}
		cross := float64(b.X-a.X)*float64(p.Y-b.Y) - float64(b.Y-a.Y)*float64(p.X-b.X)
		if math.Abs(cross) < 1e-9 {
			return fmt.Errorf("%w: collinear corners", ErrDegenerate)
		}
		if sign == 0 {
			sign = cross
		} else if (cross > 0) != (sign > 0) {
			return fmt.Errorf("%w: not convex", ErrDegenerate)
		}
	}
	return nil
}

// solve runs Gaussian elimination with partial pivoting on an augmented 8x8
// system.
func solve(m [8][9]float64) ([8]float64, error) {
	const n = 8
	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(m[row][col]) > math.Abs(m[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(m[pivot][col]) < 1e-12 {
			return [8]float64{}, fmt.Errorf("%w: singular system", ErrDegenerate)
		}
		m[col], m[pivot] = m[pivot], m[col]

		for row := col + 1; row < n; row++ {
			f := m[row][col] / m[col][col]
			for k := col; k <= n; k++ {
				m[row][k] -= f * m[col][k]
			}
		}
	}

	var x [8]float64
	for row := n - 1; row >= 0; row-- {
		sum := m[row][n]
		for k := row + 1; k < n; k++ {
			sum -= m[row][k] * x[k]
		}
		x[row] = sum / m[row][row]
	}
	return x, nil
}

func finite(v float32) bool {
	return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0)
}
