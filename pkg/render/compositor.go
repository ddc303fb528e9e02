package render

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/math/f32"

	"kmsplay/pkg/frame"
)

// ErrProgram is returned when a shader program fails to build.
var ErrProgram = errors.New("shader program build failed")

// Full-screen quad as x, y, u, v. The top of the picture maps to +y.
var (
	quadVertices = []float32{
		-1, 1, 0, 0,
		1, 1, 1, 0,
		1, -1, 1, 1,
		-1, -1, 0, 1,
	}
	quadIndices = []uint16{0, 1, 2, 2, 3, 0}
)

const (
	placeholderStep      = 0.02
	placeholderAmplitude = 0.25
)

// Adjustments are colour corrections, each in [0,2] with 1 neutral.
type Adjustments struct {
	Brightness float32
	Contrast   float32
	Saturation float32
}

// NeutralAdjustments leaves colours untouched.
var NeutralAdjustments = Adjustments{Brightness: 1, Contrast: 1, Saturation: 1}

// Clamped returns a with every field limited to [0,2].
func (a Adjustments) Clamped() Adjustments {
	return Adjustments{
		Brightness: clamp(a.Brightness, 0, 2),
		Contrast:   clamp(a.Contrast, 0, 2),
		Saturation: clamp(a.Saturation, 0, 2),
	}
}

// Stats counts composited frames.
type Stats struct {
	Frames         uint64
	Placeholders   uint64
	ImportedPlanes uint64
	Failures       uint64
}

// Compositor draws one picture per call into the current back buffer.
type Compositor struct {
	dev      Device
	programs map[frame.Layout]Program
	adj      Adjustments
	width    int
	height   int
	phase    float32
	stats    Stats
}

// NewCompositor builds the per-layout programs and the quad. Program build
// failures are configuration errors and wrap ErrProgram.
func NewCompositor(dev Device, width, height int, adj Adjustments) (*Compositor, error) {
	c := &Compositor{
		dev:      dev,
		programs: make(map[frame.Layout]Program, 2),
		adj:      adj.Clamped(),
		width:    width,
		height:   height,
	}

	sources := map[frame.Layout]string{
		frame.SemiPlanar:     semiPlanarShader(frame.BT709),
		frame.SeparatePlanar: separatePlanarShader(frame.BT709),
	}
	for layout, fragment := range sources {
		prog, err := dev.CompileProgram(vertexShader, fragment, layout.PlaneCount())
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrProgram, layout, err)
		}
		c.programs[layout] = prog
	}
	if err := dev.UploadQuad(quadVertices, quadIndices); err != nil {
		c.Close()
		return nil, fmt.Errorf("upload quad: %w", err)
	}
	dev.Viewport(width, height)

	logrus.WithFields(logrus.Fields{
		"function":   "NewCompositor",
		"width":      width,
		"height":     height,
		"brightness": c.adj.Brightness,
		"contrast":   c.adj.Contrast,
		"saturation": c.adj.Saturation,
	}).Info("Compositor ready")

	return c, nil
}

// Composite draws d warped by transform. Pictures without importable planes
// get the animated placeholder. The descriptor is borrowed: its planes are
// imported for the draw only and it is never released here.
func (c *Compositor) Composite(d *frame.Descriptor, transform f32.Mat4) error {
	if d.Placeholder() {
		c.Placeholder()
		return nil
	}

	prog, ok := c.programs[d.Layout]
	if !ok {
		c.stats.Failures++
		return fmt.Errorf("no program for layout %s", d.Layout)
	}
	geometry := d.Layout.Geometry(d.Width, d.Height)
	if len(d.Planes) != len(geometry) {
		c.stats.Failures++
		return fmt.Errorf("%s picture has %d planes, want %d", d.Layout, len(d.Planes), len(geometry))
	}

	images := make([]Image, 0, len(geometry))
	textures := make([]Texture, 0, len(geometry))
	defer func() {
		for _, tex := range textures {
			c.dev.DeleteTexture(tex)
		}
		for _, img := range images {
			c.dev.DestroyImage(img)
		}
	}()

	for i, g := range geometry {
		img, err := c.dev.ImportImage(ImageSpec{
			Width:  g.Width,
			Height: g.Height,
			Format: g.Format,
			Plane:  d.Planes[i],
		})
		if err != nil {
			c.stats.Failures++
			return fmt.Errorf("import plane %d: %w", i, err)
		}
		images = append(images, img)

		tex, err := c.dev.BindTexture(i, img)
		if err != nil {
			c.stats.Failures++
			return fmt.Errorf("bind plane %d: %w", i, err)
		}
		textures = append(textures, tex)
	}

	c.dev.UseProgram(prog)
	c.dev.SetUniforms(prog, Uniforms{
		Brightness: c.adj.Brightness,
		Contrast:   c.adj.Contrast,
		Saturation: c.adj.Saturation,
		Transform:  transform,
	})
	c.dev.Clear(0, 0, 0, 1)
	c.dev.DrawQuad()

	c.stats.Frames++
	c.stats.ImportedPlanes += uint64(len(images))
	return nil
}

// Placeholder fills the back buffer with the next colour of the fallback
// animation. It never touches the import path.
func (c *Compositor) Placeholder() {
	r, g, b := placeholderColor(c.phase)
	c.dev.Clear(r, g, b, 1)

	c.phase += placeholderStep
	if c.phase >= 1 {
		c.phase -= 1
	}
	c.stats.Frames++
	c.stats.Placeholders++
}

func (c *Compositor) Stats() Stats {
	return c.stats
}

// Close deletes the programs.
func (c *Compositor) Close() {
	for layout, prog := range c.programs {
		c.dev.DeleteProgram(prog)
		delete(c.programs, layout)
	}
}

// placeholderColor walks the chroma circle at mid luma, one turn per unit
// of phase.
func placeholderColor(phase float32) (r, g, b float32) {
	angle := 2 * math.Pi * float64(phase)
	cb := 0.5 + placeholderAmplitude*float32(math.Sin(angle))
	cr := 0.5 + placeholderAmplitude*float32(math.Cos(angle))
	r, g, b = frame.BT709.ToRGB(0.5, cb, cr)
	return clamp(r, 0, 1), clamp(g, 0, 1), clamp(b, 0, 1)
}

func clamp(v, lo, hi float32) float32 {
	if v != v {
		return lo
	}
	return float32(math.Max(float64(lo), math.Min(float64(hi), float64(v))))
}
