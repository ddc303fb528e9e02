package render

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/math/f32"

	"kmsplay/pkg/frame"
)

type fakeDevice struct {
	programs   map[Program]string
	nextID     uintptr
	compileErr error
	importErr  error

	imports    []ImageSpec
	liveImages map[Image]bool
	liveTex    map[Texture]bool
	bound      map[int]Image
	used       Program
	uniforms   Uniforms
	clears     [][4]float32
	draws      int
	vertices   []float32
	indices    []uint16
	viewport   [2]int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		programs:   map[Program]string{},
		liveImages: map[Image]bool{},
		liveTex:    map[Texture]bool{},
		bound:      map[int]Image{},
	}
}

func (d *fakeDevice) id() uintptr {
	d.nextID++
	return d.nextID
}

func (d *fakeDevice) CompileProgram(vertex, fragment string, samplers int) (Program, error) {
	if d.compileErr != nil {
		return 0, d.compileErr
	}
	p := Program(d.id())
	d.programs[p] = fragment
	return p, nil
}

func (d *fakeDevice) DeleteProgram(p Program) { delete(d.programs, p) }

func (d *fakeDevice) UploadQuad(v []float32, i []uint16) error {
	d.vertices, d.indices = v, i
	return nil
}

func (d *fakeDevice) ImportImage(spec ImageSpec) (Image, error) {
	if d.importErr != nil && len(d.imports) > 0 {
		return 0, d.importErr
	}
	d.imports = append(d.imports, spec)
	img := Image(d.id())
	d.liveImages[img] = true
	return img, nil
}

func (d *fakeDevice) DestroyImage(img Image) { delete(d.liveImages, img) }

func (d *fakeDevice) BindTexture(unit int, img Image) (Texture, error) {
	d.bound[unit] = img
	tex := Texture(d.id())
	d.liveTex[tex] = true
	return tex, nil
}

func (d *fakeDevice) DeleteTexture(tex Texture) { delete(d.liveTex, tex) }

func (d *fakeDevice) UseProgram(p Program)              { d.used = p }
func (d *fakeDevice) SetUniforms(_ Program, u Uniforms) { d.uniforms = u }
func (d *fakeDevice) Viewport(w, h int)                 { d.viewport = [2]int{w, h} }
func (d *fakeDevice) Clear(r, g, b, a float32)          { d.clears = append(d.clears, [4]float32{r, g, b, a}) }
func (d *fakeDevice) DrawQuad()                         { d.draws++ }

var identity = f32.Mat4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

func nv12(w, h int) *frame.Descriptor {
	return &frame.Descriptor{
		Width: w, Height: h, Layout: frame.SemiPlanar, PTS: 0,
		Planes: []frame.Plane{{FD: 9, Pitch: uint32(w)}, {FD: 9, Offset: uint32(w * h), Pitch: uint32(w)}},
	}
}

func TestNewCompositorBuildsProgramsAndQuad(t *testing.T) {
	dev := newFakeDevice()
	c, err := NewCompositor(dev, 1920, 1080, NeutralAdjustments)
	require.NoError(t, err)

	assert.Len(t, dev.programs, 2)
	assert.Equal(t, []uint16{0, 1, 2, 2, 3, 0}, dev.indices)
	assert.Len(t, dev.vertices, 16)
	assert.Equal(t, [2]int{1920, 1080}, dev.viewport)

	c.Close()
	assert.Empty(t, dev.programs)
}

func TestNewCompositorProgramFailure(t *testing.T) {
	dev := newFakeDevice()
	dev.compileErr = errors.New("0:7: syntax error")
	_, err := NewCompositor(dev, 64, 64, NeutralAdjustments)
	assert.ErrorIs(t, err, ErrProgram)
}

func TestCompositeSemiPlanarImportsEveryPlane(t *testing.T) {
	dev := newFakeDevice()
	c, err := NewCompositor(dev, 1920, 1080, Adjustments{Brightness: 1.2, Contrast: 3, Saturation: -1})
	require.NoError(t, err)

	d := nv12(1920, 1080)
	require.NoError(t, c.Composite(d, identity))

	require.Len(t, dev.imports, 2)
	assert.Equal(t, ImageSpec{Width: 1920, Height: 1080, Format: frame.FormatR8, Plane: d.Planes[0]}, dev.imports[0])
	assert.Equal(t, ImageSpec{Width: 960, Height: 540, Format: frame.FormatGR88, Plane: d.Planes[1]}, dev.imports[1])
	assert.Len(t, dev.bound, 2)
	assert.Equal(t, 1, dev.draws)
	assert.Contains(t, dev.programs[dev.used], "texture2D(u_plane1, v_texcoord).rg")

	assert.Equal(t, float32(1.2), dev.uniforms.Brightness)
	assert.Equal(t, float32(2), dev.uniforms.Contrast)
	assert.Equal(t, float32(0), dev.uniforms.Saturation)
	assert.Equal(t, identity, dev.uniforms.Transform)

	assert.Empty(t, dev.liveImages, "imported images must be destroyed after the draw")
	assert.Empty(t, dev.liveTex, "textures must be deleted after the draw")
	assert.Len(t, d.Planes, 2, "the descriptor is borrowed, not released")
}

func TestCompositeSeparatePlanar(t *testing.T) {
	dev := newFakeDevice()
	c, err := NewCompositor(dev, 1280, 720, NeutralAdjustments)
	require.NoError(t, err)

	d := &frame.Descriptor{
		Width: 1280, Height: 720, Layout: frame.SeparatePlanar,
		Planes: []frame.Plane{{FD: 4, Pitch: 1280}, {FD: 5, Pitch: 640}, {FD: 6, Pitch: 640}},
	}
	require.NoError(t, c.Composite(d, identity))

	require.Len(t, dev.imports, 3)
	for i, spec := range dev.imports {
		assert.Equal(t, frame.FormatR8, spec.Format)
		assert.Equal(t, d.Planes[i], spec.Plane)
	}
	assert.Equal(t, 640, dev.imports[2].Width)
	assert.Len(t, dev.bound, 3)
	assert.Contains(t, dev.programs[dev.used], "u_plane2")
	assert.Empty(t, dev.liveImages)
	assert.Empty(t, dev.liveTex)
}

func TestCompositeImportFailureCleansUp(t *testing.T) {
	dev := newFakeDevice()
	c, err := NewCompositor(dev, 64, 64, NeutralAdjustments)
	require.NoError(t, err)

	dev.importErr = errors.New("EGL_BAD_MATCH")
	err = c.Composite(nv12(64, 64), identity)
	require.Error(t, err)
	assert.Equal(t, 0, dev.draws)
	assert.Empty(t, dev.liveImages)
	assert.Empty(t, dev.liveTex)
	assert.Equal(t, uint64(1), c.Stats().Failures)
}

func TestCompositeRejectsPlaneMismatch(t *testing.T) {
	dev := newFakeDevice()
	c, err := NewCompositor(dev, 64, 64, NeutralAdjustments)
	require.NoError(t, err)

	d := nv12(64, 64)
	d.Layout = frame.SeparatePlanar
	assert.Error(t, c.Composite(d, identity))
	assert.Empty(t, dev.imports)
}

func TestPlaceholderNeverImports(t *testing.T) {
	dev := newFakeDevice()
	c, err := NewCompositor(dev, 64, 64, NeutralAdjustments)
	require.NoError(t, err)

	empty := &frame.Descriptor{Width: 64, Height: 64, Layout: frame.SemiPlanar}
	opaque := &frame.Descriptor{Width: 64, Height: 64, Layout: frame.Opaque}
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Composite(empty, identity))
		require.NoError(t, c.Composite(opaque, identity))
	}

	assert.Empty(t, dev.imports)
	assert.Empty(t, dev.bound)
	assert.Equal(t, 0, dev.draws)
	require.Len(t, dev.clears, 6)
	assert.NotEqual(t, dev.clears[0], dev.clears[1], "pattern animates")
	for _, col := range dev.clears {
		for _, v := range col {
			assert.True(t, v >= 0 && v <= 1)
		}
	}
	assert.Equal(t, uint64(6), c.Stats().Placeholders)
}

func TestPlaceholderIsDeterministicAndWraps(t *testing.T) {
	a, b := newFakeDevice(), newFakeDevice()
	ca, err := NewCompositor(a, 8, 8, NeutralAdjustments)
	require.NoError(t, err)
	cb, err := NewCompositor(b, 8, 8, NeutralAdjustments)
	require.NoError(t, err)

	for i := 0; i < 60; i++ {
		ca.Placeholder()
		cb.Placeholder()
	}
	assert.Equal(t, a.clears, b.clears)
	assert.True(t, ca.phase >= 0 && ca.phase < 1)

	r, g, bl := placeholderColor(0)
	r1, g1, b1 := placeholderColor(1)
	assert.InDelta(t, r, r1, 1e-5)
	assert.InDelta(t, g, g1, 1e-5)
	assert.InDelta(t, bl, b1, 1e-5)
}

func TestAdjustmentsClamped(t *testing.T) {
	a := Adjustments{Brightness: -0.5, Contrast: 2.5, Saturation: 1.3}.Clamped()
	assert.Equal(t, Adjustments{Brightness: 0, Contrast: 2, Saturation: 1.3}, a)
	assert.Equal(t, NeutralAdjustments, NeutralAdjustments.Clamped())
}

func TestShadersCarryBT709(t *testing.T) {
	for _, src := range []string{semiPlanarShader(frame.BT709), separatePlanarShader(frame.BT709)} {
		assert.True(t, strings.Contains(src, "1.5748"))
		assert.True(t, strings.Contains(src, "-0.1873"))
		assert.True(t, strings.Contains(src, "-0.4681"))
		assert.True(t, strings.Contains(src, "1.8556"))
		assert.Contains(t, src, "u_contrast")
	}
	assert.Contains(t, vertexShader, UniformTransform)
}

func TestColumnMajor(t *testing.T) {
	m := f32.Mat4{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}
	assert.Equal(t, [16]float32{1, 5, 9, 13, 2, 6, 10, 14, 3, 7, 11, 15, 4, 8, 12, 16}, ColumnMajor(m))
}
