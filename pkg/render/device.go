// Package render imports decoded pictures into the GPU and composites them
// into the back buffer.
package render

import (
	"golang.org/x/image/math/f32"

	"kmsplay/pkg/frame"
)

// Program, Image and Texture are GPU object handles owned by a Device.
type (
	Program uintptr
	Image   uintptr
	Texture uint32
)

// Vertex attribute and uniform names shared by the shaders and the device.
const (
	AttribPosition = "a_position"
	AttribTexcoord = "a_texcoord"

	UniformTransform  = "u_transform"
	UniformBrightness = "u_brightness"
	UniformContrast   = "u_contrast"
	UniformSaturation = "u_saturation"
)

// SamplerName is the uniform name of the sampler bound to texture unit i.
func SamplerName(i int) string {
	return [...]string{"u_plane0", "u_plane1", "u_plane2"}[i]
}

// ImageSpec describes one dmabuf plane to import as a GPU image.
type ImageSpec struct {
	Width  int
	Height int
	Format frame.Fourcc
	Plane  frame.Plane
}

// Uniforms are the per-draw shader inputs.
type Uniforms struct {
	Brightness float32
	Contrast   float32
	Saturation float32
	Transform  f32.Mat4
}

// Device is the GPU as seen by the compositor.
type Device interface {
	// CompileProgram builds a program whose attributes are bound to
	// locations 0 (AttribPosition) and 1 (AttribTexcoord) and whose samplers
	// are assigned to texture units in order.
	CompileProgram(vertex, fragment string, samplers int) (Program, error)
	DeleteProgram(Program)

	// UploadQuad stores the interleaved x, y, u, v vertices and indices
	// used by DrawQuad.
	UploadQuad(vertices []float32, indices []uint16) error

	ImportImage(spec ImageSpec) (Image, error)
	DestroyImage(Image)
	BindTexture(unit int, img Image) (Texture, error)
	DeleteTexture(Texture)

	UseProgram(Program)
	SetUniforms(Program, Uniforms)
	Viewport(width, height int)
	Clear(r, g, b, a float32)
	DrawQuad()
}

// ColumnMajor lays out m the way glUniformMatrix4fv expects it without
// transposition.
func ColumnMajor(m f32.Mat4) [16]float32 {
	var out [16]float32
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			out[col*4+row] = m[row*4+col]
		}
	}
	return out
}
