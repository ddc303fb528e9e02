//go:build linux

package egl

import (
	"fmt"
	"runtime"
	"strings"
	"unsafe"

	"kmsplay/pkg/render"
)

// program caches a linked program's uniform locations.
type program struct {
	id         uint32
	transform  int32
	brightness int32
	contrast   int32
	saturation int32
}

// Renderer implements render.Device with GLES 2 and EGLImage dmabuf import.
type Renderer struct {
	dpy        uintptr
	programs   map[render.Program]*program
	buffers    [2]uint32
	indexCount int32
}

var _ render.Device = (*Renderer)(nil)

func newRenderer(dpy uintptr) *Renderer {
	return &Renderer{dpy: dpy, programs: make(map[render.Program]*program)}
}

func (r *Renderer) CompileProgram(vertex, fragment string, samplers int) (render.Program, error) {
	vs, err := compileShader(glVertexShader, vertex)
	if err != nil {
		return 0, fmt.Errorf("vertex shader: %w", err)
	}
	defer glDeleteShader(vs)
	fs, err := compileShader(glFragmentShader, fragment)
	if err != nil {
		return 0, fmt.Errorf("fragment shader: %w", err)
	}
	defer glDeleteShader(fs)

	id := glCreateProgram()
	glAttachShader(id, vs)
	glAttachShader(id, fs)
	glBindAttribLocation(id, 0, render.AttribPosition)
	glBindAttribLocation(id, 1, render.AttribTexcoord)
	glLinkProgram(id)

	var status int32
	glGetProgramiv(id, glLinkStatus, uintptr(unsafe.Pointer(&status)))
	runtime.KeepAlive(&status)
	if status == glFalse {
		log := programLog(id)
		glDeleteProgram(id)
		return 0, fmt.Errorf("link: %s", log)
	}

	p := &program{
		id:         id,
		transform:  glGetUniformLocation(id, render.UniformTransform),
		brightness: glGetUniformLocation(id, render.UniformBrightness),
		contrast:   glGetUniformLocation(id, render.UniformContrast),
		saturation: glGetUniformLocation(id, render.UniformSaturation),
	}
	glUseProgram(id)
	for i := 0; i < samplers; i++ {
		glUniform1i(glGetUniformLocation(id, render.SamplerName(i)), int32(i))
	}

	handle := render.Program(id)
	r.programs[handle] = p
	return handle, nil
}

func (r *Renderer) DeleteProgram(h render.Program) {
	if p, ok := r.programs[h]; ok {
		glDeleteProgram(p.id)
		delete(r.programs, h)
	}
}

// UploadQuad stores the quad in buffer objects and points both attributes at
// it. The bindings stay in place for every DrawQuad.
func (r *Renderer) UploadQuad(vertices []float32, indices []uint16) error {
	if r.buffers[0] == 0 {
		glGenBuffers(2, uintptr(unsafe.Pointer(&r.buffers[0])))
	}

	glBindBuffer(glArrayBuffer, r.buffers[0])
	glBufferData(glArrayBuffer, len(vertices)*4, uintptr(unsafe.Pointer(&vertices[0])), glStaticDraw)
	glBindBuffer(glElementArrayBuffer, r.buffers[1])
	glBufferData(glElementArrayBuffer, len(indices)*2, uintptr(unsafe.Pointer(&indices[0])), glStaticDraw)
	runtime.KeepAlive(vertices)
	runtime.KeepAlive(indices)

	const stride = 4 * 4
	glVertexAttribPointer(0, 2, glFloat, glFalse, stride, 0)
	glEnableVertexAttribArray(0)
	glVertexAttribPointer(1, 2, glFloat, glFalse, stride, 2*4)
	glEnableVertexAttribArray(1)

	r.indexCount = int32(len(indices))
	if code := glGetError(); code != 0 {
		return fmt.Errorf("upload quad: GL error 0x%04x", code)
	}
	return nil
}

// ImportImage wraps one dmabuf plane in an EGLImage without copying it.
func (r *Renderer) ImportImage(spec render.ImageSpec) (render.Image, error) {
	attribs := imageAttribs(spec)
	img := eglCreateImageKHR(r.dpy, 0, eglLinuxDmaBuf, 0, uintptr(unsafe.Pointer(&attribs[0])))
	runtime.KeepAlive(attribs)
	if img == 0 {
		return 0, lastError(fmt.Sprintf("eglCreateImageKHR %s %dx%d", spec.Format, spec.Width, spec.Height))
	}
	return render.Image(img), nil
}

func (r *Renderer) DestroyImage(img render.Image) {
	eglDestroyImageKHR(r.dpy, uintptr(img))
}

// BindTexture creates a texture on unit backed by img.
func (r *Renderer) BindTexture(unit int, img render.Image) (render.Texture, error) {
	var tex uint32
	glGenTextures(1, uintptr(unsafe.Pointer(&tex)))
	runtime.KeepAlive(&tex)

	glActiveTexture(glTexture0 + uint32(unit))
	glBindTexture(glTexture2D, tex)
	glTexParameteri(glTexture2D, glTextureMinFilter, glLinear)
	glTexParameteri(glTexture2D, glTextureMagFilter, glLinear)
	glTexParameteri(glTexture2D, glTextureWrapS, glClampToEdge)
	glTexParameteri(glTexture2D, glTextureWrapT, glClampToEdge)
	glEGLImageTargetTexture2DOES(glTexture2D, uintptr(img))

	if code := glGetError(); code != 0 {
		glDeleteTextures(1, uintptr(unsafe.Pointer(&tex)))
		return 0, fmt.Errorf("glEGLImageTargetTexture2DOES unit %d: GL error 0x%04x", unit, code)
	}
	return render.Texture(tex), nil
}

func (r *Renderer) DeleteTexture(t render.Texture) {
	tex := uint32(t)
	glDeleteTextures(1, uintptr(unsafe.Pointer(&tex)))
	runtime.KeepAlive(&tex)
}

func (r *Renderer) UseProgram(h render.Program) {
	if p, ok := r.programs[h]; ok {
		glUseProgram(p.id)
	}
}

func (r *Renderer) SetUniforms(h render.Program, u render.Uniforms) {
	p, ok := r.programs[h]
	if !ok {
		return
	}
	glUniform1f(p.brightness, u.Brightness)
	glUniform1f(p.contrast, u.Contrast)
	glUniform1f(p.saturation, u.Saturation)

	m := render.ColumnMajor(u.Transform)
	glUniformMatrix4fv(p.transform, 1, glFalse, uintptr(unsafe.Pointer(&m[0])))
	runtime.KeepAlive(&m)
}

func (r *Renderer) Viewport(width, height int) {
	glViewport(0, 0, int32(width), int32(height))
}

func (r *Renderer) Clear(red, green, blue, alpha float32) {
	glClearColor(red, green, blue, alpha)
	glClear(glColorBufferBit)
}

func (r *Renderer) DrawQuad() {
	glDrawElements(glTriangles, r.indexCount, glUnsignedShort, 0)
}

// Close frees the quad buffers.
func (r *Renderer) Close() {
	if r.buffers[0] != 0 {
		glDeleteBuffers(2, uintptr(unsafe.Pointer(&r.buffers[0])))
		r.buffers = [2]uint32{}
	}
}

// imageAttribs describes one plane for EGL_EXT_image_dma_buf_import.
func imageAttribs(spec render.ImageSpec) []int32 {
	return []int32{
		eglWidth, int32(spec.Width),
		eglHeight, int32(spec.Height),
		eglLinuxDrmFourcc, int32(spec.Format),
		eglDmaBufPlane0FD, int32(spec.Plane.FD),
		eglDmaBufPlane0Offset, int32(spec.Plane.Offset),
		eglDmaBufPlane0Pitch, int32(spec.Plane.Pitch),
		eglNone,
	}
}

func compileShader(typ uint32, source string) (uint32, error) {
	id := glCreateShader(typ)

	src := append([]byte(source), 0)
	ptr := uintptr(unsafe.Pointer(&src[0]))
	glShaderSource(id, 1, uintptr(unsafe.Pointer(&ptr)), 0)
	runtime.KeepAlive(src)
	runtime.KeepAlive(&ptr)
	glCompileShader(id)

	var status int32
	glGetShaderiv(id, glCompileStatus, uintptr(unsafe.Pointer(&status)))
	runtime.KeepAlive(&status)
	if status == glFalse {
		log := infoLog(id, glGetShaderiv, glGetShaderInfoLog)
		glDeleteShader(id)
		return 0, fmt.Errorf("compile: %s", log)
	}
	return id, nil
}

func programLog(id uint32) string {
	return infoLog(id, glGetProgramiv, glGetProgramInfoLog)
}

func infoLog(id uint32, getiv func(uint32, uint32, uintptr), getLog func(uint32, int32, uintptr, uintptr)) string {
	var n int32
	getiv(id, glInfoLogLength, uintptr(unsafe.Pointer(&n)))
	runtime.KeepAlive(&n)
	if n <= 1 {
		return "no info log"
	}
	buf := make([]byte, n)
	getLog(id, n, 0, uintptr(unsafe.Pointer(&buf[0])))
	runtime.KeepAlive(buf)
	return strings.TrimRight(string(buf), "\x00\n ")
}
