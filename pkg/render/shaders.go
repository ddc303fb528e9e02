package render

import (
	"fmt"

	"kmsplay/pkg/frame"
)

const vertexShader = `#version 100
attribute vec2 a_position;
attribute vec2 a_texcoord;
uniform mat4 u_transform;
varying vec2 v_texcoord;

void main() {
    gl_Position = u_transform * vec4(a_position, 0.0, 1.0);
    v_texcoord = a_texcoord;
}
`

const fragmentHeader = `#version 100
precision mediump float;
varying vec2 v_texcoord;
uniform float u_brightness;
uniform float u_contrast;
uniform float u_saturation;
`

const adjustFunc = `
vec3 adjust(vec3 rgb) {
    rgb = (rgb - 0.5) * u_contrast + 0.5;
    rgb += u_brightness - 1.0;
    float gray = dot(rgb, vec3(0.299, 0.587, 0.114));
    rgb = mix(vec3(gray), rgb, u_saturation);
    return clamp(rgb, 0.0, 1.0);
}
`

// toRGB emits the matrix as GLSL taking y and recentred chroma c (cb, cr).
func toRGB(m frame.ColorMatrix) string {
	return fmt.Sprintf(`
vec3 toRGB(float y, vec2 c) {
    return vec3(
        y + %.4f * c.y,
        y + %.4f * c.x + %.4f * c.y,
        y + %.4f * c.x);
}
`, m.RCr, m.GCb, m.GCr, m.BCb)
}

// semiPlanarShader samples luma from plane 0 and interleaved CbCr (GR88:
// red is Cb, green is Cr) from plane 1.
func semiPlanarShader(m frame.ColorMatrix) string {
	return fragmentHeader + `uniform sampler2D u_plane0;
uniform sampler2D u_plane1;
` + adjustFunc + toRGB(m) + `
void main() {
    float y = texture2D(u_plane0, v_texcoord).r;
    vec2 c = texture2D(u_plane1, v_texcoord).rg - 0.5;
    gl_FragColor = vec4(adjust(toRGB(y, c)), 1.0);
}
`
}

// separatePlanarShader samples Y, Cb and Cr from three R8 planes.
func separatePlanarShader(m frame.ColorMatrix) string {
	return fragmentHeader + `uniform sampler2D u_plane0;
uniform sampler2D u_plane1;
uniform sampler2D u_plane2;
` + adjustFunc + toRGB(m) + `
void main() {
    float y = texture2D(u_plane0, v_texcoord).r;
    vec2 c = vec2(texture2D(u_plane1, v_texcoord).r,
                  texture2D(u_plane2, v_texcoord).r) - 0.5;
    gl_FragColor = vec4(adjust(toRGB(y, c)), 1.0);
}
`
}
