package decode

import (
	"fmt"
	"strings"

	"kmsplay/pkg/frame"
)

// StreamInfo describes the compressed stream handed to the decoder.
type StreamInfo struct {
	Width     int
	Height    int
	FrameRate float64
	Codec     string
	Extradata []byte // codec parameter sets, passed through opaquely
}

// Unit is one compressed access unit.
type Unit struct {
	Data []byte
	PTS  int64
	Key  bool
}

// Picture is a decoded picture as produced by a Codec. Free returns its
// memory to the decoder and must be called exactly once.
type Picture struct {
	Width  int
	Height int
	Layout frame.Layout
	Planes []frame.Plane
	PTS    int64
	Free   func()
}

// Codec is a hardware decoder backend.
type Codec interface {
	// Send queues one unit. It returns ErrBackpressure when the input queue
	// is full.
	Send(Unit) error
	// SendEOF signals end of input so buffered pictures are drained.
	SendEOF() error
	// Receive returns the next picture, ErrWouldBlock when none is ready, or
	// ErrEndOfStream once drained.
	Receive() (Picture, error)
	// Flush discards in-flight decoder state.
	Flush() error
	Close() error
}

// CodecType is the compressed video format of a stream.
type CodecType int

const (
	CodecUnknown CodecType = iota
	CodecH264
	CodecHEVC
	CodecVP8
	CodecVP9
	CodecAV1
	CodecMPEG2
	CodecMPEG4
)

// DetectCodec determines the codec type from a decoder or stream name.
func DetectCodec(name string) CodecType {
	lower := strings.ToLower(name)

	switch {
	case strings.Contains(lower, "h264"), strings.Contains(lower, "avc"):
		return CodecH264
	case strings.Contains(lower, "h265"), strings.Contains(lower, "hevc"):
		return CodecHEVC
	case strings.Contains(lower, "vp8"):
		return CodecVP8
	case strings.Contains(lower, "vp9"):
		return CodecVP9
	case strings.Contains(lower, "av1"):
		return CodecAV1
	case strings.Contains(lower, "mpeg2"):
		return CodecMPEG2
	case strings.Contains(lower, "mpeg4"):
		return CodecMPEG4
	default:
		return CodecUnknown
	}
}

func (c CodecType) String() string {
	switch c {
	case CodecH264:
		return "H.264/AVC"
	case CodecHEVC:
		return "H.265/HEVC"
	case CodecVP8:
		return "VP8"
	case CodecVP9:
		return "VP9"
	case CodecAV1:
		return "AV1"
	case CodecMPEG2:
		return "MPEG-2"
	case CodecMPEG4:
		return "MPEG-4"
	default:
		return "Unknown"
	}
}

// CheckStream rejects streams the hardware path cannot decode.
func CheckStream(info StreamInfo) error {
	if c := DetectCodec(info.Codec); c != CodecH264 {
		return fmt.Errorf("%w: %s (%q)", ErrUnsupportedCodec, c, info.Codec)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return fmt.Errorf("invalid stream size %dx%d", info.Width, info.Height)
	}
	return nil
}

// ClassifyPrime determines the layout of a DRM PRIME picture. A single layer
// carries the multi-plane format directly; split layers (R8 + GR88, or three
// R8) are classified by plane count. Anything else is Opaque.
func ClassifyPrime(format frame.Fourcc, layers, planes int) frame.Layout {
	var l frame.Layout
	if layers == 1 {
		l = frame.LayoutForFormat(format)
	} else {
		switch planes {
		case 2:
			l = frame.SemiPlanar
		case 3:
			l = frame.SeparatePlanar
		}
	}
	if l.PlaneCount() != planes {
		return frame.Opaque
	}
	return l
}
