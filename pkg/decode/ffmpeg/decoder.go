// Package ffmpeg is the libavformat/libavcodec backend of the decode source.
// The decoder asks for DRM PRIME output so that every picture arrives as a
// set of dmabuf planes the GPU can import without copying.
package ffmpeg

/*
#cgo pkg-config: libavformat libavcodec libavutil

#include <stdint.h>
#include <stdlib.h>
#include <string.h>
#include <libavcodec/avcodec.h>
#include <libavutil/error.h>
#include <libavutil/hwcontext.h>
#include <libavutil/hwcontext_drm.h>
#include <libavutil/pixdesc.h>

typedef struct {
    AVCodecContext *codecCtx;
    AVBufferRef    *hwDevice;
    AVPacket       *packet;
} HWDecoder;

typedef struct {
    AVFrame  *frame;
    int      width;
    int      height;
    int64_t  pts;
    int      drmPrime;
    int      layers;
    uint32_t format;
    int      nplanes;
    int      fd[4];
    uint32_t offset[4];
    uint32_t pitch[4];
} HWPicture;

static enum AVPixelFormat hw_get_format(AVCodecContext *ctx, const enum AVPixelFormat *fmts) {
    for (const enum AVPixelFormat *p = fmts; *p != AV_PIX_FMT_NONE; p++) {
        if (*p == AV_PIX_FMT_DRM_PRIME) {
            return *p;
        }
    }
    return fmts[0];
}

static int hw_try_open(HWDecoder *d, const AVCodec *codec, const char *device,
                       const uint8_t *extradata, int extradataSize, int width, int height) {
    d->codecCtx = avcodec_alloc_context3(codec);
    if (!d->codecCtx) {
        return AVERROR(ENOMEM);
    }
    d->codecCtx->width = width;
    d->codecCtx->height = height;
    d->codecCtx->pkt_timebase = AV_TIME_BASE_Q;
    d->codecCtx->get_format = hw_get_format;
    if (extradataSize > 0) {
        d->codecCtx->extradata = av_mallocz(extradataSize + AV_INPUT_BUFFER_PADDING_SIZE);
        if (!d->codecCtx->extradata) {
            avcodec_free_context(&d->codecCtx);
            return AVERROR(ENOMEM);
        }
        memcpy(d->codecCtx->extradata, extradata, extradataSize);
        d->codecCtx->extradata_size = extradataSize;
    }
    if (device && device[0] && !d->hwDevice) {
        if (av_hwdevice_ctx_create(&d->hwDevice, AV_HWDEVICE_TYPE_DRM, device, NULL, 0) < 0) {
            d->hwDevice = NULL;
        }
    }
    if (d->hwDevice) {
        d->codecCtx->hw_device_ctx = av_buffer_ref(d->hwDevice);
    }
    int ret = avcodec_open2(d->codecCtx, codec, NULL);
    if (ret < 0) {
        avcodec_free_context(&d->codecCtx);
    }
    return ret;
}

// Opens the named decoder, falling back through the H.264 hardware decoders
// and finally the default decoder. Returns 0 on success.
int hw_open(HWDecoder *d, const char *name, const char *device,
            const uint8_t *extradata, int extradataSize, int width, int height) {
    av_log_set_level(AV_LOG_ERROR);

    const char *candidates[] = { name, "h264_v4l2m2m", "h264_v4l2request", "h264_rkmpp", NULL };
    int ret = AVERROR_DECODER_NOT_FOUND;
    for (int i = 0; candidates[i]; i++) {
        if (!candidates[i][0]) {
            continue;
        }
        const AVCodec *codec = avcodec_find_decoder_by_name(candidates[i]);
        if (!codec || codec->id != AV_CODEC_ID_H264) {
            continue;
        }
        ret = hw_try_open(d, codec, device, extradata, extradataSize, width, height);
        if (ret == 0) {
            break;
        }
    }
    if (!d->codecCtx) {
        const AVCodec *codec = avcodec_find_decoder(AV_CODEC_ID_H264);
        if (!codec) {
            return AVERROR_DECODER_NOT_FOUND;
        }
        ret = hw_try_open(d, codec, device, extradata, extradataSize, width, height);
        if (ret < 0) {
            return ret;
        }
    }

    d->packet = av_packet_alloc();
    if (!d->packet) {
        return AVERROR(ENOMEM);
    }
    return 0;
}

const char *hw_codec_name(HWDecoder *d) {
    return d->codecCtx->codec->name;
}

// Returns 0 when queued, 1 when the input queue is full, 2 when the packet
// was rejected as invalid data, negative on error.
int hw_send(HWDecoder *d, const uint8_t *data, int size, int64_t pts, int key) {
    av_packet_unref(d->packet);
    if (av_new_packet(d->packet, size) < 0) {
        return AVERROR(ENOMEM);
    }
    memcpy(d->packet->data, data, size);
    d->packet->pts = pts == INT64_MIN ? AV_NOPTS_VALUE : pts;
    if (key) {
        d->packet->flags |= AV_PKT_FLAG_KEY;
    }
    int ret = avcodec_send_packet(d->codecCtx, d->packet);
    if (ret == AVERROR(EAGAIN)) {
        return 1;
    }
    if (ret == AVERROR_INVALIDDATA) {
        return 2;
    }
    return ret < 0 ? ret : 0;
}

int hw_send_eof(HWDecoder *d) {
    int ret = avcodec_send_packet(d->codecCtx, NULL);
    if (ret == AVERROR_EOF) {
        return 0;
    }
    return ret;
}

// Returns 0 with a picture, 1 when no output is ready, 2 at end of stream,
// negative on error.
int hw_receive(HWDecoder *d, HWPicture *p) {
    AVFrame *f = av_frame_alloc();
    if (!f) {
        return AVERROR(ENOMEM);
    }
    int ret = avcodec_receive_frame(d->codecCtx, f);
    if (ret < 0) {
        av_frame_free(&f);
        if (ret == AVERROR(EAGAIN)) {
            return 1;
        }
        if (ret == AVERROR_EOF) {
            return 2;
        }
        return ret;
    }

    memset(p, 0, sizeof(*p));
    p->frame = f;
    p->width = f->width;
    p->height = f->height;
    p->pts = f->best_effort_timestamp;
    if (p->pts == AV_NOPTS_VALUE) {
        p->pts = f->pts;
    }
    if (p->pts == AV_NOPTS_VALUE) {
        p->pts = INT64_MIN;
    }

    if (f->format != AV_PIX_FMT_DRM_PRIME || !f->data[0]) {
        return 0;
    }
    const AVDRMFrameDescriptor *desc = (const AVDRMFrameDescriptor *)f->data[0];
    p->drmPrime = 1;
    p->layers = desc->nb_layers;
    if (desc->nb_layers > 0) {
        p->format = desc->layers[0].format;
    }
    int n = 0;
    for (int l = 0; l < desc->nb_layers; l++) {
        const AVDRMLayerDescriptor *layer = &desc->layers[l];
        for (int i = 0; i < layer->nb_planes && n < 4; i++, n++) {
            const AVDRMPlaneDescriptor *pl = &layer->planes[i];
            p->fd[n] = desc->objects[pl->object_index].fd;
            p->offset[n] = (uint32_t)pl->offset;
            p->pitch[n] = (uint32_t)pl->pitch;
        }
    }
    p->nplanes = n;
    return 0;
}

void hw_free_frame(AVFrame *f) {
    av_frame_free(&f);
}

void hw_flush(HWDecoder *d) {
    avcodec_flush_buffers(d->codecCtx);
}

void hw_close(HWDecoder *d) {
    if (!d) return;
    av_packet_free(&d->packet);
    avcodec_free_context(&d->codecCtx);
    av_buffer_unref(&d->hwDevice);
}

void hw_strerror(int code, char *buf, size_t size) {
    av_strerror(code, buf, size);
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/sirupsen/logrus"

	"kmsplay/pkg/decode"
	"kmsplay/pkg/frame"
)

// Options selects the decoder implementation.
type Options struct {
	// Decoder is the preferred FFmpeg decoder name, e.g. h264_v4l2m2m.
	Decoder string
	// Device is the DRM node used as the hardware device for PRIME export.
	Device string
}

// Decoder is a decode.Codec backed by libavcodec.
type Decoder struct {
	cdec C.HWDecoder
	name string

	closeOnce sync.Once
}

// OpenDecoder configures a decoder for info. The codec configuration bytes
// are handed to libavcodec untouched.
func OpenDecoder(info decode.StreamInfo, opts Options) (*Decoder, error) {
	if err := decode.CheckStream(info); err != nil {
		return nil, err
	}

	cName := C.CString(opts.Decoder)
	defer C.free(unsafe.Pointer(cName))
	cDevice := C.CString(opts.Device)
	defer C.free(unsafe.Pointer(cDevice))

	var extradata *C.uint8_t
	if len(info.Extradata) > 0 {
		extradata = (*C.uint8_t)(C.CBytes(info.Extradata))
		defer C.free(unsafe.Pointer(extradata))
	}

	d := &Decoder{}
	ret := C.hw_open(&d.cdec, cName, cDevice, extradata, C.int(len(info.Extradata)),
		C.int(info.Width), C.int(info.Height))
	if ret != 0 {
		C.hw_close(&d.cdec)
		return nil, fmt.Errorf("open decoder: %w", averror(ret))
	}
	d.name = C.GoString(C.hw_codec_name(&d.cdec))

	logrus.WithFields(logrus.Fields{
		"function":  "OpenDecoder",
		"decoder":   d.name,
		"requested": opts.Decoder,
		"hwdevice":  d.cdec.hwDevice != nil,
	}).Info("Decoder ready")

	return d, nil
}

// Name is the libavcodec decoder actually in use.
func (d *Decoder) Name() string {
	return d.name
}

func (d *Decoder) Send(u decode.Unit) error {
	if len(u.Data) == 0 {
		return nil
	}
	key := 0
	if u.Key {
		key = 1
	}
	ret := C.hw_send(&d.cdec, (*C.uint8_t)(unsafe.Pointer(&u.Data[0])), C.int(len(u.Data)),
		C.int64_t(u.PTS), C.int(key))
	switch {
	case ret == 1:
		return decode.ErrBackpressure
	case ret == 2:
		return decode.ErrCorrupt
	case ret < 0:
		return averror(ret)
	}
	return nil
}

func (d *Decoder) SendEOF() error {
	if ret := C.hw_send_eof(&d.cdec); ret < 0 {
		return averror(ret)
	}
	return nil
}

func (d *Decoder) Receive() (decode.Picture, error) {
	var p C.HWPicture
	ret := C.hw_receive(&d.cdec, &p)
	switch {
	case ret == 1:
		return decode.Picture{}, decode.ErrWouldBlock
	case ret == 2:
		return decode.Picture{}, decode.ErrEndOfStream
	case ret < 0:
		return decode.Picture{}, averror(ret)
	}

	f := p.frame
	pic := decode.Picture{
		Width:  int(p.width),
		Height: int(p.height),
		Layout: frame.Opaque,
		PTS:    int64(p.pts),
		Free:   func() { C.hw_free_frame(f) },
	}
	if p.drmPrime == 0 {
		return pic, nil
	}

	n := int(p.nplanes)
	if n > frame.MaxPlanes {
		n = frame.MaxPlanes
	}
	pic.Layout = decode.ClassifyPrime(frame.Fourcc(p.format), int(p.layers), n)
	if pic.Layout == frame.Opaque {
		return pic, nil
	}
	pic.Planes = make([]frame.Plane, n)
	for i := 0; i < n; i++ {
		pic.Planes[i] = frame.Plane{
			FD:     int(p.fd[i]),
			Offset: uint32(p.offset[i]),
			Pitch:  uint32(p.pitch[i]),
		}
	}
	return pic, nil
}

func (d *Decoder) Flush() error {
	C.hw_flush(&d.cdec)
	return nil
}

func (d *Decoder) Close() error {
	d.closeOnce.Do(func() {
		C.hw_close(&d.cdec)
	})
	return nil
}

func averror(code C.int) error {
	buf := make([]byte, 128)
	C.hw_strerror(code, (*C.char)(unsafe.Pointer(&buf[0])), C.size_t(len(buf)))
	msg := C.GoString((*C.char)(unsafe.Pointer(&buf[0])))
	return fmt.Errorf("libav error %d: %s", int(code), msg)
}
