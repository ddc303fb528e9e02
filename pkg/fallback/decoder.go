package fallback

/*
#cgo pkg-config: libavformat libavcodec libavutil libswscale

#include <stdlib.h>
#include <libavformat/avformat.h>
#include <libavcodec/avcodec.h>
#include <libavutil/imgutils.h>
#include <libavutil/log.h>
#include <libswscale/swscale.h>

typedef struct {
    AVFormatContext   *formatCtx;
    AVCodecContext    *codecCtx;
    AVFrame           *frame;
    AVFrame           *frameRGBA;
    AVPacket          *packet;
    struct SwsContext *swsCtx;
    uint8_t           *bufferRGBA;
    int               videoStream;
    int               draining;
} SoftDecoder;

static int sd_open_input(SoftDecoder *d, const char *path) {
    av_log_set_level(AV_LOG_ERROR);
    d->videoStream = -1;
    if (avformat_open_input(&d->formatCtx, path, NULL, NULL) != 0) {
        return -1;
    }
    if (avformat_find_stream_info(d->formatCtx, NULL) < 0) {
        return -2;
    }
    d->videoStream = av_find_best_stream(d->formatCtx, AVMEDIA_TYPE_VIDEO, -1, -1, NULL, 0);
    if (d->videoStream < 0) {
        return -3;
    }
    return 0;
}

static int sd_stream_codec(SoftDecoder *d) {
    return d->formatCtx->streams[d->videoStream]->codecpar->codec_id;
}

// name NULL picks libavcodec's default decoder for the stream.
static int sd_open_codec(SoftDecoder *d, const char *name) {
    AVCodecParameters *par = d->formatCtx->streams[d->videoStream]->codecpar;
    const AVCodec *codec = name ? avcodec_find_decoder_by_name(name) : avcodec_find_decoder(par->codec_id);
    if (!codec) {
        return -1;
    }
    if (codec->id != par->codec_id) {
        return -2;
    }
    AVCodecContext *ctx = avcodec_alloc_context3(codec);
    if (!ctx) {
        return -3;
    }
    avcodec_parameters_to_context(ctx, par);
    ctx->thread_type = FF_THREAD_FRAME;
    ctx->thread_count = 0;
    if (avcodec_open2(ctx, codec, NULL) < 0) {
        avcodec_free_context(&ctx);
        return -4;
    }
    d->codecCtx = ctx;
    return 0;
}

static const char *sd_codec_name(SoftDecoder *d) {
    return d->codecCtx && d->codecCtx->codec ? d->codecCtx->codec->name : "none";
}

static int sd_setup_output(SoftDecoder *d) {
    int width = d->codecCtx->width;
    int height = d->codecCtx->height;
    d->frame = av_frame_alloc();
    d->frameRGBA = av_frame_alloc();
    d->packet = av_packet_alloc();
    if (!d->frame || !d->frameRGBA || !d->packet) {
        return -1;
    }
    int size = av_image_get_buffer_size(AV_PIX_FMT_RGBA, width, height, 1);
    d->bufferRGBA = av_malloc(size);
    if (!d->bufferRGBA) {
        return -1;
    }
    av_image_fill_arrays(d->frameRGBA->data, d->frameRGBA->linesize, d->bufferRGBA,
                         AV_PIX_FMT_RGBA, width, height, 1);
    d->swsCtx = sws_getContext(width, height, d->codecCtx->pix_fmt,
                               width, height, AV_PIX_FMT_RGBA,
                               SWS_BILINEAR, NULL, NULL, NULL);
    return d->swsCtx ? 0 : -2;
}

// Returns 1 with a converted frame, 0 at end of stream, negative on error.
static int sd_decode_frame(SoftDecoder *d, uint8_t **rgba, int *linesize) {
    for (;;) {
        int ret = avcodec_receive_frame(d->codecCtx, d->frame);
        if (ret == 0) {
            sws_scale(d->swsCtx, (const uint8_t * const *)d->frame->data, d->frame->linesize,
                      0, d->codecCtx->height, d->frameRGBA->data, d->frameRGBA->linesize);
            *rgba = d->frameRGBA->data[0];
            *linesize = d->frameRGBA->linesize[0];
            return 1;
        }
        if (ret == AVERROR_EOF) {
            return 0;
        }
        if (ret != AVERROR(EAGAIN)) {
            return -2;
        }
        if (d->draining) {
            return 0;
        }

        for (;;) {
            ret = av_read_frame(d->formatCtx, d->packet);
            if (ret < 0) {
                d->draining = 1;
                avcodec_send_packet(d->codecCtx, NULL);
                break;
            }
            if (d->packet->stream_index != d->videoStream) {
                av_packet_unref(d->packet);
                continue;
            }
            ret = avcodec_send_packet(d->codecCtx, d->packet);
            av_packet_unref(d->packet);
            if (ret < 0 && ret != AVERROR(EAGAIN) && ret != AVERROR_INVALIDDATA) {
                return -1;
            }
            break;
        }
    }
}

static int sd_rewind(SoftDecoder *d) {
    if (av_seek_frame(d->formatCtx, d->videoStream, 0, AVSEEK_FLAG_BACKWARD) < 0) {
        return -1;
    }
    avcodec_flush_buffers(d->codecCtx);
    d->draining = 0;
    return 0;
}

static double sd_fps(SoftDecoder *d) {
    AVStream *st = d->formatCtx->streams[d->videoStream];
    AVRational r = av_guess_frame_rate(d->formatCtx, st, NULL);
    return r.den == 0 ? 0 : av_q2d(r);
}

static void sd_close(SoftDecoder *d) {
    av_free(d->bufferRGBA);
    d->bufferRGBA = NULL;
    sws_freeContext(d->swsCtx);
    d->swsCtx = NULL;
    av_packet_free(&d->packet);
    av_frame_free(&d->frameRGBA);
    av_frame_free(&d->frame);
    avcodec_free_context(&d->codecCtx);
    if (d->formatCtx) {
        avformat_close_input(&d->formatCtx);
    }
}
*/
import "C"

import (
	"errors"
	"fmt"
	"io"
	"unsafe"

	"github.com/sirupsen/logrus"
)

// ErrNoDecoder is returned when no candidate decoder opens the stream.
var ErrNoDecoder = errors.New("no working decoder for stream")

const defaultFPS = 30

// h264Candidates are tried in order before libavcodec's default decoder.
var h264Candidates = []string{
	"h264_v4l2m2m",
	"h264_rkmpp",
	"h264_vaapi",
	"h264_nvdec",
	"h264_cuvid",
	"h264",
}

// decoderCandidates lists decoder names to try. The preferred decoder comes
// first; without hardware decoding only the software decoder is tried.
func decoderCandidates(preferred string, hardware bool) []string {
	if !hardware {
		return []string{"h264"}
	}
	out := make([]string, 0, len(h264Candidates)+1)
	if preferred != "" {
		out = append(out, preferred)
	}
	for _, name := range h264Candidates {
		if name != preferred {
			out = append(out, name)
		}
	}
	return out
}

// videoDecoder converts every frame to packed RGBA.
type videoDecoder struct {
	cdec   C.SoftDecoder
	width  int
	height int
	fps    float64
	name   string
}

func openVideoDecoder(path string, opts Options) (*videoDecoder, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	d := &videoDecoder{}
	if ret := C.sd_open_input(&d.cdec, cPath); ret != 0 {
		C.sd_close(&d.cdec)
		return nil, fmt.Errorf("open %s (code=%d)", path, int(ret))
	}

	opened := false
	for _, name := range decoderCandidates(opts.Decoder, opts.HardwareDecode) {
		cName := C.CString(name)
		ret := C.sd_open_codec(&d.cdec, cName)
		C.free(unsafe.Pointer(cName))
		if ret == 0 {
			opened = true
			break
		}
		logrus.WithFields(logrus.Fields{
			"function": "openVideoDecoder",
			"decoder":  name,
			"code":     int(ret),
		}).Debug("Decoder unavailable")
	}
	if !opened && C.sd_open_codec(&d.cdec, nil) != 0 {
		codec := int(C.sd_stream_codec(&d.cdec))
		C.sd_close(&d.cdec)
		return nil, fmt.Errorf("%w (codec id %d)", ErrNoDecoder, codec)
	}
	if ret := C.sd_setup_output(&d.cdec); ret != 0 {
		C.sd_close(&d.cdec)
		return nil, fmt.Errorf("set up RGBA conversion (code=%d)", int(ret))
	}

	d.width = int(d.cdec.codecCtx.width)
	d.height = int(d.cdec.codecCtx.height)
	d.name = C.GoString(C.sd_codec_name(&d.cdec))
	d.fps = float64(C.sd_fps(&d.cdec))
	if d.fps <= 0 {
		d.fps = defaultFPS
	}

	logrus.WithFields(logrus.Fields{
		"function": "openVideoDecoder",
		"decoder":  d.name,
		"width":    d.width,
		"height":   d.height,
		"fps":      d.fps,
	}).Info("Fallback decoder ready")

	return d, nil
}

// nextFrame returns the next frame as RGBA rows. The slice aliases decoder
// memory and is valid until the next call.
func (d *videoDecoder) nextFrame() ([]byte, int, error) {
	var data *C.uint8_t
	var linesize C.int
	ret := C.sd_decode_frame(&d.cdec, &data, &linesize)
	switch {
	case ret == 0:
		return nil, 0, io.EOF
	case ret < 0:
		return nil, 0, fmt.Errorf("decode error (code=%d)", int(ret))
	}
	pitch := int(linesize)
	return unsafe.Slice((*byte)(unsafe.Pointer(data)), pitch*d.height), pitch, nil
}

func (d *videoDecoder) rewind() error {
	if C.sd_rewind(&d.cdec) != 0 {
		return errors.New("seek to start failed")
	}
	return nil
}

func (d *videoDecoder) close() {
	C.sd_close(&d.cdec)
}
