package ffmpeg

/*
#cgo pkg-config: libavformat libavcodec libavutil

#include <stdint.h>
#include <stdlib.h>
#include <libavformat/avformat.h>
#include <libavcodec/avcodec.h>
#include <libavutil/log.h>

typedef struct {
    AVFormatContext *formatCtx;
    AVPacket        *packet;
    int             videoStream;
} Demuxer;

int demux_open(const char *filename, Demuxer *d) {
    av_log_set_level(AV_LOG_ERROR);
    d->videoStream = -1;

    if (avformat_open_input(&d->formatCtx, filename, NULL, NULL) != 0) {
        return -1;
    }
    if (avformat_find_stream_info(d->formatCtx, NULL) < 0) {
        return -2;
    }
    int idx = av_find_best_stream(d->formatCtx, AVMEDIA_TYPE_VIDEO, -1, -1, NULL, 0);
    if (idx < 0) {
        return -3;
    }
    d->videoStream = idx;

    d->packet = av_packet_alloc();
    if (!d->packet) {
        return -4;
    }
    return 0;
}

AVCodecParameters *demux_codecpar(Demuxer *d) {
    return d->formatCtx->streams[d->videoStream]->codecpar;
}

const char *demux_codec_name(Demuxer *d) {
    return avcodec_get_name(demux_codecpar(d)->codec_id);
}

double demux_fps(Demuxer *d) {
    AVStream *st = d->formatCtx->streams[d->videoStream];
    AVRational r = av_guess_frame_rate(d->formatCtx, st, NULL);
    if (r.den == 0) {
        return 0;
    }
    return av_q2d(r);
}

// Returns 1 with a video packet in d->packet, 0 at end of file, negative on error.
int demux_read(Demuxer *d) {
    for (;;) {
        av_packet_unref(d->packet);
        int ret = av_read_frame(d->formatCtx, d->packet);
        if (ret == AVERROR_EOF) {
            return 0;
        }
        if (ret < 0) {
            return ret;
        }
        if (d->packet->stream_index == d->videoStream) {
            return 1;
        }
    }
}

int64_t demux_packet_pts_us(Demuxer *d) {
    int64_t pts = d->packet->pts;
    if (pts == AV_NOPTS_VALUE) {
        pts = d->packet->dts;
    }
    if (pts == AV_NOPTS_VALUE) {
        return INT64_MIN;
    }
    return av_rescale_q(pts, d->formatCtx->streams[d->videoStream]->time_base, AV_TIME_BASE_Q);
}

int demux_packet_key(Demuxer *d) {
    return (d->packet->flags & AV_PKT_FLAG_KEY) != 0;
}

void demux_close(Demuxer *d) {
    if (!d) return;
    av_packet_free(&d->packet);
    if (d->formatCtx) {
        avformat_close_input(&d->formatCtx);
    }
}
*/
import "C"

import (
	"fmt"
	"io"
	"sync"
	"unsafe"

	"github.com/sirupsen/logrus"

	"kmsplay/pkg/decode"
)

// Demuxer pulls H.264 access units out of a container file.
type Demuxer struct {
	cdem C.Demuxer
	info decode.StreamInfo

	closeOnce sync.Once
}

// OpenDemuxer opens path and selects its best video stream.
func OpenDemuxer(path string) (*Demuxer, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	d := &Demuxer{}
	if ret := C.demux_open(cPath, &d.cdem); ret != 0 {
		C.demux_close(&d.cdem)
		return nil, fmt.Errorf("open %s: demux_open failed (code=%d)", path, int(ret))
	}

	par := C.demux_codecpar(&d.cdem)
	d.info = decode.StreamInfo{
		Width:     int(par.width),
		Height:    int(par.height),
		FrameRate: float64(C.demux_fps(&d.cdem)),
		Codec:     C.GoString(C.demux_codec_name(&d.cdem)),
	}
	if par.extradata_size > 0 {
		d.info.Extradata = C.GoBytes(unsafe.Pointer(par.extradata), par.extradata_size)
	}
	if d.info.FrameRate <= 0 {
		d.info.FrameRate = 30
	}

	logrus.WithFields(logrus.Fields{
		"function":  "OpenDemuxer",
		"path":      path,
		"codec":     d.info.Codec,
		"width":     d.info.Width,
		"height":    d.info.Height,
		"fps":       d.info.FrameRate,
		"extradata": len(d.info.Extradata),
	}).Info("Opened media")

	return d, nil
}

// Info describes the selected video stream.
func (d *Demuxer) Info() decode.StreamInfo {
	return d.info
}

// Next returns the next video access unit, or io.EOF.
func (d *Demuxer) Next() (decode.Unit, error) {
	ret := C.demux_read(&d.cdem)
	switch {
	case ret == 0:
		return decode.Unit{}, io.EOF
	case ret < 0:
		return decode.Unit{}, fmt.Errorf("read packet: %w", averror(ret))
	}

	pkt := d.cdem.packet
	return decode.Unit{
		Data: C.GoBytes(unsafe.Pointer(pkt.data), pkt.size),
		PTS:  int64(C.demux_packet_pts_us(&d.cdem)),
		Key:  C.demux_packet_key(&d.cdem) != 0,
	}, nil
}

func (d *Demuxer) Close() error {
	d.closeOnce.Do(func() {
		C.demux_close(&d.cdem)
	})
	return nil
}
