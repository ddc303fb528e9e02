package pipeline

import (
	"errors"
	"fmt"
	"io"

	"kmsplay/pkg/decode"
)

// ErrConfiguration classifies startup failures that a software player may
// still be able to handle: no usable display format, shader build failure,
// missing device, unsupported stream.
var ErrConfiguration = errors.New("hardware pipeline configuration failed")

// ConfigError is a configuration-class failure at a named startup stage.
type ConfigError struct {
	Stage string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is makes every ConfigError match ErrConfiguration.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// Configuration wraps err as a configuration failure of stage. A nil err
// stays nil.
func Configuration(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &ConfigError{Stage: stage, Err: err}
}

// ClosingDemuxer is a Demuxer that owns an open input.
type ClosingDemuxer interface {
	Demuxer
	io.Closer
}

// OpenStream opens path with open and checks the stream can be decoded.
// Both failures are configuration failures, so a container the demuxer
// rejects still reaches the software player.
func OpenStream[D ClosingDemuxer](path string, open func(string) (D, error)) (D, error) {
	d, err := open(path)
	if err != nil {
		var zero D
		return zero, Configuration("demux", err)
	}
	if err := decode.CheckStream(d.Info()); err != nil {
		d.Close()
		var zero D
		return zero, Configuration("stream", err)
	}
	return d, nil
}

// sampler lets the first few occurrences of a recurring condition through
// and then one in every fifty.
type sampler struct {
	count uint64
}

const (
	samplerBurst = 5
	samplerEvery = 50
)

func (s *sampler) allow() bool {
	s.count++
	return s.count <= samplerBurst || s.count%samplerEvery == 0
}
