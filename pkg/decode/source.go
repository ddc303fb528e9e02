package decode

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"kmsplay/pkg/frame"
)

var poolIDs atomic.Uint64

type slot struct {
	generation uint64
	held       bool
	free       func()
}

// Stats counts pool traffic since the source was created.
type Stats struct {
	Submitted    uint64
	Acquired     uint64
	Released     uint64
	WouldBlock   uint64
	Backpressure uint64
	Exhausted    uint64
	Dropped      uint64
	Invalid      uint64
}

// Source owns the pool of decoded pictures. Pictures leave the pool as
// descriptors through Acquire and come back through Release, one for one.
type Source struct {
	mu     sync.Mutex
	id     uint64
	codec  Codec
	slots  []slot
	held   int
	closed bool
	stats  Stats
}

// NewSource wraps codec with a pool of capacity outstanding pictures.
func NewSource(codec Codec, capacity int) *Source {
	if capacity < 1 {
		capacity = 1
	}
	return &Source{
		id:    poolIDs.Add(1),
		codec: codec,
		slots: make([]slot, capacity),
	}
}

// Submit queues one compressed unit. ErrBackpressure means the caller must
// Acquire (and later Release) a picture before submitting the same unit again.
func (s *Source) Submit(u Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := s.codec.Send(u); err != nil {
		if errors.Is(err, ErrBackpressure) {
			s.stats.Backpressure++
			return ErrBackpressure
		}
		if errors.Is(err, ErrCorrupt) {
			s.stats.Dropped++
			return ErrCorrupt
		}
		return fmt.Errorf("submit unit: %w", err)
	}
	s.stats.Submitted++
	return nil
}

// EndOfInput tells the decoder no more units follow. Remaining pictures can
// still be acquired until ErrEndOfStream.
func (s *Source) EndOfInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := s.codec.SendEOF(); err != nil {
		return fmt.Errorf("signal end of input: %w", err)
	}
	return nil
}

// Acquire hands out the next decoded picture. It returns ErrWouldBlock when
// the decoder has nothing ready, ErrPoolExhausted when every slot is held and
// ErrEndOfStream once the decoder is drained.
func (s *Source) Acquire() (*frame.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.held == len(s.slots) {
		s.stats.Exhausted++
		return nil, ErrPoolExhausted
	}

	pic, err := s.codec.Receive()
	switch {
	case errors.Is(err, ErrWouldBlock):
		s.stats.WouldBlock++
		return nil, ErrWouldBlock
	case errors.Is(err, ErrEndOfStream):
		return nil, ErrEndOfStream
	case err != nil:
		return nil, fmt.Errorf("receive picture: %w", err)
	}

	idx := s.freeSlotLocked()
	sl := &s.slots[idx]
	sl.generation++
	sl.held = true
	sl.free = pic.Free
	s.held++
	s.stats.Acquired++

	d := &frame.Descriptor{
		Width:  pic.Width,
		Height: pic.Height,
		Layout: pic.Layout,
		Planes: pic.Planes,
		PTS:    pic.PTS,
		Slot:   frame.Slot{Pool: s.id, Index: idx, Generation: sl.generation},
	}
	// A malformed picture is still held and released, but is drawn as the
	// placeholder so its planes never reach the importer.
	if err := d.Validate(); err != nil {
		s.stats.Invalid++
		logrus.WithFields(logrus.Fields{
			"function": "Source.Acquire",
			"pts":      d.PTS,
			"error":    err.Error(),
		}).Warn("Decoder produced an unusable picture")
		d.Layout = frame.Opaque
		d.Planes = nil
	}
	return d, nil
}

// Release returns a descriptor's memory to the decoder. Releasing a
// descriptor that is not currently held is an invariant violation and
// reports ErrNotHeld.
func (s *Source) Release(d *frame.Descriptor) error {
	if d == nil {
		return fmt.Errorf("%w: nil descriptor", ErrNotHeld)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	ref := d.Slot
	if ref.Pool != s.id || ref.Index < 0 || ref.Index >= len(s.slots) {
		return fmt.Errorf("%w: foreign descriptor (pool %d)", ErrNotHeld, ref.Pool)
	}
	sl := &s.slots[ref.Index]
	if !sl.held || sl.generation != ref.Generation {
		return fmt.Errorf("%w: slot %d generation %d", ErrNotHeld, ref.Index, ref.Generation)
	}

	if sl.free != nil {
		sl.free()
	}
	sl.free = nil
	sl.held = false
	s.held--
	s.stats.Released++
	d.Planes = nil
	return nil
}

// Flush discards in-flight decoder state. Held descriptors stay valid until
// released.
func (s *Source) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := s.codec.Flush(); err != nil {
		return fmt.Errorf("flush decoder: %w", err)
	}
	return nil
}

// Close frees any descriptors still held and closes the decoder.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.held > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Source.Close",
			"held":     s.held,
		}).Warn("Closing decode source with descriptors still held")
	}
	for i := range s.slots {
		if s.slots[i].held && s.slots[i].free != nil {
			s.slots[i].free()
		}
		s.slots[i] = slot{generation: s.slots[i].generation}
	}
	s.held = 0
	return s.codec.Close()
}

// Capacity is the number of pictures that may be held at once.
func (s *Source) Capacity() int {
	return len(s.slots)
}

// Available is the number of pictures that can still be acquired before the
// pool is exhausted.
func (s *Source) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots) - s.held
}

// Held is the number of descriptors currently out.
func (s *Source) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

func (s *Source) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Source) freeSlotLocked() int {
	for i := range s.slots {
		if !s.slots[i].held {
			return i
		}
	}
	// Unreachable while held < len(slots).
	panic("decode: no free slot with spare capacity")
}
