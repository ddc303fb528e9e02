package decode

import "errors"

// Transient conditions. Callers retry these locally.
var (
	// ErrWouldBlock indicates the decoder accepted input but has no output yet.
	ErrWouldBlock = errors.New("decoder has no output ready")

	// ErrBackpressure indicates the decoder input queue is full. Drain one
	// picture with Acquire before submitting again.
	ErrBackpressure = errors.New("decoder input queue full")

	// ErrPoolExhausted indicates every pool slot is held by the caller.
	ErrPoolExhausted = errors.New("decode buffer pool exhausted")

	// ErrCorrupt indicates the decoder rejected a unit as invalid data. The
	// unit is dropped and decoding continues.
	ErrCorrupt = errors.New("corrupt unit dropped")
)

// Terminal conditions.
var (
	// ErrEndOfStream indicates the decoder has been drained after end of input.
	ErrEndOfStream = errors.New("end of stream")

	// ErrPoolLeak indicates the pool stayed exhausted for too many iterations.
	ErrPoolLeak = errors.New("decode buffer pool exhausted persistently")

	// ErrClosed indicates the source has been closed.
	ErrClosed = errors.New("decode source closed")

	// ErrUnsupportedCodec indicates the stream is not H.264.
	ErrUnsupportedCodec = errors.New("unsupported codec")
)

// Invariant violations.
var (
	// ErrNotHeld indicates a release of a descriptor that is not currently
	// held: a double release, or a descriptor from another pool.
	ErrNotHeld = errors.New("descriptor not held by this pool")
)
