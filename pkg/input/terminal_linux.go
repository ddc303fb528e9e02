package input

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// ErrNotTerminal is returned when keyboard control is requested on a file
// that is not a terminal.
var ErrNotTerminal = errors.New("not a terminal")

// Terminal reads key presses from a terminal without blocking. Echo and line
// buffering are turned off while it is open; output processing is left alone
// so log lines still render.
type Terminal struct {
	fd          int
	oldState    *term.State
	nonblockSet bool
	buf         []byte
	pending     []byte
}

// OpenTerminal prepares f for key polling.
func OpenTerminal(f *os.File) (*Terminal, error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return nil, ErrNotTerminal
	}

	oldState, err := term.GetState(fd)
	if err != nil {
		return nil, fmt.Errorf("get terminal state: %w", err)
	}
	t := &Terminal{fd: fd, oldState: oldState, buf: make([]byte, 64)}

	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, fmt.Errorf("get termios: %w", err)
	}
	tio.Lflag &^= unix.ICANON | unix.ECHO
	tio.Cc[unix.VMIN] = 0
	tio.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, tio); err != nil {
		return nil, fmt.Errorf("set termios: %w", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		_ = term.Restore(fd, oldState)
		return nil, fmt.Errorf("set nonblocking: %w", err)
	}
	t.nonblockSet = true

	logrus.WithFields(logrus.Fields{
		"function": "OpenTerminal",
		"fd":       fd,
	}).Debug("Keyboard input enabled")
	return t, nil
}

// Poll returns the keys pressed since the last call. It never blocks.
func (t *Terminal) Poll() ([]Event, error) {
	var events []Event
	for {
		n, err := unix.Read(t.fd, t.buf)
		if n > 0 {
			data := append(t.pending, t.buf[:n]...)
			var evs []Event
			evs, t.pending = Parse(data)
			t.pending = append([]byte(nil), t.pending...)
			events = append(events, evs...)
		}
		if err == unix.EAGAIN || err == unix.EINTR {
			break
		}
		if err != nil {
			return events, fmt.Errorf("read terminal: %w", err)
		}
		if n < len(t.buf) {
			break
		}
	}
	return events, nil
}

// Close restores blocking reads and the saved terminal state.
func (t *Terminal) Close() error {
	if t.nonblockSet {
		_ = unix.SetNonblock(t.fd, false)
		t.nonblockSet = false
	}
	if t.oldState == nil {
		return nil
	}
	err := term.Restore(t.fd, t.oldState)
	t.oldState = nil
	return err
}
