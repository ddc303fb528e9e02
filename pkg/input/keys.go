// Package input turns keyboard bytes from a terminal, or SDL key state, into
// key events.
package input

// Key is the kind of key pressed.
type Key int

const (
	KeyNone Key = iota
	KeyRune
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyEscape
)

func (k Key) String() string {
	switch k {
	case KeyRune:
		return "rune"
	case KeyUp:
		return "up"
	case KeyDown:
		return "down"
	case KeyLeft:
		return "left"
	case KeyRight:
		return "right"
	case KeyEscape:
		return "escape"
	default:
		return "none"
	}
}

// Event is one key press. Rune is set for KeyRune only.
type Event struct {
	Key  Key
	Rune rune
}

const esc = 0x1b

// Parse decodes the bytes of one terminal read. An escape sequence cut off at
// the end of buf is returned in rest so the next read can complete it; a lone
// ESC is the escape key.
func Parse(buf []byte) (events []Event, rest []byte) {
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		if b != esc {
			if b >= 0x20 && b < 0x7f {
				events = append(events, Event{Key: KeyRune, Rune: rune(b)})
			}
			continue
		}

		if i+1 == len(buf) {
			events = append(events, Event{Key: KeyEscape})
			continue
		}
		if buf[i+1] != '[' && buf[i+1] != 'O' {
			events = append(events, Event{Key: KeyEscape})
			continue
		}
		if i+2 == len(buf) {
			return events, buf[i:]
		}

		switch buf[i+2] {
		case 'A':
			events = append(events, Event{Key: KeyUp})
		case 'B':
			events = append(events, Event{Key: KeyDown})
		case 'C':
			events = append(events, Event{Key: KeyRight})
		case 'D':
			events = append(events, Event{Key: KeyLeft})
		}
		i += 2
	}
	return events, nil
}
