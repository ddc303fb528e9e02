package input

import "github.com/veandco/go-sdl2/sdl"

// scancodeEvents maps the SDL keys the players react to onto events, in the
// order simultaneous presses are reported.
var scancodeEvents = []struct {
	code  sdl.Scancode
	event Event
}{
	{sdl.SCANCODE_ESCAPE, Event{Key: KeyEscape}},
	{sdl.SCANCODE_UP, Event{Key: KeyUp}},
	{sdl.SCANCODE_DOWN, Event{Key: KeyDown}},
	{sdl.SCANCODE_LEFT, Event{Key: KeyLeft}},
	{sdl.SCANCODE_RIGHT, Event{Key: KeyRight}},
	{sdl.SCANCODE_Q, Event{Key: KeyRune, Rune: 'q'}},
	{sdl.SCANCODE_SPACE, Event{Key: KeyRune, Rune: ' '}},
}

// KeyPressTracker manages key press state to prevent duplicate key presses
type KeyPressTracker struct {
	pressed map[sdl.Scancode]bool
}

// NewKeyPressTracker creates a new KeyPressTracker
func NewKeyPressTracker() KeyPressTracker {
	return KeyPressTracker{
		pressed: make(map[sdl.Scancode]bool),
	}
}

// IsPressed checks if a key was just pressed (not held)
func (kpt *KeyPressTracker) IsPressed(keyState []uint8, scancode sdl.Scancode) bool {
	isCurrentlyPressed := int(scancode) < len(keyState) && keyState[scancode] != 0
	wasPressed := kpt.pressed[scancode]

	kpt.pressed[scancode] = isCurrentlyPressed

	return isCurrentlyPressed && !wasPressed
}

// Events returns an event for every tracked key that went down since the last
// call, in the same form the terminal reader produces.
func (kpt *KeyPressTracker) Events(keyState []uint8) []Event {
	var events []Event
	for _, sc := range scancodeEvents {
		if kpt.IsPressed(keyState, sc.code) {
			events = append(events, sc.event)
		}
	}
	return events
}
