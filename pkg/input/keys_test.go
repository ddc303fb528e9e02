package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/veandco/go-sdl2/sdl"
)

func TestParseRunesAndArrows(t *testing.T) {
	events, rest := Parse([]byte("1\x1b[A\x1b[D\x1bOBf"))
	assert.Nil(t, rest)
	assert.Equal(t, []Event{
		{Key: KeyRune, Rune: '1'},
		{Key: KeyUp},
		{Key: KeyLeft},
		{Key: KeyDown},
		{Key: KeyRune, Rune: 'f'},
	}, events)
}

func TestParseEscape(t *testing.T) {
	events, rest := Parse([]byte{esc})
	assert.Nil(t, rest)
	assert.Equal(t, []Event{{Key: KeyEscape}}, events)

	events, _ = Parse([]byte{esc, 'x'})
	assert.Equal(t, []Event{{Key: KeyEscape}, {Key: KeyRune, Rune: 'x'}}, events)
}

func TestParseSplitSequence(t *testing.T) {
	events, rest := Parse([]byte("s\x1b["))
	assert.Equal(t, []Event{{Key: KeyRune, Rune: 's'}}, events)
	assert.Equal(t, []byte("\x1b["), rest)

	events, rest = Parse(append(rest, 'C'))
	assert.Nil(t, rest)
	assert.Equal(t, []Event{{Key: KeyRight}}, events)
}

func TestParseIgnoresControlBytes(t *testing.T) {
	events, _ := Parse([]byte{'\r', '\n', 0x7f, 0x03, 'q'})
	assert.Equal(t, []Event{{Key: KeyRune, Rune: 'q'}}, events)

	events, _ = Parse([]byte("\x1b[Z"))
	assert.Empty(t, events)
}

func TestKeyPressTrackerEdges(t *testing.T) {
	state := make([]uint8, sdl.NUM_SCANCODES)
	kpt := NewKeyPressTracker()

	state[sdl.SCANCODE_Q] = 1
	assert.Equal(t, []Event{{Key: KeyRune, Rune: 'q'}}, kpt.Events(state))
	assert.Empty(t, kpt.Events(state), "held keys fire once")

	state[sdl.SCANCODE_Q] = 0
	assert.Empty(t, kpt.Events(state))
	state[sdl.SCANCODE_ESCAPE] = 1
	assert.Equal(t, []Event{{Key: KeyEscape}}, kpt.Events(state))

	assert.False(t, kpt.IsPressed(state[:1], sdl.SCANCODE_ESCAPE))
}

func TestKeyPressTrackerReportsSimultaneousKeysInOrder(t *testing.T) {
	state := make([]uint8, sdl.NUM_SCANCODES)
	state[sdl.SCANCODE_SPACE] = 1
	state[sdl.SCANCODE_RIGHT] = 1
	state[sdl.SCANCODE_ESCAPE] = 1
	state[sdl.SCANCODE_UP] = 1

	want := []Event{{Key: KeyEscape}, {Key: KeyUp}, {Key: KeyRight}, {Key: KeyRune, Rune: ' '}}
	for i := 0; i < 20; i++ {
		kpt := NewKeyPressTracker()
		assert.Equal(t, want, kpt.Events(state))
	}
}
