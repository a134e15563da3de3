//go:build linux || windows

package inject

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/micmonay/keybd_event"
)

// keyCodes maps layout base keys to keybd_event codes.
var keyCodes = map[rune]int{
	'a': keybd_event.VK_A, 'b': keybd_event.VK_B, 'c': keybd_event.VK_C, 'd': keybd_event.VK_D,
	'e': keybd_event.VK_E, 'f': keybd_event.VK_F, 'g': keybd_event.VK_G, 'h': keybd_event.VK_H,
	'i': keybd_event.VK_I, 'j': keybd_event.VK_J, 'k': keybd_event.VK_K, 'l': keybd_event.VK_L,
	'm': keybd_event.VK_M, 'n': keybd_event.VK_N, 'o': keybd_event.VK_O, 'p': keybd_event.VK_P,
	'q': keybd_event.VK_Q, 'r': keybd_event.VK_R, 's': keybd_event.VK_S, 't': keybd_event.VK_T,
	'u': keybd_event.VK_U, 'v': keybd_event.VK_V, 'w': keybd_event.VK_W, 'x': keybd_event.VK_X,
	'y': keybd_event.VK_Y, 'z': keybd_event.VK_Z,

	'0': keybd_event.VK_0, '1': keybd_event.VK_1, '2': keybd_event.VK_2, '3': keybd_event.VK_3,
	'4': keybd_event.VK_4, '5': keybd_event.VK_5, '6': keybd_event.VK_6, '7': keybd_event.VK_7,
	'8': keybd_event.VK_8, '9': keybd_event.VK_9,

	'`': keybd_event.VK_SP1, '-': keybd_event.VK_SP2, '=': keybd_event.VK_SP3,
	'[': keybd_event.VK_SP4, ']': keybd_event.VK_SP5, ';': keybd_event.VK_SP6,
	'\'': keybd_event.VK_SP7, '\\': keybd_event.VK_SP8, ',': keybd_event.VK_SP9,
	'.': keybd_event.VK_SP10, '/': keybd_event.VK_SP11,

	' ':  keybd_event.VK_SPACE,
	'\t': keybd_event.VK_TAB,
}

// KeybdTyper sends key events through keybd_event (uinput on Linux,
// SendInput on Windows).
type KeybdTyper struct {
	mu sync.Mutex
	kb keybd_event.KeyBonding
}

// NewKeybdTyper creates the virtual keyboard. On Linux the new uinput
// device needs a moment before the system accepts its events.
func NewKeybdTyper() (*KeybdTyper, error) {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, fmt.Errorf("inject: create virtual keyboard: %w", err)
	}
	if runtime.GOOS == "linux" {
		time.Sleep(2 * time.Second)
	}
	return &KeybdTyper{kb: kb}, nil
}

// Type presses each stroke in order.
func (t *KeybdTyper) Type(strokes []Stroke) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for n, s := range strokes {
		code, ok := keyCodes[s.Key]
		if !ok {
			return fmt.Errorf("stroke %d: no key code for %q", n, s.Key)
		}
		t.kb.Clear()
		t.kb.SetKeys(code)
		t.kb.HasSHIFT(s.Shift)
		if err := t.kb.Launching(); err != nil {
			return fmt.Errorf("stroke %d: %w", n, err)
		}
		if s.Delay > 0 {
			time.Sleep(s.Delay)
		}
	}
	t.kb.HasSHIFT(false)
	return nil
}

// Chord presses a modifier combination.
func (t *KeybdTyper) Chord(c Chord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	code, ok := keyCodes[c.Key]
	if !ok {
		return fmt.Errorf("no key code for %q", c.Key)
	}
	t.kb.Clear()
	t.kb.SetKeys(code)
	t.kb.HasCTRL(c.Ctrl)
	t.kb.HasSHIFT(c.Shift)
	t.kb.HasALT(c.Alt)
	defer func() {
		t.kb.HasCTRL(false)
		t.kb.HasSHIFT(false)
		t.kb.HasALT(false)
	}()
	return t.kb.Launching()
}
