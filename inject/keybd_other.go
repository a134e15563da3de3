//go:build !linux && !windows

package inject

// KeybdTyper is unavailable on this platform; the fallback types instead.
type KeybdTyper struct{}

// NewKeybdTyper returns ErrUnsupported.
func NewKeybdTyper() (*KeybdTyper, error) {
	return nil, ErrUnsupported
}

func (t *KeybdTyper) Type(strokes []Stroke) error { return ErrUnsupported }
func (t *KeybdTyper) Chord(c Chord) error         { return ErrUnsupported }
