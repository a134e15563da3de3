package inject

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Stroke is one key press on a US layout, identified by the character the
// key produces without modifiers.
type Stroke struct {
	Key   rune // 'a'-'z', '0'-'9', one of usBase punctuation, ' ' or '\t'
	Shift bool
	Delay time.Duration // Pause after the stroke
}

// usShifted maps shifted characters to their base key.
var usShifted = map[rune]rune{
	'~': '`', '!': '1', '@': '2', '#': '3', '$': '4', '%': '5',
	'^': '6', '&': '7', '*': '8', '(': '9', ')': '0', '_': '-',
	'+': '=', '{': '[', '}': ']', '|': '\\', ':': ';', '"': '\'',
	'<': ',', '>': '.', '?': '/',
}

// usBase lists the unshifted punctuation keys.
const usBase = "`-=[]\\;',./"

// Plan converts text into strokes. ok is false when a character has no key
// on the layout, in which case the whole text goes to the fallback so order
// is preserved.
func Plan(text string) (strokes []Stroke, ok bool) {
	strokes = make([]Stroke, 0, len(text))
	for _, r := range text {
		s, mapped := strokeFor(r)
		if !mapped {
			return nil, false
		}
		strokes = append(strokes, s)
	}
	return strokes, true
}

func strokeFor(r rune) (Stroke, bool) {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r == '\t':
		return Stroke{Key: r}, true
	case r >= 'A' && r <= 'Z':
		return Stroke{Key: unicode.ToLower(r), Shift: true}, true
	case strings.ContainsRune(usBase, r):
		return Stroke{Key: r}, true
	}
	if base, ok := usShifted[r]; ok {
		return Stroke{Key: base, Shift: true}, true
	}
	return Stroke{}, false
}

// Chord is a modifier combination plus one key, e.g. ctrl+shift+v.
type Chord struct {
	Ctrl, Shift, Alt bool
	Key              rune
}

// ParseChord parses "ctrl+shift+v" style key combinations.
func ParseChord(s string) (Chord, error) {
	var c Chord
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	for n, part := range parts {
		part = strings.TrimSpace(part)
		if n == len(parts)-1 {
			runes := []rune(part)
			if len(runes) != 1 {
				return c, fmt.Errorf("inject: chord %q must end in a single key", s)
			}
			st, ok := strokeFor(runes[0])
			if !ok || st.Shift {
				return c, fmt.Errorf("inject: chord %q: unsupported key %q", s, part)
			}
			c.Key = st.Key
			continue
		}
		switch part {
		case "ctrl", "control":
			c.Ctrl = true
		case "shift":
			c.Shift = true
		case "alt", "option":
			c.Alt = true
		default:
			return c, fmt.Errorf("inject: chord %q: unknown modifier %q", s, part)
		}
	}
	return c, nil
}
