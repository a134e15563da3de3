// Package clipboard wraps the system clipboard for the paste fallback.
package clipboard

import (
	"fmt"
	"sync"
	"time"

	"github.com/atotto/clipboard"
)

// Delays around the paste keystroke so the target application sees the new
// contents before the previous contents are restored.
const (
	writeSettle   = 80 * time.Millisecond
	restoreSettle = 120 * time.Millisecond
)

var clipboardLock sync.Mutex

// PasteText puts text on the clipboard, calls paste (which should send the
// paste shortcut) and restores the previous contents.
func PasteText(text string, paste func() error) error {
	clipboardLock.Lock()
	defer clipboardLock.Unlock()

	orig, _ := clipboard.ReadAll()
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	time.Sleep(writeSettle)

	err := paste()

	time.Sleep(restoreSettle)
	_ = clipboard.WriteAll(orig)

	if err != nil {
		return fmt.Errorf("send paste keys: %w", err)
	}
	return nil
}

// Unsupported reports whether no clipboard utility is available
// (e.g. xclip/xsel/wl-copy missing on Linux).
func Unsupported() bool {
	return clipboard.Unsupported
}
