package clipboard

import (
	"runtime"
	"sync"
	"time"

	"github.com/micmonay/keybd_event"
)

var (
	kb     keybd_event.KeyBonding
	kbOnce sync.Once
	kbErr  error
)

// Init prepares the synthetic keyboard. On Linux the uinput device needs a
// moment before the first keypress is accepted, so warm it up at startup
// rather than on the first paste.
func Init() error {
	kbOnce.Do(func() {
		kb, kbErr = keybd_event.NewKeyBonding()
		if kbErr == nil && runtime.GOOS == "linux" {
			time.Sleep(2 * time.Second)
		}
	})
	return kbErr
}

// Paste sends the platform paste chord to the focused application.
func Paste() error {
	if err := Init(); err != nil {
		return err
	}
	kb.SetKeys(keybd_event.VK_V)
	if runtime.GOOS == "darwin" {
		kb.HasSuper(true)
	} else {
		kb.HasCTRL(true)
	}
	return kb.Launching()
}
