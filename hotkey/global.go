package hotkey

import (
	"fmt"
	"sync"

	hk "golang.design/x/hotkey"
)

// globalHotkey registers Ctrl+Shift+Space with the window system.
type globalHotkey struct {
	hk       *hk.Hotkey
	triggers chan struct{}
	stop     chan struct{}
	once     sync.Once
}

func New() Hotkey {
	return &globalHotkey{
		hk:       hk.New([]hk.Modifier{hk.ModCtrl, hk.ModShift}, hk.KeySpace),
		triggers: make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

func (g *globalHotkey) Register() error {
	if err := g.hk.Register(); err != nil {
		return fmt.Errorf("registering Ctrl+Shift+Space: %w", err)
	}
	go g.forward()
	return nil
}

func (g *globalHotkey) forward() {
	for {
		select {
		case <-g.hk.Keydown():
			// Drop the event if the loop has not consumed the last one;
			// a queued-up burst of presses must not toggle repeatedly.
			select {
			case g.triggers <- struct{}{}:
			default:
			}
		case <-g.stop:
			return
		}
	}
}

func (g *globalHotkey) Unregister() {
	g.once.Do(func() {
		close(g.stop)
		g.hk.Unregister()
	})
}

func (g *globalHotkey) Triggers() <-chan struct{} {
	return g.triggers
}
