// Package hotkey exposes the global shortcut that toggles recording.
package hotkey

// Hotkey delivers one event per press of the registered shortcut.
type Hotkey interface {
	Register() error
	Unregister()
	Triggers() <-chan struct{}
}
