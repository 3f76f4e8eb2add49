// Package clipboard delivers transcribed text to the system clipboard and
// optionally pastes it into the focused application.
package clipboard

import cb "github.com/atotto/clipboard"

func Copy(text string) error {
	return cb.WriteAll(text)
}

func Read() (string, error) {
	return cb.ReadAll()
}
