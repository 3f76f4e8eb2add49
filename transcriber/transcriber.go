// Package transcriber turns an encoded WAV recording into text. Dispatch is
// closed over the provider kinds: remote presets and custom endpoints share
// the OpenAI-compatible HTTP path, local models run in-process.
package transcriber

import (
	"errors"
	"fmt"

	"whisperclip/provider"
)

// ErrModelNotLoaded is returned when a Local request arrives without a
// resident model handle.
var ErrModelNotLoaded = errors.New("local model not loaded")

// APIError is a non-2xx response from a remote endpoint.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// Request carries one recording and the provider snapshot it was captured
// under. The snapshot is resolved once; a provider switch after dispatch
// does not affect an in-flight request.
type Request struct {
	Audio    []byte
	Provider provider.Snapshot
}

type Result struct {
	Text      string
	RateLimit string
}

var handlers = map[provider.Kind]func(Request) (*Result, error){
	provider.KindRemotePreset: transcribeRemote,
	provider.KindRemoteCustom: transcribeRemote,
	provider.KindLocal:        transcribeLocal,
}

// Dispatch runs the request against its snapshot's backend. It blocks until
// the backend answers and is meant to be called off the orchestration
// goroutine.
func Dispatch(req Request) (*Result, error) {
	h, ok := handlers[req.Provider.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown provider kind %d", req.Provider.Kind)
	}
	return h(req)
}
