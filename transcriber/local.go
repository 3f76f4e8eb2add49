package transcriber

import "strings"

// transcribeLocal runs the recording through the resident model handle.
func transcribeLocal(req Request) (*Result, error) {
	h := req.Provider.Handle
	if h == nil {
		return nil, ErrModelNotLoaded
	}
	text, err := h.Transcribe(req.Audio)
	if err != nil {
		return nil, err
	}
	return &Result{Text: strings.TrimSpace(text)}, nil
}
