// Package orchestrator drives the recording lifecycle: Idle, Recording,
// Processing. All state lives on the orchestration goroutine; the only
// background work is the transcription request itself, whose single outcome
// is applied by Poll.
package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"whisperclip/audio"
	"whisperclip/encoder"
	"whisperclip/log"
	"whisperclip/provider"
	"whisperclip/transcriber"
)

type State int

const (
	StateIdle State = iota
	StateRecording
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	default:
		return "idle"
	}
}

// Capture is the microphone the orchestrator records with.
type Capture interface {
	Start() error
	Stop() (audio.Buffer, error)
}

// Runtime is the provider selection the orchestrator consults before and
// during a recording.
type Runtime interface {
	Downloading() bool
	IsLocal() bool
	HandleResident() bool
	NeedsKey() bool
	HasKey() bool
	ActiveLabel() string
	Snapshot() provider.Snapshot
	Switch(id string)
	SwitchToCustomRemote(baseURL, apiKey, model string) error
}

type History interface {
	Insert(text string) error
}

type Clipboard interface {
	Copy(text string) error
	Paste() error
}

// outcome is the single terminal message a transcription goroutine sends.
type outcome struct {
	text         string
	err          error
	audioSeconds float64
	wavKB        float64
	elapsed      time.Duration
	providerID   string
}

type Orchestrator struct {
	capture   Capture
	runtime   Runtime
	history   History
	clipboard Clipboard
	notify    func(string)
	autoPaste bool

	// test seam
	dispatch func(transcriber.Request) (*transcriber.Result, error)

	state     State
	startedAt time.Time
	outcomeCh chan outcome
}

func New(capture Capture, runtime Runtime, history History, clipboard Clipboard, autoPaste bool, notify func(string)) *Orchestrator {
	if notify == nil {
		notify = func(string) {}
	}
	return &Orchestrator{
		capture:   capture,
		runtime:   runtime,
		history:   history,
		clipboard: clipboard,
		autoPaste: autoPaste,
		notify:    notify,
		dispatch:  transcriber.Dispatch,
		state:     StateIdle,
	}
}

func (o *Orchestrator) State() State { return o.state }

// RecordingSeconds reports how long the current recording has been running.
func (o *Orchestrator) RecordingSeconds() float64 {
	if o.state != StateRecording {
		return 0
	}
	return time.Since(o.startedAt).Seconds()
}

// Trigger toggles the recording: Idle starts one, Recording stops it and
// hands the audio to the active provider. A trigger during Processing is
// ignored.
func (o *Orchestrator) Trigger() {
	switch o.state {
	case StateIdle:
		o.startRecording()
	case StateRecording:
		o.stopRecording()
	case StateProcessing:
		o.notify("Still processing previous recording")
	}
}

func (o *Orchestrator) startRecording() {
	if o.runtime.Downloading() {
		o.notify("Model download in progress")
		return
	}
	if o.runtime.IsLocal() && !o.runtime.HandleResident() {
		o.notify("Local model not loaded yet")
		return
	}
	if o.runtime.NeedsKey() && !o.runtime.HasKey() {
		o.notify("No API key configured for " + o.runtime.ActiveLabel())
		return
	}
	if err := o.capture.Start(); err != nil {
		log.Errorf("starting capture: %v", err)
		o.notify("Microphone error: " + err.Error())
		return
	}
	o.state = StateRecording
	o.startedAt = time.Now()
	o.notify("Recording...")
}

func (o *Orchestrator) stopRecording() {
	buf, err := o.capture.Stop()
	if err != nil {
		log.Errorf("stopping capture: %v", err)
		o.state = StateIdle
		if err == audio.ErrEmptyCapture {
			o.notify("No audio captured")
		} else {
			o.notify("Microphone error: " + err.Error())
		}
		return
	}

	snap := o.runtime.Snapshot()
	started := time.Now()
	ch := make(chan outcome, 1)
	o.outcomeCh = ch
	o.state = StateProcessing
	o.notify("Transcribing...")

	dispatch := o.dispatch
	go func() {
		defer close(ch)
		audioSeconds := float64(len(buf.Samples)) / float64(buf.SampleRate)
		wav, err := encoder.EncodeWAV(buf.Samples, buf.SampleRate)
		if err != nil {
			ch <- outcome{err: err, providerID: snap.Label}
			return
		}
		res, err := dispatch(transcriber.Request{Audio: wav, Provider: snap})
		out := outcome{
			err:          err,
			audioSeconds: audioSeconds,
			wavKB:        float64(len(wav)) / 1024,
			elapsed:      time.Since(started),
			providerID:   snap.Label,
		}
		if err == nil {
			out.text = res.Text
		}
		ch <- out
	}()
}

// Poll applies the transcription outcome if one is ready. Never blocks.
func (o *Orchestrator) Poll() {
	if o.outcomeCh == nil {
		return
	}
	select {
	case out, ok := <-o.outcomeCh:
		o.outcomeCh = nil
		o.state = StateIdle
		if !ok {
			// Closed without a terminal message: internal fault, never
			// reported as success.
			log.Error("transcription goroutine exited without an outcome")
			o.notify("Transcription failed")
			return
		}
		o.finish(out)
	default:
	}
}

func (o *Orchestrator) finish(out outcome) {
	if out.err != nil {
		log.Errorf("transcription failed (%s): %v", out.providerID, out.err)
		o.notify("Transcription failed: " + out.err.Error())
		return
	}

	log.Transcription(out.providerID, out.audioSeconds, out.wavKB, out.elapsed.Milliseconds())

	if out.text == "" {
		o.notify("No speech detected")
		return
	}

	log.TranscriptionText(out.text)
	if err := o.history.Insert(out.text); err != nil {
		log.Errorf("recording history: %v", err)
	}
	if err := o.clipboard.Copy(out.text); err != nil {
		log.Errorf("copying to clipboard: %v", err)
		o.notify("Clipboard error: " + err.Error())
		return
	}
	if o.autoPaste {
		if err := o.clipboard.Paste(); err != nil {
			log.Errorf("pasting: %v", err)
		}
	}
	o.notify("Copied: " + preview(out.text))
}

// SwitchProvider changes the active provider. Only allowed from Idle so a
// recording or in-flight request keeps the snapshot it started with.
func (o *Orchestrator) SwitchProvider(id string) {
	if o.state != StateIdle {
		o.notify("Busy: finish the current recording first")
		return
	}
	o.runtime.Switch(id)
}

// SwitchCustomProvider points transcription at a user-supplied endpoint.
func (o *Orchestrator) SwitchCustomProvider(baseURL, apiKey, model string) error {
	if o.state != StateIdle {
		return fmt.Errorf("busy: finish the current recording first")
	}
	return o.runtime.SwitchToCustomRemote(baseURL, apiKey, model)
}

func preview(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	r := []rune(text)
	if len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return text
}
