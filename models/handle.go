package models

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ggml container magics accepted for whisper model artifacts.
var ggmlMagics = []uint32{0x67676d6c, 0x6767666c, 0x67676a74}

// Handle is a loaded, validated local model, ready for inference. At most
// one Handle is resident at a time; the provider runtime owns it.
type Handle struct {
	path string
	bin  string
}

// Load validates the artifact at path and resolves the inference binary.
// Inference runs through the whisper.cpp CLI; the binary name can be
// overridden with WHISPER_CLI.
func Load(path string) (*Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loading model: %w", err)
	}
	defer f.Close()

	var magic uint32
	if err := binary.Read(f, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("loading model: reading header: %w", err)
	}
	valid := false
	for _, m := range ggmlMagics {
		if magic == m {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("loading model: %s is not a ggml model file", path)
	}

	bin := os.Getenv("WHISPER_CLI")
	if bin == "" {
		bin = "whisper-cli"
	}
	resolved, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("loading model: whisper.cpp CLI not found (%q): %w", bin, err)
	}

	return &Handle{path: path, bin: resolved}, nil
}

// Path returns the on-disk artifact backing this handle.
func (h *Handle) Path() string { return h.path }

// Transcribe runs inference on the given WAV bytes. It blocks the calling
// goroutine for the duration of the run.
func (h *Handle) Transcribe(wavData []byte) (string, error) {
	tmp, err := os.CreateTemp("", "whisperclip-*.wav")
	if err != nil {
		return "", fmt.Errorf("local transcription: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(wavData); err != nil {
		tmp.Close()
		return "", fmt.Errorf("local transcription: writing audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("local transcription: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(h.bin, "-m", h.path, "-f", tmpPath, "-nt", "-np")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("local transcription failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return strings.TrimSpace(stdout.String()), nil
}

// Release deletes the artifact backing the handle. Called by the runtime
// at every switch boundary away from this model.
func (h *Handle) Release() error {
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing model artifact: %w", err)
	}
	return nil
}
