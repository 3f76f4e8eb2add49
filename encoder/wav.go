// Package encoder converts captured float32 samples into the canonical
// wire format: mono 16-bit signed little-endian PCM WAV.
package encoder

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	BitDepth = 16
	Channels = 1

	pcmFormat = 1
)

// EncodeWAV clamps each sample to [-1, 1], scales to the full int16 range
// and writes a single-data-chunk WAV at the given sample rate. Same input
// always produces the same bytes.
func EncodeWAV(samples []float32, sampleRate uint32) ([]byte, error) {
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: Channels, SampleRate: int(sampleRate)},
		Data:           make([]int, len(samples)),
		SourceBitDepth: BitDepth,
	}
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		buf.Data[i] = int(math.Round(float64(s) * 32767))
	}

	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, int(sampleRate), BitDepth, Channels, pcmFormat)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("wav write: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("wav finalize: %w", err)
	}
	return ws.buf, nil
}

// writeSeeker is an in-memory io.WriteSeeker; the wav encoder seeks back
// to patch chunk sizes on Close.
type writeSeeker struct {
	buf []byte
	pos int
}

func (ws *writeSeeker) Write(p []byte) (int, error) {
	if need := ws.pos + len(p); need > len(ws.buf) {
		if need > cap(ws.buf) {
			grown := make([]byte, need, need*2)
			copy(grown, ws.buf)
			ws.buf = grown
		} else {
			ws.buf = ws.buf[:need]
		}
	}
	copy(ws.buf[ws.pos:], p)
	ws.pos += len(p)
	return len(p), nil
}

func (ws *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(ws.pos) + offset
	case io.SeekEnd:
		next = int64(len(ws.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if next < 0 {
		return 0, errors.New("negative seek position")
	}
	ws.pos = int(next)
	return next, nil
}
