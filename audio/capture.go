// Package audio captures microphone input into a float32 sample buffer.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

var (
	ErrNoDevice     = errors.New("no input device available")
	ErrEmptyCapture = errors.New("no audio recorded")
)

// Buffer is one finished capture: mono float32 samples at the device's
// native SampleRate.
type Buffer struct {
	Samples    []float32
	SampleRate uint32
	Channels   uint32
}

// Capture owns the audio context and, between Start and Stop, a live
// capture device. The device is opened at its native sample rate and
// channel count; samples accumulate interleaved and Stop downmixes to
// mono. Start must not be called twice without an intervening Stop — the
// orchestrator enforces that.
type Capture struct {
	ctx *malgo.AllocatedContext

	mu         sync.Mutex
	device     *malgo.Device
	sampleRate uint32
	channels   uint32
	buf        []float32
}

// NewCapture initializes the audio context. Failure here means there is no
// usable audio subsystem at all and is fatal by design.
func NewCapture() (*Capture, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}
	return &Capture{ctx: ctx}, nil
}

// Start opens the default input device at its native format and begins
// accumulating samples into a freshly cleared buffer. It returns as soon
// as the stream is live.
func (c *Capture) Start() error {
	infos, err := c.ctx.Devices(malgo.Capture)
	if err == nil && len(infos) == 0 {
		return ErrNoDevice
	}

	// Rate and channels left at zero so the device keeps its native
	// format; only the sample type is converted, to float32.
	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatF32
	deviceCfg.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: c.onData,
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceCfg, callbacks)
	if err != nil {
		return fmt.Errorf("initializing capture device: %w", err)
	}

	c.mu.Lock()
	c.buf = c.buf[:0]
	c.sampleRate = device.SampleRate()
	c.channels = device.CaptureChannels()
	c.mu.Unlock()

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("starting capture device: %w", err)
	}

	c.mu.Lock()
	c.device = device
	c.mu.Unlock()
	return nil
}

// Stop halts capture and returns the accumulated buffer, downmixed from
// the device's native channel count to mono at its native rate.
// ErrEmptyCapture if the stream produced no samples.
func (c *Capture) Stop() (Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}

	if len(c.buf) == 0 {
		return Buffer{}, ErrEmptyCapture
	}

	mono := Downmix(c.buf, c.channels)
	c.buf = nil
	return Buffer{Samples: mono, SampleRate: c.sampleRate, Channels: 1}, nil
}

// Close releases the audio context.
func (c *Capture) Close() {
	c.mu.Lock()
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	c.mu.Unlock()
	_ = c.ctx.Uninit()
	c.ctx.Free()
}

// onData runs on the audio thread. It only appends to the buffer; all
// other state stays on the orchestration side.
func (c *Capture) onData(_, pSample []byte, frameCount uint32) {
	c.mu.Lock()
	samples := bytesToFloat32(pSample, frameCount*c.channels)
	c.buf = append(c.buf, samples...)
	c.mu.Unlock()
}

// Downmix averages interleaved multi-channel samples into mono, one frame
// at a time. A trailing short frame is averaged over the samples present.
func Downmix(samples []float32, channels uint32) []float32 {
	if channels <= 1 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}
	n := int(channels)
	mono := make([]float32, 0, (len(samples)+n-1)/n)
	for i := 0; i < len(samples); i += n {
		end := i + n
		if end > len(samples) {
			end = len(samples)
		}
		var sum float32
		for _, s := range samples[i:end] {
			sum += s
		}
		mono = append(mono, sum/float32(end-i))
	}
	return mono
}

func bytesToFloat32(data []byte, sampleCount uint32) []float32 {
	samples := make([]float32, 0, sampleCount)
	for i := uint32(0); i < sampleCount; i++ {
		offset := i * 4
		if offset+4 > uint32(len(data)) {
			break
		}
		bits := binary.LittleEndian.Uint32(data[offset : offset+4])
		samples = append(samples, math.Float32frombits(bits))
	}
	return samples
}
