package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestDownmixMono(t *testing.T) {
	in := []float32{0.1, -0.2, 0.3}
	out := Downmix(in, 1)
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	// Must be a copy, not an alias
	out[0] = 99
	if in[0] == 99 {
		t.Error("Downmix aliased its input for mono")
	}
}

func TestDownmixMeanAcrossChannels(t *testing.T) {
	for _, tt := range []struct {
		name     string
		channels uint32
		in       []float32
		want     []float32
	}{
		{"stereo", 2, []float32{0.2, 0.4, -1, 1}, []float32{0.3, 0}},
		{"quad", 4, []float32{1, 1, 1, 1, 0, 0.5, 0.5, 1}, []float32{1, 0.5}},
		{"trailing short frame", 2, []float32{0.2, 0.4, 0.6}, []float32{0.3, 0.6}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			out := Downmix(tt.in, tt.channels)
			if len(out) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(out), len(tt.want))
			}
			for i := range tt.want {
				if diff := out[i] - tt.want[i]; diff > 1e-6 || diff < -1e-6 {
					t.Errorf("out[%d] = %v, want %v", i, out[i], tt.want[i])
				}
			}
		})
	}
}

// The downmix of each frame must equal the arithmetic mean of its channel
// samples, independent of channel count.
func TestDownmixMeanProperty(t *testing.T) {
	for channels := uint32(2); channels <= 8; channels++ {
		const frames = 50
		in := make([]float32, 0, frames*int(channels))
		for f := 0; f < frames; f++ {
			for ch := uint32(0); ch < channels; ch++ {
				in = append(in, float32(math.Sin(float64(f)*0.7+float64(ch))))
			}
		}
		out := Downmix(in, channels)
		if len(out) != frames {
			t.Fatalf("channels=%d: len = %d, want %d", channels, len(out), frames)
		}
		for f := 0; f < frames; f++ {
			var sum float64
			for ch := uint32(0); ch < channels; ch++ {
				sum += float64(in[f*int(channels)+int(ch)])
			}
			mean := float32(sum / float64(channels))
			if diff := out[f] - mean; diff > 1e-5 || diff < -1e-5 {
				t.Fatalf("channels=%d frame=%d: got %v, want %v", channels, f, out[f], mean)
			}
		}
	}
}

// Stop must carry the device's native rate through to the buffer and
// downmix the native channel count, not a fixed mono assumption.
func TestStopUsesNativeFormat(t *testing.T) {
	c := &Capture{}
	c.sampleRate = 48000
	c.channels = 2
	c.buf = []float32{0.2, 0.4, -1, 1}

	buf, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if buf.SampleRate != 48000 {
		t.Errorf("SampleRate = %d, want native 48000", buf.SampleRate)
	}
	if buf.Channels != 1 {
		t.Errorf("Channels = %d, want 1 after downmix", buf.Channels)
	}
	want := []float32{0.3, 0}
	if len(buf.Samples) != len(want) {
		t.Fatalf("len = %d, want %d", len(buf.Samples), len(want))
	}
	for i := range want {
		if diff := buf.Samples[i] - want[i]; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("Samples[%d] = %v, want %v", i, buf.Samples[i], want[i])
		}
	}
}

func TestOnDataUsesNativeChannelCount(t *testing.T) {
	c := &Capture{}
	c.channels = 2

	const frames = 3
	data := make([]byte, frames*2*4)
	for i := 0; i < frames*2; i++ {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(float32(i)))
	}
	c.onData(nil, data, frames)

	if len(c.buf) != frames*2 {
		t.Fatalf("buffered %d samples, want %d (frames x channels)", len(c.buf), frames*2)
	}
	for i := range c.buf {
		if c.buf[i] != float32(i) {
			t.Errorf("buf[%d] = %v, want %v", i, c.buf[i], float32(i))
		}
	}
}

func TestBytesToFloat32(t *testing.T) {
	want := []float32{0.5, -0.25, 1.0}
	data := make([]byte, len(want)*4)
	for i, s := range want {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(s))
	}

	got := bytesToFloat32(data, uint32(len(want)))
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	// Truncated trailing bytes are dropped, not mis-read
	got = bytesToFloat32(data[:9], 3)
	if len(got) != 2 {
		t.Errorf("truncated input: len = %d, want 2", len(got))
	}
}
