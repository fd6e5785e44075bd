package audioio

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestResample_SameRate(t *testing.T) {
	samples := []int16{100, 200, 300, 400, 500}
	result := Resample(samples, 16000, 16000)

	if len(result) != len(samples) {
		t.Errorf("Expected %d samples, got %d", len(samples), len(result))
	}
}

func TestResample_Rates(t *testing.T) {
	tests := []struct {
		name     string
		in       int
		from, to int
		want     int
	}{
		{"downsample 48k to 24k", 960, 48000, 24000, 480},
		{"upsample 16k to 24k", 320, 16000, 24000, 480},
		{"tts 24k to capture 16k", 480, 24000, 16000, 320},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := make([]int16, tt.in)
			for i := range samples {
				samples[i] = int16(i)
			}
			if got := len(Resample(samples, tt.from, tt.to)); got != tt.want {
				t.Errorf("Expected %d samples, got %d", tt.want, got)
			}
		})
	}
}

func TestResample_Empty(t *testing.T) {
	if len(Resample(nil, 24000, 48000)) != 0 {
		t.Errorf("Expected empty result for nil input")
	}
	if len(Resample([]int16{}, 24000, 48000)) != 0 {
		t.Errorf("Expected empty result for empty input")
	}
}

func TestResample_InvalidRate(t *testing.T) {
	samples := []int16{1, 2, 3}
	if got := Resample(samples, 0, 16000); len(got) != 3 {
		t.Errorf("Expected passthrough for zero rate, got %d samples", len(got))
	}
}

func TestBytesSamplesRoundTrip(t *testing.T) {
	data := []byte{0x02, 0x01, 0x04, 0x03, 0xFF}
	samples := BytesToSamples(data)

	if len(samples) != 2 {
		t.Fatalf("Expected 2 samples (odd byte dropped), got %d", len(samples))
	}
	if samples[0] != 0x0102 || samples[1] != 0x0304 {
		t.Errorf("Unexpected samples: %#v", samples)
	}

	back := SamplesToBytes(samples)
	for i, b := range data[:4] {
		if back[i] != b {
			t.Errorf("Byte %d: expected 0x%02x, got 0x%02x", i, b, back[i])
		}
	}
}

func TestConvert(t *testing.T) {
	mono := make([]int16, 240) // 10ms at 24kHz
	out := Convert(mono, 24000, Config{SampleRate: 48000, Channels: 2})
	if len(out) != 960 {
		t.Errorf("Expected 960 interleaved samples, got %d", len(out))
	}

	same := Convert(mono, 24000, Config{SampleRate: 24000, Channels: 1})
	if len(same) != 240 {
		t.Errorf("Expected passthrough, got %d samples", len(same))
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		min     float64
		max     float64
	}{
		{"empty", nil, 0, 0},
		{"silence", []int16{0, 0, 0}, 0, 0},
		{"full scale", []int16{32767, -32768, 32767}, 0.99, 1},
		{"half scale", []int16{16384, -16384}, 0.49, 0.51},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Level(tt.samples)
			if got < tt.min || got > tt.max {
				t.Errorf("Level = %f, want in [%f, %f]", got, tt.min, tt.max)
			}
		})
	}
}

func TestClip(t *testing.T) {
	var c Clip
	if !c.Empty() || c.Duration() != 0 {
		t.Fatal("zero clip should be empty")
	}

	c.Append(Chunk{Samples: make([]int16, 1600), SampleRate: 16000, Channels: 1})
	c.Append(Chunk{Samples: make([]int16, 1600), SampleRate: 16000, Channels: 1})

	if c.Empty() {
		t.Error("clip should not be empty")
	}
	if c.Duration() != 200*time.Millisecond {
		t.Errorf("Duration = %v, want 200ms", c.Duration())
	}

	wav := c.WAV()
	if len(wav) != 44+3200*2 {
		t.Fatalf("WAV length = %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Errorf("bad WAV header: %q", wav[:44])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); size != 6400 {
		t.Errorf("data size = %d", size)
	}
}

func BenchmarkResample_2x(b *testing.B) {
	samples := make([]int16, 960)
	for i := range samples {
		samples[i] = int16(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Resample(samples, 48000, 24000)
	}
}

func BenchmarkLevel(b *testing.B) {
	samples := make([]int16, 1600)
	for i := 0; i < b.N; i++ {
		_ = Level(samples)
	}
}
