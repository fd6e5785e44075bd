package audioio

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"
)

// Clip is one finalized recording: the captured PCM16 samples of a
// session, in capture order.
type Clip struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Append adds a captured chunk. The first chunk fixes the format.
func (c *Clip) Append(chunk Chunk) {
	if c.SampleRate == 0 {
		c.SampleRate = chunk.SampleRate
		c.Channels = chunk.Channels
	}
	c.Samples = append(c.Samples, chunk.Samples...)
}

// Empty reports whether the clip holds no audio.
func (c Clip) Empty() bool {
	return len(c.Samples) == 0
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	return framesDuration(len(c.Samples), c.SampleRate, c.Channels)
}

// Level returns the clip's overall loudness in [0,1].
func (c Clip) Level() float64 {
	return Level(c.Samples)
}

// WAV encodes the clip as a 16-bit PCM RIFF/WAVE file.
func (c Clip) WAV() []byte {
	channels := c.Channels
	if channels == 0 {
		channels = 1
	}
	rate := c.SampleRate
	if rate == 0 {
		rate = CaptureSampleRate
	}

	dataLen := len(c.Samples) * 2
	var buf bytes.Buffer
	buf.Grow(44 + dataLen)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16)) // fmt chunk size
	binary.Write(&buf, binary.LittleEndian, uint16(1))  // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(rate*channels*2)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(channels*2))      // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))              // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(SamplesToBytes(c.Samples))

	return buf.Bytes()
}

// Level returns the RMS amplitude of samples normalized to [0,1].
func Level(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}

	level := math.Sqrt(sum / float64(len(samples)))
	if level > 1 {
		return 1
	}
	return level
}
