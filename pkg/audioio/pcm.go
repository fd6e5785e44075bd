package audioio

import "encoding/binary"

// Resample changes the sample rate of mono PCM16 by linear interpolation.
// Good enough for speech; a non-positive rate returns samples unchanged.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate || len(samples) == 0 {
		return samples
	}

	n := len(samples) * toRate / fromRate
	out := make([]int16, n)
	last := len(samples) - 1
	step := float64(fromRate) / float64(toRate)

	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		a, b := float64(samples[j]), float64(samples[j+1])
		out[i] = int16(a + (pos-float64(j))*(b-a))
	}
	return out
}

// BytesToSamples decodes little-endian PCM16. A trailing odd byte is dropped.
func BytesToSamples(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return out
}

// SamplesToBytes encodes samples as little-endian PCM16.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, 0, 2*len(samples))
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}

// MonoToStereo duplicates every sample into a left/right pair.
func MonoToStereo(samples []int16) []int16 {
	out := make([]int16, 0, 2*len(samples))
	for _, s := range samples {
		out = append(out, s, s)
	}
	return out
}

// Convert reformats mono PCM16 at fromRate for a device configured as to.
func Convert(samples []int16, fromRate int, to Config) []int16 {
	out := Resample(samples, fromRate, to.SampleRate)
	if to.Channels == 2 {
		return MonoToStereo(out)
	}
	return out
}
