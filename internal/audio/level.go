package audio

import (
	"encoding/binary"
	"math"
)

// LevelPCM16 computes the normalized RMS level of PCM16LE mono audio.
// The result is in [0, 1]; an empty or odd-length buffer yields 0.
func LevelPCM16(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n*2; i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
