package audio

import (
	"encoding/binary"
	"math"
)

// DefaultLevelGain lifts speech RMS into a usable meter range.
const DefaultLevelGain = 2.2

// RMSLevel computes the root-mean-square amplitude of s16le PCM, scaled by
// gain and clamped to [0,1]. A trailing odd byte is ignored.
func RMSLevel(pcm []byte, gain float64) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	if gain <= 0 {
		gain = DefaultLevelGain
	}

	var sumSquares float64
	for i := 0; i < samples; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
		sumSquares += v * v
	}
	level := math.Sqrt(sumSquares/float64(samples)) * gain
	if level > 1 {
		return 1
	}
	if level < 0 || math.IsNaN(level) {
		return 0
	}
	return level
}
