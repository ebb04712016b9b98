package gateway

import (
	"encoding/binary"
	"math"
)

// DefaultVADEnergy is the default RMS threshold for 16-bit PCM speech
// detection. Tuned for close-mic phone capture; configurable via env.
const DefaultVADEnergy = 500

// DetectVoiceActivity classifies a PCM16LE buffer as speech or silence using
// RMS energy. Buffers shorter than one sample pair always count as silence.
func DetectVoiceActivity(pcm []byte, threshold float64) bool {
	if len(pcm) < 2 {
		return false
	}
	if threshold <= 0 {
		threshold = DefaultVADEnergy
	}

	sampleCount := len(pcm) / 2
	var sumSquares float64
	for i := 0; i < sampleCount*2; i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSquares / float64(sampleCount))
	return rms >= threshold
}
