package audio

import "math"

// North American ringback: 440Hz + 480Hz, 2s on, 4s off
const (
	ringbackLowHz  = 440
	ringbackHighHz = 480
	ringbackOn     = 2 * TelephonySampleRate
	ringbackOff    = 4 * TelephonySampleRate
	ringbackLevel  = 0.2 * math.MaxInt16
)

// NewRingback returns one looping cadence of the ringback tone
func NewRingback() *HoldMusic {
	pcm := make([]int16, ringbackOn+ringbackOff)
	for i := 0; i < ringbackOn; i++ {
		t := float64(i) / TelephonySampleRate
		v := math.Sin(2*math.Pi*ringbackLowHz*t) + math.Sin(2*math.Pi*ringbackHighHz*t)
		pcm[i] = int16(ringbackLevel * v)
	}
	return NewHoldMusic(PCMToMulaw(pcm))
}
