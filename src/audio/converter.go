package audio

import (
	"encoding/binary"
	"fmt"

	"github.com/zaf/g711"
)

// TelephonySampleRate is the sample rate of Twilio media streams
const TelephonySampleRate = 8000

// MulawToPCM decodes G.711 u-law audio to 16-bit samples
func MulawToPCM(mulaw []byte) []int16 {
	pcm := make([]int16, len(mulaw))
	for i, b := range mulaw {
		pcm[i] = g711.DecodeUlawFrame(b)
	}
	return pcm
}

// PCMToMulaw encodes 16-bit samples to G.711 u-law
func PCMToMulaw(pcm []int16) []byte {
	mulaw := make([]byte, len(pcm))
	for i, s := range pcm {
		mulaw[i] = g711.EncodeUlawFrame(s)
	}
	return mulaw
}

// AlawToMulaw transcodes G.711 a-law at sampleRate to 8kHz u-law. A zero
// sampleRate means 8kHz.
func AlawToMulaw(alaw []byte, sampleRate int) []byte {
	if sampleRate == 0 || sampleRate == TelephonySampleRate {
		return g711.Alaw2Ulaw(alaw)
	}
	pcm := make([]int16, len(alaw))
	for i, b := range alaw {
		pcm[i] = g711.DecodeAlawFrame(b)
	}
	return PCMToMulaw(Resample(pcm, sampleRate, TelephonySampleRate))
}

// LinearToMulaw encodes little-endian 16-bit PCM bytes to u-law
func LinearToMulaw(lpcm []byte) []byte {
	return g711.EncodeUlaw(lpcm)
}

// BytesToPCM converts little-endian bytes to 16-bit samples
func BytesToPCM(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("invalid PCM data length: %d", len(data))
	}
	pcm := make([]int16, len(data)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return pcm, nil
}

// PCMToBytes converts 16-bit samples to little-endian bytes
func PCMToBytes(pcm []int16) []byte {
	data := make([]byte, len(pcm)*2)
	for i, val := range pcm {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(val))
	}
	return data
}

// Resample performs linear interpolation resampling
func Resample(input []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || inputRate <= 0 || outputRate <= 0 {
		return input
	}

	ratio := float64(inputRate) / float64(outputRate)
	outputLen := int(float64(len(input)) / ratio)
	output := make([]int16, outputLen)

	for i := 0; i < outputLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		if srcIdx+1 < len(input) {
			sample1 := float64(input[srcIdx])
			sample2 := float64(input[srcIdx+1])
			output[i] = int16(sample1 + (sample2-sample1)*frac)
		} else if srcIdx < len(input) {
			output[i] = input[srcIdx]
		}
	}

	return output
}

// Scale multiplies every sample by gain, clipping to the int16 range
func Scale(pcm []int16, gain float64) []int16 {
	out := make([]int16, len(pcm))
	for i, s := range pcm {
		v := float64(s) * gain
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}
