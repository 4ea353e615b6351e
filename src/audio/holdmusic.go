package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/youpy/go-wav"
)

// ChunkSize is 20ms of 8kHz u-law audio, the frame size Twilio expects
const ChunkSize = 160

// mulawSilence is the u-law encoding of a zero sample
const mulawSilence = 0xFF

// ErrEmptyAudio is returned when a hold music file holds no samples
var ErrEmptyAudio = errors.New("hold music has no audio samples")

// HoldMusic loops a u-law 8kHz clip in ChunkSize pieces. It is safe for
// concurrent use; every caller advances the same position.
type HoldMusic struct {
	mu   sync.Mutex
	data []byte
	pos  int
}

// NewHoldMusic wraps u-law 8kHz audio. An empty clip plays silence.
func NewHoldMusic(mulaw []byte) *HoldMusic {
	if len(mulaw) == 0 {
		mulaw = Silence(ChunkSize)
	}
	return &HoldMusic{data: mulaw}
}

// LoadHoldMusicFile reads a WAV file and converts it for telephony
func LoadHoldMusicFile(path string, gain float64) (*HoldMusic, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hold music: %w", err)
	}
	return LoadHoldMusic(raw, gain)
}

// LoadHoldMusic decodes a WAV clip (16-bit PCM, u-law or a-law, any
// sample rate), downmixes to mono, resamples to 8kHz and encodes u-law.
// gain <= 0 keeps the original level.
func LoadHoldMusic(raw []byte, gain float64) (*HoldMusic, error) {
	reader := wav.NewReader(bytes.NewReader(raw))
	format, err := reader.Format()
	if err != nil {
		return nil, fmt.Errorf("parse wav header: %w", err)
	}

	switch format.AudioFormat {
	case wav.AudioFormatPCM:
		if format.BitsPerSample != 16 {
			return nil, fmt.Errorf("unsupported PCM bit depth %d", format.BitsPerSample)
		}
	case wav.AudioFormatMULaw, wav.AudioFormatALaw:
	default:
		return nil, fmt.Errorf("unsupported wav format %d", format.AudioFormat)
	}

	channels := int(format.NumChannels)
	var pcm []int16
	for {
		samples, err := reader.ReadSamples()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read wav samples: %w", err)
		}
		for _, s := range samples {
			sum := 0
			for ch := 0; ch < channels && ch < len(s.Values); ch++ {
				sum += reader.IntValue(s, uint(ch))
			}
			pcm = append(pcm, int16(sum/channels))
		}
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}

	pcm = Resample(pcm, int(format.SampleRate), TelephonySampleRate)
	if gain > 0 {
		pcm = Scale(pcm, gain)
	}
	return NewHoldMusic(PCMToMulaw(pcm)), nil
}

// Next returns the next ChunkSize bytes, wrapping at the end of the clip
func (h *HoldMusic) Next() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	chunk := make([]byte, ChunkSize)
	for n := 0; n < ChunkSize; {
		c := copy(chunk[n:], h.data[h.pos:])
		n += c
		h.pos = (h.pos + c) % len(h.data)
	}
	return chunk
}

// Rewind restarts the clip from the beginning
func (h *HoldMusic) Rewind() {
	h.mu.Lock()
	h.pos = 0
	h.mu.Unlock()
}

// Clone returns a player of the same clip with its own position. Each
// call session plays from its own clone.
func (h *HoldMusic) Clone() *HoldMusic {
	return &HoldMusic{data: h.data}
}

// Len returns the clip length in bytes
func (h *HoldMusic) Len() int {
	return len(h.data)
}

// Silence returns n bytes of u-law silence
func Silence(n int) []byte {
	return bytes.Repeat([]byte{mulawSilence}, n)
}
