package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/processors"
	"github.com/square-key-labs/strawgo-transfer/src/services"
)

const defaultBaseURL = "https://api.elevenlabs.io"

// readChunk is how much audio is pushed per frame while the response streams
const readChunk = 1600

var _ services.TTSService = (*TTSService)(nil)

// TTSService provides text-to-speech using the ElevenLabs streaming HTTP
// API. Every TextFrame or TTSSpeakFrame is one utterance, framed by
// TTSStartedFrame and TTSStoppedFrame carrying the same utterance id.
type TTSService struct {
	*processors.BaseProcessor
	apiKey       string
	baseURL      string
	voiceID      string
	model        string
	outputFormat string
	client       *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc // cancels the utterance being synthesized
}

// TTSConfig holds configuration for ElevenLabs
type TTSConfig struct {
	APIKey       string
	BaseURL      string // defaults to https://api.elevenlabs.io
	VoiceID      string // e.g., "21m00Tcm4TlvDq8ikWAM" (Rachel)
	Model        string // e.g., "eleven_turbo_v2_5"
	OutputFormat string // "ulaw_8000" (default), "alaw_8000", "pcm_16000", ...
	HTTPClient   *http.Client
}

// NewTTSService creates a new ElevenLabs TTS service
func NewTTSService(config TTSConfig) *TTSService {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Model == "" {
		config.Model = "eleven_turbo_v2_5"
	}
	if config.OutputFormat == "" {
		// Twilio media streams carry 8kHz mulaw
		config.OutputFormat = "ulaw_8000"
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	es := &TTSService{
		apiKey:       config.APIKey,
		baseURL:      strings.TrimSuffix(config.BaseURL, "/"),
		voiceID:      config.VoiceID,
		model:        config.Model,
		outputFormat: config.OutputFormat,
		client:       config.HTTPClient,
	}
	es.BaseProcessor = processors.NewBaseProcessor("ElevenLabsTTS", es)
	return es
}

func (s *TTSService) SetVoice(voiceID string) {
	s.voiceID = voiceID
}

func (s *TTSService) SetModel(model string) {
	s.model = model
}

func (s *TTSService) Initialize(ctx context.Context) error {
	return nil
}

func (s *TTSService) Cleanup() error {
	s.interrupt()
	return nil
}

func (s *TTSService) interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *TTSService) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	if direction == frames.Upstream {
		return s.PushFrame(frame, direction)
	}

	switch f := frame.(type) {
	case *frames.TextFrame:
		return s.speak(ctx, f.Text)

	case *frames.TTSSpeakFrame:
		return s.speak(ctx, f.Text)

	case *frames.InterruptionFrame:
		s.interrupt()

	case *frames.EndFrame, *frames.CancelFrame:
		s.Cleanup()
	}

	return s.PushFrame(frame, direction)
}

// speak synthesizes one utterance. Failures are reported upstream but the
// utterance is still closed with TTSStoppedFrame so nobody waits on it.
func (s *TTSService) speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	utteranceID := uuid.NewString()
	uctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer s.interrupt()

	s.Logger().Info("Synthesizing %s: %s", utteranceID, text)
	s.PushFrame(frames.NewTTSStartedFrame(utteranceID), frames.Downstream)

	err := s.synthesizeHTTP(uctx, utteranceID, text)
	if err != nil && uctx.Err() == nil {
		s.Logger().Error("Synthesis failed: %v", err)
		s.PushFrame(frames.NewErrorFrame(err), frames.Upstream)
	}

	return s.PushFrame(frames.NewTTSStoppedFrame(utteranceID), frames.Downstream)
}

func (s *TTSService) synthesizeHTTP(ctx context.Context, utteranceID, text string) error {
	url := fmt.Sprintf("%s/v1/text-to-speech/%s/stream?output_format=%s", s.baseURL, s.voiceID, s.outputFormat)

	requestBody := map[string]any{
		"text":     text,
		"model_id": s.model,
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.75,
		},
	}

	bodyBytes, err := json.Marshal(requestBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ElevenLabs API error (%d): %s", resp.StatusCode, string(body))
	}

	sampleRate, codec := s.parseOutputFormat()
	buf := make([]byte, readChunk)
	for {
		n, err := io.ReadFull(resp.Body, buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			audioFrame := frames.NewTTSAudioRawFrame(data, sampleRate, 1, utteranceID)
			audioFrame.Codec = codec
			s.PushFrame(audioFrame, frames.Downstream)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// parseOutputFormat extracts sample rate and codec from output format string
func (s *TTSService) parseOutputFormat() (int, string) {
	switch s.outputFormat {
	case "ulaw_8000":
		return 8000, "mulaw"
	case "alaw_8000":
		return 8000, "alaw"
	case "pcm_16000":
		return 16000, "linear16"
	case "pcm_22050":
		return 22050, "linear16"
	case "pcm_24000":
		return 24000, "linear16"
	case "pcm_44100":
		return 44100, "linear16"
	default:
		return 8000, "mulaw"
	}
}
