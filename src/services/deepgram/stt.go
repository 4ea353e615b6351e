package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/interruptions"
	"github.com/square-key-labs/strawgo-transfer/src/processors"
	"github.com/square-key-labs/strawgo-transfer/src/services"
)

const defaultURL = "wss://api.deepgram.com/v1/listen"

var _ services.STTService = (*STTService)(nil)

// STTService provides streaming speech-to-text using Deepgram. Only the
// caller leg is transcribed. While muted, audio is withheld and late
// transcripts are dropped.
type STTService struct {
	*processors.BaseProcessor
	apiKey    string
	url       string
	language  string
	model     string
	encoding  string
	keepalive time.Duration

	interruption interruptions.Strategy

	connMu sync.Mutex // Protects conn and concurrent WebSocket writes
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	muteMu sync.RWMutex
	muted  bool
}

// STTConfig holds configuration for Deepgram
type STTConfig struct {
	APIKey   string
	URL      string // defaults to the Deepgram listen endpoint
	Language string // e.g., "en-US"
	Model    string // e.g., "nova-2-phonecall"
	Encoding string // "mulaw" (default), "alaw" or "linear16"

	// KeepAlive is the interval of keepalive messages (default 5s)
	KeepAlive time.Duration

	// Interruption gates the InterruptionFrame of a caller turn. Nil
	// interrupts as soon as Deepgram detects speech.
	Interruption interruptions.Strategy
}

// NewSTTService creates a new Deepgram STT service
func NewSTTService(config STTConfig) *STTService {
	if config.URL == "" {
		config.URL = defaultURL
	}
	if config.Language == "" {
		config.Language = "en-US"
	}
	if config.Model == "" {
		config.Model = "nova-2-phonecall"
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = 5 * time.Second
	}

	ds := &STTService{
		apiKey:    config.APIKey,
		url:       config.URL,
		language:  config.Language,
		model:     config.Model,
		encoding:  normalizeDeepgramEncoding(config.Encoding),
		keepalive: config.KeepAlive,

		interruption: config.Interruption,
	}
	ds.BaseProcessor = processors.NewBaseProcessor("DeepgramSTT", ds)
	return ds
}

// normalizeDeepgramEncoding converts codec name variations to Deepgram API format
func normalizeDeepgramEncoding(encoding string) string {
	switch encoding {
	case "", "ulaw", "PCMU":
		return "mulaw"
	case "PCMA":
		return "alaw"
	case "pcm", "PCM":
		return "linear16"
	default:
		return encoding
	}
}

func (s *STTService) SetLanguage(lang string) {
	s.language = lang
}

func (s *STTService) SetModel(model string) {
	s.model = model
}

// Muted reports whether transcription is paused
func (s *STTService) Muted() bool {
	s.muteMu.RLock()
	defer s.muteMu.RUnlock()
	return s.muted
}

func (s *STTService) listenURL() string {
	sampleRate := "16000"
	if s.encoding == "mulaw" || s.encoding == "alaw" {
		sampleRate = "8000"
	}

	params := url.Values{}
	params.Set("language", s.language)
	params.Set("model", s.model)
	params.Set("encoding", s.encoding)
	params.Set("sample_rate", sampleRate)
	params.Set("channels", "1")
	params.Set("interim_results", "true")
	params.Set("smart_format", "true")
	params.Set("vad_events", "true")
	params.Set("utterance_end_ms", "1000")

	return s.url + "?" + params.Encode()
}

func (s *STTService) Initialize(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn != nil {
		return nil
	}

	header := http.Header{}
	header.Set("Authorization", fmt.Sprintf("Token %s", s.apiKey))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.listenURL(), header)
	if err != nil {
		return fmt.Errorf("failed to connect to Deepgram: %w", err)
	}

	s.conn = conn
	s.ctx, s.cancel = context.WithCancel(ctx)

	go s.receiveTranscriptions(s.ctx, conn)
	go s.keepaliveTask(s.ctx)

	s.Logger().Info("Connected (model %s, %s)", s.model, s.encoding)
	return nil
}

func (s *STTService) Cleanup() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.conn != nil {
		s.conn.WriteJSON(map[string]string{"type": "CloseStream"})
		s.conn.Close()
		s.conn = nil
	}
	return nil
}

func (s *STTService) write(messageType int, data []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("deepgram connection closed")
	}
	return s.conn.WriteMessage(messageType, data)
}

func (s *STTService) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, data)
}

func (s *STTService) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	switch f := frame.(type) {
	case *frames.EndFrame, *frames.CancelFrame:
		s.Logger().Debug("Received %s, cleaning up", frame.Name())
		if err := s.Cleanup(); err != nil {
			s.Logger().Warn("Error during cleanup: %v", err)
		}
		return s.PushFrame(frame, direction)

	case *frames.STTMuteFrame:
		s.muteMu.Lock()
		s.muted = f.Mute
		s.muteMu.Unlock()
		s.Logger().Info("Muted=%v", f.Mute)
		if f.Mute {
			// Flush whatever Deepgram is holding so it does not surface later
			s.writeJSON(map[string]string{"type": "Finalize"})
		}
		return s.PushFrame(frame, direction)

	case *frames.InputAudioRawFrame:
		if f.Leg != frames.LegCaller || s.Muted() {
			return s.PushFrame(frame, direction)
		}

		// Lazy initialization on first audio frame
		if err := s.Initialize(ctx); err != nil {
			s.Logger().Error("Failed to initialize: %v", err)
			return s.PushFrame(frames.NewErrorFrame(err), frames.Upstream)
		}

		if err := s.write(websocket.BinaryMessage, f.Data); err != nil {
			s.Logger().Warn("Error sending audio, reconnecting: %v", err)
			s.Cleanup()
			if err := s.Initialize(ctx); err != nil {
				return s.PushFrame(frames.NewErrorFrame(err), frames.Upstream)
			}
			if err := s.write(websocket.BinaryMessage, f.Data); err != nil {
				return s.PushFrame(frames.NewErrorFrame(err), frames.Upstream)
			}
		}
		return s.PushFrame(frame, direction)
	}

	return s.PushFrame(frame, direction)
}

type listenResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *STTService) receiveTranscriptions(ctx context.Context, conn *websocket.Conn) {
	// set while a caller turn has started but not yet interrupted the agent
	pendingInterrupt := false
	// set between SpeechStarted and UtteranceEnd
	speaking := false

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				s.Logger().Debug("Connection closed")
				return
			}
			s.Logger().Error("Error reading message: %v", err)
			s.PushFrame(frames.NewErrorFrame(err), frames.Upstream)
			return
		}

		var response listenResponse
		if err := json.Unmarshal(message, &response); err != nil {
			s.Logger().Warn("Error parsing response: %v", err)
			continue
		}

		if s.Muted() {
			// A turn cut short by hold still has to close so the user
			// aggregator flushes it
			if response.Type == "UtteranceEnd" && speaking {
				speaking = false
				pendingInterrupt = false
				s.PushFrame(frames.NewUserStoppedSpeakingFrame(), frames.Downstream)
			}
			continue
		}

		switch response.Type {
		case "SpeechStarted":
			speaking = true
			s.PushFrame(frames.NewUserStartedSpeakingFrame(), frames.Downstream)
			if s.interruption == nil {
				s.PushFrame(frames.NewInterruptionFrame(), frames.Downstream)
			} else {
				s.interruption.Reset()
				pendingInterrupt = true
			}
			continue
		case "UtteranceEnd":
			speaking = false
			pendingInterrupt = false
			s.PushFrame(frames.NewUserStoppedSpeakingFrame(), frames.Downstream)
			continue
		}

		if len(response.Channel.Alternatives) == 0 {
			continue
		}
		transcript := response.Channel.Alternatives[0].Transcript
		if transcript == "" {
			continue
		}
		s.Logger().Debug("Transcription (final=%v): %s", response.IsFinal, transcript)
		if pendingInterrupt {
			s.interruption.AppendText(transcript, response.IsFinal)
			if s.interruption.ShouldInterrupt() {
				pendingInterrupt = false
				s.PushFrame(frames.NewInterruptionFrame(), frames.Downstream)
			}
		}
		s.PushFrame(frames.NewTranscriptionFrame(transcript, response.IsFinal), frames.Downstream)
	}
}

func (s *STTService) keepaliveTask(ctx context.Context) {
	// Deepgram closes the stream after ~10s without audio or a message,
	// which happens whenever the caller is on hold
	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeJSON(map[string]string{"type": "KeepAlive"}); err != nil {
				s.Logger().Debug("Keepalive stopped: %v", err)
				return
			}
		}
	}
}
