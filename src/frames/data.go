package frames

import "fmt"

// DataFrame is the base for media and text frames
type DataFrame struct {
	*BaseFrame
}

func (f *DataFrame) Category() FrameCategory {
	return DataCategory
}

func newDataFrame(name string) *DataFrame {
	return &DataFrame{BaseFrame: NewBaseFrame(name)}
}

// Leg identifies one side of a bridged call
type Leg string

const (
	LegCaller     Leg = "caller"
	LegSpecialist Leg = "specialist"
)

// ParseLeg converts a query/custom-parameter value to a Leg
func ParseLeg(s string) (Leg, error) {
	switch Leg(s) {
	case LegCaller, "":
		return LegCaller, nil
	case LegSpecialist:
		return LegSpecialist, nil
	default:
		return "", fmt.Errorf("unknown call leg %q", s)
	}
}

// AudioDestination selects which leg(s) hear synthesized speech
type AudioDestination string

const (
	DestinationCaller     AudioDestination = "caller"
	DestinationSpecialist AudioDestination = "specialist"
	DestinationBoth       AudioDestination = "both"
)

// Includes reports whether audio sent to d should be played on leg
func (d AudioDestination) Includes(leg Leg) bool {
	switch d {
	case DestinationBoth:
		return true
	case DestinationSpecialist:
		return leg == LegSpecialist
	default:
		return leg == LegCaller
	}
}

// Legs lists the legs covered by the destination
func (d AudioDestination) Legs() []Leg {
	switch d {
	case DestinationBoth:
		return []Leg{LegCaller, LegSpecialist}
	case DestinationSpecialist:
		return []Leg{LegSpecialist}
	default:
		return []Leg{LegCaller}
	}
}

// InputAudioRawFrame carries audio received from a call leg
type InputAudioRawFrame struct {
	*DataFrame
	Data       []byte
	SampleRate int
	Channels   int
	Codec      string // "mulaw" for Twilio media streams
	Leg        Leg
}

func NewInputAudioRawFrame(data []byte, sampleRate, channels int, leg Leg) *InputAudioRawFrame {
	return &InputAudioRawFrame{
		DataFrame:  newDataFrame("InputAudioRawFrame"),
		Data:       data,
		SampleRate: sampleRate,
		Channels:   channels,
		Codec:      "mulaw",
		Leg:        leg,
	}
}

// TTSAudioRawFrame carries synthesized speech towards the output transport.
// An empty Destination means "use the transport's current route".
type TTSAudioRawFrame struct {
	*DataFrame
	Data        []byte
	SampleRate  int
	Channels    int
	Codec       string
	UtteranceID string
	Destination AudioDestination
}

func NewTTSAudioRawFrame(data []byte, sampleRate, channels int, utteranceID string) *TTSAudioRawFrame {
	return &TTSAudioRawFrame{
		DataFrame:   newDataFrame("TTSAudioRawFrame"),
		Data:        data,
		SampleRate:  sampleRate,
		Channels:    channels,
		Codec:       "mulaw",
		UtteranceID: utteranceID,
	}
}

// TextFrame carries a chunk of text
type TextFrame struct {
	*DataFrame
	Text string
}

func NewTextFrame(text string) *TextFrame {
	return &TextFrame{
		DataFrame: newDataFrame("TextFrame"),
		Text:      text,
	}
}

// TranscriptionFrame carries recognized caller speech
type TranscriptionFrame struct {
	*DataFrame
	Text    string
	IsFinal bool
}

func NewTranscriptionFrame(text string, isFinal bool) *TranscriptionFrame {
	return &TranscriptionFrame{
		DataFrame: newDataFrame("TranscriptionFrame"),
		Text:      text,
		IsFinal:   isFinal,
	}
}

// TTSSpeakFrame asks the TTS service to speak text verbatim
type TTSSpeakFrame struct {
	*DataFrame
	Text string
}

func NewTTSSpeakFrame(text string) *TTSSpeakFrame {
	return &TTSSpeakFrame{
		DataFrame: newDataFrame("TTSSpeakFrame"),
		Text:      text,
	}
}

// Message is a conversation message injected into the LLM context
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// LLMMessagesAppendFrame appends messages to the conversation context and
// optionally runs the LLM on the result
type LLMMessagesAppendFrame struct {
	*DataFrame
	Messages []Message
	RunLLM   bool
}

func NewLLMMessagesAppendFrame(messages []Message, runLLM bool) *LLMMessagesAppendFrame {
	return &LLMMessagesAppendFrame{
		DataFrame: newDataFrame("LLMMessagesAppendFrame"),
		Messages:  messages,
		RunLLM:    runLLM,
	}
}
