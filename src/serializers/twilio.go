package serializers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
)

// TwilioFrameSerializer handles the Twilio Media Streams websocket protocol
// for one call leg. The leg and session come from the custom parameters of
// the start message.
type TwilioFrameSerializer struct {
	streamSid  string
	callSid    string
	leg        frames.Leg
	sampleRate int
}

type twilioMessage struct {
	Event          string       `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSid      string       `json:"streamSid,omitempty"`
	Media          *twilioMedia `json:"media,omitempty"`
	Start          *twilioStart `json:"start,omitempty"`
	Mark           *twilioMark  `json:"mark,omitempty"`
	Stop           *twilioStop  `json:"stop,omitempty"`
}

type twilioMedia struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"` // base64-encoded mulaw audio
}

type twilioStart struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	AccountSid       string            `json:"accountSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      twilioMediaFormat `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type twilioMediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type twilioMark struct {
	Name string `json:"name"`
}

type twilioStop struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// StreamStartFrame reports the start message of a media stream
type StreamStartFrame struct {
	*frames.ControlFrame
	StreamSid  string
	CallSid    string
	AccountSid string
	Leg        frames.Leg
	Params     map[string]string
}

// StreamStopFrame reports that Twilio ended the media stream
type StreamStopFrame struct {
	*frames.ControlFrame
	StreamSid string
	CallSid   string
	Leg       frames.Leg
}

var (
	_ frames.Frame = (*StreamStartFrame)(nil)
	_ frames.Frame = (*StreamStopFrame)(nil)
	_ frames.Frame = (*MarkFrame)(nil)
	_ frames.Frame = (*ClearFrame)(nil)
)

// MarkFrame is a playback marker: sent after audio, echoed back by Twilio
// once that audio finished playing
type MarkFrame struct {
	*frames.ControlFrame
	MarkName string
}

func NewMarkFrame(name string) *MarkFrame {
	return &MarkFrame{ControlFrame: frames.NewControlFrame("MarkFrame"), MarkName: name}
}

// ClearFrame drops audio Twilio has buffered but not yet played
type ClearFrame struct {
	*frames.ControlFrame
}

func NewClearFrame() *ClearFrame {
	return &ClearFrame{ControlFrame: frames.NewControlFrame("ClearFrame")}
}

// NewTwilioFrameSerializer creates a serializer for a stream whose start
// message has not been received yet
func NewTwilioFrameSerializer() *TwilioFrameSerializer {
	return &TwilioFrameSerializer{leg: frames.LegCaller, sampleRate: 8000}
}

// Type returns the serialization type (Twilio uses JSON/text)
func (s *TwilioFrameSerializer) Type() SerializerType {
	return SerializerTypeText
}

// Serialize converts a frame to Twilio websocket JSON
func (s *TwilioFrameSerializer) Serialize(frame frames.Frame) ([]byte, error) {
	switch f := frame.(type) {
	case *frames.TTSAudioRawFrame:
		if f.Codec != "" && f.Codec != "mulaw" {
			return nil, fmt.Errorf("twilio streams carry mulaw audio, got %s", f.Codec)
		}
		return s.SerializeAudio(f.Data)
	case *MarkFrame:
		return s.SerializeMark(f.MarkName)
	case *ClearFrame, *frames.InterruptionFrame:
		return s.marshal(twilioMessage{Event: "clear", StreamSid: s.streamSid})
	default:
		return nil, nil
	}
}

// SerializeAudio wraps raw mulaw audio in a media message
func (s *TwilioFrameSerializer) SerializeAudio(mulaw []byte) ([]byte, error) {
	return s.marshal(twilioMessage{
		Event:     "media",
		StreamSid: s.streamSid,
		Media:     &twilioMedia{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	})
}

// SerializeMark builds a mark message
func (s *TwilioFrameSerializer) SerializeMark(name string) ([]byte, error) {
	return s.marshal(twilioMessage{
		Event:     "mark",
		StreamSid: s.streamSid,
		Mark:      &twilioMark{Name: name},
	})
}

func (s *TwilioFrameSerializer) marshal(msg twilioMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Twilio %s message: %w", msg.Event, err)
	}
	return data, nil
}

// Deserialize converts a Twilio websocket message to a frame
func (s *TwilioFrameSerializer) Deserialize(data []byte) (frames.Frame, error) {
	var msg twilioMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Twilio message: %w", err)
	}

	switch msg.Event {
	case "start":
		if msg.Start == nil {
			return nil, fmt.Errorf("start event missing start data")
		}
		leg, err := frames.ParseLeg(msg.Start.CustomParameters["leg"])
		if err != nil {
			return nil, err
		}
		s.streamSid = msg.Start.StreamSid
		s.callSid = msg.Start.CallSid
		s.leg = leg
		if msg.Start.MediaFormat.SampleRate > 0 {
			s.sampleRate = msg.Start.MediaFormat.SampleRate
		}

		return &StreamStartFrame{
			ControlFrame: frames.NewControlFrame("StreamStartFrame"),
			StreamSid:    s.streamSid,
			CallSid:      s.callSid,
			AccountSid:   msg.Start.AccountSid,
			Leg:          leg,
			Params:       msg.Start.CustomParameters,
		}, nil

	case "media":
		if msg.Media == nil {
			return nil, fmt.Errorf("media event missing media data")
		}
		if msg.Media.Track != "" && msg.Media.Track != "inbound" {
			return nil, nil
		}
		audio, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode audio payload: %w", err)
		}
		return frames.NewInputAudioRawFrame(audio, s.sampleRate, 1, s.leg), nil

	case "mark":
		if msg.Mark == nil {
			return nil, nil
		}
		return NewMarkFrame(msg.Mark.Name), nil

	case "stop":
		return &StreamStopFrame{
			ControlFrame: frames.NewControlFrame("StreamStopFrame"),
			StreamSid:    s.streamSid,
			CallSid:      s.callSid,
			Leg:          s.leg,
		}, nil

	default:
		// connected, dtmf and future events
		return nil, nil
	}
}

// StreamSid returns the current stream SID
func (s *TwilioFrameSerializer) StreamSid() string {
	return s.streamSid
}

// CallSid returns the current call SID
func (s *TwilioFrameSerializer) CallSid() string {
	return s.callSid
}

// Leg returns the call leg announced in the start message
func (s *TwilioFrameSerializer) Leg() frames.Leg {
	return s.leg
}
