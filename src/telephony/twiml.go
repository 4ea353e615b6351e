package telephony

import (
	"net/url"
	"strings"

	"github.com/twilio/twilio-go/twiml"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
)

// Custom stream parameters identifying the session and leg of a media stream
const (
	ParamSession = "session"
	ParamLeg     = "leg"
	ParamFrom    = "from"
)

// MediaStreamURL derives the websocket URL of /media from the public URL
func MediaStreamURL(publicURL string) string {
	u, err := url.Parse(strings.TrimRight(publicURL, "/"))
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path += "/media"
	return u.String()
}

// StatusCallbackURL is where Twilio posts the status of specialist calls
func StatusCallbackURL(publicURL, sessionID string) string {
	return strings.TrimRight(publicURL, "/") + "/dial-status?" + url.Values{ParamSession: {sessionID}}.Encode()
}

// StreamTwiML connects a call to a bidirectional media stream. Twilio does
// not forward query strings of stream URLs, so the session and leg travel
// as stream parameters.
func StreamTwiML(streamURL, sessionID string, leg frames.Leg) (string, error) {
	return streamTwiML(streamURL,
		&twiml.VoiceParameter{Name: ParamSession, Value: sessionID},
		&twiml.VoiceParameter{Name: ParamLeg, Value: string(leg)},
	)
}

// CallerTwiML answers an incoming call with the caller leg's media stream.
// The caller's number is passed along for the CustomerJoinedFrame.
func CallerTwiML(streamURL, sessionID, from string) (string, error) {
	return streamTwiML(streamURL,
		&twiml.VoiceParameter{Name: ParamSession, Value: sessionID},
		&twiml.VoiceParameter{Name: ParamLeg, Value: string(frames.LegCaller)},
		&twiml.VoiceParameter{Name: ParamFrom, Value: from},
	)
}

func streamTwiML(streamURL string, params ...twiml.Element) (string, error) {
	stream := &twiml.VoiceStream{Url: streamURL, InnerElements: params}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	return twiml.Voice([]twiml.Element{connect})
}
