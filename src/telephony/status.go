package telephony

import (
	"errors"
	"net/http"
	"strings"

	"github.com/twilio/twilio-go/client"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/logger"
)

// ErrUnknownSession is returned by an EventSink for a session it does not own
var ErrUnknownSession = errors.New("unknown session")

// EventSink delivers dial events to the pipeline of a session
type EventSink interface {
	DeliverDialEvent(sessionID string, frame frames.Frame) error
}

// FrameForStatus maps a Twilio CallStatus to a dial event frame. Statuses
// that carry no transfer meaning return nil.
func FrameForStatus(callID, status, errorReason string) frames.Frame {
	switch status {
	case CallStatusRinging:
		return frames.NewDialoutConnectedFrame(callID)
	case CallStatusInProgress:
		return frames.NewDialoutAnsweredFrame(callID)
	case CallStatusCompleted:
		return frames.NewDialoutStoppedFrame(callID)
	case CallStatusBusy, CallStatusFailed, CallStatusNoAnswer, CallStatusCanceled:
		reason := status
		if errorReason != "" {
			reason = status + ": " + errorReason
		}
		return frames.NewDialoutErrorFrame(callID, reason)
	default:
		return nil
	}
}

// StatusHandler receives Twilio status callbacks of specialist calls
type StatusHandler struct {
	sink       EventSink
	signatures *SignatureChecker
	log        *logger.Logger
}

// NewStatusHandler creates the /dial-status handler. When authToken is set,
// requests must carry a valid X-Twilio-Signature computed over publicURL
// plus the request path and query.
func NewStatusHandler(sink EventSink, authToken, publicURL string) *StatusHandler {
	h := &StatusHandler{
		sink: sink,
		log:  logger.WithPrefix("DialStatus"),
	}
	if authToken != "" {
		h.signatures = NewSignatureChecker(authToken, publicURL)
	}
	return h
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	if h.signatures != nil && !h.signatures.Valid(r) {
		h.log.Warn("Rejected status callback with invalid signature")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	sessionID := r.URL.Query().Get(ParamSession)
	callID := r.PostForm.Get("CallSid")
	status := r.PostForm.Get("CallStatus")
	h.log.Debug("session=%s call=%s status=%s", sessionID, callID, status)

	frame := FrameForStatus(callID, status, r.PostForm.Get("ErrorMessage"))
	if frame == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.sink.DeliverDialEvent(sessionID, frame); err != nil {
		if errors.Is(err, ErrUnknownSession) {
			// Late callback for a call that already ended
			h.log.Debug("Dropping %s for session %s: %v", frame.Name(), sessionID, err)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.log.Error("Failed to deliver %s to session %s: %v", frame.Name(), sessionID, err)
		http.Error(w, "delivery failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SignatureChecker verifies the X-Twilio-Signature of webhook requests.
// Twilio signs the public URL it called, so the checker rebuilds it from
// publicURL and the request URI.
type SignatureChecker struct {
	validator client.RequestValidator
	publicURL string
}

func NewSignatureChecker(authToken, publicURL string) *SignatureChecker {
	return &SignatureChecker{
		validator: client.NewRequestValidator(authToken),
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// Valid checks r, whose form must already be parsed
func (c *SignatureChecker) Valid(r *http.Request) bool {
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return c.validator.Validate(c.publicURL+r.URL.RequestURI(), params, r.Header.Get("X-Twilio-Signature"))
}
