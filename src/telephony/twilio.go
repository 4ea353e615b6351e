// Package telephony places and controls PSTN calls through Twilio.
package telephony

import (
	"context"
	"fmt"
	"net/url"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/logger"
	"github.com/square-key-labs/strawgo-transfer/src/transfer"
)

// Twilio call statuses
const (
	CallStatusQueued     = "queued"
	CallStatusInitiated  = "initiated"
	CallStatusRinging    = "ringing"
	CallStatusInProgress = "in-progress"
	CallStatusCompleted  = "completed"
	CallStatusBusy       = "busy"
	CallStatusFailed     = "failed"
	CallStatusNoAnswer   = "no-answer"
	CallStatusCanceled   = "canceled"
)

// callsAPI is the part of the Twilio REST client the dialer needs
type callsAPI interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
	UpdateCall(sid string, params *twilioApi.UpdateCallParams) (*twilioApi.ApiV2010Call, error)
}

// TwilioConfig configures the Twilio dialer
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string

	// PublicURL is the externally reachable base URL of this server
	// (e.g. https://bot.example.com). Media and status callbacks are
	// derived from it.
	PublicURL string

	// RingTimeout is how long the specialist's phone rings, in seconds
	RingTimeout int
}

// TwilioDialer implements transfer.Dialer with the Twilio Calls API.
// The specialist call streams its audio back to /media as the specialist
// leg of the session and reports progress to /dial-status.
type TwilioDialer struct {
	api    callsAPI
	config TwilioConfig
	log    *logger.Logger
}

// NewTwilioDialer creates a dialer backed by the Twilio REST client
func NewTwilioDialer(config TwilioConfig) (*TwilioDialer, error) {
	if config.AccountSID == "" || config.AuthToken == "" {
		return nil, fmt.Errorf("twilio account sid and auth token are required")
	}
	if config.FromNumber == "" {
		return nil, fmt.Errorf("twilio from number is required")
	}
	if _, err := url.Parse(config.PublicURL); err != nil || config.PublicURL == "" {
		return nil, fmt.Errorf("invalid public url %q", config.PublicURL)
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: config.AccountSID,
		Password: config.AuthToken,
	})
	return newTwilioDialer(client.Api, config), nil
}

func newTwilioDialer(api callsAPI, config TwilioConfig) *TwilioDialer {
	if config.RingTimeout <= 0 {
		config.RingTimeout = 30
	}
	return &TwilioDialer{
		api:    api,
		config: config,
		log:    logger.WithPrefix("TwilioDialer"),
	}
}

// StartDial places the call to the specialist
func (d *TwilioDialer) StartDial(ctx context.Context, req transfer.DialRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	twiml, err := StreamTwiML(MediaStreamURL(d.config.PublicURL), req.SessionID, frames.LegSpecialist)
	if err != nil {
		return "", fmt.Errorf("build specialist twiml: %w", err)
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(d.config.FromNumber)
	params.SetTwiml(twiml)
	params.SetTimeout(d.config.RingTimeout)
	params.SetStatusCallback(StatusCallbackURL(d.config.PublicURL, req.SessionID))
	params.SetStatusCallbackMethod("POST")
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	if req.Extension != "" {
		// Wait a second after pickup before sending the extension
		params.SetSendDigits("w" + req.Extension)
	}

	call, err := d.api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("create call to %s: %w", req.Target, err)
	}
	if call == nil || call.Sid == nil {
		return "", fmt.Errorf("create call to %s: no call sid returned", req.Target)
	}

	d.log.Info("Dialing %s (%s) call=%s session=%s", req.Target, req.To, *call.Sid, req.SessionID)
	return *call.Sid, nil
}

// CancelDial stops a ringing call or hangs up an answered one
func (d *TwilioDialer) CancelDial(ctx context.Context, callID string) error {
	if err := d.updateStatus(callID, CallStatusCompleted); err != nil {
		// A call that has not been answered yet may only be canceled
		if cerr := d.updateStatus(callID, CallStatusCanceled); cerr != nil {
			return fmt.Errorf("cancel call %s: %w", callID, err)
		}
	}
	d.log.Info("Cancelled call %s", callID)
	return nil
}

// HangupCall ends an in-progress call such as the caller leg
func (d *TwilioDialer) HangupCall(ctx context.Context, callID string) error {
	if err := d.updateStatus(callID, CallStatusCompleted); err != nil {
		return fmt.Errorf("hang up call %s: %w", callID, err)
	}
	return nil
}

func (d *TwilioDialer) updateStatus(callID, status string) error {
	params := &twilioApi.UpdateCallParams{}
	params.SetStatus(status)
	_, err := d.api.UpdateCall(callID, params)
	return err
}
