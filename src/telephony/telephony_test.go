package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/transfer"
)

type fakeCalls struct {
	created   []*twilioApi.CreateCallParams
	updates   []string
	updateErr map[string]error
}

func (f *fakeCalls) CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error) {
	f.created = append(f.created, params)
	sid := "CA123"
	return &twilioApi.ApiV2010Call{Sid: &sid}, nil
}

func (f *fakeCalls) UpdateCall(sid string, params *twilioApi.UpdateCallParams) (*twilioApi.ApiV2010Call, error) {
	f.updates = append(f.updates, sid+":"+*params.Status)
	if err := f.updateErr[*params.Status]; err != nil {
		return nil, err
	}
	return &twilioApi.ApiV2010Call{Sid: &sid}, nil
}

func testDialer(api callsAPI) *TwilioDialer {
	return newTwilioDialer(api, TwilioConfig{
		FromNumber: "+15550000000",
		PublicURL:  "https://bot.example.com/",
	})
}

func TestStartDial(t *testing.T) {
	api := &fakeCalls{}
	d := testDialer(api)

	callID, err := d.StartDial(context.Background(), transfer.DialRequest{
		SessionID: "sess-1",
		Target:    "Sales",
		To:        "+15551230000",
		Extension: "42",
	})
	require.NoError(t, err)
	assert.Equal(t, "CA123", callID)

	require.Len(t, api.created, 1)
	p := api.created[0]
	assert.Equal(t, "+15551230000", *p.To)
	assert.Equal(t, "+15550000000", *p.From)
	assert.Equal(t, "w42", *p.SendDigits)
	assert.Equal(t, 30, *p.Timeout)
	assert.Equal(t, "https://bot.example.com/dial-status?session=sess-1", *p.StatusCallback)
	assert.Contains(t, *p.Twiml, `url="wss://bot.example.com/media"`)
	assert.Contains(t, *p.Twiml, `value="sess-1"`)
	assert.Contains(t, *p.Twiml, `value="specialist"`)
}

func TestStartDialHonorsCancelledContext(t *testing.T) {
	api := &fakeCalls{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testDialer(api).StartDial(ctx, transfer.DialRequest{To: "+15551230000"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, api.created)
}

func TestCancelDialFallsBackToCanceled(t *testing.T) {
	api := &fakeCalls{updateErr: map[string]error{CallStatusCompleted: errors.New("call not in progress")}}

	require.NoError(t, testDialer(api).CancelDial(context.Background(), "CA9"))
	assert.Equal(t, []string{"CA9:completed", "CA9:canceled"}, api.updates)
}

func TestHangupCall(t *testing.T) {
	api := &fakeCalls{}
	require.NoError(t, testDialer(api).HangupCall(context.Background(), "CAcaller"))
	assert.Equal(t, []string{"CAcaller:completed"}, api.updates)
}

func TestMediaStreamURL(t *testing.T) {
	assert.Equal(t, "wss://bot.example.com/media", MediaStreamURL("https://bot.example.com/"))
	assert.Equal(t, "ws://localhost:8765/media", MediaStreamURL("http://localhost:8765"))
}

func TestFrameForStatus(t *testing.T) {
	tests := []struct {
		status string
		want   string
	}{
		{CallStatusQueued, ""},
		{CallStatusInitiated, ""},
		{CallStatusRinging, "DialoutConnectedFrame"},
		{CallStatusInProgress, "DialoutAnsweredFrame"},
		{CallStatusCompleted, "DialoutStoppedFrame"},
		{CallStatusBusy, "DialoutErrorFrame"},
		{CallStatusFailed, "DialoutErrorFrame"},
		{CallStatusNoAnswer, "DialoutErrorFrame"},
		{CallStatusCanceled, "DialoutErrorFrame"},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			f := FrameForStatus("CA1", tt.status, "")
			if tt.want == "" {
				assert.Nil(t, f)
				return
			}
			require.NotNil(t, f)
			assert.Equal(t, tt.want, f.Name())
		})
	}

	errFrame := FrameForStatus("CA1", CallStatusFailed, "invalid number").(*frames.DialoutErrorFrame)
	assert.Equal(t, "CA1", errFrame.CallID)
	assert.Equal(t, "failed: invalid number", errFrame.Reason)
}

type fakeSink struct {
	mu     sync.Mutex
	events map[string][]frames.Frame
	err    error
}

func (s *fakeSink) DeliverDialEvent(sessionID string, frame frames.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.events == nil {
		s.events = make(map[string][]frames.Frame)
	}
	s.events[sessionID] = append(s.events[sessionID], frame)
	return nil
}

func postStatus(h http.Handler, target string, form url.Values, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set("X-Twilio-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusHandlerDeliversEvents(t *testing.T) {
	sink := &fakeSink{}
	h := NewStatusHandler(sink, "", "https://bot.example.com")

	rec := postStatus(h, "/dial-status?session=s1", url.Values{"CallSid": {"CA1"}, "CallStatus": {"in-progress"}}, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = postStatus(h, "/dial-status?session=s1", url.Values{"CallSid": {"CA1"}, "CallStatus": {"initiated"}}, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	require.Len(t, sink.events["s1"], 1)
	answered, ok := sink.events["s1"][0].(*frames.DialoutAnsweredFrame)
	require.True(t, ok)
	assert.Equal(t, "CA1", answered.CallID)
}

func TestStatusHandlerUnknownSession(t *testing.T) {
	h := NewStatusHandler(&fakeSink{err: ErrUnknownSession}, "", "https://bot.example.com")
	rec := postStatus(h, "/dial-status?session=gone", url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestStatusHandlerRejectsGet(t *testing.T) {
	h := NewStatusHandler(&fakeSink{}, "", "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dial-status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// sign computes X-Twilio-Signature: HMAC-SHA1 over the URL followed by the
// sorted form keys and values
func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestStatusHandlerSignature(t *testing.T) {
	sink := &fakeSink{}
	h := NewStatusHandler(sink, "secret", "https://bot.example.com")
	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"busy"}}

	rec := postStatus(h, "/dial-status?session=s1", form, "bogus")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, sink.events)

	sig := sign("secret", "https://bot.example.com/dial-status?session=s1", form)
	rec = postStatus(h, "/dial-status?session=s1", form, sig)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, sink.events["s1"], 1)
}

func TestCallerTwiML(t *testing.T) {
	xml, err := CallerTwiML("wss://bot.example.com/media", "sess-9", "+15557654321")
	require.NoError(t, err)

	assert.Contains(t, xml, "<Connect>")
	assert.Contains(t, xml, `url="wss://bot.example.com/media"`)
	for _, want := range []string{`"session"`, `"sess-9"`, `"leg"`, `"caller"`, `"from"`, `"+15557654321"`} {
		assert.Contains(t, xml, want)
	}
}
