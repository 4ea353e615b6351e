package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
)

type fakeConversation struct {
	mu       sync.Mutex
	spoken   []string
	system   []string
	endCalls int
}

func (f *fakeConversation) Speak(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
	return nil
}

func (f *fakeConversation) AppendSystemMessage(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.system = append(f.system, text)
	return nil
}

func (f *fakeConversation) EndCall(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endCalls++
	return nil
}

func (f *fakeConversation) Spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}

func (f *fakeConversation) EndCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endCalls
}

type fakeDialer struct {
	mu       sync.Mutex
	requests []DialRequest
	cancels  []string
	failWith error
}

func (f *fakeDialer) StartDial(ctx context.Context, req DialRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.failWith != nil {
		return "", f.failWith
	}
	return fmt.Sprintf("CA%d", len(f.requests)), nil
}

func (f *fakeDialer) CancelDial(ctx context.Context, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, callID)
	return nil
}

func (f *fakeDialer) Requests() []DialRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DialRequest(nil), f.requests...)
}

func (f *fakeDialer) Cancels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancels...)
}

type fakeHold struct {
	mu    sync.Mutex
	calls []bool
}

func (f *fakeHold) SetHold(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, on)
}

func (f *fakeHold) Calls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.calls...)
}

type fakeRouter struct {
	mu        sync.Mutex
	mixer     []bool
	ringbacks int
	routes    []frames.AudioDestination
}

func (f *fakeRouter) PlayRingback() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ringbacks++
}

func (f *fakeRouter) Ringbacks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ringbacks
}

func (f *fakeRouter) SetMixer(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mixer = append(f.mixer, on)
}

func (f *fakeRouter) RouteBotAudio(dest frames.AudioDestination) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes = append(f.routes, dest)
}

func (f *fakeRouter) Mixer() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.mixer...)
}

func (f *fakeRouter) Routes() []frames.AudioDestination {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]frames.AudioDestination(nil), f.routes...)
}

var errBusy = errors.New("busy")

func (c *Coordinator) dialoutCallID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.dialout == nil {
		return ""
	}
	return c.dialout.CallID()
}
