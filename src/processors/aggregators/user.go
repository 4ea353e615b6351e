package aggregators

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/processors"
)

// UserTurnParams holds configuration for the user turn aggregator
type UserTurnParams struct {
	AggregationTimeout time.Duration // Wait for late finals after the turn ended (default: 500ms)
	TurnTimeout        time.Duration // Flush when the end of a turn never arrives (default: 3s)
}

// DefaultUserTurnParams returns default parameters
func DefaultUserTurnParams() *UserTurnParams {
	return &UserTurnParams{
		AggregationTimeout: 500 * time.Millisecond,
		TurnTimeout:        3 * time.Second,
	}
}

// UserTurnAggregator sits between speech recognition and the LLM. Final
// transcriptions are buffered until UserStoppedSpeakingFrame and then
// pushed as one final TranscriptionFrame, so the LLM answers once per
// caller turn. Interim results are consumed. A turn open when STT is muted
// for hold is dropped.
type UserTurnAggregator struct {
	*processors.BaseProcessor
	params *UserTurnParams

	mu          sync.Mutex
	aggregation []string
	speaking    bool
	muted       bool
	timer       *time.Timer
}

// NewUserTurnAggregator creates a user turn aggregator. Nil params uses
// the defaults.
func NewUserTurnAggregator(params *UserTurnParams) *UserTurnAggregator {
	if params == nil {
		params = DefaultUserTurnParams()
	}
	u := &UserTurnAggregator{params: params}
	u.BaseProcessor = processors.NewOrderedProcessor("UserTurnAggregator", u)
	return u
}

func (u *UserTurnAggregator) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	if direction == frames.Upstream {
		return u.PushFrame(frame, direction)
	}

	switch f := frame.(type) {
	case *frames.TranscriptionFrame:
		text := strings.TrimSpace(f.Text)
		if !f.IsFinal || text == "" {
			return nil
		}
		u.mu.Lock()
		if u.muted {
			u.mu.Unlock()
			return nil
		}
		u.aggregation = append(u.aggregation, text)
		timeout := u.params.AggregationTimeout
		if u.speaking {
			timeout = u.params.TurnTimeout
		}
		u.armLocked(timeout)
		u.mu.Unlock()
		return nil

	case *frames.UserStartedSpeakingFrame:
		u.mu.Lock()
		u.speaking = true
		u.mu.Unlock()

	case *frames.UserStoppedSpeakingFrame:
		u.mu.Lock()
		u.speaking = false
		u.mu.Unlock()
		if err := u.flush(); err != nil {
			return err
		}

	case *frames.STTMuteFrame:
		u.mu.Lock()
		u.muted = f.Mute
		if f.Mute && len(u.aggregation) > 0 {
			u.Logger().Info("Dropping turn cut short by hold: %s", strings.Join(u.aggregation, " "))
			u.resetLocked()
		}
		u.mu.Unlock()

	case *frames.EndFrame, *frames.CancelFrame:
		u.mu.Lock()
		u.resetLocked()
		u.mu.Unlock()
	}

	return u.PushFrame(frame, direction)
}

// Aggregation returns the text buffered for the current turn
func (u *UserTurnAggregator) Aggregation() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return strings.Join(u.aggregation, " ")
}

// flush pushes the buffered turn as one final transcription
func (u *UserTurnAggregator) flush() error {
	u.mu.Lock()
	text := strings.Join(u.aggregation, " ")
	u.resetLocked()
	u.mu.Unlock()

	if text == "" {
		return nil
	}
	u.Logger().Debug("User turn: %s", text)
	return u.PushFrame(frames.NewTranscriptionFrame(text, true), frames.Downstream)
}

func (u *UserTurnAggregator) armLocked(timeout time.Duration) {
	if u.timer != nil {
		u.timer.Stop()
	}
	u.timer = time.AfterFunc(timeout, func() {
		if err := u.flush(); err != nil {
			u.Logger().Warn("Timed out turn dropped: %v", err)
		}
	})
}

func (u *UserTurnAggregator) resetLocked() {
	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}
	u.aggregation = nil
}
