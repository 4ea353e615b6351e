package transfer

import (
	"context"
	"sync/atomic"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/processors"
)

// HoldController puts the caller on and off hold
type HoldController interface {
	SetHold(on bool)
}

// HoldGate drops caller input while the caller is on hold. It sits right
// after the transport input. Caller audio, UserStartedSpeakingFrame and
// InterruptionFrame are dropped; UserStoppedSpeakingFrame always passes so
// a caller turn open when hold starts still gets closed.
type HoldGate struct {
	*processors.BaseProcessor
	onHold atomic.Bool
}

func NewHoldGate() *HoldGate {
	g := &HoldGate{}
	g.BaseProcessor = processors.NewBaseProcessor("HoldGate", g)
	return g
}

// SetHold toggles hold and tells speech recognition to mute accordingly
func (g *HoldGate) SetHold(on bool) {
	if g.onHold.Swap(on) == on {
		return
	}
	g.Logger().Info("Customer hold: %t", on)
	if err := g.PushFrame(frames.NewSTTMuteFrame(on), frames.Downstream); err != nil {
		g.Logger().Warn("Failed to push STT mute: %v", err)
	}
}

// OnHold reports whether the caller is on hold
func (g *HoldGate) OnHold() bool {
	return g.onHold.Load()
}

func (g *HoldGate) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	if direction == frames.Downstream && g.onHold.Load() && suppressedOnHold(frame) {
		return nil
	}
	return g.PushFrame(frame, direction)
}

func suppressedOnHold(frame frames.Frame) bool {
	switch f := frame.(type) {
	case *frames.InputAudioRawFrame:
		return f.Leg == frames.LegCaller
	case *frames.UserStartedSpeakingFrame, *frames.InterruptionFrame:
		return true
	default:
		return false
	}
}
