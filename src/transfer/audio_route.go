package transfer

import (
	"context"
	"sync"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/processors"
)

// AudioRouter controls the hold-music mixer and where bot speech is played
type AudioRouter interface {
	// SetMixer plays hold music to the caller or stops the hold bed
	SetMixer(on bool)
	// PlayRingback replaces hold music with a ringback tone until the next
	// SetMixer
	PlayRingback()
	RouteBotAudio(dest frames.AudioDestination)
}

// AudioRouteController sits between TTS and the output transport. It stamps
// synthesized audio with the current destination and forwards mixer and
// route changes to the transport as control frames.
type AudioRouteController struct {
	*processors.BaseProcessor

	mu     sync.RWMutex
	mixer  bool
	source frames.HoldAudio
	dest   frames.AudioDestination
}

func NewAudioRouteController() *AudioRouteController {
	c := &AudioRouteController{dest: frames.DestinationCaller}
	c.BaseProcessor = processors.NewBaseProcessor("AudioRouteController", c)
	return c
}

func (c *AudioRouteController) SetMixer(on bool) {
	c.setHoldAudio(frames.NewMixerEnableFrame(on))
}

func (c *AudioRouteController) PlayRingback() {
	c.setHoldAudio(frames.NewRingbackFrame())
}

func (c *AudioRouteController) setHoldAudio(f *frames.MixerEnableFrame) {
	c.mu.Lock()
	changed := c.mixer != f.Enable || (f.Enable && c.source != f.Source)
	c.mixer = f.Enable
	if f.Enable {
		c.source = f.Source
	}
	c.mu.Unlock()
	if !changed {
		return
	}

	c.Logger().Info("Hold mixer: %t (%s)", f.Enable, f.Source)
	if err := c.PushFrame(f, frames.Downstream); err != nil {
		c.Logger().Warn("Failed to push mixer change: %v", err)
	}
}

func (c *AudioRouteController) RouteBotAudio(dest frames.AudioDestination) {
	c.mu.Lock()
	changed := c.dest != dest
	c.dest = dest
	c.mu.Unlock()
	if !changed {
		return
	}

	c.Logger().Info("Bot audio routed to %s", dest)
	if err := c.PushFrame(frames.NewBotAudioRouteFrame(dest), frames.Downstream); err != nil {
		c.Logger().Warn("Failed to push route change: %v", err)
	}
}

// Mixer reports whether hold music is enabled
func (c *AudioRouteController) Mixer() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mixer
}

// HoldAudio returns what the mixer plays, or "" when it is off
func (c *AudioRouteController) HoldAudio() frames.HoldAudio {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.mixer {
		return ""
	}
	return c.source
}

// Destination returns where bot speech currently goes
func (c *AudioRouteController) Destination() frames.AudioDestination {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dest
}

func (c *AudioRouteController) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	if audio, ok := frame.(*frames.TTSAudioRawFrame); ok && audio.Destination == "" {
		audio.Destination = c.Destination()
	}
	return c.PushFrame(frame, direction)
}
