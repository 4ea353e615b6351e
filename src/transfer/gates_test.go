package transfer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/processors/processortest"
)

func TestHoldGate(t *testing.T) {
	g := NewHoldGate()
	rec := processortest.NewRecorder("sink")
	g.Link(rec)
	ctx := context.Background()

	callerAudio := frames.NewInputAudioRawFrame([]byte{0xff}, 8000, 1, frames.LegCaller)
	specialistAudio := frames.NewInputAudioRawFrame([]byte{0xff}, 8000, 1, frames.LegSpecialist)

	send := func(fs ...frames.Frame) {
		for _, f := range fs {
			require.NoError(t, g.HandleFrame(ctx, f, frames.Downstream))
		}
	}

	send(callerAudio, frames.NewUserStartedSpeakingFrame())
	assert.Len(t, rec.Frames(), 2, "everything passes while not on hold")
	rec.Reset()

	g.SetHold(true)
	g.SetHold(true)
	assert.True(t, g.OnHold())
	mutes := processortest.Of[*frames.STTMuteFrame](rec)
	require.Len(t, mutes, 1, "one mute per toggle")
	assert.True(t, mutes[0].Mute)
	rec.Reset()

	send(
		callerAudio,
		frames.NewUserStartedSpeakingFrame(),
		frames.NewInterruptionFrame(),
		frames.NewUserStoppedSpeakingFrame(),
		specialistAudio,
		frames.NewTranscriptionFrame("late", true),
	)
	assert.Equal(t,
		[]string{"UserStoppedSpeakingFrame", "InputAudioRawFrame", "TranscriptionFrame"},
		rec.Names())
	assert.Same(t, specialistAudio, rec.Frames()[1])
	rec.Reset()

	// Upstream frames are never gated
	require.NoError(t, g.HandleFrame(ctx, frames.NewInterruptionFrame(), frames.Upstream))
	assert.Empty(t, rec.Frames(), "upstream goes to the previous processor")

	g.SetHold(false)
	mutes = processortest.Of[*frames.STTMuteFrame](rec)
	require.Len(t, mutes, 1)
	assert.False(t, mutes[0].Mute)
	rec.Reset()

	send(callerAudio)
	assert.Len(t, rec.Frames(), 1)
}

func TestAudioRouteController(t *testing.T) {
	c := NewAudioRouteController()
	rec := processortest.NewRecorder("sink")
	c.Link(rec)
	ctx := context.Background()

	assert.Equal(t, frames.DestinationCaller, c.Destination())
	assert.False(t, c.Mixer())

	hold := frames.NewTTSAudioRawFrame([]byte{1}, 8000, 1, "u1")
	require.NoError(t, c.HandleFrame(ctx, hold, frames.Downstream))
	assert.Equal(t, frames.DestinationCaller, hold.Destination)

	c.SetMixer(true)
	c.SetMixer(true)
	c.RouteBotAudio(frames.DestinationSpecialist)

	briefing := frames.NewTTSAudioRawFrame([]byte{2}, 8000, 1, "u2")
	require.NoError(t, c.HandleFrame(ctx, briefing, frames.Downstream))
	assert.Equal(t, frames.DestinationSpecialist, briefing.Destination)

	pinned := frames.NewTTSAudioRawFrame([]byte{3}, 8000, 1, "u3")
	pinned.Destination = frames.DestinationCaller
	require.NoError(t, c.HandleFrame(ctx, pinned, frames.Downstream))
	assert.Equal(t, frames.DestinationCaller, pinned.Destination, "explicit destinations are kept")

	assert.Equal(t,
		[]string{"TTSAudioRawFrame", "MixerEnableFrame", "BotAudioRouteFrame", "TTSAudioRawFrame", "TTSAudioRawFrame"},
		rec.Names())

	routes := processortest.Of[*frames.BotAudioRouteFrame](rec)
	require.Len(t, routes, 1)
	assert.Equal(t, frames.DestinationSpecialist, routes[0].Destination)
}

func TestAudioRouteControllerRingback(t *testing.T) {
	c := NewAudioRouteController()
	rec := processortest.NewRecorder("sink")
	c.Link(rec)

	c.SetMixer(true)
	assert.Equal(t, frames.HoldAudioMusic, c.HoldAudio())
	c.PlayRingback()
	c.PlayRingback()
	assert.Equal(t, frames.HoldAudioRingback, c.HoldAudio())
	c.SetMixer(true)
	c.SetMixer(false)
	assert.Equal(t, frames.HoldAudio(""), c.HoldAudio())

	mixes := processortest.Of[*frames.MixerEnableFrame](rec)
	require.Len(t, mixes, 4, "a source change is a mixer change")
	got := make([]frames.HoldAudio, 0, len(mixes))
	for _, m := range mixes {
		if m.Enable {
			got = append(got, m.Source)
		} else {
			got = append(got, "off")
		}
	}
	assert.Equal(t, []frames.HoldAudio{frames.HoldAudioMusic, frames.HoldAudioRingback, frames.HoldAudioMusic, "off"}, got)
}
