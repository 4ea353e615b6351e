package aggregators

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/processors/processortest"
)

func newAggregator(t *testing.T, params *UserTurnParams) (*UserTurnAggregator, *processortest.Recorder, func(...frames.Frame)) {
	t.Helper()
	u := NewUserTurnAggregator(params)
	rec := processortest.NewRecorder("sink")
	u.Link(rec)
	send := func(fs ...frames.Frame) {
		for _, f := range fs {
			require.NoError(t, u.HandleFrame(context.Background(), f, frames.Downstream))
		}
	}
	return u, rec, send
}

func TestTurnIsOneTranscription(t *testing.T) {
	u, rec, send := newAggregator(t, nil)

	send(
		frames.NewUserStartedSpeakingFrame(),
		frames.NewTranscriptionFrame("I need", false),
		frames.NewTranscriptionFrame("I need help", true),
		frames.NewTranscriptionFrame("with my bill", true),
		frames.NewTranscriptionFrame("  ", true),
	)
	assert.Equal(t, []string{"UserStartedSpeakingFrame"}, rec.Names(), "nothing reaches the LLM mid-turn")
	assert.Equal(t, "I need help with my bill", u.Aggregation())

	send(frames.NewUserStoppedSpeakingFrame())
	assert.Equal(t,
		[]string{"UserStartedSpeakingFrame", "TranscriptionFrame", "UserStoppedSpeakingFrame"},
		rec.Names())
	turn := processortest.Of[*frames.TranscriptionFrame](rec)
	require.Len(t, turn, 1)
	assert.Equal(t, "I need help with my bill", turn[0].Text)
	assert.True(t, turn[0].IsFinal)
	assert.Empty(t, u.Aggregation())

	// An empty turn pushes nothing
	rec.Reset()
	send(frames.NewUserStartedSpeakingFrame(), frames.NewUserStoppedSpeakingFrame())
	assert.Empty(t, processortest.Of[*frames.TranscriptionFrame](rec))
}

func TestLateFinalFlushesAfterTimeout(t *testing.T) {
	_, rec, send := newAggregator(t, &UserTurnParams{
		AggregationTimeout: 10 * time.Millisecond,
		TurnTimeout:        time.Hour,
	})

	send(frames.NewTranscriptionFrame("transfer me to sales", true))
	assert.Empty(t, rec.Frames())

	require.Eventually(t, func() bool {
		return len(processortest.Of[*frames.TranscriptionFrame](rec)) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, "transfer me to sales", processortest.Of[*frames.TranscriptionFrame](rec)[0].Text)
}

func TestMissingTurnEndFlushesAfterTurnTimeout(t *testing.T) {
	_, rec, send := newAggregator(t, &UserTurnParams{
		AggregationTimeout: time.Hour,
		TurnTimeout:        10 * time.Millisecond,
	})

	send(frames.NewUserStartedSpeakingFrame(), frames.NewTranscriptionFrame("hello", true))
	require.Eventually(t, func() bool {
		return len(processortest.Of[*frames.TranscriptionFrame](rec)) == 1
	}, time.Second, time.Millisecond)
}

func TestHoldDropsOpenTurn(t *testing.T) {
	u, rec, send := newAggregator(t, nil)

	send(
		frames.NewUserStartedSpeakingFrame(),
		frames.NewTranscriptionFrame("wait one more", true),
		frames.NewSTTMuteFrame(true),
		frames.NewTranscriptionFrame("late", true),
		frames.NewUserStoppedSpeakingFrame(),
	)
	assert.Empty(t, processortest.Of[*frames.TranscriptionFrame](rec))
	assert.Len(t, processortest.Of[*frames.STTMuteFrame](rec), 1, "mute passes on")
	assert.Empty(t, u.Aggregation())

	send(
		frames.NewSTTMuteFrame(false),
		frames.NewUserStartedSpeakingFrame(),
		frames.NewTranscriptionFrame("still there?", true),
		frames.NewUserStoppedSpeakingFrame(),
	)
	turns := processortest.Of[*frames.TranscriptionFrame](rec)
	require.Len(t, turns, 1)
	assert.Equal(t, "still there?", turns[0].Text)
}

func TestUpstreamAndOtherFramesPass(t *testing.T) {
	u, rec, send := newAggregator(t, nil)

	send(frames.NewInterruptionFrame(), frames.NewLLMRunFrame())
	assert.Equal(t, []string{"InterruptionFrame", "LLMRunFrame"}, rec.Names())

	up := processortest.NewRecorder("up")
	u.SetPrev(up)
	require.NoError(t, u.HandleFrame(context.Background(), frames.NewTranscriptionFrame("x", true), frames.Upstream))
	assert.Len(t, up.Frames(), 1)
}
