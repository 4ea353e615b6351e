package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
)

var sales = TransferTarget{Name: "Sales", PhoneNumber: "+15551230000", Description: "New orders"}

type harness struct {
	c       *Coordinator
	conv    *fakeConversation
	dialer  *fakeDialer
	hold    *fakeHold
	router  *fakeRouter
	metrics *Metrics
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	cfg := Config{Targets: []TransferTarget{sales}}
	for _, m := range mutate {
		m(&cfg)
	}
	h := &harness{
		conv:    &fakeConversation{},
		dialer:  &fakeDialer{},
		hold:    &fakeHold{},
		router:  &fakeRouter{},
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	h.c = NewCoordinator(cfg, Dependencies{
		SessionID:    "test-session",
		Conversation: h.conv,
		Dialer:       h.dialer,
		Hold:         h.hold,
		Router:       h.router,
		Metrics:      h.metrics,
	})
	return h
}

// send drives the state machine synchronously, as the processor goroutine would
func (h *harness) send(t *testing.T, fs ...frames.Frame) {
	t.Helper()
	for _, f := range fs {
		require.NoError(t, h.c.HandleFrame(context.Background(), f, frames.Downstream))
	}
}

func (h *harness) startTransfer(t *testing.T, summary string) {
	t.Helper()
	h.send(t, NewStartTransferFrame(sales, summary))
}

func botStopped() frames.Frame {
	return frames.NewBotStoppedSpeakingFrame("utt", frames.LegCaller)
}

func TestScenarioHappyPath(t *testing.T) {
	h := newHarness(t)

	h.startTransfer(t, "billing question")
	assert.Equal(t, []string{DefaultHoldMessage}, h.conv.Spoken())
	assert.Equal(t, HoldingCustomer, h.c.State())
	assert.Empty(t, h.hold.Calls(), "hold waits for the hold message to finish")
	assert.Empty(t, h.dialer.Requests())

	h.send(t, botStopped())
	assert.Equal(t, []bool{true}, h.hold.Calls())
	require.Len(t, h.dialer.Requests(), 1)
	assert.Equal(t, "+15551230000", h.dialer.Requests()[0].To)
	assert.Equal(t, "test-session", h.dialer.Requests()[0].SessionID)
	assert.Equal(t, []bool{true}, h.router.Mixer())
	assert.Equal(t, []frames.AudioDestination{frames.DestinationSpecialist}, h.router.Routes())

	h.send(t, frames.NewDialoutAnsweredFrame("CA1"))
	spoken := h.conv.Spoken()
	require.Len(t, spoken, 2)
	assert.Contains(t, spoken[1], "billing question")
	assert.Contains(t, spoken[1], DefaultConnectingMessage)
	assert.Equal(t, TalkingToAgent, h.c.State())
	assert.Equal(t, []bool{true, false}, h.router.Mixer())

	h.send(t, botStopped())
	assert.Equal(t, []bool{true, false}, h.hold.Calls())
	assert.Equal(t, Connected, h.c.State())
	assert.Equal(t, frames.DestinationBoth, h.router.Routes()[len(h.router.Routes())-1])
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TransfersTotal.WithLabelValues(OutcomeConnected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.DialAttempts))
}

func TestScenarioAllRetriesFail(t *testing.T) {
	h := newHarness(t)

	h.startTransfer(t, "billing question")
	h.send(t, botStopped())

	for i := 1; i <= DefaultMaxRetries; i++ {
		h.send(t, frames.NewDialoutErrorFrame(h.c.dialoutCallID(), "busy"))
	}

	assert.Len(t, h.dialer.Requests(), DefaultMaxRetries)
	assert.Equal(t, []bool{true, false}, h.hold.Calls())
	spoken := h.conv.Spoken()
	assert.Equal(t, DefaultTransferFailedMessage, spoken[len(spoken)-1])
	assert.Equal(t, TalkingToCustomer, h.c.State())
	assert.Nil(t, h.c.Session().Target)
	assert.Empty(t, h.c.Session().Summary)
	assert.Equal(t, []bool{true, false}, h.router.Mixer())
	assert.Equal(t, frames.DestinationCaller, h.router.Routes()[len(h.router.Routes())-1])
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TransfersTotal.WithLabelValues(OutcomeFailed)))
}

func TestScenarioCustomerLeavesMidTransfer(t *testing.T) {
	h := newHarness(t)

	h.startTransfer(t, "billing question")
	h.send(t, botStopped())
	require.Equal(t, []bool{true}, h.hold.Calls())

	h.send(t, frames.NewCustomerLeftFrame("hangup"))
	assert.Equal(t, 1, h.conv.EndCalls())
	assert.Equal(t, []string{"CA1"}, h.dialer.Cancels())

	// Late provider events and a second hangup are no-ops
	h.send(t,
		frames.NewDialoutErrorFrame("CA1", "canceled"),
		frames.NewDialoutAnsweredFrame("CA1"),
		frames.NewCustomerLeftFrame("stop"),
	)
	assert.Equal(t, 1, h.conv.EndCalls())
	assert.Len(t, h.dialer.Requests(), 1)
	assert.True(t, h.c.Session().Closed)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TransfersTotal.WithLabelValues(OutcomeAbandoned)),
		"a second hangup after close is not another abandonment")
	assert.Equal(t, []bool{true, false}, h.hold.Calls())
	assert.Equal(t, []bool{true, false}, h.router.Mixer())
}

func TestUnknownTargetIsCorrectedWithoutStateChange(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Targets = append(c.Targets, TransferTarget{Name: "Support", PhoneNumber: "+15551230001"})
	})

	err := h.c.InitiateTransfer(context.Background(), "Nonexistent Team", "x")
	require.ErrorIs(t, err, ErrUnknownTarget)

	assert.Equal(t, TalkingToCustomer, h.c.State())
	assert.Empty(t, h.hold.Calls())
	assert.Empty(t, h.dialer.Requests())
	assert.Empty(t, h.conv.Spoken())
	require.Len(t, h.conv.system, 1)
	assert.Equal(t,
		"Transfer target 'Nonexistent Team' not found. Available targets are: Sales, Support. Please try again with a valid target name.",
		h.conv.system[0])
}

func TestInitiateTransferIsCaseInsensitive(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.c.Start(ctx))
	defer h.c.Stop()

	require.NoError(t, h.c.InitiateTransfer(ctx, "sALES", "upgrade"))

	assert.Eventually(t, func() bool { return h.c.State() == HoldingCustomer }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Sales", h.c.Session().Target.Name)
	assert.Equal(t, "upgrade", h.c.Session().Summary)

	err := h.c.InitiateTransfer(ctx, "Sales", "again")
	assert.ErrorIs(t, err, ErrTransferInProgress)
}

func TestSecondTransferIsIgnored(t *testing.T) {
	h := newHarness(t)

	h.startTransfer(t, "first")
	h.send(t, botStopped())
	h.send(t, NewStartTransferFrame(sales, "second"))

	assert.Equal(t, "first", h.c.Session().Summary)
	assert.Len(t, h.conv.Spoken(), 1)
	assert.Len(t, h.dialer.Requests(), 1)
	assert.Equal(t, HoldingCustomer, h.c.State())
}

func TestBotStoppedSpeakingOutsideTransferIsIgnored(t *testing.T) {
	h := newHarness(t)

	h.send(t, botStopped(), botStopped())

	assert.Equal(t, TalkingToCustomer, h.c.State())
	assert.Empty(t, h.hold.Calls())
	assert.Empty(t, h.dialer.Requests())
}

func TestDialoutStopped(t *testing.T) {
	t.Run("before answer falls back to caller", func(t *testing.T) {
		h := newHarness(t)
		h.startTransfer(t, "s")
		h.send(t, botStopped(), frames.NewDialoutStoppedFrame("CA1"))

		assert.Equal(t, TalkingToCustomer, h.c.State())
		assert.Equal(t, []bool{true, false}, h.hold.Calls())
		assert.Equal(t, 0, h.conv.EndCalls())
	})

	t.Run("during briefing falls back to caller", func(t *testing.T) {
		h := newHarness(t)
		h.startTransfer(t, "s")
		h.send(t, botStopped(), frames.NewDialoutAnsweredFrame("CA1"), frames.NewDialoutStoppedFrame("CA1"))

		assert.Equal(t, TalkingToCustomer, h.c.State())
		assert.Equal(t, []bool{true, false}, h.hold.Calls())
		spoken := h.conv.Spoken()
		assert.Equal(t, DefaultTransferFailedMessage, spoken[len(spoken)-1])
	})

	t.Run("after connect ends the call", func(t *testing.T) {
		h := newHarness(t)
		h.startTransfer(t, "s")
		h.send(t, botStopped(), frames.NewDialoutAnsweredFrame("CA1"), botStopped())
		require.Equal(t, Connected, h.c.State())

		h.send(t, frames.NewDialoutStoppedFrame("CA1"))
		assert.Equal(t, 1, h.conv.EndCalls())
		assert.Empty(t, h.dialer.Cancels(), "the specialist call is already over")
	})
}

func TestDialErrorAfterAnswerFails(t *testing.T) {
	h := newHarness(t)
	h.startTransfer(t, "s")
	h.send(t, botStopped(), frames.NewDialoutAnsweredFrame("CA1"), frames.NewDialoutErrorFrame("CA1", "failed"))

	assert.Equal(t, TalkingToCustomer, h.c.State())
	assert.Len(t, h.dialer.Requests(), 1, "answered calls are never redialed")
	assert.Equal(t, []string{"CA1"}, h.dialer.Cancels(), "the answered leg is hung up")
	assert.Equal(t, DefaultTransferFailedMessage, h.conv.Spoken()[len(h.conv.Spoken())-1])
}

func TestEventsForOtherCallsAreIgnored(t *testing.T) {
	h := newHarness(t)
	h.startTransfer(t, "s")
	h.send(t, botStopped())
	h.send(t, frames.NewDialoutErrorFrame("CA1", "busy"))
	require.Equal(t, "CA2", h.c.dialoutCallID())

	h.send(t, frames.NewDialoutAnsweredFrame("CA1"))
	assert.Equal(t, HoldingCustomer, h.c.State(), "answer of a superseded attempt")

	h.send(t, frames.NewDialoutAnsweredFrame("CA2"))
	assert.Equal(t, TalkingToAgent, h.c.State())
}

func TestRetriedTransferAfterFailure(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Dialout.MaxRetries = 1 })

	h.startTransfer(t, "first")
	h.send(t, botStopped(), frames.NewDialoutErrorFrame("CA1", "no-answer"))
	require.Equal(t, TalkingToCustomer, h.c.State())

	h.startTransfer(t, "second")
	h.send(t, botStopped())
	require.Len(t, h.dialer.Requests(), 2)

	// A late event of the first transfer must not touch the second one
	h.send(t, frames.NewDialoutAnsweredFrame("CA1"))
	assert.Equal(t, HoldingCustomer, h.c.State())
}

func TestRingbackAudible(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.RingbackAudible = true })
	h.startTransfer(t, "s")
	h.send(t, botStopped(), frames.NewDialoutConnectedFrame("CA1"))

	assert.Equal(t, []bool{true}, h.router.Mixer())
	assert.Equal(t, 1, h.router.Ringbacks())
	assert.Equal(t, HoldingCustomer, h.c.State())

	// The attempt fails while ringing; hold music resumes for the redial
	h.send(t, frames.NewDialoutErrorFrame("CA1", "no-answer"))
	assert.Equal(t, []bool{true, true}, h.router.Mixer())
	require.Len(t, h.dialer.Requests(), 2)

	h.send(t, frames.NewDialoutConnectedFrame("CA2"))
	assert.Equal(t, 2, h.router.Ringbacks())

	h.send(t, frames.NewDialoutAnsweredFrame("CA2"))
	assert.Equal(t, []bool{true, true, false}, h.router.Mixer())
}

func TestRingingKeepsHoldMusicByDefault(t *testing.T) {
	h := newHarness(t)
	h.startTransfer(t, "s")
	h.send(t, botStopped(), frames.NewDialoutConnectedFrame("CA1"))

	assert.Equal(t, []bool{true}, h.router.Mixer())
	assert.Zero(t, h.router.Ringbacks())
}

func TestCustomerLeftWhileConnectedHangsUpSpecialist(t *testing.T) {
	h := newHarness(t)
	h.startTransfer(t, "s")
	h.send(t, botStopped(), frames.NewDialoutAnsweredFrame("CA1"), botStopped())
	h.send(t, frames.NewCustomerLeftFrame("stop"))

	assert.Equal(t, 1, h.conv.EndCalls())
	assert.Equal(t, []string{"CA1"}, h.dialer.Cancels())
}

func TestCustomerLeftWithoutTransfer(t *testing.T) {
	h := newHarness(t)
	h.send(t, frames.NewCustomerLeftFrame("stop"))

	assert.Equal(t, 1, h.conv.EndCalls())
	assert.Empty(t, h.dialer.Cancels())
	assert.ErrorIs(t, h.c.InitiateTransfer(context.Background(), "Sales", "x"), ErrSessionClosed)
}

func TestDialStartErrorsAreRetried(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Dialout.MaxRetries = 3 })
	h.dialer.failWith = errBusy

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.c.Start(ctx))
	defer h.c.Stop()

	require.NoError(t, h.c.QueueFrame(NewStartTransferFrame(sales, "s"), frames.Downstream))
	require.NoError(t, h.c.QueueFrame(botStopped(), frames.Downstream))

	assert.Eventually(t, func() bool {
		return h.c.State() == TalkingToCustomer && len(h.hold.Calls()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, h.dialer.Requests(), 3)
}

func TestHoldSymmetry(t *testing.T) {
	paths := map[string][]frames.Frame{
		"connected":     {botStopped(), frames.NewDialoutAnsweredFrame("CA1"), botStopped()},
		"stopped":       {botStopped(), frames.NewDialoutStoppedFrame("CA1")},
		"customer left": {botStopped(), frames.NewCustomerLeftFrame("stop")},
	}

	for name, events := range paths {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.startTransfer(t, "s")
			h.send(t, events...)
			assert.Equal(t, []bool{true, false}, h.hold.Calls())
		})
	}
}

func TestTerminateCallTool(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.c.Start(ctx))
	defer h.c.Stop()

	tools := NewTools(h.c)
	res, err := tools.Call(ctx, ToolTerminateCall, nil)
	require.NoError(t, err)
	assert.Equal(t, "ending", res["status"])

	assert.Eventually(t, func() bool { return h.conv.EndCalls() == 1 }, time.Second, 5*time.Millisecond)
}

func TestInitiateTransferTool(t *testing.T) {
	h := newHarness(t)

	res, err := NewTools(h.c).Call(context.Background(), ToolInitiateWarmTransfer, map[string]any{
		"target_name": "Marketing",
		"summary":     "x",
	})
	require.NoError(t, err)
	assert.Equal(t, "unknown_target", res["status"])
	assert.Equal(t, []string{"Sales"}, res["available"])

	res, err = NewTools(h.c).Call(context.Background(), "transfer_to_moon", nil)
	require.NoError(t, err)
	assert.Contains(t, res["error"], "transfer_to_moon")
}
