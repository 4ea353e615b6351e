package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/processors"
)

// Conversation is how the coordinator talks through the agent
type Conversation interface {
	// Speak synthesizes text verbatim on the current bot audio route
	Speak(ctx context.Context, text string) error
	// AppendSystemMessage adds an instruction for the conversation engine
	// and lets it respond
	AppendSystemMessage(ctx context.Context, text string) error
	// EndCall terminates the session
	EndCall(ctx context.Context) error
}

// StartTransferFrame carries an accepted transfer request into the
// coordinator's queue
type StartTransferFrame struct {
	*frames.ControlFrame
	Target  TransferTarget
	Summary string
}

func NewStartTransferFrame(target TransferTarget, summary string) *StartTransferFrame {
	return &StartTransferFrame{
		ControlFrame: frames.NewControlFrame("StartTransferFrame"),
		Target:       target,
		Summary:      summary,
	}
}

// Dependencies are the collaborators of a Coordinator
type Dependencies struct {
	SessionID    string
	Conversation Conversation
	Dialer       Dialer
	Hold         HoldController
	Router       AudioRouter
	Metrics      *Metrics
}

// Coordinator is the warm transfer state machine of one call. Every event
// reaches it as a frame on a single ordered queue, so the state below is
// only touched by the processor goroutine. The mutex guards snapshots
// read by other goroutines.
type Coordinator struct {
	*processors.BaseProcessor
	cfg  Config
	deps Dependencies

	mu               sync.RWMutex
	state            TransferState
	target           *TransferTarget
	summary          string
	dialout          *DialoutManager
	retired          map[string]bool
	awaitingHold     bool
	awaitingBriefing bool
	transferStarted  time.Time
	closed           bool
	ended            bool
}

// NewCoordinator creates the coordinator of one call session. cfg is
// copied with defaults applied.
func NewCoordinator(cfg Config, deps Dependencies) *Coordinator {
	c := &Coordinator{
		cfg:     cfg.WithDefaults(),
		deps:    deps,
		state:   TalkingToCustomer,
		retired: make(map[string]bool),
	}
	c.BaseProcessor = processors.NewOrderedProcessor("TransferCoordinator", c)
	return c
}

// Config returns the session's transfer configuration
func (c *Coordinator) Config() Config {
	return c.cfg
}

// State returns the current transfer state
func (c *Coordinator) State() TransferState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Session returns a snapshot of the session
func (c *Coordinator) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Session{
		ID:      c.deps.SessionID,
		State:   c.state,
		Summary: c.summary,
		Closed:  c.closed,
	}
	if c.target != nil {
		t := *c.target
		s.Target = &t
	}
	if c.dialout != nil {
		s.DialoutAttempts = c.dialout.Attempts()
	}
	return s
}

// InitiateTransfer is called by the conversation engine. An unknown target
// name leaves the state untouched and sends the engine one corrective
// message. A known target is queued for the coordinator goroutine.
func (c *Coordinator) InitiateTransfer(ctx context.Context, targetName, summary string) error {
	c.mu.RLock()
	state, closed := c.state, c.closed
	c.mu.RUnlock()
	if closed {
		return ErrSessionClosed
	}

	target, ok := c.cfg.Lookup(targetName)
	if !ok {
		c.Logger().Warn("Transfer target %q not found", targetName)
		c.deps.Metrics.transfer(OutcomeRejected, time.Time{})
		if err := c.deps.Conversation.AppendSystemMessage(ctx, CorrectiveMessage(targetName, c.cfg.TargetNames())); err != nil {
			return fmt.Errorf("send corrective message: %w", err)
		}
		return fmt.Errorf("%w: %q", ErrUnknownTarget, targetName)
	}

	if state != TalkingToCustomer {
		c.Logger().Warn("Transfer to %s requested while %s", target.Name, state)
		return ErrTransferInProgress
	}

	c.Logger().Info("Initiating warm transfer to %s", target.Name)
	return c.QueueFrame(NewStartTransferFrame(target, summary), frames.Downstream)
}

// EndCall ends the session from the agent side (terminate_call)
func (c *Coordinator) EndCall(ctx context.Context, reason string) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrSessionClosed
	}
	return c.QueueFrame(newEndCallFrame(reason), frames.Downstream)
}

// endCallFrame asks the coordinator goroutine to end the call
type endCallFrame struct {
	*frames.ControlFrame
	reason string
}

func newEndCallFrame(reason string) *endCallFrame {
	return &endCallFrame{ControlFrame: frames.NewControlFrame("EndCallFrame"), reason: reason}
}

func (c *Coordinator) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	if direction != frames.Downstream {
		return c.PushFrame(frame, direction)
	}

	switch f := frame.(type) {
	case *StartTransferFrame:
		c.handleStartTransfer(ctx, f)
		return nil
	case *endCallFrame:
		c.endCall(ctx, f.reason)
		return nil
	case *frames.BotStoppedSpeakingFrame:
		c.handleBotStoppedSpeaking(ctx)
	case *frames.CustomerJoinedFrame:
		c.Logger().Info("Customer joined (call=%s from=%s)", f.CallID, f.From)
	case *frames.CustomerLeftFrame:
		c.handleCustomerLeft(ctx, f.Reason)
	case *frames.DialoutConnectedFrame:
		c.handleDialoutConnected(f.CallID)
		return nil
	case *frames.DialoutAnsweredFrame:
		c.handleDialoutAnswered(ctx, f.CallID)
		return nil
	case *frames.DialoutStoppedFrame:
		c.handleDialoutStopped(ctx, f.CallID)
		return nil
	case *frames.DialoutErrorFrame:
		c.handleDialoutError(ctx, f.CallID, f.Reason)
		return nil
	case *frames.EndFrame, *frames.CancelFrame:
		c.close(ctx)
	}

	return c.PushFrame(frame, direction)
}

func (c *Coordinator) handleStartTransfer(ctx context.Context, f *StartTransferFrame) {
	if c.isClosed() {
		return
	}
	if state := c.State(); state != TalkingToCustomer {
		c.Logger().Warn("Ignoring transfer to %s: %v (state=%s)", f.Target.Name, ErrTransferInProgress, state)
		return
	}

	target := f.Target
	mgr := NewDialoutManager(c.deps.Dialer, c.cfg.Dialout, c.reportDialError).withMetrics(c.deps.Metrics)

	c.mu.Lock()
	c.target = &target
	c.summary = f.Summary
	c.dialout = mgr
	c.state = HoldingCustomer
	c.awaitingHold = true
	c.transferStarted = time.Now()
	c.mu.Unlock()

	c.Logger().Info("Transfer to %s: speaking hold message", target.Name)
	c.speak(ctx, c.cfg.Messages.HoldMessage)
}

func (c *Coordinator) handleBotStoppedSpeaking(ctx context.Context) {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return

	case c.state == HoldingCustomer && c.awaitingHold:
		c.awaitingHold = false
		c.mu.Unlock()

		c.Logger().Info("Hold message finished, putting customer on hold")
		c.deps.Router.SetMixer(true)
		c.deps.Router.RouteBotAudio(frames.DestinationSpecialist)
		c.deps.Hold.SetHold(true)
		c.dial(ctx)

	case c.state == TalkingToAgent && c.awaitingBriefing:
		c.awaitingBriefing = false
		c.state = Connected
		started := c.transferStarted
		c.mu.Unlock()

		c.Logger().Info("Briefing finished, connecting customer")
		c.deps.Hold.SetHold(false)
		c.deps.Router.RouteBotAudio(frames.DestinationBoth)
		c.deps.Metrics.transfer(OutcomeConnected, started)

	default:
		c.mu.Unlock()
	}
}

func (c *Coordinator) dial(ctx context.Context) {
	c.mu.RLock()
	mgr, target := c.dialout, c.target
	c.mu.RUnlock()
	if mgr == nil || target == nil {
		return
	}

	req := DialRequest{
		SessionID: c.deps.SessionID,
		Target:    target.Name,
		To:        target.PhoneNumber,
		Extension: target.Extension,
	}
	if !mgr.AttemptDial(ctx, req) {
		c.fail(ctx, ErrDialBudgetExhausted)
	}
}

// reportDialError runs on the dial goroutine and feeds the failure back
// into the ordered queue
func (c *Coordinator) reportDialError(callID string, err error) {
	if qerr := c.QueueFrame(frames.NewDialoutErrorFrame(callID, err.Error()), frames.Downstream); qerr != nil {
		c.Logger().Warn("Dropped dial error %v: %v", err, qerr)
	}
}

// ownsCall filters telephony events of earlier attempts or transfers
func (c *Coordinator) ownsCall(callID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || c.dialout == nil {
		return false
	}
	if callID != "" && c.retired[callID] {
		return false
	}
	return c.dialout.Owns(callID)
}

func (c *Coordinator) handleDialoutConnected(callID string) {
	if !c.ownsCall(callID) {
		return
	}
	c.Logger().Info("Specialist phone ringing (call=%s)", callID)
	if c.cfg.RingbackAudible && c.State() == HoldingCustomer {
		c.deps.Router.PlayRingback()
	}
}

func (c *Coordinator) handleDialoutAnswered(ctx context.Context, callID string) {
	if !c.ownsCall(callID) {
		c.Logger().Debug("Ignoring answer of unknown call %s", callID)
		return
	}

	c.mu.Lock()
	if c.state != HoldingCustomer || c.awaitingHold {
		state := c.state
		c.mu.Unlock()
		c.Logger().Warn("Ignoring dial answer while %s", state)
		return
	}
	c.dialout.MarkSuccessful()
	c.state = TalkingToAgent
	c.awaitingBriefing = true
	summary := c.summary
	c.mu.Unlock()

	c.Logger().Info("Specialist answered, briefing them")
	c.deps.Router.SetMixer(false)
	c.speak(ctx, BriefingMessage(summary, c.cfg.Messages.ConnectingMessage))
}

func (c *Coordinator) handleDialoutStopped(ctx context.Context, callID string) {
	if !c.ownsCall(callID) {
		return
	}

	switch c.State() {
	case HoldingCustomer, TalkingToAgent:
		c.Logger().Warn("Specialist call ended before connecting (call=%s)", callID)
		c.fail(ctx, fmt.Errorf("specialist call %s ended", callID))
	case Connected:
		c.Logger().Info("Specialist hung up, ending call")
		c.mu.Lock()
		mgr := c.dialout
		c.dialout = nil
		c.mu.Unlock()
		if mgr != nil {
			mgr.Stop()
		}
		c.endCall(ctx, "specialist hung up")
	}
}

func (c *Coordinator) handleDialoutError(ctx context.Context, callID, reason string) {
	if !c.ownsCall(callID) {
		return
	}

	c.mu.RLock()
	state, awaitingHold, mgr := c.state, c.awaitingHold, c.dialout
	c.mu.RUnlock()

	switch {
	case state == HoldingCustomer && awaitingHold:
		// No dial was started yet
		return
	case state == HoldingCustomer && mgr.ShouldRetry():
		c.Logger().Warn("Dial attempt %d failed (%s), retrying", mgr.Attempts(), reason)
		if c.cfg.RingbackAudible {
			// the failed attempt may have been ringing
			c.deps.Router.SetMixer(true)
		}
		c.dial(ctx)
	case state == HoldingCustomer:
		c.fail(ctx, fmt.Errorf("%w after %d attempts: %s", ErrDialBudgetExhausted, mgr.Attempts(), reason))
	case state == TalkingToAgent:
		// the specialist leg may still be up, hang it up before rolling back
		mgr.Cancel(ctx)
		c.fail(ctx, fmt.Errorf("specialist call failed: %s", reason))
	}
}

// fail rolls back hold, mixer and routing and returns to the caller
func (c *Coordinator) fail(ctx context.Context, cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = TransferFailed
	mgr := c.dialout
	started := c.transferStarted
	c.retireLocked()
	c.mu.Unlock()

	if mgr != nil {
		mgr.Stop()
	}
	c.Logger().Error("Transfer failed: %v", cause)

	c.deps.Router.SetMixer(false)
	c.deps.Router.RouteBotAudio(frames.DestinationCaller)
	c.deps.Hold.SetHold(false)
	c.speak(ctx, c.cfg.Messages.TransferFailedMessage)
	c.deps.Metrics.transfer(OutcomeFailed, started)

	c.mu.Lock()
	c.state = TalkingToCustomer
	c.mu.Unlock()
}

// retireLocked clears the transfer and remembers its call ids
func (c *Coordinator) retireLocked() {
	if c.dialout != nil {
		for _, id := range c.dialout.CallIDs() {
			c.retired[id] = true
		}
	}
	c.dialout = nil
	c.target = nil
	c.summary = ""
	c.awaitingHold = false
	c.awaitingBriefing = false
	c.transferStarted = time.Time{}
}

func (c *Coordinator) handleCustomerLeft(ctx context.Context, reason string) {
	c.mu.RLock()
	state := c.state
	started := c.transferStarted
	closed := c.closed
	c.mu.RUnlock()

	if closed {
		c.Logger().Debug("Customer left (%s) after close, ignoring", reason)
		return
	}

	if state == HoldingCustomer || state == TalkingToAgent {
		c.deps.Metrics.transfer(OutcomeAbandoned, started)
	}
	c.Logger().Info("Customer left (%s) while %s", reason, state)
	c.endCall(ctx, "customer left")
}

// endCall invokes the end-call hook once and closes the session
func (c *Coordinator) endCall(ctx context.Context, reason string) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	c.mu.Unlock()

	c.close(ctx)
	c.Logger().Info("Ending call: %s", reason)
	if err := c.deps.Conversation.EndCall(ctx); err != nil {
		c.Logger().Error("End call failed: %v", err)
	}
}

// close cancels any dial in flight, lifts hold and ignores later events
func (c *Coordinator) close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	mgr := c.dialout
	state := c.state
	c.mu.Unlock()

	if mgr != nil {
		mgr.Cancel(ctx)
	}
	if state == HoldingCustomer || state == TalkingToAgent {
		c.deps.Hold.SetHold(false)
		c.deps.Router.SetMixer(false)
	}
}

func (c *Coordinator) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Coordinator) speak(ctx context.Context, text string) {
	if err := c.deps.Conversation.Speak(ctx, text); err != nil {
		c.Logger().Error("Speak failed: %v", err)
	}
}
