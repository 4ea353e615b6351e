package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/logger"
	"github.com/square-key-labs/strawgo-transfer/src/pipeline"
	"github.com/square-key-labs/strawgo-transfer/src/processors"
	"github.com/square-key-labs/strawgo-transfer/src/processors/aggregators"
	"github.com/square-key-labs/strawgo-transfer/src/services"
	"github.com/square-key-labs/strawgo-transfer/src/transfer"
	"github.com/square-key-labs/strawgo-transfer/src/transports"
)

// greetingInstruction asks the agent to open the conversation
const greetingInstruction = "The caller has just joined the call. Greet them and ask how you can help."

var _ transfer.FrameQueuer = (*Session)(nil)

// Services are the speech and language processors of one session
type Services struct {
	STT services.STTService
	LLM services.LLMService
	TTS services.TTSService
}

func (s Services) all() []services.AIService {
	return []services.AIService{s.STT, s.LLM, s.TTS}
}

// ServicesFunc creates the services of a new session
type ServicesFunc func(ctx context.Context, sessionID string) (Services, error)

// Session is one call: its media transport, pipeline and transfer
// coordinator
type Session struct {
	id          string
	transport   *transports.CallTransport
	coordinator *transfer.Coordinator
	actions     *transfer.PipelineActions
	services    Services
	task        *pipeline.PipelineTask
	log         *logger.Logger

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	greeted   atomic.Bool
}

// newSession wires the pipeline of a call:
//
//	transport in -> hold gate -> STT -> user turns -> LLM -> TTS -> audio route -> coordinator -> frame logger -> transport out
func (s *Server) newSession(ctx context.Context, id string) (*Session, error) {
	svc, err := s.services(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("create services: %w", err)
	}

	sess := &Session{
		id:       id,
		services: svc,
		log:      logger.WithPrefix("Session").With("session", id),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}

	sess.transport = transports.NewCallTransport(transports.CallTransportConfig{
		SessionID:     id,
		HoldMusic:     s.music.Clone(),
		OnStreamStart: sess.onStreamStart,
	})
	hold := transfer.NewHoldGate()
	route := transfer.NewAudioRouteController()
	sess.actions = transfer.NewPipelineActions(sess, s.telephony)
	sess.coordinator = transfer.NewCoordinator(s.cfg.Transfer, transfer.Dependencies{
		SessionID:    id,
		Conversation: sess.actions,
		Dialer:       s.telephony,
		Hold:         hold,
		Router:       route,
		Metrics:      s.metrics,
	})

	svc.LLM.SetSystemPrompt(transfer.BuildSystemPrompt(s.cfg.Transfer.Targets, s.cfg.Prompt()))
	svc.LLM.SetToolExecutor(transfer.NewTools(sess.coordinator))

	pipe := pipeline.NewPipeline([]processors.FrameProcessor{
		sess.transport.Input(),
		hold,
		svc.STT,
		aggregators.NewUserTurnAggregator(nil),
		svc.LLM,
		svc.TTS,
		route,
		sess.coordinator,
		processors.NewFrameLogger(processors.FrameLoggerConfig{Prefix: "CallOutput", LogDirection: true}),
		sess.transport.Output(),
	})
	sess.task = pipeline.NewPipelineTaskWithConfig(pipe, &pipeline.PipelineTaskConfig{
		SessionID:  id,
		SampleRate: 8000,
	})
	sess.task.OnStarted(func() {
		sess.readyOnce.Do(func() { close(sess.ready) })
	})
	sess.task.OnError(func(err error) {
		sess.log.Warn("Pipeline error: %v", err)
	})
	return sess, nil
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// Transfer returns a snapshot of the session's transfer state
func (s *Session) Transfer() transfer.Session {
	return s.coordinator.Session()
}

// QueueFrame queues a frame at the head of the session's pipeline
func (s *Session) QueueFrame(frame frames.Frame) error {
	return s.task.QueueFrame(frame)
}

// Done is closed when the session's pipeline has finished
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// run runs the pipeline until the call ends and then releases the session
func (s *Session) run(ctx context.Context, onExit func()) {
	defer close(s.done)
	defer onExit()

	for _, svc := range s.services.all() {
		if err := svc.Initialize(ctx); err != nil {
			// Services connect lazily again on first use
			s.log.Warn("Initializing %s failed: %v", svc.Name(), err)
		}
	}

	if err := s.task.Run(ctx); err != nil {
		s.log.Error("Pipeline failed: %v", err)
	}

	s.transport.Close()
	for _, svc := range s.services.all() {
		if err := svc.Cleanup(); err != nil {
			s.log.Warn("Cleanup of %s failed: %v", svc.Name(), err)
		}
	}
	s.log.Info("Session finished")
}

func (s *Session) onStreamStart(leg frames.Leg, callSid string) {
	if leg != frames.LegCaller {
		return
	}
	s.actions.SetCallerCallID(callSid)

	if s.greeted.Swap(true) {
		return
	}
	msg := frames.Message{Role: "system", Content: greetingInstruction}
	if err := s.QueueFrame(frames.NewLLMMessagesAppendFrame([]frames.Message{msg}, true)); err != nil {
		s.log.Error("Failed to queue greeting: %v", err)
	}
}
