package transfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/logger"
)

// FrameQueuer accepts frames at the head of a pipeline
type FrameQueuer interface {
	QueueFrame(frame frames.Frame) error
}

// CallHanger hangs up a provider call
type CallHanger interface {
	HangupCall(ctx context.Context, callID string) error
}

// PipelineActions implements Conversation on top of a running pipeline
// task: speech and system messages enter the pipeline as frames, and
// ending the call hangs up the caller and ends the task.
type PipelineActions struct {
	queue  FrameQueuer
	hanger CallHanger
	log    *logger.Logger

	mu           sync.Mutex
	callerCallID string
}

func NewPipelineActions(queue FrameQueuer, hanger CallHanger) *PipelineActions {
	return &PipelineActions{
		queue:  queue,
		hanger: hanger,
		log:    logger.WithPrefix("PipelineActions"),
	}
}

// SetCallerCallID records the provider id of the caller's call
func (a *PipelineActions) SetCallerCallID(callID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callerCallID = callID
}

func (a *PipelineActions) Speak(ctx context.Context, text string) error {
	return a.queue.QueueFrame(frames.NewTTSSpeakFrame(text))
}

func (a *PipelineActions) AppendSystemMessage(ctx context.Context, text string) error {
	msg := frames.Message{Role: "system", Content: text}
	return a.queue.QueueFrame(frames.NewLLMMessagesAppendFrame([]frames.Message{msg}, true))
}

func (a *PipelineActions) EndCall(ctx context.Context) error {
	a.mu.Lock()
	callID := a.callerCallID
	a.mu.Unlock()

	if a.hanger != nil && callID != "" {
		if err := a.hanger.HangupCall(ctx, callID); err != nil {
			a.log.Warn("Hangup of caller call %s failed: %v", callID, err)
		}
	}

	end := frames.NewEndFrame()
	end.Reason = "call ended"
	if err := a.queue.QueueFrame(end); err != nil {
		return fmt.Errorf("queue end frame: %w", err)
	}
	return nil
}
