package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/logger"
)

var (
	// ErrTaskNotStarted is returned when frames are queued before Run
	ErrTaskNotStarted = errors.New("pipeline not started")
	// ErrTaskFinished is returned when frames are queued after the task ended
	ErrTaskFinished = errors.New("pipeline already finished")
)

// PipelineTaskConfig holds configuration for pipeline task
type PipelineTaskConfig struct {
	// SessionID tags the StartFrame and the task's log lines
	SessionID string
	// SampleRate of the call legs, 8000 for PSTN
	SampleRate int
	// QueueSize bounds frames queued by QueueFrame(s) before they enter the pipeline
	QueueSize int
}

// DefaultPipelineTaskConfig returns default configuration
func DefaultPipelineTaskConfig() *PipelineTaskConfig {
	return &PipelineTaskConfig{
		SampleRate: 8000,
		QueueSize:  100,
	}
}

// PipelineTask orchestrates the execution of a pipeline
type PipelineTask struct {
	pipeline *Pipeline
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	log      *logger.Logger

	// Configuration
	config *PipelineTaskConfig

	// Frame queuing
	userFrameQueue chan frames.Frame

	// Lifecycle tracking
	started  bool
	finished bool
	done     chan struct{}
	mu       sync.RWMutex

	// Event handlers
	onStarted  func()
	onFinished func()
	onError    func(error)
}

// NewPipelineTask creates a new pipeline task with default configuration
func NewPipelineTask(pipeline *Pipeline) *PipelineTask {
	return NewPipelineTaskWithConfig(pipeline, DefaultPipelineTaskConfig())
}

// NewPipelineTaskWithConfig creates a new pipeline task with custom configuration
func NewPipelineTaskWithConfig(pipeline *Pipeline, config *PipelineTaskConfig) *PipelineTask {
	if config == nil {
		config = DefaultPipelineTaskConfig()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}

	log := logger.WithPrefix("PipelineTask")
	if config.SessionID != "" {
		log = log.With("session", config.SessionID)
	}

	task := &PipelineTask{
		pipeline:       pipeline,
		config:         config,
		log:            log,
		userFrameQueue: make(chan frames.Frame, config.QueueSize),
		done:           make(chan struct{}),
	}

	pipeline.Initialize(task)

	return task
}

// OnStarted sets a callback for when the StartFrame reached the sink
func (t *PipelineTask) OnStarted(callback func()) {
	t.onStarted = callback
}

// OnFinished sets a callback for when the pipeline finishes
func (t *PipelineTask) OnFinished(callback func()) {
	t.onFinished = callback
}

// OnError sets a callback for errors
func (t *PipelineTask) OnError(callback func(error)) {
	t.onError = callback
}

// Done is closed once Run has stopped the pipeline
func (t *PipelineTask) Done() <-chan struct{} {
	return t.done
}

// QueueFrame adds a frame to be processed by the pipeline
func (t *PipelineTask) QueueFrame(frame frames.Frame) error {
	t.mu.RLock()
	started, finished, ctx := t.started, t.finished, t.ctx
	t.mu.RUnlock()

	if !started {
		return ErrTaskNotStarted
	}
	if finished {
		return ErrTaskFinished
	}

	select {
	case t.userFrameQueue <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueFrames adds frames in order, stopping at the first failure
func (t *PipelineTask) QueueFrames(fs ...frames.Frame) error {
	for _, f := range fs {
		if err := t.QueueFrame(f); err != nil {
			return fmt.Errorf("queue %s: %w", f.Name(), err)
		}
	}
	return nil
}

// Run starts the pipeline and runs until completion
func (t *PipelineTask) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return fmt.Errorf("pipeline already started")
	}
	t.started = true
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()
	defer close(t.done)

	t.log.Info("Starting pipeline")

	if err := t.pipeline.Start(t.ctx); err != nil {
		t.cancel()
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	t.wg.Add(1)
	go t.processUserFrames()

	startFrame := frames.NewStartFrameForSession(t.config.SessionID, t.config.SampleRate)
	if err := t.pipeline.QueueFrame(startFrame); err != nil {
		t.cancel()
		t.wg.Wait()
		_ = t.pipeline.Stop()
		return fmt.Errorf("failed to queue start frame: %w", err)
	}

	// Wait for completion
	t.wg.Wait()

	if err := t.pipeline.Stop(); err != nil {
		t.log.Error("Error stopping pipeline: %v", err)
	}
	t.markFinished()

	t.log.Info("Pipeline finished")
	return nil
}

// Cancel stops the pipeline immediately
func (t *PipelineTask) Cancel() {
	t.mu.RLock()
	cancel := t.cancel
	t.mu.RUnlock()

	if cancel != nil {
		t.log.Debug("Cancelling pipeline")
		cancel()
	}
}

// processUserFrames processes frames queued by the user
func (t *PipelineTask) processUserFrames() {
	defer t.wg.Done()

	for {
		select {
		case <-t.ctx.Done():
			return
		case frame := <-t.userFrameQueue:
			if err := t.pipeline.QueueFrame(frame); err != nil {
				t.log.Error("Error queuing user frame: %v", err)
				t.reportError(err)
			}
		}
	}
}

// handleDownstreamFrame handles frames that reach the sink
func (t *PipelineTask) handleDownstreamFrame(frame frames.Frame) error {
	switch f := frame.(type) {
	case *frames.StartFrame:
		t.log.Debug("Pipeline started")
		if t.onStarted != nil {
			t.onStarted()
		}

	case *frames.EndFrame:
		t.log.Info("End frame reached sink (reason=%q), finishing pipeline", f.Reason)
		t.markFinished()
		t.Cancel()

	case *frames.CancelFrame:
		t.log.Info("Cancel frame reached sink, stopping immediately")
		t.markFinished()
		t.Cancel()

	case *frames.ErrorFrame:
		t.log.Error("Error frame received: %v", f.Error)
		t.reportError(f.Error)
		if f.Fatal {
			t.markFinished()
			t.Cancel()
		}
	}

	return nil
}

// handleUpstreamFrame handles frames going back up the pipeline
func (t *PipelineTask) handleUpstreamFrame(frame frames.Frame) error {
	switch f := frame.(type) {
	case *frames.EndTaskFrame:
		// Let EndFrame flush everything still queued downstream
		t.log.Info("End task requested (reason=%q)", f.Reason)
		end := frames.NewEndFrame()
		end.Reason = f.Reason
		if err := t.pipeline.QueueFrame(end); err != nil {
			t.log.Error("Error queuing end frame: %v", err)
			return err
		}

	case *frames.ErrorFrame:
		t.log.Error("Upstream error: %v", f.Error)
		t.reportError(f.Error)
		if f.Fatal {
			t.markFinished()
			t.Cancel()
		}
	}

	return nil
}

func (t *PipelineTask) reportError(err error) {
	if t.onError != nil {
		t.onError(err)
	}
}

func (t *PipelineTask) markFinished() {
	t.mu.Lock()
	already := t.finished
	t.finished = true
	t.mu.Unlock()

	if !already && t.onFinished != nil {
		t.onFinished()
	}
}
