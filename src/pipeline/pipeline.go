package pipeline

import (
	"context"
	"fmt"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/logger"
	"github.com/square-key-labs/strawgo-transfer/src/processors"
)

// PipelineSource is the entry point for frames into the pipeline
type PipelineSource struct {
	*processors.BaseProcessor
	task *PipelineTask
}

func newPipelineSource(task *PipelineTask) *PipelineSource {
	ps := &PipelineSource{
		task: task,
	}
	ps.BaseProcessor = processors.NewBaseProcessor("PipelineSource", ps)
	return ps
}

func (p *PipelineSource) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	if direction == frames.Upstream {
		// Frames going upstream from the pipeline go to the task
		if p.task != nil {
			return p.task.handleUpstreamFrame(frame)
		}
		return nil
	}

	// Downstream frames just pass through
	return p.PushFrame(frame, direction)
}

// PipelineSink is the exit point for frames from the pipeline
type PipelineSink struct {
	*processors.BaseProcessor
	task *PipelineTask
}

func newPipelineSink(task *PipelineTask) *PipelineSink {
	ps := &PipelineSink{
		task: task,
	}
	ps.BaseProcessor = processors.NewBaseProcessor("PipelineSink", ps)
	return ps
}

func (p *PipelineSink) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	if direction == frames.Downstream {
		// Frames reaching the end of the pipeline are handled by the task
		if p.task != nil {
			return p.task.handleDownstreamFrame(frame)
		}
		return nil
	}

	// Upstream frames pass back through
	return p.PushFrame(frame, direction)
}

// Pipeline connects multiple processors in a linear chain
type Pipeline struct {
	processors []processors.FrameProcessor
	source     *PipelineSource
	sink       *PipelineSink
}

// NewPipeline creates a new pipeline with the given processors
func NewPipeline(procs []processors.FrameProcessor) *Pipeline {
	p := &Pipeline{
		processors: procs,
	}
	return p
}

// Initialize sets up the pipeline with source and sink
func (p *Pipeline) Initialize(task *PipelineTask) error {
	p.source = newPipelineSource(task)
	p.sink = newPipelineSink(task)

	chain := p.chain()
	for i := 0; i < len(chain)-1; i++ {
		chain[i].Link(chain[i+1])
	}

	logger.Debug("[Pipeline] Initialized with %d processors", len(p.processors))
	return nil
}

// Start begins processing in all processors. If one fails to start, the
// processors already running are stopped again.
func (p *Pipeline) Start(ctx context.Context) error {
	chain := p.chain()
	for i, proc := range chain {
		if err := proc.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = chain[j].Stop()
			}
			return fmt.Errorf("failed to start processor %s: %w", proc.Name(), err)
		}
	}

	logger.Info("[Pipeline] Started %d processors", len(p.processors))
	return nil
}

func (p *Pipeline) chain() []processors.FrameProcessor {
	chain := []processors.FrameProcessor{p.source}
	chain = append(chain, p.processors...)
	return append(chain, p.sink)
}

// Stop stops all processors, sink first
func (p *Pipeline) Stop() error {
	logger.Debug("[Pipeline] Beginning graceful shutdown")

	chain := p.chain()
	for i := len(chain) - 1; i >= 0; i-- {
		if err := chain[i].Stop(); err != nil {
			logger.Error("[Pipeline] Error stopping processor %s: %v", chain[i].Name(), err)
		}
	}

	logger.Info("[Pipeline] Stopped all processors")
	return nil
}

// QueueFrame queues a frame at the source of the pipeline
func (p *Pipeline) QueueFrame(frame frames.Frame) error {
	if p.source == nil {
		return fmt.Errorf("pipeline not initialized")
	}
	return p.source.QueueFrame(frame, frames.Downstream)
}

// Processors returns the user processors in chain order
func (p *Pipeline) Processors() []processors.FrameProcessor {
	return p.processors
}
