package processors

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/logger"
)

// ErrNotStarted is returned when a frame is queued before Start
var ErrNotStarted = errors.New("processor not started")

// FrameProcessor is the interface that all processors must implement
type FrameProcessor interface {
	// ProcessFrame processes a single frame
	ProcessFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error

	// QueueFrame adds a frame to this processor's queue
	QueueFrame(frame frames.Frame, direction frames.FrameDirection) error

	// PushFrame sends a frame to the next/previous processor
	PushFrame(frame frames.Frame, direction frames.FrameDirection) error

	// Link connects this processor to the next one in the chain
	Link(next FrameProcessor)

	// SetPrev sets the previous processor in the chain
	SetPrev(prev FrameProcessor)

	// Start begins processing frames
	Start(ctx context.Context) error

	// Stop gracefully stops the processor
	Stop() error

	// Name returns the processor name
	Name() string
}

// BaseProcessor provides the common functionality for all processors.
//
// By default system frames get their own high-priority queue and goroutine
// while data and control frames share a second one. An ordered processor
// (NewOrderedProcessor) uses a single queue, so every frame is handled in
// arrival order on one goroutine.
type BaseProcessor struct {
	name string
	next FrameProcessor
	prev FrameProcessor

	// Separate channels for system (high priority) and other frames
	systemChan chan frameWithDirection
	dataChan   chan frameWithDirection
	ordered    bool

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex

	// Handler for subclasses
	handler ProcessHandler
	log     *logger.Logger
}

type frameWithDirection struct {
	frame     frames.Frame
	direction frames.FrameDirection
}

// ProcessHandler is the interface that subclasses implement for custom processing
type ProcessHandler interface {
	HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error
}

// ProcessHandlerFunc adapts a function to ProcessHandler
type ProcessHandlerFunc func(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error

func (f ProcessHandlerFunc) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	return f(ctx, frame, direction)
}

// NewBaseProcessor creates a new BaseProcessor
func NewBaseProcessor(name string, handler ProcessHandler) *BaseProcessor {
	return &BaseProcessor{
		name:       name,
		systemChan: make(chan frameWithDirection, 100),
		dataChan:   make(chan frameWithDirection, 1000),
		handler:    handler,
		log:        logger.WithPrefix(name),
	}
}

// NewOrderedProcessor creates a BaseProcessor that handles every frame,
// including system frames, strictly in arrival order
func NewOrderedProcessor(name string, handler ProcessHandler) *BaseProcessor {
	p := NewBaseProcessor(name, handler)
	p.ordered = true
	return p
}

func (p *BaseProcessor) Name() string {
	return p.name
}

// Logger returns the processor's prefixed logger
func (p *BaseProcessor) Logger() *logger.Logger {
	return p.log
}

func (p *BaseProcessor) Link(next FrameProcessor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next = next
	if next != nil {
		next.SetPrev(p)
	}
}

func (p *BaseProcessor) SetPrev(prev FrameProcessor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prev = prev
}

func (p *BaseProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx != nil {
		return fmt.Errorf("processor %s already started", p.name)
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	if !p.ordered {
		p.wg.Add(1)
		go p.frameHandler(p.systemChan, "system")
	}

	p.wg.Add(1)
	go p.frameHandler(p.dataChan, "data")

	p.log.Debug("Started")
	return nil
}

func (p *BaseProcessor) Stop() error {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.wg.Wait()

	p.log.Debug("Stopped")
	return nil
}

func (p *BaseProcessor) QueueFrame(frame frames.Frame, direction frames.FrameDirection) error {
	p.mu.RLock()
	ctx := p.ctx
	p.mu.RUnlock()
	if ctx == nil {
		return fmt.Errorf("%s: %w", p.name, ErrNotStarted)
	}

	fwd := frameWithDirection{frame: frame, direction: direction}

	queue := p.dataChan
	if !p.ordered && frames.CategoryOf(frame) == frames.SystemCategory {
		queue = p.systemChan
	}

	select {
	case queue <- fwd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *BaseProcessor) PushFrame(frame frames.Frame, direction frames.FrameDirection) error {
	p.mu.RLock()
	var target FrameProcessor
	if direction == frames.Downstream {
		target = p.next
	} else {
		target = p.prev
	}
	p.mu.RUnlock()

	if target == nil {
		// End of chain
		return nil
	}

	return target.QueueFrame(frame, direction)
}

func (p *BaseProcessor) ProcessFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	if p.handler != nil {
		return p.handler.HandleFrame(ctx, frame, direction)
	}
	// Default: pass through
	return p.PushFrame(frame, direction)
}

func (p *BaseProcessor) frameHandler(queue chan frameWithDirection, kind string) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case fwd := <-queue:
			if err := p.ProcessFrame(p.ctx, fwd.frame, fwd.direction); err != nil {
				p.log.Error("Error processing %s frame %s: %v", kind, fwd.frame.Name(), err)
			}
		}
	}
}
