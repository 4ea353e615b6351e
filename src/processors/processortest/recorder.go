// Package processortest provides frame processors for tests.
package processortest

import (
	"context"
	"sync"
	"time"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/processors"
)

// Recorder is a terminal FrameProcessor that records every queued frame
// synchronously. Link a processor under test to a Recorder to observe what
// it pushes downstream, or SetPrev to observe what it pushes upstream.
type Recorder struct {
	name string

	mu     sync.Mutex
	cond   *sync.Cond
	frames []Recorded
}

// Recorded is a frame captured by a Recorder
type Recorded struct {
	Frame     frames.Frame
	Direction frames.FrameDirection
}

func NewRecorder(name string) *Recorder {
	r := &Recorder{name: name}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *Recorder) Name() string { return r.name }

func (r *Recorder) ProcessFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	return r.QueueFrame(frame, direction)
}

func (r *Recorder) QueueFrame(frame frames.Frame, direction frames.FrameDirection) error {
	r.mu.Lock()
	r.frames = append(r.frames, Recorded{Frame: frame, Direction: direction})
	r.mu.Unlock()
	r.cond.Broadcast()
	return nil
}

func (r *Recorder) PushFrame(frame frames.Frame, direction frames.FrameDirection) error {
	return nil
}

func (r *Recorder) Link(next processors.FrameProcessor) {}

func (r *Recorder) SetPrev(prev processors.FrameProcessor) {}

func (r *Recorder) Start(ctx context.Context) error { return nil }

func (r *Recorder) Stop() error { return nil }

// Frames returns a snapshot of everything recorded so far
func (r *Recorder) Frames() []frames.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]frames.Frame, 0, len(r.frames))
	for _, rec := range r.frames {
		out = append(out, rec.Frame)
	}
	return out
}

// Names returns the names of the recorded frames in order
func (r *Recorder) Names() []string {
	fs := r.Frames()
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Name()
	}
	return out
}

// Records returns frames with their directions
func (r *Recorder) Records() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.frames...)
}

// Reset forgets all recorded frames
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}

// WaitFor blocks until at least n frames were recorded or the timeout
// expires. It reports whether n frames arrived.
func (r *Recorder) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, r.cond.Broadcast)
	defer timer.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.frames) < n {
		if time.Now().After(deadline) {
			return false
		}
		r.cond.Wait()
	}
	return true
}

// Of returns the recorded frames of type T
func Of[T frames.Frame](r *Recorder) []T {
	var out []T
	for _, f := range r.Frames() {
		if t, ok := f.(T); ok {
			out = append(out, t)
		}
	}
	return out
}
