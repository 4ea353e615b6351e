package frames

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var frameCounter uint64

// FrameDirection indicates the direction a frame is traveling
type FrameDirection int

const (
	Downstream FrameDirection = iota // source -> sink
	Upstream                         // sink -> source
)

func (d FrameDirection) String() string {
	switch d {
	case Downstream:
		return "downstream"
	case Upstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// Frame is the base interface for all frames in the pipeline
type Frame interface {
	ID() uint64
	Name() string
	PTS() time.Time
	Metadata() map[string]any
	SetMetadata(key string, value any)
	String() string
}

// BaseFrame provides common frame functionality.
// Metadata is guarded because a frame may be read by a transport
// goroutine while the producing processor is still annotating it.
type BaseFrame struct {
	id       uint64
	name     string
	pts      time.Time
	mu       sync.RWMutex
	metadata map[string]any
}

func NewBaseFrame(name string) *BaseFrame {
	return &BaseFrame{
		id:       atomic.AddUint64(&frameCounter, 1),
		name:     name,
		pts:      time.Now(),
		metadata: make(map[string]any),
	}
}

func (f *BaseFrame) ID() uint64 {
	return f.id
}

func (f *BaseFrame) Name() string {
	return f.name
}

func (f *BaseFrame) PTS() time.Time {
	return f.pts
}

// Metadata returns a copy of the frame metadata
func (f *BaseFrame) Metadata() map[string]any {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]any, len(f.metadata))
	for k, v := range f.metadata {
		out[k] = v
	}
	return out
}

func (f *BaseFrame) SetMetadata(key string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadata[key] = value
}

// MetadataString returns a string metadata value, or "" if missing
func (f *BaseFrame) MetadataString(key string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, _ := f.metadata[key].(string)
	return s
}

func (f *BaseFrame) String() string {
	return fmt.Sprintf("%s[id=%d, pts=%v]", f.name, f.id, f.pts.Format("15:04:05.000"))
}

// FrameCategory decides which queue a processor uses for a frame
type FrameCategory int

const (
	SystemCategory  FrameCategory = iota // Highest priority, processed immediately
	DataCategory                         // Normal priority, ordered processing
	ControlCategory                      // Ordered with data, carries events and commands
)

func (c FrameCategory) String() string {
	switch c {
	case SystemCategory:
		return "system"
	case DataCategory:
		return "data"
	case ControlCategory:
		return "control"
	default:
		return "unknown"
	}
}

// Categorizable frames can report their category
type Categorizable interface {
	Category() FrameCategory
}

// CategoryOf returns the category of a frame, defaulting to DataCategory
func CategoryOf(frame Frame) FrameCategory {
	if c, ok := frame.(Categorizable); ok {
		return c.Category()
	}
	return DataCategory
}
