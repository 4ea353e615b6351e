package server

import (
	"sync"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/telephony"
)

var _ telephony.EventSink = (*Registry)(nil)

// Registry tracks the live call sessions by id
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns the session with id
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// getOrCreate returns the session with id, creating it with create when
// there is none. created reports whether create ran.
func (r *Registry) getOrCreate(id string, create func() (*Session, error)) (s *Session, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s, false, nil
	}
	s, err = create()
	if err != nil {
		return nil, false, err
	}
	r.sessions[id] = s
	return s, true, nil
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// all returns a snapshot of the live sessions
func (r *Registry) all() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// DeliverDialEvent queues a dial event on the session's transfer
// coordinator
func (r *Registry) DeliverDialEvent(sessionID string, frame frames.Frame) error {
	s, ok := r.Get(sessionID)
	if !ok {
		return telephony.ErrUnknownSession
	}
	return s.coordinator.QueueFrame(frame, frames.Downstream)
}
