// Package attach is the in-process fast path for exclusive writer
// attachment, ahead of the advisory flock internal/liveness enforces
// across processes (spec §4.6, P7: at most one open writer per flow).
package attach

import (
	"log/slog"
	"sync"
	"time"
)

// Reservation records one process-local writer attachment.
type Reservation struct {
	FlowID     string
	AttachedAt time.Time
}

// Registry tracks which flow ids currently have a writer attached within
// this process.
type Registry struct {
	log          *slog.Logger
	mu           sync.RWMutex
	reservations map[string]*Reservation
}

// NewRegistry creates a new attachment registry. If log is nil,
// slog.Default() is used.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:          log.With("component", "attach-registry"),
		reservations: make(map[string]*Reservation),
	}
}

// Acquire reserves flowID for the calling writer. Returns the reservation
// and true on success, or nil and false if flowID is already reserved.
func (r *Registry) Acquire(flowID string) (*Reservation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.reservations[flowID]; ok {
		r.log.Warn("writer already attached in this process, rejecting duplicate", "flow_id", flowID)
		return nil, false
	}

	res := &Reservation{
		FlowID:     flowID,
		AttachedAt: time.Now(),
	}
	r.reservations[flowID] = res
	r.log.Info("writer attachment reserved", "flow_id", flowID)
	return res, true
}

// Release frees flowID's reservation, if any.
func (r *Registry) Release(flowID string) {
	r.mu.Lock()
	_, ok := r.reservations[flowID]
	if ok {
		delete(r.reservations, flowID)
	}
	r.mu.Unlock()

	if ok {
		r.log.Info("writer attachment released", "flow_id", flowID)
	}
}

// List returns every currently reserved flow id's reservation.
func (r *Registry) List() []*Reservation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Reservation, 0, len(r.reservations))
	for _, res := range r.reservations {
		out = append(out, res)
	}
	return out
}
