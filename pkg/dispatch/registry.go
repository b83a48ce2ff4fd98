package dispatch

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sirosfoundation/go-ids/pkg/infomodel"
)

var (
	// ErrDuplicateHandler is returned when a message type already has a handler.
	ErrDuplicateHandler = errors.New("handler already registered")
	// ErrNilHandler is returned when registering a nil handler.
	ErrNilHandler = errors.New("nil handler")
)

// Registry maps message types to handlers. Lookups match the type tag exactly.
type Registry struct {
	mu       sync.RWMutex
	handlers map[infomodel.MessageType]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[infomodel.MessageType]Handler)}
}

// Register adds h for message type t.
func (r *Registry) Register(t infomodel.MessageType, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[t]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, t)
	}
	r.handlers[t] = h
	return nil
}

// Resolve returns the handler for t.
func (r *Registry) Resolve(t infomodel.MessageType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Types lists the registered message types in sorted order.
func (r *Registry) Types() []infomodel.MessageType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]infomodel.MessageType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
