package realtime

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/deskwatch/deskwatch/internal/metrics"
)

// Handler receives the raw data of every frame of the type it was registered for.
// A returned error is logged and does not affect other handlers.
type Handler func(data json.RawMessage) error

// Registrar is implemented by anything that accepts per-type handlers.
type Registrar interface {
	RegisterHandler(msgType string, h Handler) (unregister func())
}

type registration struct {
	id uuid.UUID
	h  Handler
}

// Registry maps message types to ordered handler lists. Slices are replaced,
// never mutated, so a dispatch in progress keeps iterating its own snapshot
// while other goroutines register or unregister.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]registration
	log      zerolog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{handlers: make(map[string][]registration), log: log}
}

// RegisterHandler appends h for msgType and returns a func that removes it.
// The returned func is safe to call more than once.
func (r *Registry) RegisterHandler(msgType string, h Handler) func() {
	reg := registration{id: uuid.New(), h: h}

	r.mu.Lock()
	cur := r.handlers[msgType]
	next := make([]registration, len(cur), len(cur)+1)
	copy(next, cur)
	r.handlers[msgType] = append(next, reg)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(msgType, reg.id) })
	}
}

func (r *Registry) remove(msgType string, id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.handlers[msgType]
	next := make([]registration, 0, len(cur))
	for _, reg := range cur {
		if reg.id != id {
			next = append(next, reg)
		}
	}
	if len(next) == 0 {
		delete(r.handlers, msgType)
		return
	}
	r.handlers[msgType] = next
}

// Len returns how many handlers are registered for msgType.
func (r *Registry) Len(msgType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[msgType])
}

// Dispatch calls every handler registered for msgType, in registration order.
func (r *Registry) Dispatch(msgType string, data json.RawMessage) {
	r.mu.RLock()
	snapshot := r.handlers[msgType]
	r.mu.RUnlock()

	for _, reg := range snapshot {
		if err := r.call(reg.h, data); err != nil {
			metrics.IncHandlerFailure()
			r.log.Warn().Err(err).Str("message", msgType).Str("handler", reg.id.String()).Msg("message handler failed")
		}
	}
}

// call runs one handler, turning a panic into an error.
func (r *Registry) call(h Handler, data json.RawMessage) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(data)
}

// On registers a handler that decodes data into T first. Frames without data
// deliver the zero T; data that does not decode into T is a handler error.
func On[T any](r Registrar, msgType string, fn func(T) error) func() {
	return r.RegisterHandler(msgType, func(data json.RawMessage) error {
		var v T
		if len(data) == 0 {
			return fn(v)
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode %s payload: %w", msgType, err)
		}
		return fn(v)
	})
}
