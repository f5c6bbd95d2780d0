package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gridmesh/gridmesh/pkg/logger"
)

// Handler consumes a decoded, de-duplicated envelope.
type Handler func(ctx context.Context, env Envelope) error

// Sender pushes envelopes toward workers. Implementations are fire-and-
// forget; the coordinator never blocks a core operation on delivery.
type Sender interface {
	Send(ctx context.Context, to string, env Envelope) error
	Broadcast(ctx context.Context, env Envelope) error
}

// Router dispatches inbound envelopes to registered handlers, dropping
// duplicates by message ID.
type Router struct {
	logger *logger.Logger
	dedup  *dedupCache

	mu       sync.RWMutex
	handlers map[MessageType]Handler
}

// NewRouter creates a router with the given de-duplication window.
func NewRouter(dedupWindow time.Duration, log *logger.Logger) *Router {
	return &Router{
		logger:   log,
		dedup:    newDedupCache(dedupWindow, time.Now),
		handlers: make(map[MessageType]Handler),
	}
}

// Handle registers the handler for a message type, replacing any previous one.
func (r *Router) Handle(t MessageType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Deliver routes one inbound envelope. Duplicates are silently absorbed;
// unknown types are an error so misconfigured peers show up in logs.
func (r *Router) Deliver(ctx context.Context, env Envelope) error {
	if env.ID == "" {
		return fmt.Errorf("envelope missing id")
	}
	if r.dedup.observe(env.ID) {
		r.logger.Debug("duplicate envelope dropped", "id", env.ID, "type", env.Type)
		return nil
	}

	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler for message type %q", env.Type)
	}
	if err := h(ctx, env); err != nil {
		r.logger.Warn("message handler failed",
			"id", env.ID, "type", env.Type, "from", env.From, "error", err)
		return err
	}
	return nil
}
