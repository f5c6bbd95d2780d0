package transport

import (
	"context"
	"sync"
)

// InMem connects routers in one process. It backs tests and single-binary
// deployments; a libp2p-style transport slots in behind the same Sender
// surface for multi-node runs.
type InMem struct {
	mu    sync.RWMutex
	nodes map[string]*Router
}

// NewInMem creates an empty in-memory transport.
func NewInMem() *InMem {
	return &InMem{nodes: make(map[string]*Router)}
}

// Attach registers a node's router under its address.
func (t *InMem) Attach(addr string, r *Router) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[addr] = r
}

// Detach removes a node.
func (t *InMem) Detach(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.nodes, addr)
}

// Send delivers the envelope to one node. Unknown addresses drop silently,
// matching a partitioned network; the timeout sweep owns recovery.
func (t *InMem) Send(ctx context.Context, to string, env Envelope) error {
	t.mu.RLock()
	r, ok := t.nodes[to]
	t.mu.RUnlock()
	if !ok {
		return nil
	}
	return r.Deliver(ctx, env)
}

// Broadcast delivers the envelope to every attached node.
func (t *InMem) Broadcast(ctx context.Context, env Envelope) error {
	t.mu.RLock()
	routers := make([]*Router, 0, len(t.nodes))
	for _, r := range t.nodes {
		routers = append(routers, r)
	}
	t.mu.RUnlock()

	for _, r := range routers {
		if err := r.Deliver(ctx, env); err != nil {
			return err
		}
	}
	return nil
}
