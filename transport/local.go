package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/aegis/core"
)

// ErrDuplicateReceiver is returned when an id is registered twice.
var ErrDuplicateReceiver = errors.New("receiver already registered")

var (
	_ core.Transport = (*Local)(nil)
	_ core.Transport = (*Router)(nil)
)

// Local delivers messages to receivers living in the same process.
type Local struct {
	mu        sync.RWMutex
	receivers map[string]core.Receiver
}

// NewLocal creates an empty in-process transport.
func NewLocal() *Local {
	return &Local{receivers: make(map[string]core.Receiver)}
}

// Register makes r addressable by its id.
func (l *Local) Register(r core.Receiver) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.receivers[r.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateReceiver, r.ID())
	}
	l.receivers[r.ID()] = r
	return nil
}

// Unregister removes the receiver with the given id, if any.
func (l *Local) Unregister(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.receivers, id)
}

// Has reports whether id is registered.
func (l *Local) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.receivers[id]
	return ok
}

// IDs returns the registered receiver ids in sorted order.
func (l *Local) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.receivers))
	for id := range l.receivers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Send implements core.Transport.
func (l *Local) Send(ctx context.Context, msg core.Message) error {
	l.mu.RLock()
	r, ok := l.receivers[msg.Recipient]
	l.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownRecipient, msg.Recipient)
	}
	return r.Receive(ctx, msg)
}

// Router prefers local delivery and hands everything else to a remote
// transport (typically HTTP). Without a remote it behaves like Local.
type Router struct {
	local  *Local
	remote core.Transport
}

// NewRouter combines a local and an optional remote transport.
func NewRouter(local *Local, remote core.Transport) *Router {
	return &Router{local: local, remote: remote}
}

// Local returns the in-process side of the router.
func (r *Router) Local() *Local { return r.local }

// Send implements core.Transport.
func (r *Router) Send(ctx context.Context, msg core.Message) error {
	if r.local.Has(msg.Recipient) || r.remote == nil {
		return r.local.Send(ctx, msg)
	}
	return r.remote.Send(ctx, msg)
}
