package catalog

import (
	"context"
	"sync"
)

// Op names a catalog mutation.
type Op string

const (
	OpCreated Op = "created"
	// OpUpdated reports an Upsert of an existing name. The entry itself is
	// unchanged but the file behind it was rewritten.
	OpUpdated Op = "updated"
	OpRemoved Op = "removed"
)

// Change describes a catalog mutation observed by a Notifying store.
type Change struct {
	Op   Op
	Name string
	Path string
	// Pruned is set when the entry was removed because its file vanished.
	Pruned bool
}

// Listener receives catalog changes after they are committed. Listeners run
// on the mutating goroutine and must not block.
type Listener func(ctx context.Context, c Change)

type prunedKey struct{}

// WithPruned marks removals made with ctx as self-healing prunes.
func WithPruned(ctx context.Context) context.Context {
	return context.WithValue(ctx, prunedKey{}, true)
}

func isPruned(ctx context.Context) bool {
	v, _ := ctx.Value(prunedKey{}).(bool)
	return v
}

// Notifying wraps a Store and reports every successful Upsert and Remove to
// its listeners.
type Notifying struct {
	Store
	mu        sync.RWMutex
	listeners []Listener
}

func NewNotifying(s Store) *Notifying {
	return &Notifying{Store: s}
}

// Subscribe adds l to the listener list.
func (n *Notifying) Subscribe(l Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, l)
}

func (n *Notifying) Upsert(ctx context.Context, name, path string) (bool, error) {
	created, err := n.Store.Upsert(ctx, name, path)
	if err != nil {
		return false, err
	}
	op := OpUpdated
	if created {
		op = OpCreated
	}
	n.emit(ctx, Change{Op: op, Name: name, Path: path})
	return created, nil
}

func (n *Notifying) Remove(ctx context.Context, name string) error {
	if err := n.Store.Remove(ctx, name); err != nil {
		return err
	}
	n.emit(ctx, Change{Op: OpRemoved, Name: name, Pruned: isPruned(ctx)})
	return nil
}

// Ping forwards to the wrapped store when it supports it.
func (n *Notifying) Ping(ctx context.Context) error {
	if p, ok := n.Store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (n *Notifying) emit(ctx context.Context, c Change) {
	n.mu.RLock()
	listeners := n.listeners
	n.mu.RUnlock()
	for _, l := range listeners {
		l(ctx, c)
	}
}
