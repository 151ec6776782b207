// Package resolver locates and caches the authentic implementation of each
// intercepted operation.
//
// Each operation name moves from unresolved to resolved at most once. A
// failed lookup is not remembered: the next Resolve for that name tries
// again, so a symbol that only becomes available after a startup race is
// still picked up.
package resolver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// LookupFunc finds the authentic implementation for name. It must not
// route through the replacement that is asking for it.
type LookupFunc func(name string) (any, error)

// Handle is an opaque reference to one authentic implementation. The zero
// Handle is unresolved and must not be invoked.
type Handle struct {
	name string
	impl any
}

// Valid reports whether h refers to an implementation.
func (h Handle) Valid() bool { return h.impl != nil }

// Name returns the operation name h was resolved for.
func (h Handle) Name() string { return h.name }

// Value returns the implementation as returned by the lookup.
func (h Handle) Value() any { return h.impl }

var errNoImpl = errors.New("lookup returned no implementation")

type entry struct {
	handle atomic.Pointer[Handle]
}

// Resolver caches handles per operation name. It is safe for concurrent use.
type Resolver struct {
	lookup  LookupFunc
	logger  *slog.Logger
	entries sync.Map // name -> *entry
}

// New returns a Resolver backed by lookup. Pass nil for logger to disable logging.
func New(lookup LookupFunc, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if lookup == nil {
		lookup = func(name string) (any, error) {
			return nil, fmt.Errorf("no lookup configured for %q", name)
		}
	}
	return &Resolver{lookup: lookup, logger: logger}
}

func (r *Resolver) entry(name string) *entry {
	if v, ok := r.entries.Load(name); ok {
		return v.(*entry)
	}
	v, _ := r.entries.LoadOrStore(name, &entry{})
	return v.(*entry)
}

// Resolve returns the cached handle for name, looking it up first if
// needed. On lookup failure it returns the zero Handle.
func (r *Resolver) Resolve(name string) Handle {
	e := r.entry(name)
	if h := e.handle.Load(); h != nil {
		return *h
	}

	impl, err := r.lookup(name)
	if err == nil && impl == nil {
		err = errNoImpl
	}
	if err != nil {
		r.logger.Debug("resolve failed; will retry on next call", "op", name, "error", err)
		return Handle{}
	}

	h := &Handle{name: name, impl: impl}
	if !e.handle.CompareAndSwap(nil, h) {
		// Lost a race with another caller; keep the first stored handle.
		return *e.handle.Load()
	}
	r.logger.Debug("resolved", "op", name)
	return *h
}

// Resolved reports whether name already has a cached handle.
func (r *Resolver) Resolved(name string) bool {
	v, ok := r.entries.Load(name)
	if !ok {
		return false
	}
	return v.(*entry).handle.Load() != nil
}

// Preload resolves each name once, returning the ones that failed.
func (r *Resolver) Preload(names ...string) []string {
	var missing []string
	for _, name := range names {
		if !r.Resolve(name).Valid() {
			missing = append(missing, name)
		}
	}
	return missing
}
