package dispatch

import (
	"context"
	"fmt"
	"sort"

	"github.com/sefton37/triage/internal/storage"
)

// Handler serves one method from validated params.
type Handler func(ctx context.Context, p Params) (any, error)

// StoreHandler serves one method that reads persistence directly
// instead of going through a service.
type StoreHandler func(ctx context.Context, store *storage.Store, p Params) (any, error)

// method is one dispatch table row. Exactly one handler variant is set.
type method struct {
	plain  Handler
	stored StoreHandler
}

// MethodError reports a request for a method the registry does not hold.
type MethodError struct {
	Method string
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("method %q not found", e.Method)
}

// Registry maps method names to handlers. It is assembled once at
// startup and frozen; after that it is read-only, so concurrent
// Dispatch calls need no locking.
type Registry struct {
	store   *storage.Store
	methods map[string]method
	frozen  bool
}

// NewRegistry returns an empty registry. The store is handed to
// StoreHandler methods at call time.
func NewRegistry(store *storage.Store) *Registry {
	return &Registry{store: store, methods: make(map[string]method)}
}

// Register adds a plain method. Registering a duplicate name, a nil
// handler, or anything after Freeze is a wiring bug and panics.
func (r *Registry) Register(name string, h Handler) {
	if h == nil {
		panic("dispatch: nil handler for " + name)
	}
	r.add(name, method{plain: h})
}

// RegisterStore adds a method that needs the persistence handle.
func (r *Registry) RegisterStore(name string, h StoreHandler) {
	if h == nil {
		panic("dispatch: nil handler for " + name)
	}
	r.add(name, method{stored: h})
}

func (r *Registry) add(name string, m method) {
	if r.frozen {
		panic("dispatch: register " + name + " after freeze")
	}
	if name == "" {
		panic("dispatch: register with empty method name")
	}
	if _, dup := r.methods[name]; dup {
		panic("dispatch: method " + name + " registered twice")
	}
	r.methods[name] = m
}

// Freeze marks the table complete. Registration afterwards panics.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Methods lists the registered method names, sorted.
func (r *Registry) Methods() []string {
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) call(ctx context.Context, name string, p Params) (any, error) {
	m, ok := r.methods[name]
	if !ok {
		return nil, &MethodError{Method: name}
	}
	if m.stored != nil {
		return m.stored(ctx, r.store, p)
	}
	return m.plain(ctx, p)
}
