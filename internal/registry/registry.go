// Package registry maps emitter type tags to the factories that build them.
package registry

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/curium-rocks/owm-emitter/internal/emitter"
)

// Factory builds emitters of one type.
type Factory interface {
	Type() string
	Build(desc emitter.Description) (emitter.Emitter, error)
	Recreate(state string, format emitter.FormatSettings) (emitter.Emitter, error)
}

// Registry is an explicit, caller-owned set of factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func New(factories ...Factory) (*Registry, error) {
	r := &Registry{factories: make(map[string]Factory)}
	for _, f := range factories {
		if err := r.Register(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds f under its type tag. A tag can only be registered once.
func (r *Registry) Register(f Factory) error {
	typ := f.Type()
	if typ == "" {
		return emitter.Invalid("factory type is empty", "type")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[typ]; ok {
		return fmt.Errorf("registry: factory for %q already registered", typ)
	}
	r.factories[typ] = f
	log.Printf("INFO: registry: registered factory %q", typ)
	return nil
}

// Types lists the registered tags in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

func (r *Registry) factory(typ string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[typ]
	if !ok {
		return nil, emitter.Invalid(fmt.Sprintf("no factory registered for type %q", typ), "type")
	}
	return f, nil
}

// Build dispatches desc to the factory of desc.Type.
func (r *Registry) Build(desc emitter.Description) (emitter.Emitter, error) {
	if desc.Type == "" {
		return nil, emitter.Invalid("description has no type", "type")
	}
	f, err := r.factory(desc.Type)
	if err != nil {
		return nil, err
	}
	return f.Build(desc)
}

// Recreate dispatches state to the factory of format.Type. Without a type the tag is read
// from the state itself, which only works for plaintext state.
func (r *Registry) Recreate(state string, format emitter.FormatSettings) (emitter.Emitter, error) {
	typ := format.Type
	if typ == "" {
		if format.Encrypted {
			return nil, emitter.Invalid("format type is required for encrypted state", "type")
		}
		st, err := emitter.DecodeState(state, format)
		if err != nil {
			return nil, err
		}
		typ = st.Type
		format.Type = typ
	}

	f, err := r.factory(typ)
	if err != nil {
		return nil, err
	}
	return f.Recreate(state, format)
}
