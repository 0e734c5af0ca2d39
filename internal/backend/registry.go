package backend

import (
	"errors"
	"fmt"
	"image"
	"sort"
	"strings"

	"github.com/dunamismax/imagebench/internal/storage"
)

var ErrUnknownBackend = errors.New("unknown backend")

// Registry resolves backend variants by name.
type Registry struct {
	backends map[string]Backend
	names    []string
	fallback string
}

// NewRegistry registers every variant compiled into this binary. defaultName
// selects the variant used when a caller does not ask for one. opts apply to
// every variant.
func NewRegistry(store storage.Store, defaultName string, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, errors.New("backend: store is required")
	}

	r := &Registry{backends: make(map[string]Backend)}
	for _, b := range variants(store, opts...) {
		r.backends[b.Name()] = b
		r.names = append(r.names, b.Name())
	}
	sort.Strings(r.names)

	defaultName = strings.ToLower(strings.TrimSpace(defaultName))
	if defaultName == "" {
		defaultName = "imaging"
	}
	if _, ok := r.backends[defaultName]; !ok {
		return nil, fmt.Errorf("%w: default %q (available: %s)", ErrUnknownBackend, defaultName, strings.Join(r.names, ", "))
	}
	r.fallback = defaultName
	return r, nil
}

// Get returns the named variant, or the default for an empty name.
func (r *Registry) Get(name string) (Backend, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = r.fallback
	}
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return b, nil
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

func (r *Registry) Default() string {
	return r.fallback
}

func pureGoVariants(store storage.Store, opts ...Option) []Backend {
	return []Backend{
		New[image.Image](imagingEngine{}, store, opts...),
		New[image.Image](bildEngine{}, store, opts...),
		New[image.Image](nativeEngine{}, store, opts...),
	}
}
