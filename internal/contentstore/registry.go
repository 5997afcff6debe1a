package contentstore

import (
	"fmt"
	"sort"
)

type Registry struct {
	stores map[string]Store
}

func NewRegistry() *Registry {
	return &Registry{stores: map[string]Store{}}
}

func (r *Registry) Register(s Store) {
	r.stores[s.Name()] = s
}

func (r *Registry) Get(name string) (Store, error) {
	s, ok := r.stores[name]
	if !ok {
		return nil, fmt.Errorf("content store not registered: %s", name)
	}
	return s, nil
}

// Names lists registered backends in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.stores))
	for n := range r.stores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
