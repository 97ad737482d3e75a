package registry

import "sync/atomic"

// Store hands out the current registry snapshot. Swap replaces the snapshot
// as a whole so a pass never observes a half updated registry.
type Store struct {
	current atomic.Pointer[Registry]
}

func NewStore(r *Registry) *Store {
	s := &Store{}
	s.Swap(r)
	return s
}

// Load never returns nil. Before the first Swap it returns an empty registry.
func (s *Store) Load() *Registry {
	if r := s.current.Load(); r != nil {
		return r
	}
	r, _ := New(nil)
	return r
}

func (s *Store) Swap(r *Registry) {
	if r != nil {
		s.current.Store(r)
	}
}
