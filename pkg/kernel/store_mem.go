package kernel

import (
	"fmt"
	"sort"
	"sync"
)

// MemStore is a thread-safe in-memory declaration store. It is the
// default backend for a session.
type MemStore struct {
	mu      sync.RWMutex
	decls   map[string]*Declaration
	version uint64
}

func NewMemStore() *MemStore {
	return &MemStore{decls: make(map[string]*Declaration)}
}

func (s *MemStore) Put(decl *Declaration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decls[decl.Name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyDeclared, decl.Name)
	}
	s.decls[decl.Name] = decl
	s.version++
	return nil
}

func (s *MemStore) Get(name string) (*Declaration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.decls[name]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotDeclared, name)
}

func (s *MemStore) Contains(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.decls[name]
	return ok
}

func (s *MemStore) Names() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.decls))
	for n := range s.decls {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
