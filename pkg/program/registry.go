package program

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrProgramNotFound   = errors.New("program not found")
	ErrProgramExists     = errors.New("program already open")
	ErrUnknownObligation = errors.New("unknown obligation")
)

// AmbiguousProgramError is reported when a command needs a unique open
// program but zero or several exist and no name disambiguates.
type AmbiguousProgramError struct {
	Open []string
}

func (e *AmbiguousProgramError) Error() string {
	if len(e.Open) == 0 {
		return "no open programs"
	}
	return fmt.Sprintf("multiple open programs, name one of: %s", strings.Join(e.Open, ", "))
}

// UnsolvedError lists every open program with remaining obligations at
// a scope boundary.
type UnsolvedError struct {
	Programs map[string]int // name -> remaining
}

func (e *UnsolvedError) Error() string {
	names := make([]string, 0, len(e.Programs))
	for n := range e.Programs {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s (%d left)", n, e.Programs[n]))
	}
	return "unsolved obligations at scope close: " + strings.Join(parts, ", ")
}

// Registry holds the open program declarations of one session. Entries
// are added on declaration start and removed on completion or explicit
// abandonment.
type Registry struct {
	mu       sync.RWMutex
	programs map[string]*Program
}

func NewRegistry() *Registry {
	return &Registry{programs: make(map[string]*Program)}
}

func (r *Registry) Add(p *Program) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.programs[p.Name]; ok {
		return fmt.Errorf("%w: %s", ErrProgramExists, p.Name)
	}
	r.programs[p.Name] = p
	return nil
}

func (r *Registry) Get(name string) (*Program, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.programs[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrProgramNotFound, name)
}

func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.programs[name]; !ok {
		return fmt.Errorf("%w: %s", ErrProgramNotFound, name)
	}
	delete(r.programs, name)
	return nil
}

// Count returns the number of open programs.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.programs)
}

// Names returns open program names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.programs))
	for n := range r.programs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns the open programs in name order.
func (r *Registry) All() []*Program {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.programs))
	for n := range r.programs {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*Program, 0, len(names))
	for _, n := range names {
		out = append(out, r.programs[n])
	}
	return out
}

// Unique resolves name, or the single open program when name is empty.
// With zero or several open programs and no name, it fails with the
// full list of open names.
func (r *Registry) Unique(name string) (*Program, error) {
	if name != "" {
		return r.Get(name)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.programs) == 1 {
		for _, p := range r.programs {
			return p, nil
		}
	}
	names := make([]string, 0, len(r.programs))
	for n := range r.programs {
		names = append(names, n)
	}
	sort.Strings(names)
	return nil, &AmbiguousProgramError{Open: names}
}
