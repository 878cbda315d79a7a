// Package tactic hosts the default strategies the obligation machinery
// can run automatically, behind the opaque Tactic contract defined by
// the proof package.
package tactic

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/proviso-lang/proviso/pkg/proof"
	"github.com/proviso-lang/proviso/pkg/term"
)

var ErrUnknownTactic = errors.New("unknown tactic")

// Registry maps tactic names to implementations. Tactics register once
// at session setup; lookups are concurrent-safe.
type Registry struct {
	mu      sync.RWMutex
	tactics map[string]proof.Tactic
}

func NewRegistry() *Registry {
	return &Registry{tactics: make(map[string]proof.Tactic)}
}

// Register installs a tactic under its own name, replacing any previous
// binding.
func (r *Registry) Register(t proof.Tactic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tactics[t.Name()] = t
}

// Get resolves a tactic by name.
func (r *Registry) Get(name string) (proof.Tactic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tactics[name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTactic, name)
}

// Names lists registered tactic names (unsorted).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tactics))
	for n := range r.tactics {
		out = append(out, n)
	}
	return out
}

// DefaultRegistry returns a registry with the builtin strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Assumption())
	r.Register(Trivial())
	return r
}

type funcTactic struct {
	name string
	run  func(ctx context.Context, goal proof.Goal) (*proof.TacticResult, error)
}

func (t *funcTactic) Name() string { return t.name }

func (t *funcTactic) Run(ctx context.Context, goal proof.Goal) (*proof.TacticResult, error) {
	return t.run(ctx, goal)
}

// Func wraps a function as a named tactic.
func Func(name string, run func(ctx context.Context, goal proof.Goal) (*proof.TacticResult, error)) proof.Tactic {
	return &funcTactic{name: name, run: run}
}

// Exact solves a goal with the given witness, failing if the goal's
// conclusion is not the expected type.
func Exact(witness, expected *term.Expr) proof.Tactic {
	return Func("exact", func(_ context.Context, goal proof.Goal) (*proof.TacticResult, error) {
		if expected != nil && !goal.Concl.Equal(expected) {
			return nil, fmt.Errorf("goal %s does not match expected %s", goal.Concl, expected)
		}
		return &proof.TacticResult{Term: witness}, nil
	})
}

// Assumption searches the local context for a hypothesis whose type
// equals the conclusion.
func Assumption() proof.Tactic {
	return Func("assumption", func(_ context.Context, goal proof.Goal) (*proof.TacticResult, error) {
		for _, h := range goal.Hyps {
			if h.Type.Equal(goal.Concl) {
				return &proof.TacticResult{Term: term.Var(h.Name)}, nil
			}
		}
		return nil, errors.New("no matching hypothesis")
	})
}

// Trivial solves goals whose conclusion is a bare reference by using
// that reference directly (unit-style goals).
func Trivial() proof.Tactic {
	return Func("trivial", func(_ context.Context, goal proof.Goal) (*proof.TacticResult, error) {
		if goal.Concl != nil && goal.Concl.Kind == term.KindRef {
			return &proof.TacticResult{Term: goal.Concl.Clone()}, nil
		}
		return nil, errors.New("goal is not trivially inhabited")
	})
}

// Unsafe wraps a tactic whose results bypass kernel checking, marking
// every successful step so the final proof object carries the taint.
func Unsafe(inner proof.Tactic) proof.Tactic {
	return Func(inner.Name()+"!", func(ctx context.Context, goal proof.Goal) (*proof.TacticResult, error) {
		res, err := inner.Run(ctx, goal)
		if err != nil {
			return nil, err
		}
		res.Unsafe = true
		return res, nil
	})
}

// Intro splits a Pi goal into its body under a fresh hypothesis.
func Intro() proof.Tactic {
	return Func("intro", func(_ context.Context, goal proof.Goal) (*proof.TacticResult, error) {
		if goal.Concl == nil || goal.Concl.Kind != term.KindPi {
			return nil, errors.New("conclusion is not a product")
		}
		hyps := append(append([]proof.Hypothesis(nil), goal.Hyps...),
			proof.Hypothesis{Name: goal.Concl.Binder, Type: goal.Concl.Dom})
		sub := proof.Goal{Hyps: hyps, Concl: goal.Concl.Body}
		hole := "intro_body"
		return &proof.TacticResult{
			Term:      term.Lam(goal.Concl.Binder, goal.Concl.Dom, term.Hole(hole)),
			Subgoals:  []proof.Goal{sub},
			HoleNames: []string{hole},
		}, nil
	})
}
