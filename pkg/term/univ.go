package term

import (
	"errors"
	"sort"
)

// ConstraintRel orders two universe levels.
type ConstraintRel string

const (
	RelLt ConstraintRel = "<"
	RelLe ConstraintRel = "<="
	RelEq ConstraintRel = "="
)

// UnivConstraint is a single ordering constraint between two levels.
type UnivConstraint struct {
	Left  string        `json:"left"`
	Rel   ConstraintRel `json:"rel"`
	Right string        `json:"right"`
}

// UnivContext accumulates universe variables and their ordering
// constraints for one declaration. It grows as obligations are solved
// and is restricted exactly once at finalization.
type UnivContext struct {
	Vars        []string         `json:"vars"`
	Constraints []UnivConstraint `json:"constraints"`
	Minimized   bool             `json:"minimized"`
}

// ErrAlreadyMinimized signals a second restriction of the same context.
var ErrAlreadyMinimized = errors.New("universe context already minimized")

// NewUnivContext returns an empty, unminimized context.
func NewUnivContext() UnivContext {
	return UnivContext{}
}

// Merge folds other's variables and constraints into u, deduplicating.
// Merging into a minimized context is rejected: all accumulation must
// happen before the single Restrict call.
func (u UnivContext) Merge(other UnivContext) (UnivContext, error) {
	if u.Minimized {
		return u, ErrAlreadyMinimized
	}
	seen := make(map[string]bool, len(u.Vars))
	for _, v := range u.Vars {
		seen[v] = true
	}
	out := u
	for _, v := range other.Vars {
		if !seen[v] {
			seen[v] = true
			out.Vars = append(out.Vars, v)
		}
	}
	have := make(map[UnivConstraint]bool, len(u.Constraints))
	for _, c := range u.Constraints {
		have[c] = true
	}
	for _, c := range other.Constraints {
		if !have[c] {
			have[c] = true
			out.Constraints = append(out.Constraints, c)
		}
	}
	return out, nil
}

// Restrict minimizes the context to the variables actually used by the
// final term, dropping constraints that no longer mention a kept
// variable on either side. It must be called exactly once, after all
// obligation substitutions.
func (u UnivContext) Restrict(used []string) (UnivContext, error) {
	if u.Minimized {
		return u, ErrAlreadyMinimized
	}
	keep := make(map[string]bool, len(used))
	for _, v := range used {
		keep[v] = true
	}
	// Constraints can chain through intermediate variables; keep the
	// transitive closure of variables reachable from the used set.
	changed := true
	for changed {
		changed = false
		for _, c := range u.Constraints {
			if keep[c.Left] != keep[c.Right] {
				if !keep[c.Left] {
					keep[c.Left] = true
				} else {
					keep[c.Right] = true
				}
				changed = true
			}
		}
	}
	out := UnivContext{Minimized: true}
	for _, v := range u.Vars {
		if keep[v] {
			out.Vars = append(out.Vars, v)
		}
	}
	sort.Strings(out.Vars)
	for _, c := range u.Constraints {
		if keep[c.Left] && keep[c.Right] {
			out.Constraints = append(out.Constraints, c)
		}
	}
	return out, nil
}

// Contains reports whether the context carries the given variable.
func (u UnivContext) Contains(v string) bool {
	for _, x := range u.Vars {
		if x == v {
			return true
		}
	}
	return false
}
