// Package obligation models delayed proof obligations and the
// dependency engine that orders and substitutes them.
package obligation

import (
	"errors"
	"fmt"

	"github.com/proviso-lang/proviso/pkg/term"
)

// Opacity controls whether a solved body is folded in eagerly or kept
// behind an opaque reference.
type Opacity string

const (
	Transparent Opacity = "transparent"
	Opaque      Opacity = "opaque"
)

// Body is the resolution of a solved obligation: either a direct term
// or a reference to a separately registered constant. The two are
// observably different to dependents; both count as solved.
type Body struct {
	Term     *term.Expr `json:"term,omitempty"`
	ConstRef string     `json:"const_ref,omitempty"`
}

// Obligation is a single unit of delayed work within a program
// declaration. Positions are stable array indices assigned at creation
// and never renumbered.
type Obligation struct {
	Name       string           `json:"name"`
	Goal       *term.Expr       `json:"goal"`
	Loc        string           `json:"loc,omitempty"` // provenance tag for diagnostics
	Deps       []int            `json:"deps,omitempty"`
	Opacity    Opacity          `json:"opacity"`
	Deferred   bool             `json:"deferred,omitempty"` // keep behind an indirect constant
	AutoTactic string           `json:"auto_tactic,omitempty"`
	Univ       term.UnivContext `json:"univ"`
	Body       *Body            `json:"body,omitempty"`
}

// Solved reports whether the obligation has a body.
func (o *Obligation) Solved() bool { return o.Body != nil }

var (
	ErrIndexOutOfRange    = errors.New("obligation index out of range")
	ErrUnsolvedDependency = errors.New("dependency has no solved body")
	ErrCyclicDependencies = errors.New("obligation dependencies form a cycle")
	ErrAlreadySolved      = errors.New("obligation already solved")
)

// ObligationName derives the deterministic name for the obligation at
// position idx of declaration declName.
func ObligationName(declName string, idx int) string {
	return fmt.Sprintf("%s_obligation_%d", declName, idx+1)
}

// ValidateDAG verifies every dependency index is in range and the
// dependency relation is acyclic. Callers must supply a DAG; the
// engine never reorders obligations itself.
func ValidateDAG(obls []Obligation) error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make([]int, len(obls))
	var visit func(i int) error
	visit = func(i int) error {
		color[i] = grey
		for _, d := range obls[i].Deps {
			if d < 0 || d >= len(obls) {
				return fmt.Errorf("%w: obligation %d depends on %d", ErrIndexOutOfRange, i, d)
			}
			switch color[d] {
			case grey:
				return fmt.Errorf("%w: %d and %d", ErrCyclicDependencies, i, d)
			case white:
				if err := visit(d); err != nil {
					return err
				}
			}
		}
		color[i] = black
		return nil
	}
	for i := range obls {
		if color[i] == white {
			if err := visit(i); err != nil {
				return err
			}
		}
	}
	return nil
}
