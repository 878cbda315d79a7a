// Package program tracks declarations whose terms still contain
// unsolved obligations, from creation through the solve cascade to
// finalization.
package program

import (
	"fmt"

	"github.com/proviso-lang/proviso/pkg/kernel"
	"github.com/proviso-lang/proviso/pkg/obligation"
	"github.com/proviso-lang/proviso/pkg/term"
)

// RecursionKind distinguishes a plain definition from a recursive
// group.
type RecursionKind string

const (
	RecursionNone       RecursionKind = "none"
	RecursionFixpoint   RecursionKind = "fixpoint"
	RecursionCofixpoint RecursionKind = "cofixpoint"
)

// Member is one definition of a (possibly mutual) group. Its skeleton
// mentions obligation holes by name.
type Member struct {
	Name     string     `json:"name"`
	Type     *term.Expr `json:"type"`
	Skeleton *term.Expr `json:"skeleton"`
	Args     []string   `json:"args,omitempty"`
}

// Notation is declaration-scoped notation metadata, reinstalled when
// the declaration is registered.
type Notation struct {
	Pattern string `json:"pattern"`
	Meaning string `json:"meaning"`
}

// SolvedObligation is an (obligation name, produced term) pair, as
// handed to hooks.
type SolvedObligation struct {
	Name string     `json:"name"`
	Term *term.Expr `json:"term"`
}

// HookInput is the payload a post-registration hook receives, exactly
// once per successful finalization.
type HookInput struct {
	Refs        []kernel.Ref       `json:"refs"`
	Univ        term.UnivContext   `json:"univ"`
	Obligations []SolvedObligation `json:"obligations"`
	Visibility  string             `json:"visibility"`
}

// Hook is a post-registration callback. A hook failure is reported but
// never rolls back the registration.
type Hook func(HookInput) error

// Program is the aggregate for one declaration with pending
// obligations.
type Program struct {
	Name        string                  `json:"name"`
	Members     []Member                `json:"members"`
	Recursion   RecursionKind           `json:"recursion"`
	Notations   []Notation              `json:"notations,omitempty"`
	Univ        term.UnivContext        `json:"univ"`
	Obligations []obligation.Obligation `json:"obligations"`
	Remaining   int                     `json:"remaining"`
	Opaque      bool                    `json:"opaque"`
	Visibility  string                  `json:"visibility,omitempty"`
	// DependsOn names other open programs whose completion this
	// declaration's finalization waits on.
	DependsOn         []string `json:"depends_on,omitempty"`
	DependsOnAdmitted bool     `json:"depends_on_admitted,omitempty"`

	hooks []Hook
}

// Hooks returns the hooks registered at declaration start.
func (p *Program) Hooks() []Hook { return p.hooks }

// Invariant verifies Remaining equals the number of unsolved
// obligations. It is checked after every mutating operation.
func (p *Program) Invariant() error {
	open := 0
	for i := range p.Obligations {
		if !p.Obligations[i].Solved() {
			open++
		}
	}
	if open != p.Remaining {
		return fmt.Errorf("program %s: remaining=%d but %d obligations are unsolved", p.Name, p.Remaining, open)
	}
	return nil
}

// ObligationIndex resolves an obligation by name.
func (p *Program) ObligationIndex(name string) (int, bool) {
	for i := range p.Obligations {
		if p.Obligations[i].Name == name {
			return i, true
		}
	}
	return 0, false
}

// SolvedPairs lists solved obligations in position order.
func (p *Program) SolvedPairs() []SolvedObligation {
	out := make([]SolvedObligation, 0, len(p.Obligations))
	for i := range p.Obligations {
		o := &p.Obligations[i]
		if !o.Solved() {
			continue
		}
		t := o.Body.Term
		if t == nil {
			t = term.Ref(o.Body.ConstRef)
		}
		out = append(out, SolvedObligation{Name: o.Name, Term: t})
	}
	return out
}

// CurrentTerm renders member i's skeleton with every solved obligation
// substituted in and unsolved ones kept as named holes.
func (p *Program) CurrentTerm(i int) (*term.Expr, error) {
	if i < 0 || i >= len(p.Members) {
		return nil, fmt.Errorf("no member at position %d", i)
	}
	solved := make([]int, 0, len(p.Obligations))
	for idx := range p.Obligations {
		if p.Obligations[idx].Solved() {
			solved = append(solved, idx)
		}
	}
	pairs, err := obligation.Substitutions(p.Obligations, solved)
	if err != nil {
		return nil, err
	}
	return term.Subst(p.Members[i].Skeleton, obligation.ReplacementMap(pairs)), nil
}

// ProgressKind tags a lifecycle report.
type ProgressKind string

const (
	ProgressDefined   ProgressKind = "defined"
	ProgressRemain    ProgressKind = "remain"
	ProgressDependent ProgressKind = "dependent"
)

// Progress is the completion status reported by lifecycle operations.
type Progress struct {
	Kind      ProgressKind `json:"kind"`
	Remaining int          `json:"remaining,omitempty"`
	Refs      []kernel.Ref `json:"refs,omitempty"`
}

func (p Progress) String() string {
	switch p.Kind {
	case ProgressDefined:
		if len(p.Refs) == 1 {
			return fmt.Sprintf("Defined %s", p.Refs[0].Name)
		}
		names := make([]string, 0, len(p.Refs))
		for _, r := range p.Refs {
			names = append(names, r.Name)
		}
		return fmt.Sprintf("Defined %v", names)
	case ProgressDependent:
		return "Dependent"
	default:
		return fmt.Sprintf("Remain %d", p.Remaining)
	}
}
