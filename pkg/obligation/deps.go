package obligation

import (
	"fmt"
	"sort"

	"github.com/proviso-lang/proviso/pkg/term"
)

// Dependencies returns the transitive closure of obligation i's
// dependency set, sorted by position. These are the obligations whose
// solved terms must be substituted into i's goal before attempting it.
func Dependencies(obls []Obligation, i int) ([]int, error) {
	if i < 0 || i >= len(obls) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	seen := make(map[int]bool)
	var walk func(idx int) error
	walk = func(idx int) error {
		for _, d := range obls[idx].Deps {
			if d < 0 || d >= len(obls) {
				return fmt.Errorf("%w: obligation %d depends on %d", ErrIndexOutOfRange, idx, d)
			}
			if !seen[d] {
				seen[d] = true
				if err := walk(d); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(i); err != nil {
		return nil, err
	}
	out := make([]int, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Ints(out)
	return out, nil
}

// SubstPair is a solved obligation's contribution to a dependent: the
// term to substitute for its hole and the type of that term.
type SubstPair struct {
	Index int
	Name  string
	Term  *term.Expr
	Type  *term.Expr
}

// Substitutions produces, for each index, the (term, type) pair to
// substitute into a dependent. Promoted constants substitute as a
// reference to their registered name; inline bodies substitute as the
// stored term, since no constant exists for them. Opacity governs
// unfolding by dependents, not availability. The error for an unsolved
// index is propagated, never swallowed: callers must only request
// substitution for solved dependencies.
func Substitutions(obls []Obligation, indices []int) ([]SubstPair, error) {
	out := make([]SubstPair, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(obls) {
			return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, idx)
		}
		o := &obls[idx]
		if !o.Solved() {
			return nil, fmt.Errorf("%w: obligation %d (%s)", ErrUnsolvedDependency, idx, o.Name)
		}
		pair := SubstPair{Index: idx, Name: o.Name, Type: o.Goal}
		if o.Body.ConstRef != "" {
			pair.Term = term.Ref(o.Body.ConstRef)
		} else {
			pair.Term = o.Body.Term
		}
		out = append(out, pair)
	}
	return out, nil
}

// ReplacementMap converts substitution pairs into a hole-name keyed map
// ready for term.Subst.
func ReplacementMap(pairs []SubstPair) map[string]*term.Expr {
	repl := make(map[string]*term.Expr, len(pairs))
	for _, p := range pairs {
		repl[p.Name] = p.Term
	}
	return repl
}

// Attemptable reports whether every direct dependency of obligation i
// has a solved body. The engine only reports attemptability; selection
// policy belongs to the program lifecycle.
func Attemptable(obls []Obligation, i int) bool {
	if i < 0 || i >= len(obls) {
		return false
	}
	for _, d := range obls[i].Deps {
		if d < 0 || d >= len(obls) || !obls[d].Solved() {
			return false
		}
	}
	return true
}

// GoalWithDependencies returns obligation i's goal with every solved
// transitive dependency substituted in.
func GoalWithDependencies(obls []Obligation, i int) (*term.Expr, error) {
	deps, err := Dependencies(obls, i)
	if err != nil {
		return nil, err
	}
	solved := deps[:0:0]
	for _, d := range deps {
		if obls[d].Solved() {
			solved = append(solved, d)
		}
	}
	pairs, err := Substitutions(obls, solved)
	if err != nil {
		return nil, err
	}
	return term.Subst(obls[i].Goal, ReplacementMap(pairs)), nil
}
