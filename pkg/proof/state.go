// Package proof implements the interactive proof state machine.
//
// A State is immutable: tactic application either returns a new state
// or an error that leaves the receiver untouched. The tactic engine
// itself is an external collaborator; this package only defines the
// contract a tactic must satisfy.
package proof

import (
	"context"
	"errors"
	"fmt"

	"github.com/proviso-lang/proviso/pkg/term"
)

// Phase is the lifecycle position of a proof.
type Phase string

const (
	PhaseOpen     Phase = "open"
	PhaseClosing  Phase = "closing"
	PhaseProved   Phase = "proved"
	PhaseAdmitted Phase = "admitted"
)

// EndKind tags what happens when a proof closes successfully.
type EndKind string

const (
	EndRegular    EndKind = "regular"
	EndObligation EndKind = "obligation"
	EndDerive     EndKind = "derive"
	EndEquations  EndKind = "equations"
)

// Ending carries the close protocol and its parameters.
type Ending struct {
	Kind    EndKind `json:"kind"`
	Program string  `json:"program,omitempty"` // owning program for EndObligation
	Index   int     `json:"index,omitempty"`   // obligation position for EndObligation
}

// Hypothesis is one entry of a goal's local context.
type Hypothesis struct {
	Name string     `json:"name"`
	Type *term.Expr `json:"type"`
}

// Goal is a (context, conclusion) pair.
type Goal struct {
	Hyps  []Hypothesis `json:"hyps,omitempty"`
	Concl *term.Expr   `json:"concl"`
}

// TacticResult is what a successful tactic application produces: either
// a complete witness (no subgoals) or a partial term whose holes, named
// by HoleNames, stand for the returned subgoals in order.
type TacticResult struct {
	Term      *term.Expr
	Subgoals  []Goal
	HoleNames []string
	// Unsafe marks a step that bypassed kernel checking.
	Unsafe bool
}

// Tactic is an opaque, possibly failing procedure over a single goal.
type Tactic interface {
	Name() string
	Run(ctx context.Context, goal Goal) (*TacticResult, error)
}

// TacticError wraps a tactic failure. The proof state is unchanged and
// the failure is fully recoverable by retrying with another tactic.
type TacticError struct {
	Tactic string
	Err    error
}

func (e *TacticError) Error() string {
	return fmt.Sprintf("tactic %s failed: %v", e.Tactic, e.Err)
}

func (e *TacticError) Unwrap() error { return e.Err }

var (
	ErrNotOpen       = errors.New("proof is not open")
	ErrGoalsRemain   = errors.New("open goals remain")
	ErrNoGoals       = errors.New("no open goals")
	ErrUnusedSection = errors.New("proof mentions a section variable outside the used set")
)

// State is one snapshot of an in-progress proof. Goals carry stable
// hole names; the partial term mentions exactly the holes of the open
// goals.
type State struct {
	phase      Phase
	goals      []Goal
	holeNames  []string // parallel to goals
	focus      int
	partial    *term.Expr
	univ       term.UnivContext
	ending     Ending
	cleanup    Tactic // pending terminator tactic, run by caller policy
	usedVars   []string
	nextHoleID int
	unsafeUsed bool
}

// Start opens a proof of goal with the given ending protocol.
func Start(goal Goal, ending Ending) *State {
	root := "goal_0"
	return &State{
		phase:      PhaseOpen,
		goals:      []Goal{goal},
		holeNames:  []string{root},
		partial:    term.Hole(root),
		ending:     ending,
		nextHoleID: 1,
	}
}

// Phase returns the lifecycle phase.
func (s *State) Phase() Phase { return s.phase }

// Ending returns the close protocol tag.
func (s *State) Ending() Ending { return s.ending }

// OpenGoals returns the number of open goals.
func (s *State) OpenGoals() int { return len(s.goals) }

// FocusedGoal returns the currently focused goal.
func (s *State) FocusedGoal() (Goal, error) {
	if len(s.goals) == 0 {
		return Goal{}, ErrNoGoals
	}
	return s.goals[s.focus], nil
}

// PartialTerm returns the proof term so far, holes included.
func (s *State) PartialTerm() *term.Expr { return s.partial }

// Univ returns the universe state accumulated so far.
func (s *State) Univ() term.UnivContext { return s.univ }

// SetCleanup installs the tactic to run when a tactic line ends with an
// open-ended terminator.
func (s *State) SetCleanup(t Tactic) *State {
	c := s.clone()
	c.cleanup = t
	return c
}

// Cleanup returns the pending terminator tactic, if any.
func (s *State) Cleanup() Tactic { return s.cleanup }

func (s *State) clone() *State {
	c := *s
	c.goals = append([]Goal(nil), s.goals...)
	c.holeNames = append([]string(nil), s.holeNames...)
	c.usedVars = append([]string(nil), s.usedVars...)
	return &c
}

// Apply runs tac against the focused goal. On success the returned
// state has the goal replaced by tac's subgoals (focus moves to the
// first of them, or the next remaining goal). On failure the receiver
// is returned unchanged alongside a TacticError.
func (s *State) Apply(ctx context.Context, tac Tactic) (*State, error) {
	return s.applyAt(ctx, tac, s.focus)
}

// By applies one tactic to exactly the first open goal and reports
// whether the tactic used any unsafe step.
func (s *State) By(ctx context.Context, tac Tactic) (*State, bool, error) {
	next, err := s.applyAt(ctx, tac, 0)
	if err != nil {
		return s, false, err
	}
	return next, next.unsafeUsed && !s.unsafeUsed, nil
}

func (s *State) applyAt(ctx context.Context, tac Tactic, at int) (*State, error) {
	if s.phase != PhaseOpen {
		return s, ErrNotOpen
	}
	if len(s.goals) == 0 {
		return s, ErrNoGoals
	}
	if at < 0 || at >= len(s.goals) {
		return s, fmt.Errorf("no goal at position %d", at)
	}
	res, err := tac.Run(ctx, s.goals[at])
	if err != nil {
		return s, &TacticError{Tactic: tac.Name(), Err: err}
	}
	if res == nil || res.Term == nil {
		return s, &TacticError{Tactic: tac.Name(), Err: errors.New("no result term")}
	}
	if len(res.Subgoals) != len(res.HoleNames) {
		return s, &TacticError{Tactic: tac.Name(), Err: errors.New("subgoal/hole arity mismatch")}
	}

	c := s.clone()
	// Rename the tactic's holes to fresh stable goal names before
	// grafting its term into the partial proof.
	repl := make(map[string]*term.Expr, len(res.HoleNames))
	fresh := make([]string, len(res.HoleNames))
	for i, h := range res.HoleNames {
		fresh[i] = fmt.Sprintf("goal_%d", c.nextHoleID)
		c.nextHoleID++
		repl[h] = term.Hole(fresh[i])
	}
	grafted := term.Subst(res.Term, repl)
	c.partial = term.Subst(c.partial, map[string]*term.Expr{c.holeNames[at]: grafted})

	// Splice the subgoals in place of the solved goal.
	goals := make([]Goal, 0, len(c.goals)-1+len(res.Subgoals))
	names := make([]string, 0, cap(goals))
	goals = append(goals, c.goals[:at]...)
	names = append(names, c.holeNames[:at]...)
	goals = append(goals, res.Subgoals...)
	names = append(names, fresh...)
	goals = append(goals, c.goals[at+1:]...)
	names = append(names, c.holeNames[at+1:]...)
	c.goals = goals
	c.holeNames = names

	if c.focus >= len(c.goals) {
		c.focus = 0
	}
	if res.Unsafe {
		c.unsafeUsed = true
	}
	return c, nil
}

// Focus moves the focused goal.
func (s *State) Focus(i int) (*State, error) {
	if s.phase != PhaseOpen {
		return s, ErrNotOpen
	}
	if i < 0 || i >= len(s.goals) {
		return s, fmt.Errorf("no goal at position %d", i)
	}
	c := s.clone()
	c.focus = i
	return c, nil
}

// SetUsedVariables restricts which ambient section variables the proof
// may close over and returns their required closure: the given names
// plus every section variable the current goals already mention. It
// can only be called while the proof is open.
func (s *State) SetUsedVariables(names []string, sectionVars []string) (*State, []string, error) {
	if s.phase != PhaseOpen {
		return s, nil, ErrNotOpen
	}
	section := make(map[string]bool, len(sectionVars))
	for _, v := range sectionVars {
		section[v] = true
	}
	allowed := make(map[string]bool, len(names))
	closure := append([]string(nil), names...)
	for _, v := range names {
		allowed[v] = true
	}
	for _, g := range s.goals {
		// Hypothesis types count: a section variable a hypothesis
		// mentions is just as load-bearing as one in the conclusion.
		mentioned := term.FreeVars(g.Concl)
		for _, h := range g.Hyps {
			mentioned = append(mentioned, term.FreeVars(h.Type)...)
		}
		for _, v := range mentioned {
			if section[v] && !allowed[v] {
				allowed[v] = true
				closure = append(closure, v)
			}
		}
	}
	c := s.clone()
	c.usedVars = closure
	return c, closure, nil
}

// UsedVariables returns the restriction installed by SetUsedVariables.
func (s *State) UsedVariables() []string { return s.usedVars }

// MergeUniv folds additional universe state into the proof.
func (s *State) MergeUniv(u term.UnivContext) (*State, error) {
	merged, err := s.univ.Merge(u)
	if err != nil {
		return s, err
	}
	c := s.clone()
	c.univ = merged
	return c, nil
}
