package program

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/proviso-lang/proviso/pkg/kernel"
	"github.com/proviso-lang/proviso/pkg/obligation"
	"github.com/proviso-lang/proviso/pkg/proof"
	"github.com/proviso-lang/proviso/pkg/tactic"
	"github.com/proviso-lang/proviso/pkg/term"
)

// Declarer is the finalization boundary the lifecycle drives. The
// concrete implementation lives in the finalize package; keeping it an
// interface here lets the cascade run without knowing how terms are
// assembled or registered.
type Declarer interface {
	// DeclareObligation stores a solved obligation's term, promoting it
	// to its own named constant when it cannot be inlined.
	DeclareObligation(env kernel.Env, p *Program, idx int, closed *proof.Closed) (kernel.Env, obligation.Body, error)
	// DeclareProgram assembles the grounded term(s), minimizes the
	// universe context, and registers one declaration per member.
	DeclareProgram(env kernel.Env, p *Program) (kernel.Env, []kernel.Ref, error)
	// DeclareAxiom registers an axiom-like placeholder (admit path).
	DeclareAxiom(env kernel.Env, name string, typ *term.Expr, univ term.UnivContext) (kernel.Env, kernel.Ref, error)
}

// ErrNoAttemptable is returned when every unsolved obligation still
// waits on an unsolved dependency.
var ErrNoAttemptable = errors.New("no attemptable obligation")

// ErrStaleEnvironment is an internal invariant violation: a finalize
// step read an environment view predating one of its own side effects.
var ErrStaleEnvironment = errors.New("stale environment view in finalize pass")

// Manager drives the lifecycle of open programs: creation, the
// auto-solve fixed point, obligation selection, the update cascade,
// and hand-off to the declarer.
type Manager struct {
	registry *Registry
	tactics  *tactic.Registry
	declarer Declarer
	logger   *slog.Logger
}

func NewManager(reg *Registry, tactics *tactic.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{registry: reg, tactics: tactics, logger: logger}
}

// SetDeclarer wires the finalization boundary. Must be called before
// any lifecycle operation.
func (m *Manager) SetDeclarer(d Declarer) { m.declarer = d }

// Registry exposes the open-program registry for status commands.
func (m *Manager) Registry() *Registry { return m.registry }

// DefinitionOpts carries the optional metadata of a new declaration.
type DefinitionOpts struct {
	Notations  []Notation
	Opaque     bool
	Visibility string
	Hooks      []Hook
	DependsOn  []string
}

// AddDefinition registers a single declaration with embedded
// placeholders, attempts every obligation with a default strategy, and
// finalizes synchronously if that closes them all.
func (m *Manager) AddDefinition(ctx context.Context, env kernel.Env, member Member, obls []obligation.Obligation, opts DefinitionOpts) (kernel.Env, Progress, error) {
	return m.addProgram(ctx, env, RecursionNone, []Member{member}, obls, opts)
}

// AddMutualDefinitions registers a mutually recursive group as one
// program declaration sharing a single obligation sequence.
func (m *Manager) AddMutualDefinitions(ctx context.Context, env kernel.Env, kind RecursionKind, members []Member, obls []obligation.Obligation, opts DefinitionOpts) (kernel.Env, Progress, error) {
	if len(members) == 0 {
		return env, Progress{}, errors.New("mutual group has no members")
	}
	if kind == RecursionNone {
		kind = RecursionFixpoint
	}
	return m.addProgram(ctx, env, kind, members, obls, opts)
}

func (m *Manager) addProgram(ctx context.Context, env kernel.Env, kind RecursionKind, members []Member, obls []obligation.Obligation, opts DefinitionOpts) (kernel.Env, Progress, error) {
	if err := obligation.ValidateDAG(obls); err != nil {
		return env, Progress{}, err
	}
	name := term.NormalizeName(members[0].Name)
	for i := range members {
		members[i].Name = term.NormalizeName(members[i].Name)
		if env.Contains(members[i].Name) {
			return env, Progress{}, fmt.Errorf("%w: %s", kernel.ErrAlreadyDeclared, members[i].Name)
		}
	}
	obls = append([]obligation.Obligation(nil), obls...)
	remaining := 0
	for i := range obls {
		if obls[i].Name == "" {
			obls[i].Name = obligation.ObligationName(name, i)
		}
		if obls[i].Opacity == "" {
			obls[i].Opacity = obligation.Transparent
		}
		if !obls[i].Solved() {
			remaining++
		}
	}
	p := &Program{
		Name:        name,
		Members:     members,
		Recursion:   kind,
		Notations:   opts.Notations,
		Univ:        term.NewUnivContext(),
		Obligations: obls,
		Remaining:   remaining,
		Opaque:      opts.Opaque,
		Visibility:  opts.Visibility,
		DependsOn:   opts.DependsOn,
		hooks:       opts.Hooks,
	}
	if err := m.registry.Add(p); err != nil {
		return env, Progress{}, err
	}
	env, err := m.autoPass(ctx, env, p)
	if err != nil {
		return env, Progress{}, err
	}
	return m.report(ctx, env, p)
}

// autoPass attempts every obligation with a default strategy that is
// currently attemptable, in position order, repeating until a full
// sweep makes no progress. Solving one obligation can make a later one
// attemptable, which is why this runs to a fixed point.
func (m *Manager) autoPass(ctx context.Context, env kernel.Env, p *Program) (kernel.Env, error) {
	for {
		progressed := false
		for i := range p.Obligations {
			o := &p.Obligations[i]
			if o.Solved() || o.AutoTactic == "" || !obligation.Attemptable(p.Obligations, i) {
				continue
			}
			nextEnv, ok, err := m.solveWith(ctx, env, p, i, o.AutoTactic)
			if err != nil {
				return env, err
			}
			if ok {
				env = nextEnv
				progressed = true
			}
		}
		if !progressed {
			return env, nil
		}
	}
}

// solveWith runs one named tactic against obligation idx through the
// same interactive machinery used for manual proofs. A tactic failure
// is not an error: the obligation simply stays open.
func (m *Manager) solveWith(ctx context.Context, env kernel.Env, p *Program, idx int, tacticName string) (kernel.Env, bool, error) {
	tac, err := m.tactics.Get(tacticName)
	if err != nil {
		m.logger.Debug("default strategy unavailable",
			"program", p.Name, "obligation", p.Obligations[idx].Name, "tactic", tacticName)
		return env, false, nil
	}
	st, err := m.stateFor(p, idx)
	if err != nil {
		return env, false, err
	}
	st, err = st.Apply(ctx, tac)
	if err != nil {
		var tacErr *proof.TacticError
		if errors.As(err, &tacErr) {
			return env, false, nil
		}
		return env, false, err
	}
	if st.OpenGoals() != 0 {
		// Partial progress does not discharge an obligation.
		return env, false, nil
	}
	_, outcome, err := st.Close(proof.CloseOpts{Opaque: p.Obligations[idx].Opacity == obligation.Opaque})
	if err != nil {
		return env, false, err
	}
	closed, err := outcome.Await(ctx)
	if err != nil {
		return env, false, err
	}
	env, body, err := m.declarer.DeclareObligation(env, p, idx, closed)
	if err != nil {
		return env, false, err
	}
	if err := m.storeBody(p, idx, body, closed.Univ); err != nil {
		return env, false, err
	}
	m.logger.Debug("obligation solved automatically",
		"program", p.Name, "obligation", p.Obligations[idx].Name, "tactic", tacticName)
	return env, true, nil
}

// storeBody records a solution. A body transitions from absent to
// present exactly once.
func (m *Manager) storeBody(p *Program, idx int, body obligation.Body, univ term.UnivContext) error {
	o := &p.Obligations[idx]
	if o.Solved() {
		return fmt.Errorf("%w: %s", obligation.ErrAlreadySolved, o.Name)
	}
	o.Body = &body
	merged, err := p.Univ.Merge(univ)
	if err != nil {
		return err
	}
	p.Univ = merged
	p.Remaining--
	return p.Invariant()
}

// UpdateObls records a solved obligation body, re-runs the auto-solve
// fixed point, and finalizes the program if nothing remains. This is
// the cascade: one manual proof can transitively close many
// obligations and the whole declaration in one step.
func (m *Manager) UpdateObls(ctx context.Context, env kernel.Env, progName string, idx int, body obligation.Body, univ term.UnivContext) (kernel.Env, Progress, error) {
	p, err := m.registry.Get(progName)
	if err != nil {
		return env, Progress{}, err
	}
	if idx < 0 || idx >= len(p.Obligations) {
		return env, Progress{}, fmt.Errorf("%w: index %d", ErrUnknownObligation, idx)
	}
	if err := m.storeBody(p, idx, body, univ); err != nil {
		return env, Progress{}, err
	}
	env, err = m.autoPass(ctx, env, p)
	if err != nil {
		return env, Progress{}, err
	}
	return m.report(ctx, env, p)
}

// report translates a program's state into a Progress value,
// finalizing when all obligations are solved and no open dependency
// blocks completion.
func (m *Manager) report(ctx context.Context, env kernel.Env, p *Program) (kernel.Env, Progress, error) {
	if p.Remaining > 0 {
		return env, Progress{Kind: ProgressRemain, Remaining: p.Remaining}, nil
	}
	if m.blocked(p) {
		return env, Progress{Kind: ProgressDependent}, nil
	}
	env, refs, err := m.finalizeProgram(ctx, env, p)
	if err != nil {
		return env, Progress{}, err
	}
	return env, Progress{Kind: ProgressDefined, Refs: refs}, nil
}

// blocked reports whether another still-open program gates this one.
func (m *Manager) blocked(p *Program) bool {
	for _, dep := range p.DependsOn {
		if dep == p.Name {
			continue
		}
		if _, err := m.registry.Get(dep); err == nil {
			return true
		}
	}
	return false
}

// finalizeProgram hands the complete program to the declarer, removes
// it from the registry, fires hooks, and re-checks programs that were
// waiting on it. Registration is atomic from the registry's viewpoint:
// on a declarer error the program stays open and registered state is
// untouched.
func (m *Manager) finalizeProgram(ctx context.Context, env kernel.Env, p *Program) (kernel.Env, []kernel.Ref, error) {
	if env.Stale() {
		return env, nil, fmt.Errorf("%w: program %s", ErrStaleEnvironment, p.Name)
	}
	env, refs, err := m.declarer.DeclareProgram(env, p)
	if err != nil {
		return env, nil, err
	}
	if err := m.registry.Remove(p.Name); err != nil {
		return env, nil, err
	}
	m.logger.Info("program finalized", "program", p.Name, "members", len(p.Members))

	var hookErr error
	input := HookInput{
		Refs:        refs,
		Univ:        p.Univ,
		Obligations: p.SolvedPairs(),
		Visibility:  p.Visibility,
	}
	for _, h := range p.hooks {
		if err := h(input); err != nil {
			// The declaration stays registered; hook failures are
			// reported, never rolled back.
			m.logger.Warn("finalization hook failed", "program", p.Name, "error", err)
			hookErr = errors.Join(hookErr, err)
		}
	}

	env, err = m.recheckDependents(ctx, env)
	if err != nil {
		return env, refs, err
	}
	return env, refs, hookErr
}

// recheckDependents re-reports every fully solved program that was
// blocked on another open declaration, repeating until no further
// completion unlocks.
func (m *Manager) recheckDependents(ctx context.Context, env kernel.Env) (kernel.Env, error) {
	for {
		progressed := false
		for _, p := range m.registry.All() {
			if p.Remaining == 0 && !m.blocked(p) {
				var err error
				env, _, err = m.finalizeProgram(ctx, env, p)
				if err != nil {
					return env, err
				}
				progressed = true
				break // registry changed; restart the scan
			}
		}
		if !progressed {
			return env, nil
		}
	}
}

// stateFor opens an interactive proof for obligation idx, its goal
// rewritten with every solved dependency substituted in.
func (m *Manager) stateFor(p *Program, idx int) (*proof.State, error) {
	deps, err := obligation.Dependencies(p.Obligations, idx)
	if err != nil {
		return nil, err
	}
	for _, d := range deps {
		if !p.Obligations[d].Solved() {
			return nil, fmt.Errorf("%w: %s waits on %s",
				ErrNoAttemptable, p.Obligations[idx].Name, p.Obligations[d].Name)
		}
	}
	goal, err := obligation.GoalWithDependencies(p.Obligations, idx)
	if err != nil {
		return nil, err
	}
	return proof.Start(
		proof.Goal{Concl: goal},
		proof.Ending{Kind: proof.EndObligation, Program: p.Name, Index: idx},
	), nil
}

// NextObligation opens a proof for the named obligation, or for the
// first attemptable unsolved one in position order.
func (m *Manager) NextObligation(progName, oblRef string) (*proof.State, *Program, int, error) {
	p, err := m.registry.Unique(progName)
	if err != nil {
		return nil, nil, 0, err
	}
	idx := -1
	if oblRef != "" {
		idx, err = m.resolveObligation(p, oblRef)
		if err != nil {
			return nil, nil, 0, err
		}
		if p.Obligations[idx].Solved() {
			return nil, nil, 0, fmt.Errorf("%w: %s", obligation.ErrAlreadySolved, p.Obligations[idx].Name)
		}
	} else {
		for i := range p.Obligations {
			if !p.Obligations[i].Solved() && obligation.Attemptable(p.Obligations, i) {
				idx = i
				break
			}
		}
		if idx < 0 {
			if p.Remaining == 0 {
				return nil, nil, 0, fmt.Errorf("%w: no obligations remain for %s", ErrUnknownObligation, p.Name)
			}
			return nil, nil, 0, fmt.Errorf("%w in %s", ErrNoAttemptable, p.Name)
		}
	}
	st, err := m.stateFor(p, idx)
	if err != nil {
		return nil, nil, 0, err
	}
	return st, p, idx, nil
}

// resolveObligation accepts a 1-based position or an obligation name.
func (m *Manager) resolveObligation(p *Program, ref string) (int, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(p.Obligations) {
			return 0, fmt.Errorf("%w: position %d of %s", ErrUnknownObligation, n, p.Name)
		}
		return n - 1, nil
	}
	if idx, ok := p.ObligationIndex(ref); ok {
		return idx, nil
	}
	return 0, fmt.Errorf("%w: %s in %s", ErrUnknownObligation, ref, p.Name)
}

// SolveObligation attempts one obligation with the named tactic (or
// its default strategy) and runs the cascade on success.
func (m *Manager) SolveObligation(ctx context.Context, env kernel.Env, progName, oblRef, tacticName string) (kernel.Env, Progress, error) {
	p, err := m.registry.Unique(progName)
	if err != nil {
		return env, Progress{}, err
	}
	_, _, idx, err := m.NextObligation(p.Name, oblRef)
	if err != nil {
		return env, Progress{}, err
	}
	name := tacticName
	if name == "" {
		name = p.Obligations[idx].AutoTactic
	}
	if name == "" {
		return env, Progress{}, fmt.Errorf("obligation %s has no default strategy and no tactic was given", p.Obligations[idx].Name)
	}
	env, ok, err := m.solveWith(ctx, env, p, idx, name)
	if err != nil {
		return env, Progress{}, err
	}
	if !ok {
		return env, Progress{}, &proof.TacticError{Tactic: name, Err: fmt.Errorf("did not discharge %s", p.Obligations[idx].Name)}
	}
	env, err = m.autoPass(ctx, env, p)
	if err != nil {
		return env, Progress{}, err
	}
	return m.report(ctx, env, p)
}

// SolveObligations attempts every obligation of one program with the
// given tactic (falling back to each obligation's default strategy),
// repeating until no further progress is made.
func (m *Manager) SolveObligations(ctx context.Context, env kernel.Env, progName, tacticName string) (kernel.Env, Progress, error) {
	p, err := m.registry.Unique(progName)
	if err != nil {
		return env, Progress{}, err
	}
	for {
		progressed := false
		for i := range p.Obligations {
			o := &p.Obligations[i]
			if o.Solved() || !obligation.Attemptable(p.Obligations, i) {
				continue
			}
			name := tacticName
			if name == "" {
				name = o.AutoTactic
			}
			if name == "" {
				continue
			}
			nextEnv, ok, err := m.solveWith(ctx, env, p, i, name)
			if err != nil {
				return env, Progress{}, err
			}
			if ok {
				env = nextEnv
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return m.report(ctx, env, p)
}

// SolveAllObligations runs SolveObligations over every open program.
// The per-program progress values are reported keyed by name.
func (m *Manager) SolveAllObligations(ctx context.Context, env kernel.Env, tacticName string) (kernel.Env, map[string]Progress, error) {
	out := make(map[string]Progress)
	for _, name := range m.registry.Names() {
		// A cascade may already have closed this program.
		if _, err := m.registry.Get(name); err != nil {
			continue
		}
		var (
			prog Progress
			err  error
		)
		env, prog, err = m.SolveObligations(ctx, env, name, tacticName)
		if err != nil {
			return env, out, err
		}
		out[name] = prog
	}
	return env, out, nil
}

// CheckSolvedObligations fails, listing every open program with
// remaining obligations, if any exist. It is meant to gate scope
// boundaries: open obligations must not silently leak past one.
func (m *Manager) CheckSolvedObligations() error {
	open := make(map[string]int)
	for _, p := range m.registry.All() {
		if p.Remaining > 0 {
			open[p.Name] = p.Remaining
		}
	}
	if len(open) > 0 {
		return &UnsolvedError{Programs: open}
	}
	return nil
}

// AdmitObligations force-closes all remaining obligations of the named
// (or unique open) program with axiom placeholders, then proceeds
// exactly as if they had been solved. The resulting declaration is
// marked as depending on an admitted assumption.
func (m *Manager) AdmitObligations(ctx context.Context, env kernel.Env, progName string) (kernel.Env, Progress, error) {
	p, err := m.registry.Unique(progName)
	if err != nil {
		return env, Progress{}, err
	}
	for i := range p.Obligations {
		o := &p.Obligations[i]
		if o.Solved() {
			continue
		}
		goal, err := obligation.GoalWithDependencies(p.Obligations, i)
		if err != nil {
			return env, Progress{}, err
		}
		var ref kernel.Ref
		env, ref, err = m.declarer.DeclareAxiom(env, o.Name, goal, p.Univ)
		if err != nil {
			return env, Progress{}, err
		}
		if err := m.storeBody(p, i, obligation.Body{ConstRef: ref.Name}, o.Univ); err != nil {
			return env, Progress{}, err
		}
	}
	p.DependsOnAdmitted = true
	m.logger.Info("obligations admitted", "program", p.Name)
	return m.report(ctx, env, p)
}
