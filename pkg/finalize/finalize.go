// Package finalize assembles completed declarations and registers them
// with the kernel. It implements the program package's Declarer
// boundary and the top-level Finish dispatch for closed proofs.
package finalize

import (
	"fmt"
	"log/slog"

	"github.com/proviso-lang/proviso/pkg/kernel"
	"github.com/proviso-lang/proviso/pkg/obligation"
	"github.com/proviso-lang/proviso/pkg/program"
	"github.com/proviso-lang/proviso/pkg/proof"
	"github.com/proviso-lang/proviso/pkg/term"
)

// Finalizer performs the one-time assembly and registration of
// declarations. Every step consumes the env returned by the previous
// one; a stale view is an internal defect, never a recoverable case.
type Finalizer struct {
	checker kernel.Checker
	mgr     *program.Manager
	logger  *slog.Logger
}

// New wires a finalizer to the manager as its declarer.
func New(checker kernel.Checker, mgr *program.Manager, logger *slog.Logger) *Finalizer {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Finalizer{checker: checker, mgr: mgr, logger: logger}
	mgr.SetDeclarer(f)
	return f
}

// DeclareObligation stores one solved obligation. Transparent,
// non-deferred terms stay embedded; deferred or opaque solutions are
// promoted to their own named constant. Admitted placeholders inside
// the proof are registered as axioms first.
func (f *Finalizer) DeclareObligation(env kernel.Env, p *program.Program, idx int, closed *proof.Closed) (kernel.Env, obligation.Body, error) {
	if env.Stale() {
		return env, obligation.Body{}, fmt.Errorf("%w: obligation %d of %s", program.ErrStaleEnvironment, idx, p.Name)
	}
	o := &p.Obligations[idx]

	var err error
	env, err = f.registerAdmitted(env, p, closed)
	if err != nil {
		return env, obligation.Body{}, err
	}

	inline := !o.Deferred && !closed.Opaque && o.Opacity == obligation.Transparent
	if inline {
		return env, obligation.Body{Term: closed.Term}, nil
	}

	goal, err := obligation.GoalWithDependencies(p.Obligations, idx)
	if err != nil {
		return env, obligation.Body{}, err
	}
	decl := &kernel.Declaration{
		Name:              o.Name,
		Kind:              kernel.KindTheorem,
		Type:              goal,
		Body:              closed.Term,
		Univ:              closed.Univ,
		Opaque:            o.Opacity == obligation.Opaque || closed.Opaque,
		DependsOnAdmitted: len(closed.Admitted) > 0,
	}
	env, ref, err := f.checker.Register(env, decl)
	if err != nil {
		return env, obligation.Body{}, fmt.Errorf("failed to declare obligation constant %s: %w", o.Name, err)
	}
	f.logger.Debug("obligation promoted to constant", "program", p.Name, "constant", ref.Name)
	return env, obligation.Body{ConstRef: ref.Name}, nil
}

// DeclareProgram substitutes every obligation's stored term into the
// original skeleton in position order, minimizes the universe context
// exactly once, and registers one declaration per member, refreshing
// the environment view after each registration.
func (f *Finalizer) DeclareProgram(env kernel.Env, p *program.Program) (kernel.Env, []kernel.Ref, error) {
	if env.Stale() {
		return env, nil, fmt.Errorf("%w: program %s", program.ErrStaleEnvironment, p.Name)
	}
	all := make([]int, len(p.Obligations))
	for i := range all {
		all[i] = i
	}
	pairs, err := obligation.Substitutions(p.Obligations, all)
	if err != nil {
		return env, nil, fmt.Errorf("program %s is not complete: %w", p.Name, err)
	}
	repl := obligation.ReplacementMap(pairs)

	type grounded struct {
		name      string
		typ, body *term.Expr
	}
	members := make([]grounded, 0, len(p.Members))
	var used []string
	for _, m := range p.Members {
		g := grounded{
			name: m.Name,
			typ:  term.Subst(m.Type, repl),
			body: term.Subst(m.Skeleton, repl),
		}
		used = append(used, term.UnivVarsOf(g.typ)...)
		used = append(used, term.UnivVarsOf(g.body)...)
		members = append(members, g)
	}

	// Universe restriction happens exactly once, after all
	// substitutions, never per obligation. The restricted context stays
	// local until every member is registered: a failed registration must
	// leave the program retryable, with its context unminimized.
	univ, err := p.Univ.Restrict(used)
	if err != nil {
		return env, nil, fmt.Errorf("failed to minimize universe context of %s: %w", p.Name, err)
	}

	decls := make([]*kernel.Declaration, 0, len(members))
	for _, g := range members {
		decls = append(decls, &kernel.Declaration{
			Name:              g.name,
			Kind:              kernel.KindDefinition,
			Type:              g.typ,
			Body:              g.body,
			Univ:              univ,
			Opaque:            p.Opaque,
			DependsOnAdmitted: p.DependsOnAdmitted,
		})
	}

	// Validate the whole group against the current view before any
	// member registers: a mid-group failure would otherwise leave a
	// partial mutual block in the kernel.
	for _, decl := range decls {
		if err := f.checker.Check(env, decl); err != nil {
			return env, nil, fmt.Errorf("failed to register %s: %w", decl.Name, err)
		}
	}

	refs := make([]kernel.Ref, 0, len(decls))
	for _, decl := range decls {
		var ref kernel.Ref
		// Register may run effectful sub-registrations; the returned
		// env is the only valid view for the next member.
		env, ref, err = f.checker.Register(env, decl)
		if err != nil {
			return env, nil, fmt.Errorf("failed to register %s: %w", decl.Name, err)
		}
		refs = append(refs, ref)
	}
	p.Univ = univ
	return env, refs, nil
}

// DeclareAxiom registers an axiom-like placeholder.
func (f *Finalizer) DeclareAxiom(env kernel.Env, name string, typ *term.Expr, univ term.UnivContext) (kernel.Env, kernel.Ref, error) {
	if env.Stale() {
		return env, kernel.Ref{}, fmt.Errorf("%w: axiom %s", program.ErrStaleEnvironment, name)
	}
	decl := &kernel.Declaration{
		Name: name,
		Kind: kernel.KindAxiom,
		Type: typ,
		Univ: univ,
	}
	return f.checker.Register(env, decl)
}

// registerAdmitted registers the admitted placeholders of a closed
// proof as axioms and marks the owning program accordingly.
func (f *Finalizer) registerAdmitted(env kernel.Env, p *program.Program, closed *proof.Closed) (kernel.Env, error) {
	for _, ph := range closed.Admitted {
		var err error
		env, _, err = f.DeclareAxiom(env, ph.Name, ph.Type, closed.Univ)
		if err != nil {
			return env, err
		}
	}
	if len(closed.Admitted) > 0 && p != nil {
		p.DependsOnAdmitted = true
	}
	return env, nil
}
