package finalize

import (
	"context"
	"errors"
	"fmt"

	"github.com/proviso-lang/proviso/pkg/kernel"
	"github.com/proviso-lang/proviso/pkg/program"
	"github.com/proviso-lang/proviso/pkg/proof"
	"github.com/proviso-lang/proviso/pkg/term"
)

// FinishFunc is a caller-supplied assembly protocol for derive and
// equations endings. It is invoked exactly once with a consistent,
// minimized universe state.
type FinishFunc func(env kernel.Env, closed *proof.Closed) (kernel.Env, []kernel.Ref, error)

// FinishRequest carries what the finalizer needs beyond the proof
// object itself.
type FinishRequest struct {
	Outcome *proof.Outcome
	// Name, Type, Kind describe the declaration for regular endings.
	Name string
	Type *term.Expr
	Kind kernel.DeclKind
	// Finish is the external assembly callback for derive/equations.
	Finish FinishFunc
}

// Result is the outcome of a finalize pass.
type Result struct {
	Progress program.Progress
	Refs     []kernel.Ref
}

var ErrNoFinishFunc = errors.New("ending requires a finishing function")

// Finish consumes a closed proof object exactly once and dispatches on
// its ending protocol.
func (f *Finalizer) Finish(ctx context.Context, env kernel.Env, req FinishRequest) (kernel.Env, Result, error) {
	closed, err := req.Outcome.Consume(ctx)
	if err != nil {
		return env, Result{}, err
	}
	switch closed.Ending.Kind {
	case proof.EndObligation:
		return f.finishObligation(ctx, env, closed)
	case proof.EndDerive, proof.EndEquations:
		return f.finishCallback(env, closed, req.Finish)
	default:
		return f.finishRegular(env, closed, req)
	}
}

// finishRegular registers the proof term as a standalone declaration.
func (f *Finalizer) finishRegular(env kernel.Env, closed *proof.Closed, req FinishRequest) (kernel.Env, Result, error) {
	if req.Name == "" || req.Type == nil {
		return env, Result{}, errors.New("regular ending needs a declaration name and type")
	}
	env, err := f.registerAdmitted(env, nil, closed)
	if err != nil {
		return env, Result{}, err
	}
	kind := req.Kind
	if kind == "" {
		kind = kernel.KindTheorem
	}
	used := append(term.UnivVarsOf(req.Type), term.UnivVarsOf(closed.Term)...)
	univ, err := closed.Univ.Restrict(used)
	if err != nil {
		return env, Result{}, err
	}
	decl := &kernel.Declaration{
		Name:              req.Name,
		Kind:              kind,
		Type:              req.Type,
		Body:              closed.Term,
		Univ:              univ,
		Opaque:            closed.Opaque,
		DependsOnAdmitted: len(closed.Admitted) > 0,
	}
	env, ref, err := f.checker.Register(env, decl)
	if err != nil {
		return env, Result{}, err
	}
	return env, Result{
		Progress: program.Progress{Kind: program.ProgressDefined, Refs: []kernel.Ref{ref}},
		Refs:     []kernel.Ref{ref},
	}, nil
}

// finishObligation stores the solved term for its obligation and runs
// the update cascade, which assembles and registers the whole program
// if this was the last one.
func (f *Finalizer) finishObligation(ctx context.Context, env kernel.Env, closed *proof.Closed) (kernel.Env, Result, error) {
	p, err := f.mgr.Registry().Get(closed.Ending.Program)
	if err != nil {
		return env, Result{}, err
	}
	idx := closed.Ending.Index
	if idx < 0 || idx >= len(p.Obligations) {
		return env, Result{}, fmt.Errorf("%w: index %d of %s", program.ErrUnknownObligation, idx, p.Name)
	}
	env, body, err := f.DeclareObligation(env, p, idx, closed)
	if err != nil {
		return env, Result{}, err
	}
	env, prog, err := f.mgr.UpdateObls(ctx, env, p.Name, idx, body, closed.Univ)
	if err != nil {
		return env, Result{}, err
	}
	return env, Result{Progress: prog, Refs: prog.Refs}, nil
}

// finishCallback minimizes the universe state and hands assembly to
// the caller-supplied protocol, invoked exactly once.
func (f *Finalizer) finishCallback(env kernel.Env, closed *proof.Closed, fn FinishFunc) (kernel.Env, Result, error) {
	if fn == nil {
		return env, Result{}, fmt.Errorf("%w: %s", ErrNoFinishFunc, closed.Ending.Kind)
	}
	univ, err := closed.Univ.Restrict(term.UnivVarsOf(closed.Term))
	if err != nil {
		return env, Result{}, err
	}
	minimized := *closed
	minimized.Univ = univ
	env, refs, err := fn(env, &minimized)
	if err != nil {
		return env, Result{}, err
	}
	return env, Result{
		Progress: program.Progress{Kind: program.ProgressDefined, Refs: refs},
		Refs:     refs,
	}, nil
}
