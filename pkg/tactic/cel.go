package tactic

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/proviso-lang/proviso/pkg/proof"
	"github.com/proviso-lang/proviso/pkg/term"
)

// GuardedTactic runs an inner tactic only when a CEL guard over the
// goal evaluates to true. Guards see a flattened snapshot of the goal:
//
//	goal.kind       conclusion node kind ("ref", "pi", ...)
//	goal.head       head name of the conclusion, if any
//	goal.hyps       list of hypothesis type renderings
//	goal.hyp_count  number of hypotheses
//
// Compiled programs are cached per expression.
type GuardedTactic struct {
	name  string
	expr  string
	inner proof.Tactic

	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// NewGuarded builds a guarded tactic around inner.
func NewGuarded(name, expr string, inner proof.Tactic) (*GuardedTactic, error) {
	env, err := cel.NewEnv(
		cel.Variable("goal", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	t := &GuardedTactic{
		name:     name,
		expr:     expr,
		inner:    inner,
		env:      env,
		prgCache: make(map[string]cel.Program),
	}
	// Compile eagerly so a bad guard fails at registration, not at the
	// first auto-solve pass.
	if _, err := t.program(expr); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *GuardedTactic) Name() string { return t.name }

func (t *GuardedTactic) program(expr string) (cel.Program, error) {
	t.mu.RLock()
	prg, ok := t.prgCache[expr]
	t.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := t.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("guard compile failed: %w", issues.Err())
	}
	prg, err := t.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("guard program failed: %w", err)
	}

	t.mu.Lock()
	t.prgCache[expr] = prg
	t.mu.Unlock()
	return prg, nil
}

// Run evaluates the guard and, if it allows, delegates to the inner
// tactic. A false guard is a plain tactic failure (recoverable).
func (t *GuardedTactic) Run(ctx context.Context, goal proof.Goal) (*proof.TacticResult, error) {
	prg, err := t.program(t.expr)
	if err != nil {
		return nil, err
	}

	hyps := make([]string, 0, len(goal.Hyps))
	for _, h := range goal.Hyps {
		hyps = append(hyps, h.Type.String())
	}
	head := ""
	kind := ""
	if goal.Concl != nil {
		kind = string(goal.Concl.Kind)
		if goal.Concl.Kind == term.KindRef || goal.Concl.Kind == term.KindVar {
			head = goal.Concl.Name
		}
	}
	input := map[string]any{
		"goal": map[string]any{
			"kind":      kind,
			"head":      head,
			"hyps":      hyps,
			"hyp_count": len(goal.Hyps),
		},
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return nil, fmt.Errorf("guard eval failed: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return nil, fmt.Errorf("guard %q did not evaluate to bool", t.expr)
	}
	if !allowed {
		return nil, fmt.Errorf("guard %q rejected goal", t.expr)
	}
	return t.inner.Run(ctx, goal)
}
