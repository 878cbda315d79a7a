package proof

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/proviso-lang/proviso/pkg/term"
)

// AdmittedPlaceholder is an axiom-like stand-in for a missing proof:
// the finalizer registers it as an axiom of the recorded type.
type AdmittedPlaceholder struct {
	Name string     `json:"name"`
	Type *term.Expr `json:"type"`
}

// Closed is a finished proof object, consumed exactly once by the
// declaration finalizer. If the proof was admitted rather than proved,
// Admitted lists the placeholders standing in for the missing proofs.
type Closed struct {
	Term     *term.Expr            `json:"term,omitempty"`
	Univ     term.UnivContext      `json:"univ"`
	Opaque   bool                  `json:"opaque"`
	Admitted []AdmittedPlaceholder `json:"admitted,omitempty"`
	Ending   Ending                `json:"ending"`
	UsedVars []string              `json:"used_vars,omitempty"`
	Unsafe   bool                  `json:"unsafe,omitempty"`
}

// CloseOpts selects the closing protocol.
type CloseOpts struct {
	Opaque bool
	// Deferred wraps the validation of the proof term in a computation
	// forced later, out of line from authoring.
	Deferred bool
	// Validator runs the out-of-line validation when forcing a deferred
	// close. Nil means structural validation only.
	Validator func(ctx context.Context, c *Closed) error
	// Limiter bounds how fast deferred validations may start. Nil means
	// unlimited.
	Limiter *rate.Limiter
}

// ErrAlreadyConsumed guards the finalizer's single consumption of a
// proof object.
var ErrAlreadyConsumed = errors.New("proof object already consumed")

// Outcome is either an immediately available Closed or a deferred
// computation producing one. It is consumed exactly once by the
// declaration finalizer.
type Outcome struct {
	closed   *Closed
	deferred *Deferred
	taken    atomic.Bool
}

// Consume marks the outcome as taken and returns the proof object,
// forcing a deferred computation if needed. A second call fails.
func (o *Outcome) Consume(ctx context.Context) (*Closed, error) {
	if !o.taken.CompareAndSwap(false, true) {
		return nil, ErrAlreadyConsumed
	}
	return o.Await(ctx)
}

// Ready reports whether the proof object is available without forcing.
func (o *Outcome) Ready() bool { return o.closed != nil }

// Closed returns the immediate proof object, or nil for deferred ones.
func (o *Outcome) Closed() *Closed { return o.closed }

// Deferred returns the deferred computation, or nil for eager ones.
func (o *Outcome) Deferred() *Deferred { return o.deferred }

// Await returns the proof object, forcing a deferred computation if
// needed.
func (o *Outcome) Await(ctx context.Context) (*Closed, error) {
	if o.closed != nil {
		return o.closed, nil
	}
	return o.deferred.Force(ctx)
}

// Deferred is a lazily forced, memoized, single-producer proof
// computation keyed by a session identifier. It is forced at most
// once; once started it runs to completion and the result is cached.
type Deferred struct {
	SessionID string

	once   sync.Once
	result *Closed
	err    error

	compute func(ctx context.Context) (*Closed, error)
}

// Force runs the computation on first call and returns the cached
// result thereafter. Cancellation mid-flight is not supported: the
// context only gates the start of the computation.
func (d *Deferred) Force(ctx context.Context) (*Closed, error) {
	d.once.Do(func() {
		d.result, d.err = d.compute(ctx)
	})
	return d.result, d.err
}

// Close elaborates the proof into a Closed object. It requires zero
// open goals; the resulting term is the fully grafted partial term.
func (s *State) Close(opts CloseOpts) (*State, *Outcome, error) {
	if s.phase != PhaseOpen {
		return s, nil, ErrNotOpen
	}
	if len(s.goals) != 0 {
		return s, nil, fmt.Errorf("%w: %d", ErrGoalsRemain, len(s.goals))
	}

	c := s.clone()
	c.phase = PhaseClosing
	closed := &Closed{
		Term:     s.partial,
		Univ:     s.univ,
		Opaque:   opts.Opaque,
		Ending:   s.ending,
		UsedVars: s.usedVars,
		Unsafe:   s.unsafeUsed,
	}

	if !opts.Deferred {
		c.phase = PhaseProved
		return c, &Outcome{closed: closed}, nil
	}

	d := &Deferred{
		SessionID: uuid.New().String(),
		compute: func(ctx context.Context) (*Closed, error) {
			if opts.Limiter != nil {
				if err := opts.Limiter.Wait(ctx); err != nil {
					return nil, err
				}
			}
			if opts.Validator != nil {
				if err := opts.Validator(ctx, closed); err != nil {
					return nil, fmt.Errorf("deferred validation failed: %w", err)
				}
			}
			return closed, nil
		},
	}
	c.phase = PhaseProved
	return c, &Outcome{deferred: d}, nil
}

// Admit force-closes the proof, producing an admitted proof object with
// one placeholder name per remaining goal.
func (s *State) Admit(placeholderPrefix string) (*State, *Outcome, error) {
	if s.phase != PhaseOpen {
		return s, nil, ErrNotOpen
	}
	c := s.clone()
	repl := make(map[string]*term.Expr, len(c.goals))
	admitted := make([]AdmittedPlaceholder, 0, len(c.goals))
	for i, h := range c.holeNames {
		name := fmt.Sprintf("%s_admitted_%d", placeholderPrefix, i)
		admitted = append(admitted, AdmittedPlaceholder{Name: name, Type: c.goals[i].Concl})
		repl[h] = term.Ref(name)
	}
	closed := &Closed{
		Term:     term.Subst(c.partial, repl),
		Univ:     c.univ,
		Admitted: admitted,
		Ending:   c.ending,
		UsedVars: c.usedVars,
	}
	c.goals = nil
	c.holeNames = nil
	c.phase = PhaseAdmitted
	return c, &Outcome{closed: closed}, nil
}
