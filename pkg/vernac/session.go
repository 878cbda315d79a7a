// Package vernac exposes the command surface of a proving session to
// the surrounding interpreter: program declarations, obligation
// commands, status reporting, and the scope-close check.
package vernac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/proviso-lang/proviso/pkg/config"
	"github.com/proviso-lang/proviso/pkg/finalize"
	"github.com/proviso-lang/proviso/pkg/kernel"
	"github.com/proviso-lang/proviso/pkg/obligation"
	"github.com/proviso-lang/proviso/pkg/program"
	"github.com/proviso-lang/proviso/pkg/proof"
	"github.com/proviso-lang/proviso/pkg/tactic"
)

// ErrProofInProgress is returned when a command needs the interactive
// slot but a proof is already open.
var ErrProofInProgress = errors.New("another interactive proof is in progress")

// ErrNoProof is returned by proof commands when nothing is open.
var ErrNoProof = errors.New("no interactive proof in progress")

// Session owns the state of one proving session: the kernel store and
// environment view, the open-program registry, the tactic registry,
// and at most one interactive proof.
type Session struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   kernel.Store
	checker kernel.Checker
	env     kernel.Env
	tactics *tactic.Registry
	mgr     *program.Manager
	fin     *finalize.Finalizer
	limiter *rate.Limiter

	current *proof.State
}

// NewSession builds a session over the configured store backend.
func NewSession(cfg *config.Config, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	tactics := tactic.DefaultRegistry()
	mgr := program.NewManager(program.NewRegistry(), tactics, logger)
	s := &Session{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		checker: kernel.TrustingChecker{},
		env:     kernel.NewEnv(store),
		tactics: tactics,
		mgr:     mgr,
		fin:     finalize.New(kernel.TrustingChecker{}, mgr, logger),
	}
	if cfg.VerifyRatePerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.VerifyRatePerSec), 1)
	}
	return s, nil
}

func openStore(cfg *config.Config) (kernel.Store, error) {
	switch cfg.StoreBackend {
	case "", "memory":
		return kernel.NewMemStore(), nil
	case "sqlite":
		return kernel.OpenSQLiteStore(cfg.StorePath)
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		store := kernel.NewPostgresStore(db)
		if err := store.Init(context.Background()); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// Tactics exposes the tactic registry for session setup.
func (s *Session) Tactics() *tactic.Registry { return s.tactics }

// Env returns the current environment view.
func (s *Session) Env() kernel.Env { return s.env }

// Programs returns the open-program registry.
func (s *Session) Programs() *program.Registry { return s.mgr.Registry() }

// StartProgramDefinition registers a declaration with embedded
// placeholders and reports its completion status.
func (s *Session) StartProgramDefinition(ctx context.Context, member program.Member, obls []obligation.Obligation, opts program.DefinitionOpts) (program.Progress, error) {
	env, prog, err := s.mgr.AddDefinition(ctx, s.env, member, obls, opts)
	s.env = env
	return prog, err
}

// StartProgramFixpoint registers a mutually recursive group.
func (s *Session) StartProgramFixpoint(ctx context.Context, kind program.RecursionKind, members []program.Member, obls []obligation.Obligation, opts program.DefinitionOpts) (program.Progress, error) {
	env, prog, err := s.mgr.AddMutualDefinitions(ctx, s.env, kind, members, obls, opts)
	s.env = env
	return prog, err
}

// Obligation opens an interactive proof for the given obligation of
// the named (or unique open) program, optionally applying a first
// tactic.
func (s *Session) Obligation(ctx context.Context, progName, oblRef, tacticName string) (*proof.State, error) {
	if s.current != nil {
		return nil, ErrProofInProgress
	}
	st, _, _, err := s.mgr.NextObligation(progName, oblRef)
	if err != nil {
		return nil, err
	}
	if tacticName != "" {
		tac, err := s.tactics.Get(tacticName)
		if err != nil {
			return nil, err
		}
		st, err = st.Apply(ctx, tac)
		if err != nil {
			return nil, err
		}
	}
	s.current = st
	return st, nil
}

// NextObligation opens the next attemptable obligation.
func (s *Session) NextObligation(ctx context.Context, progName, tacticName string) (*proof.State, error) {
	return s.Obligation(ctx, progName, "", tacticName)
}

// Apply runs a tactic against the open proof.
func (s *Session) Apply(ctx context.Context, tacticName string) (*proof.State, error) {
	if s.current == nil {
		return nil, ErrNoProof
	}
	tac, err := s.tactics.Get(tacticName)
	if err != nil {
		return nil, err
	}
	st, err := s.current.Apply(ctx, tac)
	if err != nil {
		return nil, err
	}
	s.current = st
	return st, nil
}

// CloseProof closes the open proof and feeds it to the finalizer. The
// session's deferred-checking configuration decides whether the proof
// object is produced eagerly or out of line.
func (s *Session) CloseProof(ctx context.Context, opaque bool) (finalize.Result, error) {
	if s.current == nil {
		return finalize.Result{}, ErrNoProof
	}
	_, outcome, err := s.current.Close(proof.CloseOpts{
		Opaque:   opaque,
		Deferred: s.cfg.DeferredChecking,
		Limiter:  s.limiter,
	})
	if err != nil {
		return finalize.Result{}, err
	}
	env, res, err := s.fin.Finish(ctx, s.env, finalize.FinishRequest{Outcome: outcome})
	s.env = env
	// The outcome is consumed either way; the interactive slot frees
	// even when finalization fails, so the session never wedges.
	s.current = nil
	return res, err
}

// AdmitProof force-closes the open proof with admitted placeholders.
func (s *Session) AdmitProof(ctx context.Context) (finalize.Result, error) {
	if s.current == nil {
		return finalize.Result{}, ErrNoProof
	}
	prefix := "proof"
	if e := s.current.Ending(); e.Kind == proof.EndObligation {
		prefix = fmt.Sprintf("%s_%d", e.Program, e.Index)
	}
	_, outcome, err := s.current.Admit(prefix)
	if err != nil {
		return finalize.Result{}, err
	}
	env, res, err := s.fin.Finish(ctx, s.env, finalize.FinishRequest{Outcome: outcome})
	s.env = env
	s.current = nil
	return res, err
}

// AbortProof discards the open interactive proof without closing it.
// The obligation it targeted stays open and can be re-entered.
func (s *Session) AbortProof() error {
	if s.current == nil {
		return ErrNoProof
	}
	s.current = nil
	return nil
}

// SolveObligation attempts a single obligation with the given or
// default tactic.
func (s *Session) SolveObligation(ctx context.Context, progName, oblRef, tacticName string) (program.Progress, error) {
	env, prog, err := s.mgr.SolveObligation(ctx, s.env, progName, oblRef, tacticName)
	s.env = env
	return prog, err
}

// SolveObligations attempts all obligations of one program.
func (s *Session) SolveObligations(ctx context.Context, progName, tacticName string) (program.Progress, error) {
	env, prog, err := s.mgr.SolveObligations(ctx, s.env, progName, tacticName)
	s.env = env
	return prog, err
}

// SolveAllObligations attempts all obligations of all open programs.
func (s *Session) SolveAllObligations(ctx context.Context, tacticName string) (map[string]program.Progress, error) {
	env, out, err := s.mgr.SolveAllObligations(ctx, s.env, tacticName)
	s.env = env
	return out, err
}

// AdmitObligations force-closes all remaining obligations of the named
// (or unique open) program.
func (s *Session) AdmitObligations(ctx context.Context, progName string) (program.Progress, error) {
	env, prog, err := s.mgr.AdmitObligations(ctx, s.env, progName)
	s.env = env
	return prog, err
}

// CheckSolvedObligations gates a scope boundary on zero remaining
// obligations.
func (s *Session) CheckSolvedObligations() error {
	return s.mgr.CheckSolvedObligations()
}

// ObligationStatus is one row of a status report.
type ObligationStatus struct {
	Program string `json:"program"`
	Name    string `json:"name"`
	Solved  bool   `json:"solved"`
	Goal    string `json:"goal"`
	Deps    []int  `json:"deps,omitempty"`
	Loc     string `json:"loc,omitempty"`
}

// ShowObligations reports the obligations of the named program, or of
// every open program when name is empty and several are open. It never
// mutates state.
func (s *Session) ShowObligations(progName string) ([]ObligationStatus, error) {
	var programs []*program.Program
	if progName != "" {
		p, err := s.mgr.Registry().Get(progName)
		if err != nil {
			return nil, err
		}
		programs = []*program.Program{p}
	} else {
		programs = s.mgr.Registry().All()
	}
	var out []ObligationStatus
	for _, p := range programs {
		for i := range p.Obligations {
			o := &p.Obligations[i]
			out = append(out, ObligationStatus{
				Program: p.Name,
				Name:    o.Name,
				Solved:  o.Solved(),
				Goal:    o.Goal.String(),
				Deps:    o.Deps,
				Loc:     o.Loc,
			})
		}
	}
	return out, nil
}

// ShowTerm renders the current (possibly still holed) term of the
// named or unique open program. Read-only.
func (s *Session) ShowTerm(progName string) (string, error) {
	p, err := s.mgr.Registry().Unique(progName)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(p.Members))
	for i := range p.Members {
		t, err := p.CurrentTerm(i)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("%s := %s", p.Members[i].Name, t))
	}
	return strings.Join(parts, "\n"), nil
}
