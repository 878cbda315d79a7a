package vernac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proviso-lang/proviso/pkg/config"
	"github.com/proviso-lang/proviso/pkg/kernel"
	"github.com/proviso-lang/proviso/pkg/obligation"
	"github.com/proviso-lang/proviso/pkg/program"
	"github.com/proviso-lang/proviso/pkg/term"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(&config.Config{StoreBackend: "memory"}, nil)
	require.NoError(t, err)
	return s
}

func divProgram() (program.Member, []obligation.Obligation) {
	member := program.Member{
		Name:     "div",
		Type:     term.Ref("T"),
		Skeleton: term.App(term.App(term.Ref("div_body"), term.Hole("div_obligation_1")), term.Hole("div_obligation_2")),
	}
	obls := []obligation.Obligation{
		{Goal: term.Ref("A")},
		{Goal: term.Hole("div_obligation_1"), Deps: []int{0}},
	}
	return member, obls
}

func TestSessionUnknownBackend(t *testing.T) {
	_, err := NewSession(&config.Config{StoreBackend: "carrier-pigeon"}, nil)
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestSessionSQLiteBackend(t *testing.T) {
	s, err := NewSession(&config.Config{StoreBackend: "sqlite", StorePath: ":memory:"}, nil)
	require.NoError(t, err)
	assert.False(t, s.Env().Stale())
}

func TestInteractiveObligationProof(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	member, obls := divProgram()

	prog, err := s.StartProgramDefinition(ctx, member, obls, program.DefinitionOpts{})
	require.NoError(t, err)
	assert.Equal(t, 2, prog.Remaining)

	st, err := s.Obligation(ctx, "div", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, st.OpenGoals())

	// A second interactive proof cannot start while one is open.
	_, err = s.Obligation(ctx, "div", "2", "")
	assert.ErrorIs(t, err, ErrProofInProgress)

	st, err = s.Apply(ctx, "trivial")
	require.NoError(t, err)
	assert.Equal(t, 0, st.OpenGoals())

	res, err := s.CloseProof(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, program.ProgressRemain, res.Progress.Kind)
	assert.Equal(t, 1, res.Progress.Remaining)

	// The slot frees up for the next obligation.
	_, err = s.NextObligation(ctx, "div", "")
	require.NoError(t, err)
	_, err = s.Apply(ctx, "trivial")
	require.NoError(t, err)
	res, err = s.CloseProof(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, program.ProgressDefined, res.Progress.Kind)
	assert.True(t, s.Env().Contains("div"))
}

func TestCloseProofWithGoalsRemaining(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	member, obls := divProgram()

	_, err := s.StartProgramDefinition(ctx, member, obls, program.DefinitionOpts{})
	require.NoError(t, err)
	_, err = s.Obligation(ctx, "div", "", "")
	require.NoError(t, err)

	_, err = s.CloseProof(ctx, false)
	assert.Error(t, err)

	// The proof stays open and can still be finished.
	_, err = s.Apply(ctx, "trivial")
	require.NoError(t, err)
	_, err = s.CloseProof(ctx, false)
	assert.NoError(t, err)
}

func TestApplyWithoutProof(t *testing.T) {
	s := newTestSession(t)
	_, err := s.Apply(context.Background(), "trivial")
	assert.ErrorIs(t, err, ErrNoProof)

	_, err = s.CloseProof(context.Background(), false)
	assert.ErrorIs(t, err, ErrNoProof)
}

func TestCloseProofFinalizeErrorFreesSlot(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	member := program.Member{
		Name:     "f",
		Type:     term.Ref("T"),
		Skeleton: term.App(term.Ref("f_body"), term.Hole("f_obligation_1")),
	}
	obls := []obligation.Obligation{{Goal: term.Ref("A")}}
	_, err := s.StartProgramDefinition(ctx, member, obls, program.DefinitionOpts{})
	require.NoError(t, err)
	_, err = s.Obligation(ctx, "f", "", "")
	require.NoError(t, err)

	// A clashing global lands mid-proof; closing the last obligation
	// makes finalization fail.
	require.NoError(t, s.store.Put(&kernel.Declaration{Name: "f", Kind: kernel.KindAxiom, Type: term.Ref("T")}))
	s.env = kernel.NewEnv(s.store)

	_, err = s.Apply(ctx, "trivial")
	require.NoError(t, err)
	_, err = s.CloseProof(ctx, false)
	require.ErrorIs(t, err, kernel.ErrAlreadyDeclared)

	// The interactive slot is free again: the session must not wedge on
	// a finalization failure.
	assert.Nil(t, s.current)
	_, err = s.Obligation(ctx, "f", "", "")
	assert.NotErrorIs(t, err, ErrProofInProgress)
}

func TestAbortProof(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	member, obls := divProgram()

	assert.ErrorIs(t, s.AbortProof(), ErrNoProof)

	_, err := s.StartProgramDefinition(ctx, member, obls, program.DefinitionOpts{})
	require.NoError(t, err)
	_, err = s.Obligation(ctx, "div", "", "")
	require.NoError(t, err)

	require.NoError(t, s.AbortProof())

	// The obligation stays open and can be re-entered.
	st, err := s.Obligation(ctx, "div", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, st.OpenGoals())
}

func TestAdmitProof(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	member, obls := divProgram()

	_, err := s.StartProgramDefinition(ctx, member, obls, program.DefinitionOpts{})
	require.NoError(t, err)
	_, err = s.Obligation(ctx, "div", "", "")
	require.NoError(t, err)

	res, err := s.AdmitProof(ctx)
	require.NoError(t, err)
	assert.Equal(t, program.ProgressRemain, res.Progress.Kind)

	// The admitted placeholder exists as an axiom.
	assert.True(t, s.Env().Contains("div_0_admitted_0"))
}

func TestObligationWithInitialTactic(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	member, obls := divProgram()

	_, err := s.StartProgramDefinition(ctx, member, obls, program.DefinitionOpts{})
	require.NoError(t, err)

	st, err := s.Obligation(ctx, "div", "1", "trivial")
	require.NoError(t, err)
	assert.Equal(t, 0, st.OpenGoals())
}

func TestSolveCommands(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	member, obls := divProgram()

	_, err := s.StartProgramDefinition(ctx, member, obls, program.DefinitionOpts{})
	require.NoError(t, err)

	prog, err := s.SolveObligation(ctx, "div", "1", "trivial")
	require.NoError(t, err)
	assert.Equal(t, 1, prog.Remaining)

	prog, err = s.SolveObligations(ctx, "div", "trivial")
	require.NoError(t, err)
	assert.Equal(t, program.ProgressDefined, prog.Kind)
}

func TestSolveAllObligations(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	for _, name := range []string{"f", "g"} {
		member := program.Member{
			Name:     name,
			Type:     term.Ref("T"),
			Skeleton: term.Hole(name + "_obligation_1"),
		}
		obls := []obligation.Obligation{{Goal: term.Ref("A")}}
		_, err := s.StartProgramDefinition(ctx, member, obls, program.DefinitionOpts{})
		require.NoError(t, err)
	}

	out, err := s.SolveAllObligations(ctx, "trivial")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, program.ProgressDefined, out["f"].Kind)
	assert.Equal(t, program.ProgressDefined, out["g"].Kind)
	assert.NoError(t, s.CheckSolvedObligations())
}

func TestAdmitObligationsCommand(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	member, obls := divProgram()

	_, err := s.StartProgramDefinition(ctx, member, obls, program.DefinitionOpts{})
	require.NoError(t, err)

	err = s.CheckSolvedObligations()
	var unsolved *program.UnsolvedError
	require.ErrorAs(t, err, &unsolved)

	prog, err := s.AdmitObligations(ctx, "div")
	require.NoError(t, err)
	assert.Equal(t, program.ProgressDefined, prog.Kind)
	assert.NoError(t, s.CheckSolvedObligations())

	decl, err := s.Env().Lookup("div")
	require.NoError(t, err)
	assert.True(t, decl.DependsOnAdmitted)
}

func TestShowObligations(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	member, obls := divProgram()
	obls[0].Loc = "div.pv:3"

	_, err := s.StartProgramDefinition(ctx, member, obls, program.DefinitionOpts{})
	require.NoError(t, err)

	rows, err := s.ShowObligations("div")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "div_obligation_1", rows[0].Name)
	assert.False(t, rows[0].Solved)
	assert.Equal(t, "div.pv:3", rows[0].Loc)
	assert.Equal(t, []int{0}, rows[1].Deps)

	_, err = s.ShowObligations("nope")
	assert.ErrorIs(t, err, program.ErrProgramNotFound)
}

func TestShowTerm(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	member, obls := divProgram()

	_, err := s.StartProgramDefinition(ctx, member, obls, program.DefinitionOpts{})
	require.NoError(t, err)

	_, err = s.SolveObligation(ctx, "div", "1", "trivial")
	require.NoError(t, err)

	rendered, err := s.ShowTerm("div")
	require.NoError(t, err)
	assert.Equal(t, "div := ((div_body A) ?div_obligation_2)", rendered)
}

func TestDeferredChecking(t *testing.T) {
	s, err := NewSession(&config.Config{
		StoreBackend:     "memory",
		DeferredChecking: true,
		VerifyRatePerSec: 100,
	}, nil)
	require.NoError(t, err)
	ctx := context.Background()
	member, obls := divProgram()

	_, err = s.StartProgramDefinition(ctx, member, obls, program.DefinitionOpts{})
	require.NoError(t, err)
	_, err = s.Obligation(ctx, "div", "", "trivial")
	require.NoError(t, err)

	res, err := s.CloseProof(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, program.ProgressRemain, res.Progress.Kind)
}

func TestCheckProgramLibraries(t *testing.T) {
	s := newTestSession(t)

	// The session's env has no libraries yet.
	err := s.CheckProgramLibraries([]config.LibraryRequirement{{Name: "stdlib"}})
	assert.ErrorIs(t, err, ErrLibraryMissing)

	// Register a versioned library declaration directly.
	env, _, err := kernel.TrustingChecker{}.Register(s.Env(), &kernel.Declaration{
		Name:    "stdlib",
		Kind:    kernel.KindAxiom,
		Type:    term.Ref("Library"),
		Version: "1.4.2",
	})
	require.NoError(t, err)
	s.env = env

	assert.NoError(t, s.CheckProgramLibraries([]config.LibraryRequirement{{Name: "stdlib", Constraint: ">= 1.2"}}))
	assert.Error(t, s.CheckProgramLibraries([]config.LibraryRequirement{{Name: "stdlib", Constraint: "^2.0"}}))
	assert.ErrorContains(t, s.CheckProgramLibraries([]config.LibraryRequirement{{Name: "stdlib", Constraint: "not-a-range!"}}), "invalid version constraint")
}
