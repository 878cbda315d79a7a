package program

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proviso-lang/proviso/pkg/kernel"
	"github.com/proviso-lang/proviso/pkg/obligation"
	"github.com/proviso-lang/proviso/pkg/term"
)

func TestInvariant(t *testing.T) {
	p := &Program{
		Name: "f",
		Obligations: []obligation.Obligation{
			{Name: "f_obligation_1", Goal: term.Ref("A")},
			{Name: "f_obligation_2", Goal: term.Ref("B"), Body: &obligation.Body{Term: term.Ref("b")}},
		},
		Remaining: 1,
	}
	assert.NoError(t, p.Invariant())

	p.Remaining = 2
	assert.Error(t, p.Invariant())
}

func TestObligationIndex(t *testing.T) {
	p := &Program{Obligations: []obligation.Obligation{{Name: "x"}, {Name: "y"}}}

	idx, ok := p.ObligationIndex("y")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = p.ObligationIndex("z")
	assert.False(t, ok)
}

func TestCurrentTerm(t *testing.T) {
	p := &Program{
		Members: []Member{{
			Name:     "f",
			Skeleton: term.App(term.App(term.Ref("f_body"), term.Hole("o1")), term.Hole("o2")),
		}},
		Obligations: []obligation.Obligation{
			{Name: "o1", Goal: term.Ref("A"), Opacity: obligation.Transparent, Body: &obligation.Body{Term: term.Ref("a")}},
			{Name: "o2", Goal: term.Ref("B"), Opacity: obligation.Transparent},
		},
		Remaining: 1,
	}

	cur, err := p.CurrentTerm(0)
	require.NoError(t, err)
	assert.Equal(t, "((f_body a) ?o2)", cur.String())

	_, err = p.CurrentTerm(3)
	assert.Error(t, err)
}

func TestSolvedPairs(t *testing.T) {
	p := &Program{
		Obligations: []obligation.Obligation{
			{Name: "o1", Body: &obligation.Body{Term: term.Ref("a")}},
			{Name: "o2"},
			{Name: "o3", Body: &obligation.Body{ConstRef: "o3_const"}},
		},
	}
	pairs := p.SolvedPairs()
	require.Len(t, pairs, 2)
	assert.Equal(t, "o1", pairs[0].Name)
	assert.Equal(t, "o3", pairs[1].Name)
	assert.Equal(t, "o3_const", pairs[1].Term.String())
}

func TestProgressString(t *testing.T) {
	assert.Equal(t, "Defined f", Progress{Kind: ProgressDefined, Refs: []kernel.Ref{{Name: "f"}}}.String())
	assert.Equal(t, "Defined [even odd]", Progress{Kind: ProgressDefined, Refs: []kernel.Ref{{Name: "even"}, {Name: "odd"}}}.String())
	assert.Equal(t, "Remain 2", Progress{Kind: ProgressRemain, Remaining: 2}.String())
	assert.Equal(t, "Dependent", Progress{Kind: ProgressDependent}.String())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(&Program{Name: "b"}))
	require.NoError(t, r.Add(&Program{Name: "a"}))

	assert.ErrorIs(t, r.Add(&Program{Name: "a"}), ErrProgramExists)
	assert.Equal(t, 2, r.Count())
	assert.Equal(t, []string{"a", "b"}, r.Names())

	p, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", p.Name)

	require.NoError(t, r.Remove("a"))
	assert.ErrorIs(t, r.Remove("a"), ErrProgramNotFound)

	u, err := r.Unique("")
	require.NoError(t, err)
	assert.Equal(t, "b", u.Name)
}
