package term

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnivMerge(t *testing.T) {
	a := UnivContext{Vars: []string{"u"}, Constraints: []UnivConstraint{{Left: "u", Rel: RelLe, Right: "v"}}}
	b := UnivContext{Vars: []string{"v"}}

	merged, err := a.Merge(b)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u", "v"}, merged.Vars)

	// Merging the same context again does not duplicate variables.
	again, err := merged.Merge(b)
	require.NoError(t, err)
	assert.Len(t, again.Vars, 2)
	assert.Len(t, again.Constraints, 1)
}

func TestUnivMergeAfterMinimize(t *testing.T) {
	a := UnivContext{Vars: []string{"u"}}
	min, err := a.Restrict([]string{"u"})
	require.NoError(t, err)

	_, err = min.Merge(UnivContext{Vars: []string{"v"}})
	assert.ErrorIs(t, err, ErrAlreadyMinimized)
}

func TestRestrictKeepsConstraintClosure(t *testing.T) {
	ctx := UnivContext{
		Vars: []string{"u", "v", "w", "z"},
		Constraints: []UnivConstraint{
			{Left: "u", Rel: RelLt, Right: "v"},
			{Left: "v", Rel: RelLe, Right: "w"},
			{Left: "z", Rel: RelLt, Right: "z"},
		},
	}

	kept, err := ctx.Restrict([]string{"u"})
	require.NoError(t, err)
	// v and w are reachable from u through constraints; z is not.
	assert.ElementsMatch(t, []string{"u", "v", "w"}, kept.Vars)
	assert.Len(t, kept.Constraints, 2)
	assert.True(t, kept.Minimized)

	_, err = kept.Restrict([]string{"u"})
	assert.ErrorIs(t, err, ErrAlreadyMinimized)
}

func TestUnivVarsOf(t *testing.T) {
	e := App(Sort("u"), Lam("x", Sort("v"), Sort("u")))
	assert.ElementsMatch(t, []string{"u", "v"}, UnivVarsOf(e))
}
