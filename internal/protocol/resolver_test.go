package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overseer/internal/errors"
)

func TestResolveChain(t *testing.T) {
	r := newTestRegistry(t)
	res := NewResolver(r)

	base := testProtocol("base")
	mid := testProtocol("mid")
	mid.Extends = []string{"base"}
	top := testProtocol("top")
	top.Requires = []string{"mid"}
	require.NoError(t, r.Register(base, ""))
	require.NoError(t, r.Register(mid, ""))
	require.NoError(t, r.Register(top, ""))

	t.Run("dependencies first, self last", func(t *testing.T) {
		chain, err := res.ResolveChain("top")
		require.NoError(t, err)
		assert.Equal(t, []string{"base", "mid", "top"}, chain)
	})

	t.Run("leaf resolves to itself", func(t *testing.T) {
		chain, err := res.ResolveChain("base")
		require.NoError(t, err)
		assert.Equal(t, []string{"base"}, chain)
	})

	t.Run("unknown id errors", func(t *testing.T) {
		_, err := res.ResolveChain("ghost")
		assert.Error(t, err)
	})
}

func TestResolveChainCycleStopsSilently(t *testing.T) {
	r := newTestRegistry(t)
	res := NewResolver(r)

	// Build a two-node cycle by registering then updating, since Register
	// refuses forward references.
	a := testProtocol("a")
	require.NoError(t, r.Register(a, ""))
	b := testProtocol("b")
	b.Extends = []string{"a"}
	require.NoError(t, r.Register(b, ""))
	a2 := testProtocol("a")
	a2.Extends = []string{"b"}
	require.NoError(t, r.Update(a2, ""))

	chain, err := res.ResolveChain("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, chain)
}

func TestDependents(t *testing.T) {
	r := newTestRegistry(t)
	res := NewResolver(r)

	base := testProtocol("base")
	x := testProtocol("x")
	x.Extends = []string{"base"}
	y := testProtocol("y")
	y.Requires = []string{"base"}
	z := testProtocol("z")
	require.NoError(t, r.Register(base, ""))
	require.NoError(t, r.Register(x, ""))
	require.NoError(t, r.Register(y, ""))
	require.NoError(t, r.Register(z, ""))

	deps, err := res.Dependents("base")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, deps)

	deps, err = res.Dependents("z")
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestOrderForRegistration(t *testing.T) {
	base := testProtocol("base")
	mid := testProtocol("mid")
	mid.Requires = []string{"base"}
	top := testProtocol("top")
	top.Extends = []string{"mid"}

	t.Run("reversed input is reordered", func(t *testing.T) {
		ordered := OrderForRegistration([]*Protocol{top, mid, base})
		ids := make([]string, len(ordered))
		for i, p := range ordered {
			ids[i] = p.ID
		}
		assert.Equal(t, []string{"base", "mid", "top"}, ids)
	})

	t.Run("independent protocols keep input order", func(t *testing.T) {
		a := testProtocol("a")
		b := testProtocol("b")
		ordered := OrderForRegistration([]*Protocol{b, a})
		assert.Equal(t, "b", ordered[0].ID)
		assert.Equal(t, "a", ordered[1].ID)
	})

	t.Run("out-of-set references ignored", func(t *testing.T) {
		ordered := OrderForRegistration([]*Protocol{mid})
		require.Len(t, ordered, 1)
		assert.Equal(t, "mid", ordered[0].ID)
	})
}

func TestActivationChain(t *testing.T) {
	r := newTestRegistry(t)
	res := NewResolver(r)

	base := testProtocol("base")
	mid := testProtocol("mid")
	mid.Requires = []string{"base"}
	top := testProtocol("top")
	top.Requires = []string{"mid"}
	// Extends does not force activation.
	top.Extends = []string{"styleguide"}
	style := testProtocol("styleguide")
	require.NoError(t, r.Register(base, ""))
	require.NoError(t, r.Register(style, ""))
	require.NoError(t, r.Register(mid, ""))
	require.NoError(t, r.Register(top, ""))

	t.Run("full requires closure when nothing active", func(t *testing.T) {
		chain, err := res.ActivationChain("top")
		require.NoError(t, err)
		assert.Equal(t, []string{"base", "mid", "top"}, chain)
	})

	t.Run("already-active protocols omitted", func(t *testing.T) {
		require.NoError(t, r.Activate("base", ""))
		chain, err := res.ActivationChain("top")
		require.NoError(t, err)
		assert.Equal(t, []string{"mid", "top"}, chain)
	})

	t.Run("unknown required protocol errors", func(t *testing.T) {
		orphan := testProtocol("orphan")
		require.NoError(t, r.Register(orphan, ""))
		o2 := testProtocol("orphan")
		o2.Requires = []string{"missing"}
		// Update does not re-check references, so the dangling edge lands.
		require.NoError(t, r.Update(o2, ""))
		_, err := res.ActivationChain("orphan")
		assert.True(t, errors.Is(err, errors.ErrProtocolNotFound))
	})
}
