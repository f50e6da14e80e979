package versionpath

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyproto/any-snapshot/kvstore/memkv"
	"github.com/anyproto/any-snapshot/versionforest"
)

var ctx = context.Background()

type V = versionforest.VersionId

// root -> a -> b -> c
//
//	a -> d
//	root -> e
func newForest(t *testing.T) (f *versionforest.Forest, root, a, b, c, d, e V) {
	store := memkv.New()
	table, err := store.OpenTable(ctx, "versions")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	f = versionforest.New(table)
	mustChild := func(parent V) V {
		id, err := f.CreateChild(ctx, parent)
		require.NoError(t, err)
		return id
	}
	root, err = f.CreateRoot(ctx)
	require.NoError(t, err)
	a = mustChild(root)
	b = mustChild(a)
	c = mustChild(b)
	d = mustChild(a)
	e = mustChild(root)
	return
}

func TestResolve(t *testing.T) {
	f, root, a, b, c, d, e := newForest(t)

	for _, tc := range []struct {
		name     string
		from, to V
		expected Path
	}{
		{"same", c, c, Path{Ancestor: c}},
		{"siblings branches", c, d, Path{Up: []V{c, b}, Down: []V{d}, Ancestor: a}},
		{"back", d, c, Path{Up: []V{d}, Down: []V{b, c}, Ancestor: a}},
		{"to ancestor", c, root, Path{Up: []V{c, b, a}, Ancestor: root}},
		{"to descendant", root, c, Path{Down: []V{a, b, c}, Ancestor: root}},
		{"across root", d, e, Path{Up: []V{d, a}, Down: []V{e}, Ancestor: root}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Resolve(ctx, f, tc.from, tc.to)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, p)
		})
	}
}

func TestResolve_Errors(t *testing.T) {
	f, root, _, _, c, _, _ := newForest(t)
	other, err := f.CreateRoot(ctx)
	require.NoError(t, err)
	otherChild, err := f.CreateChild(ctx, other)
	require.NoError(t, err)

	_, err = Resolve(ctx, f, c, otherChild)
	assert.ErrorIs(t, err, ErrUnrelatedVersions)
	_, err = Resolve(ctx, f, root, other)
	assert.ErrorIs(t, err, ErrUnrelatedVersions)
	_, err = Resolve(ctx, f, c, 1000)
	assert.ErrorIs(t, err, versionforest.ErrVersionNotFound)
}
