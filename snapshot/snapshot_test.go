package snapshot

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anyproto/any-snapshot/deltastore"
	"github.com/anyproto/any-snapshot/kvstore"
	"github.com/anyproto/any-snapshot/kvstore/memkv"
	"github.com/anyproto/any-snapshot/kvstore/mock_kvstore"
	"github.com/anyproto/any-snapshot/versionforest"
)

var ctx = context.Background()

type fixture struct {
	store  *memkv.Store
	graph  *versionforest.Forest
	deltas *deltastore.Store
	data   kvstore.Table
}

func newFixture(t *testing.T) *fixture {
	store := memkv.New()
	graph, deltas, err := OpenSnapshotForest(ctx, store, "test")
	require.NoError(t, err)
	data, err := store.OpenTable(ctx, "data")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return &fixture{store: store, graph: graph, deltas: deltas, data: data}
}

// tx runs f in one write transaction the way callers are expected to
func (fx *fixture) tx(f func(ctx context.Context) error) error {
	return kvstore.WithTx(ctx, fx.store, f)
}

func (fx *fixture) createTree(t *testing.T) VersionId {
	var root VersionId
	require.NoError(t, fx.tx(func(ctx context.Context) (err error) {
		root, err = CreateSnapshotTree(ctx, fx.graph)
		return
	}))
	return root
}

func (fx *fixture) createChild(t *testing.T, parent VersionId, deltas ...Delta) VersionId {
	var id VersionId
	require.NoError(t, fx.tx(func(ctx context.Context) (err error) {
		id, err = CreateChildSnapshot(ctx, parent, fx.graph, fx.deltas, fx.data, deltas)
		return
	}))
	return id
}

func (fx *fixture) restore(from, to VersionId) error {
	return fx.tx(func(ctx context.Context) error {
		return Restore(ctx, from, to, fx.graph, fx.deltas, fx.data)
	})
}

func (fx *fixture) modify(v VersionId, deltas ...Delta) error {
	return fx.tx(func(ctx context.Context) error {
		return ModifyLeafSnapshot(ctx, v, fx.graph, fx.deltas, fx.data, deltas)
	})
}

func (fx *fixture) fill(t *testing.T, kvs ...string) {
	for i := 0; i < len(kvs); i += 2 {
		require.NoError(t, fx.data.Insert(ctx, []byte(kvs[i]), []byte(kvs[i+1])))
	}
}

func (fx *fixture) contents(t *testing.T) map[string]string {
	kvs, err := kvstore.Collect(ctx, fx.data)
	require.NoError(t, err)
	res := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		res[string(kv.Key)] = string(kv.Value)
	}
	return res
}

func (fx *fixture) fingerprints(t *testing.T) [3]uint64 {
	var res [3]uint64
	for i, table := range []kvstore.Table{fx.data, fx.graph.Table(), fx.deltas.Table()} {
		sum, err := kvstore.Fingerprint(ctx, table)
		require.NoError(t, err)
		res[i] = sum
	}
	return res
}

func ins(k, v string) Delta {
	return Insert([]byte(k), []byte(v))
}

func rem(k string) Delta {
	return Remove([]byte(k))
}

func TestEndToEnd(t *testing.T) {
	fx := newFixture(t)
	fx.fill(t, "key0", "value0")

	v0 := fx.createTree(t)
	v1 := fx.createChild(t, v0, rem("key0"), ins("key1", "value1"))
	assert.Equal(t, map[string]string{"key1": "value1"}, fx.contents(t))

	require.NoError(t, fx.restore(v1, v0))
	assert.Equal(t, map[string]string{"key0": "value0"}, fx.contents(t))

	head, err := CurrentVersion(ctx, fx.graph, v1)
	require.NoError(t, err)
	assert.Equal(t, v0, head)

	versions, err := CollectVersions(ctx, fx.graph)
	require.NoError(t, err)
	assert.Equal(t, []VersionId{v0, v1}, versions)
}

func TestRestore(t *testing.T) {
	fx := newFixture(t)
	fx.fill(t, "a", "1")
	root := fx.createTree(t)
	a := fx.createChild(t, root, ins("b", "1"))
	b := fx.createChild(t, a, ins("a", "2"), rem("b"))
	c := fx.createChild(t, b, ins("c", "1"))
	stateC := fx.contents(t)

	require.NoError(t, fx.restore(c, a))
	stateA := fx.contents(t)
	assert.Equal(t, map[string]string{"a": "1", "b": "1"}, stateA)
	d := fx.createChild(t, a, ins("b", "2"), ins("d", "1"))
	stateD := fx.contents(t)

	t.Run("across branches", func(t *testing.T) {
		require.NoError(t, fx.restore(d, c))
		assert.Equal(t, stateC, fx.contents(t))
		require.NoError(t, fx.restore(c, d))
		assert.Equal(t, stateD, fx.contents(t))
	})
	t.Run("idempotence", func(t *testing.T) {
		require.NoError(t, fx.restore(d, root))
		require.NoError(t, fx.restore(root, d))
		assert.Equal(t, stateD, fx.contents(t))
	})
	t.Run("same version", func(t *testing.T) {
		before := fx.fingerprints(t)
		require.NoError(t, fx.restore(d, d))
		assert.Equal(t, before, fx.fingerprints(t))
	})
	t.Run("not current", func(t *testing.T) {
		before := fx.fingerprints(t)
		assert.ErrorIs(t, fx.restore(c, a), ErrNotCurrentVersion)
		assert.Equal(t, before, fx.fingerprints(t))
	})
	t.Run("alias", func(t *testing.T) {
		require.NoError(t, fx.tx(func(ctx context.Context) error {
			return SetCurrentVersion(ctx, d, a, fx.graph, fx.deltas, fx.data)
		}))
		assert.Equal(t, stateA, fx.contents(t))
	})
}

func TestRestore_Unrelated(t *testing.T) {
	fx := newFixture(t)
	r1 := fx.createTree(t)
	v1 := fx.createChild(t, r1, ins("k", "1"))
	r2 := fx.createTree(t)
	before := fx.fingerprints(t)

	assert.ErrorIs(t, fx.restore(v1, r2), ErrUnrelatedVersions)
	assert.ErrorIs(t, fx.restore(r2, r1), ErrUnrelatedVersions)
	assert.Equal(t, before, fx.fingerprints(t))
	assert.Equal(t, map[string]string{"k": "1"}, fx.contents(t))
}

func TestCreateChildSnapshot(t *testing.T) {
	t.Run("missing parent", func(t *testing.T) {
		fx := newFixture(t)
		before := fx.fingerprints(t)
		err := fx.tx(func(ctx context.Context) error {
			_, err := CreateChildSnapshot(ctx, 10, fx.graph, fx.deltas, fx.data, []Delta{ins("a", "1")})
			return err
		})
		assert.ErrorIs(t, err, ErrVersionNotFound)
		assert.Equal(t, before, fx.fingerprints(t))
	})
	t.Run("parent is not current", func(t *testing.T) {
		fx := newFixture(t)
		root := fx.createTree(t)
		fx.createChild(t, root, ins("a", "1"))
		before := fx.fingerprints(t)
		err := fx.tx(func(ctx context.Context) error {
			_, err := CreateChildSnapshot(ctx, root, fx.graph, fx.deltas, fx.data, []Delta{ins("a", "2")})
			return err
		})
		assert.ErrorIs(t, err, ErrNotCurrentVersion)
		assert.Equal(t, before, fx.fingerprints(t))
	})
	t.Run("record", func(t *testing.T) {
		fx := newFixture(t)
		fx.fill(t, "a", "0")
		root := fx.createTree(t)
		v := fx.createChild(t, root, ins("a", "1"), ins("a", "2"))
		rec, err := fx.deltas.Get(ctx, v)
		require.NoError(t, err)
		assert.Equal(t, []Delta{ins("a", "1"), ins("a", "2")}, rec.Forward)
		assert.Equal(t, []Delta{ins("a", "1"), ins("a", "0")}, rec.Backward)

		_, err = fx.deltas.Get(ctx, root)
		assert.ErrorIs(t, err, ErrDeltaNotFound)
	})
	t.Run("empty deltas", func(t *testing.T) {
		fx := newFixture(t)
		root := fx.createTree(t)
		v := fx.createChild(t, root)
		require.NoError(t, fx.restore(v, root))
		require.NoError(t, fx.restore(root, v))
	})
}

func TestModifyLeafSnapshot(t *testing.T) {
	t.Run("freeze", func(t *testing.T) {
		fx := newFixture(t)
		root := fx.createTree(t)
		v1 := fx.createChild(t, root, ins("a", "1"))
		fx.createChild(t, v1, ins("b", "1"))
		before := fx.fingerprints(t)
		assert.ErrorIs(t, fx.modify(v1, ins("c", "1")), ErrNotALeaf)
		assert.ErrorIs(t, fx.modify(root, ins("c", "1")), ErrNotALeaf)
		assert.Equal(t, before, fx.fingerprints(t))
	})
	t.Run("current leaf", func(t *testing.T) {
		fx := newFixture(t)
		fx.fill(t, "a", "0")
		root := fx.createTree(t)
		v := fx.createChild(t, root, ins("a", "1"))
		require.NoError(t, fx.modify(v, ins("b", "1"), rem("a")))
		assert.Equal(t, map[string]string{"b": "1"}, fx.contents(t))

		require.NoError(t, fx.restore(v, root))
		assert.Equal(t, map[string]string{"a": "0"}, fx.contents(t))
		require.NoError(t, fx.restore(root, v))
		assert.Equal(t, map[string]string{"b": "1"}, fx.contents(t))
	})
	t.Run("not current leaf", func(t *testing.T) {
		fx := newFixture(t)
		root := fx.createTree(t)
		left := fx.createChild(t, root, ins("l", "1"))
		require.NoError(t, fx.restore(left, root))
		right := fx.createChild(t, root, ins("r", "1"))

		require.NoError(t, fx.modify(left, ins("l", "2"), ins("x", "1")))
		assert.Equal(t, map[string]string{"r": "1"}, fx.contents(t))
		head, err := CurrentVersion(ctx, fx.graph, root)
		require.NoError(t, err)
		assert.Equal(t, right, head)

		require.NoError(t, fx.restore(right, left))
		assert.Equal(t, map[string]string{"l": "2", "x": "1"}, fx.contents(t))
	})
	t.Run("leaf root", func(t *testing.T) {
		fx := newFixture(t)
		root := fx.createTree(t)
		require.NoError(t, fx.modify(root, ins("a", "1")))
		v := fx.createChild(t, root, rem("a"))
		require.NoError(t, fx.restore(v, root))
		assert.Equal(t, map[string]string{"a": "1"}, fx.contents(t))
	})
	t.Run("current of tree", func(t *testing.T) {
		fx := newFixture(t)
		root := fx.createTree(t)
		v := fx.createChild(t, root, ins("a", "1"))
		require.NoError(t, fx.tx(func(ctx context.Context) error {
			return ModifyCurrentLeafSnapshot(ctx, root, fx.graph, fx.deltas, fx.data, []Delta{ins("a", "2")})
		}))
		forward, err := fx.deltas.GetForward(ctx, v)
		require.NoError(t, err)
		assert.Equal(t, []Delta{ins("a", "1"), ins("a", "2")}, forward)

		w := fx.createChild(t, v, ins("b", "1"))
		require.NoError(t, fx.restore(w, v))
		err = fx.tx(func(ctx context.Context) error {
			return ModifyCurrentLeafSnapshot(ctx, root, fx.graph, fx.deltas, fx.data, []Delta{ins("a", "3")})
		})
		assert.ErrorIs(t, err, ErrNotALeaf)
	})
}

func TestNoncommutativeDeltas(t *testing.T) {
	fx := newFixture(t)
	root := fx.createTree(t)
	v1 := fx.createChild(t, root, ins("k", "1"), rem("k"))
	assert.Empty(t, fx.contents(t))
	require.NoError(t, fx.restore(v1, root))
	require.NoError(t, fx.restore(root, v1))
	assert.Empty(t, fx.contents(t))

	v2 := fx.createChild(t, v1, rem("k"), ins("k", "2"))
	assert.Equal(t, map[string]string{"k": "2"}, fx.contents(t))
	require.NoError(t, fx.restore(v2, root))
	assert.Empty(t, fx.contents(t))
}

func TestInconsistencyAborts(t *testing.T) {
	fx := newFixture(t)
	root := fx.createTree(t)
	v := fx.createChild(t, root, ins("k", "1"))
	// an edit outside the forest
	require.NoError(t, fx.data.Insert(ctx, []byte("k"), []byte("manual")))
	before := fx.fingerprints(t)

	assert.ErrorIs(t, fx.restore(v, root), ErrDeltaApplyInconsistency)
	assert.Equal(t, before, fx.fingerprints(t))
}

func TestConflictSurfaces(t *testing.T) {
	fx := newFixture(t)
	root := fx.createTree(t)

	tx1, err := fx.store.WriteTx(ctx)
	require.NoError(t, err)
	tx2, err := fx.store.WriteTx(ctx)
	require.NoError(t, err)
	_, err = CreateChildSnapshot(tx1.Context(), root, fx.graph, fx.deltas, fx.data, []Delta{ins("a", "1")})
	require.NoError(t, err)
	_, err = CreateChildSnapshot(tx2.Context(), root, fx.graph, fx.deltas, fx.data, []Delta{ins("a", "2")})
	require.NoError(t, err)
	require.NoError(t, tx1.Commit())
	err = tx2.Commit()
	assert.ErrorIs(t, err, ErrStorageConflict)
	assert.True(t, kvstore.IsRetryable(err))

	assert.Equal(t, map[string]string{"a": "1"}, fx.contents(t))
	children, err := fx.graph.ChildrenOf(ctx, root)
	require.NoError(t, err)
	assert.Len(t, children, 1)
}

// beforeFirstGet runs commit once, right before the first read of the wrapped table
type beforeFirstGet struct {
	kvstore.Table
	once   sync.Once
	commit func()
}

func (t *beforeFirstGet) Get(ctx context.Context, key []byte) ([]byte, error) {
	t.once.Do(t.commit)
	return t.Table.Get(ctx, key)
}

func TestConcurrentRestore(t *testing.T) {
	t.Run("commit lands mid operation", func(t *testing.T) {
		fx := newFixture(t)
		fx.fill(t, "key0", "value0")
		root := fx.createTree(t)
		v1 := fx.createChild(t, root, ins("key1", "value1"))

		data := &beforeFirstGet{Table: fx.data, commit: func() {
			require.NoError(t, fx.restore(v1, root))
		}}
		err := fx.tx(func(ctx context.Context) error {
			return Restore(ctx, v1, root, fx.graph, fx.deltas, data)
		})
		assert.ErrorIs(t, err, ErrStorageConflict)
		assert.True(t, kvstore.IsRetryable(err))
		assert.NotErrorIs(t, err, ErrDeltaApplyInconsistency)

		assert.Equal(t, map[string]string{"key0": "value0"}, fx.contents(t))
		head, err := CurrentVersion(ctx, fx.graph, root)
		require.NoError(t, err)
		assert.Equal(t, root, head)
		// the retry sees the new head
		assert.ErrorIs(t, fx.restore(v1, root), ErrNotCurrentVersion)
	})
	t.Run("both reach commit", func(t *testing.T) {
		fx := newFixture(t)
		fx.fill(t, "key0", "value0")
		root := fx.createTree(t)
		v1 := fx.createChild(t, root, ins("key1", "value1"))
		v2 := fx.createChild(t, v1, ins("key2", "value2"))

		tx1, err := fx.store.WriteTx(ctx)
		require.NoError(t, err)
		tx2, err := fx.store.WriteTx(ctx)
		require.NoError(t, err)
		require.NoError(t, Restore(tx1.Context(), v2, root, fx.graph, fx.deltas, fx.data))
		require.NoError(t, Restore(tx2.Context(), v2, v1, fx.graph, fx.deltas, fx.data))
		require.NoError(t, tx1.Commit())
		err = tx2.Commit()
		assert.ErrorIs(t, err, ErrStorageConflict)
		assert.True(t, kvstore.IsRetryable(err))

		assert.Equal(t, map[string]string{"key0": "value0"}, fx.contents(t))
		head, err := CurrentVersion(ctx, fx.graph, root)
		require.NoError(t, err)
		assert.Equal(t, root, head)
	})
	t.Run("child created mid operation", func(t *testing.T) {
		fx := newFixture(t)
		root := fx.createTree(t)

		data := &beforeFirstGet{Table: fx.data, commit: func() {
			fx.createChild(t, root, ins("a", "1"))
		}}
		err := fx.tx(func(ctx context.Context) error {
			_, err := CreateChildSnapshot(ctx, root, fx.graph, fx.deltas, data, []Delta{ins("a", "2")})
			return err
		})
		assert.True(t, kvstore.IsRetryable(err))
		assert.Equal(t, map[string]string{"a": "1"}, fx.contents(t))
	})
}

func TestCorruptNodeSurfaces(t *testing.T) {
	fx := newFixture(t)
	root := fx.createTree(t)
	v1 := fx.createChild(t, root, ins("a", "1"))
	nodeKey := binary.BigEndian.AppendUint64([]byte{'n'}, uint64(v1))
	require.NoError(t, fx.graph.Table().Insert(ctx, nodeKey, []byte{0xff}))

	err := fx.restore(v1, root)
	assert.ErrorIs(t, err, ErrCorruptNode)
	assert.False(t, kvstore.IsRetryable(err))
	assert.Equal(t, map[string]string{"a": "1"}, fx.contents(t))
}

func TestStorageErrorPropagates(t *testing.T) {
	fx := newFixture(t)
	root := fx.createTree(t)

	ctrl := gomock.NewController(t)
	data := mock_kvstore.NewMockTable(ctrl)
	storageErr := errors.New("disk failure")
	data.EXPECT().Get(gomock.Any(), []byte("a")).Return(nil, storageErr)

	before := fx.fingerprints(t)
	err := fx.tx(func(ctx context.Context) error {
		_, err := CreateChildSnapshot(ctx, root, fx.graph, fx.deltas, data, []Delta{ins("a", "1")})
		return err
	})
	assert.ErrorIs(t, err, storageErr)
	assert.Equal(t, before, fx.fingerprints(t))
}
