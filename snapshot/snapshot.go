// Package snapshot implements the snapshot forest operations over a data table.
//
// The operations never open transactions. The caller starts one write
// transaction spanning the data, versions and deltas tables, passes its context
// and commits only when the operation succeeded. Any error leaves the
// transaction in a state that must be rolled back.
package snapshot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/anyproto/any-snapshot/app/logger"
	"github.com/anyproto/any-snapshot/delta"
	"github.com/anyproto/any-snapshot/deltastore"
	"github.com/anyproto/any-snapshot/kvstore"
	"github.com/anyproto/any-snapshot/versionforest"
	"github.com/anyproto/any-snapshot/versionpath"
)

var log = logger.NewNamed("snapshot")

type (
	VersionId = versionforest.VersionId
	Delta     = delta.Delta
)

var (
	Insert = delta.Insert
	Remove = delta.Remove
)

// VersionsTable and DeltasTable name the tables of a forest namespace.
func VersionsTable(namespace string) string {
	return namespace + "-versions"
}

func DeltasTable(namespace string) string {
	return namespace + "-deltas"
}

// OpenSnapshotForest opens the version graph and the delta store of namespace.
func OpenSnapshotForest(ctx context.Context, store kvstore.Store, namespace string) (*versionforest.Forest, *deltastore.Store, error) {
	versions, err := store.OpenTable(ctx, VersionsTable(namespace))
	if err != nil {
		return nil, nil, fmt.Errorf("open versions table: %w", err)
	}
	deltas, err := store.OpenTable(ctx, DeltasTable(namespace))
	if err != nil {
		return nil, nil, fmt.Errorf("open deltas table: %w", err)
	}
	return versionforest.New(versions), deltastore.New(deltas), nil
}

// CreateSnapshotTree starts a tree whose root is the current content of the data table.
func CreateSnapshotTree(ctx context.Context, graph *versionforest.Forest) (VersionId, error) {
	return graph.CreateRoot(ctx)
}

// CreateChildSnapshot applies deltas to data and records the result as a new child of parent.
// parent must be the current version of its tree and becomes immutable.
func CreateChildSnapshot(ctx context.Context, parent VersionId, graph *versionforest.Forest, deltaStore *deltastore.Store, data kvstore.Table, deltas []Delta) (VersionId, error) {
	p, err := graph.Node(ctx, parent)
	if err != nil {
		return versionforest.NullVersion, err
	}
	if err = checkHead(ctx, graph, p.Root, parent); err != nil {
		return versionforest.NullVersion, err
	}
	backward, err := deltastore.Capture(ctx, data, deltas)
	if err != nil {
		return versionforest.NullVersion, err
	}
	id, err := graph.CreateChild(ctx, parent)
	if err != nil {
		return versionforest.NullVersion, err
	}
	if err = deltaStore.Put(ctx, id, deltas, backward); err != nil {
		return versionforest.NullVersion, err
	}
	log.DebugCtx(ctx, "child snapshot created", zap.Stringer("id", id), zap.Stringer("parent", parent), zap.Int("deltas", len(deltas)))
	return id, nil
}

// ModifyLeafSnapshot amends the leaf v with deltas. The record of v keeps
// transforming the parent state into the amended state.
// When v is not the current version, data is moved to v, amended and moved back.
func ModifyLeafSnapshot(ctx context.Context, v VersionId, graph *versionforest.Forest, deltaStore *deltastore.Store, data kvstore.Table, deltas []Delta) error {
	n, err := graph.Node(ctx, v)
	if err != nil {
		return err
	}
	if !n.IsLeaf() {
		return fmt.Errorf("%w: %s has %d children", ErrNotALeaf, v, len(n.Children))
	}
	if n.IsRoot() {
		// a single-version tree: its root is always current and has no record
		return deltastore.Apply(ctx, data, deltas...)
	}
	head, err := graph.HeadOf(ctx, n.Root)
	if err != nil {
		return err
	}
	if head != v {
		if err = replay(ctx, graph, deltaStore, data, head, v); err != nil {
			return err
		}
	}
	backward, err := deltastore.Capture(ctx, data, deltas)
	if err != nil {
		return err
	}
	if err = deltaStore.Extend(ctx, v, deltas, backward); err != nil {
		return err
	}
	if head != v {
		if err = replay(ctx, graph, deltaStore, data, v, head); err != nil {
			return err
		}
	}
	log.DebugCtx(ctx, "leaf snapshot modified", zap.Stringer("id", v), zap.Stringer("head", head), zap.Int("deltas", len(deltas)))
	return nil
}

// ModifyCurrentLeafSnapshot amends the current version of the tree containing tree.
func ModifyCurrentLeafSnapshot(ctx context.Context, tree VersionId, graph *versionforest.Forest, deltaStore *deltastore.Store, data kvstore.Table, deltas []Delta) error {
	head, err := graph.CurrentVersion(ctx, tree)
	if err != nil {
		return err
	}
	return ModifyLeafSnapshot(ctx, head, graph, deltaStore, data, deltas)
}

// Restore moves data from the current version from to the version to of the same tree.
func Restore(ctx context.Context, from, to VersionId, graph *versionforest.Forest, deltaStore *deltastore.Store, data kvstore.Table) error {
	path, err := versionpath.Resolve(ctx, graph, from, to)
	if err != nil {
		return err
	}
	root, err := graph.RootOf(ctx, from)
	if err != nil {
		return err
	}
	if err = checkHead(ctx, graph, root, from); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	if err = applyPath(ctx, deltaStore, data, path); err != nil {
		return err
	}
	if err = graph.SetHead(ctx, root, to); err != nil {
		return err
	}
	log.DebugCtx(ctx, "version restored",
		zap.Stringer("from", from), zap.Stringer("to", to),
		zap.Int("undone", len(path.Up)), zap.Int("redone", len(path.Down)))
	return nil
}

// SetCurrentVersion is Restore.
func SetCurrentVersion(ctx context.Context, from, to VersionId, graph *versionforest.Forest, deltaStore *deltastore.Store, data kvstore.Table) error {
	return Restore(ctx, from, to, graph, deltaStore, data)
}

// CollectVersions returns all versions of the forest in creation order.
func CollectVersions(ctx context.Context, graph *versionforest.Forest) ([]VersionId, error) {
	return graph.CollectVersions(ctx)
}

// CurrentVersion returns the version the data table reflects for the tree containing tree.
func CurrentVersion(ctx context.Context, graph *versionforest.Forest, tree VersionId) (VersionId, error) {
	return graph.CurrentVersion(ctx, tree)
}

func checkHead(ctx context.Context, graph *versionforest.Forest, root, v VersionId) error {
	head, err := graph.HeadOf(ctx, root)
	if err != nil {
		return err
	}
	if head != v {
		return fmt.Errorf("%w: %s, current is %s", ErrNotCurrentVersion, v, head)
	}
	return nil
}

// replay moves data between two versions without touching the heads.
func replay(ctx context.Context, graph *versionforest.Forest, deltaStore *deltastore.Store, data kvstore.Table, from, to VersionId) error {
	path, err := versionpath.Resolve(ctx, graph, from, to)
	if err != nil {
		return err
	}
	return applyPath(ctx, deltaStore, data, path)
}

func applyPath(ctx context.Context, deltaStore *deltastore.Store, data kvstore.Table, path versionpath.Path) error {
	for _, v := range path.Up {
		rec, err := deltaStore.Get(ctx, v)
		if err != nil {
			return err
		}
		if err = deltastore.ApplyBackward(ctx, data, rec); err != nil {
			return fmt.Errorf("undo %s: %w", v, err)
		}
	}
	for _, v := range path.Down {
		rec, err := deltaStore.Get(ctx, v)
		if err != nil {
			return err
		}
		if err = deltastore.ApplyForward(ctx, data, rec); err != nil {
			return fmt.Errorf("redo %s: %w", v, err)
		}
	}
	return nil
}
