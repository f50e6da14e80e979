// Package versionforest keeps a forest of version trees in a flat kvstore table.
package versionforest

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/anyproto/any-snapshot/app/logger"
	"github.com/anyproto/any-snapshot/kvstore"
)

var log = logger.NewNamed("snapshot.forest")

var (
	ErrVersionNotFound = errors.New("version not found")
	ErrWrongTree       = errors.New("version does not belong to the tree")
	ErrCorruptNode     = errors.New("corrupt version node")
	ErrIdsExhausted    = errors.New("version ids exhausted")
)

// Forest is the version graph. All methods join the transaction carried by ctx.
type Forest struct {
	table kvstore.Table
}

func New(table kvstore.Table) *Forest {
	return &Forest{table: table}
}

func (f *Forest) Table() kvstore.Table {
	return f.table
}

// CreateRoot starts a new tree and makes the root its head.
func (f *Forest) CreateRoot(ctx context.Context) (id VersionId, err error) {
	if id, err = f.allocate(ctx); err != nil {
		return NullVersion, err
	}
	if err = f.putNode(ctx, Node{Id: id, Root: id}); err != nil {
		return NullVersion, err
	}
	if err = f.putHead(ctx, id, id); err != nil {
		return NullVersion, err
	}
	log.DebugCtx(ctx, "tree created", zap.Stringer("root", id))
	return id, nil
}

// CreateChild adds a child under parent and moves the tree head to it.
func (f *Forest) CreateChild(ctx context.Context, parent VersionId) (id VersionId, err error) {
	p, err := f.Node(ctx, parent)
	if err != nil {
		return NullVersion, err
	}
	if id, err = f.allocate(ctx); err != nil {
		return NullVersion, err
	}
	child := Node{
		Id:     id,
		Parent: parent,
		Root:   p.Root,
		Depth:  p.Depth + 1,
	}
	if err = f.putNode(ctx, child); err != nil {
		return NullVersion, err
	}
	p.Children = append(p.Children, id)
	if err = f.putNode(ctx, p); err != nil {
		return NullVersion, err
	}
	if err = f.putHead(ctx, p.Root, id); err != nil {
		return NullVersion, err
	}
	log.DebugCtx(ctx, "version created", zap.Stringer("id", id), zap.Stringer("parent", parent))
	return id, nil
}

// Node returns ErrVersionNotFound for unknown ids.
func (f *Forest) Node(ctx context.Context, v VersionId) (Node, error) {
	if v == NullVersion {
		return Node{}, fmt.Errorf("%w: %s", ErrVersionNotFound, v)
	}
	data, err := f.table.Get(ctx, versionKey(nodePrefix, v))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return Node{}, fmt.Errorf("%w: %s", ErrVersionNotFound, v)
		}
		return Node{}, err
	}
	return unmarshalNode(v, data)
}

func (f *Forest) Exists(ctx context.Context, v VersionId) (bool, error) {
	_, err := f.Node(ctx, v)
	if errors.Is(err, ErrVersionNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (f *Forest) ChildrenOf(ctx context.Context, v VersionId) ([]VersionId, error) {
	n, err := f.Node(ctx, v)
	if err != nil {
		return nil, err
	}
	return n.Children, nil
}

// ParentOf returns NullVersion for a root.
func (f *Forest) ParentOf(ctx context.Context, v VersionId) (VersionId, error) {
	n, err := f.Node(ctx, v)
	if err != nil {
		return NullVersion, err
	}
	return n.Parent, nil
}

func (f *Forest) IsLeaf(ctx context.Context, v VersionId) (bool, error) {
	n, err := f.Node(ctx, v)
	if err != nil {
		return false, err
	}
	return n.IsLeaf(), nil
}

func (f *Forest) RootOf(ctx context.Context, v VersionId) (VersionId, error) {
	n, err := f.Node(ctx, v)
	if err != nil {
		return NullVersion, err
	}
	return n.Root, nil
}

// HeadOf returns the current version of the tree started by root.
func (f *Forest) HeadOf(ctx context.Context, root VersionId) (VersionId, error) {
	if err := f.checkRoot(ctx, root); err != nil {
		return NullVersion, err
	}
	data, err := f.table.Get(ctx, versionKey(headPrefix, root))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return NullVersion, fmt.Errorf("%w: no head for root %s", ErrCorruptNode, root)
		}
		return NullVersion, err
	}
	return decodeVersion(data)
}

// SetHead makes v the current version of the tree started by root.
func (f *Forest) SetHead(ctx context.Context, root, v VersionId) error {
	if err := f.checkRoot(ctx, root); err != nil {
		return err
	}
	n, err := f.Node(ctx, v)
	if err != nil {
		return err
	}
	if n.Root != root {
		return fmt.Errorf("%w: %s is in tree %s, not %s", ErrWrongTree, v, n.Root, root)
	}
	return f.putHead(ctx, root, v)
}

// CurrentVersion returns the head of the tree containing v.
func (f *Forest) CurrentVersion(ctx context.Context, v VersionId) (VersionId, error) {
	root, err := f.RootOf(ctx, v)
	if err != nil {
		return NullVersion, err
	}
	return f.HeadOf(ctx, root)
}

// PathToRoot returns v, its parent, and so on up to the root.
func (f *Forest) PathToRoot(ctx context.Context, v VersionId) (path []VersionId, err error) {
	n, err := f.Node(ctx, v)
	if err != nil {
		return nil, err
	}
	path = make([]VersionId, 0, n.Depth+1)
	for {
		path = append(path, n.Id)
		if n.IsRoot() {
			return path, nil
		}
		if n, err = f.Node(ctx, n.Parent); err != nil {
			return nil, err
		}
	}
}

// CollectVersions returns every version of the forest in creation order.
func (f *Forest) CollectVersions(ctx context.Context) (versions []VersionId, err error) {
	err = f.iterate(ctx, nodePrefix, func(v VersionId, _ []byte) error {
		versions = append(versions, v)
		return nil
	})
	return
}

// CollectNodes is CollectVersions returning the decoded nodes.
func (f *Forest) CollectNodes(ctx context.Context) (nodes []Node, err error) {
	err = f.iterate(ctx, nodePrefix, func(v VersionId, data []byte) error {
		n, err := unmarshalNode(v, data)
		if err != nil {
			return err
		}
		nodes = append(nodes, n)
		return nil
	})
	return
}

// CollectRoots returns the roots of all trees in creation order.
func (f *Forest) CollectRoots(ctx context.Context) (roots []VersionId, err error) {
	err = f.iterate(ctx, headPrefix, func(root VersionId, _ []byte) error {
		roots = append(roots, root)
		return nil
	})
	return
}

// Heads maps every root to its current version.
func (f *Forest) Heads(ctx context.Context) (heads map[VersionId]VersionId, err error) {
	heads = make(map[VersionId]VersionId)
	err = f.iterate(ctx, headPrefix, func(root VersionId, data []byte) error {
		head, err := decodeVersion(data)
		if err != nil {
			return err
		}
		heads[root] = head
		return nil
	})
	return
}

// LastId returns the last allocated id or NullVersion for an empty forest.
func (f *Forest) LastId(ctx context.Context) (VersionId, error) {
	data, ok, err := kvstore.Lookup(ctx, f.table, counterKey)
	if err != nil || !ok {
		return NullVersion, err
	}
	return decodeVersion(data)
}

func (f *Forest) allocate(ctx context.Context) (VersionId, error) {
	last, err := f.LastId(ctx)
	if err != nil {
		return NullVersion, err
	}
	if last == math.MaxUint64 {
		return NullVersion, ErrIdsExhausted
	}
	id := last + 1
	if err = f.table.Insert(ctx, counterKey, encodeVersion(id)); err != nil {
		return NullVersion, err
	}
	return id, nil
}

func (f *Forest) checkRoot(ctx context.Context, root VersionId) error {
	n, err := f.Node(ctx, root)
	if err != nil {
		return err
	}
	if !n.IsRoot() {
		return fmt.Errorf("%w: %s is not a root", ErrWrongTree, root)
	}
	return nil
}

func (f *Forest) putNode(ctx context.Context, n Node) error {
	return f.table.Insert(ctx, versionKey(nodePrefix, n.Id), n.marshal())
}

func (f *Forest) putHead(ctx context.Context, root, v VersionId) error {
	return f.table.Insert(ctx, versionKey(headPrefix, root), encodeVersion(v))
}

func (f *Forest) iterate(ctx context.Context, prefix byte, iter func(v VersionId, data []byte) error) error {
	return f.table.Iterate(ctx, func(key, value []byte) (bool, error) {
		if len(key) == 0 || key[0] < prefix {
			return true, nil
		}
		if key[0] > prefix {
			return false, nil
		}
		v, err := decodeVersion(key[1:])
		if err != nil {
			return false, err
		}
		return true, iter(v, value)
	})
}
