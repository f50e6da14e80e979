// Package versionpath finds the way between two versions of one tree.
package versionpath

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/anyproto/any-snapshot/versionforest"
)

var ErrUnrelatedVersions = errors.New("versions belong to different trees")

type Graph interface {
	Node(ctx context.Context, v versionforest.VersionId) (versionforest.Node, error)
}

// Path leads from one version to another through their lowest common ancestor.
type Path struct {
	// Up lists the versions to undo, from the start version toward Ancestor exclusive.
	Up []versionforest.VersionId
	// Down lists the versions to redo, from the child of Ancestor to the target.
	Down     []versionforest.VersionId
	Ancestor versionforest.VersionId
}

// Resolve walks parent links from both ends: the deeper side climbs to the
// same depth, then both climb together until they meet.
func Resolve(ctx context.Context, g Graph, from, to versionforest.VersionId) (p Path, err error) {
	a, err := g.Node(ctx, from)
	if err != nil {
		return Path{}, err
	}
	b, err := g.Node(ctx, to)
	if err != nil {
		return Path{}, err
	}
	if a.Root != b.Root {
		return Path{}, fmt.Errorf("%w: %s is in tree %s, %s is in tree %s", ErrUnrelatedVersions, from, a.Root, to, b.Root)
	}
	for a.Depth > b.Depth {
		p.Up = append(p.Up, a.Id)
		if a, err = parent(ctx, g, a); err != nil {
			return Path{}, err
		}
	}
	for b.Depth > a.Depth {
		p.Down = append(p.Down, b.Id)
		if b, err = parent(ctx, g, b); err != nil {
			return Path{}, err
		}
	}
	for a.Id != b.Id {
		p.Up = append(p.Up, a.Id)
		p.Down = append(p.Down, b.Id)
		if a, err = parent(ctx, g, a); err != nil {
			return Path{}, err
		}
		if b, err = parent(ctx, g, b); err != nil {
			return Path{}, err
		}
	}
	slices.Reverse(p.Down)
	p.Ancestor = a.Id
	return p, nil
}

func parent(ctx context.Context, g Graph, n versionforest.Node) (versionforest.Node, error) {
	if n.IsRoot() {
		return versionforest.Node{}, fmt.Errorf("%w: %s reached its root above the expected depth", versionforest.ErrCorruptNode, n.Id)
	}
	p, err := g.Node(ctx, n.Parent)
	if err != nil {
		return versionforest.Node{}, err
	}
	if p.Depth+1 != n.Depth {
		return versionforest.Node{}, fmt.Errorf("%w: %s has depth %d under %s of depth %d", versionforest.ErrCorruptNode, n.Id, n.Depth, p.Id, p.Depth)
	}
	return p, nil
}
