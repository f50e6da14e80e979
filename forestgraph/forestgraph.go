//go:build !nographviz

// Package forestgraph renders a snapshot forest as a graphviz graph.
package forestgraph

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/anyproto/any-snapshot/versionforest"
)

// Render returns the DOT source of all trees. Current versions are filled.
func Render(ctx context.Context, nodes []versionforest.Node, heads map[versionforest.VersionId]versionforest.VersionId) (data string, err error) {
	g, err := graphviz.New(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = g.Close()
	}()
	graph, err := g.Graph()
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := graph.Close(); err == nil {
			err = closeErr
		}
	}()

	current := make(map[versionforest.VersionId]bool, len(heads))
	for _, head := range heads {
		current[head] = true
	}
	sorted := slices.Clone(nodes)
	slices.SortFunc(sorted, func(a, b versionforest.Node) int {
		return cmp.Compare(a.Id, b.Id)
	})

	gNodes := make(map[versionforest.VersionId]*cgraph.Node, len(sorted))
	for _, n := range sorted {
		gn, err := graph.CreateNodeByName(n.Id.String())
		if err != nil {
			return "", err
		}
		label := n.Id.String()
		if n.IsRoot() {
			label += "\nroot"
			gn.SetShape(cgraph.BoxShape)
		}
		if current[n.Id] {
			label += "\ncurrent"
			gn.SetStyle(cgraph.FilledNodeStyle)
			gn.SetFillColor("lightblue")
		}
		gn.SetLabel(label)
		gNodes[n.Id] = gn
	}
	for _, n := range sorted {
		if n.IsRoot() {
			continue
		}
		parent, ok := gNodes[n.Parent]
		if !ok {
			return "", fmt.Errorf("%w: parent %s of %s is missing", versionforest.ErrCorruptNode, n.Parent, n.Id)
		}
		if _, err = graph.CreateEdgeByName(fmt.Sprintf("%s-%s", n.Parent, n.Id), parent, gNodes[n.Id]); err != nil {
			return "", err
		}
	}

	var buf bytes.Buffer
	if err = g.Render(ctx, graph, "dot", &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
