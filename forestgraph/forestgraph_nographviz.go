//go:build nographviz

package forestgraph

import (
	"context"

	"github.com/anyproto/any-snapshot/versionforest"
)

func Render(ctx context.Context, nodes []versionforest.Node, heads map[versionforest.VersionId]versionforest.VersionId) (data string, err error) {
	return "", ErrNotSupported
}
