package versionforest

import (
	"encoding/binary"
	"fmt"

	"github.com/anyproto/any-store/anyenc"
)

// VersionId identifies a version in the whole forest. Ids are allocated from one
// counter, so a bigger id is always a more recent version.
type VersionId uint64

// NullVersion is never allocated; it marks the absent parent of a root.
const NullVersion VersionId = 0

func (v VersionId) String() string {
	return fmt.Sprintf("v%d", uint64(v))
}

// Node is a vertex of the forest.
// Root and Depth are fixed at creation: a root has Root == Id and Depth == 0.
type Node struct {
	Id       VersionId
	Parent   VersionId
	Root     VersionId
	Depth    uint64
	Children []VersionId
}

func (n Node) IsRoot() bool {
	return n.Parent == NullVersion
}

func (n Node) IsLeaf() bool {
	return len(n.Children) == 0
}

/**

node document structure:
	p (bytes) - parent id, 8 bytes big-endian
	r (bytes) - root id
	d (number) - depth
	c (array) - child ids in creation order
*/

const (
	parentKey   = "p"
	rootKey     = "r"
	depthKey    = "d"
	childrenKey = "c"
)

var (
	parserPool = &anyenc.ParserPool{}
	arenaPool  = &anyenc.ArenaPool{}
)

func (n Node) marshal() []byte {
	arena := arenaPool.Get()
	defer arenaPool.Put(arena)
	doc := arena.NewObject()
	doc.Set(parentKey, arena.NewBinary(encodeVersion(n.Parent)))
	doc.Set(rootKey, arena.NewBinary(encodeVersion(n.Root)))
	doc.Set(depthKey, arena.NewNumberInt(int(n.Depth)))
	children := arena.NewArray()
	for i, child := range n.Children {
		children.SetArrayItem(i, arena.NewBinary(encodeVersion(child)))
	}
	doc.Set(childrenKey, children)
	return doc.MarshalTo(nil)
}

func unmarshalNode(id VersionId, data []byte) (n Node, err error) {
	parser := parserPool.Get()
	defer parserPool.Put(parser)
	doc, err := parser.Parse(data)
	if err != nil {
		return Node{}, fmt.Errorf("%w: %s: %w", ErrCorruptNode, id, err)
	}
	if doc.Type() != anyenc.TypeObject {
		return Node{}, fmt.Errorf("%w: %s: %s instead of object", ErrCorruptNode, id, doc.Type())
	}
	n.Id = id
	if n.Parent, err = decodeVersion(doc.GetBytes(parentKey)); err != nil {
		return Node{}, fmt.Errorf("%s parent: %w", id, err)
	}
	if n.Root, err = decodeVersion(doc.GetBytes(rootKey)); err != nil {
		return Node{}, fmt.Errorf("%s root: %w", id, err)
	}
	depth, err := doc.Get(depthKey).Int()
	if err != nil || depth < 0 {
		return Node{}, fmt.Errorf("%w: %s: bad depth", ErrCorruptNode, id)
	}
	n.Depth = uint64(depth)
	children, err := doc.Get(childrenKey).Array()
	if err != nil {
		return Node{}, fmt.Errorf("%w: %s children: %w", ErrCorruptNode, id, err)
	}
	n.Children = make([]VersionId, 0, len(children))
	for _, child := range children {
		c, err := decodeVersion(child.GetBytes())
		if err != nil {
			return Node{}, fmt.Errorf("%s child: %w", id, err)
		}
		n.Children = append(n.Children, c)
	}
	return n, nil
}

const (
	nodePrefix = 'n'
	headPrefix = 'h'
)

var counterKey = []byte{'c'}

func versionKey(prefix byte, v VersionId) []byte {
	key := make([]byte, 1, 9)
	key[0] = prefix
	return binary.BigEndian.AppendUint64(key, uint64(v))
}

func decodeVersion(data []byte) (VersionId, error) {
	if len(data) != 8 {
		return NullVersion, fmt.Errorf("%w: version of %d bytes", ErrCorruptNode, len(data))
	}
	return VersionId(binary.BigEndian.Uint64(data)), nil
}

func encodeVersion(v VersionId) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v))
}
