package snapshot

import (
	"errors"

	"github.com/anyproto/any-snapshot/deltastore"
	"github.com/anyproto/any-snapshot/kvstore"
	"github.com/anyproto/any-snapshot/versionforest"
	"github.com/anyproto/any-snapshot/versionpath"
)

var (
	ErrNotALeaf          = errors.New("version has children")
	ErrNotCurrentVersion = errors.New("version is not the current version of its tree")

	ErrVersionNotFound         = versionforest.ErrVersionNotFound
	ErrWrongTree               = versionforest.ErrWrongTree
	ErrCorruptNode             = versionforest.ErrCorruptNode
	ErrIdsExhausted            = versionforest.ErrIdsExhausted
	ErrUnrelatedVersions       = versionpath.ErrUnrelatedVersions
	ErrDeltaNotFound           = deltastore.ErrDeltaNotFound
	ErrDeltaApplyInconsistency = deltastore.ErrDeltaApplyInconsistency
	ErrCorruptRecord           = deltastore.ErrCorruptRecord
	ErrStorageConflict         = kvstore.ErrConflict
)
