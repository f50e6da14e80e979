package forestgraph

import "errors"

var ErrNotSupported = errors.New("graph rendering is not supported by this build")
