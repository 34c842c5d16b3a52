package memcoord

import (
	"errors"
	"fmt"
)

var (
	ErrNoNamespace   = errors.New("memcoord: namespace is required")
	ErrNoStore       = errors.New("memcoord: store is required")
	ErrNoCodec       = errors.New("memcoord: codec is required")
	ErrLongNamespace = fmt.Errorf("memcoord: namespace exceeds %d chars", MaxNamespaceLen)
)

// MaxNamespaceLen bounds namespaces so normalized keys keep room for the
// logical key ahead of the store's key-length limit.
const MaxNamespaceLen = 32
