package assetcache

import "errors"

var (
	// ErrInvalidNamespace is returned when a namespace name is empty or would
	// escape the registry root.
	ErrInvalidNamespace = errors.New("invalid namespace name")

	// ErrUnknownNamespace is returned when a registry has not created the
	// requested namespace.
	ErrUnknownNamespace = errors.New("unknown namespace")

	// ErrRegistryClosed is returned by a registry after Close.
	ErrRegistryClosed = errors.New("registry closed")
)

// ErrorHandler receives failures of background disk operations. op is one of
// the disk.Op* names. It runs on the namespace's I/O lane and must not block.
type ErrorHandler func(namespace, op, path string, err error)
