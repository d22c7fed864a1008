package storage

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrNamespaceInUse   = errors.New("session namespace already in use")
	ErrNamespaceClosed  = errors.New("session namespace destroyed")
)
