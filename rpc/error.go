package rpc

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrTimeout          = errors.New("no response before timeout")
	ErrPortClosed       = errors.New("port is closed")
)
