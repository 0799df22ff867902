package client

import "errors"

var (
	ErrNoIdentity   = errors.New("no identity set")
	ErrNotConnected = errors.New("not connected")
)
