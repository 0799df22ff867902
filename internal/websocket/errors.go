package websocket

import "errors"

var ErrMissingIdentity = errors.New("missing required query parameter: identity")
