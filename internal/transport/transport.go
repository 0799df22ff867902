// Package transport connects a client connection manager to an event
// broker, either in-process or over a websocket. The transport carries
// client commands up and broker envelopes down; it owns no business state.
package transport

import (
	"context"
	"errors"

	"chamahub/pkg/types"
)

// Transport is one live session against a broker. Receive's channel is
// closed when the session ends, whether by Close or by transport failure.
type Transport interface {
	Send(cmd *types.Command) error
	Receive() <-chan types.Envelope
	Close() error
}

// Dialer establishes transport sessions. The connection manager redials
// through the same Dialer on every reconnect attempt.
type Dialer interface {
	Dial(ctx context.Context, identity string) (Transport, error)
}

var (
	ErrClosed      = errors.New("transport closed")
	ErrSendTimeout = errors.New("transport send timed out")
	ErrDialFailed  = errors.New("dial failed")
)
