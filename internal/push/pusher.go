// Package push defines the outbound transport port used by the fan-out
// engine. The concrete transport (the in-process WebSocket hub, or any
// managed push gateway) lives behind the Pusher interface so delivery logic
// and tests never depend on a real socket.
package push

import (
	"context"
	"errors"
)

// ErrGone reports that the destination connection no longer exists at the
// transport layer. It is the one push failure with a contract attached:
// callers remove the corresponding registry entry and carry on. Any other
// error is an ordinary transport failure and carries no cleanup signal.
var ErrGone = errors.New("destination connection gone")

// Pusher delivers an opaque payload to a single connection.
//
// Implementations must return an error wrapping ErrGone when the connection
// identifier is unknown or the session has already closed, and must be safe
// for concurrent use.
type Pusher interface {
	Push(ctx context.Context, connectionID string, payload []byte) error
}
