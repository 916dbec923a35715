package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection is returned when a peer cannot be reached or a write fails.
	ErrConnection = errors.New("transport: connection error")

	// ErrConnectionClosed is returned for calls pending or issued on a closed connection.
	ErrConnectionClosed = errors.New("transport: connection closed")

	// ErrTimeout is returned when a peer does not answer within the RPC timeout.
	ErrTimeout = errors.New("transport: request timed out")

	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("transport: invalid key")

	// ErrInvalidEndpoint is returned when an endpoint is not host:port.
	ErrInvalidEndpoint = errors.New("transport: invalid endpoint")

	// ErrFrameTooLarge is returned for frames above MaxFrameSize.
	ErrFrameTooLarge = errors.New("transport: frame too large")

	// ErrMalformedFrame is returned when a frame or payload cannot be decoded.
	ErrMalformedFrame = errors.New("transport: malformed frame")
)

// RemoteError is an application error reported by the peer in an ERROR frame.
type RemoteError struct {
	Op      Opcode
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("transport: remote %s failed: %s", e.Op, e.Message)
}
