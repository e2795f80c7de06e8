package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a frame is pushed while the room
	// connection is not open.
	ErrNotConnected = errors.New("connection is not open")
	// ErrNoActiveRoom is returned by room-scoped calls before OpenRoom.
	ErrNoActiveRoom = errors.New("no active room")

	errStaleConnection = errors.New("no heartbeat activity within interval")
	errNoTypingRoute   = errors.New("typing events need an open connection")
)

// ValidationError rejects a request before anything is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransportError means the room connection failed to open or dropped.
type TransportError struct {
	Op     string
	RoomID int64
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s room=%d: %v", e.Op, e.RoomID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a frame that could not be decoded or is not understood.
type ProtocolError struct {
	Type string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("protocol: %v", e.Err)
	}
	return fmt.Sprintf("protocol: frame %q: %v", e.Type, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// DeliveryError means the HTTP fallback could not store the message. The
// message stays in the store flagged unsent under ClientID.
type DeliveryError struct {
	ClientID string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver message %s: %v", e.ClientID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
