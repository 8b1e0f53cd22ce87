package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors for connection handling. These enable callers to
// programmatically distinguish failure modes using errors.Is.
var (
	// ErrNoControlMessage is returned when the zero-copy handshake's
	// resource-handle control message never arrived on the connection.
	ErrNoControlMessage = errors.New("protocol: no control message with resource handles")

	// ErrHandleCount is returned when a control message arrived but did
	// not carry exactly NumImageFDs handles.
	ErrHandleCount = errors.New("protocol: wrong resource handle count")
)

// Error indicates a failure to encode, decode, or transfer a protocol
// message. It is fatal to the connection: the session loop exits rather
// than attempting to resynchronize a misframed byte stream.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
