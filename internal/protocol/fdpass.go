package protocol

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// ReceiveFDs reads the single control message that follows the init packet
// in the zero-copy variant and extracts exactly want resource handles from
// its SCM_RIGHTS payload. A missing or malformed control message is fatal
// to the connection, never retried.
func ReceiveFDs(conn *net.UnixConn, want int) ([]int, error) {
	data := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(want*4)+unix.CmsgSpace(4))

	_, oobn, _, _, err := conn.ReadMsgUnix(data, oob)
	if err != nil {
		return nil, &Error{Op: "receive handles", Err: err}
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, &Error{Op: "parse control message", Err: err}
	}

	for i := range msgs {
		m := &msgs[i]
		if m.Header.Level != unix.SOL_SOCKET || m.Header.Type != unix.SCM_RIGHTS {
			continue
		}
		fds, err := unix.ParseUnixRights(m)
		if err != nil {
			return nil, &Error{Op: "parse rights", Err: err}
		}
		if len(fds) != want {
			for _, fd := range fds {
				unix.Close(fd)
			}
			return nil, fmt.Errorf("%w: got %d, want %d", ErrHandleCount, len(fds), want)
		}
		return fds, nil
	}

	return nil, ErrNoControlMessage
}

// SendFDs transmits resource handles as a single SCM_RIGHTS control
// message, the producer half of the zero-copy handshake.
func SendFDs(conn *net.UnixConn, fds []int) error {
	rights := unix.UnixRights(fds...)
	if _, _, err := conn.WriteMsgUnix([]byte{0}, rights, nil); err != nil {
		return &Error{Op: "send handles", Err: err}
	}
	return nil
}
