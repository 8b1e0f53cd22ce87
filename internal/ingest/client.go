package ingest

import (
	"fmt"
	"net"

	"github.com/nvail/framebridge/internal/protocol"
)

// Client is the producer half of the socket transport: connect, send the
// init packet, then stream frames. It exists for producers running in the
// same process and for end-to-end tests; the primary producer is a
// foreign process speaking the same wire format.
type Client struct {
	conn *net.UnixConn
}

// Dial connects to the bridge socket and sends the handshake.
func Dial(socketPath string, init *protocol.InitPacket) (*Client, error) {
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("ingest: dial %s: %w", socketPath, err)
	}

	wire, err := init.MarshalBinary()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Write(wire); err != nil {
		conn.Close()
		return nil, &protocol.Error{Op: "send init packet", Err: err}
	}
	return &Client{conn: conn}, nil
}

// SendImageFDs transfers the image resource handles for the zero-copy
// variant. Must be called directly after Dial, before any frames.
func (c *Client) SendImageFDs(fds []int) error {
	return protocol.SendFDs(c.conn, fds)
}

// SendFrame writes one frame header and its payload. The header's
// PayloadSize must equal len(payload).
func (c *Client) SendFrame(hdr *protocol.FrameHeader, payload []byte) error {
	if int(hdr.PayloadSize) != len(payload) {
		return fmt.Errorf("ingest: payload size %d, header claims %d", len(payload), hdr.PayloadSize)
	}
	wire, err := hdr.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(wire); err != nil {
		return &protocol.Error{Op: "send frame header", Err: err}
	}
	if _, err := c.conn.Write(payload); err != nil {
		return &protocol.Error{Op: "send frame payload", Err: err}
	}
	return nil
}

// SendHeader writes a bare frame header for the zero-copy variant.
func (c *Client) SendHeader(hdr *protocol.FrameHeader) error {
	wire, err := hdr.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(wire); err != nil {
		return &protocol.Error{Op: "send frame header", Err: err}
	}
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
