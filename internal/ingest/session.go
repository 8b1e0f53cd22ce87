package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/nvail/framebridge/internal/media"
	"github.com/nvail/framebridge/internal/protocol"
)

// Session is one accepted producer connection. The connection has exactly
// one reader; Session methods must not be called concurrently.
type Session struct {
	conn *net.UnixConn
	log  *slog.Logger

	// Init is the decoded handshake, immutable after Accept.
	Init protocol.InitPacket

	frameBuf []byte
}

func (s *Session) handshake(ctx context.Context) error {
	buf := make([]byte, protocol.InitPacketSize)
	if err := protocol.ReadExactly(ctx, s.conn, buf); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Init.UnmarshalBinary(buf)
}

// ReceiveImageFDs completes the zero-copy handshake: exactly one control
// message carrying the producer's image resource handles.
func (s *Session) ReceiveImageFDs() ([]int, error) {
	return protocol.ReceiveFDs(s.conn, protocol.NumImageFDs)
}

// packetSize is the fixed wire size of one streamed frame: the 81-byte
// header plus the tightly packed payload implied by the init geometry.
func (s *Session) packetSize() int {
	return protocol.FrameHeaderSize + int(s.Init.Width)*int(s.Init.Height)*4
}

// ReadLatestFrame reads the next streamed frame, discarding any older
// frames already buffered on the connection so backlog never exceeds one
// packet when the encoder falls behind. The returned frame's payload
// aliases the session's read buffer and is valid until the next call.
func (s *Session) ReadLatestFrame(ctx context.Context) (*media.RawFrame, error) {
	size := s.packetSize()
	if cap(s.frameBuf) < size {
		s.frameBuf = make([]byte, size)
	}
	buf := s.frameBuf[:size]

	if err := protocol.ReadLatest(ctx, s.conn, buf); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var hdr protocol.FrameHeader
	if err := hdr.UnmarshalBinary(buf[:protocol.FrameHeaderSize]); err != nil {
		return nil, err
	}
	if int(hdr.PayloadSize) != size-protocol.FrameHeaderSize {
		return nil, &protocol.Error{
			Op:  "frame payload",
			Err: fmt.Errorf("size %d does not match negotiated %d", hdr.PayloadSize, size-protocol.FrameHeaderSize),
		}
	}

	return &media.RawFrame{
		ImageIndex:     hdr.ImageIndex,
		FrameNumber:    uint64(hdr.FrameNumber),
		SemaphoreValue: hdr.SemaphoreValue,
		TimestampNs:    hdr.SemaphoreValue,
		Pose:           hdr.Pose,
		Width:          hdr.Width,
		Height:         hdr.Height,
		Stride:         hdr.Stride,
		ForceIDR:       hdr.IsIDR,
		Data:           buf[protocol.FrameHeaderSize:],
	}, nil
}

// ReadLatestHeader reads the next frame header in the zero-copy variant,
// where pixel data never crosses the socket and only the newest buffered
// header matters.
func (s *Session) ReadLatestHeader(ctx context.Context) (*protocol.FrameHeader, error) {
	buf := make([]byte, protocol.FrameHeaderSize)
	if err := protocol.ReadLatest(ctx, s.conn, buf); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var hdr protocol.FrameHeader
	if err := hdr.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	return &hdr, nil
}

// Close tears the connection down.
func (s *Session) Close() error {
	return s.conn.Close()
}
