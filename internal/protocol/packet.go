// Package protocol implements the binary wire format spoken between the
// frame producer (the graphics compatibility layer) and the encode bridge:
// a 44-byte connection handshake packet, an 81-byte per-frame header, and
// the out-of-band resource-handle transfer used by the zero-copy variant.
// All multi-byte fields are little-endian with no implicit padding.
package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/nvail/framebridge/internal/media"
)

// Fixed wire sizes.
const (
	// InitPacketSize is the handshake packet: imageCount(4) + deviceID(16) +
	// width(4) + height(4) + format(4) + memoryIndex(4) + sourcePID(4) +
	// reserved(4).
	InitPacketSize = 44

	// FrameHeaderSize is the per-frame header: imageIndex(4) + frameNumber(4) +
	// semaphore(8) + pose(48) + width(4) + height(4) + stride(4) + isIDR(1) +
	// payloadSize(4).
	FrameHeaderSize = 81

	// NumImageFDs is the number of external resource handles the zero-copy
	// variant transfers in its single control message.
	NumImageFDs = 6
)

// InitPacket is sent once by the producer immediately after connecting.
// Immutable after decode.
type InitPacket struct {
	ImageCount  uint32
	DeviceID    uuid.UUID
	Width       uint32
	Height      uint32
	PixelFormat uint32
	MemoryIndex uint32
	SourcePID   uint32

	// Reserved is the packet's trailing bytes, preserved verbatim so a
	// round trip reproduces the peer's 44 bytes exactly.
	Reserved [4]byte
}

// MarshalBinary encodes the packet into its 44-byte wire form.
func (p *InitPacket) MarshalBinary() ([]byte, error) {
	buf := make([]byte, InitPacketSize)
	binary.LittleEndian.PutUint32(buf[0:], p.ImageCount)
	copy(buf[4:20], p.DeviceID[:])
	binary.LittleEndian.PutUint32(buf[20:], p.Width)
	binary.LittleEndian.PutUint32(buf[24:], p.Height)
	binary.LittleEndian.PutUint32(buf[28:], p.PixelFormat)
	binary.LittleEndian.PutUint32(buf[32:], p.MemoryIndex)
	binary.LittleEndian.PutUint32(buf[36:], p.SourcePID)
	copy(buf[40:], p.Reserved[:])
	return buf, nil
}

// UnmarshalBinary decodes a 44-byte wire packet.
func (p *InitPacket) UnmarshalBinary(data []byte) error {
	if len(data) != InitPacketSize {
		return &Error{Op: "decode init packet", Err: fmt.Errorf("got %d bytes, want %d", len(data), InitPacketSize)}
	}
	p.ImageCount = binary.LittleEndian.Uint32(data[0:])
	copy(p.DeviceID[:], data[4:20])
	p.Width = binary.LittleEndian.Uint32(data[20:])
	p.Height = binary.LittleEndian.Uint32(data[24:])
	p.PixelFormat = binary.LittleEndian.Uint32(data[28:])
	p.MemoryIndex = binary.LittleEndian.Uint32(data[32:])
	p.SourcePID = binary.LittleEndian.Uint32(data[36:])
	copy(p.Reserved[:], data[40:])
	return nil
}

// FrameHeader precedes every streamed frame on the wire. PayloadSize bytes
// of tightly packed pixels follow immediately. Immutable once decoded.
type FrameHeader struct {
	ImageIndex     uint32
	FrameNumber    uint32
	SemaphoreValue uint64
	Pose           media.Pose
	Width          uint32
	Height         uint32
	Stride         uint32
	IsIDR          bool
	PayloadSize    uint32
}

// MarshalBinary encodes the header into its 81-byte wire form.
func (h *FrameHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, FrameHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], h.ImageIndex)
	binary.LittleEndian.PutUint32(buf[4:], h.FrameNumber)
	binary.LittleEndian.PutUint64(buf[8:], h.SemaphoreValue)
	off := 16
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(h.Pose[row][col]))
			off += 4
		}
	}
	binary.LittleEndian.PutUint32(buf[64:], h.Width)
	binary.LittleEndian.PutUint32(buf[68:], h.Height)
	binary.LittleEndian.PutUint32(buf[72:], h.Stride)
	if h.IsIDR {
		buf[76] = 1
	}
	binary.LittleEndian.PutUint32(buf[77:], h.PayloadSize)
	return buf, nil
}

// UnmarshalBinary decodes an 81-byte wire header.
func (h *FrameHeader) UnmarshalBinary(data []byte) error {
	if len(data) != FrameHeaderSize {
		return &Error{Op: "decode frame header", Err: fmt.Errorf("got %d bytes, want %d", len(data), FrameHeaderSize)}
	}
	h.ImageIndex = binary.LittleEndian.Uint32(data[0:])
	h.FrameNumber = binary.LittleEndian.Uint32(data[4:])
	h.SemaphoreValue = binary.LittleEndian.Uint64(data[8:])
	off := 16
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			h.Pose[row][col] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
	}
	h.Width = binary.LittleEndian.Uint32(data[64:])
	h.Height = binary.LittleEndian.Uint32(data[68:])
	h.Stride = binary.LittleEndian.Uint32(data[72:])
	h.IsIDR = data[76] != 0
	h.PayloadSize = binary.LittleEndian.Uint32(data[77:])
	return nil
}
