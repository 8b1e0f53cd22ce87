// Package shm implements the cross-process frame ring buffer: a mapped
// file shared between the frame producer and the encode bridge, with a
// fixed header, three frame slots, and lock-free hand-off driven entirely
// by per-slot atomic state tags. The two sides may be separate processes
// under different OS personalities, so no kernel lock is assumed to work
// across the boundary; coordination uses atomic load/store/compare-and-swap
// plus the release ordering of the publishing state store.
package shm

// Magic and Version are validated once when the region is mapped; a
// mismatch fails fast rather than risking a misaligned layout.
const (
	Magic   uint32 = 0x414C5652
	Version uint32 = 1
)

// Fixed geometry. Slot payload regions are sized for the worst case
// (4K stereo BGRA) regardless of the configured stream dimensions.
const (
	MaxWidth      = 4096
	MaxHeight     = 2048
	BytesPerPixel = 4
	MaxFrameSize  = MaxWidth * MaxHeight * BytesPerPixel

	// NumSlots is the ring capacity. Three slots keep the producer
	// non-blocking: one being written, one ready, one being encoded.
	NumSlots = 3

	pageSize = 4096
)

// Slot states. The side named by the current state owns the slot
// exclusively; EMPTY slot contents are unspecified and must not be read.
const (
	SlotEmpty uint32 = iota
	SlotWriting
	SlotReady
	SlotEncoding
)

// Header field offsets. The layout is fixed: eight 32-bit fields, five
// 64-bit counters, a reserved pad, then NumSlots slot headers. Pixel
// data begins at the header size rounded up to a page boundary.
const (
	offMagic       = 0
	offVersion     = 4
	offInitialized = 8
	offShutdown    = 12

	offConfigWidth  = 16
	offConfigHeight = 20
	offConfigFormat = 24
	offConfigSet    = 28

	offWriteSeq      = 32
	offReadSeq       = 40
	offFramesWritten = 48
	offFramesEncoded = 56
	offFramesDropped = 64

	offSlots = 72 + reservedLen

	reservedLen = 64
	slotSize    = 88

	// Slot-relative offsets. The keyframe flag byte is padded to keep the
	// pose matrix 8-aligned, matching the producer's native layout.
	slotState       = 0
	slotWidth       = 4
	slotHeight      = 8
	slotStride      = 12
	slotTimestampNs = 16
	slotFrameNumber = 24
	slotIsIDR       = 32
	slotPose        = 40

	headerSize = offSlots + NumSlots*slotSize

	payloadBase = (headerSize + pageSize - 1) &^ (pageSize - 1)

	// TotalSize is the required size of the backing file.
	TotalSize = payloadBase + NumSlots*MaxFrameSize
)

// slotOffset returns the absolute offset of slot i's header.
func slotOffset(i int) int {
	return offSlots + i*slotSize
}

// payloadOffset returns the absolute offset of slot i's pixel region.
func payloadOffset(i int) int {
	return payloadBase + i*MaxFrameSize
}
