package shm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nvail/framebridge/internal/media"
)

// handshakePoll is how often the producer re-checks the consumer's
// initialized flag while waiting for it to come up.
const handshakePoll = 10 * time.Millisecond

// Config is the stream geometry the producer publishes once during the
// liveness handshake. The fields are written before configSet and are
// immutable afterwards.
type Config struct {
	Width       uint32
	Height      uint32
	PixelFormat uint32
}

// Producer is the frame-writing side of the ring. It acquires slots with
// an EMPTY→WRITING compare-and-swap, fills payload and metadata, and
// publishes with a READY store whose release ordering guarantees the
// consumer never observes READY before the payload writes.
type Producer struct {
	r          *Region
	log        *slog.Logger
	frameIndex uint64
}

// NewProducer performs the liveness handshake: poll for the consumer's
// initialized flag with a bounded timeout, then publish the stream
// configuration. A timeout means the peer never started, reported as
// ErrHandshakeTimeout so callers can distinguish it from a crash
// mid-session.
func NewProducer(ctx context.Context, r *Region, cfg Config, timeout time.Duration, log *slog.Logger) (*Producer, error) {
	if log == nil {
		log = slog.Default()
	}
	deadline := time.Now().Add(timeout)
	for !r.Initialized() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w after %v", ErrHandshakeTimeout, timeout)
		}
		time.Sleep(handshakePoll)
	}

	r.putU32(offConfigWidth, cfg.Width)
	r.putU32(offConfigHeight, cfg.Height)
	r.putU32(offConfigFormat, cfg.PixelFormat)
	// The atomic store publishes the config fields written above.
	r.storeU32(offConfigSet, 1)

	log.Info("shm producer connected", "width", cfg.Width, "height", cfg.Height)
	return &Producer{r: r, log: log}, nil
}

// Write copies one frame into the ring. If every slot candidate fails the
// EMPTY→WRITING swap the frame is dropped and ErrRingFull returned; the
// caller continues, this is flow control rather than failure. The source
// payload may carry a row stride wider than the packed destination.
func (p *Producer) Write(frame *media.RawFrame) error {
	if p.r.ShuttingDown() {
		return ErrShutdown
	}

	// framesWritten counts every attempt, so at quiescence
	// encoded + dropped == written.
	p.r.addU64(offFramesWritten, 1)

	idx := p.acquireWriteSlot()
	if idx < 0 {
		p.r.addU64(offFramesDropped, 1)
		if p.frameIndex%100 == 0 {
			p.log.Warn("dropping frame, encoder too slow", "frame", p.frameIndex)
		}
		p.frameIndex++
		return ErrRingFull
	}

	packed := frame.Width * BytesPerPixel
	copyRows(p.r.payload(idx), frame.Data, int(packed), int(frame.Height), int(frame.Stride))

	slot := slotOffset(idx)
	p.r.putU32(slot+slotWidth, frame.Width)
	p.r.putU32(slot+slotHeight, frame.Height)
	p.r.putU32(slot+slotStride, packed)
	p.r.putU64(slot+slotTimestampNs, frame.TimestampNs)
	p.r.putU64(slot+slotFrameNumber, p.frameIndex)
	if frame.ForceIDR {
		p.r.data[slot+slotIsIDR] = 1
	} else {
		p.r.data[slot+slotIsIDR] = 0
	}
	putPose(p.r.data[slot+slotPose:], frame.Pose)

	// Release store: everything written above becomes visible before the
	// consumer can win a READY→ENCODING swap.
	p.r.storeU32(slot+slotState, SlotReady)
	p.r.addU64(offWriteSeq, 1)

	p.frameIndex++
	if p.frameIndex%90 == 0 {
		c := p.r.Counters()
		p.log.Info("ring status", "frame", p.frameIndex,
			"written", c.Written, "encoded", c.Encoded, "dropped", c.Dropped)
	}
	return nil
}

// acquireWriteSlot probes candidates in ring order starting at the write
// sequence, attempting an atomic EMPTY→WRITING swap on each. The first
// success wins; if all candidates fail the frame is dropped, no retry.
func (p *Producer) acquireWriteSlot() int {
	seq := p.r.loadU64(offWriteSeq)
	for k := uint64(0); k < NumSlots; k++ {
		idx := int((seq + k) % NumSlots)
		if p.r.casU32(slotOffset(idx)+slotState, SlotEmpty, SlotWriting) {
			return idx
		}
	}
	return -1
}

// copyRows copies height rows of packed bytes each, correcting for a
// source stride wider than the packed row. Equal strides collapse to a
// single copy.
func copyRows(dst, src []byte, packed, height, srcStride int) {
	if srcStride == packed || srcStride == 0 {
		copy(dst, src[:packed*height])
		return
	}
	for y := 0; y < height; y++ {
		copy(dst[y*packed:(y+1)*packed], src[y*srcStride:y*srcStride+packed])
	}
}

func putPose(dst []byte, pose media.Pose) {
	off := 0
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			putFloat32(dst[off:], pose[row][col])
			off += 4
		}
	}
}

func getPose(src []byte) media.Pose {
	var pose media.Pose
	off := 0
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			pose[row][col] = getFloat32(src[off:])
			off += 4
		}
	}
	return pose
}
