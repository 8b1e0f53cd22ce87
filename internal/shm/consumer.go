package shm

import "github.com/nvail/framebridge/internal/media"

// Slot is one acquired frame. Frame.Data aliases the mapped payload region
// and is only valid until Release; the encode path must either finish with
// it or copy before releasing.
type Slot struct {
	index int
	Frame media.RawFrame
}

// Consumer is the encode-side of the ring. It claims READY slots with a
// compare-and-swap, hands their contents to the encoder, and recycles them
// to EMPTY.
type Consumer struct {
	r *Region
}

// NewConsumer wraps a region for frame consumption.
func NewConsumer(r *Region) *Consumer {
	return &Consumer{r: r}
}

// Config returns the stream geometry once the producer has published it.
func (c *Consumer) Config() (Config, bool) {
	if c.r.loadU32(offConfigSet) == 0 {
		return Config{}, false
	}
	return Config{
		Width:       c.r.getU32(offConfigWidth),
		Height:      c.r.getU32(offConfigHeight),
		PixelFormat: c.r.getU32(offConfigFormat),
	}, true
}

// TryAcquire claims the next READY slot via a READY→ENCODING swap. It
// returns false when no frame is ready; the caller polls, re-checking the
// shutdown flag between attempts.
func (c *Consumer) TryAcquire() (*Slot, bool) {
	seq := c.r.loadU64(offReadSeq)
	for k := uint64(0); k < NumSlots; k++ {
		idx := int((seq + k) % NumSlots)
		slot := slotOffset(idx)
		if !c.r.casU32(slot+slotState, SlotReady, SlotEncoding) {
			continue
		}

		width := c.r.getU32(slot + slotWidth)
		height := c.r.getU32(slot + slotHeight)
		stride := c.r.getU32(slot + slotStride)
		size := int(height) * int(stride)
		if size > MaxFrameSize {
			size = MaxFrameSize
		}

		return &Slot{
			index: idx,
			Frame: media.RawFrame{
				FrameNumber: c.r.getU64(slot + slotFrameNumber),
				TimestampNs: c.r.getU64(slot + slotTimestampNs),
				Pose:        getPose(c.r.data[slot+slotPose:]),
				Width:       width,
				Height:      height,
				Stride:      stride,
				ForceIDR:    c.r.data[slot+slotIsIDR] != 0,
				Data:        c.r.payload(idx)[:size],
			},
		}, true
	}
	return nil, false
}

// Release recycles an encoded slot to EMPTY and advances the read
// accounting. The slot's payload must not be touched afterwards.
func (c *Consumer) Release(s *Slot) {
	c.r.storeU32(slotOffset(s.index)+slotState, SlotEmpty)
	c.r.addU64(offReadSeq, 1)
	c.r.addU64(offFramesEncoded, 1)
	s.Frame.Data = nil
}
