// Package idr decides, once per submitted frame, whether the encoder
// should be forced to produce a keyframe.
package idr

import "sync/atomic"

// Scheduler coalesces keyframe triggers into a single pending request.
// Stream start, reported packet loss, and explicit insertion requests all
// set the same bit; however many triggers arrive before the next frame
// boundary, at most one keyframe is forced. There is no queue and no
// history beyond the pending bit and a loss counter.
//
// The zero value is ready to use. Safe for concurrent use: triggers
// arrive from network threads while CheckIDRInsertion runs on the encode
// worker.
type Scheduler struct {
	pending   atomic.Bool
	lossCount atomic.Uint64
}

// OnStreamStart requests a keyframe so a newly connected client can start
// decoding immediately.
func (s *Scheduler) OnStreamStart() {
	s.pending.Store(true)
}

// OnPacketLoss records a reported loss and requests a keyframe to stop
// error propagation in the decoded stream.
func (s *Scheduler) OnPacketLoss() {
	s.lossCount.Add(1)
	s.pending.Store(true)
}

// InsertIDR requests a keyframe on behalf of an external caller.
func (s *Scheduler) InsertIDR() {
	s.pending.Store(true)
}

// CheckIDRInsertion is consulted exactly once per submitted frame. It
// clears the pending request and reports whether this frame must be a
// keyframe.
func (s *Scheduler) CheckIDRInsertion() bool {
	return s.pending.Swap(false)
}

// LossCount returns the total number of packet losses reported.
func (s *Scheduler) LossCount() uint64 {
	return s.lossCount.Load()
}
