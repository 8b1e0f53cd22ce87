package shm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Sentinel errors distinguishable with errors.Is. ErrHandshakeTimeout is
// reported distinctly from connection failures so "peer never started" is
// tellable apart from "peer crashed mid-session". ErrRingFull is a
// flow-control signal, not a failure.
var (
	ErrBadMagic         = errors.New("shm: bad magic")
	ErrBadVersion       = errors.New("shm: unsupported version")
	ErrRegionSize       = errors.New("shm: backing file too small")
	ErrHandshakeTimeout = errors.New("shm: timed out waiting for consumer")
	ErrShutdown         = errors.New("shm: region shut down")
	ErrRingFull         = errors.New("shm: all slots busy")
)

// Counters is a snapshot of the ring's frame accounting. At quiescence
// Written == Encoded + Dropped: no frame is silently lost.
type Counters struct {
	Written uint64
	Encoded uint64
	Dropped uint64
}

// Region is one mapped view of the shared frame buffer. The consumer
// creates and initializes it; the producer opens and validates it.
type Region struct {
	data   []byte
	f      *os.File
	mapped bool
}

// Create builds the backing file at path, maps it, and initializes the
// header: magic, version, all slots EMPTY, all counters zero. The
// initialized flag is left clear; the consumer calls MarkInitialized once
// it is actually able to accept frames.
func Create(path string) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", path, err)
	}
	if err := f.Truncate(TotalSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: size %s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, TotalSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}

	r := &Region{data: data, f: f, mapped: true}
	r.storeU32(offMagic, Magic)
	r.storeU32(offVersion, Version)
	for i := 0; i < NumSlots; i++ {
		r.storeU32(slotOffset(i)+slotState, SlotEmpty)
	}
	return r, nil
}

// Open maps an existing region created by the consumer, failing fast on a
// missing file, undersized backing storage, or a magic/version mismatch.
func Open(path string) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: stat %s: %w", path, err)
	}
	if info.Size() < TotalSize {
		f.Close()
		return nil, fmt.Errorf("%w: %d < %d", ErrRegionSize, info.Size(), TotalSize)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, TotalSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}

	r := &Region{data: data, f: f, mapped: true}
	if err := r.validate(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// fromSlice wraps an in-memory buffer as a Region, for tests. The buffer
// must be at least TotalSize bytes and 8-byte aligned.
func fromSlice(data []byte) *Region {
	r := &Region{data: data}
	r.storeU32(offMagic, Magic)
	r.storeU32(offVersion, Version)
	return r
}

func (r *Region) validate() error {
	if got := r.loadU32(offMagic); got != Magic {
		return fmt.Errorf("%w: 0x%08X", ErrBadMagic, got)
	}
	if got := r.loadU32(offVersion); got != Version {
		return fmt.Errorf("%w: %d", ErrBadVersion, got)
	}
	return nil
}

// Close unmaps the region and closes the backing file. Counters and slot
// states persist in the file for a post-mortem peer.
func (r *Region) Close() error {
	var errs []error
	if r.mapped {
		if err := unix.Munmap(r.data); err != nil {
			errs = append(errs, err)
		}
		r.mapped = false
	}
	r.data = nil
	if r.f != nil {
		if err := r.f.Close(); err != nil {
			errs = append(errs, err)
		}
		r.f = nil
	}
	return errors.Join(errs...)
}

// MarkInitialized publishes that the consumer can accept frames; the
// producer's handshake polls for this flag.
func (r *Region) MarkInitialized() {
	r.storeU32(offInitialized, 1)
}

// Initialized reports whether the consumer side is ready.
func (r *Region) Initialized() bool {
	return r.loadU32(offInitialized) != 0
}

// SignalShutdown tells both sides to stop issuing new transfers. Slots
// already in flight are abandoned, not reclaimed.
func (r *Region) SignalShutdown() {
	r.storeU32(offShutdown, 1)
}

// ShuttingDown reports whether either side has signaled shutdown.
func (r *Region) ShuttingDown() bool {
	return r.loadU32(offShutdown) != 0
}

// Counters returns a snapshot of the frame accounting counters.
func (r *Region) Counters() Counters {
	return Counters{
		Written: r.loadU64(offFramesWritten),
		Encoded: r.loadU64(offFramesEncoded),
		Dropped: r.loadU64(offFramesDropped),
	}
}

// payload returns slot i's full pixel region.
func (r *Region) payload(i int) []byte {
	off := payloadOffset(i)
	return r.data[off : off+MaxFrameSize]
}

// Atomic accessors into the mapped region. Offsets are naturally aligned
// by construction of the layout; the mapping itself is page-aligned.

func (r *Region) u32ptr(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.data[off]))
}

func (r *Region) u64ptr(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.data[off]))
}

func (r *Region) loadU32(off int) uint32       { return atomic.LoadUint32(r.u32ptr(off)) }
func (r *Region) storeU32(off int, v uint32)   { atomic.StoreUint32(r.u32ptr(off), v) }
func (r *Region) loadU64(off int) uint64       { return atomic.LoadUint64(r.u64ptr(off)) }
func (r *Region) addU64(off int, delta uint64) { atomic.AddUint64(r.u64ptr(off), delta) }

func (r *Region) casU32(off int, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(r.u32ptr(off), old, new)
}

// Non-atomic field helpers for data owned exclusively by one side (config
// fields before configSet, slot metadata while WRITING/ENCODING).

func (r *Region) putU32(off int, v uint32) { binary.LittleEndian.PutUint32(r.data[off:], v) }
func (r *Region) getU32(off int) uint32    { return binary.LittleEndian.Uint32(r.data[off:]) }
func (r *Region) putU64(off int, v uint64) { binary.LittleEndian.PutUint64(r.data[off:], v) }
func (r *Region) getU64(off int) uint64    { return binary.LittleEndian.Uint64(r.data[off:]) }

func putFloat32(dst []byte, v float32) { binary.LittleEndian.PutUint32(dst, math.Float32bits(v)) }
func getFloat32(src []byte) float32    { return math.Float32frombits(binary.LittleEndian.Uint32(src)) }
