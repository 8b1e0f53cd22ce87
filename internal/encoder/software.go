package encoder

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrBackendBusy is returned by Submit when the backend's job queue is
// full. The caller drops that frame and continues.
var ErrBackendBusy = errors.New("encoder: backend queue full")

// Fixed HEVC-shaped parameter sets emitted by the software backend, in
// ascending format-description index order (VPS, SPS, PPS). The payloads
// are synthetic; real parameter sets come from a hardware session's
// format description.
var softwareParameterSets = [][]byte{
	{0x40, 0x01, 0x0C, 0x01, 0xFF, 0xFF, 0x01, 0x60, 0x00, 0x00},
	{0x42, 0x01, 0x01, 0x01, 0x60, 0x00, 0x00, 0x03},
	{0x44, 0x01, 0xC1, 0x72},
}

type softwareJob struct {
	pixels   []byte
	width    int
	height   int
	stride   int
	ptsNs    uint64
	forceIDR bool
	token    uint64
}

// softwareBackend is the portable fallback used when no hardware factory
// is registered. It converts frames to I420 and emits a deterministic
// length-prefixed pseudo-bitstream on a worker goroutine, preserving the
// asynchronous completion contract of a real hardware session. Output is
// not decodable video; it exists so the transport, scheduling, and
// reformatting stages run end to end on machines without an encoder.
type softwareBackend struct {
	cfg  Config
	emit OutputFunc

	jobs chan softwareJob
	done chan struct{}
}

func newSoftwareBackend(cfg Config, emit OutputFunc) (Backend, error) {
	b := &softwareBackend{
		cfg:  cfg,
		emit: emit,
		jobs: make(chan softwareJob, 4),
		done: make(chan struct{}),
	}
	go b.run()
	return b, nil
}

func (b *softwareBackend) Name() string { return "software" }

func (b *softwareBackend) Submit(buf *PixelBuffer, ptsNs, durationNs uint64, forceKeyframe bool, token uint64) error {
	if buf.Format != FormatBGRA {
		return fmt.Errorf("software backend: unsupported pixel format %d", buf.Format)
	}
	size := buf.Height * buf.Stride
	if len(buf.Data) < size {
		return fmt.Errorf("software backend: payload %d bytes, need %d", len(buf.Data), size)
	}

	// The caller may recycle buf.Data immediately; the job owns a copy.
	pixels := make([]byte, size)
	copy(pixels, buf.Data[:size])

	job := softwareJob{
		pixels:   pixels,
		width:    buf.Width,
		height:   buf.Height,
		stride:   buf.Stride,
		ptsNs:    ptsNs,
		forceIDR: forceKeyframe,
		token:    token,
	}
	select {
	case b.jobs <- job:
		return nil
	default:
		return ErrBackendBusy
	}
}

// Close stops the worker after flushing queued jobs, so frames already
// submitted still complete.
func (b *softwareBackend) Close() error {
	close(b.jobs)
	<-b.done
	return nil
}

func (b *softwareBackend) run() {
	defer close(b.done)

	var (
		frames        uint64
		sinceKeyframe int
		y, u, v       []byte
	)
	for job := range b.jobs {
		ySize := job.width * job.height
		if cap(y) < ySize {
			y = make([]byte, ySize)
			u = make([]byte, ySize/4)
			v = make([]byte, ySize/4)
		}
		y, u, v = y[:ySize], u[:ySize/4], v[:ySize/4]
		BGRAToI420(job.pixels, job.width, job.height, job.stride, y, u, v)

		keyframe := job.forceIDR || frames == 0
		if b.cfg.MaxKeyframeInterval > 0 && sinceKeyframe >= b.cfg.MaxKeyframeInterval {
			keyframe = true
		}
		if keyframe {
			sinceKeyframe = 0
		}
		sinceKeyframe++
		frames++

		out := &Output{
			Data:       encodeNAL(frames, keyframe, y),
			IsKeyframe: keyframe,
			PTSNs:      job.ptsNs,
		}
		if keyframe {
			out.ParameterSets = softwareParameterSets
		}
		b.emit(job.token, out, nil)
	}
}

// encodeNAL wraps the luma plane in a single length-prefixed pseudo NAL
// unit: a 2-byte HEVC-style header, the frame number, then the plane.
func encodeNAL(frameNumber uint64, keyframe bool, luma []byte) []byte {
	nalType := byte(0x02) // TRAIL_R
	if keyframe {
		nalType = 0x26 // IDR_W_RADL
	}
	payloadLen := 2 + 8 + len(luma)
	out := make([]byte, 4+payloadLen)
	binary.BigEndian.PutUint32(out, uint32(payloadLen))
	out[4] = nalType
	out[5] = 0x01
	binary.BigEndian.PutUint64(out[6:], frameNumber)
	copy(out[14:], luma)
	return out
}
