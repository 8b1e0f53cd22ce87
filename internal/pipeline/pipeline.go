// Package pipeline orchestrates the frame flow for a single producer:
// frames arrive over the socket session or the shared-memory ring, get a
// pose-history timestamp match and a keyframe decision, go through the
// encoder session, and leave as Annex B bitstream handed to the outbound
// sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/nvail/framebridge/internal/bitstream"
	"github.com/nvail/framebridge/internal/encoder"
	"github.com/nvail/framebridge/internal/idr"
	"github.com/nvail/framebridge/internal/ingest"
	"github.com/nvail/framebridge/internal/media"
	"github.com/nvail/framebridge/internal/metrics"
	"github.com/nvail/framebridge/internal/shm"
)

// ringIdlePoll bounds the acquire retry latency when the ring is empty.
const ringIdlePoll = time.Millisecond

// statsInterval is the frame cadence of the periodic counters log line.
const statsInterval = 90

// Sink receives finished Annex B samples. Send runs on the encoder's
// completion context and must not block for long.
type Sink interface {
	Send(codec media.Codec, data []byte, targetTimestampNs uint64, isKeyframe bool) error
}

// PoseMatcher maps a submitted frame's head pose back to the tracking
// timestamp it was rendered for. A miss means no history entry matched;
// the pipeline then falls back to the frame's own timestamp.
type PoseMatcher interface {
	Match(pose media.Pose) (timestampNs uint64, ok bool)
}

// Pipeline owns the encoder session and the keyframe scheduler for one
// stream. Frame submission is single-threaded; scheduler triggers may
// arrive concurrently from network threads via Scheduler().
type Pipeline struct {
	log   *slog.Logger
	cfg   encoder.Config
	sink  Sink
	poses PoseMatcher
	met   *metrics.Metrics

	sched *idr.Scheduler
	sess  *encoder.Session

	framesIn atomic.Uint64
}

// New creates a pipeline and its encoder session. matcher may be nil when
// no pose history is available. Session creation failure is fatal.
func New(cfg encoder.Config, sink Sink, matcher PoseMatcher, met *metrics.Metrics, log *slog.Logger) (*Pipeline, error) {
	if log == nil {
		log = slog.Default()
	}
	if met == nil {
		met = metrics.New()
	}

	p := &Pipeline{
		log:   log.With("component", "pipeline"),
		cfg:   cfg,
		sink:  sink,
		poses: matcher,
		met:   met,
		sched: &idr.Scheduler{},
	}

	sess, err := encoder.NewSession(cfg, p.handleSample, log)
	if err != nil {
		return nil, err
	}
	p.sess = sess
	return p, nil
}

// Scheduler exposes the keyframe scheduler so network-facing code can
// report packet loss and request keyframes.
func (p *Pipeline) Scheduler() *idr.Scheduler {
	return p.sched
}

// RunSocket pumps frames from an accepted socket session until the
// context is cancelled or the client disconnects. A disconnect is a clean
// end of stream, not an error.
func (p *Pipeline) RunSocket(ctx context.Context, sess *ingest.Session) error {
	p.sched.OnStreamStart()

	for {
		frame, err := sess.ReadLatestFrame(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				p.log.Info("client disconnected")
				return nil
			default:
				return fmt.Errorf("pipeline: read frame: %w", err)
			}
		}
		p.submit(frame)
	}
}

// RunRing pumps frames from the shared-memory ring until the context is
// cancelled or the producer raises the shutdown flag. Slots are recycled
// as soon as the encoder has copied the pixels out.
func (p *Pipeline) RunRing(ctx context.Context, region *shm.Region) error {
	cons := shm.NewConsumer(region)
	p.sched.OnStreamStart()

	ticker := time.NewTicker(ringIdlePoll)
	defer ticker.Stop()

	for {
		if slot, ok := cons.TryAcquire(); ok {
			p.submit(&slot.Frame)
			cons.Release(slot)
			continue
		}

		if region.ShuttingDown() {
			p.log.Info("producer signalled shutdown")
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// submit runs one frame through pose matching, the keyframe decision, and
// encoder submission. Submission failures drop the frame and keep the
// stream running.
func (p *Pipeline) submit(frame *media.RawFrame) {
	n := p.framesIn.Add(1)
	p.met.FramesReceived.Add(1)

	targetTs := frame.TimestampNs
	if p.poses != nil {
		if ts, ok := p.poses.Match(frame.Pose); ok {
			targetTs = ts
		} else {
			p.met.PoseMisses.Add(1)
		}
	}

	if frame.ForceIDR {
		p.sched.InsertIDR()
	}
	force := p.sched.CheckIDRInsertion()
	if force {
		p.met.KeyframesForced.Add(1)
	}

	buf := &encoder.PixelBuffer{
		Format: encoder.FormatBGRA,
		Width:  int(frame.Width),
		Height: int(frame.Height),
		Stride: int(frame.Stride),
		Data:   frame.Data,
	}

	if err := p.sess.SubmitPixels(buf, targetTs, force); err != nil {
		p.met.FramesDropped.Add(1)
		p.log.Warn("frame dropped", "frame", frame.FrameNumber, "error", err)
		return
	}

	if n%statsInterval == 0 {
		p.log.Debug("pipeline stats",
			"received", n,
			"encoded", p.met.FramesEncoded.Load(),
			"dropped", p.met.FramesDropped.Load(),
			"keyframes_forced", p.met.KeyframesForced.Load(),
		)
	}
}

// handleSample is the encoder completion path: reformat to Annex B and
// hand off to the sink. A truncated sample is dropped without stopping
// the stream.
func (p *Pipeline) handleSample(sample *media.EncodedSample) {
	data, err := bitstream.ToAnnexB(sample)
	if err != nil {
		p.met.SamplesDropped.Add(1)
		p.log.Warn("sample dropped during bitstream conversion", "error", err)
		return
	}

	if err := p.sink.Send(p.cfg.Codec, data, sample.TargetTimestampNs, sample.IsKeyframe); err != nil {
		p.log.Warn("sink rejected sample", "error", err)
		return
	}
	p.met.FramesEncoded.Add(1)
	p.met.BytesOut.Add(uint64(len(data)))
}

// Close shuts the encoder session down, flushing frames already
// submitted.
func (p *Pipeline) Close() error {
	return p.sess.Close()
}
