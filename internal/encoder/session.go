package encoder

import (
	"fmt"
	"log/slog"

	"github.com/nvail/framebridge/internal/media"
)

// SampleFunc receives reformat-ready encoded samples from the session.
// It runs on the backend's completion context.
type SampleFunc func(sample *media.EncodedSample)

// Surface is an imported external graphics image the session can map for
// CPU readback. Map returns the pixel data and its row stride; the data
// is only valid until Unmap.
type Surface interface {
	Dimensions() (width, height int)
	Map() (data []byte, stride int, err error)
	Unmap()
}

// Session owns one encoder backend for its lifetime. Presentation times
// increase monotonically by the configured frame duration; the target
// timestamp the network layer needs rides across the asynchronous encode
// in an attached submission context.
type Session struct {
	cfg      Config
	backend  Backend
	log      *slog.Logger
	onSample SampleFunc

	table   submissionTable
	nextPTS uint64
	staging []byte
}

// NewSession creates the encoder session. Creation failure is fatal to
// the whole run, unlike per-frame submission failures.
func NewSession(cfg Config, onSample SampleFunc, log *slog.Logger) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Session{
		cfg:      cfg,
		log:      log,
		onSample: onSample,
		staging:  make([]byte, cfg.Width*cfg.Height*4),
	}
	backend, err := newBackend(cfg, s.handleOutput)
	if err != nil {
		return nil, fmt.Errorf("encoder: create session: %w", err)
	}
	s.backend = backend

	log.Info("encoder session created",
		"backend", backend.Name(),
		"codec", cfg.Codec,
		"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"bitrate", cfg.Bitrate,
		"keyframe_interval", cfg.MaxKeyframeInterval,
	)
	return s, nil
}

// SubmitPixels submits one raw packed pixel buffer. A submission failure
// releases the attached context and is reported to the caller, who logs
// and drops the frame; the loop continues.
func (s *Session) SubmitPixels(buf *PixelBuffer, targetTsNs uint64, forceIDR bool) error {
	token := s.table.attach(targetTsNs, forceIDR)

	pts := s.nextPTS
	s.nextPTS += s.cfg.FrameDurationNs()

	if err := s.backend.Submit(buf, pts, s.cfg.FrameDurationNs(), forceIDR, token); err != nil {
		// The completion callback will never see this token.
		s.table.take(token)
		return fmt.Errorf("encoder: submit frame: %w", err)
	}
	return nil
}

// SubmitSurface stages a GPU-resident surface into the session's
// CPU-visible buffer, correcting for row-stride mismatch, and submits the
// result.
func (s *Session) SubmitSurface(surface Surface, targetTsNs uint64, forceIDR bool) error {
	buf, err := s.stage(surface)
	if err != nil {
		return fmt.Errorf("encoder: stage surface: %w", err)
	}
	return s.SubmitPixels(buf, targetTsNs, forceIDR)
}

// stage copies surface pixels into the reusable staging buffer as a
// tightly packed BGRA image. Rows are copied one at a time when the
// source stride differs from the packed destination stride.
func (s *Session) stage(surface Surface) (*PixelBuffer, error) {
	width, height := surface.Dimensions()
	if width > s.cfg.Width || height > s.cfg.Height {
		return nil, fmt.Errorf("surface %dx%d exceeds session %dx%d", width, height, s.cfg.Width, s.cfg.Height)
	}

	src, srcStride, err := surface.Map()
	if err != nil {
		return nil, err
	}
	defer surface.Unmap()

	packed := width * 4
	dst := s.staging[:packed*height]
	if srcStride == packed {
		copy(dst, src[:packed*height])
	} else {
		for y := 0; y < height; y++ {
			copy(dst[y*packed:(y+1)*packed], src[y*srcStride:y*srcStride+packed])
		}
	}

	return &PixelBuffer{
		Format: FormatBGRA,
		Width:  width,
		Height: height,
		Stride: packed,
		Data:   dst,
	}, nil
}

// handleOutput is the asynchronous completion path. The context is taken
// (released) exactly once whether or not the encode produced output; a
// failed or empty completion is otherwise a no-op. The target timestamp
// comes from the attached context, falling back to the encoder-reported
// presentation time if none was attached.
func (s *Session) handleOutput(token uint64, out *Output, err error) {
	sub, attached := s.table.take(token)

	if err != nil {
		s.log.Error("encode failed", "error", err)
		return
	}
	if out == nil || len(out.Data) == 0 {
		return
	}

	targetTs := out.PTSNs
	if attached {
		targetTs = sub.targetTsNs
	}

	s.onSample(&media.EncodedSample{
		Data:              out.Data,
		ParameterSets:     out.ParameterSets,
		IsKeyframe:        out.IsKeyframe,
		TargetTimestampNs: targetTs,
	})
}

// Close releases the backend. Submissions still in flight are abandoned,
// not waited for.
func (s *Session) Close() error {
	if n := s.table.outstanding(); n > 0 {
		s.log.Info("closing with submissions in flight", "count", n)
	}
	return s.backend.Close()
}
