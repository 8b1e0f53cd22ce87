package encoder

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/nvail/framebridge/internal/media"
)

// recordingBackend captures submissions and lets the test drive the
// completion callback by hand.
type recordingBackend struct {
	submitErr error
	tokens    []uint64
	pts       []uint64
	force     []bool
}

func (b *recordingBackend) Submit(buf *PixelBuffer, ptsNs, durationNs uint64, forceKeyframe bool, token uint64) error {
	if b.submitErr != nil {
		return b.submitErr
	}
	b.tokens = append(b.tokens, token)
	b.pts = append(b.pts, ptsNs)
	b.force = append(b.force, forceKeyframe)
	return nil
}

func (b *recordingBackend) Close() error { return nil }
func (b *recordingBackend) Name() string { return "recording" }

func newTestSession(t *testing.T, backend Backend, onSample SampleFunc) *Session {
	t.Helper()
	cfg := DefaultConfig(4, 2)
	if onSample == nil {
		onSample = func(*media.EncodedSample) {}
	}
	return &Session{
		cfg:      cfg,
		backend:  backend,
		log:      slog.Default(),
		onSample: onSample,
		staging:  make([]byte, cfg.Width*cfg.Height*4),
	}
}

func testBuffer() *PixelBuffer {
	return &PixelBuffer{Format: FormatBGRA, Width: 4, Height: 2, Stride: 16, Data: make([]byte, 32)}
}

func TestSubmitMonotonicPresentationTime(t *testing.T) {
	t.Parallel()
	backend := &recordingBackend{}
	s := newTestSession(t, backend, nil)

	for i := 0; i < 3; i++ {
		if err := s.SubmitPixels(testBuffer(), uint64(1000+i), false); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	dur := s.cfg.FrameDurationNs()
	for i, pts := range backend.pts {
		if want := uint64(i) * dur; pts != want {
			t.Errorf("pts[%d] = %d, want %d", i, pts, want)
		}
	}
}

func TestCompletionRecoversTargetTimestamp(t *testing.T) {
	t.Parallel()
	backend := &recordingBackend{}
	var got []*media.EncodedSample
	s := newTestSession(t, backend, func(sample *media.EncodedSample) {
		got = append(got, sample)
	})

	if err := s.SubmitPixels(testBuffer(), 777111, true); err != nil {
		t.Fatalf("submit: %v", err)
	}

	token := backend.tokens[0]
	s.handleOutput(token, &Output{Data: []byte{0, 0, 0, 1, 0x26}, IsKeyframe: true, PTSNs: 5}, nil)

	if len(got) != 1 {
		t.Fatalf("got %d samples, want 1", len(got))
	}
	if got[0].TargetTimestampNs != 777111 {
		t.Errorf("target ts = %d, want 777111 (from attached context)", got[0].TargetTimestampNs)
	}
	if s.table.outstanding() != 0 {
		t.Errorf("context not released after completion")
	}
}

func TestCompletionWithoutContextFallsBack(t *testing.T) {
	t.Parallel()
	var got []*media.EncodedSample
	s := newTestSession(t, &recordingBackend{}, func(sample *media.EncodedSample) {
		got = append(got, sample)
	})

	// No submission attached this token: the encoder-reported timestamp
	// is the fallback.
	s.handleOutput(999, &Output{Data: []byte{1}, PTSNs: 4242}, nil)

	if len(got) != 1 || got[0].TargetTimestampNs != 4242 {
		t.Fatalf("samples = %+v, want PTS fallback 4242", got)
	}
}

func TestCompletionNoOpCases(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		out  *Output
		err  error
	}{
		{"encode error", nil, errors.New("hardware fault")},
		{"nil output", nil, nil},
		{"empty output", &Output{}, nil},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			backend := &recordingBackend{}
			samples := 0
			s := newTestSession(t, backend, func(*media.EncodedSample) { samples++ })

			if err := s.SubmitPixels(testBuffer(), 1, false); err != nil {
				t.Fatalf("submit: %v", err)
			}
			s.handleOutput(backend.tokens[0], tt.out, tt.err)

			if samples != 0 {
				t.Errorf("no-op completion produced %d samples", samples)
			}
			// The context is still released exactly once.
			if s.table.outstanding() != 0 {
				t.Errorf("context leaked on no-op completion")
			}
		})
	}
}

func TestSubmitFailureReleasesContext(t *testing.T) {
	t.Parallel()
	backend := &recordingBackend{submitErr: errors.New("queue full")}
	s := newTestSession(t, backend, nil)

	if err := s.SubmitPixels(testBuffer(), 1, false); err == nil {
		t.Fatal("expected submit error")
	}
	if s.table.outstanding() != 0 {
		t.Errorf("submission-failure path leaked the context")
	}
}

type sliceSurface struct {
	width, height, stride int
	data                  []byte
	mapped                bool
}

func (s *sliceSurface) Dimensions() (int, int) { return s.width, s.height }
func (s *sliceSurface) Map() ([]byte, int, error) {
	s.mapped = true
	return s.data, s.stride, nil
}
func (s *sliceSurface) Unmap() { s.mapped = false }

func TestStageSurfaceStrideMismatch(t *testing.T) {
	t.Parallel()
	backend := &recordingBackend{}
	s := newTestSession(t, backend, nil)

	// 20-byte source rows, 16 bytes of pixels each.
	const srcStride = 20
	surface := &sliceSurface{width: 4, height: 2, stride: srcStride, data: make([]byte, srcStride*2)}
	for y := 0; y < 2; y++ {
		for x := 0; x < srcStride; x++ {
			v := byte(y*16 + x)
			if x >= 16 {
				v = 0xEE
			}
			surface.data[y*srcStride+x] = v
		}
	}

	buf, err := s.stage(surface)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if buf.Stride != 16 {
		t.Fatalf("staged stride = %d, want packed 16", buf.Stride)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 16; x++ {
			if got, want := buf.Data[y*16+x], byte(y*16+x); got != want {
				t.Fatalf("staged byte (%d,%d) = 0x%02X, want 0x%02X", x, y, got, want)
			}
		}
	}
	if surface.mapped {
		t.Error("surface left mapped after staging")
	}
}

func TestStageSurfaceTooLarge(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, &recordingBackend{}, nil)
	surface := &sliceSurface{width: 8, height: 8, stride: 32, data: make([]byte, 256)}
	if _, err := s.stage(surface); err == nil {
		t.Fatal("expected error for surface exceeding session dimensions")
	}
}

func TestNewSessionRejectsBadConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero dimensions", Config{FPS: 90, Bitrate: 1}},
		{"zero fps", Config{Width: 4, Height: 2, Bitrate: 1}},
		{"zero bitrate", Config{Width: 4, Height: 2, FPS: 90}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewSession(tt.cfg, nil, nil); err == nil {
				t.Fatal("expected config error")
			}
		})
	}
}
