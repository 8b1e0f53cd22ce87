// Package encoder drives one hardware video-encoder session: pixel-buffer
// submission with monotonic presentation times, asynchronous completion
// delivery, and per-submission context tracking that survives the
// encoder's unordered callback boundary.
package encoder

import (
	"fmt"
	"time"

	"github.com/nvail/framebridge/internal/media"
)

// PixelFormat tags the layout of an uncompressed pixel buffer.
type PixelFormat uint32

// FormatBGRA is the producer's native swapchain format
// (DXGI_FORMAT_B8G8R8A8_UNORM).
const FormatBGRA PixelFormat = 87

// PixelBuffer is one uncompressed frame tagged with explicit geometry,
// ready for encoder submission.
type PixelBuffer struct {
	Format PixelFormat
	Width  int
	Height int
	Stride int
	Data   []byte
}

// Config fixes the encoder session parameters at creation time. The
// session is tuned for VR streaming: real-time rate control and no frame
// reordering, so bitstream NAL order equals submission order.
type Config struct {
	Codec  media.Codec
	Width  int
	Height int

	// Bitrate is the target average bitrate in bits per second.
	Bitrate int

	// FPS sets the nominal frame duration for presentation timestamps.
	FPS int

	// MaxKeyframeInterval is the floor keyframe cadence in frames; the
	// scheduler may force earlier keyframes on top of it.
	MaxKeyframeInterval int

	RealTime             bool
	AllowFrameReordering bool
}

// DefaultConfig returns the baseline VR streaming configuration: HEVC,
// 10 Mbps, 90 fps, a keyframe at least every 180 frames (2 seconds).
func DefaultConfig(width, height int) Config {
	return Config{
		Codec:               media.CodecH265,
		Width:               width,
		Height:              height,
		Bitrate:             10_000_000,
		FPS:                 90,
		MaxKeyframeInterval: 180,
		RealTime:            true,
	}
}

// FrameDurationNs returns the fixed nominal duration of one frame.
func (c Config) FrameDurationNs() uint64 {
	return uint64(time.Second.Nanoseconds() / int64(c.FPS))
}

func (c Config) validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("encoder: invalid dimensions %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("encoder: invalid fps %d", c.FPS)
	}
	if c.Bitrate <= 0 {
		return fmt.Errorf("encoder: invalid bitrate %d", c.Bitrate)
	}
	return nil
}
