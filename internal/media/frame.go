// Package media defines the core frame types that flow through the
// framebridge pipeline, from transport ingest through hardware encode
// to bitstream handoff.
package media

// Codec identifies the video codec of an encoded bitstream.
type Codec string

// Supported output codecs.
const (
	CodecH264 Codec = "h264"
	CodecH265 Codec = "h265"
)

// Pose is a 3x4 row-major transform matrix attached to every rendered
// frame, used by the pose-history collaborator to recover the target
// timestamp the frame was rendered for.
type Pose [3][4]float32

// RawFrame is one uncompressed frame handed to the encode pipeline. The
// pixel payload is tightly packed BGRA unless Stride says otherwise; the
// Data slice is only valid until the frame's owner recycles it, so
// consumers must not retain it past submission.
type RawFrame struct {
	ImageIndex     uint32
	FrameNumber    uint64
	SemaphoreValue uint64
	TimestampNs    uint64
	Pose           Pose
	Width          uint32
	Height         uint32
	Stride         uint32
	ForceIDR       bool
	Data           []byte
}

// EncodedSample is the hardware encoder's output for a single frame:
// length-prefixed NAL units plus the parameter sets the session's format
// description carries out-of-band. ParameterSets are ordered by their
// format-description index (VPS, SPS, PPS for HEVC).
type EncodedSample struct {
	Data              []byte
	ParameterSets     [][]byte
	IsKeyframe        bool
	TargetTimestampNs uint64
}
