package encoder

// Output is one encoded sample leaving a backend: length-prefixed NAL
// units plus the parameter sets from the session's format description,
// ordered by index.
type Output struct {
	Data          []byte
	ParameterSets [][]byte
	IsKeyframe    bool
	PTSNs         uint64
}

// OutputFunc receives completed encodes. It runs asynchronously and
// concurrently with further submissions; completion order relative to
// submission order is not guaranteed, so callers correlate through the
// token, never through delivery order. A nil out with a nil error means
// the encoder produced nothing for that submission.
type OutputFunc func(token uint64, out *Output, err error)

// Backend is one encoder implementation behind a Session. Submit must not
// retain buf.Data past its return.
type Backend interface {
	Submit(buf *PixelBuffer, ptsNs, durationNs uint64, forceKeyframe bool, token uint64) error
	Close() error
	Name() string
}

// Factory builds a Backend for the given session configuration.
type Factory func(cfg Config, emit OutputFunc) (Backend, error)

// hardwareFactory is registered by a platform-specific backend's init.
// When none is registered the portable software backend is used.
var hardwareFactory Factory

func registerHardwareFactory(f Factory) {
	hardwareFactory = f
}

// newBackend selects the hardware backend when present. A hardware
// session-creation failure is fatal to the run, not silently downgraded.
func newBackend(cfg Config, emit OutputFunc) (Backend, error) {
	if hardwareFactory != nil {
		return hardwareFactory(cfg, emit)
	}
	return newSoftwareBackend(cfg, emit)
}
