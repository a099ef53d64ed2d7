package capture

// DeviceOptions describes the capture graph requested from a Device.
type DeviceOptions struct {
	// Name selects an input device; empty means the system default.
	Name             string
	Channels         int
	FramesPerBuffer  int
	NoiseSuppression bool
	EchoCancellation bool
	AutoGain         bool
}

// Device acquires an input stream. Implementations map refusal to
// ErrPermissionDenied and a missing device to ErrDeviceUnavailable.
type Device interface {
	Open(opts DeviceOptions) (Stream, error)
}

// Stream is an open input stream delivering mono float samples in [-1, 1].
type Stream interface {
	SampleRate() int
	// Read blocks until buf is filled or the stream fails.
	Read(buf []float32) (int, error)
	Close() error
}
