package capture

import "errors"

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("no audio input device available")
	ErrGraphInit         = errors.New("audio processing graph failed to initialize")
	ErrDeviceBusy        = errors.New("microphone is held by another producer")
	// ErrStreamFailed wraps a read error that ended an active capture.
	ErrStreamFailed = errors.New("audio stream failed")
)
