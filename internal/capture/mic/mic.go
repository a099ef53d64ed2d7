// Package mic implements capture.Device on top of PortAudio.
//
// PortAudio exposes no noise suppression, echo cancellation or gain control;
// those options are honoured by whatever processing the OS input path applies
// and are otherwise logged as unavailable.
package mic

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/seeyonai/summit-sub000/internal/capture"
)

// Device opens PortAudio input streams.
type Device struct {
	Logger *slog.Logger
}

// InputDevice describes one capture-capable device.
type InputDevice struct {
	Name       string
	SampleRate float64
	Channels   int
	Default    bool
}

// InputDevices lists devices with at least one input channel.
func InputDevices() ([]InputDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrGraphInit, err)
	}
	defer portaudio.Terminate()

	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	var out []InputDevice
	for _, d := range devs {
		if d.MaxInputChannels < 1 {
			continue
		}
		out = append(out, InputDevice{
			Name:       d.Name,
			SampleRate: d.DefaultSampleRate,
			Channels:   d.MaxInputChannels,
			Default:    def != nil && d.Name == def.Name,
		})
	}
	return out, nil
}

// Open initializes PortAudio and starts a mono blocking input stream at the
// device's native rate.
func (d *Device) Open(opts capture.DeviceOptions) (capture.Stream, error) {
	log := d.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrGraphInit, err)
	}

	info, err := findInput(opts.Name)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = 1
	params.SampleRate = info.DefaultSampleRate
	params.FramesPerBuffer = opts.FramesPerBuffer

	buf := make([]float32, opts.FramesPerBuffer)
	pa, err := portaudio.OpenStream(params, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, classify(err)
	}
	if err := pa.Start(); err != nil {
		pa.Close()
		portaudio.Terminate()
		return nil, classify(err)
	}

	if opts.NoiseSuppression || opts.EchoCancellation || opts.AutoGain {
		log.Debug("input processing left to the OS audio path",
			slog.String("device", info.Name))
	}

	return &stream{s: pa, buf: buf, rate: int(info.DefaultSampleRate)}, nil
}

func findInput(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		info, err := portaudio.DefaultInputDevice()
		if err != nil || info == nil {
			return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
		}
		return info, nil
	}
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}
	for _, d := range devs {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: no input device named %q", capture.ErrDeviceUnavailable, name)
}

// classify maps PortAudio open failures onto the capture error taxonomy.
func classify(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "permission") {
		return fmt.Errorf("%w: %v", capture.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
}

type stream struct {
	s    *portaudio.Stream
	buf  []float32
	rate int

	mu     sync.Mutex
	closed bool
}

func (s *stream) SampleRate() int { return s.rate }

func (s *stream) Read(dst []float32) (int, error) {
	if err := s.s.Read(); err != nil && err != portaudio.InputOverflowed {
		return 0, err
	}
	return copy(dst, s.buf), nil
}

// Close stops the stream and releases PortAudio.
func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.s.Abort()
	if cerr := s.s.Close(); err == nil {
		err = cerr
	}
	portaudio.Terminate()
	return err
}
