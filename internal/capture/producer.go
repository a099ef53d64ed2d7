package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Sink receives frames in production order on the producer's goroutine.
type Sink func(Frame)

// FailFunc is told when the stream fails after Start succeeded. The producer
// has already released the device by then.
type FailFunc func(error)

// The OS grants one microphone handle per process; micOwner tracks the
// producer holding it.
var micMu sync.Mutex
var micOwner *Producer

type Options struct {
	Device       DeviceOptions
	FrameSamples int
	Logger       *slog.Logger
	// OnFrame observes every produced frame; used for metrics.
	OnFrame func(Frame)
}

// Producer owns the microphone while capture is active.
type Producer struct {
	dev  Device
	opts Options
	log  *slog.Logger

	mu     sync.Mutex
	stream Stream
	cancel context.CancelFunc
	done   chan struct{}
}

func NewProducer(dev Device, opts Options) *Producer {
	if opts.Device.Channels == 0 {
		opts.Device.Channels = 1
	}
	if opts.Device.FramesPerBuffer == 0 {
		opts.Device.FramesPerBuffer = 1024
	}
	if opts.FrameSamples == 0 {
		opts.FrameSamples = DefaultFrameSamples
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Producer{dev: dev, opts: opts, log: log}
}

// Start opens the device and begins delivering frames to sink. It blocks
// while the device is acquired (permission prompt, driver start). fail may be
// nil.
func (p *Producer) Start(ctx context.Context, sink Sink, fail FailFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return fmt.Errorf("capture already active")
	}
	if err := acquire(p); err != nil {
		return err
	}

	stream, err := p.dev.Open(p.opts.Device)
	if err != nil {
		release(p)
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) || errors.Is(err, ErrGraphInit) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	ds, err := NewDownsampler(stream.SampleRate(), TargetSampleRate)
	if err != nil {
		stream.Close()
		release(p)
		return err
	}
	if err := ctx.Err(); err != nil {
		stream.Close()
		release(p)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.stream = stream
	p.cancel = cancel
	p.done = make(chan struct{})

	p.log.Info("capture started",
		slog.Int("native_rate", stream.SampleRate()),
		slog.Int("frame_samples", p.opts.FrameSamples),
		slog.Bool("noise_suppression", p.opts.Device.NoiseSuppression),
		slog.Bool("echo_cancellation", p.opts.Device.EchoCancellation),
		slog.Bool("auto_gain", p.opts.Device.AutoGain),
	)

	go p.run(runCtx, stream, ds, NewFramer(TargetSampleRate, p.opts.FrameSamples), sink, fail, p.done)
	return nil
}

func (p *Producer) run(ctx context.Context, stream Stream, ds *Downsampler, fr *Framer, sink Sink, fail FailFunc, done chan struct{}) {
	buf := make([]float32, p.opts.Device.FramesPerBuffer)
	for {
		n, err := stream.Read(buf)
		if ctx.Err() != nil {
			close(done)
			return
		}
		if err != nil {
			close(done)
			p.failed(stream, fmt.Errorf("%w: %v", ErrStreamFailed, err), fail)
			return
		}
		for _, f := range fr.Write(ds.Process(buf[:n])) {
			if p.opts.OnFrame != nil {
				p.opts.OnFrame(f)
			}
			sink(f)
		}
	}
}

// failed runs on the read goroutine after done is closed. A concurrent Stop
// may already have cleared the stream, in which case fail is not called.
func (p *Producer) failed(stream Stream, err error, fail FailFunc) {
	p.mu.Lock()
	if p.stream != stream {
		p.mu.Unlock()
		return
	}
	p.cancel()
	if cerr := stream.Close(); cerr != nil {
		p.log.Warn("capture close failed", slog.Any("error", cerr))
	}
	p.stream = nil
	p.cancel = nil
	p.done = nil
	release(p)
	p.mu.Unlock()

	p.log.Error("capture stream failed", slog.Any("error", err))
	if fail != nil {
		fail(err)
	}
}

// Stop tears down the stream and releases the device. Idempotent, and safe
// when Start was never called. The stream is closed only after the read
// goroutine has exited.
func (p *Producer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return
	}
	p.cancel()
	<-p.done
	if err := p.stream.Close(); err != nil {
		p.log.Warn("capture close failed", slog.Any("error", err))
	}
	p.stream = nil
	p.cancel = nil
	p.done = nil
	release(p)
	p.log.Info("capture stopped")
}

// Active reports whether the producer holds the device.
func (p *Producer) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil
}

func acquire(p *Producer) error {
	micMu.Lock()
	defer micMu.Unlock()
	if micOwner != nil && micOwner != p {
		return ErrDeviceBusy
	}
	micOwner = p
	return nil
}

func release(p *Producer) {
	micMu.Lock()
	defer micMu.Unlock()
	if micOwner == p {
		micOwner = nil
	}
}
