package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFrameBytesLittleEndian(t *testing.T) {
	f := Frame{SampleRate: TargetSampleRate, Samples: []int16{1, -2, 0x1234}}
	got := f.Bytes()
	want := []byte{0x01, 0x00, 0xFE, 0xFF, 0x34, 0x12}
	if string(got) != string(want) {
		t.Errorf("Bytes() = %x, want %x", got, want)
	}
}

func TestFrameCloneIsIndependent(t *testing.T) {
	f := Frame{Seq: 3, Samples: []int16{1, 2, 3}}
	c := f.Clone()
	c.Samples[0] = 99
	if f.Samples[0] != 1 {
		t.Error("mutating the clone changed the original")
	}
	if c.Seq != 3 {
		t.Errorf("clone seq = %d, want 3", c.Seq)
	}
}

func TestFrameDuration(t *testing.T) {
	f := Frame{SampleRate: TargetSampleRate, Samples: make([]int16, DefaultFrameSamples)}
	if d := f.Duration(); d != 100*time.Millisecond {
		t.Errorf("duration = %v, want 100ms", d)
	}
}

func TestDownsamplerRejectsUpsampling(t *testing.T) {
	_, err := NewDownsampler(8000, TargetSampleRate)
	if !errors.Is(err, ErrGraphInit) {
		t.Fatalf("err = %v, want ErrGraphInit", err)
	}
}

func TestDownsamplerAveragesWindows(t *testing.T) {
	ds, err := NewDownsampler(48000, 16000)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out := ds.Process([]float32{0.5, 0.5, 0.5, -0.5, -0.5, -0.5, 1})
	if len(out) != 2 {
		t.Fatalf("got %d samples, want 2", len(out))
	}
	if out[0] != toPCM16(0.5) {
		t.Errorf("out[0] = %d", out[0])
	}
	if out[1] != toPCM16(-0.5) {
		t.Errorf("out[1] = %d", out[1])
	}

	// The leftover sample completes a window with the next chunk.
	out = ds.Process([]float32{1, 1})
	if len(out) != 1 || out[0] != 0x7FFF {
		t.Errorf("carry-over output = %v, want [32767]", out)
	}
}

func TestDownsamplerChunkingIsStable(t *testing.T) {
	in := make([]float32, 48000)
	for i := range in {
		in[i] = float32(i%100) / 100
	}

	whole, _ := NewDownsampler(48000, 16000)
	want := whole.Process(in)

	chunked, _ := NewDownsampler(48000, 16000)
	var got []int16
	for i := 0; i < len(in); i += 997 {
		end := min(i+997, len(in))
		got = append(got, chunked.Process(in[i:end])...)
	}

	if len(got) != len(want) || len(want) != 16000 {
		t.Fatalf("chunked produced %d samples, whole produced %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d differs: %d vs %d", i, got[i], want[i])
		}
	}
}

func TestDownsamplerFractionalRatio(t *testing.T) {
	ds, _ := NewDownsampler(44100, 16000)
	var n int
	chunk := make([]float32, 441)
	for i := 0; i < 100; i++ {
		n += len(ds.Process(chunk))
	}
	if n < 15995 || n > 16000 {
		t.Errorf("one second at 44.1 kHz gave %d samples", n)
	}
}

func TestDownsamplerPassthroughClamps(t *testing.T) {
	ds, _ := NewDownsampler(16000, 16000)
	out := ds.Process([]float32{2, -2, 0})
	want := []int16{0x7FFF, -0x8000, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestFramerFixedSizeAndSequence(t *testing.T) {
	fr := NewFramer(TargetSampleRate, 4)
	frames := fr.Write([]int16{1, 2, 3})
	if len(frames) != 0 {
		t.Fatalf("got %d frames from 3 samples", len(frames))
	}
	frames = fr.Write([]int16{4, 5, 6, 7, 8, 9})
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Seq != 0 || frames[1].Seq != 1 {
		t.Errorf("seqs = %d,%d want 0,1", frames[0].Seq, frames[1].Seq)
	}
	if frames[1].Samples[0] != 5 || len(frames[1].Samples) != 4 {
		t.Errorf("frame 1 = %v", frames[1].Samples)
	}

	last, ok := fr.Flush()
	if !ok || len(last.Samples) != 1 || last.Samples[0] != 9 || last.Seq != 2 {
		t.Errorf("flush = %+v ok=%v", last, ok)
	}
	if _, ok := fr.Flush(); ok {
		t.Error("second flush should be empty")
	}
}

// fakeDevice produces a constant signal at a configurable native rate until
// closed.
type fakeDevice struct {
	rate    int
	openErr error
	// failAfter makes the stream's Read fail once it has succeeded that many
	// times. Zero never fails.
	failAfter int

	mu     sync.Mutex
	opened int
	last   *fakeStream
}

func (d *fakeDevice) Open(opts DeviceOptions) (Stream, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened++
	d.last = &fakeStream{rate: d.rate, failAfter: d.failAfter, closed: make(chan struct{})}
	return d.last, nil
}

type fakeStream struct {
	rate      int
	failAfter int
	closed    chan struct{}
	closeOnce sync.Once

	reads       atomic.Int32
	inRead      atomic.Bool
	closeInRead atomic.Bool
}

func (s *fakeStream) SampleRate() int { return s.rate }

func (s *fakeStream) Read(buf []float32) (int, error) {
	s.inRead.Store(true)
	defer s.inRead.Store(false)
	if n := s.reads.Add(1); s.failAfter > 0 && int(n) > s.failAfter {
		return 0, errors.New("device unplugged")
	}
	select {
	case <-s.closed:
		return 0, errors.New("stream closed")
	case <-time.After(2 * time.Millisecond):
	}
	for i := range buf {
		buf[i] = 0.25
	}
	return len(buf), nil
}

func (s *fakeStream) Close() error {
	if s.inRead.Load() {
		s.closeInRead.Store(true)
	}
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func TestProducerDeliversOrderedFrames(t *testing.T) {
	dev := &fakeDevice{rate: 48000}
	p := NewProducer(dev, Options{FrameSamples: 160})

	frames := make(chan Frame, 64)
	err := p.Start(context.Background(), func(f Frame) {
		select {
		case frames <- f:
		default:
		}
	}, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	for want := uint64(0); want < 5; want++ {
		select {
		case f := <-frames:
			if f.Seq != want {
				t.Fatalf("seq = %d, want %d", f.Seq, want)
			}
			if f.SampleRate != TargetSampleRate || len(f.Samples) != 160 {
				t.Fatalf("frame = rate %d len %d", f.SampleRate, len(f.Samples))
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for frames")
		}
	}
}

func TestProducerStopIdempotent(t *testing.T) {
	p := NewProducer(&fakeDevice{rate: 16000}, Options{})
	p.Stop() // never started

	if err := p.Start(context.Background(), func(Frame) {}, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !p.Active() {
		t.Error("producer should be active")
	}
	p.Stop()
	p.Stop()
	if p.Active() {
		t.Error("producer should be inactive after stop")
	}
}

func TestProducerExclusiveDevice(t *testing.T) {
	a := NewProducer(&fakeDevice{rate: 16000}, Options{})
	b := NewProducer(&fakeDevice{rate: 16000}, Options{})

	if err := a.Start(context.Background(), func(Frame) {}, nil); err != nil {
		t.Fatalf("start a: %v", err)
	}
	if err := b.Start(context.Background(), func(Frame) {}, nil); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("start b err = %v, want ErrDeviceBusy", err)
	}
	a.Stop()

	if err := b.Start(context.Background(), func(Frame) {}, nil); err != nil {
		t.Fatalf("start b after release: %v", err)
	}
	b.Stop()
}

func TestProducerOpenErrors(t *testing.T) {
	tests := []struct {
		name    string
		openErr error
		want    error
	}{
		{name: "permission", openErr: ErrPermissionDenied, want: ErrPermissionDenied},
		{name: "no device", openErr: ErrDeviceUnavailable, want: ErrDeviceUnavailable},
		{name: "other", openErr: errors.New("driver exploded"), want: ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProducer(&fakeDevice{openErr: tt.openErr}, Options{})
			err := p.Start(context.Background(), func(Frame) {}, nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if p.Active() {
				t.Error("failed start left producer active")
			}
		})
	}
}

func TestProducerGraphInitError(t *testing.T) {
	dev := &fakeDevice{rate: 8000}
	p := NewProducer(dev, Options{})
	err := p.Start(context.Background(), func(Frame) {}, nil)
	if !errors.Is(err, ErrGraphInit) {
		t.Fatalf("err = %v, want ErrGraphInit", err)
	}
	// The device must be released after a failed graph init.
	other := NewProducer(&fakeDevice{rate: 16000}, Options{})
	if err := other.Start(context.Background(), func(Frame) {}, nil); err != nil {
		t.Fatalf("device not released: %v", err)
	}
	other.Stop()
}

func TestProducerStopWaitsForReadBeforeClose(t *testing.T) {
	dev := &fakeDevice{rate: 16000}
	for i := 0; i < 20; i++ {
		p := NewProducer(dev, Options{})
		if err := p.Start(context.Background(), func(Frame) {}, nil); err != nil {
			t.Fatalf("start: %v", err)
		}
		time.Sleep(time.Duration(i%4) * time.Millisecond)
		p.Stop()

		dev.mu.Lock()
		s := dev.last
		dev.mu.Unlock()
		if s.closeInRead.Load() {
			t.Fatalf("iteration %d: stream closed while a read was in flight", i)
		}
		select {
		case <-s.closed:
		default:
			t.Fatalf("iteration %d: stream not closed by Stop", i)
		}
	}
}

func TestProducerReadFailureReleasesDeviceAndReports(t *testing.T) {
	dev := &fakeDevice{rate: 16000, failAfter: 3}
	p := NewProducer(dev, Options{FrameSamples: 160})

	var frames atomic.Int32
	failed := make(chan error, 1)
	err := p.Start(context.Background(), func(Frame) { frames.Add(1) }, func(err error) {
		failed <- err
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case err := <-failed:
		if !errors.Is(err, ErrStreamFailed) {
			t.Fatalf("fail err = %v, want ErrStreamFailed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read failure was not reported")
	}
	if p.Active() {
		t.Error("producer still active after stream failure")
	}
	select {
	case <-dev.last.closed:
	default:
		t.Error("failed stream was not closed")
	}

	// The device is free for the next recording, and a late Stop is harmless.
	p.Stop()
	other := NewProducer(&fakeDevice{rate: 16000}, Options{})
	if err := other.Start(context.Background(), func(Frame) {}, nil); err != nil {
		t.Fatalf("device not released after failure: %v", err)
	}
	other.Stop()
}

func TestProducerStopSuppressesFailure(t *testing.T) {
	dev := &fakeDevice{rate: 16000}
	p := NewProducer(dev, Options{})

	var calls atomic.Int32
	if err := p.Start(context.Background(), func(Frame) {}, func(error) { calls.Add(1) }); err != nil {
		t.Fatalf("start: %v", err)
	}
	p.Stop()
	time.Sleep(10 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("fail called %d times after a deliberate stop", n)
	}
}
