package capture

import "time"

// Framer cuts a continuous sample stream into fixed-size Frames numbered from
// zero.
type Framer struct {
	rate int
	size int
	buf  []int16
	seq  uint64
	now  func() time.Time
}

func NewFramer(rate, size int) *Framer {
	if size <= 0 {
		size = DefaultFrameSamples
	}
	return &Framer{rate: rate, size: size, buf: make([]int16, 0, size), now: time.Now}
}

// Write appends samples and returns the frames they completed.
func (f *Framer) Write(samples []int16) []Frame {
	var frames []Frame
	for len(samples) > 0 {
		n := min(f.size-len(f.buf), len(samples))
		f.buf = append(f.buf, samples[:n]...)
		samples = samples[n:]
		if len(f.buf) == f.size {
			frames = append(frames, f.emit())
		}
	}
	return frames
}

// Flush emits the partially filled frame, if any.
func (f *Framer) Flush() (Frame, bool) {
	if len(f.buf) == 0 {
		return Frame{}, false
	}
	return f.emit(), true
}

func (f *Framer) emit() Frame {
	fr := Frame{
		Seq:        f.seq,
		SampleRate: f.rate,
		Samples:    append([]int16(nil), f.buf...),
		CapturedAt: f.now(),
	}
	f.seq++
	f.buf = f.buf[:0]
	return fr
}
