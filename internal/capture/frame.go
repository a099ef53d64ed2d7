package capture

import (
	"encoding/binary"
	"time"
)

// TargetSampleRate is the only rate the backend accepts.
const TargetSampleRate = 16000

// DefaultFrameSamples is 100 ms of audio at TargetSampleRate.
const DefaultFrameSamples = 1600

// Frame is a chunk of mono PCM16 samples. Treat it as immutable; sessions
// that need to own a frame take a Clone.
type Frame struct {
	Seq        uint64
	SampleRate int
	Samples    []int16
	CapturedAt time.Time
}

// Bytes encodes the samples as little-endian PCM16, the wire format of both
// backend sockets.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.Samples)*2)
	for i, s := range f.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Clone returns a copy with its own sample slice.
func (f Frame) Clone() Frame {
	c := f
	c.Samples = append([]int16(nil), f.Samples...)
	return c
}

// Duration is the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}
