package capture

import (
	"fmt"
	"math"
)

// Downsampler converts float samples at a native device rate to PCM16 at a
// lower target rate by averaging each output window. It keeps the fractional
// window position across calls so a stream can be fed in arbitrary chunks.
type Downsampler struct {
	ratio   float64
	pending []float32
	phase   float64
}

// NewDownsampler fails with ErrGraphInit when the conversion would need
// upsampling or a rate is not positive.
func NewDownsampler(from, to int) (*Downsampler, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rates %d -> %d", ErrGraphInit, from, to)
	}
	if from < to {
		return nil, fmt.Errorf("%w: device rate %d Hz is below %d Hz", ErrGraphInit, from, to)
	}
	return &Downsampler{ratio: float64(from) / float64(to)}, nil
}

// Process consumes in and returns every output sample that is complete.
func (d *Downsampler) Process(in []float32) []int16 {
	if d.ratio == 1 {
		out := make([]int16, len(in))
		for i, s := range in {
			out[i] = toPCM16(s)
		}
		return out
	}

	d.pending = append(d.pending, in...)
	out := make([]int16, 0, int(float64(len(d.pending))/d.ratio)+1)

	start := 0
	for {
		end := int(math.Round(d.phase + d.ratio))
		if end <= start {
			end = start + 1
		}
		if end > len(d.pending) {
			break
		}
		var sum float64
		for _, s := range d.pending[start:end] {
			sum += float64(s)
		}
		out = append(out, toPCM16(float32(sum/float64(end-start))))
		d.phase += d.ratio
		start = end
	}

	rest := copy(d.pending, d.pending[start:])
	d.pending = d.pending[:rest]
	d.phase -= float64(start)
	return out
}

func toPCM16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}
