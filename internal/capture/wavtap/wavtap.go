// Package wavtap archives captured frames to a local WAV file while passing
// them through to the next sink.
package wavtap

import (
	"fmt"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/seeyonai/summit-sub000/internal/capture"
)

// Writer encodes 16 kHz mono PCM16 frames into a WAV file.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	enc    *wav.Encoder
	buf    *audio.IntBuffer
	frames int
	err    error
}

// Create opens path for writing, truncating any existing file.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav: %w", err)
	}
	return &Writer{
		f:   f,
		enc: wav.NewEncoder(f, capture.TargetSampleRate, 16, 1, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: capture.TargetSampleRate},
			SourceBitDepth: 16,
		},
	}, nil
}

// Write appends one frame. After the first failure further writes are
// ignored and the error is reported by Close.
func (w *Writer) Write(fr capture.Frame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil || w.enc == nil {
		return
	}
	data := w.buf.Data[:0]
	for _, s := range fr.Samples {
		data = append(data, int(s))
	}
	w.buf.Data = data
	if err := w.enc.Write(w.buf); err != nil {
		w.err = fmt.Errorf("write wav: %w", err)
		return
	}
	w.frames++
}

// Tee returns a sink that archives each frame before forwarding it.
func (w *Writer) Tee(next capture.Sink) capture.Sink {
	return func(fr capture.Frame) {
		w.Write(fr)
		next(fr)
	}
}

// Frames reports how many frames were written.
func (w *Writer) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Close finalizes the WAV header and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enc == nil {
		return w.err
	}
	err := w.enc.Close()
	w.enc = nil
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	if w.err != nil {
		return w.err
	}
	if err != nil {
		return fmt.Errorf("close wav: %w", err)
	}
	return nil
}
