// Package capture turns microphone input into fixed-size 16 kHz mono PCM16
// frames. A Device supplies float samples at its native rate; the Producer
// downsamples them, cuts them into Frames with increasing sequence numbers and
// hands each Frame to a sink.
package capture
