// Package audio decodes and encodes PCM WAV files and implements the
// preprocessing steps used to build instrument/mix training pairs: duration,
// length alignment, overlay and Opus previews.
package audio

import (
	"errors"
	"fmt"
	"time"

	goaudio "github.com/go-audio/audio"
)

// ErrFormat reports an unreadable or unsupported waveform container, or
// buffers whose formats cannot be combined.
var ErrFormat = errors.New("audio format error")

// Buffer is a decoded waveform: interleaved PCM samples plus the header
// fields needed to interpret them. Operations never mutate their inputs.
type Buffer struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Data       []int // interleaved, Channels samples per frame
}

// Frames returns the number of sample frames (samples per channel).
func (b *Buffer) Frames() int {
	if b == nil || b.Channels == 0 {
		return 0
	}
	return len(b.Data) / b.Channels
}

// Seconds returns the buffer length in seconds.
func (b *Buffer) Seconds() float64 {
	if b == nil || b.SampleRate == 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Duration returns the buffer length as a time.Duration.
func (b *Buffer) Duration() time.Duration {
	return time.Duration(b.Seconds() * float64(time.Second))
}

// Channel de-interleaves one channel into its own slice.
func (b *Buffer) Channel(ch int) []int {
	frames := b.Frames()
	out := make([]int, frames)
	for i := 0; i < frames; i++ {
		out[i] = b.Data[i*b.Channels+ch]
	}
	return out
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	c := *b
	c.Data = append([]int(nil), b.Data...)
	return &c
}

// SameFormat reports whether two buffers can be combined sample by sample.
func (b *Buffer) SameFormat(o *Buffer) bool {
	return b.SampleRate == o.SampleRate && b.Channels == o.Channels && b.BitDepth == o.BitDepth
}

func (b *Buffer) validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil buffer", ErrFormat)
	}
	if b.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrFormat, b.SampleRate)
	}
	if b.Channels <= 0 {
		return fmt.Errorf("%w: channel count must be positive, got %d", ErrFormat, b.Channels)
	}
	switch b.BitDepth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("%w: unsupported bit depth %d", ErrFormat, b.BitDepth)
	}
	if len(b.Data)%b.Channels != 0 {
		return fmt.Errorf("%w: %d samples not aligned to %d channels", ErrFormat, len(b.Data), b.Channels)
	}
	return nil
}

func (b *Buffer) intBuffer() *goaudio.IntBuffer {
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: b.Channels, SampleRate: b.SampleRate},
		Data:           b.Data,
		SourceBitDepth: b.BitDepth,
	}
}

// sampleRange returns the inclusive signed range for a bit depth.
func sampleRange(bitDepth int) (lo, hi int) {
	hi = 1<<(bitDepth-1) - 1
	return -hi - 1, hi
}
