// Package playback plays decoded waveforms on the default output device.
package playback

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/satindergrewal/stemprep/internal/audio"
)

const framesPerBuffer = 1024

// Play writes buf to the default output device and blocks until the last
// sample is queued or ctx is cancelled.
func Play(ctx context.Context, buf *audio.Buffer) error {
	if buf == nil || buf.Channels <= 0 || buf.SampleRate <= 0 || buf.Frames() == 0 {
		return fmt.Errorf("%w: nothing to play", audio.ErrFormat)
	}
	pcm := audio.Int16s(buf)

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	out := make([]int16, framesPerBuffer*buf.Channels)
	stream, err := portaudio.OpenDefaultStream(0, buf.Channels, float64(buf.SampleRate), framesPerBuffer, out)
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	defer stream.Stop()

	for off := 0; off < len(pcm); off += len(out) {
		if err := ctx.Err(); err != nil {
			return err
		}
		fillChunk(out, pcm, off)
		if err := stream.Write(); err != nil {
			return fmt.Errorf("write stream: %w", err)
		}
	}
	return nil
}

// fillChunk copies src[off:] into dst and zeroes whatever is left over.
func fillChunk(dst, src []int16, off int) int {
	n := copy(dst, src[off:])
	clear(dst[n:])
	return n
}
