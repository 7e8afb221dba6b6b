package audio

import "fmt"

// ConvertChannels changes the channel count. Mono is duplicated into every
// output channel; anything else goes through a mono average first.
func ConvertChannels(b *Buffer, channels int) (*Buffer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: channel count must be positive, got %d", ErrFormat, channels)
	}
	if b.Channels == channels {
		return b, nil
	}

	mono := b
	if b.Channels != 1 {
		mono = downmix(b)
	}
	if channels == 1 {
		return mono, nil
	}

	out := *mono
	out.Channels = channels
	out.Data = make([]int, len(mono.Data)*channels)
	for i, s := range mono.Data {
		for c := 0; c < channels; c++ {
			out.Data[i*channels+c] = s
		}
	}
	return &out, nil
}

func downmix(b *Buffer) *Buffer {
	frames := b.Frames()
	out := *b
	out.Channels = 1
	out.Data = make([]int, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < b.Channels; c++ {
			sum += b.Data[i*b.Channels+c]
		}
		out.Data[i] = sum / b.Channels
	}
	return &out
}

// Resample converts b to rate using linear interpolation per channel.
func Resample(b *Buffer, rate int) *Buffer {
	if b.SampleRate == rate || rate <= 0 {
		return b
	}

	frames := b.Frames()
	ratio := float64(b.SampleRate) / float64(rate)
	newFrames := int(float64(frames) / ratio)

	out := *b
	out.SampleRate = rate
	out.Data = make([]int, newFrames*b.Channels)
	for i := 0; i < newFrames; i++ {
		// position in the source frames
		pos := float64(i) * ratio
		index := int(pos)
		frac := pos - float64(index)

		for c := 0; c < b.Channels; c++ {
			var v float64
			if index+1 < frames {
				// Linear interpolation
				a := float64(b.Data[index*b.Channels+c])
				n := float64(b.Data[(index+1)*b.Channels+c])
				v = a*(1-frac) + n*frac
			} else {
				v = float64(b.Data[(frames-1)*b.Channels+c])
			}
			out.Data[i*b.Channels+c] = int(v)
		}
	}
	return &out
}

// Int16s returns the samples scaled to 16-bit.
func Int16s(b *Buffer) []int16 {
	shift := b.BitDepth - 16
	out := make([]int16, len(b.Data))
	for i, s := range b.Data {
		if shift > 0 {
			s >>= shift
		}
		out[i] = int16(s)
	}
	return out
}
