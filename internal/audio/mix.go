package audio

import "fmt"

// Overlay sums other onto base sample by sample and clips to the bit depth
// range. The result always has the length of base: a shorter other leaves
// the tail of base untouched, a longer one is cut.
func Overlay(base, other *Buffer) (*Buffer, error) {
	if err := base.validate(); err != nil {
		return nil, err
	}
	if err := other.validate(); err != nil {
		return nil, err
	}
	if !base.SameFormat(other) {
		return nil, fmt.Errorf("%w: overlay %dHz/%dch/%dbit onto %dHz/%dch/%dbit", ErrFormat,
			other.SampleRate, other.Channels, other.BitDepth,
			base.SampleRate, base.Channels, base.BitDepth)
	}

	lo, hi := sampleRange(base.BitDepth)
	out := base.Clone()
	n := min(len(out.Data), len(other.Data))
	for i := 0; i < n; i++ {
		mixed := out.Data[i] + other.Data[i]

		// Clip to sample range
		if mixed > hi {
			mixed = hi
		} else if mixed < lo {
			mixed = lo
		}
		out.Data[i] = mixed
	}
	return out, nil
}

// Repeat concatenates times copies of b.
func Repeat(b *Buffer, times int) *Buffer {
	out := *b
	out.Data = make([]int, 0, len(b.Data)*max(times, 0))
	for i := 0; i < times; i++ {
		out.Data = append(out.Data, b.Data...)
	}
	return &out
}

// Truncate returns at most the first frames frames of b.
func Truncate(b *Buffer, frames int) *Buffer {
	if frames > b.Frames() {
		frames = b.Frames()
	}
	out := *b
	out.Data = append([]int(nil), b.Data[:frames*b.Channels]...)
	return &out
}

// Loop repeats b as many whole times as needed to cover frames and then
// truncates to exactly frames.
func Loop(b *Buffer, frames int) *Buffer {
	n := b.Frames()
	if n == 0 {
		return Truncate(b, 0)
	}
	return Truncate(Repeat(b, frames/n+1), frames)
}

// Align makes inst exactly as long as mix: looped when shorter, truncated
// otherwise. inst must already share the mix format.
func Align(mix, inst *Buffer) *Buffer {
	if inst.Frames() < mix.Frames() {
		return Loop(inst, mix.Frames())
	}
	return Truncate(inst, mix.Frames())
}

// MergeMix aligns an instrument track to a mix and overlays it. The
// instrument is converted to the mix channel count and sample rate first.
// Both results have exactly the mix frame count.
func MergeMix(mix, inst *Buffer) (aligned, overlay *Buffer, err error) {
	if err := mix.validate(); err != nil {
		return nil, nil, fmt.Errorf("mix: %w", err)
	}
	if err := inst.validate(); err != nil {
		return nil, nil, fmt.Errorf("instrument: %w", err)
	}
	if mix.Frames() == 0 {
		return nil, nil, fmt.Errorf("%w: mix has no samples", ErrFormat)
	}
	if inst.Frames() == 0 {
		return nil, nil, fmt.Errorf("%w: instrument has no samples", ErrFormat)
	}
	if mix.BitDepth != inst.BitDepth {
		return nil, nil, fmt.Errorf("%w: bit depth mismatch: mix %d, instrument %d", ErrFormat, mix.BitDepth, inst.BitDepth)
	}

	conformed, err := ConvertChannels(inst, mix.Channels)
	if err != nil {
		return nil, nil, err
	}
	conformed = Resample(conformed, mix.SampleRate)
	if conformed.Frames() == 0 {
		return nil, nil, fmt.Errorf("%w: instrument too short to resample", ErrFormat)
	}

	aligned = Align(mix, conformed)
	overlay, err = Overlay(mix, aligned)
	if err != nil {
		return nil, nil, err
	}
	return aligned, overlay, nil
}

// MergeMixFiles runs MergeMix on two WAV files and writes the aligned
// instrument to instDest and the overlay to mixDest.
func MergeMixFiles(mixPath, instPath, instDest, mixDest string) error {
	mix, err := ReadFile(mixPath)
	if err != nil {
		return err
	}
	inst, err := ReadFile(instPath)
	if err != nil {
		return err
	}

	aligned, overlay, err := MergeMix(mix, inst)
	if err != nil {
		return fmt.Errorf("merge %s with %s: %w", instPath, mixPath, err)
	}

	if err := WriteFile(instDest, aligned); err != nil {
		return err
	}
	return WriteFile(mixDest, overlay)
}
