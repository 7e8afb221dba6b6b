package audio

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-audio/riff"
	"github.com/go-audio/wav"
)

const (
	formatPCM        = 1
	formatExtensible = 0xFFFE
)

// KSDATAFORMAT_SUBTYPE_PCM as laid out in the extensible fmt chunk.
var subtypePCM = []byte{
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00,
	0x80, 0x00, 0x00, 0xaa, 0x00, 0x38, 0x9b, 0x71,
}

// extensibleSubFormat returns the sub-format GUID of a WAVE_FORMAT_EXTENSIBLE
// stream. The reader is left at the start of the stream.
func extensibleSubFormat(r io.ReadSeeker) ([]byte, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	defer r.Seek(0, io.SeekStart)

	p := riff.New(r)
	if err := p.ParseHeaders(); err != nil {
		return nil, err
	}
	for {
		ch, err := p.NextChunk()
		if err != nil {
			return nil, err
		}
		if ch.ID != riff.FmtID {
			ch.Drain()
			continue
		}
		// tag(2) channels(2) rate(4) bytes/s(4) align(2) bits(2) cbSize(2)
		// validBits(2) channelMask(4) subFormat(16)
		fmtData := make([]byte, ch.Size)
		if _, err := io.ReadFull(ch, fmtData); err != nil {
			return nil, err
		}
		if len(fmtData) < 40 {
			return nil, fmt.Errorf("extensible fmt chunk is %d bytes", len(fmtData))
		}
		return fmtData[24:40], nil
	}
}

// Decode reads a complete PCM WAV stream.
func Decode(r io.ReadSeeker) (*Buffer, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		if err := d.Err(); err != nil {
			return nil, fmt.Errorf("%w: not a wav file: %v", ErrFormat, err)
		}
		return nil, fmt.Errorf("%w: not a wav file", ErrFormat)
	}
	if d.WavAudioFormat != formatPCM && d.WavAudioFormat != formatExtensible {
		return nil, fmt.Errorf("%w: unsupported audio format %d (only PCM)", ErrFormat, d.WavAudioFormat)
	}
	if d.WavAudioFormat == formatExtensible {
		sub, err := extensibleSubFormat(r)
		if err != nil {
			return nil, fmt.Errorf("%w: read extensible format: %v", ErrFormat, err)
		}
		if !bytes.Equal(sub, subtypePCM) {
			return nil, fmt.Errorf("%w: unsupported extensible sub-format %x (only PCM)", ErrFormat, sub)
		}
		d = wav.NewDecoder(r)
		if !d.IsValidFile() {
			return nil, fmt.Errorf("%w: not a wav file", ErrFormat)
		}
	}

	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: read samples: %v", ErrFormat, err)
	}

	buf := &Buffer{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
		Data:       pcm.Data,
	}
	// a truncated final frame is dropped rather than rejected
	if buf.Channels > 0 {
		if extra := len(buf.Data) % buf.Channels; extra != 0 {
			buf.Data = buf.Data[:len(buf.Data)-extra]
		}
	}
	if err := buf.validate(); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadFile decodes the WAV file at path.
func ReadFile(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return buf, nil
}

// Encode writes b as a PCM WAV stream. The writer must be seekable so the
// header sizes can be patched once the data is written.
func Encode(w io.WriteSeeker, b *Buffer) error {
	if err := b.validate(); err != nil {
		return err
	}
	enc := wav.NewEncoder(w, b.SampleRate, b.BitDepth, b.Channels, formatPCM)
	if err := enc.Write(b.intBuffer()); err != nil {
		return fmt.Errorf("write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// WriteFile encodes b to path. The file only appears once fully written.
func WriteFile(path string, b *Buffer) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".stemprep-*.wav")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if err := Encode(tmp, b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}

// GetDuration returns the length in seconds of the WAV file at path using
// only its header: frame count divided by sample rate.
func GetDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return 0, fmt.Errorf("%w: %s is not a wav file", ErrFormat, path)
	}
	if d.SampleRate == 0 {
		return 0, fmt.Errorf("%w: %s has sample rate 0", ErrFormat, path)
	}
	blockAlign := int64(d.NumChans) * int64(d.BitDepth) / 8
	if blockAlign == 0 {
		return 0, fmt.Errorf("%w: %s has zero block align", ErrFormat, path)
	}
	if err := d.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrFormat, path, err)
	}

	frames := d.PCMLen() / blockAlign
	return float64(frames) / float64(d.SampleRate), nil
}
