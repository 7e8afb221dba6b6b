package audio

import (
	"fmt"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"gopkg.in/hraban/opus.v2"
)

const (
	OpusSampleRate    = 48000
	OpusFrameDuration = 20 * time.Millisecond
	OpusFrameSize     = 960 // samples per channel per 20ms frame

	opusPayloadType = 111
	opusSSRC        = 0x5354454d
	maxOpusPacket   = 4000
)

// ExportOpus writes b as an Ogg Opus file at path. The audio is resampled to
// 48kHz and encoded in 20ms frames; the final frame is zero padded.
func ExportOpus(b *Buffer, path string, bitrate int) error {
	if err := b.validate(); err != nil {
		return err
	}
	if b.Channels > 2 {
		return fmt.Errorf("%w: opus preview supports 1 or 2 channels, got %d", ErrFormat, b.Channels)
	}

	pcm := Int16s(Resample(b, OpusSampleRate))

	enc, err := opus.NewEncoder(OpusSampleRate, b.Channels, opus.AppAudio)
	if err != nil {
		return fmt.Errorf("opus encoder: %w", err)
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return fmt.Errorf("opus bitrate %d: %w", bitrate, err)
	}

	ogg, err := oggwriter.New(path, OpusSampleRate, uint16(b.Channels))
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	frameSamples := OpusFrameSize * b.Channels
	frame := make([]int16, frameSamples)
	opusBuf := make([]byte, maxOpusPacket)

	var seq uint16
	var ts uint32
	for off := 0; off < len(pcm); off += frameSamples {
		n := copy(frame, pcm[off:])
		clear(frame[n:])

		size, err := enc.Encode(frame, opusBuf)
		if err != nil {
			ogg.Close()
			return fmt.Errorf("opus encode at frame %d: %w", off/frameSamples, err)
		}

		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    opusPayloadType,
				SequenceNumber: seq,
				Timestamp:      ts,
				SSRC:           opusSSRC,
			},
			Payload: append([]byte(nil), opusBuf[:size]...),
		}
		if err := ogg.WriteRTP(pkt); err != nil {
			ogg.Close()
			return fmt.Errorf("write ogg page: %w", err)
		}
		seq++
		ts += OpusFrameSize
	}

	if err := ogg.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
