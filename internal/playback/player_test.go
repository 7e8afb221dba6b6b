package playback

import (
	"context"
	"errors"
	"testing"

	"github.com/satindergrewal/stemprep/internal/audio"
)

func TestFillChunk(t *testing.T) {
	src := []int16{1, 2, 3, 4, 5}
	dst := []int16{9, 9, 9, 9}

	if n := fillChunk(dst, src, 0); n != 4 {
		t.Errorf("first chunk copied %d, want 4", n)
	}
	if n := fillChunk(dst, src, 4); n != 1 {
		t.Errorf("last chunk copied %d, want 1", n)
	}
	want := []int16{5, 0, 0, 0}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("dst = %v, want %v", dst, want)
		}
	}
}

func TestPlayRejectsEmptyBuffer(t *testing.T) {
	tests := []*audio.Buffer{
		nil,
		{SampleRate: 44100, Channels: 2, BitDepth: 16},
		{SampleRate: 0, Channels: 1, BitDepth: 16, Data: []int{1}},
	}
	for _, b := range tests {
		if err := Play(context.Background(), b); !errors.Is(err, audio.ErrFormat) {
			t.Errorf("Play(%+v) = %v, want ErrFormat", b, err)
		}
	}
}
