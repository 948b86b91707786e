package audio

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestEncodeWAVHeader(t *testing.T) {
	pcm := []byte{1, 0, 2, 0}
	wav, err := EncodeWAV(pcm, 24000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("unexpected header %q", wav[:44])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 24000 {
		t.Fatalf("sample rate = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data size = %d", got)
	}
}

func TestSilence(t *testing.T) {
	if got := len(Silence(500*time.Millisecond, 16000)); got != 16000 {
		t.Fatalf("len = %d, want 16000", got)
	}
	if got := len(Silence(0, 16000)); got != 0 {
		t.Fatalf("len = %d, want 0", got)
	}
}
