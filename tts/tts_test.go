package tts

import (
	"bytes"
	"testing"
	"time"
)

func TestVoiceFor(t *testing.T) {
	tests := []struct {
		lang string
		want string
	}{
		{"en", "alloy"},
		{"de", "onyx"},
		{"ES", "nova"},
		{"ko", "alloy"},
	}
	for _, tt := range tests {
		if got := VoiceFor(tt.lang); got != tt.want {
			t.Errorf("VoiceFor(%q) = %q, want %q", tt.lang, got, tt.want)
		}
	}
}

// mpeg1Layer3Frames builds n silent MPEG-1 Layer III frames at
// 128 kbps / 44.1 kHz, each 417 bytes and 1152 samples long.
func mpeg1Layer3Frames(n int) []byte {
	frame := make([]byte, 417)
	frame[0] = 0xFF
	frame[1] = 0xFB
	frame[2] = 0x90
	frame[3] = 0x44
	return bytes.Repeat(frame, n)
}

func TestClipDuration(t *testing.T) {
	t.Run("frames", func(t *testing.T) {
		got, err := ClipDuration(mpeg1Layer3Frames(40))
		if err != nil {
			t.Fatalf("ClipDuration() error = %v", err)
		}
		want := 40 * 1152 * time.Second / 44100
		diff := got - want
		if diff < 0 {
			diff = -diff
		}
		if diff > 5*time.Millisecond {
			t.Errorf("ClipDuration() = %v, want about %v", got, want)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if _, err := ClipDuration(nil); err == nil {
			t.Errorf("ClipDuration(nil) should fail")
		}
	})
}
