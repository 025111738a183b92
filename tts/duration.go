package tts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tcolgate/mp3"
)

// ClipDuration sums the frame durations of an MP3 clip. Trailing junk
// after at least one good frame is ignored.
func ClipDuration(data []byte) (time.Duration, error) {
	d := mp3.NewDecoder(bytes.NewReader(data))

	var (
		f       mp3.Frame
		skipped int
		total   time.Duration
		frames  int
	)
	for {
		if err := d.Decode(&f, &skipped); err != nil {
			if errors.Is(err, io.EOF) || frames > 0 {
				break
			}
			return 0, fmt.Errorf("decode mp3 frame: %w", err)
		}
		total += f.Duration()
		frames++
	}

	if frames == 0 {
		return 0, fmt.Errorf("no mp3 frames in %d bytes", len(data))
	}
	return total, nil
}
