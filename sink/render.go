package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"node.town/babel/model"
)

func srtTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// FormatSRT renders cues in sequence order, numbering them by sequence.
func FormatSRT(cues []model.SubtitleCue) string {
	var b strings.Builder
	for i, c := range cues {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n",
			c.Seq,
			srtTimestamp(c.Start),
			srtTimestamp(c.End),
			strings.TrimSpace(c.Text),
		)
	}
	return b.String()
}

func FormatJSONL(lines []model.TranscriptRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, l := range lines {
		if err := enc.Encode(l); err != nil {
			return nil, fmt.Errorf("encode transcript line %d: %w", l.Seq, err)
		}
	}
	return buf.Bytes(), nil
}
