package model

import (
	"time"
)

type Status string

const (
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusEnded      Status = "ended"
	StatusFailed     Status = "failed"
)

// UtteranceEvent is a finalized piece of speech from one participant.
// Start and End are elapsed seconds since the session began.
type UtteranceEvent struct {
	ParticipantID string
	Text          string
	IsFinal       bool
	Start         float64
	End           float64
}

type TranslatedUtterance struct {
	UtteranceEvent
	Translated   string
	Untranslated bool
}

// SynthesizedClip is what a commit hands to broadcast and persistence.
// Audio is nil for text-only commits.
type SynthesizedClip struct {
	TranslatedUtterance
	SessionID       string
	Language        string
	Seq             uint64
	Offset          float64
	Duration        float64
	Audio           []byte
	SynthesisFailed bool
	TimedOut        bool
	CommittedAt     time.Time
}

func (c *SynthesizedClip) HasAudio() bool {
	return len(c.Audio) > 0
}

type TranscriptRecord struct {
	Seq             uint64  `json:"seq"`
	ParticipantID   string  `json:"participant"`
	Original        string  `json:"original"`
	Translated      string  `json:"translated"`
	Start           float64 `json:"start"`
	End             float64 `json:"end"`
	Offset          float64 `json:"offset"`
	Untranslated    bool    `json:"untranslated,omitempty"`
	SynthesisFailed bool    `json:"synthesis_failed,omitempty"`
	CommitTimeout   bool    `json:"commit_timeout,omitempty"`
}

type SubtitleCue struct {
	Seq   uint64  `json:"seq"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

func (c *SynthesizedClip) Record() TranscriptRecord {
	return TranscriptRecord{
		Seq:             c.Seq,
		ParticipantID:   c.ParticipantID,
		Original:        c.Text,
		Translated:      c.Translated,
		Start:           c.Start,
		End:             c.End,
		Offset:          c.Offset,
		Untranslated:    c.Untranslated,
		SynthesisFailed: c.SynthesisFailed,
		CommitTimeout:   c.TimedOut,
	}
}

// Cue places the clip on the concatenated output timeline. Text-only
// clips get a zero-length span at the current offset.
func (c *SynthesizedClip) Cue() SubtitleCue {
	return SubtitleCue{
		Seq:   c.Seq,
		Start: c.Offset,
		End:   c.Offset + c.Duration,
		Text:  c.Translated,
	}
}
