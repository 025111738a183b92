package stt

import (
	"context"
)

// Result is one recognizer hypothesis. Start and Duration are seconds
// since the recognizer session opened.
type Result struct {
	Text       string
	Start      float64
	Duration   float64
	Confidence float64
	IsFinal    bool
}

// SpeechRecognizer is one live session. Receive yields one drafts channel
// per utterance; each drafts channel closes after its final result, or
// early when the session dies mid-utterance. The outer channel closes
// when the session is gone.
type SpeechRecognizer interface {
	Stop() error
	SendAudio(data []byte) error
	Receive() <-chan chan Result
}

type SpeechRecognition interface {
	Start(ctx context.Context, language string) (SpeechRecognizer, error)
}
