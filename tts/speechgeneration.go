package tts

import (
	"context"
	"strings"
)

// SpeechGenerator turns text into an encoded MP3 clip spoken in lang.
type SpeechGenerator interface {
	TextToSpeech(ctx context.Context, text, lang string) ([]byte, error)
}

var openAIVoices = map[string]string{
	"en": "alloy",
	"es": "nova",
	"fr": "nova",
	"de": "onyx",
	"pt": "nova",
	"ja": "nova",
	"zh": "nova",
}

func VoiceFor(lang string) string {
	if v, ok := openAIVoices[strings.ToLower(lang)]; ok {
		return v
	}
	return "alloy"
}
