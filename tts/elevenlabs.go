package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/haguro/elevenlabs-go"
)

const DefaultElevenLabsVoice = "pKLLpypGseGMUjkb5fEZ"

type ElevenLabsSpeechGenerator struct {
	apiKey  string
	voiceID string
}

var _ SpeechGenerator = (*ElevenLabsSpeechGenerator)(nil)

func NewElevenLabsSpeechGenerator(apiKey string) *ElevenLabsSpeechGenerator {
	return &ElevenLabsSpeechGenerator{apiKey: apiKey, voiceID: DefaultElevenLabsVoice}
}

// TextToSpeech uses the multilingual turbo model, which picks the
// language from the text itself.
func (e *ElevenLabsSpeechGenerator) TextToSpeech(
	ctx context.Context,
	text, lang string,
) ([]byte, error) {
	client := elevenlabs.NewClient(ctx, e.apiKey, 30*time.Second)
	ttsReq := elevenlabs.TextToSpeechRequest{
		Text:    text,
		ModelID: "eleven_turbo_v2_5",
	}

	audio, err := client.TextToSpeech(e.voiceID, ttsReq)
	if err != nil {
		return nil, fmt.Errorf("failed to generate speech: %w", err)
	}
	return audio, nil
}
