package tts

import (
	"context"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"
)

type OpenAISpeechGenerator struct {
	client *openai.Client
}

var _ SpeechGenerator = (*OpenAISpeechGenerator)(nil)

func NewOpenAISpeechGenerator(apiKey string) *OpenAISpeechGenerator {
	return &OpenAISpeechGenerator{client: openai.NewClient(apiKey)}
}

func NewOpenAISpeechGeneratorWithConfig(config openai.ClientConfig) *OpenAISpeechGenerator {
	return &OpenAISpeechGenerator{client: openai.NewClientWithConfig(config)}
}

func (o *OpenAISpeechGenerator) TextToSpeech(
	ctx context.Context,
	text, lang string,
) ([]byte, error) {
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          openai.SpeechVoice(VoiceFor(lang)),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate speech: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read speech: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("empty speech response")
	}
	return audio, nil
}
