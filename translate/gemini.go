package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type GeminiTranslator struct {
	client *genai.Client
	model  string
}

var _ Translator = (*GeminiTranslator)(nil)

func NewGeminiTranslator(ctx context.Context, apiKey string) (*GeminiTranslator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiTranslator{client: client, model: "gemini-1.5-flash"}, nil
}

func (g *GeminiTranslator) Close() error {
	return g.client.Close()
}

func (g *GeminiTranslator) Translate(
	ctx context.Context,
	text, targetLang string,
) (Translation, error) {
	model := g.client.GenerativeModel(g.model)
	model.GenerationConfig.SetTemperature(0.1)
	model.GenerationConfig.SetMaxOutputTokens(1024)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(prompt(targetLang))},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(text))
	if err != nil {
		return Translation{}, fmt.Errorf("gemini generate: %w", err)
	}

	out := strings.TrimSpace(responseText(resp))
	if out == "" {
		return Translation{}, fmt.Errorf("gemini returned empty translation")
	}
	return Translation{Text: out, AlreadyTarget: out == text}, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
