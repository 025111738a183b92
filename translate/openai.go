package translate

import (
	"context"
	"fmt"

	"node.town/babel/llm"
)

type LLMTranslator struct {
	model llm.LanguageModel
}

var _ Translator = (*LLMTranslator)(nil)

func NewLLMTranslator(model llm.LanguageModel) *LLMTranslator {
	return &LLMTranslator{model: model}
}

func (l *LLMTranslator) Translate(
	ctx context.Context,
	text, targetLang string,
) (Translation, error) {
	req := (&llm.ChatCompletionRequest{
		SystemPrompt: prompt(targetLang),
		MaxTokens:    512,
		Temperature:  0,
	}).WithUserMessage(text)

	out, err := llm.Complete(ctx, l.model, req)
	if err != nil {
		return Translation{}, fmt.Errorf("llm translate: %w", err)
	}
	if out == "" {
		return Translation{}, fmt.Errorf("llm returned empty translation")
	}
	return Translation{Text: out, AlreadyTarget: out == text}, nil
}
