package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

type LanguageModel interface {
	ChatCompletion(
		ctx context.Context,
		req *ChatCompletionRequest,
	) (chan *ChatCompletionResponse, error)
}

type OpenAILanguageModel struct {
	client *openai.Client
	model  string
}

func NewOpenAILanguageModel(apiKey string) *OpenAILanguageModel {
	return &OpenAILanguageModel{
		client: openai.NewClient(apiKey),
		model:  openai.GPT4oMini,
	}
}

func NewOpenAILanguageModelWithConfig(
	config openai.ClientConfig,
	model string,
) *OpenAILanguageModel {
	return &OpenAILanguageModel{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

type ChatCompletionRequest struct {
	SystemPrompt string
	UserMessages []string
	MaxTokens    int
	Temperature  float32
}

func (r *ChatCompletionRequest) WithUserMessage(
	message string,
) *ChatCompletionRequest {
	r.UserMessages = append(r.UserMessages, message)
	return r
}

type ChatCompletionResponse struct {
	Err     error
	Content string
}

func (o *OpenAILanguageModel) ChatCompletion(
	ctx context.Context,
	req *ChatCompletionRequest,
) (chan *ChatCompletionResponse, error) {
	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
	}

	for _, userMessage := range req.UserMessages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: userMessage,
		})
	}

	resp, err := o.client.CreateChatCompletionStream(
		ctx,
		openai.ChatCompletionRequest{
			Model:       o.model,
			Messages:    messages,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			Stream:      true,
		},
	)

	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}

	result := make(chan *ChatCompletionResponse)
	go func() {
		defer close(result)
		defer resp.Close()
		for {
			response, err := resp.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				select {
				case result <- &ChatCompletionResponse{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			if len(response.Choices) == 0 {
				continue
			}
			select {
			case result <- &ChatCompletionResponse{
				Content: response.Choices[0].Delta.Content,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return result, nil
}

// Complete drains a streamed completion into one string.
func Complete(
	ctx context.Context,
	model LanguageModel,
	req *ChatCompletionRequest,
) (string, error) {
	chunks, err := model.ChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", fmt.Errorf("completion stream: %w", chunk.Err)
		}
		out.WriteString(chunk.Content)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}
