// Package openai describes dessert photos and writes Instagram captions.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	DefaultModel = openai.GPT4oMini

	describePrompt = "Опиши це зображення детально українською мовою. Що на фото? Які кольори, текстури, стиль? Це для генерації Instagram-посту для пекарні."
	captionSystem  = "Ти експерт з маркетингу для пекарень та кав'ярень. Створюй короткі, привабливі підписи до постів в Instagram українською мовою. " +
		"Використовуй емодзі та хештеги. Підпис має бути 1-2 речення, максимум 200 символів."
)

var errEmptyCompletion = errors.New("openai: empty completion")

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

type Client struct {
	client *openai.Client
	model  string
}

func NewClient(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		client: openai.NewClientWithConfig(oc),
		model:  model,
	}
}

// DescribePhoto asks the vision model what is on the photo.
func (c *Client) DescribePhoto(ctx context.Context, imageURL string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: describePrompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: imageURL}},
				},
			},
		},
		MaxTokens: 300,
	})
	if err != nil {
		return "", fmt.Errorf("describe photo: %w", err)
	}
	return firstChoice(resp)
}

// WriteCaption produces a short Ukrainian post caption for the description.
func (c *Client) WriteCaption(ctx context.Context, description string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: captionSystem},
			{Role: openai.ChatMessageRoleUser, Content: "Створи підпис до Instagram-посту для такого виробу: " + description},
		},
		Temperature: 0.8,
		MaxTokens:   200,
	})
	if err != nil {
		return "", fmt.Errorf("write caption: %w", err)
	}
	return firstChoice(resp)
}

func firstChoice(resp openai.ChatCompletionResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errEmptyCompletion
	}
	return text, nil
}
