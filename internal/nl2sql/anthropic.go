package nl2sql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
)

type AnthropicConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type AnthropicCompleter struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

func NewAnthropicCompleter(cfg AnthropicConfig) (*AnthropicCompleter, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AnthropicCompleter{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: float32(cfg.Temperature),
		maxTokens:   maxTokens,
		timeout:     timeout,
	}, nil
}

func (c *AnthropicCompleter) Provider() string { return "anthropic" }

func (c *AnthropicCompleter) Model() string { return c.model }

func (c *AnthropicCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	key, err := pickCredential(strings.TrimSpace(req.Credential), c.apiKey)
	if err != nil {
		return "", err
	}
	var opts []anthropic.ClientOption
	if c.baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(c.baseURL))
	}
	client := anthropic.NewClient(key, opts...)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := req.Prompt
	temperature := c.temperature
	resp, err := client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		System:      req.System,
		MaxTokens:   c.maxTokens,
		Temperature: &temperature,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create message: %w", err)
	}
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			return *block.Text, nil
		}
	}
	return "", fmt.Errorf("message has no text content")
}
