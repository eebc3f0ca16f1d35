// Package llm talks to OpenAI-compatible chat completion endpoints.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	OpenAIEndpoint   = "https://api.openai.com/v1/chat/completions"
	CerebrasEndpoint = "https://api.cerebras.ai/v1/chat/completions"
)

// Roles used in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the generator the dialog depends on.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// ChatClient implements Client over HTTP.
type ChatClient struct {
	HTTPClient  *http.Client
	Name        string
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionsRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason"`
	Message      Message `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

// NewOpenAIClient returns the default generator preset.
func NewOpenAIClient(apiKey, model string) *ChatClient {
	if model == "" {
		model = "gpt-4.1-nano"
	}
	return &ChatClient{
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
		Name:        "openai",
		Endpoint:    OpenAIEndpoint,
		APIKey:      apiKey,
		Model:       model,
		Temperature: 0.7,
		MaxTokens:   1000,
		JSONMode:    true,
	}
}

func NewCerebrasClient(apiKey, model string) *ChatClient {
	if model == "" {
		model = "llama3.1-8b"
	}
	return &ChatClient{
		HTTPClient:  &http.Client{Timeout: 15 * time.Second},
		Name:        "cerebras",
		Endpoint:    CerebrasEndpoint,
		APIKey:      apiKey,
		Model:       model,
		Temperature: 0.7,
		MaxTokens:   1000,
	}
}

func (c *ChatClient) Complete(ctx context.Context, messages []Message) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("%s: api key missing", c.Name)
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("%s: no messages", c.Name)
	}

	body := chatCompletionsRequest{Model: c.Model, Messages: messages, MaxTokens: c.MaxTokens}
	if c.Temperature > 0 {
		t := c.Temperature
		body.Temperature = &t
	}
	if c.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	reqBody, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%s error: status=%d body=%s", c.Name, resp.StatusCode, string(b))
	}
	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("%s: decode: %w", c.Name, err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("%s: empty choices", c.Name)
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}
