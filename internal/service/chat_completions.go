package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/set-night/chatbroker/internal/config"
	"github.com/set-night/chatbroker/internal/domain"
)

var errEmptyCompletion = errors.New("upstream returned no choices")

type ChatCompletionsConfig struct {
	Name    string
	APIKey  string
	BaseURL string
	Model   string
	// Headers are added to every request.
	Headers    map[string]string
	HTTPClient *http.Client
}

// ChatCompletionsClient talks to an OpenAI-compatible /chat/completions endpoint.
type ChatCompletionsClient struct {
	name       string
	apiKey     string
	baseURL    string
	model      string
	headers    map[string]string
	httpClient *http.Client
}

func NewChatCompletionsClient(cfg ChatCompletionsConfig) (*ChatCompletionsClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s api key is not set", domain.ErrConfig, cfg.Name)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: %s model is not set", domain.ErrConfig, cfg.Name)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.UpstreamTimeout}
	}
	return &ChatCompletionsClient{
		name:       cfg.Name,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		headers:    cfg.Headers,
		httpClient: httpClient,
	}, nil
}

// NewRegularProvider builds the Mistral adapter used by regular mode.
func NewRegularProvider(cfg *config.Config) (*ChatCompletionsClient, error) {
	return NewChatCompletionsClient(ChatCompletionsConfig{
		Name:    "mistral",
		APIKey:  cfg.MistralAPIKey,
		BaseURL: cfg.MistralBaseURL,
		Model:   cfg.MistralModel,
	})
}

// NewUncensoredProvider builds the OpenRouter adapter used by uncensored mode.
// There is no fallback, so a missing key is a startup error.
func NewUncensoredProvider(cfg *config.Config) (*ChatCompletionsClient, error) {
	return NewChatCompletionsClient(ChatCompletionsConfig{
		Name:    "openrouter",
		APIKey:  cfg.OpenRouterKey,
		BaseURL: cfg.OpenRouterBaseURL,
		Model:   cfg.UncensoredModel,
		Headers: map[string]string{
			"HTTP-Referer": cfg.FrontendURL,
			"X-Title":      "chatbroker",
		},
	})
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	// OpenRouter may report provider failures in the body of a 200 response.
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *ChatCompletionsClient) Name() string { return c.name }

func (c *ChatCompletionsClient) SendChat(ctx context.Context, messages []ChatMessage) (string, error) {
	payload, err := json.Marshal(chatCompletionRequest{Model: c.model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range c.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", newStatusError(c.name, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if chatResp.Error != nil && chatResp.Error.Code >= 400 {
		return "", &StatusError{
			Provider:   c.name,
			Status:     chatResp.Error.Code,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Message:    chatResp.Error.Message,
		}
	}
	if len(chatResp.Choices) == 0 {
		return "", errEmptyCompletion
	}
	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}
