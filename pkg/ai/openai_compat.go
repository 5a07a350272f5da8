package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatGenerator calls any OpenAI-compatible /chat/completions endpoint
// (vLLM, LiteLLM, OpenRouter and similar).
type OpenAICompatGenerator struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
}

// NewOpenAICompatGenerator builds an OpenAI-compatible TextGenerator.
// baseURL includes the version prefix, e.g. "http://localhost:8000/v1".
// apiKey may be empty for local models.
func NewOpenAICompatGenerator(baseURL, apiKey, model string, temperature float64) (*OpenAICompatGenerator, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("openai-compat base url required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("openai-compat generation model required")
	}
	return &OpenAICompatGenerator{
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(apiKey),
		model:       model,
		temperature: temperature,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (g *OpenAICompatGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	reqBody := oaiChatRequest{
		Model:       g.model,
		Messages:    chatMessages(systemPrompt, userPrompt),
		Temperature: g.temperature,
	}
	headers := map[string]string{}
	if g.apiKey != "" {
		headers["Authorization"] = "Bearer " + g.apiKey
	}
	var resp oaiChatResponse
	err := postJSON(ctx, g.httpClient, "openai-compat", g.baseURL+"/chat/completions", headers, reqBody, &resp, func(raw []byte) string {
		var e struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return e.Error.Message
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from openai-compat api")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty response from openai-compat api")
	}
	return text, nil
}

type oaiChatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}
