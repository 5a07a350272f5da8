package ai

import (
	"context"
	"fmt"
	"strings"
)

// TextGenerator generates text from a system prompt and user prompt.
// All LLM providers (Gemini, Ollama, OpenAI-compatible) implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const (
	ProviderGemini       = "gemini"
	ProviderOllama       = "ollama"
	ProviderOpenAICompat = "openai-compat"
	ProviderStatic       = "static"
)

// ProviderConfig selects and configures a generation backend.
type ProviderConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"baseURL"`
	APIKey      string  `yaml:"apiKey"`
	Temperature float64 `yaml:"temperature"`
}

// NewGenerator builds the TextGenerator named by cfg.Provider.
func NewGenerator(cfg ProviderConfig) (TextGenerator, error) {
	var (
		gen TextGenerator
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderGemini, "":
		gen, err = NewGeminiGenerator(cfg.APIKey, cfg.Model, WithGeminiBaseURL(cfg.BaseURL), WithGeminiTemperature(cfg.Temperature))
	case ProviderOllama:
		gen, err = NewOllamaGenerator(cfg.BaseURL, cfg.Model, cfg.Temperature)
	case ProviderOpenAICompat:
		gen, err = NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Temperature)
	case ProviderStatic:
		gen = StaticGenerator{}
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return gen, nil
}

// StaticGenerator echoes a deterministic Markdown document built from the
// prompts. Used for local runs without a model.
type StaticGenerator struct{}

func (StaticGenerator) GenerateText(_ context.Context, _, userPrompt string) (string, error) {
	title := "Generated asset"
	if _, rest, ok := strings.Cut(userPrompt, "Generate a **"); ok {
		if label, _, ok := strings.Cut(rest, "**"); ok && label != "" {
			title = label
		}
	}
	return fmt.Sprintf("# %s\n\n_Draft generated without a language model._\n", title), nil
}
