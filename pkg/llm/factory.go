package llm

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Config holds the backend settings accepted in llm_args.
type Config struct {
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// ConfigFromEnv reads OPENAI_MODEL, OPENAI_API_KEY and OPENAI_BASE_URL.
func ConfigFromEnv() Config {
	return Config{
		Model:   os.Getenv("OPENAI_MODEL"),
		APIKey:  os.Getenv("OPENAI_API_KEY"),
		BaseURL: os.Getenv("OPENAI_BASE_URL"),
	}
}

// New creates a backend for provider. Settings in args win over the
// environment.
func New(provider string, args map[string]any, opts ...OpenAIOption) (LLM, error) {
	if provider == "" {
		provider = "openai"
	}
	if !strings.EqualFold(provider, "openai") {
		return nil, fmt.Errorf("invalid LLM provider: %s", provider)
	}

	cfg := ConfigFromEnv()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(args); err != nil {
		return nil, fmt.Errorf("llm args: %w", err)
	}

	return NewOpenAI(cfg.Model, cfg.BaseURL, cfg.APIKey, opts...), nil
}
