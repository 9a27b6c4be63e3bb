package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
)

var (
	// ErrUnavailable is returned when the backend cannot be reached.
	ErrUnavailable = errors.New("text transform unavailable")
	// ErrEmptyResponse is returned when the backend answered with no text.
	ErrEmptyResponse = errors.New("text transform returned empty text")
)

// ModelParameters tune the rewriting model.
type ModelParameters struct {
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Request is a single rewrite of a transcript under a composed instruction set.
type Request struct {
	Token           string          `json:"token,omitempty"`
	Text            string          `json:"text"`
	Instructions    string          `json:"instructions"`
	SourceLanguage  string          `json:"source_language,omitempty"`
	TargetLanguage  string          `json:"target_language,omitempty"`
	DictionaryHints []string        `json:"dictionary_hints,omitempty"`
	Model           ModelParameters `json:"model"`
}

// Response carries the rewritten text.
type Response struct {
	Text             string        `json:"text"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	Latency          time.Duration `json:"-"`
}

// Transformer is the external text-transform capability.
type Transformer interface {
	Transform(ctx context.Context, req Request) (Response, error)
}

// ParamsFromConfig builds model defaults from config.
func ParamsFromConfig(cfg config.TransformConfig) ModelParameters {
	return ModelParameters{Model: cfg.Model, Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens}
}

// New builds the backend selected by cfg.Mode. busClient is only needed for mode=bus.
func New(cfg config.TransformConfig, busClient *bus.Client, logger *slog.Logger) (Transformer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockTransformer(0), nil
	case "ollama":
		client, err := NewHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
		return NewOllamaTransformer(cfg.Endpoint, cfg.Model, client), nil
	case "exec":
		return NewExecTransformer(cfg.Command)
	case "bus":
		if busClient == nil {
			return nil, fmt.Errorf("transform mode bus requires a bus connection")
		}
		return NewBusTransformer(busClient, time.Duration(cfg.TimeoutMS)*time.Millisecond), nil
	}
	return nil, fmt.Errorf("unknown transform mode %q", cfg.Mode)
}

func coalesceInt(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
