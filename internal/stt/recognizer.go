package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// Result captures recognizer output for one finished recording.
type Result struct {
	Text       string
	Language   string
	Confidence float64
}

// Recognizer abstracts STT backends.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int) (Result, error)
}

// New builds the recognizer selected by cfg.Mode.
func New(cfg config.STTConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockRecognizer(cfg.MockText, cfg.Language), nil
	case "exec":
		return NewExecRecognizer(cfg)
	}
	return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
}
