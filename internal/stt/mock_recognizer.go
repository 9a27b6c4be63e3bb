package stt

import (
	"context"
	"fmt"
)

type mockRecognizer struct {
	text     string
	language string
}

// NewMockRecognizer returns text for every recording. An empty text describes the buffer instead.
func NewMockRecognizer(text, language string) Recognizer {
	return &mockRecognizer{text: text, language: language}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, pcm []byte, _ int, _ int) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	text := m.text
	if text == "" {
		text = fmt.Sprintf("recording of %d bytes", len(pcm))
	}
	return Result{Text: text, Language: m.language, Confidence: 1}, nil
}
