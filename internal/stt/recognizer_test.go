package stt

import (
	"context"
	"runtime"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

func TestMockRecognizer(t *testing.T) {
	rec, err := New(config.STTConfig{Mode: "mock", MockText: "hello world", Language: "en"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := rec.Transcribe(context.Background(), make([]byte, 32), 16000, 1)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "hello world" || res.Language != "en" {
		t.Fatalf("unexpected result %+v", res)
	}

	res, _ = NewMockRecognizer("", "").Transcribe(context.Background(), make([]byte, 8), 16000, 1)
	if !strings.Contains(res.Text, "8 bytes") {
		t.Fatalf("expected size description, got %q", res.Text)
	}
}

func TestUnknownMode(t *testing.T) {
	if _, err := New(config.STTConfig{Mode: "cloud"}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := New(config.STTConfig{Mode: "exec"}); err == nil {
		t.Fatal("expected empty command error")
	}
}

func TestExecRecognizerPassesFlags(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	// The script checks that the WAV exists and echoes the language flag back.
	script := `test -s "$2" || exit 4; echo "{\"text\": \" bonjour \", \"language\": \"$6\", \"confidence\": 0.8}"`
	rec, err := NewExecRecognizer(config.STTConfig{
		Command:   "sh -c '" + script + "' stt",
		ModelPath: "/models/base.bin",
		Language:  "fr",
		TimeoutMS: 5000,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	pcm := make([]byte, 3200)
	res, err := rec.Transcribe(context.Background(), pcm, 16000, 1)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "bonjour" || res.Language != "fr" || res.Confidence != 0.8 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestExecRecognizerFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	rec, err := NewExecRecognizer(config.STTConfig{Command: `sh -c 'echo broken >&2; exit 2' stt`})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = rec.Transcribe(context.Background(), make([]byte, 4), 16000, 1)
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}
