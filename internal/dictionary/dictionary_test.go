package dictionary

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-dictate/internal/domain"
)

func entries(pairs ...string) []domain.DictionaryEntry {
	out := make([]domain.DictionaryEntry, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.DictionaryEntry{Key: pairs[i], Value: pairs[i+1]})
	}
	return out
}

func TestApply(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		entries []domain.DictionaryEntry
		want    string
	}{
		{"case insensitive", "ask kubernetes about it", entries("Kubernetes", "Kubernetes"), "ask Kubernetes about it"},
		{"whole word only", "said saidai and ai", entries("ai", "AI"), "said saidai and AI"},
		{"longest key first", "the ai model and ai", entries("AI", "A.I.", "AI model", "LLM"), "the LLM and A.I."},
		{"value verbatim", "ping jon", entries("jon", "Jón Þór"), "ping Jón Þór"},
		{"punctuation boundaries", "(gpt), gpt!", entries("gpt", "GPT"), "(GPT), GPT!"},
		{"replaced spans not rescanned", "loqa", entries("loqa", "loqa labs", "labs", "LABS"), "loqa labs"},
		{"no entries", "unchanged", nil, "unchanged"},
		{"empty key ignored", "text", entries("  ", "x"), "text"},
		{"unicode word boundary", "über überall", entries("über", "UBER"), "UBER überall"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Apply(tc.text, tc.entries); got != tc.want {
				t.Fatalf("Apply(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestApplyIdempotent(t *testing.T) {
	dict := entries("ai model", "AI model", "loqa", "Loqa")
	once := Apply("the ai model from loqa", dict)
	twice := Apply(once, dict)
	if once != twice {
		t.Fatalf("expected idempotent substitution, got %q then %q", once, twice)
	}
}

func TestParseFormats(t *testing.T) {
	list, err := Parse([]byte("- key: ai\n  value: AI\n- key: k8s\n  value: Kubernetes\n"))
	if err != nil || len(list) != 2 || list[1].Value != "Kubernetes" {
		t.Fatalf("unexpected list parse %+v %v", list, err)
	}
	mapping, err := Parse([]byte(`{"zeta": "Z", "alpha": "A"}`))
	if err != nil || len(mapping) != 2 || mapping[0].Key != "zeta" {
		t.Fatalf("expected file order preserved, got %+v %v", mapping, err)
	}
	if _, err := Parse([]byte("just a string")); err == nil {
		t.Fatal("expected scalar document to be rejected")
	}
	if _, err := Parse([]byte("key:\n  nested: true\n")); err == nil {
		t.Fatal("expected nested value to be rejected")
	}
}

func TestLoadMissingFile(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty dictionary, got %+v %v", got, err)
	}
}

func TestFileSourceReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.yaml")
	if err := os.WriteFile(path, []byte("ai: AI\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	src := &FileSource{Path: path}
	first, err := src.Entries(context.Background())
	if err != nil || len(first) != 1 {
		t.Fatalf("unexpected entries %+v %v", first, err)
	}
	if err := os.WriteFile(path, []byte("ai: AI\nk8s: Kubernetes\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	second, err := src.Entries(context.Background())
	if err != nil || len(second) != 2 {
		t.Fatalf("expected reload after change, got %+v %v", second, err)
	}
}

type flakySource struct {
	calls int
}

func (f *flakySource) Entries(context.Context) ([]domain.DictionaryEntry, error) {
	f.calls++
	if f.calls > 1 {
		return nil, errors.New("disk gone")
	}
	return entries("ai", "AI"), nil
}

func TestCacheKeepsLastGood(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := NewCache(&flakySource{}, logger)
	if got := cache.Entries(context.Background()); len(got) != 1 {
		t.Fatalf("unexpected first load %+v", got)
	}
	if got := cache.Entries(context.Background()); len(got) != 1 || got[0].Value != "AI" {
		t.Fatalf("expected last good entries, got %+v", got)
	}
	var nilCache *Cache
	if got := nilCache.Entries(context.Background()); got != nil {
		t.Fatalf("expected nil cache to yield nothing, got %+v", got)
	}
}
