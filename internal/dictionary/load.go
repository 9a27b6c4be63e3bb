package dictionary

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/domain"
	"gopkg.in/yaml.v3"
)

// Load reads dictionary entries from a YAML or JSON file. Both a list of {key, value} objects and a
// key: value mapping are accepted. A missing file yields no entries.
func Load(path string) ([]domain.DictionaryEntry, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dictionary: %w", err)
	}
	return Parse(data)
}

// Parse decodes dictionary entries, preserving file order.
func Parse(data []byte) ([]domain.DictionaryEntry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse dictionary: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var entries []domain.DictionaryEntry
		if err := root.Decode(&entries); err != nil {
			return nil, fmt.Errorf("decode dictionary list: %w", err)
		}
		return clean(entries), nil
	case yaml.MappingNode:
		entries := make([]domain.DictionaryEntry, 0, len(root.Content)/2)
		for i := 0; i+1 < len(root.Content); i += 2 {
			key, value := root.Content[i], root.Content[i+1]
			if value.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("dictionary value for %q must be a string (line %d)", key.Value, value.Line)
			}
			entries = append(entries, domain.DictionaryEntry{Key: key.Value, Value: value.Value})
		}
		return clean(entries), nil
	}
	return nil, fmt.Errorf("dictionary must be a list or a mapping")
}

func clean(entries []domain.DictionaryEntry) []domain.DictionaryEntry {
	out := entries[:0]
	for _, e := range entries {
		if strings.TrimSpace(e.Key) == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Source yields the current dictionary.
type Source interface {
	Entries(ctx context.Context) ([]domain.DictionaryEntry, error)
}

// FileSource reads the local dictionary file, reparsing only when its modification time changes.
type FileSource struct {
	Path string

	mu      sync.Mutex
	modTime time.Time
	size    int64
	entries []domain.DictionaryEntry
}

func (f *FileSource) Entries(ctx context.Context) ([]domain.DictionaryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Path == "" {
		return nil, nil
	}
	info, err := os.Stat(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		f.mu.Lock()
		f.entries, f.modTime, f.size = nil, time.Time{}, 0
		f.mu.Unlock()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat dictionary: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries != nil && info.ModTime().Equal(f.modTime) && info.Size() == f.size {
		return f.entries, nil
	}
	entries, err := Load(f.Path)
	if err != nil {
		return nil, err
	}
	f.entries, f.modTime, f.size = entries, info.ModTime(), info.Size()
	return entries, nil
}

// Cache wraps a Source and degrades to the last good dictionary when loading fails.
type Cache struct {
	source Source
	logger *slog.Logger

	mu       sync.Mutex
	lastGood []domain.DictionaryEntry
}

func NewCache(source Source, logger *slog.Logger) *Cache {
	return &Cache{source: source, logger: logger.With(slog.String("component", "dictionary"))}
}

// Entries never fails; errors are logged and the previous entries returned.
func (c *Cache) Entries(ctx context.Context) []domain.DictionaryEntry {
	if c == nil || c.source == nil {
		return nil
	}
	entries, err := c.source.Entries(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.logger.Warn("dictionary load failed", slog.Int("cached_entries", len(c.lastGood)), slogError(err))
		return c.lastGood
	}
	c.lastGood = entries
	return entries
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
