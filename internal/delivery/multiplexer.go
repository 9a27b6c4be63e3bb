package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/platform"
)

var (
	// ErrEmptyText is returned when there is nothing to insert.
	ErrEmptyText = errors.New("nothing to deliver")
	// ErrNoStrategy is returned when the platform offers no usable insertion strategy.
	ErrNoStrategy = errors.New("no delivery strategy available")
)

// Strategy limits which insertion paths may be used.
type Strategy string

const (
	StrategyAuto       Strategy = "auto"
	StrategyClipboard  Strategy = "clipboard"
	StrategyKeystrokes Strategy = "keystrokes"
)

// Method names the path that inserted the text.
type Method string

const (
	MethodNone       Method = ""
	MethodClipboard  Method = "clipboard"
	MethodKeystrokes Method = "keystrokes"
)

// Options configure a Multiplexer.
type Options struct {
	Strategy     Strategy
	RestoreDelay time.Duration
	PasteSettle  time.Duration
}

// DefaultRestoreDelay is how long the pasted text stays on the clipboard before the previous
// contents are put back.
const DefaultRestoreDelay = 500 * time.Millisecond

// Result describes a delivery attempt.
type Result struct {
	Delivered        bool
	Method           Method
	RestoreScheduled bool
	Err              error
}

// Multiplexer inserts text into the focused application.
type Multiplexer struct {
	auto      platform.Automation
	opts      Options
	logger    *slog.Logger
	afterFunc func(time.Duration, func()) *time.Timer

	restores sync.WaitGroup
}

func NewMultiplexer(auto platform.Automation, opts Options, logger *slog.Logger) *Multiplexer {
	if opts.Strategy == "" {
		opts.Strategy = StrategyAuto
	}
	if opts.RestoreDelay <= 0 {
		opts.RestoreDelay = DefaultRestoreDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{
		auto:      auto,
		opts:      opts,
		logger:    logger.With(slog.String("component", "delivery")),
		afterFunc: time.AfterFunc,
	}
}

// Deliver inserts text and reports whether any strategy succeeded. It never retries.
func (m *Multiplexer) Deliver(ctx context.Context, text string) bool {
	return m.DeliverDetailed(ctx, text).Delivered
}

// DeliverDetailed is Deliver with the winning method and the collected failures.
func (m *Multiplexer) DeliverDetailed(ctx context.Context, text string) Result {
	text = NormalizeEscapes(text)
	if strings.TrimSpace(text) == "" {
		return Result{Err: ErrEmptyText}
	}
	if m.auto == nil {
		return Result{Err: ErrNoStrategy}
	}

	caps := m.auto.Capabilities()
	var errs []error

	if m.opts.Strategy != StrategyKeystrokes && caps.Clipboard && caps.Paste {
		restoring, err := m.viaClipboard(ctx, text)
		if err == nil {
			return Result{Delivered: true, Method: MethodClipboard, RestoreScheduled: restoring}
		}
		errs = append(errs, err)
		m.logger.Warn("clipboard delivery failed", slog.String("stage", "delivery"),
			slog.Int("chars", len(text)), slogError(err))
	}

	if m.opts.Strategy != StrategyClipboard && caps.Keystrokes {
		err := m.auto.SendKeystrokes(ctx, text)
		if err == nil {
			return Result{Delivered: true, Method: MethodKeystrokes}
		}
		errs = append(errs, fmt.Errorf("keystrokes: %w", err))
		m.logger.Warn("keystroke delivery failed", slog.String("stage", "delivery"),
			slog.Int("chars", len(text)), slogError(err))
	}

	if len(errs) == 0 {
		return Result{Err: ErrNoStrategy}
	}
	return Result{Err: errors.Join(errs...)}
}

// viaClipboard saves the clipboard, pastes text and schedules the restore. The save completes
// before the paste is issued; the restore runs after a fixed delay and may race a user copy.
func (m *Multiplexer) viaClipboard(ctx context.Context, text string) (bool, error) {
	saved, saveErr := m.auto.GetClipboard(ctx)
	hasSaved := saveErr == nil
	if saveErr != nil {
		m.logger.Debug("clipboard save skipped", slogError(saveErr))
	}

	if err := m.auto.SetClipboard(ctx, text); err != nil {
		return false, fmt.Errorf("set clipboard: %w", err)
	}
	if err := m.auto.SendPaste(ctx); err != nil {
		if hasSaved {
			m.restore(saved)
		}
		return false, fmt.Errorf("paste: %w", err)
	}

	if m.opts.PasteSettle > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(m.opts.PasteSettle):
		}
	}

	if !hasSaved || saved == text {
		return false, nil
	}
	m.restores.Add(1)
	m.afterFunc(m.opts.RestoreDelay, func() {
		defer m.restores.Done()
		m.restore(saved)
	})
	return true, nil
}

func (m *Multiplexer) restore(saved string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.auto.SetClipboard(ctx, saved); err != nil {
		m.logger.Warn("clipboard restore failed", slogError(err))
	}
}

// Wait blocks until scheduled clipboard restores have run.
func (m *Multiplexer) Wait() {
	m.restores.Wait()
}

var escapeReplacer = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r")

// NormalizeEscapes turns literal \n, \t and \r sequences into control characters.
func NormalizeEscapes(text string) string {
	if !strings.Contains(text, `\`) {
		return text
	}
	return escapeReplacer.Replace(text)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
