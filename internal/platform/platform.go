package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/atotto/clipboard"
)

var (
	// ErrUnsupported is returned when the adapter cannot perform an operation on this host.
	ErrUnsupported = errors.New("operation not supported on this platform")
	// ErrPermissionDenied is returned when the OS refused automation (accessibility, UIPI, ...).
	ErrPermissionDenied = errors.New("automation permission denied")
)

// WindowInfo is the raw focused-window observation.
type WindowInfo struct {
	AppName     string `json:"app_name"`
	ProcessName string `json:"process_name"`
	BundleID    string `json:"bundle_id,omitempty"`
	WindowTitle string `json:"window_title"`
}

// Empty reports whether nothing usable was observed.
func (w WindowInfo) Empty() bool {
	return strings.TrimSpace(w.AppName) == "" &&
		strings.TrimSpace(w.ProcessName) == "" &&
		strings.TrimSpace(w.BundleID) == "" &&
		strings.TrimSpace(w.WindowTitle) == ""
}

// Capabilities advertises which primitives an adapter can perform.
type Capabilities struct {
	WindowQuery bool `json:"window_query"`
	Clipboard   bool `json:"clipboard"`
	Paste       bool `json:"paste"`
	Keystrokes  bool `json:"keystrokes"`
}

// WindowQuerier reads the focused application.
type WindowQuerier interface {
	FocusedWindow(ctx context.Context) (WindowInfo, error)
}

// Clipboard reads and writes the system clipboard.
type Clipboard interface {
	GetClipboard(ctx context.Context) (string, error)
	SetClipboard(ctx context.Context, text string) error
}

// Keyboard synthesizes input into the focused application.
type Keyboard interface {
	SendPaste(ctx context.Context) error
	SendKeystrokes(ctx context.Context, text string) error
}

// Automation is the per-platform adapter selected once at startup.
type Automation interface {
	WindowQuerier
	Clipboard
	Keyboard
	Name() string
	Capabilities() Capabilities
}

// Runner executes OS commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec. A positive Timeout bounds every command.
type ExecRunner struct {
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, classifyCommandError(name, err, stderr.String())
	}
	return out, nil
}

func classifyCommandError(name string, err error, stderr string) error {
	detail := strings.TrimSpace(stderr)
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%s: %w: %v", name, ErrUnsupported, err)
	}
	lower := strings.ToLower(detail)
	for _, marker := range permissionMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%s: %w: %s", name, ErrPermissionDenied, detail)
		}
	}
	if detail != "" {
		return fmt.Errorf("%s failed: %w: %s", name, err, detail)
	}
	return fmt.Errorf("%s failed: %w", name, err)
}

var permissionMarkers = []string{
	"not allowed assistive access",
	"not allowed to send keystrokes",
	"not authorized to send apple events",
	"(-1743)",
	"(-1719)",
	"(-25211)",
	"access is denied",
}

// ClipboardBackend is the raw clipboard implementation.
type ClipboardBackend interface {
	ReadAll() (string, error)
	WriteAll(text string) error
	Unsupported() bool
}

// SystemClipboard uses atotto/clipboard (pbcopy, xclip/xsel/wl-clipboard, Win32).
type SystemClipboard struct{}

func (SystemClipboard) ReadAll() (string, error)   { return clipboard.ReadAll() }
func (SystemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }
func (SystemClipboard) Unsupported() bool          { return clipboard.Unsupported }

type base struct {
	runner Runner
	clip   ClipboardBackend
}

func (b base) GetClipboard(_ context.Context) (string, error) {
	if b.clip == nil || b.clip.Unsupported() {
		return "", ErrUnsupported
	}
	text, err := b.clip.ReadAll()
	if err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}
	return text, nil
}

func (b base) SetClipboard(_ context.Context, text string) error {
	if b.clip == nil || b.clip.Unsupported() {
		return ErrUnsupported
	}
	if err := b.clip.WriteAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	return nil
}

func (b base) clipboardSupported() bool {
	return b.clip != nil && !b.clip.Unsupported()
}

func splitLines(out []byte) []string {
	text := strings.ReplaceAll(string(out), "\r\n", "\n")
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func lineAt(lines []string, i int) string {
	if i < len(lines) {
		return strings.TrimSpace(lines[i])
	}
	return ""
}
