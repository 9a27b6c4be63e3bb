package platform

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"
)

// TextPlaceholder is substituted with the text in a keystroke command template. When absent the
// text is appended as the final argument.
const TextPlaceholder = "{text}"

// Command runs user-configured command templates. The window command must print the app name,
// process name, bundle id and window title on separate lines.
type Command struct {
	base
	window []string
	paste  []string
	typing []string
}

func NewCommand(runner Runner, clip ClipboardBackend, windowCmd, pasteCmd, typeCmd string) (*Command, error) {
	c := &Command{base: base{runner: runner, clip: clip}}
	var err error
	if c.window, err = parseTemplate("window", windowCmd); err != nil {
		return nil, err
	}
	if c.paste, err = parseTemplate("paste", pasteCmd); err != nil {
		return nil, err
	}
	if c.typing, err = parseTemplate("type", typeCmd); err != nil {
		return nil, err
	}
	return c, nil
}

func parseTemplate(name, command string) ([]string, error) {
	if strings.TrimSpace(command) == "" {
		return nil, nil
	}
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse %s command: %w", name, err)
	}
	return args, nil
}

func (c *Command) Name() string { return "command" }

func (c *Command) Capabilities() Capabilities {
	return Capabilities{
		WindowQuery: len(c.window) > 0,
		Clipboard:   c.clipboardSupported(),
		Paste:       len(c.paste) > 0,
		Keystrokes:  len(c.typing) > 0,
	}
}

func (c *Command) FocusedWindow(ctx context.Context) (WindowInfo, error) {
	if len(c.window) == 0 {
		return WindowInfo{}, ErrUnsupported
	}
	out, err := c.runner.Run(ctx, c.window[0], c.window[1:]...)
	if err != nil {
		return WindowInfo{}, err
	}
	lines := splitLines(out)
	return WindowInfo{
		AppName:     lineAt(lines, 0),
		ProcessName: lineAt(lines, 1),
		BundleID:    lineAt(lines, 2),
		WindowTitle: lineAt(lines, 3),
	}, nil
}

func (c *Command) SendPaste(ctx context.Context) error {
	if len(c.paste) == 0 {
		return ErrUnsupported
	}
	_, err := c.runner.Run(ctx, c.paste[0], c.paste[1:]...)
	return err
}

func (c *Command) SendKeystrokes(ctx context.Context, text string) error {
	if len(c.typing) == 0 {
		return ErrUnsupported
	}
	if text == "" {
		return nil
	}
	args := expandTemplate(c.typing[1:], text)
	_, err := c.runner.Run(ctx, c.typing[0], args...)
	return err
}

func expandTemplate(args []string, text string) []string {
	out := make([]string, 0, len(args)+1)
	substituted := false
	for _, arg := range args {
		if strings.Contains(arg, TextPlaceholder) {
			arg = strings.ReplaceAll(arg, TextPlaceholder, text)
			substituted = true
		}
		out = append(out, arg)
	}
	if !substituted {
		out = append(out, text)
	}
	return out
}

// None supports only the clipboard, when the host has one.
type None struct {
	base
}

func NewNone(clip ClipboardBackend) *None {
	return &None{base: base{clip: clip}}
}

func (n *None) Name() string { return "none" }

func (n *None) Capabilities() Capabilities {
	return Capabilities{Clipboard: n.clipboardSupported()}
}

func (n *None) FocusedWindow(context.Context) (WindowInfo, error) { return WindowInfo{}, ErrUnsupported }
func (n *None) SendPaste(context.Context) error                  { return ErrUnsupported }
func (n *None) SendKeystrokes(context.Context, string) error     { return ErrUnsupported }
