package platform

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// X11 uses xdotool for window queries and input synthesis.
type X11 struct {
	base
	readFile func(string) ([]byte, error)
}

func NewX11(runner Runner, clip ClipboardBackend) *X11 {
	return &X11{base: base{runner: runner, clip: clip}, readFile: os.ReadFile}
}

func (x *X11) Name() string { return "x11" }

func (x *X11) Capabilities() Capabilities {
	return Capabilities{WindowQuery: true, Clipboard: x.clipboardSupported(), Paste: true, Keystrokes: true}
}

func (x *X11) FocusedWindow(ctx context.Context) (WindowInfo, error) {
	title, err := x.runner.Run(ctx, "xdotool", "getactivewindow", "getwindowname")
	if err != nil {
		return WindowInfo{}, err
	}
	info := WindowInfo{WindowTitle: strings.TrimSpace(string(title))}

	if class, err := x.runner.Run(ctx, "xdotool", "getactivewindow", "getwindowclassname"); err == nil {
		info.AppName = strings.TrimSpace(string(class))
	}
	if pid, err := x.runner.Run(ctx, "xdotool", "getactivewindow", "getwindowpid"); err == nil {
		info.ProcessName = x.processName(strings.TrimSpace(string(pid)))
	}
	if info.AppName == "" {
		info.AppName = info.ProcessName
	}
	return info, nil
}

func (x *X11) processName(pid string) string {
	if pid == "" {
		return ""
	}
	data, err := x.readFile(fmt.Sprintf("/proc/%s/comm", pid))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (x *X11) SendPaste(ctx context.Context) error {
	_, err := x.runner.Run(ctx, "xdotool", "key", "--clearmodifiers", "ctrl+v")
	return err
}

func (x *X11) SendKeystrokes(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	_, err := x.runner.Run(ctx, "xdotool", "type", "--clearmodifiers", "--delay", "1", "--", text)
	return err
}
