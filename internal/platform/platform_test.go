package platform

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls   []call
	outputs map[string][]byte
	errs    map[string]error
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, call{name: name, args: append([]string(nil), args...)})
	key := name
	if len(args) > 0 {
		key = name + " " + args[len(args)-1]
	}
	if err, ok := r.errs[key]; ok {
		return nil, err
	}
	if out, ok := r.outputs[key]; ok {
		return out, nil
	}
	return r.outputs[name], r.errs[name]
}

type memClipboard struct {
	text        string
	unsupported bool
}

func (m *memClipboard) ReadAll() (string, error)   { return m.text, nil }
func (m *memClipboard) WriteAll(text string) error { m.text = text; return nil }
func (m *memClipboard) Unsupported() bool          { return m.unsupported }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestClassifyCommandErrorPermission(t *testing.T) {
	err := classifyCommandError("osascript", errors.New("exit status 1"),
		"execution error: System Events got an error: osascript is not allowed assistive access. (-1719)")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission error, got %v", err)
	}
	err = classifyCommandError("xdotool", exec.ErrNotFound, "")
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
	err = classifyCommandError("wtype", errors.New("exit status 2"), "compositor does not support virtual keyboard")
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected plain failure, got %v", err)
	}
}

func TestDarwinFocusedWindow(t *testing.T) {
	runner := &fakeRunner{outputs: map[string][]byte{
		"osascript": []byte("Mail\ncom.apple.mail\nInbox – 3 messages\n"),
	}}
	d := NewDarwin(runner, &memClipboard{})
	info, err := d.FocusedWindow(context.Background())
	if err != nil {
		t.Fatalf("focused window: %v", err)
	}
	if info.AppName != "Mail" || info.ProcessName != "Mail" || info.BundleID != "com.apple.mail" {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.WindowTitle != "Inbox – 3 messages" {
		t.Fatalf("unexpected title %q", info.WindowTitle)
	}
}

func TestAppleScriptKeystrokesEscapes(t *testing.T) {
	script := appleScriptKeystrokes("say \"hi\" \\ now\nnext\tcol")
	if !strings.Contains(script, `keystroke "say \"hi\" \\ now"`) {
		t.Fatalf("quotes and backslashes not escaped: %s", script)
	}
	if !strings.Contains(script, "key code 36") {
		t.Fatalf("expected return key: %s", script)
	}
	if !strings.Contains(script, "key code 48") {
		t.Fatalf("expected tab key: %s", script)
	}
	if strings.Count(appleScriptKeystrokes("a\r\nb"), "key code 36") != 1 {
		t.Fatalf("expected CRLF to produce a single return")
	}
}

func TestEscapeSendKeys(t *testing.T) {
	got := escapeSendKeys("1+1=2 {ok} (yes) 50% ^~\n")
	want := "1{+}1=2 {{}ok{}} {(}yes{)} 50{%} {^}{~}{ENTER}"
	if got != want {
		t.Fatalf("unexpected escape\n got: %s\nwant: %s", got, want)
	}
	if s := sendKeysScript("it's"); !strings.Contains(s, "SendWait('it''s')") {
		t.Fatalf("single quote not doubled: %s", s)
	}
}

func TestWindowsPasteFallsBackToSendKeys(t *testing.T) {
	runner := &fakeRunner{}
	w := NewWindows(runner, &memClipboard{})
	w.nativePaste = func() error { return ErrUnsupported }
	if err := w.SendPaste(context.Background()); err != nil {
		t.Fatalf("paste: %v", err)
	}
	if len(runner.calls) != 1 || runner.calls[0].name != "powershell" {
		t.Fatalf("expected powershell fallback, got %+v", runner.calls)
	}
	if !strings.Contains(runner.calls[0].args[len(runner.calls[0].args)-1], "SendWait('^v')") {
		t.Fatalf("expected ctrl+v send keys, got %v", runner.calls[0].args)
	}

	runner.calls = nil
	w.nativePaste = func() error { return nil }
	if err := w.SendPaste(context.Background()); err != nil {
		t.Fatalf("paste: %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("expected native paste only, got %+v", runner.calls)
	}
}

func TestX11FocusedWindow(t *testing.T) {
	runner := &fakeRunner{outputs: map[string][]byte{
		"xdotool getwindowname":      []byte("main.go - loqa - Visual Studio Code\n"),
		"xdotool getwindowclassname": []byte("Code\n"),
		"xdotool getwindowpid":       []byte("4242\n"),
	}}
	x := NewX11(runner, &memClipboard{})
	x.readFile = func(path string) ([]byte, error) {
		if path != "/proc/4242/comm" {
			t.Fatalf("unexpected path %s", path)
		}
		return []byte("code\n"), nil
	}
	info, err := x.FocusedWindow(context.Background())
	if err != nil {
		t.Fatalf("focused window: %v", err)
	}
	if info.AppName != "Code" || info.ProcessName != "code" || info.WindowTitle != "main.go - loqa - Visual Studio Code" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestX11KeystrokesUseSeparator(t *testing.T) {
	runner := &fakeRunner{}
	x := NewX11(runner, &memClipboard{})
	if err := x.SendKeystrokes(context.Background(), "--help me"); err != nil {
		t.Fatalf("keystrokes: %v", err)
	}
	args := runner.calls[0].args
	if args[len(args)-2] != "--" || args[len(args)-1] != "--help me" {
		t.Fatalf("expected text after --, got %v", args)
	}
}

func TestWaylandCompositorQueries(t *testing.T) {
	runner := &fakeRunner{outputs: map[string][]byte{
		"hyprctl -j": []byte(`{"class":"firefox","title":"Inbox - Gmail — Mozilla Firefox","initialClass":"firefox"}`),
		"swaymsg -r": []byte(`{"name":"root","nodes":[{"name":"ws","nodes":[{"name":"notes.md - Obsidian","app_id":"obsidian","focused":true}]}]}`),
	}}
	hypr := NewWayland(runner, &memClipboard{}, "hyprland")
	info, err := hypr.FocusedWindow(context.Background())
	if err != nil {
		t.Fatalf("hyprland: %v", err)
	}
	if info.AppName != "firefox" || !strings.Contains(info.WindowTitle, "Gmail") {
		t.Fatalf("unexpected hyprland info %+v", info)
	}

	sway := NewWayland(runner, &memClipboard{}, "sway")
	info, err = sway.FocusedWindow(context.Background())
	if err != nil {
		t.Fatalf("sway: %v", err)
	}
	if info.AppName != "obsidian" || info.WindowTitle != "notes.md - Obsidian" {
		t.Fatalf("unexpected sway info %+v", info)
	}

	bare := NewWayland(runner, &memClipboard{}, "")
	if _, err := bare.FocusedWindow(context.Background()); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected unsupported without compositor IPC, got %v", err)
	}
	if bare.Capabilities().WindowQuery {
		t.Fatal("expected window query capability off")
	}
}

func TestCommandTemplates(t *testing.T) {
	runner := &fakeRunner{}
	c, err := NewCommand(runner, &memClipboard{}, "", "ydotool key 29:1 47:1 47:0 29:0", `ydotool type --file - "{text}"`)
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	if c.Capabilities().WindowQuery {
		t.Fatal("expected no window query without a window command")
	}
	if err := c.SendKeystrokes(context.Background(), "hello world"); err != nil {
		t.Fatalf("type: %v", err)
	}
	got := runner.calls[0]
	if got.name != "ydotool" || got.args[len(got.args)-1] != "hello world" || len(got.args) != 4 {
		t.Fatalf("unexpected call %+v", got)
	}
	if _, err := NewCommand(runner, nil, "", `broken "quote`, ""); err == nil {
		t.Fatal("expected parse error")
	}
	if got := expandTemplate([]string{"type"}, "x y"); len(got) != 2 || got[1] != "x y" {
		t.Fatalf("expected text appended, got %v", got)
	}
}

func TestBaseClipboardUnsupported(t *testing.T) {
	n := NewNone(&memClipboard{unsupported: true})
	if _, err := n.GetClipboard(context.Background()); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	if err := n.SetClipboard(context.Background(), "x"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	if n.Capabilities() != (Capabilities{}) {
		t.Fatalf("expected no capabilities, got %+v", n.Capabilities())
	}
}

func TestDetectWith(t *testing.T) {
	env := func(vars map[string]string) func(string) string {
		return func(k string) string { return vars[k] }
	}
	look := func(bins ...string) func(string) (string, error) {
		return func(name string) (string, error) {
			for _, b := range bins {
				if b == name {
					return "/usr/bin/" + name, nil
				}
			}
			return "", exec.ErrNotFound
		}
	}
	cases := []struct {
		name  string
		cfg   config.PlatformConfig
		probe Probe
		want  string
	}{
		{name: "mac", probe: Probe{GOOS: "darwin", Getenv: env(nil), LookPath: look("osascript")}, want: "darwin"},
		{name: "windows", probe: Probe{GOOS: "windows", Getenv: env(nil), LookPath: look()}, want: "windows"},
		{name: "wayland", probe: Probe{GOOS: "linux", Getenv: env(map[string]string{"WAYLAND_DISPLAY": "wayland-0", "DISPLAY": ":0"}), LookPath: look("wtype", "xdotool")}, want: "wayland"},
		{name: "xwayland fallback", probe: Probe{GOOS: "linux", Getenv: env(map[string]string{"WAYLAND_DISPLAY": "wayland-0", "DISPLAY": ":0"}), LookPath: look("xdotool")}, want: "x11"},
		{name: "headless", probe: Probe{GOOS: "linux", Getenv: env(nil), LookPath: look("xdotool")}, want: "none"},
		{name: "forced", cfg: config.PlatformConfig{Force: "x11"}, probe: Probe{GOOS: "darwin"}, want: "x11"},
		{name: "command", cfg: config.PlatformConfig{Force: "command", PasteCommand: "ydotool key 29:1 47:1 47:0 29:0"}, probe: Probe{GOOS: "linux"}, want: "command"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			adapter, err := DetectWith(tc.cfg, tc.probe, &fakeRunner{}, &memClipboard{}, discardLogger())
			if err != nil {
				t.Fatalf("detect: %v", err)
			}
			if adapter.Name() != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, adapter.Name())
			}
		})
	}
}
