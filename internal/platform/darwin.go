package platform

import (
	"context"
	"fmt"
	"strings"
)

const darwinFrontmostScript = `tell application "System Events"
	set frontApp to first application process whose frontmost is true
	set appName to name of frontApp
	set bundleID to ""
	try
		set bundleID to bundle identifier of frontApp
	end try
	set windowTitle to ""
	try
		set windowTitle to name of front window of frontApp
	end try
end tell
return appName & linefeed & bundleID & linefeed & windowTitle`

// Darwin drives macOS through osascript and System Events.
type Darwin struct {
	base
}

func NewDarwin(runner Runner, clip ClipboardBackend) *Darwin {
	return &Darwin{base: base{runner: runner, clip: clip}}
}

func (d *Darwin) Name() string { return "darwin" }

func (d *Darwin) Capabilities() Capabilities {
	return Capabilities{WindowQuery: true, Clipboard: d.clipboardSupported(), Paste: true, Keystrokes: true}
}

func (d *Darwin) FocusedWindow(ctx context.Context) (WindowInfo, error) {
	out, err := d.runner.Run(ctx, "osascript", "-e", darwinFrontmostScript)
	if err != nil {
		return WindowInfo{}, err
	}
	lines := splitLines(out)
	name := lineAt(lines, 0)
	return WindowInfo{
		AppName:     name,
		ProcessName: name,
		BundleID:    lineAt(lines, 1),
		WindowTitle: lineAt(lines, 2),
	}, nil
}

func (d *Darwin) SendPaste(ctx context.Context) error {
	_, err := d.runner.Run(ctx, "osascript", "-e",
		`tell application "System Events" to keystroke "v" using command down`)
	return err
}

func (d *Darwin) SendKeystrokes(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	_, err := d.runner.Run(ctx, "osascript", "-e", appleScriptKeystrokes(text))
	return err
}

// appleScriptKeystrokes renders text as a System Events block. Line breaks become the
// return key and tabs the tab key, since keystroke does not interpret control characters.
func appleScriptKeystrokes(text string) string {
	var b strings.Builder
	b.WriteString("tell application \"System Events\"\n")
	var run strings.Builder
	text = strings.ReplaceAll(text, "\r\n", "\n")
	flush := func() {
		if run.Len() == 0 {
			return
		}
		fmt.Fprintf(&b, "\tkeystroke \"%s\"\n", escapeAppleScript(run.String()))
		run.Reset()
	}
	for _, r := range text {
		switch r {
		case '\n', '\r':
			flush()
			b.WriteString("\tkey code 36\n")
		case '\t':
			flush()
			b.WriteString("\tkey code 48\n")
		default:
			run.WriteRune(r)
		}
	}
	flush()
	b.WriteString("end tell")
	return b.String()
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
