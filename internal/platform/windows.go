package platform

import (
	"context"
	"errors"
	"strings"
)

const windowsForegroundScript = `Add-Type @"
using System;
using System.Runtime.InteropServices;
using System.Text;
public static class Fg {
  [DllImport("user32.dll")] public static extern IntPtr GetForegroundWindow();
  [DllImport("user32.dll")] public static extern int GetWindowText(IntPtr h, StringBuilder s, int n);
  [DllImport("user32.dll")] public static extern uint GetWindowThreadProcessId(IntPtr h, out uint p);
}
"@
$h = [Fg]::GetForegroundWindow()
$sb = New-Object System.Text.StringBuilder 1024
[void][Fg]::GetWindowText($h, $sb, 1024)
$procId = 0
[void][Fg]::GetWindowThreadProcessId($h, [ref]$procId)
$p = Get-Process -Id $procId
$desc = ""
try { $desc = $p.MainModule.FileVersionInfo.FileDescription } catch {}
Write-Output $p.ProcessName
Write-Output $desc
Write-Output $sb.ToString()`

// Windows uses PowerShell for window queries and SendKeys, and native key events for paste
// when built for Windows.
type Windows struct {
	base
	nativePaste func() error
}

func NewWindows(runner Runner, clip ClipboardBackend) *Windows {
	return &Windows{base: base{runner: runner, clip: clip}, nativePaste: sendNativePaste}
}

func (w *Windows) Name() string { return "windows" }

func (w *Windows) Capabilities() Capabilities {
	return Capabilities{WindowQuery: true, Clipboard: w.clipboardSupported(), Paste: true, Keystrokes: true}
}

func (w *Windows) FocusedWindow(ctx context.Context) (WindowInfo, error) {
	out, err := w.powershell(ctx, windowsForegroundScript)
	if err != nil {
		return WindowInfo{}, err
	}
	lines := splitLines(out)
	process := lineAt(lines, 0)
	name := lineAt(lines, 1)
	if name == "" {
		name = process
	}
	return WindowInfo{AppName: name, ProcessName: process, WindowTitle: lineAt(lines, 2)}, nil
}

func (w *Windows) SendPaste(ctx context.Context) error {
	if w.nativePaste != nil {
		err := w.nativePaste()
		if err == nil || !errors.Is(err, ErrUnsupported) {
			return err
		}
	}
	_, err := w.powershell(ctx, sendKeysScript("^v"))
	return err
}

func (w *Windows) SendKeystrokes(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	_, err := w.powershell(ctx, sendKeysScript(escapeSendKeys(text)))
	return err
}

func (w *Windows) powershell(ctx context.Context, script string) ([]byte, error) {
	return w.runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
}

func sendKeysScript(keys string) string {
	quoted := strings.ReplaceAll(keys, "'", "''")
	return "Add-Type -AssemblyName System.Windows.Forms; [System.Windows.Forms.SendKeys]::SendWait('" + quoted + "')"
}

// escapeSendKeys wraps SendKeys metacharacters in braces and maps control characters to
// their key names.
func escapeSendKeys(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var b strings.Builder
	for _, r := range text {
		switch r {
		case '+', '^', '%', '~', '(', ')', '[', ']':
			b.WriteRune('{')
			b.WriteRune(r)
			b.WriteRune('}')
		case '{':
			b.WriteString("{{}")
		case '}':
			b.WriteString("{}}")
		case '\n', '\r':
			b.WriteString("{ENTER}")
		case '\t':
			b.WriteString("{TAB}")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
