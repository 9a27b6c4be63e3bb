package platform

import (
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// Probe describes the host. Fields are swappable in tests.
type Probe struct {
	GOOS     string
	Getenv   func(string) string
	LookPath func(string) (string, error)
}

// HostProbe inspects the running process.
func HostProbe() Probe {
	return Probe{GOOS: runtime.GOOS, Getenv: os.Getenv, LookPath: exec.LookPath}
}

func (p Probe) has(bin string) bool {
	if p.LookPath == nil {
		return false
	}
	_, err := p.LookPath(bin)
	return err == nil
}

// Detect selects the automation adapter once at startup.
func Detect(cfg config.PlatformConfig, logger *slog.Logger) (Automation, error) {
	runner := ExecRunner{Timeout: time.Duration(cfg.CommandTimeoutMS) * time.Millisecond}
	return DetectWith(cfg, HostProbe(), runner, SystemClipboard{}, logger)
}

// DetectWith is Detect with explicit host, runner and clipboard.
func DetectWith(cfg config.PlatformConfig, probe Probe, runner Runner, clip ClipboardBackend, logger *slog.Logger) (Automation, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "platform"))

	var (
		adapter Automation
		err     error
	)
	switch cfg.Force {
	case "":
		adapter = autodetect(probe, runner, clip)
	case "darwin":
		adapter = NewDarwin(runner, clip)
	case "x11":
		adapter = NewX11(runner, clip)
	case "wayland":
		adapter = NewWayland(runner, clip, compositorOf(probe))
	case "windows":
		adapter = NewWindows(runner, clip)
	case "command":
		adapter, err = NewCommand(runner, clip, cfg.WindowCommand, cfg.PasteCommand, cfg.TypeCommand)
		if err != nil {
			return nil, err
		}
	default:
		adapter = NewNone(clip)
	}

	caps := adapter.Capabilities()
	logger.Info("platform automation selected",
		slog.String("adapter", adapter.Name()),
		slog.Bool("window_query", caps.WindowQuery),
		slog.Bool("clipboard", caps.Clipboard),
		slog.Bool("paste", caps.Paste),
		slog.Bool("keystrokes", caps.Keystrokes),
	)
	return adapter, nil
}

func autodetect(probe Probe, runner Runner, clip ClipboardBackend) Automation {
	switch probe.GOOS {
	case "darwin":
		if probe.has("osascript") {
			return NewDarwin(runner, clip)
		}
	case "windows":
		return NewWindows(runner, clip)
	default:
		if probe.getenv("WAYLAND_DISPLAY") != "" && probe.has("wtype") {
			return NewWayland(runner, clip, compositorOf(probe))
		}
		if probe.getenv("DISPLAY") != "" && probe.has("xdotool") {
			return NewX11(runner, clip)
		}
	}
	return NewNone(clip)
}

func compositorOf(probe Probe) string {
	switch {
	case probe.getenv("HYPRLAND_INSTANCE_SIGNATURE") != "" && probe.has("hyprctl"):
		return "hyprland"
	case probe.getenv("SWAYSOCK") != "" && probe.has("swaymsg"):
		return "sway"
	}
	return ""
}

func (p Probe) getenv(key string) string {
	if p.Getenv == nil {
		return ""
	}
	return p.Getenv(key)
}
