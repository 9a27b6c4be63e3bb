package platform

import (
	"context"
	"encoding/json"
	"fmt"
)

// Wayland synthesizes input with wtype. Window queries need a compositor IPC; hyprctl and
// swaymsg are supported.
type Wayland struct {
	base
	compositor string
}

func NewWayland(runner Runner, clip ClipboardBackend, compositor string) *Wayland {
	return &Wayland{base: base{runner: runner, clip: clip}, compositor: compositor}
}

func (w *Wayland) Name() string { return "wayland" }

func (w *Wayland) Capabilities() Capabilities {
	return Capabilities{
		WindowQuery: w.compositor == "hyprland" || w.compositor == "sway",
		Clipboard:   w.clipboardSupported(),
		Paste:       true,
		Keystrokes:  true,
	}
}

type hyprWindow struct {
	Class        string `json:"class"`
	Title        string `json:"title"`
	InitialClass string `json:"initialClass"`
}

type swayNode struct {
	Name             string     `json:"name"`
	AppID            string     `json:"app_id"`
	Focused          bool       `json:"focused"`
	Nodes            []swayNode `json:"nodes"`
	FloatingNodes    []swayNode `json:"floating_nodes"`
	WindowProperties *struct {
		Class string `json:"class"`
	} `json:"window_properties"`
}

func (w *Wayland) FocusedWindow(ctx context.Context) (WindowInfo, error) {
	switch w.compositor {
	case "hyprland":
		out, err := w.runner.Run(ctx, "hyprctl", "activewindow", "-j")
		if err != nil {
			return WindowInfo{}, err
		}
		var win hyprWindow
		if err := json.Unmarshal(out, &win); err != nil {
			return WindowInfo{}, fmt.Errorf("decode hyprctl output: %w", err)
		}
		process := win.InitialClass
		if process == "" {
			process = win.Class
		}
		return WindowInfo{AppName: win.Class, ProcessName: process, WindowTitle: win.Title}, nil
	case "sway":
		out, err := w.runner.Run(ctx, "swaymsg", "-t", "get_tree", "-r")
		if err != nil {
			return WindowInfo{}, err
		}
		var root swayNode
		if err := json.Unmarshal(out, &root); err != nil {
			return WindowInfo{}, fmt.Errorf("decode swaymsg tree: %w", err)
		}
		node := findFocused(&root)
		if node == nil {
			return WindowInfo{}, fmt.Errorf("sway: no focused window")
		}
		app := node.AppID
		if app == "" && node.WindowProperties != nil {
			app = node.WindowProperties.Class
		}
		return WindowInfo{AppName: app, ProcessName: app, WindowTitle: node.Name}, nil
	}
	return WindowInfo{}, ErrUnsupported
}

func findFocused(node *swayNode) *swayNode {
	if node.Focused {
		return node
	}
	for i := range node.Nodes {
		if found := findFocused(&node.Nodes[i]); found != nil {
			return found
		}
	}
	for i := range node.FloatingNodes {
		if found := findFocused(&node.FloatingNodes[i]); found != nil {
			return found
		}
	}
	return nil
}

func (w *Wayland) SendPaste(ctx context.Context) error {
	_, err := w.runner.Run(ctx, "wtype", "-M", "ctrl", "v", "-m", "ctrl")
	return err
}

func (w *Wayland) SendKeystrokes(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	_, err := w.runner.Run(ctx, "wtype", "--", text)
	return err
}
