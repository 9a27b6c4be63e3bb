package platform

import (
	"context"
	"sync"
)

// Fake is an in-memory Automation for tests and dry runs.
type Fake struct {
	mu sync.Mutex

	Window     WindowInfo
	WindowErr  error
	Clip       string
	ClipGetErr error
	ClipSetErr error
	PasteErr   error
	KeysErr    error
	Caps       Capabilities

	WindowQueries int
	Pastes        int
	ClipWrites    []string
	Typed         []string
	// PastedClip records the clipboard content at each paste.
	PastedClip []string
}

// NewFake returns a Fake advertising every capability.
func NewFake() *Fake {
	return &Fake{Caps: Capabilities{WindowQuery: true, Clipboard: true, Paste: true, Keystrokes: true}}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Capabilities() Capabilities {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Caps
}

func (f *Fake) FocusedWindow(context.Context) (WindowInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.WindowQueries++
	if f.WindowErr != nil {
		return WindowInfo{}, f.WindowErr
	}
	return f.Window, nil
}

func (f *Fake) GetClipboard(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ClipGetErr != nil {
		return "", f.ClipGetErr
	}
	return f.Clip, nil
}

func (f *Fake) SetClipboard(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ClipSetErr != nil {
		return f.ClipSetErr
	}
	f.Clip = text
	f.ClipWrites = append(f.ClipWrites, text)
	return nil
}

func (f *Fake) SendPaste(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PasteErr != nil {
		return f.PasteErr
	}
	f.Pastes++
	f.PastedClip = append(f.PastedClip, f.Clip)
	return nil
}

func (f *Fake) SendKeystrokes(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.KeysErr != nil {
		return f.KeysErr
	}
	f.Typed = append(f.Typed, text)
	return nil
}

// Snapshot returns a copy of the recorded state.
func (f *Fake) Snapshot() FakeSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FakeSnapshot{
		Clip:          f.Clip,
		WindowQueries: f.WindowQueries,
		Pastes:        f.Pastes,
		ClipWrites:    append([]string(nil), f.ClipWrites...),
		Typed:         append([]string(nil), f.Typed...),
		PastedClip:    append([]string(nil), f.PastedClip...),
	}
}

type FakeSnapshot struct {
	Clip          string
	WindowQueries int
	Pastes        int
	ClipWrites    []string
	Typed         []string
	PastedClip    []string
}
