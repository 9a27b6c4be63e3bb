package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/platform"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newMux(auto platform.Automation, strategy Strategy) *Multiplexer {
	return NewMultiplexer(auto, Options{Strategy: strategy, RestoreDelay: 5 * time.Millisecond}, testLogger())
}

func TestClipboardPathRestoresPreviousContents(t *testing.T) {
	fake := platform.NewFake()
	fake.Clip = "previous"
	mux := newMux(fake, StrategyAuto)

	res := mux.DeliverDetailed(context.Background(), "hello world")
	if !res.Delivered || res.Method != MethodClipboard || !res.RestoreScheduled {
		t.Fatalf("unexpected result %+v", res)
	}
	mux.Wait()

	snap := fake.Snapshot()
	if snap.Pastes != 1 || snap.PastedClip[0] != "hello world" {
		t.Fatalf("expected paste with new text on clipboard, got %+v", snap)
	}
	if snap.Clip != "previous" {
		t.Fatalf("expected clipboard restored, got %q", snap.Clip)
	}
	if len(snap.Typed) != 0 {
		t.Fatalf("keystrokes must not run after a successful paste")
	}
}

func TestRestoreWaitsForDelay(t *testing.T) {
	fake := platform.NewFake()
	fake.Clip = "previous"
	mux := NewMultiplexer(fake, Options{RestoreDelay: time.Hour}, testLogger())

	var scheduled time.Duration
	var restore func()
	mux.afterFunc = func(d time.Duration, f func()) *time.Timer {
		scheduled = d
		restore = f
		return nil
	}
	if !mux.Deliver(context.Background(), "dictated") {
		t.Fatal("expected delivery")
	}
	if scheduled != time.Hour {
		t.Fatalf("expected configured delay, got %v", scheduled)
	}
	if got := fake.Snapshot().Clip; got != "dictated" {
		t.Fatalf("clipboard must hold the text until the restore fires, got %q", got)
	}
	restore()
	mux.Wait()
	if got := fake.Snapshot().Clip; got != "previous" {
		t.Fatalf("expected restore, got %q", got)
	}
}

func TestRestoreSkippedWhenNothingSaved(t *testing.T) {
	fake := platform.NewFake()
	fake.ClipGetErr = errors.New("clipboard empty or non-text")
	mux := newMux(fake, StrategyAuto)

	res := mux.DeliverDetailed(context.Background(), "text")
	if !res.Delivered || res.RestoreScheduled {
		t.Fatalf("unexpected result %+v", res)
	}
	mux.Wait()
	if snap := fake.Snapshot(); len(snap.ClipWrites) != 1 {
		t.Fatalf("expected a single clipboard write, got %v", snap.ClipWrites)
	}
}

func TestFallsBackToKeystrokesWhenPasteFails(t *testing.T) {
	fake := platform.NewFake()
	fake.Clip = "keep me"
	fake.PasteErr = platform.ErrPermissionDenied
	mux := newMux(fake, StrategyAuto)

	res := mux.DeliverDetailed(context.Background(), "fallback text")
	if !res.Delivered || res.Method != MethodKeystrokes {
		t.Fatalf("unexpected result %+v", res)
	}
	snap := fake.Snapshot()
	if len(snap.Typed) != 1 || snap.Typed[0] != "fallback text" {
		t.Fatalf("expected keystrokes, got %v", snap.Typed)
	}
	if snap.Clip != "keep me" {
		t.Fatalf("expected clipboard restored after failed paste, got %q", snap.Clip)
	}
}

func TestUsesKeystrokesWhenClipboardUnsupported(t *testing.T) {
	fake := platform.NewFake()
	fake.Caps.Clipboard = false
	mux := newMux(fake, StrategyAuto)

	if !mux.Deliver(context.Background(), "typed") {
		t.Fatal("expected delivery")
	}
	snap := fake.Snapshot()
	if snap.Pastes != 0 || len(snap.ClipWrites) != 0 || len(snap.Typed) != 1 {
		t.Fatalf("expected keystrokes only, got %+v", snap)
	}
}

func TestReturnsFalseWhenEverythingFails(t *testing.T) {
	fake := platform.NewFake()
	fake.PasteErr = errors.New("paste failed")
	fake.KeysErr = platform.ErrPermissionDenied
	mux := newMux(fake, StrategyAuto)

	res := mux.DeliverDetailed(context.Background(), "lost")
	if res.Delivered {
		t.Fatal("expected failure")
	}
	if !errors.Is(res.Err, platform.ErrPermissionDenied) {
		t.Fatalf("expected joined permission error, got %v", res.Err)
	}
	if snap := fake.Snapshot(); len(snap.Typed) != 0 {
		t.Fatalf("failed keystrokes must not be recorded, got %v", snap.Typed)
	}
}

func TestNoCapabilities(t *testing.T) {
	fake := platform.NewFake()
	fake.Caps = platform.Capabilities{}
	res := newMux(fake, StrategyAuto).DeliverDetailed(context.Background(), "x")
	if res.Delivered || !errors.Is(res.Err, ErrNoStrategy) {
		t.Fatalf("expected ErrNoStrategy, got %+v", res)
	}
	if res := newMux(nil, StrategyAuto).DeliverDetailed(context.Background(), "x"); !errors.Is(res.Err, ErrNoStrategy) {
		t.Fatalf("expected ErrNoStrategy without adapter, got %+v", res)
	}
}

func TestStrategyRestrictions(t *testing.T) {
	fake := platform.NewFake()
	fake.PasteErr = errors.New("paste failed")
	if newMux(fake, StrategyClipboard).Deliver(context.Background(), "x") {
		t.Fatal("clipboard-only strategy must not fall back to keystrokes")
	}

	fake = platform.NewFake()
	if !newMux(fake, StrategyKeystrokes).Deliver(context.Background(), "x") {
		t.Fatal("expected keystroke delivery")
	}
	if snap := fake.Snapshot(); snap.Pastes != 0 || len(snap.Typed) != 1 {
		t.Fatalf("keystroke strategy must skip the clipboard, got %+v", snap)
	}
}

func TestEmptyTextDoesNotTouchOS(t *testing.T) {
	fake := platform.NewFake()
	res := newMux(fake, StrategyAuto).DeliverDetailed(context.Background(), "   ")
	if res.Delivered || !errors.Is(res.Err, ErrEmptyText) {
		t.Fatalf("unexpected result %+v", res)
	}
	if snap := fake.Snapshot(); snap.Pastes != 0 || len(snap.ClipWrites) != 0 || len(snap.Typed) != 0 {
		t.Fatalf("expected no OS interaction, got %+v", snap)
	}
}

func TestNormalizeEscapes(t *testing.T) {
	cases := map[string]string{
		`Dear Sam,\n\nThanks`: "Dear Sam,\n\nThanks",
		`a\tb\rc`:             "a\tb\rc",
		"plain text":          "plain text",
		"real\nnewline":       "real\nnewline",
	}
	for in, want := range cases {
		if got := NormalizeEscapes(in); got != want {
			t.Fatalf("NormalizeEscapes(%q) = %q, want %q", in, got, want)
		}
	}

	fake := platform.NewFake()
	fake.Caps.Clipboard = false
	newMux(fake, StrategyAuto).Deliver(context.Background(), `line one\nline two`)
	if got := fake.Snapshot().Typed[0]; got != "line one\nline two" {
		t.Fatalf("expected normalized text delivered, got %q", got)
	}
}
