package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/domain"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
)

// Notifier surfaces user-facing conditions. Implementations must not block the caller.
type Notifier interface {
	Notify(kind domain.NotificationKind, message string)
}

// Func adapts a function to Notifier.
type Func func(kind domain.NotificationKind, message string)

func (f Func) Notify(kind domain.NotificationKind, message string) { f(kind, message) }

// Multi fans a notification out to every non-nil notifier.
type Multi []Notifier

func (m Multi) Notify(kind domain.NotificationKind, message string) {
	for _, n := range m {
		if n != nil {
			n.Notify(kind, message)
		}
	}
}

// LogNotifier records notifications in the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With(slog.String("component", "notify"))}
}

func (l *LogNotifier) Notify(kind domain.NotificationKind, message string) {
	level := slog.LevelInfo
	switch kind {
	case domain.NotifyPermissionError, domain.NotifyDeliveryFailed, domain.NotifyProcessingTimeout:
		level = slog.LevelWarn
	}
	l.logger.Log(context.Background(), level, "notification", slog.String("kind", string(kind)), slog.String("message", message))
}

// BusNotifier publishes notifications on dictation.notify.<kind>.
type BusNotifier struct {
	bus    *bus.Client
	now    func() time.Time
	logger *slog.Logger
}

func NewBusNotifier(client *bus.Client, logger *slog.Logger) *BusNotifier {
	return &BusNotifier{bus: client, now: time.Now, logger: logger.With(slog.String("component", "notify-bus"))}
}

func (b *BusNotifier) Notify(kind domain.NotificationKind, message string) {
	if b.bus == nil {
		return
	}
	msg := protocol.Notification{Kind: string(kind), Message: message, Timestamp: b.now().UTC()}
	if err := b.bus.PublishJSON(protocol.NotifySubject(string(kind)), msg); err != nil {
		b.logger.Warn("failed to publish notification", slog.String("kind", string(kind)), slogError(err))
	}
}

// DesktopNotifier shows an OS notification through beeep.
type DesktopNotifier struct {
	title  string
	show   func(title, message string) error
	logger *slog.Logger
}

func NewDesktopNotifier(appName string, logger *slog.Logger) *DesktopNotifier {
	if appName == "" {
		appName = "Loqa Dictate"
	}
	beeep.AppName = appName
	return &DesktopNotifier{
		title: appName,
		show: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		logger: logger.With(slog.String("component", "notify-desktop")),
	}
}

func (d *DesktopNotifier) Notify(kind domain.NotificationKind, message string) {
	go func() {
		if err := d.show(d.title, message); err != nil {
			d.logger.Debug("desktop notification failed", slog.String("kind", string(kind)), slogError(err))
		}
	}()
}

// Message returns the default user-facing text for kind.
func Message(kind domain.NotificationKind) string {
	switch kind {
	case domain.NotifySilentRecording:
		return "No speech detected. Check your microphone."
	case domain.NotifyEmptyTranscript:
		return "Nothing was transcribed."
	case domain.NotifyPermissionError:
		return "Accessibility permission is required to insert text."
	case domain.NotifyProcessingTimeout:
		return "Processing took too long and was cancelled."
	case domain.NotifyDeliveryFailed:
		return "Could not insert text. The transcript was still saved."
	case domain.NotifyTransformDegraded:
		return "Formatting was unavailable; the raw transcript was used."
	case domain.NotifySignedOut:
		return "Signed out."
	}
	return string(kind)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
