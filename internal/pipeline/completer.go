package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/domain"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/store"
)

// Completion is a processed dictation awaiting persistence.
type Completion struct {
	Token   string
	RawText string
	Output  Output
}

// TranscriptSaver persists transcripts.
type TranscriptSaver interface {
	SaveTranscript(ctx context.Context, t store.Transcript) (string, error)
}

// Publisher announces saved transcripts.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Completer persists results and publishes a saved event off the critical path. Failures are
// logged and never reach the user.
type Completer struct {
	saver     TranscriptSaver
	publisher Publisher
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger

	wg sync.WaitGroup
}

// NewCompleter builds a Completer. publisher may be nil when the bus is disabled.
func NewCompleter(saver TranscriptSaver, publisher Publisher, timeout time.Duration, logger *slog.Logger) *Completer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Completer{
		saver:     saver,
		publisher: publisher,
		timeout:   timeout,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "completer")),
	}
}

// Complete schedules persistence and returns immediately.
func (c *Completer) Complete(done Completion) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		c.run(ctx, done)
	}()
}

func (c *Completer) run(ctx context.Context, done Completion) {
	out := done.Output
	transcript := store.Transcript{
		Token:      done.Token,
		Text:       out.FinalText,
		RawText:    done.RawText,
		Metrics:    out.Metrics,
		Provenance: out.Provenance,
		Delivered:  out.Delivered,
		CreatedAt:  c.now(),
	}
	if out.Context != nil {
		transcript.ContextType = out.Context.ContextType
	} else {
		transcript.ContextType = domain.ContextUnknown
	}

	var id string
	if c.saver != nil {
		saved, err := c.saver.SaveTranscript(ctx, transcript)
		if err != nil {
			c.logger.Warn("failed to persist transcript", slog.String("token", done.Token), slogError(err))
			return
		}
		id = saved
	}

	if c.publisher != nil {
		evt := protocol.TranscriptSaved{
			ID:             id,
			Token:          done.Token,
			WordCount:      out.Metrics.WordCount,
			WordsPerMinute: out.Metrics.WordsPerMinute,
			Delivered:      out.Delivered,
			Timestamp:      transcript.CreatedAt.UTC(),
		}
		if err := c.publisher.PublishJSON(protocol.SubjectTranscriptSaved, evt); err != nil {
			c.logger.Warn("failed to publish transcript event", slog.String("token", done.Token), slogError(err))
		}
	}
	c.logger.Debug("transcript completed", slog.String("token", done.Token), slog.String("id", id))
}

// Wait blocks until scheduled completions finish or ctx expires.
func (c *Completer) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
