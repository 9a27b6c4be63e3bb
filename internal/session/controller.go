package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/domain"
	"github.com/loqalabs/loqa-dictate/internal/notify"
	"github.com/loqalabs/loqa-dictate/internal/pipeline"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrNotIdle is returned by Start while a session is active. Callers treat it as a no-op.
	ErrNotIdle = errors.New("dictation session already active")
	// ErrNotRecording is returned when an operation requires the recording state.
	ErrNotRecording = errors.New("no recording in progress")
	// ErrStaleChunk is returned for audio addressed to a session other than the recording one.
	ErrStaleChunk = errors.New("chunk belongs to another session")
	// ErrTooManyChunks is returned when a recording exceeds the configured chunk limit.
	ErrTooManyChunks = errors.New("recording chunk limit reached")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("session controller closed")
)

// DefaultTimeout bounds processing once a recording is handed off.
const DefaultTimeout = 30 * time.Second

// Processor turns a transcript into delivered text.
type Processor interface {
	Process(ctx context.Context, in pipeline.Input) (pipeline.Output, error)
}

// ContextCache is the application context detector as seen by the controller.
type ContextCache interface {
	CaptureContext(ctx context.Context) domain.ApplicationContext
	Clear()
	SignOut()
}

// Observer receives every state change in order.
type Observer func(evt protocol.SessionEvent)

// Options configure a Controller.
type Options struct {
	Timeout    time.Duration
	MaxChunks  int
	SampleRate int
	Channels   int
	Thresholds audio.Thresholds
	// Language is the source language used when the recognizer does not report one.
	Language string
}

// Deps are the controller collaborators. Notifier and Observer may be nil.
type Deps struct {
	Context    ContextCache
	Recognizer stt.Recognizer
	Processor  Processor
	Notifier   notify.Notifier
	Observer   Observer
}

type recording struct {
	token   string
	chunks  []string
	started time.Time
	results chan domain.SessionResult
	once    sync.Once
	timer   *time.Timer
	cancel  context.CancelFunc
}

func (r *recording) emit(res domain.SessionResult) {
	r.once.Do(func() {
		if r.results != nil {
			r.results <- res
			close(r.results)
		}
	})
}

// Controller owns the single dictation session and its lifecycle.
type Controller struct {
	opts Options
	deps Deps

	mu     sync.Mutex
	state  domain.SessionState
	cur    *recording
	closed bool

	events chan protocol.SessionEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	pump   sync.WaitGroup

	now       func() time.Time
	newToken  func() string
	afterFunc func(time.Duration, func()) *time.Timer

	sessions metric.Int64Counter
	logger   *slog.Logger
}

func NewController(parent context.Context, opts Options, deps Deps, logger *slog.Logger) *Controller {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	if opts.Thresholds == (audio.Thresholds{}) {
		opts.Thresholds = audio.DefaultThresholds
	}
	ctx, cancel := context.WithCancel(parent)
	c := &Controller{
		opts:      opts,
		deps:      deps,
		state:     domain.SessionStateIdle,
		events:    make(chan protocol.SessionEvent, 64),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
		newToken:  uuid.NewString,
		afterFunc: time.AfterFunc,
		logger:    logger.With(slog.String("component", "session")),
	}
	counter, err := otel.Meter("github.com/loqalabs/loqa-dictate/session").Int64Counter("dictation.sessions",
		metric.WithDescription("Finished dictation sessions by outcome"))
	if err != nil {
		c.logger.Warn("failed to initialize metrics", slogError(err))
	} else {
		c.sessions = counter
	}
	c.pump.Add(1)
	go c.runObserver()
	return c
}

// Close aborts any session and waits for background work.
func (c *Controller) Close() {
	c.Cancel()
	c.cancel()
	c.wg.Wait()
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	c.mu.Unlock()
	c.pump.Wait()
}

// State reports the current state.
func (c *Controller) State() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status is a snapshot for status endpoints.
func (c *Controller) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := domain.Status{State: c.state, Active: c.state != domain.SessionStateIdle}
	if c.cur != nil {
		st.Token = c.cur.token
		st.Chunks = len(c.cur.chunks)
	}
	return st
}

// Start begins a recording. It only succeeds from idle and returns the session token.
func (c *Controller) Start(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if c.state != domain.SessionStateIdle {
		c.mu.Unlock()
		return "", ErrNotIdle
	}
	rec := &recording{token: c.newToken(), started: c.now()}
	c.cur = rec
	c.setStateLocked(domain.SessionStateRecording, "")
	c.mu.Unlock()

	c.logger.Info("recording started", slog.String("token", rec.token))
	if c.deps.Context != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.deps.Context.CaptureContext(context.WithoutCancel(ctx))
		}()
	}
	return rec.token, nil
}

// PushChunk appends a base64 audio chunk to the recording named by token. An empty token addresses
// whichever session is recording.
func (c *Controller) PushChunk(token, data string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.SessionStateRecording || c.cur == nil {
		return ErrNotRecording
	}
	if token != "" && token != c.cur.token {
		return ErrStaleChunk
	}
	if c.opts.MaxChunks > 0 && len(c.cur.chunks) >= c.opts.MaxChunks {
		return ErrTooManyChunks
	}
	c.cur.chunks = append(c.cur.chunks, data)
	return nil
}

// Stop finalizes the recording. The returned channel yields exactly one result.
func (c *Controller) Stop(ctx context.Context) (<-chan domain.SessionResult, error) {
	c.mu.Lock()
	if c.state != domain.SessionStateRecording || c.cur == nil {
		c.mu.Unlock()
		return nil, ErrNotRecording
	}
	rec := c.cur
	rec.results = make(chan domain.SessionResult, 1)
	if len(rec.chunks) == 0 {
		c.finishLocked(rec, domain.SessionResult{Token: rec.token, Outcome: domain.OutcomeAborted})
		c.mu.Unlock()
		c.logger.Info("recording stopped without audio", slog.String("token", rec.token))
		return rec.results, nil
	}
	elapsed := c.now().Sub(rec.started)
	chunks := rec.chunks
	c.setStateLocked(domain.SessionStateFinalizing, "")
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.finalize(context.WithoutCancel(ctx), rec, chunks, elapsed)
	}()
	return rec.results, nil
}

// Cancel discards the active session, if any, and reports whether one was discarded.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	rec := c.cur
	if rec == nil || c.state == domain.SessionStateIdle {
		c.mu.Unlock()
		return false
	}
	if rec.cancel != nil {
		rec.cancel()
	}
	c.finishLocked(rec, domain.SessionResult{Token: rec.token, Outcome: domain.OutcomeAborted, Err: "cancelled"})
	c.mu.Unlock()
	c.logger.Info("session cancelled", slog.String("token", rec.token))
	return true
}

// SignOut aborts any session and drops the cached application context.
func (c *Controller) SignOut() {
	c.Cancel()
	if c.deps.Context != nil {
		c.deps.Context.SignOut()
	}
	c.notify(domain.NotifySignedOut)
}

func (c *Controller) finalize(ctx context.Context, rec *recording, chunks []string, elapsed time.Duration) {
	logger := c.logger.With(slog.String("token", rec.token))
	pcm, err := audio.DecodeChunks(chunks)
	if err != nil {
		logger.Warn("failed to decode audio", slog.Int("chunks", len(chunks)), slogError(err))
		c.finish(rec, domain.SessionResult{Token: rec.token, Outcome: domain.OutcomeAborted, Err: err.Error()})
		return
	}

	verdict := audio.AnalyzeWith(pcm, c.opts.Thresholds)
	if verdict.IsSilent {
		logger.Info("recording is silent",
			slog.Float64("mean", verdict.AverageAmplitude),
			slog.Int("peak", verdict.PeakAmplitude),
			slog.Float64("non_silent_fraction", verdict.NonSilentFraction),
		)
		if c.finish(rec, domain.SessionResult{Token: rec.token, Outcome: domain.OutcomeEmpty, Verdict: verdict}) {
			c.notify(domain.NotifySilentRecording)
		}
		return
	}

	// Work outliving a timeout keeps running until it returns, unless the controller closes.
	procCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(c.ctx, cancel)
	defer stopAfter()
	if !c.handOff(rec, cancel) {
		return
	}

	res, err := c.deps.Recognizer.Transcribe(procCtx, pcm, c.opts.SampleRate, c.opts.Channels)
	if err != nil {
		logger.Warn("transcription failed", slog.Int("bytes", len(pcm)), slogError(err))
		if c.finish(rec, domain.SessionResult{Token: rec.token, Outcome: domain.OutcomeEmpty, Verdict: verdict, Err: err.Error()}) {
			c.notify(domain.NotifyEmptyTranscript)
		}
		return
	}

	language := res.Language
	if language == "" {
		language = c.opts.Language
	}
	out, err := c.deps.Processor.Process(procCtx, pipeline.Input{
		Token:          rec.token,
		RawText:        res.Text,
		SourceLanguage: language,
		ElapsedSeconds: elapsed.Seconds(),
		BeforeDeliver:  func() bool { return c.beginDelivery(rec) },
		AfterDeliver:   func(bool) bool { return c.endDelivery(rec) },
	})
	switch {
	case errors.Is(err, pipeline.ErrStale):
		logger.Info("late result dropped")
		return
	case errors.Is(err, pipeline.ErrEmptyTranscript):
		if c.finish(rec, domain.SessionResult{Token: rec.token, Outcome: domain.OutcomeEmpty, Verdict: verdict}) {
			c.notify(domain.NotifyEmptyTranscript)
		}
		return
	case err != nil:
		logger.Warn("processing failed", slogError(err))
		c.finish(rec, domain.SessionResult{Token: rec.token, Outcome: domain.OutcomeAborted, Verdict: verdict, Err: err.Error()})
		return
	}

	outcome := domain.OutcomeDelivered
	if !out.Delivered {
		outcome = domain.OutcomeDeliveryFailed
	}
	c.finish(rec, domain.SessionResult{
		Token:      rec.token,
		Outcome:    outcome,
		RawText:    res.Text,
		Text:       out.FinalText,
		Metrics:    out.Metrics,
		Provenance: out.Provenance,
		Verdict:    verdict,
	})
}

// handOff moves to awaiting_transform and arms the timeout.
func (c *Controller) handOff(rec *recording, cancel context.CancelFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != rec || c.state != domain.SessionStateFinalizing {
		return false
	}
	rec.cancel = cancel
	rec.timer = c.afterFunc(c.opts.Timeout, func() { c.onTimeout(rec.token) })
	c.setStateLocked(domain.SessionStateAwaitingTransform, "")
	return true
}

func (c *Controller) beginDelivery(rec *recording) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != rec || c.state != domain.SessionStateAwaitingTransform {
		return false
	}
	c.setStateLocked(domain.SessionStateDelivering, "")
	return true
}

// endDelivery disarms the timeout once the paste is confirmed. It reports false when the timeout
// already fired during delivery.
func (c *Controller) endDelivery(rec *recording) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != rec || c.state != domain.SessionStateDelivering {
		return false
	}
	if rec.timer != nil {
		rec.timer.Stop()
	}
	return true
}

func (c *Controller) onTimeout(token string) {
	c.mu.Lock()
	rec := c.cur
	if rec == nil || rec.token != token ||
		(c.state != domain.SessionStateAwaitingTransform && c.state != domain.SessionStateDelivering) {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(domain.SessionStateTimedOut, domain.OutcomeTimedOut)
	c.finishLocked(rec, domain.SessionResult{Token: token, Outcome: domain.OutcomeTimedOut, Err: "processing timed out"})
	c.mu.Unlock()

	c.logger.Warn("processing timed out", slog.String("token", token), slog.Duration("timeout", c.opts.Timeout))
	c.notify(domain.NotifyProcessingTimeout)
}

// finish completes rec if it is still the active session. Stale sessions are ignored.
func (c *Controller) finish(rec *recording, res domain.SessionResult) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != rec {
		return false
	}
	c.finishLocked(rec, res)
	return true
}

func (c *Controller) finishLocked(rec *recording, res domain.SessionResult) {
	if rec.timer != nil {
		rec.timer.Stop()
	}
	c.setStateLocked(domain.SessionStateIdle, res.Outcome)
	c.cur = nil
	if c.deps.Context != nil {
		c.deps.Context.Clear()
	}
	if c.sessions != nil {
		c.sessions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", string(res.Outcome))))
	}
	rec.emit(res)
}

func (c *Controller) setStateLocked(state domain.SessionState, outcome domain.Outcome) {
	c.state = state
	if c.closed {
		return
	}
	token := ""
	if c.cur != nil {
		token = c.cur.token
	}
	evt := protocol.SessionEvent{Token: token, State: string(state), Outcome: string(outcome), Timestamp: c.now().UTC()}
	select {
	case c.events <- evt:
	default:
		c.logger.Warn("session event dropped", slog.String("state", string(state)))
	}
}

func (c *Controller) runObserver() {
	defer c.pump.Done()
	for evt := range c.events {
		if c.deps.Observer != nil {
			c.deps.Observer(evt)
		}
	}
}

func (c *Controller) notify(kind domain.NotificationKind) {
	if c.deps.Notifier != nil {
		c.deps.Notifier.Notify(kind, notify.Message(kind))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
