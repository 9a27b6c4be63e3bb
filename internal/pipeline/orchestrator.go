package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/delivery"
	"github.com/loqalabs/loqa-dictate/internal/dictionary"
	"github.com/loqalabs/loqa-dictate/internal/domain"
	"github.com/loqalabs/loqa-dictate/internal/notify"
	"github.com/loqalabs/loqa-dictate/internal/platform"
	"github.com/loqalabs/loqa-dictate/internal/transform"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrEmptyTranscript is returned when there is nothing to process.
	ErrEmptyTranscript = errors.New("empty transcript")
	// ErrStale is returned when the session gave up on this result before delivery.
	ErrStale = errors.New("session no longer awaiting this result")
)

// Pipeline stages reported in degradations.
const (
	StageTransform = "transform"
	StageDelivery  = "delivery"
)

// ContextSource exposes the cached application context.
type ContextSource interface {
	CachedContext() (domain.ApplicationContext, bool)
}

// DictionarySource yields the user dictionary for one run.
type DictionarySource interface {
	Entries(ctx context.Context) []domain.DictionaryEntry
}

// Deliverer inserts text into the focused application.
type Deliverer interface {
	DeliverDetailed(ctx context.Context, text string) delivery.Result
}

// CompletionSink receives delivered results for background persistence.
type CompletionSink interface {
	Complete(c Completion)
}

// Input is one transcript handed over by the session controller.
type Input struct {
	Token          string
	RawText        string
	SourceLanguage string
	ElapsedSeconds float64
	// BeforeDeliver is consulted right before delivery; returning false drops the result.
	BeforeDeliver func() bool
	// AfterDeliver runs as soon as the delivery side effect is confirmed. Returning false means the
	// session gave up while delivery was in flight; notifications and persistence are skipped.
	AfterDeliver func(delivered bool) bool
}

// Degradation records a stage that fell back to its input.
type Degradation struct {
	Stage string
	Err   error
}

// Output is the user-visible result of Process.
type Output struct {
	Metrics      domain.SpeechMetrics
	FinalText    string
	Provenance   domain.ProvenanceMetadata
	Context      *domain.ApplicationContext
	Delivered    bool
	Method       delivery.Method
	Degradations []Degradation
}

// Degraded reports whether stage fell back.
func (o Output) Degraded(stage string) bool {
	for _, d := range o.Degradations {
		if d.Stage == stage {
			return true
		}
	}
	return false
}

// Options configure instruction composition and the transform call.
type Options struct {
	TargetLanguage    string
	InstructionMode   string
	CustomInstruction string
	Model             transform.ModelParameters
	TransformTimeout  time.Duration
}

// Deps are the collaborators of the orchestrator. Nil optional deps are skipped.
type Deps struct {
	Context     ContextSource
	Transformer transform.Transformer
	Dictionary  DictionarySource
	Delivery    Deliverer
	Notifier    notify.Notifier
	Completer   CompletionSink
}

// Orchestrator turns a raw transcript into delivered text.
type Orchestrator struct {
	opts   Options
	deps   Deps
	tracer trace.Tracer
	inst   *instruments
	logger *slog.Logger
}

func NewOrchestrator(opts Options, deps Deps, logger *slog.Logger) *Orchestrator {
	if opts.InstructionMode == "" {
		opts.InstructionMode = InstructionModeContext
	}
	o := &Orchestrator{
		opts:   opts,
		deps:   deps,
		tracer: otel.Tracer(instrumentationName),
		logger: logger.With(slog.String("component", "orchestrator")),
	}
	inst, err := newInstruments(otel.Meter(instrumentationName))
	if err != nil {
		o.logger.Warn("failed to initialize metrics", slogError(err))
	} else {
		o.inst = inst
	}
	return o
}

// Process runs the transcript through context resolution, the transform, dictionary substitution,
// metrics, provenance and delivery. Only an empty transcript or a stale session is an error; every
// other failure degrades to the stage input. Notifications are held until the session confirms the
// result is still wanted.
func (o *Orchestrator) Process(ctx context.Context, in Input) (Output, error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "dictation.process", trace.WithAttributes(attribute.String("token", in.Token)))
	defer span.End()

	raw := strings.TrimSpace(in.RawText)
	if raw == "" {
		span.SetStatus(codes.Error, ErrEmptyTranscript.Error())
		return Output{}, ErrEmptyTranscript
	}
	logger := o.logger.With(slog.String("token", in.Token))
	var out Output

	appCtx := o.cachedContext()
	out.Context = appCtx
	rule := ResolveContextRule(appCtx, o.opts.InstructionMode, o.opts.CustomInstruction)
	instructions := ComposeInstructions(in.SourceLanguage, o.opts.TargetLanguage, appCtx, rule)

	var entries []domain.DictionaryEntry
	if o.deps.Dictionary != nil {
		entries = o.deps.Dictionary.Entries(ctx)
	}

	var pending []domain.NotificationKind
	candidate, err := o.transform(ctx, in, raw, instructions, entries)
	if err != nil {
		logger.Warn("text transform failed, using raw transcript", slog.String("stage", StageTransform), slog.Int("chars", len(raw)), slogError(err))
		out.Degradations = append(out.Degradations, Degradation{Stage: StageTransform, Err: err})
		o.inst.transformFailed(ctx)
		pending = append(pending, domain.NotifyTransformDegraded)
		candidate = raw
	}

	out.FinalText = dictionary.Apply(candidate, entries)
	out.Metrics = ComputeMetrics(out.FinalText, in.ElapsedSeconds)
	out.Provenance = BuildProvenance(raw, out.FinalText, in.SourceLanguage, o.opts.TargetLanguage, appCtx, rule)

	if in.BeforeDeliver != nil && !in.BeforeDeliver() {
		logger.Info("dropping stale result")
		span.SetStatus(codes.Error, ErrStale.Error())
		return out, ErrStale
	}

	if kind, failed := o.deliver(ctx, logger, &out); failed {
		pending = append(pending, kind)
	}
	if in.AfterDeliver != nil && !in.AfterDeliver(out.Delivered) {
		logger.Warn("session timed out during delivery, result not persisted", slog.Bool("delivered", out.Delivered))
		span.SetStatus(codes.Error, ErrStale.Error())
		return out, ErrStale
	}
	for _, kind := range pending {
		o.notify(kind)
	}

	contextType := string(domain.ContextUnknown)
	if appCtx != nil {
		contextType = string(appCtx.ContextType)
	}
	o.inst.recordProcess(ctx, time.Since(start), out.Metrics.WordsPerMinute, contextType, out.Delivered)
	span.SetAttributes(
		attribute.Int("word_count", out.Metrics.WordCount),
		attribute.Bool("delivered", out.Delivered),
		attribute.String("context_type", contextType),
	)

	if o.deps.Completer != nil {
		o.deps.Completer.Complete(Completion{Token: in.Token, RawText: raw, Output: out})
	}
	logger.Info("dictation processed",
		slog.Int("words", out.Metrics.WordCount),
		slog.Float64("wpm", out.Metrics.WordsPerMinute),
		slog.Bool("delivered", out.Delivered),
		slog.String("method", string(out.Method)),
		slog.Int("degradations", len(out.Degradations)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

func (o *Orchestrator) cachedContext() *domain.ApplicationContext {
	if o.deps.Context == nil {
		return nil
	}
	appCtx, ok := o.deps.Context.CachedContext()
	if !ok {
		return nil
	}
	return &appCtx
}

func (o *Orchestrator) transform(ctx context.Context, in Input, raw, instructions string, entries []domain.DictionaryEntry) (string, error) {
	if o.deps.Transformer == nil {
		return "", fmt.Errorf("%w: no transformer configured", transform.ErrUnavailable)
	}
	ctx, span := o.tracer.Start(ctx, "dictation.transform")
	defer span.End()
	if o.opts.TransformTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.TransformTimeout)
		defer cancel()
	}

	hints := make([]string, 0, len(entries))
	for _, e := range entries {
		hints = append(hints, e.Value)
	}
	resp, err := o.deps.Transformer.Transform(ctx, transform.Request{
		Token:           in.Token,
		Text:            raw,
		Instructions:    instructions,
		SourceLanguage:  NormalizeLanguage(in.SourceLanguage),
		TargetLanguage:  NormalizeLanguage(o.opts.TargetLanguage),
		DictionaryHints: hints,
		Model:           o.opts.Model,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		span.SetStatus(codes.Error, transform.ErrEmptyResponse.Error())
		return "", transform.ErrEmptyResponse
	}
	return text, nil
}

// deliver inserts the final text and reports the notification owed when it fails.
func (o *Orchestrator) deliver(ctx context.Context, logger *slog.Logger, out *Output) (domain.NotificationKind, bool) {
	if o.deps.Delivery == nil {
		out.Degradations = append(out.Degradations, Degradation{Stage: StageDelivery, Err: delivery.ErrNoStrategy})
		return domain.NotifyDeliveryFailed, true
	}
	ctx, span := o.tracer.Start(ctx, "dictation.deliver")
	defer span.End()

	res := o.deps.Delivery.DeliverDetailed(ctx, out.FinalText)
	out.Delivered = res.Delivered
	out.Method = res.Method
	if res.Delivered {
		span.SetAttributes(attribute.String("method", string(res.Method)))
		return "", false
	}

	err := res.Err
	if err == nil {
		err = delivery.ErrNoStrategy
	}
	span.SetStatus(codes.Error, err.Error())
	out.Degradations = append(out.Degradations, Degradation{Stage: StageDelivery, Err: err})
	logger.Warn("text delivery failed", slog.String("stage", StageDelivery), slog.Int("chars", len(out.FinalText)), slogError(err))
	if errors.Is(err, platform.ErrPermissionDenied) {
		return domain.NotifyPermissionError, true
	}
	return domain.NotifyDeliveryFailed, true
}

func (o *Orchestrator) notify(kind domain.NotificationKind) {
	if o.deps.Notifier == nil {
		return
	}
	o.deps.Notifier.Notify(kind, notify.Message(kind))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
