package session

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/appcontext"
	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/delivery"
	"github.com/loqalabs/loqa-dictate/internal/domain"
	"github.com/loqalabs/loqa-dictate/internal/pipeline"
	"github.com/loqalabs/loqa-dictate/internal/platform"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/stt"
	"github.com/loqalabs/loqa-dictate/internal/transform"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func loudChunk(samples int) string {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(5000)
		if i%2 == 1 {
			v = -5000
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return audio.EncodeChunk(pcm)
}

func quietChunk(samples int) string {
	return audio.EncodeChunk(make([]byte, samples*2))
}

type fakeContext struct {
	mu       sync.Mutex
	captures int
	clears   int
	signOuts int
}

func (f *fakeContext) CaptureContext(context.Context) domain.ApplicationContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	return domain.ApplicationContext{}
}

func (f *fakeContext) Clear() {
	f.mu.Lock()
	f.clears++
	f.mu.Unlock()
}

func (f *fakeContext) SignOut() {
	f.mu.Lock()
	f.signOuts++
	f.mu.Unlock()
}

func (f *fakeContext) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captures, f.clears, f.signOuts
}

type kindRecorder struct {
	mu    sync.Mutex
	kinds []domain.NotificationKind
}

func (k *kindRecorder) Notify(kind domain.NotificationKind, _ string) {
	k.mu.Lock()
	k.kinds = append(k.kinds, kind)
	k.mu.Unlock()
}

func (k *kindRecorder) all() []domain.NotificationKind {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]domain.NotificationKind(nil), k.kinds...)
}

func (k *kindRecorder) has(kind domain.NotificationKind) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, got := range k.kinds {
		if got == kind {
			return true
		}
	}
	return false
}

// gatedProcessor blocks until released or cancelled, then asks to deliver.
type gatedProcessor struct {
	release   chan struct{}
	mu        sync.Mutex
	calls     int
	delivered []bool
	cancelled bool
	done      chan struct{}
}

func newGatedProcessor() *gatedProcessor {
	return &gatedProcessor{release: make(chan struct{}), done: make(chan struct{}, 4)}
}

func (g *gatedProcessor) Process(ctx context.Context, in pipeline.Input) (pipeline.Output, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	defer func() { g.done <- struct{}{} }()

	select {
	case <-g.release:
	case <-ctx.Done():
		g.mu.Lock()
		g.cancelled = true
		g.mu.Unlock()
	}
	ok := in.BeforeDeliver()
	g.mu.Lock()
	g.delivered = append(g.delivered, ok)
	g.mu.Unlock()
	if !ok {
		return pipeline.Output{}, pipeline.ErrStale
	}
	in.AfterDeliver(true)
	return pipeline.Output{FinalText: in.RawText, Delivered: true}, nil
}

// slowTransformer takes delay to answer and records whether its context survived the wait.
type slowTransformer struct {
	delay time.Duration
	done  chan struct{}

	mu     sync.Mutex
	ctxErr error
}

func newSlowTransformer(delay time.Duration) *slowTransformer {
	return &slowTransformer{delay: delay, done: make(chan struct{})}
}

func (s *slowTransformer) Transform(ctx context.Context, req transform.Request) (transform.Response, error) {
	defer close(s.done)
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
	}
	s.mu.Lock()
	s.ctxErr = ctx.Err()
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return transform.Response{}, err
	}
	return transform.Response{Text: strings.ToUpper(req.Text)}, nil
}

func (s *slowTransformer) contextErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctxErr
}

// slowDeliverer blocks for delay and then reports a failed delivery.
type slowDeliverer struct {
	delay   time.Duration
	started chan struct{}
	mu      sync.Mutex
	texts   []string
}

func (s *slowDeliverer) DeliverDetailed(_ context.Context, text string) delivery.Result {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	close(s.started)
	time.Sleep(s.delay)
	return delivery.Result{Err: errors.New("paste target went away")}
}

type completionRecorder struct {
	mu   sync.Mutex
	done []pipeline.Completion
}

func (c *completionRecorder) Complete(done pipeline.Completion) {
	c.mu.Lock()
	c.done = append(c.done, done)
	c.mu.Unlock()
}

func (c *completionRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.done)
}

func startLoudSession(t *testing.T, c *Controller) <-chan domain.SessionResult {
	t.Helper()
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.PushChunk("", loudChunk(4000)); err != nil {
		t.Fatalf("push: %v", err)
	}
	ch, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	return ch
}

func waitResult(t *testing.T, ch <-chan domain.SessionResult) domain.SessionResult {
	t.Helper()
	select {
	case res, ok := <-ch:
		if !ok {
			t.Fatal("result channel closed without a result")
		}
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session result")
	}
	return domain.SessionResult{}
}

func TestStartIsIdleOnly(t *testing.T) {
	c := NewController(context.Background(), Options{}, Deps{Recognizer: stt.NewMockRecognizer("x", ""), Processor: newGatedProcessor()}, testLogger())
	defer c.Close()

	if err := c.PushChunk("", "AAAA"); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected chunk ignored while idle, got %v", err)
	}
	token, err := c.Start(context.Background())
	if err != nil || token == "" {
		t.Fatalf("start: %q %v", token, err)
	}
	if _, err := c.Start(context.Background()); !errors.Is(err, ErrNotIdle) {
		t.Fatalf("expected second start to be a no-op, got %v", err)
	}
	if st := c.Status(); st.State != domain.SessionStateRecording || st.Token != token {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestStopWithoutChunksReturnsToIdle(t *testing.T) {
	ctxCache := &fakeContext{}
	proc := newGatedProcessor()
	c := NewController(context.Background(), Options{}, Deps{Context: ctxCache, Recognizer: stt.NewMockRecognizer("x", ""), Processor: proc}, testLogger())
	defer c.Close()

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ch, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if res := waitResult(t, ch); res.Outcome != domain.OutcomeAborted {
		t.Fatalf("unexpected outcome %s", res.Outcome)
	}
	if c.State() != domain.SessionStateIdle || proc.calls != 0 {
		t.Fatalf("expected idle without processing, state=%s calls=%d", c.State(), proc.calls)
	}
	if _, err := c.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected stop from idle to fail, got %v", err)
	}
}

func TestSilentRecordingSkipsPipeline(t *testing.T) {
	notes := &kindRecorder{}
	proc := newGatedProcessor()
	c := NewController(context.Background(), Options{}, Deps{Recognizer: stt.NewMockRecognizer("x", ""), Processor: proc, Notifier: notes}, testLogger())
	defer c.Close()

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := c.PushChunk("", quietChunk(1600)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	ch, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	res := waitResult(t, ch)
	if res.Outcome != domain.OutcomeEmpty || !res.Verdict.IsSilent {
		t.Fatalf("expected silent empty result, got %+v", res)
	}
	if proc.calls != 0 {
		t.Fatal("pipeline must not run for silent audio")
	}
	if !notes.has(domain.NotifySilentRecording) {
		t.Fatal("expected silent recording notification")
	}
}

func TestEndToEndDelivery(t *testing.T) {
	auto := platform.NewFake()
	auto.Window = platform.WindowInfo{AppName: "Slack", ProcessName: "slack"}
	detector := appcontext.NewDetector(auto, appcontext.Options{}, testLogger())
	mux := delivery.NewMultiplexer(auto, delivery.Options{RestoreDelay: time.Millisecond}, testLogger())
	defer mux.Wait()
	orch := pipeline.NewOrchestrator(pipeline.Options{TargetLanguage: "en"}, pipeline.Deps{
		Context:     detector,
		Transformer: transform.NewMockTransformer(0),
		Delivery:    mux,
	}, testLogger())

	var (
		mu     sync.Mutex
		states []string
	)
	observer := func(evt protocol.SessionEvent) {
		mu.Lock()
		states = append(states, evt.State)
		mu.Unlock()
	}
	c := NewController(context.Background(), Options{Language: "en"}, Deps{
		Context:    detector,
		Recognizer: stt.NewMockRecognizer("ship it today", "en"),
		Processor:  orch,
		Observer:   observer,
	}, testLogger())

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Let the context capture finish before stopping.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := detector.CachedContext(); ok || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := c.PushChunk("", loudChunk(8000)); err != nil {
		t.Fatalf("push: %v", err)
	}
	ch, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	res := waitResult(t, ch)
	if res.Outcome != domain.OutcomeDelivered || res.Text != "ship it today" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Provenance.ContextID != "slack" || !res.Provenance.ContextApplied {
		t.Fatalf("expected slack context applied, got %+v", res.Provenance)
	}
	if got := auto.Snapshot().PastedClip; len(got) != 1 || got[0] != "ship it today" {
		t.Fatalf("unexpected paste %v", got)
	}
	if _, ok := detector.CachedContext(); ok {
		t.Fatal("context cache must be cleared after the session")
	}

	c.Close()
	mu.Lock()
	defer mu.Unlock()
	want := []string{"recording", "finalizing", "awaiting_transform", "delivering", "idle"}
	if len(states) != len(want) {
		t.Fatalf("unexpected states %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("unexpected states %v", states)
		}
	}
}

func TestTimeoutLetsTransformFinishAndDropsResult(t *testing.T) {
	ctxCache := &fakeContext{}
	notes := &kindRecorder{}
	sink := &completionRecorder{}
	auto := platform.NewFake()
	mux := delivery.NewMultiplexer(auto, delivery.Options{RestoreDelay: time.Millisecond}, testLogger())
	defer mux.Wait()
	slow := newSlowTransformer(200 * time.Millisecond)
	orch := pipeline.NewOrchestrator(pipeline.Options{TargetLanguage: "en"}, pipeline.Deps{
		Transformer: slow,
		Delivery:    mux,
		Notifier:    notes,
		Completer:   sink,
	}, testLogger())
	c := NewController(context.Background(), Options{Timeout: 40 * time.Millisecond}, Deps{
		Context:    ctxCache,
		Recognizer: stt.NewMockRecognizer("too slow", "en"),
		Processor:  orch,
		Notifier:   notes,
	}, testLogger())

	res := waitResult(t, startLoudSession(t, c))
	if res.Outcome != domain.OutcomeTimedOut {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if c.State() != domain.SessionStateIdle {
		t.Fatalf("expected idle after timeout, got %s", c.State())
	}
	if _, clears, _ := ctxCache.counts(); clears < 1 {
		t.Fatal("context cache must be cleared on timeout")
	}

	select {
	case <-slow.done:
	case <-time.After(5 * time.Second):
		t.Fatal("transform never completed")
	}
	if err := slow.contextErr(); err != nil {
		t.Fatalf("transform must run to completion after the timeout, context ended with %v", err)
	}
	c.Close()

	if got := notes.all(); len(got) != 1 || got[0] != domain.NotifyProcessingTimeout {
		t.Fatalf("expected only the timeout notification, got %v", got)
	}
	if snap := auto.Snapshot(); snap.Pastes != 0 || len(snap.Typed) != 0 {
		t.Fatalf("late result must not be delivered, got %+v", snap)
	}
	if sink.count() != 0 {
		t.Fatal("late result must not be persisted")
	}
}

func TestTimeoutDuringDeliverySuppressesFollowUp(t *testing.T) {
	notes := &kindRecorder{}
	sink := &completionRecorder{}
	deliverer := &slowDeliverer{delay: 150 * time.Millisecond, started: make(chan struct{})}
	orch := pipeline.NewOrchestrator(pipeline.Options{}, pipeline.Deps{
		Transformer: transform.NewMockTransformer(0),
		Delivery:    deliverer,
		Notifier:    notes,
		Completer:   sink,
	}, testLogger())
	c := NewController(context.Background(), Options{Timeout: 40 * time.Millisecond}, Deps{
		Recognizer: stt.NewMockRecognizer("hello there", "en"),
		Processor:  orch,
		Notifier:   notes,
	}, testLogger())

	res := waitResult(t, startLoudSession(t, c))
	if res.Outcome != domain.OutcomeTimedOut {
		t.Fatalf("expected timeout while delivering, got %+v", res)
	}
	select {
	case <-deliverer.started:
	case <-time.After(5 * time.Second):
		t.Fatal("delivery never started")
	}
	c.Close()

	if got := notes.all(); len(got) != 1 || got[0] != domain.NotifyProcessingTimeout {
		t.Fatalf("expected only the timeout notification, got %v", got)
	}
	if sink.count() != 0 {
		t.Fatal("a session that timed out during delivery must not be persisted")
	}
}

func TestCancelAbortsInFlightProcessing(t *testing.T) {
	proc := newGatedProcessor()
	c := NewController(context.Background(), Options{}, Deps{
		Recognizer: stt.NewMockRecognizer("never mind", ""),
		Processor:  proc,
	}, testLogger())
	defer c.Close()

	ch := startLoudSession(t, c)
	deadline := time.Now().Add(5 * time.Second)
	for {
		proc.mu.Lock()
		calls := proc.calls
		proc.mu.Unlock()
		if calls > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("processing never started, state %s", c.State())
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !c.Cancel() {
		t.Fatal("expected cancel to discard the session")
	}
	if res := waitResult(t, ch); res.Outcome != domain.OutcomeAborted {
		t.Fatalf("expected aborted, got %+v", res)
	}
	select {
	case <-proc.done:
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not observe cancellation")
	}
	proc.mu.Lock()
	defer proc.mu.Unlock()
	if !proc.cancelled || len(proc.delivered) != 1 || proc.delivered[0] {
		t.Fatalf("cancelled session must be refused, cancelled=%v delivered=%v", proc.cancelled, proc.delivered)
	}
}

func TestPushChunkRejectsOtherSession(t *testing.T) {
	c := NewController(context.Background(), Options{}, Deps{Recognizer: stt.NewMockRecognizer("x", ""), Processor: newGatedProcessor()}, testLogger())
	defer c.Close()

	token, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.PushChunk("previous-session", "AAAA"); !errors.Is(err, ErrStaleChunk) {
		t.Fatalf("expected stale chunk, got %v", err)
	}
	if err := c.PushChunk(token, "AAAA"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if st := c.Status(); st.Chunks != 1 {
		t.Fatalf("expected only the current session's chunk, got %d", st.Chunks)
	}
}

func TestCancelAndSignOut(t *testing.T) {
	ctxCache := &fakeContext{}
	notes := &kindRecorder{}
	c := NewController(context.Background(), Options{}, Deps{
		Context:    ctxCache,
		Recognizer: stt.NewMockRecognizer("x", ""),
		Processor:  newGatedProcessor(),
		Notifier:   notes,
	}, testLogger())
	defer c.Close()

	if c.Cancel() {
		t.Fatal("nothing to cancel while idle")
	}
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.PushChunk("", loudChunk(10)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if !c.Cancel() || c.State() != domain.SessionStateIdle {
		t.Fatal("expected cancel to return to idle")
	}

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.SignOut()
	if c.State() != domain.SessionStateIdle {
		t.Fatal("sign-out must abort the session")
	}
	_, _, signOuts := ctxCache.counts()
	if signOuts != 1 || !notes.has(domain.NotifySignedOut) {
		t.Fatal("expected context sign-out and notification")
	}
}

func TestChunkLimit(t *testing.T) {
	c := NewController(context.Background(), Options{MaxChunks: 2}, Deps{Recognizer: stt.NewMockRecognizer("x", ""), Processor: newGatedProcessor()}, testLogger())
	defer c.Close()
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := c.PushChunk("", "AAAA"); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if err := c.PushChunk("", "AAAA"); !errors.Is(err, ErrTooManyChunks) {
		t.Fatalf("expected chunk limit, got %v", err)
	}
}

func TestInvalidAudioAborts(t *testing.T) {
	c := NewController(context.Background(), Options{}, Deps{Recognizer: stt.NewMockRecognizer("x", ""), Processor: newGatedProcessor()}, testLogger())
	defer c.Close()
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.PushChunk("", "not base64!"); err != nil {
		t.Fatalf("push: %v", err)
	}
	ch, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if res := waitResult(t, ch); res.Outcome != domain.OutcomeAborted || res.Err == "" {
		t.Fatalf("expected aborted with error, got %+v", res)
	}
}
