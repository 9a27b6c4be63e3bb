package appcontext

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/domain"
	"github.com/loqalabs/loqa-dictate/internal/platform"
)

// Signal weights for table scoring.
const (
	WeightBundle     = 100
	WeightName       = 50
	WeightAlias      = 40
	WeightProcess    = 30
	WeightPartial    = 20
	WeightTitleBonus = 15
)

// Confidence values attached to classified contexts.
const (
	ConfidenceDirect     = 0.95
	ConfidenceProcess    = 0.9
	ConfidenceBrowser    = 0.75
	ConfidenceUnresolved = 0.3
	ConfidenceNoData     = 0.1
)

// TieBreak selects the winner among equally scored table rows.
type TieBreak string

const (
	// TieBreakFirst keeps the earliest table row.
	TieBreakFirst TieBreak = "first"
	// TieBreakMostSpecific prefers the row whose strongest single signal is heaviest, then table order.
	TieBreakMostSpecific TieBreak = "most_specific"
)

const minPartialLen = 3

// Options configure a Detector.
type Options struct {
	Table        *Table
	TieBreak     TieBreak
	QueryTimeout time.Duration
	Now          func() time.Time
}

// Detector classifies the focused application and keeps the result in a single-slot cache.
type Detector struct {
	querier platform.WindowQuerier
	table   *Table
	tie     TieBreak
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu         sync.Mutex
	generation uint64
	cached     atomic.Pointer[domain.ApplicationContext]
}

func NewDetector(querier platform.WindowQuerier, opts Options, logger *slog.Logger) *Detector {
	if opts.Table == nil {
		opts.Table = DefaultTable()
	}
	if opts.TieBreak == "" {
		opts.TieBreak = TieBreakFirst
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		querier: querier,
		table:   opts.Table,
		tie:     opts.TieBreak,
		timeout: opts.QueryTimeout,
		now:     opts.Now,
		logger:  logger.With(slog.String("component", "context-detector")),
	}
}

// CaptureContext queries the OS, classifies the result and replaces the cached value. It never
// fails: query errors yield an unknown context. A Clear issued while the query is in flight wins.
func (d *Detector) CaptureContext(ctx context.Context) domain.ApplicationContext {
	d.mu.Lock()
	gen := d.generation
	d.mu.Unlock()

	var (
		info platform.WindowInfo
		err  error
	)
	if d.querier == nil {
		err = platform.ErrUnsupported
	} else {
		qctx := ctx
		if d.timeout > 0 {
			var cancel context.CancelFunc
			qctx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}
		info, err = d.querier.FocusedWindow(qctx)
	}

	var result domain.ApplicationContext
	if err != nil {
		d.logger.Warn("focused window query failed", slog.String("stage", "context"), slogError(err))
		result = noDataContext()
	} else {
		result = d.Classify(info)
	}
	result.CapturedAt = d.now()

	d.mu.Lock()
	if d.generation == gen {
		stored := result
		d.cached.Store(&stored)
	}
	d.mu.Unlock()

	d.logger.Debug("application context captured",
		slog.String("application_id", result.ApplicationID),
		slog.String("context_type", string(result.ContextType)),
		slog.Float64("confidence", result.Confidence),
	)
	return result
}

// CachedContext returns the last captured context without I/O.
func (d *Detector) CachedContext() (domain.ApplicationContext, bool) {
	ptr := d.cached.Load()
	if ptr == nil {
		return domain.ApplicationContext{}, false
	}
	return *ptr, true
}

// Clear invalidates the cache and any capture still in flight.
func (d *Detector) Clear() {
	d.mu.Lock()
	d.generation++
	d.cached.Store(nil)
	d.mu.Unlock()
}

// SignOut clears the cache on account sign-out.
func (d *Detector) SignOut() {
	d.Clear()
	d.logger.Info("application context cleared on sign-out")
}

// Classify maps a window observation to a context. It is pure apart from reading the table.
func (d *Detector) Classify(info platform.WindowInfo) domain.ApplicationContext {
	if info.Empty() {
		return noDataContext()
	}
	obs := newObservation(info)

	best, ok := d.bestMatch(obs)
	if ok && best.mapping.Context == domain.ContextBrowser {
		return d.classifyBrowser(best.mapping, obs.title)
	}
	if ok {
		confidence := ConfidenceProcess
		if best.direct {
			confidence = ConfidenceDirect
		}
		return domain.ApplicationContext{
			ApplicationID: best.mapping.ID,
			ContextType:   best.mapping.Context,
			Confidence:    confidence,
			DisplayName:   best.mapping.DisplayName,
		}
	}
	return unresolvedContext(info)
}

func (d *Detector) bestMatch(obs observation) (scored, bool) {
	var (
		best  scored
		found bool
	)
	for _, m := range d.table.Mappings {
		s := score(m, obs)
		if s.total <= 0 {
			continue
		}
		if !found || d.better(s, best) {
			best = s
			found = true
		}
	}
	return best, found
}

func (d *Detector) better(candidate, current scored) bool {
	if candidate.total != current.total {
		return candidate.total > current.total
	}
	if d.tie == TieBreakMostSpecific {
		return candidate.strongest > current.strongest
	}
	return false
}

// classifyBrowser resolves a browser by its window title: ordered patterns first, then keyword
// buckets, then the browser itself.
func (d *Detector) classifyBrowser(browser Mapping, title string) domain.ApplicationContext {
	for _, p := range d.table.TitlePatterns {
		for _, pattern := range p.Patterns {
			if pattern != "" && strings.Contains(title, strings.ToLower(pattern)) {
				return domain.ApplicationContext{
					ApplicationID: p.ID,
					ContextType:   p.Context,
					Confidence:    ConfidenceBrowser,
					DisplayName:   p.DisplayName,
				}
			}
		}
	}
	switch {
	case strings.Contains(title, "mail") || strings.Contains(title, "@"):
		return domain.ApplicationContext{
			ApplicationID: browser.ID + ":mail",
			ContextType:   domain.ContextEmail,
			Confidence:    ConfidenceBrowser,
			DisplayName:   browser.DisplayName,
		}
	case strings.Contains(title, "doc") || strings.Contains(title, "edit"):
		return domain.ApplicationContext{
			ApplicationID: browser.ID + ":document",
			ContextType:   domain.ContextDocument,
			Confidence:    ConfidenceBrowser,
			DisplayName:   browser.DisplayName,
		}
	}
	return domain.ApplicationContext{
		ApplicationID: browser.ID,
		ContextType:   domain.ContextBrowser,
		Confidence:    ConfidenceUnresolved,
		DisplayName:   browser.DisplayName,
	}
}

func unresolvedContext(info platform.WindowInfo) domain.ApplicationContext {
	id := strings.ToLower(strings.TrimSpace(info.ProcessName))
	if id == "" {
		id = strings.ToLower(strings.TrimSpace(info.AppName))
	}
	if id == "" {
		id = "unknown"
	}
	name := strings.TrimSpace(info.AppName)
	if name == "" {
		name = strings.TrimSpace(info.ProcessName)
	}
	return domain.ApplicationContext{
		ApplicationID: id,
		ContextType:   domain.ContextUnknown,
		Confidence:    ConfidenceUnresolved,
		DisplayName:   name,
	}
}

func noDataContext() domain.ApplicationContext {
	return domain.ApplicationContext{
		ApplicationID: "unknown",
		ContextType:   domain.ContextUnknown,
		Confidence:    ConfidenceNoData,
		DisplayName:   "Unknown",
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
