package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/domain"
	_ "modernc.org/sqlite"
)

const (
	RetentionEphemeral  = "ephemeral"
	RetentionSession    = "session"
	RetentionPersistent = "persistent"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("transcript store closed")

// Transcript is one processed dictation.
type Transcript struct {
	ID          string                    `json:"id"`
	Token       string                    `json:"token"`
	Text        string                    `json:"text"`
	RawText     string                    `json:"raw_text"`
	Metrics     domain.SpeechMetrics      `json:"metrics"`
	Provenance  domain.ProvenanceMetadata `json:"provenance"`
	ContextType domain.ContextType        `json:"context_type"`
	Delivered   bool                      `json:"delivered"`
	CreatedAt   time.Time                 `json:"created_at"`
}

// Event is a session lifecycle entry.
type Event struct {
	ID        int64               `json:"id"`
	Token     string              `json:"token"`
	State     domain.SessionState `json:"state"`
	Outcome   domain.Outcome      `json:"outcome,omitempty"`
	Detail    string              `json:"detail,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

// Store persists transcripts and session events in SQLite. Ephemeral mode keeps nothing.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "store"))
	if cfg.RetentionMode == RetentionEphemeral {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if cfg.RetentionMode == RetentionSession {
		if err := s.purge(ctx); err != nil {
			log.Warn("purge of previous session data failed", slogError(err))
		}
	}
	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("store vacuum failed", slogError(err))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("store prune on start failed", slogError(err))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS transcripts (
    id TEXT PRIMARY KEY,
    token TEXT NOT NULL,
    text TEXT NOT NULL,
    raw_text TEXT NOT NULL,
    word_count INTEGER NOT NULL,
    words_per_minute REAL NOT NULL,
    duration_seconds REAL NOT NULL,
    was_translated INTEGER NOT NULL,
    source_language TEXT,
    target_language TEXT,
    confidence REAL NOT NULL,
    word_count_ratio REAL NOT NULL,
    context_applied INTEGER NOT NULL,
    context_id TEXT,
    context_type TEXT,
    delivered INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_created ON transcripts(created_at);
CREATE TABLE IF NOT EXISTS session_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    token TEXT NOT NULL,
    state TEXT NOT NULL,
    outcome TEXT,
    detail TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_events_token ON session_events(token, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *Store) purge(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_events`); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM transcripts`)
	return err
}

func (s *Store) enabled() bool {
	return s != nil && s.db != nil && s.cfg.RetentionMode != RetentionEphemeral
}

// Close releases underlying resources. Session retention discards everything on close.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var errs []error
	if s.cfg.RetentionMode == RetentionSession {
		if err := s.purge(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("purge session data: %w", err))
		}
	}
	errs = append(errs, s.db.Close())
	s.db = nil
	return errors.Join(errs...)
}

// SaveTranscript writes t and returns its id. Ephemeral stores return an id without writing.
func (s *Store) SaveTranscript(ctx context.Context, t Transcript) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if s == nil {
		return "", ErrClosed
	}
	if s.cfg.RetentionMode == RetentionEphemeral {
		return t.ID, nil
	}
	if s.db == nil {
		return "", ErrClosed
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.clock()
	}
	p := t.Provenance
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts(id, token, text, raw_text, word_count, words_per_minute, duration_seconds,
		    was_translated, source_language, target_language, confidence, word_count_ratio,
		    context_applied, context_id, context_type, delivered, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Token, t.Text, t.RawText, t.Metrics.WordCount, t.Metrics.WordsPerMinute, t.Metrics.DurationSeconds,
		p.WasTranslated, p.SourceLanguage, p.TargetLanguage, p.Confidence, p.WordCountRatio,
		p.ContextApplied, p.ContextID, string(t.ContextType), t.Delivered, t.CreatedAt.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("insert transcript: %w", err)
	}
	return t.ID, nil
}

// ListTranscripts returns up to limit transcripts, newest first.
func (s *Store) ListTranscripts(ctx context.Context, limit int) ([]Transcript, error) {
	if !s.enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, token, text, raw_text, word_count, words_per_minute, duration_seconds,
		    was_translated, source_language, target_language, confidence, word_count_ratio,
		    context_applied, context_id, context_type, delivered, created_at
		 FROM transcripts ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		var (
			t           Transcript
			contextID   sql.NullString
			contextType sql.NullString
			source      sql.NullString
			target      sql.NullString
			created     int64
		)
		if err := rows.Scan(&t.ID, &t.Token, &t.Text, &t.RawText, &t.Metrics.WordCount, &t.Metrics.WordsPerMinute,
			&t.Metrics.DurationSeconds, &t.Provenance.WasTranslated, &source, &target, &t.Provenance.Confidence,
			&t.Provenance.WordCountRatio, &t.Provenance.ContextApplied, &contextID, &contextType, &t.Delivered, &created); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		t.Provenance.SourceLanguage = source.String
		t.Provenance.TargetLanguage = target.String
		t.Provenance.ContextID = contextID.String
		t.ContextType = domain.ContextType(contextType.String)
		t.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// AppendEvent records a session state change.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if !s.enabled() {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_events(token, state, outcome, detail, created_at) VALUES(?, ?, ?, ?, ?)`,
		evt.Token, string(evt.State), string(evt.Outcome), evt.Detail, evt.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}
	return nil
}

// ListEvents retrieves up to limit events for a session token in time order.
func (s *Store) ListEvents(ctx context.Context, token string, limit int) ([]Event, error) {
	if !s.enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, token, state, outcome, detail, created_at
		 FROM session_events WHERE token = ? ORDER BY created_at ASC, id ASC LIMIT ?`, token, limit)
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e               Event
			state           string
			outcome, detail sql.NullString
			created         int64
		)
		if err := rows.Scan(&e.ID, &e.Token, &state, &outcome, &detail, &created); err != nil {
			return nil, fmt.Errorf("scan session event: %w", err)
		}
		e.State = domain.SessionState(state)
		e.Outcome = domain.Outcome(outcome.String)
		e.Detail = detail.String
		e.CreatedAt = time.UnixMilli(created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and scheduled by the runtime).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UnixMilli()
		if _, err = tx.ExecContext(ctx, `DELETE FROM transcripts WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM session_events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxTranscripts > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM transcripts WHERE id IN (
			SELECT id FROM transcripts ORDER BY created_at DESC, rowid DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxTranscripts)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
