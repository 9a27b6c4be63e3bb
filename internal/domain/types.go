package domain

import "time"

// SessionState models the dictation lifecycle owned by the session controller.
type SessionState string

const (
	SessionStateIdle              SessionState = "idle"
	SessionStateRecording         SessionState = "recording"
	SessionStateFinalizing        SessionState = "finalizing"
	SessionStateAwaitingTransform SessionState = "awaiting_transform"
	SessionStateDelivering        SessionState = "delivering"
	SessionStateTimedOut          SessionState = "timed_out"
)

// ContextType is a coarse classification of the focused application.
type ContextType string

const (
	ContextEmail        ContextType = "email"
	ContextNotes        ContextType = "notes"
	ContextCodeEditor   ContextType = "code_editor"
	ContextMessaging    ContextType = "messaging"
	ContextDocument     ContextType = "document"
	ContextBrowser      ContextType = "browser"
	ContextTerminal     ContextType = "terminal"
	ContextPresentation ContextType = "presentation"
	ContextUnknown      ContextType = "unknown"
)

// Valid reports whether t is one of the known context types.
func (t ContextType) Valid() bool {
	switch t {
	case ContextEmail, ContextNotes, ContextCodeEditor, ContextMessaging, ContextDocument,
		ContextBrowser, ContextTerminal, ContextPresentation, ContextUnknown:
		return true
	}
	return false
}

// ApplicationContext is the classified focused application. Values are never mutated after creation.
type ApplicationContext struct {
	ApplicationID string      `json:"application_id"`
	ContextType   ContextType `json:"context_type"`
	Confidence    float64     `json:"confidence"`
	DisplayName   string      `json:"display_name"`
	CapturedAt    time.Time   `json:"captured_at"`
}

// SilenceVerdict is the result of scoring a finalized recording.
type SilenceVerdict struct {
	IsSilent          bool    `json:"is_silent"`
	AverageAmplitude  float64 `json:"average_amplitude"`
	PeakAmplitude     int     `json:"peak_amplitude"`
	NonSilentFraction float64 `json:"non_silent_fraction"`
	Samples           int     `json:"samples"`
}

// SpeechMetrics describes the speech rate of a transcript.
type SpeechMetrics struct {
	WordCount       int     `json:"word_count"`
	WordsPerMinute  float64 `json:"words_per_minute"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// ProvenanceMetadata records which transformations were applied to a transcript.
type ProvenanceMetadata struct {
	WasTranslated  bool    `json:"was_translated"`
	SourceLanguage string  `json:"source_language"`
	TargetLanguage string  `json:"target_language"`
	Confidence     float64 `json:"confidence"`
	WordCountRatio float64 `json:"word_count_ratio"`
	ContextApplied bool    `json:"context_applied"`
	ContextID      string  `json:"context_id,omitempty"`
}

// DictionaryEntry is a user-defined literal substitution.
type DictionaryEntry struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}
