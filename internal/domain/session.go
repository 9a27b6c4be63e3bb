package domain

// NotificationKind identifies user-facing conditions sent to the UI channel.
type NotificationKind string

const (
	NotifySilentRecording   NotificationKind = "silent_recording"
	NotifyEmptyTranscript   NotificationKind = "empty_transcript"
	NotifyPermissionError   NotificationKind = "permission_error"
	NotifyProcessingTimeout NotificationKind = "processing_timeout"
	NotifyDeliveryFailed    NotificationKind = "delivery_failed"
	NotifyTransformDegraded NotificationKind = "transform_degraded"
	NotifySignedOut         NotificationKind = "signed_out"
)

// Outcome classifies how a recording session ended.
type Outcome string

const (
	OutcomeDelivered      Outcome = "delivered"
	OutcomeEmpty          Outcome = "empty"
	OutcomeDeliveryFailed Outcome = "delivery_failed"
	OutcomeTimedOut       Outcome = "timed_out"
	OutcomeAborted        Outcome = "aborted"
)

// SessionResult is produced exactly once per finalized recording.
type SessionResult struct {
	Token      string             `json:"token"`
	Outcome    Outcome            `json:"outcome"`
	RawText    string             `json:"raw_text,omitempty"`
	Text       string             `json:"text,omitempty"`
	Metrics    SpeechMetrics      `json:"metrics"`
	Provenance ProvenanceMetadata `json:"provenance"`
	Verdict    SilenceVerdict     `json:"verdict"`
	Err        string             `json:"error,omitempty"`
}

// Status summarizes the controller for status endpoints.
type Status struct {
	State  SessionState `json:"state"`
	Active bool         `json:"active"`
	Token  string       `json:"token,omitempty"`
	Chunks int          `json:"chunks"`
}
