package protocol

import "time"

// AudioChunk carries one base64 audio chunk from a recorder front-end.
type AudioChunk struct {
	Token    string `json:"token,omitempty"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
}

// ControlCommand drives the session controller over the bus.
type ControlCommand struct {
	RequestID string `json:"request_id,omitempty"`
}

// ControlReply answers a ControlCommand.
type ControlReply struct {
	OK    bool   `json:"ok"`
	Token string `json:"token,omitempty"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// SessionEvent is broadcast on every controller state change.
type SessionEvent struct {
	Token     string    `json:"token"`
	State     string    `json:"state"`
	Outcome   string    `json:"outcome,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TransformRequest is the bus form of a text transform call.
type TransformRequest struct {
	Token           string   `json:"token,omitempty"`
	Text            string   `json:"text"`
	Instructions    string   `json:"instructions"`
	SourceLanguage  string   `json:"source_language,omitempty"`
	TargetLanguage  string   `json:"target_language,omitempty"`
	DictionaryHints []string `json:"dictionary_hints,omitempty"`
	Model           string   `json:"model,omitempty"`
	Temperature     float64  `json:"temperature,omitempty"`
	MaxTokens       int      `json:"max_tokens,omitempty"`
}

// TransformReply answers a TransformRequest. Error is set instead of Text on failure.
type TransformReply struct {
	Text             string `json:"text,omitempty"`
	Error            string `json:"error,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	LatencyMS        int64  `json:"latency_ms"`
}

// TranscriptSaved is published after background persistence.
type TranscriptSaved struct {
	ID             string    `json:"id"`
	Token          string    `json:"token"`
	WordCount      int       `json:"word_count"`
	WordsPerMinute float64   `json:"words_per_minute"`
	Delivered      bool      `json:"delivered"`
	Timestamp      time.Time `json:"timestamp"`
}

// Notification is a user-facing condition for UI clients.
type Notification struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectSessionPrefix    = "dictation.session"
	SubjectSessionResult    = "dictation.result"
	SubjectAudioChunk       = "dictation.audio.chunk"
	SubjectControlStart     = "dictation.control.start"
	SubjectControlStop      = "dictation.control.stop"
	SubjectControlCancel    = "dictation.control.cancel"
	SubjectTransformRequest = "dictation.transform.request"
	SubjectTranscriptSaved  = "dictation.transcript.saved"
	SubjectNotifyPrefix     = "dictation.notify"
	SubjectNodeAnnounce     = "dictation.node.announce"
	SubjectNodeHeartbeat    = "dictation.node.heartbeat"
)

// SessionSubject returns the subject for a state change.
func SessionSubject(state string) string {
	return SubjectSessionPrefix + "." + state
}

// HeartbeatSubject returns the heartbeat subject of a node.
func HeartbeatSubject(nodeID string) string {
	return SubjectNodeHeartbeat + "." + nodeID
}

// NotifySubject returns the subject for a notification kind.
func NotifySubject(kind string) string {
	return SubjectNotifyPrefix + "." + kind
}
