package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFile        string `yaml:"log_file"`
	LogMaxSizeMB   int    `yaml:"log_max_size_mb"`
	LogMaxBackups  int    `yaml:"log_max_backups"`
	LogMaxAgeDays  int    `yaml:"log_max_age_days"`
	LogCompress    bool   `yaml:"log_compress"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	TraceStdout    bool   `yaml:"trace_stdout"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Store       StoreConfig      `yaml:"store"`
	Session     SessionConfig    `yaml:"session"`
	Audio       AudioConfig      `yaml:"audio"`
	STT         STTConfig        `yaml:"stt"`
	Transform   TransformConfig  `yaml:"transform"`
	Context     ContextConfig    `yaml:"context"`
	Delivery    DeliveryConfig   `yaml:"delivery"`
	Dictionary  DictionaryConfig `yaml:"dictionary"`
	Notify      NotifyConfig     `yaml:"notify"`
	Platform    PlatformConfig   `yaml:"platform"`
	Node        NodeConfig       `yaml:"node"`
}

type NodeConfig struct {
	ID                  string `yaml:"id"`
	Role                string `yaml:"role"`
	HeartbeatIntervalMS int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeoutMS  int    `yaml:"heartbeat_timeout_ms"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StoreConfig struct {
	Path           string `yaml:"path"`
	RetentionMode  string `yaml:"retention_mode"`
	RetentionDays  int    `yaml:"retention_days"`
	MaxTranscripts int    `yaml:"max_transcripts"`
	VacuumOnStart  bool   `yaml:"vacuum_on_start"`
}

type SessionConfig struct {
	TimeoutMS           int `yaml:"timeout_ms"`
	MaxChunks           int `yaml:"max_chunks"`
	CompletionTimeoutMS int `yaml:"completion_timeout_ms"`
}

type SilenceConfig struct {
	SampleThreshold      int     `yaml:"sample_threshold"`
	MinMeanAmplitude     float64 `yaml:"min_mean_amplitude"`
	MinPeakAmplitude     int     `yaml:"min_peak_amplitude"`
	MinNonSilentFraction float64 `yaml:"min_non_silent_fraction"`
}

type AudioConfig struct {
	SampleRate int           `yaml:"sample_rate"`
	Channels   int           `yaml:"channels"`
	Silence    SilenceConfig `yaml:"silence"`
}

type STTConfig struct {
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
	MockText  string `yaml:"mock_text"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type TransformConfig struct {
	Mode              string  `yaml:"mode"` // mock, ollama, exec, bus
	Endpoint          string  `yaml:"endpoint"`
	Command           string  `yaml:"command"`
	Model             string  `yaml:"model"`
	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float64 `yaml:"temperature"`
	TimeoutMS         int     `yaml:"timeout_ms"`
	HTTP2             bool    `yaml:"http2"`
	TargetLanguage    string  `yaml:"target_language"`
	InstructionMode   string  `yaml:"instruction_mode"` // context, custom, none
	CustomInstruction string  `yaml:"custom_instruction"`
	Serve             bool    `yaml:"serve"`
}

type ContextConfig struct {
	MappingsFile   string `yaml:"mappings_file"`
	TieBreak       string `yaml:"tie_break"` // first, most_specific
	QueryTimeoutMS int    `yaml:"query_timeout_ms"`
}

type DeliveryConfig struct {
	Strategy       string `yaml:"strategy"` // auto, clipboard, keystrokes
	RestoreDelayMS int    `yaml:"restore_delay_ms"`
	PasteSettleMS  int    `yaml:"paste_settle_ms"`
}

type DictionaryConfig struct {
	Path string `yaml:"path"`
}

type NotifyConfig struct {
	Desktop   bool   `yaml:"desktop"`
	AppName   string `yaml:"app_name"`
	Bus       bool   `yaml:"bus"`
	WebSocket bool   `yaml:"websocket"`
}

type PlatformConfig struct {
	Force            string `yaml:"force"` // darwin, x11, wayland, windows, command, none
	WindowCommand    string `yaml:"window_command"`
	PasteCommand     string `yaml:"paste_command"`
	TypeCommand      string `yaml:"type_command"`
	CommandTimeoutMS int    `yaml:"command_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-dictate",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8765,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogMaxSizeMB:   10,
			LogMaxBackups:  3,
			LogMaxAgeDays:  14,
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path:           "./data/loqa-dictate.db",
			RetentionMode:  "persistent",
			RetentionDays:  30,
			MaxTranscripts: 5000,
		},
		Session: SessionConfig{
			TimeoutMS:           30000,
			MaxChunks:           20000,
			CompletionTimeoutMS: 10000,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			Silence: SilenceConfig{
				SampleThreshold:      300,
				MinMeanAmplitude:     300,
				MinPeakAmplitude:     1000,
				MinNonSilentFraction: 0.10,
			},
		},
		STT: STTConfig{
			Mode:      "mock",
			Language:  "auto",
			TimeoutMS: 20000,
		},
		Transform: TransformConfig{
			Mode:            "mock",
			Endpoint:        "http://localhost:11434",
			Model:           "llama3.2:latest",
			MaxTokens:       1024,
			Temperature:     0.2,
			TimeoutMS:       25000,
			TargetLanguage:  "en",
			InstructionMode: "context",
		},
		Context: ContextConfig{
			TieBreak:       "first",
			QueryTimeoutMS: 1500,
		},
		Delivery: DeliveryConfig{
			Strategy:       "auto",
			RestoreDelayMS: 500,
			PasteSettleMS:  0,
		},
		Dictionary: DictionaryConfig{
			Path: "./data/dictionary.yaml",
		},
		Notify: NotifyConfig{
			Desktop:   false,
			AppName:   "Loqa Dictate",
			Bus:       true,
			WebSocket: true,
		},
		Platform: PlatformConfig{
			CommandTimeoutMS: 3000,
		},
		Node: NodeConfig{
			ID:                  "dictate-local",
			Role:                "dictation",
			HeartbeatIntervalMS: 2000,
			HeartbeatTimeoutMS:  6000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_DICTATE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_DICTATE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_DICTATE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_DICTATE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_DICTATE_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFile, "LOQA_DICTATE_LOG_FILE")
	overrideInt(&cfg.Telemetry.LogMaxSizeMB, "LOQA_DICTATE_LOG_MAX_SIZE_MB")
	overrideInt(&cfg.Telemetry.LogMaxBackups, "LOQA_DICTATE_LOG_MAX_BACKUPS")
	overrideInt(&cfg.Telemetry.LogMaxAgeDays, "LOQA_DICTATE_LOG_MAX_AGE_DAYS")
	overrideBool(&cfg.Telemetry.LogCompress, "LOQA_DICTATE_LOG_COMPRESS")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_DICTATE_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_DICTATE_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "LOQA_DICTATE_TRACE_STDOUT")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_DICTATE_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_DICTATE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_DICTATE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_DICTATE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_DICTATE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_DICTATE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_DICTATE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_DICTATE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_DICTATE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_DICTATE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_DICTATE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "LOQA_DICTATE_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "LOQA_DICTATE_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "LOQA_DICTATE_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxTranscripts, "LOQA_DICTATE_STORE_MAX_TRANSCRIPTS")
	overrideBool(&cfg.Store.VacuumOnStart, "LOQA_DICTATE_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Session.TimeoutMS, "LOQA_DICTATE_SESSION_TIMEOUT_MS")
	overrideInt(&cfg.Session.MaxChunks, "LOQA_DICTATE_SESSION_MAX_CHUNKS")
	overrideInt(&cfg.Session.CompletionTimeoutMS, "LOQA_DICTATE_SESSION_COMPLETION_TIMEOUT_MS")
	overrideInt(&cfg.Audio.SampleRate, "LOQA_DICTATE_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "LOQA_DICTATE_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.Silence.SampleThreshold, "LOQA_DICTATE_SILENCE_SAMPLE_THRESHOLD")
	overrideFloat(&cfg.Audio.Silence.MinMeanAmplitude, "LOQA_DICTATE_SILENCE_MIN_MEAN")
	overrideInt(&cfg.Audio.Silence.MinPeakAmplitude, "LOQA_DICTATE_SILENCE_MIN_PEAK")
	overrideFloat(&cfg.Audio.Silence.MinNonSilentFraction, "LOQA_DICTATE_SILENCE_MIN_FRACTION")
	overrideString(&cfg.STT.Mode, "LOQA_DICTATE_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_DICTATE_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_DICTATE_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "LOQA_DICTATE_STT_LANGUAGE")
	overrideString(&cfg.STT.MockText, "LOQA_DICTATE_STT_MOCK_TEXT")
	overrideInt(&cfg.STT.TimeoutMS, "LOQA_DICTATE_STT_TIMEOUT_MS")
	overrideString(&cfg.Transform.Mode, "LOQA_DICTATE_TRANSFORM_MODE")
	overrideString(&cfg.Transform.Endpoint, "LOQA_DICTATE_TRANSFORM_ENDPOINT")
	overrideString(&cfg.Transform.Command, "LOQA_DICTATE_TRANSFORM_COMMAND")
	overrideString(&cfg.Transform.Model, "LOQA_DICTATE_TRANSFORM_MODEL")
	overrideInt(&cfg.Transform.MaxTokens, "LOQA_DICTATE_TRANSFORM_MAX_TOKENS")
	overrideFloat(&cfg.Transform.Temperature, "LOQA_DICTATE_TRANSFORM_TEMPERATURE")
	overrideInt(&cfg.Transform.TimeoutMS, "LOQA_DICTATE_TRANSFORM_TIMEOUT_MS")
	overrideBool(&cfg.Transform.HTTP2, "LOQA_DICTATE_TRANSFORM_HTTP2")
	overrideString(&cfg.Transform.TargetLanguage, "LOQA_DICTATE_TARGET_LANGUAGE")
	overrideString(&cfg.Transform.InstructionMode, "LOQA_DICTATE_INSTRUCTION_MODE")
	overrideString(&cfg.Transform.CustomInstruction, "LOQA_DICTATE_CUSTOM_INSTRUCTION")
	overrideBool(&cfg.Transform.Serve, "LOQA_DICTATE_TRANSFORM_SERVE")
	overrideString(&cfg.Context.MappingsFile, "LOQA_DICTATE_CONTEXT_MAPPINGS_FILE")
	overrideString(&cfg.Context.TieBreak, "LOQA_DICTATE_CONTEXT_TIE_BREAK")
	overrideInt(&cfg.Context.QueryTimeoutMS, "LOQA_DICTATE_CONTEXT_QUERY_TIMEOUT_MS")
	overrideString(&cfg.Delivery.Strategy, "LOQA_DICTATE_DELIVERY_STRATEGY")
	overrideInt(&cfg.Delivery.RestoreDelayMS, "LOQA_DICTATE_DELIVERY_RESTORE_DELAY_MS")
	overrideInt(&cfg.Delivery.PasteSettleMS, "LOQA_DICTATE_DELIVERY_PASTE_SETTLE_MS")
	overrideString(&cfg.Dictionary.Path, "LOQA_DICTATE_DICTIONARY_PATH")
	overrideBool(&cfg.Notify.Desktop, "LOQA_DICTATE_NOTIFY_DESKTOP")
	overrideString(&cfg.Notify.AppName, "LOQA_DICTATE_NOTIFY_APP_NAME")
	overrideBool(&cfg.Notify.Bus, "LOQA_DICTATE_NOTIFY_BUS")
	overrideBool(&cfg.Notify.WebSocket, "LOQA_DICTATE_NOTIFY_WEBSOCKET")
	overrideString(&cfg.Platform.Force, "LOQA_DICTATE_PLATFORM")
	overrideString(&cfg.Platform.WindowCommand, "LOQA_DICTATE_PLATFORM_WINDOW_COMMAND")
	overrideString(&cfg.Platform.PasteCommand, "LOQA_DICTATE_PLATFORM_PASTE_COMMAND")
	overrideString(&cfg.Platform.TypeCommand, "LOQA_DICTATE_PLATFORM_TYPE_COMMAND")
	overrideInt(&cfg.Platform.CommandTimeoutMS, "LOQA_DICTATE_PLATFORM_COMMAND_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "LOQA_DICTATE_NODE_ID")
	overrideString(&cfg.Node.Role, "LOQA_DICTATE_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatIntervalMS, "LOQA_DICTATE_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeoutMS, "LOQA_DICTATE_NODE_HEARTBEAT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

// Validate reports the first configuration error, if any.
func Validate(cfg Config) error {
	return validate(cfg)
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Store.RetentionMode != "ephemeral" && cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	if cfg.Session.TimeoutMS <= 0 {
		return errors.New("session.timeout_ms must be positive")
	}
	if cfg.Session.CompletionTimeoutMS <= 0 {
		return errors.New("session.completion_timeout_ms must be positive")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if f := cfg.Audio.Silence.MinNonSilentFraction; f < 0 || f > 1 {
		return errors.New("audio.silence.min_non_silent_fraction must be within [0,1]")
	}
	switch cfg.STT.Mode {
	case "mock", "exec":
	default:
		return errors.New("stt.mode must be one of mock|exec")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	switch cfg.Transform.Mode {
	case "mock", "ollama", "exec", "bus":
	default:
		return errors.New("transform.mode must be one of mock|ollama|exec|bus")
	}
	if cfg.Transform.Mode == "ollama" && cfg.Transform.Endpoint == "" {
		return errors.New("transform.endpoint must be set when mode=ollama")
	}
	if cfg.Transform.Mode == "exec" && cfg.Transform.Command == "" {
		return errors.New("transform.command must be set when mode=exec")
	}
	if cfg.Transform.Mode == "bus" && !cfg.Bus.Enabled {
		return errors.New("transform.mode=bus requires bus.enabled")
	}
	if cfg.Transform.Serve && !cfg.Bus.Enabled {
		return errors.New("transform.serve requires bus.enabled")
	}
	if cfg.Transform.Serve && cfg.Transform.Mode == "bus" {
		return errors.New("transform.serve needs a local backend, not mode=bus")
	}
	if cfg.Transform.MaxTokens < 0 {
		return errors.New("transform.max_tokens must be >= 0")
	}
	if cfg.Transform.TimeoutMS <= 0 {
		return errors.New("transform.timeout_ms must be positive")
	}
	switch cfg.Transform.InstructionMode {
	case "context", "custom", "none":
	default:
		return errors.New("transform.instruction_mode must be one of context|custom|none")
	}
	if cfg.Transform.InstructionMode == "custom" && strings.TrimSpace(cfg.Transform.CustomInstruction) == "" {
		return errors.New("transform.custom_instruction must be set when instruction_mode=custom")
	}
	switch cfg.Context.TieBreak {
	case "first", "most_specific":
	default:
		return errors.New("context.tie_break must be one of first|most_specific")
	}
	switch cfg.Delivery.Strategy {
	case "auto", "clipboard", "keystrokes":
	default:
		return errors.New("delivery.strategy must be one of auto|clipboard|keystrokes")
	}
	if cfg.Delivery.RestoreDelayMS < 0 || cfg.Delivery.PasteSettleMS < 0 {
		return errors.New("delivery delays must be >= 0")
	}
	if cfg.Notify.Bus && !cfg.Bus.Enabled {
		return errors.New("notify.bus requires bus.enabled")
	}
	switch cfg.Platform.Force {
	case "", "darwin", "x11", "wayland", "windows", "none":
	case "command":
		if cfg.Platform.PasteCommand == "" && cfg.Platform.TypeCommand == "" {
			return errors.New("platform.force=command requires paste_command or type_command")
		}
	default:
		return errors.New("platform.force must be one of darwin|x11|wayland|windows|command|none")
	}
	if cfg.Bus.Enabled {
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty when the bus is enabled")
		}
		if cfg.Node.HeartbeatIntervalMS <= 0 || cfg.Node.HeartbeatTimeoutMS <= cfg.Node.HeartbeatIntervalMS {
			return errors.New("node.heartbeat_timeout_ms must exceed a positive heartbeat_interval_ms")
		}
	}
	return nil
}
