// Package config provides the configuration schema, loader, provider registry
// and file watcher for huddle.
//
// Configuration is loaded from a YAML file (see [Load]); secrets may be
// supplied through the environment instead (see [ApplyEnv]). Provider
// constructors are looked up by name through a [Registry] so that new
// backends can be added without touching the loader.
package config

import (
	"time"

	"github.com/MrWong99/huddle/internal/policy"
)

// LogLevel is the minimum severity of log records that are emitted.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// PolicyStoreKind selects the persistence backend for per-chat policy.
type PolicyStoreKind string

const (
	PolicyStoreMemory   PolicyStoreKind = "memory"
	PolicyStoreYAML     PolicyStoreKind = "yaml"
	PolicyStorePostgres PolicyStoreKind = "postgres"
)

// IsValid reports whether k is a recognised store kind.
func (k PolicyStoreKind) IsValid() bool {
	switch k {
	case PolicyStoreMemory, PolicyStoreYAML, PolicyStorePostgres:
		return true
	}
	return false
}

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Discord       DiscordConfig       `yaml:"discord"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Calls         CallsConfig         `yaml:"calls"`
	Policy        PolicyConfig        `yaml:"policy"`
	Timeouts      TimeoutsConfig      `yaml:"timeouts"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// ListenAddr is the address of the health and metrics HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel  LogLevel  `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`
}

// DiscordConfig holds the bot credentials. Token is usually supplied via
// HUDDLE_DISCORD_TOKEN rather than the file.
type DiscordConfig struct {
	Token   string `yaml:"token"`
	GuildID string `yaml:"guild_id"`

	// BotName is the name the assistant answers to when spoken in a call.
	// Defaults to the bot account's username.
	BotName string `yaml:"bot_name"`

	// Aliases are other names people use for the assistant.
	Aliases []string `yaml:"aliases"`
}

// ProviderEntry configures a single provider instance.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds provider-specific settings.
	Options map[string]any `yaml:"options"`
}

// ProvidersConfig lists the providers used by the engine. Each kind has a
// primary entry and an ordered list of fallbacks.
type ProvidersConfig struct {
	// LocalSTT is the on-box transcription model, tried before STT.
	LocalSTT ProviderEntry `yaml:"local_stt"`

	STT          ProviderEntry   `yaml:"stt"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	TTS          ProviderEntry   `yaml:"tts"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`

	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// CloudSTT returns the configured cloud STT entries in fallback order.
func (p ProvidersConfig) CloudSTT() []ProviderEntry { return chain(p.STT, p.STTFallbacks) }

// TTSChain returns the configured TTS entries in fallback order.
func (p ProvidersConfig) TTSChain() []ProviderEntry { return chain(p.TTS, p.TTSFallbacks) }

// LLMChain returns the configured LLM entries in fallback order.
func (p ProvidersConfig) LLMChain() []ProviderEntry { return chain(p.LLM, p.LLMFallbacks) }

func chain(primary ProviderEntry, rest []ProviderEntry) []ProviderEntry {
	var out []ProviderEntry
	if primary.Name != "" {
		out = append(out, primary)
	}
	for _, e := range rest {
		if e.Name != "" {
			out = append(out, e)
		}
	}
	return out
}

// CallsConfig tunes call handling.
type CallsConfig struct {
	// AutoLeaveGrace is how long an auto-joined call may stay empty before
	// the assistant leaves.
	AutoLeaveGrace time.Duration `yaml:"auto_leave_grace"`

	// QueueSize bounds the per-chat queue of captured utterances.
	QueueSize int `yaml:"queue_size"`

	// ReplyProbability is the chance of considering a reply after each
	// transcribed utterance, in [0, 1].
	ReplyProbability float64 `yaml:"reply_probability"`

	// Cooldown is the minimum gap between two replies in one chat.
	Cooldown time.Duration `yaml:"cooldown"`

	// MaxReplyRunes caps the text handed to speech synthesis.
	MaxReplyRunes int `yaml:"max_reply_runes"`

	// FailureNoticeThreshold is the number of consecutive transcription
	// failures that triggers a one-time notice.
	FailureNoticeThreshold int `yaml:"failure_notice_threshold"`

	// FFmpegPath is the ffmpeg binary used for compressed audio.
	FFmpegPath string `yaml:"ffmpeg_path"`

	// Timezone is the IANA zone quiet hours are evaluated in.
	Timezone string `yaml:"timezone"`
}

// PolicyConfig selects where per-chat policy lives and its defaults.
type PolicyConfig struct {
	Store PolicyStoreKind `yaml:"store"`

	// Path is the YAML document used by the yaml store.
	Path string `yaml:"path"`

	// PostgresDSN is the connection string used by the postgres store.
	PostgresDSN string `yaml:"postgres_dsn"`

	// ReloadInterval is how often the yaml store checks for edits.
	ReloadInterval time.Duration `yaml:"reload_interval"`

	// Defaults apply to chats without a stored override.
	Defaults policy.Config `yaml:"defaults"`
}

// TimeoutsConfig bounds each kind of external call.
type TimeoutsConfig struct {
	Join       time.Duration `yaml:"join"`
	Leave      time.Duration `yaml:"leave"`
	Convert    time.Duration `yaml:"convert"`
	Transcribe time.Duration `yaml:"transcribe"`

	// LocalTranscribe bounds the local model inside Transcribe. It must be
	// shorter so the cloud fallback still gets a chance. Default: a third of
	// Transcribe.
	LocalTranscribe time.Duration `yaml:"local_transcribe"`

	Generate   time.Duration `yaml:"generate"`
	Synthesize time.Duration `yaml:"synthesize"`
	Stream     time.Duration `yaml:"stream"`
	Deliver    time.Duration `yaml:"deliver"`
}

// ObservabilityConfig toggles the telemetry exporters.
type ObservabilityConfig struct {
	// MetricsEnabled exposes Prometheus metrics on /metrics.
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// ServiceName is the OpenTelemetry service.name resource attribute.
	ServiceName string `yaml:"service_name"`

	// TraceSampleRatio is the share of turn and call traces kept, in
	// [0, 1]. Zero keeps all of them.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Location resolves Calls.Timezone. An empty zone is UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Calls.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Calls.Timezone)
}
