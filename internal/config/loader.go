package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/huddle/internal/policy"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr             = ":8080"
	DefaultAutoLeaveGrace         = 30 * time.Second
	DefaultQueueSize              = 16
	DefaultReplyProbability       = 0.3
	DefaultMaxReplyRunes          = 1000
	DefaultFailureNoticeThreshold = 5
	DefaultFFmpegPath             = "ffmpeg"
	DefaultReloadInterval         = 5 * time.Second
	DefaultServiceName            = "huddle"
)

// DefaultTimeouts are the per-kind bounds for external calls.
var DefaultTimeouts = TimeoutsConfig{
	Join:       15 * time.Second,
	Leave:      5 * time.Second,
	Convert:    20 * time.Second,
	Transcribe: 30 * time.Second,
	Generate:   20 * time.Second,
	Synthesize: 20 * time.Second,
	Stream:     60 * time.Second,
	Deliver:    15 * time.Second,
}

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"local_stt": {"whisper-native", "whisper"},
	"stt":       {"openai", "googlespeech", "deepgram", "whisper"},
	"tts":       {"elevenlabs", "openai", "coqui"},
	"llm":       {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path, overlays secrets from the
// environment, fills defaults and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := loadWithEnv(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

func loadWithEnv(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills every zero-valued field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}

	c := &cfg.Calls
	if c.AutoLeaveGrace == 0 {
		c.AutoLeaveGrace = DefaultAutoLeaveGrace
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.ReplyProbability == 0 {
		c.ReplyProbability = DefaultReplyProbability
	}
	if c.Cooldown == 0 {
		c.Cooldown = policy.DefaultCooldown
	}
	if c.MaxReplyRunes == 0 {
		c.MaxReplyRunes = DefaultMaxReplyRunes
	}
	if c.FailureNoticeThreshold == 0 {
		c.FailureNoticeThreshold = DefaultFailureNoticeThreshold
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = DefaultFFmpegPath
	}

	p := &cfg.Policy
	if p.Store == "" {
		switch {
		case p.PostgresDSN != "":
			p.Store = PolicyStorePostgres
		case p.Path != "":
			p.Store = PolicyStoreYAML
		default:
			p.Store = PolicyStoreMemory
		}
	}
	if p.ReloadInterval == 0 {
		p.ReloadInterval = DefaultReloadInterval
	}
	if p.Defaults == (policy.Config{}) {
		p.Defaults = policy.Defaults()
	}
	p.Defaults = p.Defaults.Normalize()

	t := &cfg.Timeouts
	fill := func(d *time.Duration, def time.Duration) {
		if *d == 0 {
			*d = def
		}
	}
	fill(&t.Join, DefaultTimeouts.Join)
	fill(&t.Leave, DefaultTimeouts.Leave)
	fill(&t.Convert, DefaultTimeouts.Convert)
	fill(&t.Transcribe, DefaultTimeouts.Transcribe)
	fill(&t.LocalTranscribe, t.Transcribe/3)
	fill(&t.Generate, DefaultTimeouts.Generate)
	fill(&t.Synthesize, DefaultTimeouts.Synthesize)
	fill(&t.Stream, DefaultTimeouts.Stream)
	fill(&t.Deliver, DefaultTimeouts.Deliver)

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Providers
	if local := cfg.Providers.LocalSTT; local.Name != "" {
		validateProviderName("local_stt", local.Name)
		errs = append(errs, validateEntry("providers.local_stt", local)...)
	}
	for i, e := range cfg.Providers.CloudSTT() {
		validateProviderName("stt", e.Name)
		errs = append(errs, validateEntry(fmt.Sprintf("providers.stt[%d]", i), e)...)
	}
	for i, e := range cfg.Providers.TTSChain() {
		validateProviderName("tts", e.Name)
		errs = append(errs, validateEntry(fmt.Sprintf("providers.tts[%d]", i), e)...)
	}
	for i, e := range cfg.Providers.LLMChain() {
		validateProviderName("llm", e.Name)
		errs = append(errs, validateEntry(fmt.Sprintf("providers.llm[%d]", i), e)...)
	}
	if len(cfg.Providers.LLMChain()) == 0 {
		slog.Warn("no LLM provider configured; the assistant will listen but never reply")
	}
	if cfg.Providers.LocalSTT.Name == "" && len(cfg.Providers.CloudSTT()) == 0 {
		slog.Warn("no STT provider configured; captured speech cannot be transcribed")
	}

	// Calls
	c := cfg.Calls
	if c.ReplyProbability < 0 || c.ReplyProbability > 1 {
		errs = append(errs, fmt.Errorf("calls.reply_probability %.2f is out of range [0, 1]", c.ReplyProbability))
	}
	if c.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("calls.queue_size %d must not be negative", c.QueueSize))
	}
	if c.MaxReplyRunes < 0 {
		errs = append(errs, fmt.Errorf("calls.max_reply_runes %d must not be negative", c.MaxReplyRunes))
	}
	if c.Cooldown < 0 || c.AutoLeaveGrace < 0 {
		errs = append(errs, errors.New("calls: durations must not be negative"))
	}
	if _, err := cfg.Location(); err != nil {
		errs = append(errs, fmt.Errorf("calls.timezone %q: %w", c.Timezone, err))
	}

	// Observability
	if r := cfg.Observability.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("observability.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	// Policy
	p := cfg.Policy
	if p.Store != "" && !p.Store.IsValid() {
		errs = append(errs, fmt.Errorf("policy.store %q is invalid; valid values: memory, yaml, postgres", p.Store))
	}
	if p.Store == PolicyStoreYAML && p.Path == "" {
		errs = append(errs, errors.New("policy.path is required when store is yaml"))
	}
	if p.Store == PolicyStorePostgres && p.PostgresDSN == "" {
		errs = append(errs, errors.New("policy.postgres_dsn is required when store is postgres"))
	}
	if p.Defaults != (policy.Config{}) {
		if err := p.Defaults.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("policy.defaults: %w", err))
		}
	}

	// Timeouts
	for name, d := range map[string]time.Duration{
		"join":             cfg.Timeouts.Join,
		"leave":            cfg.Timeouts.Leave,
		"convert":          cfg.Timeouts.Convert,
		"transcribe":       cfg.Timeouts.Transcribe,
		"local_transcribe": cfg.Timeouts.LocalTranscribe,
		"generate":         cfg.Timeouts.Generate,
		"synthesize":       cfg.Timeouts.Synthesize,
		"stream":           cfg.Timeouts.Stream,
		"deliver":          cfg.Timeouts.Deliver,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("timeouts.%s %s must not be negative", name, d))
		}
	}
	if t := cfg.Timeouts; t.Transcribe > 0 && t.LocalTranscribe >= t.Transcribe {
		errs = append(errs, fmt.Errorf("timeouts.local_transcribe %s must be shorter than timeouts.transcribe %s", t.LocalTranscribe, t.Transcribe))
	}

	return errors.Join(errs...)
}

func validateEntry(prefix string, e ProviderEntry) []error {
	var errs []error
	if e.Name == "whisper" && e.BaseURL == "" {
		errs = append(errs, fmt.Errorf("%s: whisper requires base_url", prefix))
	}
	if e.Name == "whisper-native" && e.Model == "" && OptString(e.Options, "model_path") == "" {
		errs = append(errs, fmt.Errorf("%s: whisper-native requires model or options.model_path", prefix))
	}
	if e.Name == "coqui" && e.BaseURL == "" {
		errs = append(errs, fmt.Errorf("%s: coqui requires base_url", prefix))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
