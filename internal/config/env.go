package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envSecrets are the values that may come from the environment instead of
// the YAML file. A non-empty variable overrides the file.
type envSecrets struct {
	DiscordToken          string `env:"HUDDLE_DISCORD_TOKEN"`
	DiscordGuildID        string `env:"HUDDLE_DISCORD_GUILD_ID"`
	OpenAIAPIKey          string `env:"HUDDLE_OPENAI_API_KEY"`
	ElevenLabsAPIKey      string `env:"HUDDLE_ELEVENLABS_API_KEY"`
	DeepgramAPIKey        string `env:"HUDDLE_DEEPGRAM_API_KEY"`
	GroqAPIKey            string `env:"HUDDLE_GROQ_API_KEY"`
	AnthropicAPIKey       string `env:"HUDDLE_ANTHROPIC_API_KEY"`
	GoogleCredentialsJSON string `env:"HUDDLE_GOOGLE_CREDENTIALS_JSON"`
	GoogleProjectID       string `env:"HUDDLE_GOOGLE_PROJECT_ID"`
	PostgresDSN           string `env:"HUDDLE_POSTGRES_DSN"`
	LogLevel              string `env:"HUDDLE_LOG_LEVEL"`
}

// ApplyEnv overlays secrets from HUDDLE_* environment variables onto cfg.
// Provider API keys only fill entries that have no key of their own.
func ApplyEnv(cfg *Config) error {
	var s envSecrets
	if err := env.Parse(&s); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	applySecrets(cfg, s)
	return nil
}

func applySecrets(cfg *Config, s envSecrets) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Discord.Token, s.DiscordToken)
	set(&cfg.Discord.GuildID, s.DiscordGuildID)
	set(&cfg.Policy.PostgresDSN, s.PostgresDSN)
	if s.LogLevel != "" {
		cfg.Server.LogLevel = LogLevel(s.LogLevel)
	}

	keys := map[string]string{
		"openai":     s.OpenAIAPIKey,
		"elevenlabs": s.ElevenLabsAPIKey,
		"deepgram":   s.DeepgramAPIKey,
		"groq":       s.GroqAPIKey,
		"anthropic":  s.AnthropicAPIKey,
	}
	fillEntry := func(e *ProviderEntry) {
		if e.APIKey == "" {
			e.APIKey = keys[e.Name]
		}
		if e.Name != "googlespeech" {
			return
		}
		if e.Options == nil {
			e.Options = map[string]any{}
		}
		if s.GoogleCredentialsJSON != "" && OptString(e.Options, "credentials_json") == "" {
			e.Options["credentials_json"] = s.GoogleCredentialsJSON
		}
		if s.GoogleProjectID != "" && OptString(e.Options, "project_id") == "" {
			e.Options["project_id"] = s.GoogleProjectID
		}
	}

	p := &cfg.Providers
	fillEntry(&p.LocalSTT)
	fillEntry(&p.STT)
	fillEntry(&p.TTS)
	fillEntry(&p.LLM)
	for i := range p.STTFallbacks {
		fillEntry(&p.STTFallbacks[i])
	}
	for i := range p.TTSFallbacks {
		fillEntry(&p.TTSFallbacks[i])
	}
	for i := range p.LLMFallbacks {
		fillEntry(&p.LLMFallbacks[i])
	}
}

// OptString returns opts[key] when it is a string, or "".
func OptString(opts map[string]any, key string) string {
	if v, ok := opts[key].(string); ok {
		return v
	}
	return ""
}

// OptInt returns opts[key] when it is a whole number, or 0.
func OptInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// OptBool returns opts[key] when it is a bool, or false.
func OptBool(opts map[string]any, key string) bool {
	v, _ := opts[key].(bool)
	return v
}
