package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTPPort       int    `mapstructure:"http_port"`
	PublicWSURL    string `mapstructure:"public_ws_url"`
	SourceLanguage string `mapstructure:"source_language"`
	TargetLanguage string `mapstructure:"target_language"`
	DatabaseURL    string `mapstructure:"database_url"`
	OpenAIAPIKey   string `mapstructure:"openai_api_key"`
	GeminiAPIKey   string `mapstructure:"gemini_api_key"`
	ElevenLabsKey  string `mapstructure:"elevenlabs_api_key"`

	STT          STT          `mapstructure:"stt"`
	Deepgram     Deepgram     `mapstructure:"deepgram"`
	Speechmatics Speechmatics `mapstructure:"speechmatics"`
	Translator   Translator   `mapstructure:"translator"`
	DeepL        DeepL        `mapstructure:"deepl"`
	Synth        Synth        `mapstructure:"synth"`
	Pipeline     Pipeline     `mapstructure:"pipeline"`
	Fanout       Fanout       `mapstructure:"fanout"`
	Storage      Storage      `mapstructure:"storage"`
	Supabase     Supabase     `mapstructure:"supabase"`
	Recall       Recall       `mapstructure:"recall"`
}

type STT struct {
	Backend    string `mapstructure:"backend"`
	SampleRate int    `mapstructure:"sample_rate"`
}

type Deepgram struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type Speechmatics struct {
	APIKey string `mapstructure:"api_key"`
	URL    string `mapstructure:"url"`
}

type Translator struct {
	Backend string `mapstructure:"backend"`
}

type DeepL struct {
	APIKey string `mapstructure:"api_key"`
	URL    string `mapstructure:"url"`
}

type Synth struct {
	Backend string `mapstructure:"backend"`
}

type Pipeline struct {
	CommitTimeout     time.Duration `mapstructure:"commit_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	TranslateAttempts int           `mapstructure:"translate_attempts"`
	SynthAttempts     int           `mapstructure:"synth_attempts"`
	Backoff           time.Duration `mapstructure:"backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	MaxInflight       int64         `mapstructure:"max_inflight"`
}

type Fanout struct {
	Queue int `mapstructure:"queue"`
}

type Storage struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
}

type Supabase struct {
	URL        string `mapstructure:"url"`
	ServiceKey string `mapstructure:"service_key"`
}

type Recall struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Speak   bool   `mapstructure:"speak"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 8765)
	v.SetDefault("source_language", "en")
	v.SetDefault("target_language", "en")
	v.SetDefault("stt.backend", "deepgram")
	v.SetDefault("stt.sample_rate", 16000)
	v.SetDefault("deepgram.model", "nova-2")
	v.SetDefault("speechmatics.url", "wss://eu2.rt.speechmatics.com/v2")
	v.SetDefault("translator.backend", "deepl")
	v.SetDefault("deepl.url", "https://api-free.deepl.com/v2/translate")
	v.SetDefault("synth.backend", "openai")
	v.SetDefault("pipeline.commit_timeout", 20*time.Second)
	v.SetDefault("pipeline.idle_timeout", 60*time.Second)
	v.SetDefault("pipeline.translate_attempts", 3)
	v.SetDefault("pipeline.synth_attempts", 3)
	v.SetDefault("pipeline.backoff", 250*time.Millisecond)
	v.SetDefault("pipeline.max_backoff", 4*time.Second)
	v.SetDefault("pipeline.max_inflight", 16)
	v.SetDefault("fanout.queue", 32)
	v.SetDefault("storage.backend", "dir")
	v.SetDefault("storage.dir", "recordings")
	v.SetDefault("storage.bucket", "recordings")
	v.SetDefault("recall.base_url", "https://eu-central-1.recall.ai/api/v1")
}

// BindEnv makes nested keys reachable as env vars, so pipeline.commit_timeout
// reads PIPELINE_COMMIT_TIMEOUT.
func BindEnv(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range v.AllKeys() {
		v.BindEnv(key)
	}
}

func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.SourceLanguage = strings.ToLower(cfg.SourceLanguage)
	cfg.TargetLanguage = strings.ToLower(cfg.TargetLanguage)

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	if c.Pipeline.CommitTimeout <= 0 {
		return fmt.Errorf("pipeline.commit_timeout must be positive")
	}
	if c.Pipeline.IdleTimeout <= 0 {
		return fmt.Errorf("pipeline.idle_timeout must be positive")
	}
	if c.Pipeline.TranslateAttempts < 1 || c.Pipeline.SynthAttempts < 1 {
		return fmt.Errorf("pipeline attempts must be at least 1")
	}
	if c.Pipeline.MaxInflight < 1 {
		return fmt.Errorf("pipeline.max_inflight must be at least 1")
	}
	if c.Fanout.Queue < 1 {
		return fmt.Errorf("fanout.queue must be at least 1")
	}

	switch c.Translator.Backend {
	case "deepl":
		if c.DeepL.APIKey == "" {
			return fmt.Errorf("missing DEEPL_API_KEY or --deepl-api-key=")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("missing OPENAI_API_KEY or --openai-api-key=")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("missing GEMINI_API_KEY or --gemini-api-key=")
		}
	default:
		return fmt.Errorf("unknown translator.backend %q", c.Translator.Backend)
	}

	switch c.Synth.Backend {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("missing OPENAI_API_KEY or --openai-api-key=")
		}
	case "elevenlabs":
		if c.ElevenLabsKey == "" {
			return fmt.Errorf("missing ELEVENLABS_API_KEY or --elevenlabs-api-key=")
		}
	default:
		return fmt.Errorf("unknown synth.backend %q", c.Synth.Backend)
	}

	switch c.Storage.Backend {
	case "dir":
	case "supabase":
		if c.Supabase.URL == "" || c.Supabase.ServiceKey == "" {
			return fmt.Errorf("supabase storage needs supabase.url and supabase.service_key")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	switch c.STT.Backend {
	case "deepgram":
		if c.Deepgram.APIKey == "" {
			return fmt.Errorf("missing DEEPGRAM_API_KEY or --deepgram-api-key=")
		}
	case "speechmatics":
		if c.Speechmatics.APIKey == "" {
			return fmt.Errorf("missing SPEECHMATICS_API_KEY or --speechmatics-api-key=")
		}
	default:
		return fmt.Errorf("unknown stt.backend %q", c.STT.Backend)
	}

	return nil
}
