package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func validViper() *viper.Viper {
	v := viper.New()
	v.Set("deepgram.api_key", "dg")
	v.Set("deepl.api_key", "dl")
	v.Set("openai_api_key", "oa")
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(validViper())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.HTTPPort != 8765 {
		t.Errorf("HTTPPort = %d, want 8765", cfg.HTTPPort)
	}
	if cfg.TargetLanguage != "en" {
		t.Errorf("TargetLanguage = %q, want en", cfg.TargetLanguage)
	}
	if cfg.Pipeline.CommitTimeout != 20*time.Second {
		t.Errorf("CommitTimeout = %v, want 20s", cfg.Pipeline.CommitTimeout)
	}
	if cfg.Pipeline.TranslateAttempts != 3 {
		t.Errorf("TranslateAttempts = %d, want 3", cfg.Pipeline.TranslateAttempts)
	}
	if cfg.STT.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", cfg.STT.SampleRate)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	v := validViper()
	v.Set("pipeline.commit_timeout", "5s")
	v.Set("target_language", "ES")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pipeline.CommitTimeout != 5*time.Second {
		t.Errorf("CommitTimeout = %v, want 5s", cfg.Pipeline.CommitTimeout)
	}
	if cfg.TargetLanguage != "es" {
		t.Errorf("TargetLanguage = %q, want es", cfg.TargetLanguage)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		set     map[string]any
		wantErr string
	}{
		{"missing deepgram", map[string]any{"deepgram.api_key": ""}, "DEEPGRAM_API_KEY"},
		{"speechmatics without key", map[string]any{"stt.backend": "speechmatics"}, "SPEECHMATICS_API_KEY"},
		{"unknown stt", map[string]any{"stt.backend": "whisper"}, "stt.backend"},
		{"unknown translator", map[string]any{"translator.backend": "babelfish"}, "translator.backend"},
		{"gemini without key", map[string]any{"translator.backend": "gemini"}, "GEMINI_API_KEY"},
		{"elevenlabs without key", map[string]any{"synth.backend": "elevenlabs"}, "ELEVENLABS_API_KEY"},
		{"zero commit timeout", map[string]any{"pipeline.commit_timeout": "0s"}, "commit_timeout"},
		{"supabase without url", map[string]any{"storage.backend": "supabase"}, "supabase"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := validViper()
			for k, val := range tt.set {
				v.Set(k, val)
			}
			cfg, err := Load(v)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
