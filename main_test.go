package main

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"node.town/babel/config"
	"node.town/babel/llm"
	"node.town/babel/model"
)

func TestTranscriptMarkdown(t *testing.T) {
	lines := []model.TranscriptRecord{
		{Seq: 1, ParticipantID: "ana", Original: "hello", Translated: "hola", Offset: 0},
		{Seq: 2, ParticipantID: "bo", Original: "sí", Translated: "sí", Offset: 3725.4, Untranslated: true},
		{Seq: 3, ParticipantID: "ana", Original: "bye", Translated: "adiós", Offset: 3727, SynthesisFailed: true},
	}

	expected := "# Session s1\n\n" +
		"**1. ana** `00:00:00`\n\nhola\n\n> hello\n\n" +
		"**2. bo** `01:02:05` _(untranslated)_\n\nsí\n\n" +
		"**3. ana** `01:02:07` _(text only)_\n\nadiós\n\n> bye\n\n"
	if result := transcriptMarkdown("s1", lines); result != expected {
		t.Errorf("transcriptMarkdown() returned incorrect result.\nExpected:\n%s\nGot:\n%s", expected, result)
	}
}

func TestBackendSelection(t *testing.T) {
	cfg := &config.Config{
		Translator: config.Translator{Backend: "deepl"},
		Synth:      config.Synth{Backend: "openai"},
		Storage:    config.Storage{Backend: "dir", Dir: t.TempDir()},
	}

	if _, err := newTranslator(context.Background(), cfg); err != nil {
		t.Errorf("newTranslator(deepl) error = %v", err)
	}
	if _, err := newSpeechGenerator(cfg); err != nil {
		t.Errorf("newSpeechGenerator(openai) error = %v", err)
	}
	if _, err := newBucket(cfg); err != nil {
		t.Errorf("newBucket(dir) error = %v", err)
	}

	cfg.Translator.Backend = "babelfish"
	if _, err := newTranslator(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "babelfish") {
		t.Errorf("newTranslator(babelfish) error = %v", err)
	}
	cfg.Synth.Backend = "espeak"
	if _, err := newSpeechGenerator(cfg); err == nil {
		t.Error("newSpeechGenerator(espeak) error = nil")
	}
	cfg.Storage.Backend = "tape"
	if _, err := newBucket(cfg); err == nil {
		t.Error("newBucket(tape) error = nil")
	}
}

func TestRecognitionSelection(t *testing.T) {
	logger := log.New(io.Discard)
	tests := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{"deepgram", config.Config{STT: config.STT{Backend: "deepgram", SampleRate: 16000}, Deepgram: config.Deepgram{APIKey: "dg"}}, false},
		{"speechmatics", config.Config{STT: config.STT{Backend: "speechmatics", SampleRate: 16000}, Speechmatics: config.Speechmatics{APIKey: "sm"}}, false},
		{"deepgram without key", config.Config{STT: config.STT{Backend: "deepgram"}}, true},
		{"unknown", config.Config{STT: config.STT{Backend: "whisper"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newRecognition(&tt.cfg, logger)
			if (err != nil) != tt.wantErr {
				t.Errorf("newRecognition() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSessionOptions(t *testing.T) {
	cfg := &config.Config{Pipeline: config.Pipeline{
		CommitTimeout:     20 * time.Second,
		IdleTimeout:       time.Minute,
		TranslateAttempts: 3,
		SynthAttempts:     2,
		Backoff:           250 * time.Millisecond,
		MaxBackoff:        4 * time.Second,
		MaxInflight:       16,
	}}

	opts := sessionOptions(cfg)
	if opts.CommitTimeout != 20*time.Second || opts.IdleTimeout != time.Minute || opts.MaxInflight != 16 {
		t.Errorf("sessionOptions() = %+v", opts)
	}
	if opts.Translate.Attempts != 3 || opts.Synth.Attempts != 2 || opts.Synth.Max != 4*time.Second {
		t.Errorf("sessionOptions() backoff = %+v / %+v", opts.Translate, opts.Synth)
	}
}

func TestSetupEnv(t *testing.T) {
	existing := map[string]string{
		"DEEPGRAM_API_KEY": "old",
		"DATABASE_URL":     "postgres://localhost/babel",
		"UNRELATED":        "kept",
	}
	env := setupEnv(existing, setupAnswers{
		STTBackend:       "speechmatics",
		SpeechmaticsKey:  "sm",
		TranslateBackend: "deepl",
		DeepLKey:         "dl",
	})

	expected := map[string]string{
		"DEEPGRAM_API_KEY":     "old",
		"DATABASE_URL":         "postgres://localhost/babel",
		"UNRELATED":            "kept",
		"STT_BACKEND":          "speechmatics",
		"SPEECHMATICS_API_KEY": "sm",
		"TRANSLATOR_BACKEND":   "deepl",
		"DEEPL_API_KEY":        "dl",
	}
	if len(env) != len(expected) {
		t.Errorf("setupEnv() = %v, want %v", env, expected)
	}
	for k, v := range expected {
		if env[k] != v {
			t.Errorf("setupEnv()[%s] = %q, want %q", k, env[k], v)
		}
	}
	if existing["STT_BACKEND"] != "" {
		t.Error("setupEnv() modified the existing map")
	}
}

func TestEnvFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")

	env, err := readEnv(path)
	if err != nil || len(env) != 0 {
		t.Fatalf("readEnv(missing) = %v, %v", env, err)
	}

	if err := writeEnv(path, map[string]string{"DEEPL_API_KEY": "dl:fx", "PUBLIC_WS_URL": "wss://x.example/bot"}); err != nil {
		t.Fatalf("writeEnv() error = %v", err)
	}
	env, err = readEnv(path)
	if err != nil {
		t.Fatalf("readEnv() error = %v", err)
	}
	if env["DEEPL_API_KEY"] != "dl:fx" || env["PUBLIC_WS_URL"] != "wss://x.example/bot" {
		t.Errorf("readEnv() = %v", env)
	}
}

type MockLanguageModel struct {
	Reply string
	Last  *llm.ChatCompletionRequest
}

func (m *MockLanguageModel) ChatCompletion(
	ctx context.Context,
	req *llm.ChatCompletionRequest,
) (chan *llm.ChatCompletionResponse, error) {
	m.Last = req
	ch := make(chan *llm.ChatCompletionResponse, 1)
	ch <- &llm.ChatCompletionResponse{Content: m.Reply}
	close(ch)
	return ch, nil
}

func TestSummarizeTranscript(t *testing.T) {
	m := &MockLanguageModel{Reply: "  - Budget approved\n"}
	lines := []model.TranscriptRecord{
		{Seq: 1, ParticipantID: "ana", Original: "aprobamos el presupuesto", Translated: "we approved the budget", Offset: 61},
		{Seq: 2, ParticipantID: "bo", Original: "ok", Translated: "ok", Offset: 65},
	}

	summary, err := summarizeTranscript(context.Background(), m, lines)
	if err != nil {
		t.Fatalf("summarizeTranscript() error = %v", err)
	}
	if summary != "- Budget approved" {
		t.Errorf("summarizeTranscript() = %q", summary)
	}

	expected := "00:01:01 ana: aprobamos el presupuesto => we approved the budget\n" +
		"00:01:05 bo: ok\n"
	if len(m.Last.UserMessages) != 1 || m.Last.UserMessages[0] != expected {
		t.Errorf("UserMessages = %q, want %q", m.Last.UserMessages, expected)
	}
}
