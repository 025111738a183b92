package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"node.town/babel/config"
	"node.town/babel/db"
	"node.town/babel/etc"
	"node.town/babel/fanout"
	"node.town/babel/llm"
	"node.town/babel/metrics"
	"node.town/babel/recall"
	"node.town/babel/session"
	"node.town/babel/sink"
	"node.town/babel/storage"
	"node.town/babel/stt"
	"node.town/babel/translate"
	"node.town/babel/tts"
	"node.town/babel/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the interpreter service",
	Long: `Serve accepts Recall.ai bot audio, runs the recognition, translation and
speech pipeline per session, and serves listeners, management and metrics.`,
	Run: runServe,
}

func newRecognition(cfg *config.Config, logger *log.Logger) (stt.SpeechRecognition, error) {
	switch cfg.STT.Backend {
	case "deepgram":
		return stt.NewDeepgramClient(cfg.Deepgram.APIKey, cfg.Deepgram.Model, cfg.STT.SampleRate, logger)
	case "speechmatics":
		return stt.NewSpeechmaticsClient(cfg.Speechmatics.APIKey, cfg.Speechmatics.URL, cfg.STT.SampleRate, logger)
	}
	return nil, fmt.Errorf("unknown stt.backend %q", cfg.STT.Backend)
}

func newTranslator(ctx context.Context, cfg *config.Config) (translate.Translator, error) {
	switch cfg.Translator.Backend {
	case "deepl":
		return translate.NewDeepLTranslator(cfg.DeepL.APIKey, cfg.DeepL.URL), nil
	case "openai":
		return translate.NewLLMTranslator(llm.NewOpenAILanguageModel(cfg.OpenAIAPIKey)), nil
	case "gemini":
		return translate.NewGeminiTranslator(ctx, cfg.GeminiAPIKey)
	}
	return nil, fmt.Errorf("unknown translator.backend %q", cfg.Translator.Backend)
}

func newSpeechGenerator(cfg *config.Config) (tts.SpeechGenerator, error) {
	switch cfg.Synth.Backend {
	case "openai":
		return tts.NewOpenAISpeechGenerator(cfg.OpenAIAPIKey), nil
	case "elevenlabs":
		return tts.NewElevenLabsSpeechGenerator(cfg.ElevenLabsKey), nil
	}
	return nil, fmt.Errorf("unknown synth.backend %q", cfg.Synth.Backend)
}

func newBucket(cfg *config.Config) (storage.Bucket, error) {
	switch cfg.Storage.Backend {
	case "dir":
		return storage.NewDirBucket(cfg.Storage.Dir)
	case "supabase":
		return storage.NewSupabaseBucket(cfg.Supabase.URL, cfg.Supabase.ServiceKey, cfg.Storage.Bucket), nil
	}
	return nil, fmt.Errorf("unknown storage.backend %q", cfg.Storage.Backend)
}

func sessionOptions(cfg *config.Config) session.Options {
	p := cfg.Pipeline
	return session.Options{
		CommitTimeout: p.CommitTimeout,
		IdleTimeout:   p.IdleTimeout,
		Translate:     etc.Backoff{Attempts: p.TranslateAttempts, Base: p.Backoff, Max: p.MaxBackoff},
		Synth:         etc.Backoff{Attempts: p.SynthAttempts, Base: p.Backoff, Max: p.MaxBackoff},
		MaxInflight:   p.MaxInflight,
	}
}

func runServe(cmd *cobra.Command, args []string) {
	l := createLoggers()
	cfg := loadConfig(l)
	if err := cfg.Validate(); err != nil {
		l.main.Fatal("invalid config", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	recognition, err := newRecognition(cfg, l.hear)
	if err != nil {
		l.main.Fatal("create recognizer", "error", err.Error())
	}

	translator, err := newTranslator(ctx, cfg)
	if err != nil {
		l.main.Fatal("create translator", "error", err.Error())
	}
	speech, err := newSpeechGenerator(cfg)
	if err != nil {
		l.main.Fatal("create speech generator", "error", err.Error())
	}

	var store sink.Store = sink.NopStore{}
	if cfg.DatabaseURL != "" {
		pool, queries, err := db.OpenDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			l.main.Fatal("open database", "error", err.Error())
		}
		defer pool.Close()
		store = queries
	} else {
		l.data.Warn("no database_url, transcript rows are not stored")
	}

	bucket, err := newBucket(cfg)
	if err != nil {
		l.main.Fatal("open storage", "error", err.Error())
	}

	persist := sink.New(store, bucket, l.data, m)
	defer persist.Close()

	hub := fanout.NewHub(cfg.Fanout.Queue, l.talk, m)
	defer hub.Close()

	manager := session.NewManager(session.Deps{
		Recognition: recognition,
		Translator:  translator,
		Speech:      speech,
		Broadcaster: hub,
		Persister:   persist,
		Metrics:     m,
		Logger:      l.pipe,
		Clock:       etc.SystemTime{},
	}, sessionOptions(cfg))
	defer manager.StopAll()

	opts := web.Options{
		Manager:       manager,
		Hub:           hub,
		Metrics:       m,
		Logger:        l.http,
		PublicWSURL:   cfg.PublicWSURL,
		DefaultSource: cfg.SourceLanguage,
		DefaultTarget: cfg.TargetLanguage,
	}
	if cfg.Recall.APIKey != "" {
		client := recall.NewClient(cfg.Recall.APIKey, cfg.Recall.BaseURL, l.talk)
		opts.Bots = client
		if cfg.Recall.Speak {
			opts.Speaker = func(botID string) fanout.Listener {
				return recall.NewMeetingSpeaker(client, botID)
			}
		}
	} else {
		l.main.Warn("no recall.api_key, bots cannot be started from /mgmt")
	}

	l.main.Info(
		"serving",
		"stt", cfg.STT.Backend,
		"translator", cfg.Translator.Backend,
		"synth", cfg.Synth.Backend,
		"storage", cfg.Storage.Backend,
		"source", cfg.SourceLanguage,
		"target", cfg.TargetLanguage,
	)

	err = web.New(opts).Serve(ctx, cfg.HTTPPort)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.main.Error("http server", "error", err.Error())
	}
	l.main.Info("shutting down")
}
