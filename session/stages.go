package session

import (
	"context"
	"fmt"
	"time"

	"node.town/babel/etc"
	"node.town/babel/model"
	"node.town/babel/translate"
)

// translate never fails the slot: after the retries run out the
// original text goes forward flagged untranslated.
func (s *Session) translate(ctx context.Context, ev model.UtteranceEvent) model.TranslatedUtterance {
	out := model.TranslatedUtterance{UtteranceEvent: ev}
	if translate.BaseLanguage(s.SourceLang) == translate.BaseLanguage(s.TargetLang) {
		out.Translated = ev.Text
		return out
	}

	start := time.Now()
	var result translate.Translation
	err := etc.Retry(ctx, s.opts.Translate, func(ctx context.Context) error {
		var err error
		result, err = s.deps.Translator.Translate(ctx, ev.Text, s.TargetLang)
		return err
	}, func(attempt int, err error) {
		s.deps.Metrics.RecordRetry("translate")
		s.logger.Debug("translate retry", "attempt", attempt, "error", err)
	})
	s.deps.Metrics.RecordStage("translate", time.Since(start), err != nil)

	if err != nil {
		s.logger.Warn("untranslated", "error", fmt.Errorf("%w: %w", model.ErrTranslation, err))
		out.Translated = ev.Text
		out.Untranslated = true
		return out
	}
	out.Translated = result.Text
	return out
}

func (s *Session) synthesize(ctx context.Context, text string) ([]byte, time.Duration, error) {
	measure := s.deps.ClipDuration

	start := time.Now()
	var (
		audio    []byte
		duration time.Duration
	)
	err := etc.Retry(ctx, s.opts.Synth, func(ctx context.Context) error {
		data, err := s.deps.Speech.TextToSpeech(ctx, text, s.TargetLang)
		if err != nil {
			return err
		}
		d, err := measure(data)
		if err != nil {
			return fmt.Errorf("measure clip: %w", err)
		}
		audio, duration = data, d
		return nil
	}, func(attempt int, err error) {
		s.deps.Metrics.RecordRetry("synthesize")
		s.logger.Debug("synthesize retry", "attempt", attempt, "error", err)
	})
	s.deps.Metrics.RecordStage("synthesize", time.Since(start), err != nil)

	if err != nil {
		err = fmt.Errorf("%w: %w", model.ErrSynthesis, err)
		s.logger.Warn("text only", "error", err)
		return nil, 0, err
	}
	return audio, duration, nil
}
