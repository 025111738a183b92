package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"node.town/babel/fanout"
	"node.town/babel/model"
	"node.town/babel/sink"
)

const (
	OutcomeFull         = "full"
	OutcomeUntranslated = "untranslated"
	OutcomeTextOnly     = "text_only"
	OutcomeTimeout      = "timeout"
)

// Admit assigns the next sequence number to a final utterance and starts
// its slot. Slots translate and synthesize concurrently but commit in
// sequence order: slot N waits for slot N-1 to commit first.
func (s *Session) Admit(ev model.UtteranceEvent) (uint64, bool) {
	s.mu.Lock()
	if s.status != model.StatusActive {
		s.mu.Unlock()
		return 0, false
	}
	seq := s.nextSeq
	s.nextSeq++
	prev := s.gate[seq-1]
	done := make(chan struct{})
	s.gate[seq] = done
	s.mu.Unlock()

	s.deps.Metrics.UtterancesAdmitted.Inc()
	s.logger.Debug("admitted", "seq", seq, "participant", ev.ParticipantID, "text", ev.Text)

	s.wg.Add(1)
	go s.runSlot(seq, ev, prev, done, s.deps.Clock.Now())
	return seq, true
}

// partial keeps whatever the stages finished, so a slot that runs out
// of time can still commit the translation if it got that far.
type partial struct {
	mu         sync.Mutex
	translated *model.TranslatedUtterance
}

func (p *partial) set(t model.TranslatedUtterance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.translated = &t
}

func (p *partial) get() (model.TranslatedUtterance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.translated == nil {
		return model.TranslatedUtterance{}, false
	}
	return *p.translated, true
}

func (s *Session) runSlot(seq uint64, ev model.UtteranceEvent, prev, done chan struct{}, admitted time.Time) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.CommitTimeout)
	defer cancel()

	var progress partial
	result := make(chan *model.SynthesizedClip, 1)
	go func() {
		result <- s.process(ctx, ev, &progress)
	}()

	clip := awaitClip(ctx, result)
	if s.ctx.Err() != nil {
		return
	}
	if clip == nil {
		clip = s.timedOut(ev, &progress)
		s.logger.Warn("slot degraded", "seq", seq, "error",
			fmt.Errorf("%w: seq %d after %s", model.ErrCommitTimeout, seq, s.opts.CommitTimeout))
	}

	if prev != nil {
		select {
		case <-prev:
		case <-s.ctx.Done():
			return
		}
	}

	s.commit(seq, clip, done, admitted)
}

// awaitClip returns the slot's result, or nil once ctx ends. A result
// already waiting at the deadline still wins.
func awaitClip(ctx context.Context, result <-chan *model.SynthesizedClip) *model.SynthesizedClip {
	select {
	case clip := <-result:
		return clip
	case <-ctx.Done():
	}
	select {
	case clip := <-result:
		return clip
	default:
		return nil
	}
}

func (s *Session) timedOut(ev model.UtteranceEvent, progress *partial) *model.SynthesizedClip {
	tr, ok := progress.get()
	if !ok {
		tr = model.TranslatedUtterance{
			UtteranceEvent: ev,
			Translated:     ev.Text,
			Untranslated:   true,
		}
	}
	return &model.SynthesizedClip{
		TranslatedUtterance: tr,
		SynthesisFailed:     true,
		TimedOut:            true,
	}
}

// process runs both stages. It returns nil only when ctx ends first.
func (s *Session) process(ctx context.Context, ev model.UtteranceEvent, progress *partial) *model.SynthesizedClip {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil
	}
	defer s.sem.Release(1)

	tr := s.translate(ctx, ev)
	if ctx.Err() != nil {
		return nil
	}
	progress.set(tr)

	clip := &model.SynthesizedClip{TranslatedUtterance: tr}
	audio, duration, err := s.synthesize(ctx, tr.Translated)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		clip.SynthesisFailed = true
		return clip
	}
	clip.Audio = audio
	clip.Duration = duration.Seconds()
	return clip
}

func (s *Session) commit(seq uint64, clip *model.SynthesizedClip, done chan struct{}, admitted time.Time) {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	clip.SessionID = s.ID
	clip.Language = s.TargetLang
	clip.Seq = seq
	clip.Offset = s.offset
	clip.CommittedAt = s.deps.Clock.Now()
	if clip.HasAudio() {
		s.offset += clip.Duration
		s.clipCount++
	} else {
		clip.Duration = 0
	}
	s.lines = append(s.lines, clip.Record())
	s.cues = append(s.cues, clip.Cue())
	s.committed = seq
	s.commits.Add(1)
	s.mu.Unlock()
	defer s.commits.Done()

	// Both are queue hand-offs; the next slot may not commit until
	// they have been made.
	s.deps.Broadcaster.Broadcast(s.ID, s.TargetLang, fanout.ClipMessage(clip))
	s.deps.Persister.Persist(sink.RecordFor(clip))

	s.mu.Lock()
	delete(s.gate, seq)
	close(done)
	s.mu.Unlock()

	outcome := OutcomeFull
	switch {
	case clip.TimedOut:
		outcome = OutcomeTimeout
	case !clip.HasAudio():
		outcome = OutcomeTextOnly
	case clip.Untranslated:
		outcome = OutcomeUntranslated
	}
	s.deps.Metrics.RecordCommit(outcome, clip.CommittedAt.Sub(admitted))
	s.logger.Info("commit", "seq", seq, "outcome", outcome, "offset", clip.Offset, "duration", clip.Duration)
}
