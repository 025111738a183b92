package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"node.town/babel/etc"
	"node.town/babel/fanout"
	"node.town/babel/metrics"
	"node.town/babel/model"
	"node.town/babel/sink"
	"node.town/babel/stt"
	"node.town/babel/translate"
	"node.town/babel/tts"
)

type Broadcaster interface {
	Broadcast(sessionID, lang string, msg *fanout.Message) int
}

type Persister interface {
	Open(info sink.SessionInfo)
	UpdateStatus(sessionID string, status model.Status)
	Persist(r sink.Record)
	Flush(sum sink.Summary)
}

type Deps struct {
	Recognition stt.SpeechRecognition
	Translator  translate.Translator
	Speech      tts.SpeechGenerator
	Broadcaster Broadcaster
	Persister   Persister
	Metrics     *metrics.Metrics
	Logger      *log.Logger
	Clock       etc.TimeProvider
	// ClipDuration measures synthesized audio; tts.ClipDuration when nil.
	ClipDuration func([]byte) (time.Duration, error)
}

type Options struct {
	CommitTimeout time.Duration
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	Translate     etc.Backoff
	Synth         etc.Backoff
	MaxInflight   int64
}

type Info struct {
	ID         string
	MeetingURL string
	SourceLang string
	TargetLang string
}

type Snapshot struct {
	ID         string       `json:"bot_id"`
	MeetingURL string       `json:"meeting_url"`
	SourceLang string       `json:"source_lang"`
	TargetLang string       `json:"target_lang"`
	Status     model.Status `json:"status"`
	Streams    int          `json:"streams"`
	Committed  uint64       `json:"committed"`
	Pending    int          `json:"pending"`
	Offset     float64      `json:"offset"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Session owns one meeting capture. mu is the per-session exclusive
// section: it guards status, the stream registry, the sequence counter,
// the commit gate and the committed buffers, and is never held across
// a network call.
type Session struct {
	Info
	CreatedAt time.Time

	deps   Deps
	opts   Options
	logger *log.Logger
	notify func(*Session)

	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	wg     sync.WaitGroup

	// commits counts commits past the point of no return; stop lets
	// them finish their hand-offs before flushing.
	commits sync.WaitGroup

	mu        sync.Mutex
	status    model.Status
	streams   map[string]*ParticipantStream
	nextSeq   uint64
	committed uint64
	gate      map[uint64]chan struct{}
	offset    float64
	clipCount int64
	lines     []model.TranscriptRecord
	cues      []model.SubtitleCue
}

func newSession(info Info, deps Deps, opts Options, notify func(*Session)) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		Info:      info,
		CreatedAt: deps.Clock.Now(),
		deps:      deps,
		opts:      opts,
		logger:    deps.Logger.With("session", info.ID),
		notify:    notify,
		ctx:       ctx,
		cancel:    cancel,
		sem:       semaphore.NewWeighted(opts.MaxInflight),
		status:    model.StatusConnecting,
		streams:   make(map[string]*ParticipantStream),
		nextSeq:   1,
		gate:      make(map[uint64]chan struct{}),
	}
}

func (s *Session) Status() model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:         s.ID,
		MeetingURL: s.MeetingURL,
		SourceLang: s.SourceLang,
		TargetLang: s.TargetLang,
		Status:     s.status,
		Streams:    len(s.streams),
		Committed:  s.committed,
		Pending:    len(s.gate),
		Offset:     s.offset,
		CreatedAt:  s.CreatedAt,
	}
}

// Elapsed is wall-clock seconds since the session was created.
func (s *Session) Elapsed(at time.Time) float64 {
	return at.Sub(s.CreatedAt).Seconds()
}

func (s *Session) activate() error {
	s.mu.Lock()
	if s.status != model.StatusConnecting {
		status := s.status
		s.mu.Unlock()
		if status == model.StatusActive {
			return nil
		}
		return fmt.Errorf("session %s is %s", s.ID, status)
	}
	s.status = model.StatusActive
	s.mu.Unlock()

	s.logger.Info("active")
	s.deps.Persister.UpdateStatus(s.ID, model.StatusActive)
	s.wg.Add(1)
	go s.sweep()
	s.notify(s)
	return nil
}

// stop moves the session to a terminal status. Open streams are closed,
// uncommitted slots are abandoned, and what was committed is flushed.
func (s *Session) stop(status model.Status) bool {
	s.mu.Lock()
	if s.status == model.StatusEnded || s.status == model.StatusFailed {
		s.mu.Unlock()
		return false
	}
	s.status = status
	s.cancel()

	streams := make([]*ParticipantStream, 0, len(s.streams))
	for _, ps := range s.streams {
		streams = append(streams, ps)
	}

	sum := sink.Summary{
		SessionID: s.ID,
		Status:    status,
		Lines:     append([]model.TranscriptRecord(nil), s.lines...),
		Cues:      append([]model.SubtitleCue(nil), s.cues...),
		ClipCount: s.clipCount,
		Duration:  s.offset,
	}
	abandoned := len(s.gate)
	s.mu.Unlock()

	for _, ps := range streams {
		ps.close("stop")
	}

	s.commits.Wait()
	s.deps.Persister.Flush(sum)
	s.logger.Info("stopped", "status", status, "committed", len(sum.Lines), "abandoned", abandoned)
	s.notify(s)
	return true
}

// Wait blocks until the session's background goroutines have exited.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) sweep() {
	defer s.wg.Done()

	interval := s.opts.SweepInterval
	if interval <= 0 {
		interval = s.opts.IdleTimeout / 4
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.closeIdle(s.deps.Clock.Now())
		}
	}
}

func (s *Session) closeIdle(now time.Time) int {
	s.mu.Lock()
	candidates := make([]*ParticipantStream, 0, len(s.streams))
	for _, ps := range s.streams {
		candidates = append(candidates, ps)
	}
	s.mu.Unlock()

	closed := 0
	for _, ps := range candidates {
		if ps.idleSince(now) > s.opts.IdleTimeout {
			s.logger.Debug("idle stream", "participant", ps.ParticipantID)
			ps.close("idle")
			closed++
		}
	}
	return closed
}
