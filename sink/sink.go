package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc"

	"node.town/babel/db"
	"node.town/babel/metrics"
	"node.town/babel/model"
	"node.town/babel/storage"
)

// Store is the durable record side. *db.Queries implements it.
type Store interface {
	CreateSession(ctx context.Context, arg db.CreateSessionParams) error
	UpdateSessionStatus(ctx context.Context, arg db.UpdateSessionStatusParams) error
	InsertTranscriptLine(ctx context.Context, sessionID string, r model.TranscriptRecord) error
	InsertSubtitleCue(ctx context.Context, sessionID string, c model.SubtitleCue) error
}

type NopStore struct{}

func (NopStore) CreateSession(context.Context, db.CreateSessionParams) error         { return nil }
func (NopStore) UpdateSessionStatus(context.Context, db.UpdateSessionStatusParams) error { return nil }
func (NopStore) InsertTranscriptLine(context.Context, string, model.TranscriptRecord) error {
	return nil
}
func (NopStore) InsertSubtitleCue(context.Context, string, model.SubtitleCue) error { return nil }

// Record is one committed slot as handed to persistence. Clip is nil for
// text-only commits.
type Record struct {
	SessionID     string
	Seq           uint64
	ParticipantID string
	Clip          []byte
	Line          model.TranscriptRecord
	Cue           model.SubtitleCue
}

func RecordFor(c *model.SynthesizedClip) Record {
	return Record{
		SessionID:     c.SessionID,
		Seq:           c.Seq,
		ParticipantID: c.ParticipantID,
		Clip:          c.Audio,
		Line:          c.Record(),
		Cue:           c.Cue(),
	}
}

type SessionInfo struct {
	ID         string
	MeetingURL string
	SourceLang string
	TargetLang string
	Status     model.Status
}

// Summary is the committed state of a session at stop time.
type Summary struct {
	SessionID string
	Status    model.Status
	Lines     []model.TranscriptRecord
	Cues      []model.SubtitleCue
	ClipCount int64
	Duration  float64
}

// Sink persists committed slots off the commit path. Each session has
// its own FIFO worker; a failed write is logged and the next item runs.
type Sink struct {
	store   Store
	bucket  storage.Bucket
	logger  *log.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	mu     sync.Mutex
	queues map[string]*jobQueue
	closed bool
	wg     conc.WaitGroup
}

func New(store Store, bucket storage.Bucket, logger *log.Logger, m *metrics.Metrics) *Sink {
	if store == nil {
		store = NopStore{}
	}
	return &Sink{
		store:   store,
		bucket:  bucket,
		logger:  logger,
		metrics: m,
		timeout: 30 * time.Second,
		queues:  make(map[string]*jobQueue),
	}
}

// queueFor returns the session's queue, starting its worker on first
// use. The caller holds s.mu.
func (s *Sink) queueFor(sessionID string) *jobQueue {
	q, ok := s.queues[sessionID]
	if !ok {
		q = newJobQueue()
		s.queues[sessionID] = q
		s.wg.Go(func() { s.drain(sessionID, q) })
	}
	return q
}

func (s *Sink) drain(sessionID string, q *jobQueue) {
	for {
		j, ok := q.pop()
		if !ok {
			s.logger.Debug("sink drained", "session", sessionID)
			return
		}
		s.metrics.PersistQueue.Dec()
		j()
	}
}

func (s *Sink) enqueue(sessionID string, j job) {
	s.metrics.PersistQueue.Inc()

	s.mu.Lock()
	ok := !s.closed && s.queueFor(sessionID).push(j)
	s.mu.Unlock()

	if !ok {
		s.metrics.PersistQueue.Dec()
		s.logger.Warn("sink closed, dropping", "session", sessionID)
	}
}

// retire ends the session's worker once its queue has run dry. Work
// queued behind a flush belongs to a restarted session with the same id
// and keeps the queue alive, so it still runs after the flush.
func (s *Sink) retire(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[sessionID]
	if !ok || !q.closeIfEmpty() {
		return
	}
	delete(s.queues, sessionID)
}

func (s *Sink) fail(kind string, sessionID string, seq uint64, err error) {
	s.metrics.RecordPersistFailure(kind)
	s.logger.Error("persist", "kind", kind, "session", sessionID, "seq", seq,
		"error", fmt.Errorf("%w: %w", model.ErrPersistence, err))
}

func (s *Sink) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// Open records the session row ahead of any of its lines.
func (s *Sink) Open(info SessionInfo) {
	s.enqueue(info.ID, func() {
		ctx, cancel := s.ctx()
		defer cancel()
		err := s.store.CreateSession(ctx, db.CreateSessionParams{
			ID:         info.ID,
			MeetingURL: info.MeetingURL,
			SourceLang: info.SourceLang,
			TargetLang: info.TargetLang,
			Status:     string(info.Status),
		})
		if err != nil {
			s.fail("session", info.ID, 0, err)
		}
	})
}

func (s *Sink) UpdateStatus(sessionID string, status model.Status) {
	s.enqueue(sessionID, func() {
		ctx, cancel := s.ctx()
		defer cancel()
		err := s.store.UpdateSessionStatus(ctx, db.UpdateSessionStatusParams{
			ID:     sessionID,
			Status: string(status),
		})
		if err != nil {
			s.fail("status", sessionID, 0, err)
		}
	})
}

// Persist queues one committed slot and returns at once.
func (s *Sink) Persist(r Record) {
	s.enqueue(r.SessionID, func() {
		if len(r.Clip) > 0 {
			ctx, cancel := s.ctx()
			path := storage.ClipPath(r.SessionID, r.ParticipantID, r.Seq)
			if err := s.bucket.Put(ctx, path, "audio/mpeg", r.Clip); err != nil {
				s.fail("clip", r.SessionID, r.Seq, err)
			}
			cancel()
		}

		ctx, cancel := s.ctx()
		if err := s.store.InsertTranscriptLine(ctx, r.SessionID, r.Line); err != nil {
			s.fail("transcript", r.SessionID, r.Seq, err)
		}
		cancel()

		ctx, cancel = s.ctx()
		if err := s.store.InsertSubtitleCue(ctx, r.SessionID, r.Cue); err != nil {
			s.fail("cue", r.SessionID, r.Seq, err)
		}
		cancel()

		s.logger.Debug("persisted", "session", r.SessionID, "seq", r.Seq, "clip", len(r.Clip) > 0)
	})
}

// Flush writes the session's subtitle and transcript files and final
// status after everything already queued, then retires its worker.
func (s *Sink) Flush(sum Summary) {
	s.enqueue(sum.SessionID, func() {
		defer s.retire(sum.SessionID)

		ctx, cancel := s.ctx()
		defer cancel()

		srt := FormatSRT(sum.Cues)
		if err := s.bucket.Put(ctx, storage.SubtitlesPath(sum.SessionID), "text/plain; charset=utf-8", []byte(srt)); err != nil {
			s.fail("subtitles", sum.SessionID, 0, err)
		}

		jsonl, err := FormatJSONL(sum.Lines)
		if err == nil {
			err = s.bucket.Put(ctx, storage.TranscriptPath(sum.SessionID), "application/json; charset=utf-8", jsonl)
		}
		if err != nil {
			s.fail("transcript_file", sum.SessionID, 0, err)
		}

		err = s.store.UpdateSessionStatus(ctx, db.UpdateSessionStatusParams{
			ID:        sum.SessionID,
			Status:    string(sum.Status),
			ClipCount: sum.ClipCount,
			Duration:  sum.Duration,
			Stopped:   true,
		})
		if err != nil {
			s.fail("status", sum.SessionID, 0, err)
		}

		s.logger.Info("flushed", "session", sum.SessionID, "lines", len(sum.Lines), "clips", sum.ClipCount)
	})
}

// Close retires every worker after its queued work and waits.
func (s *Sink) Close() {
	s.mu.Lock()
	s.closed = true
	for id, q := range s.queues {
		q.close()
		delete(s.queues, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
