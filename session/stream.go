package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"node.town/babel/fanout"
	"node.town/babel/model"
	"node.town/babel/stt"
)

type StreamState int

const (
	StateIdle StreamState = iota
	StateStreaming
	StateClosed
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("StreamState(%d)", int(s))
}

var errStreamClosed = errors.New("stream closed")

// streamBacklog is how many frames a stream holds while its recognizer
// is still connecting or behind.
const streamBacklog = 64

// ParticipantStream is one participant's live recognizer. It opens on
// the first frame and is never reopened: once closed it leaves the
// registry and the next frame for the participant gets a fresh stream.
type ParticipantStream struct {
	ParticipantID string
	// JoinOffset is session-elapsed seconds at creation. Recognizer
	// timestamps are relative to the stream, so utterances are shifted
	// by it.
	JoinOffset float64

	session *Session
	ctx     context.Context
	cancel  context.CancelFunc
	frames  chan []byte

	mu         sync.Mutex
	state      StreamState
	recognizer stt.SpeechRecognizer
	lastFrame  time.Time
}

func newParticipantStream(s *Session, participantID string, at time.Time) *ParticipantStream {
	ctx, cancel := context.WithCancel(s.ctx)
	return &ParticipantStream{
		ParticipantID: participantID,
		JoinOffset:    s.Elapsed(at),
		session:       s,
		ctx:           ctx,
		cancel:        cancel,
		frames:        make(chan []byte, streamBacklog),
		state:         StateIdle,
		lastFrame:     at,
	}
}

func (p *ParticipantStream) State() StreamState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *ParticipantStream) idleSince(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return 0
	}
	return now.Sub(p.lastFrame)
}

// send queues a frame for the stream's feeder and never touches the
// network. The first frame starts the feeder, which dials the recognizer.
func (p *ParticipantStream) send(frame []byte, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateClosed:
		return errStreamClosed
	case StateIdle:
		p.state = StateStreaming
		p.session.wg.Add(1)
		go p.run()
	}

	p.lastFrame = at
	select {
	case p.frames <- frame:
		return nil
	default:
		return fmt.Errorf("%w: backlog full for %s", model.ErrRecognizerStream, p.ParticipantID)
	}
}

// run opens the recognizer and then feeds it queued frames in arrival
// order until the stream closes.
func (p *ParticipantStream) run() {
	defer p.session.wg.Done()

	rec, err := p.session.deps.Recognition.Start(p.ctx, p.session.SourceLang)
	if err != nil {
		if p.ctx.Err() == nil {
			p.session.logger.Error("stream open failed", "participant", p.ParticipantID, "error", err)
			for range len(p.frames) {
				p.session.deps.Metrics.RecordFrameDropped("recognizer")
			}
		}
		p.close("start_failed")
		return
	}

	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		rec.Stop()
		return
	}
	p.recognizer = rec
	p.mu.Unlock()

	p.session.deps.Metrics.RecordStreamOpened()
	p.session.logger.Debug("stream opened", "participant", p.ParticipantID, "join", p.JoinOffset)

	p.session.wg.Add(1)
	go p.receive(rec)

	for {
		select {
		case <-p.ctx.Done():
			return
		case frame := <-p.frames:
			if err := rec.SendAudio(frame); err != nil {
				p.session.deps.Metrics.RecordFrameDropped("recognizer")
				p.session.logger.Warn("send audio", "participant", p.ParticipantID, "error", err)
			}
		}
	}
}

// receive drains the recognizer. Interim drafts go out as captions; an
// utterance is admitted only when its drafts end in a final result.
// Drafts that end without one belong to a stream that died mid-speech
// and are discarded.
func (p *ParticipantStream) receive(rec stt.SpeechRecognizer) {
	defer p.session.wg.Done()
	defer p.close("recognizer")

	for drafts := range rec.Receive() {
		var last stt.Result
		got := false
		for d := range drafts {
			last, got = d, true
			if !d.IsFinal && d.Text != "" {
				p.session.caption(p.ParticipantID, d.Text)
			}
		}

		if !got || !last.IsFinal || strings.TrimSpace(last.Text) == "" {
			continue
		}

		start := p.JoinOffset + last.Start
		p.session.Admit(model.UtteranceEvent{
			ParticipantID: p.ParticipantID,
			Text:          strings.TrimSpace(last.Text),
			IsFinal:       true,
			Start:         start,
			End:           start + last.Duration,
		})
	}
}

func (p *ParticipantStream) close(reason string) {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	p.state = StateClosed
	rec := p.recognizer
	p.mu.Unlock()

	// abandons a dial still in progress
	p.cancel()

	if rec != nil {
		if err := rec.Stop(); err != nil {
			p.session.logger.Warn("recognizer stop", "participant", p.ParticipantID, "error", err)
		}
		p.session.deps.Metrics.RecordStreamClosed(reason)
	}
	p.session.logger.Debug("stream closed", "participant", p.ParticipantID, "reason", reason)
	p.session.removeStream(p)
}

func (s *Session) caption(participantID, text string) {
	s.deps.Broadcaster.Broadcast(s.ID, s.TargetLang, &fanout.Message{
		Type:        fanout.TypeCaption,
		Session:     s.ID,
		Language:    s.SourceLang,
		Participant: participantID,
		Original:    text,
	})
}
