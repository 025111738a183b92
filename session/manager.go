package session

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"node.town/babel/etc"
	"node.town/babel/model"
	"node.town/babel/sink"
	"node.town/babel/tts"
)

// Manager is the registry of live sessions, keyed by bot id.
type Manager struct {
	deps Deps
	opts Options

	mu       sync.RWMutex
	sessions map[string]*Session

	watchMu  sync.Mutex
	watchers []func(Snapshot)
}

func NewManager(deps Deps, opts Options) *Manager {
	if deps.Clock == nil {
		deps.Clock = etc.SystemTime{}
	}
	if deps.ClipDuration == nil {
		deps.ClipDuration = tts.ClipDuration
	}
	if opts.MaxInflight < 1 {
		opts.MaxInflight = 1
	}
	return &Manager{
		deps:     deps,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// OnStatus registers fn to be called with a snapshot whenever a session
// changes status.
func (m *Manager) OnStatus(fn func(Snapshot)) {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	m.watchers = append(m.watchers, fn)
}

func (m *Manager) notify(s *Session) {
	snap := s.Snapshot()
	m.watchMu.Lock()
	watchers := slices.Clone(m.watchers)
	m.watchMu.Unlock()
	for _, fn := range watchers {
		fn(snap)
	}
}

// Start registers a session in the connecting state.
func (m *Manager) Start(info Info) (*Session, error) {
	if info.ID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if info.TargetLang == "" {
		return nil, fmt.Errorf("session %s: target language is required", info.ID)
	}
	if info.SourceLang == "" {
		info.SourceLang = "en"
	}

	m.mu.Lock()
	if old, ok := m.sessions[info.ID]; ok {
		status := old.Status()
		if status == model.StatusConnecting || status == model.StatusActive {
			m.mu.Unlock()
			return nil, fmt.Errorf("session %s already %s", info.ID, status)
		}
	}
	s := newSession(info, m.deps, m.opts, m.notify)
	m.sessions[info.ID] = s
	m.mu.Unlock()

	m.deps.Metrics.ActiveSessions.Inc()
	m.deps.Persister.Open(sink.SessionInfo{
		ID:         info.ID,
		MeetingURL: info.MeetingURL,
		SourceLang: info.SourceLang,
		TargetLang: info.TargetLang,
		Status:     model.StatusConnecting,
	})
	s.logger.Info("started", "meeting", info.MeetingURL, "source", info.SourceLang, "target", info.TargetLang)
	m.notify(s)
	return s, nil
}

// Activate moves a connecting session to active, after which it accepts
// frames.
func (m *Manager) Activate(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: unknown session %s", model.ErrFrameRouting, id)
	}
	return s.activate()
}

// Ensure returns the session for id, creating and activating it when
// the bot is unknown. Audio from a bot started outside this process
// still gets a pipeline.
func (m *Manager) Ensure(info Info) (*Session, error) {
	if s, ok := m.Get(info.ID); ok && s.Status() != model.StatusEnded && s.Status() != model.StatusFailed {
		if s.Status() == model.StatusConnecting {
			if err := s.activate(); err != nil {
				return nil, err
			}
		}
		return s, nil
	}
	s, err := m.Start(info)
	if err != nil {
		return nil, err
	}
	if err := s.activate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) Stop(id string) error {
	return m.end(id, model.StatusEnded)
}

func (m *Manager) Fail(id string, cause error) error {
	if s, ok := m.Get(id); ok {
		s.logger.Error("failed", "error", cause)
	}
	return m.end(id, model.StatusFailed)
}

func (m *Manager) end(id string, status model.Status) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown session %s", id)
	}
	if s.stop(status) {
		m.deps.Metrics.ActiveSessions.Dec()
	}
	return nil
}

func (m *Manager) StopAll() {
	for _, snap := range m.Snapshots() {
		if err := m.Stop(snap.ID); err != nil {
			m.deps.Logger.Warn("stop", "session", snap.ID, "error", err)
		}
	}
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	slices.SortFunc(out, func(a, b Snapshot) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// Route delivers a frame from a bot's audio socket. Undeliverable frames
// are dropped and counted.
func (m *Manager) Route(sessionID, participantID string, frame []byte, at time.Time) error {
	s, ok := m.Get(sessionID)
	if !ok {
		m.deps.Metrics.RecordFrameDropped("unknown_session")
		return fmt.Errorf("%w: unknown session %s", model.ErrFrameRouting, sessionID)
	}
	if err := s.Route(participantID, frame, at); err != nil {
		reason := "recognizer"
		if errors.Is(err, model.ErrFrameRouting) {
			reason = "inactive_session"
		}
		m.deps.Metrics.RecordFrameDropped(reason)
		return err
	}
	m.deps.Metrics.FramesRouted.Inc()
	return nil
}

func (m *Manager) Leave(sessionID, participantID string) bool {
	s, ok := m.Get(sessionID)
	if !ok {
		return false
	}
	return s.Leave(participantID)
}
