package fanout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc"

	"node.town/babel/metrics"
	"node.town/babel/model"
)

const (
	TypeAudio   = "audio"
	TypeText    = "text"
	TypeCaption = "caption"
)

// Message is the JSON pushed to listeners. MP3 is base64 on the wire.
type Message struct {
	Type            string  `json:"type"`
	Session         string  `json:"session"`
	Language        string  `json:"lang"`
	Seq             uint64  `json:"seq,omitempty"`
	Offset          float64 `json:"offset"`
	Duration        float64 `json:"duration,omitempty"`
	Participant     string  `json:"participant,omitempty"`
	Original        string  `json:"original,omitempty"`
	Translated      string  `json:"translated,omitempty"`
	Untranslated    bool    `json:"untranslated,omitempty"`
	SynthesisFailed bool    `json:"synthesis_failed,omitempty"`
	Final           bool    `json:"final"`
	MP3             []byte  `json:"mp3,omitempty"`
}

func ClipMessage(c *model.SynthesizedClip) *Message {
	msg := &Message{
		Type:            TypeText,
		Session:         c.SessionID,
		Language:        c.Language,
		Seq:             c.Seq,
		Offset:          c.Offset,
		Duration:        c.Duration,
		Participant:     c.ParticipantID,
		Original:        c.Text,
		Translated:      c.Translated,
		Untranslated:    c.Untranslated,
		SynthesisFailed: c.SynthesisFailed || c.TimedOut,
		Final:           true,
	}
	if c.HasAudio() {
		msg.Type = TypeAudio
		msg.MP3 = c.Audio
	}
	return msg
}

type Listener interface {
	ID() string
	Send(ctx context.Context, msg *Message) error
	Close() error
}

type subscriber struct {
	listener Listener
	lang     string
	session  string
	out      chan *Message
	done     chan struct{}
	once     sync.Once
}

func (s *subscriber) matches(sessionID, lang string) bool {
	if s.lang != lang {
		return false
	}
	return s.session == "" || s.session == sessionID
}

type Hub struct {
	logger       *log.Logger
	metrics      *metrics.Metrics
	queue        int
	writeTimeout time.Duration

	mu   sync.RWMutex
	subs map[string]*subscriber
	wg   conc.WaitGroup
}

func NewHub(queue int, logger *log.Logger, m *metrics.Metrics) *Hub {
	if queue < 1 {
		queue = 1
	}
	return &Hub{
		logger:       logger,
		metrics:      m,
		queue:        queue,
		writeTimeout: 10 * time.Second,
		subs:         make(map[string]*subscriber),
	}
}

// Subscribe adds l for messages in lang, limited to one session when
// sessionID is set. Only messages broadcast after this call are seen.
func (h *Hub) Subscribe(l Listener, lang, sessionID string) (unsubscribe func()) {
	sub := &subscriber{
		listener: l,
		lang:     strings.ToLower(lang),
		session:  sessionID,
		out:      make(chan *Message, h.queue),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	if old, ok := h.subs[l.ID()]; ok {
		h.mu.Unlock()
		h.remove(old, nil)
		h.mu.Lock()
	}
	h.subs[l.ID()] = sub
	h.mu.Unlock()

	h.metrics.Listeners.Inc()
	h.logger.Info("listener joined", "id", l.ID(), "lang", sub.lang, "session", sessionID)

	h.wg.Go(func() { h.writeLoop(sub) })

	return func() { h.remove(sub, nil) }
}

func (h *Hub) writeLoop(sub *subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case msg := <-sub.out:
			ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
			err := sub.listener.Send(ctx, msg)
			cancel()
			if err != nil {
				h.remove(sub, fmt.Errorf("%w: %w", model.ErrBroadcastDelivery, err))
				return
			}
		}
	}
}

// Broadcast never blocks on a listener. A listener whose queue is full is
// treated as failed and dropped.
func (h *Hub) Broadcast(sessionID, lang string, msg *Message) int {
	lang = strings.ToLower(lang)

	var slow []*subscriber
	delivered := 0

	h.mu.RLock()
	for _, sub := range h.subs {
		if !sub.matches(sessionID, lang) {
			continue
		}
		select {
		case sub.out <- msg:
			delivered++
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.remove(sub, fmt.Errorf("%w: queue full", model.ErrBroadcastDelivery))
	}
	return delivered
}

// remove unregisters sub and stops its writer. The listener itself is
// closed on the hub's wait group, since closing a stuck socket can take
// as long as its write deadline.
func (h *Hub) remove(sub *subscriber, cause error) {
	sub.once.Do(func() {
		h.mu.Lock()
		if h.subs[sub.listener.ID()] == sub {
			delete(h.subs, sub.listener.ID())
		}
		h.mu.Unlock()

		close(sub.done)
		h.metrics.Listeners.Dec()

		if cause != nil {
			h.metrics.ListenersDropped.Inc()
			h.logger.Warn("listener dropped", "id", sub.listener.ID(), "error", cause)
		} else {
			h.logger.Info("listener left", "id", sub.listener.ID())
		}

		h.wg.Go(func() {
			if err := sub.listener.Close(); err != nil {
				h.logger.Debug("listener close", "id", sub.listener.ID(), "error", err)
			}
		})
	})
}

func (h *Hub) Count(lang string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sub := range h.subs {
		if lang == "" || sub.lang == strings.ToLower(lang) {
			n++
		}
	}
	return n
}

// Close drops every listener and waits for their writers to exit.
func (h *Hub) Close() {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		h.remove(sub, nil)
	}
	h.wg.Wait()
}
