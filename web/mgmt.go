package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"node.town/babel/recall"
	"node.town/babel/session"
)

type mgmtRequest struct {
	Action      string   `json:"action"`
	MeetingURL  string   `json:"meeting_url"`
	SourceLang  string   `json:"source_lang"`
	TargetLangs []string `json:"target_langs"`
	BotID       string   `json:"bot_id"`
}

type mgmtMessage struct {
	Type    string             `json:"type"`
	Bots    []session.Snapshot `json:"bots,omitempty"`
	Message string             `json:"message,omitempty"`
}

type mgmtConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *mgmtConn) send(msg mgmtMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(msg)
}

type mgmtClients struct {
	logger *log.Logger

	mu    sync.Mutex
	conns map[*mgmtConn]struct{}
}

func newMgmtClients(logger *log.Logger) *mgmtClients {
	return &mgmtClients{logger: logger, conns: make(map[*mgmtConn]struct{})}
}

func (m *mgmtClients) add(c *mgmtConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[c] = struct{}{}
}

func (m *mgmtClients) remove(c *mgmtConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, c)
}

// broadcast drops clients that fail to take the message.
func (m *mgmtClients) broadcast(msg mgmtMessage) {
	m.mu.Lock()
	conns := make([]*mgmtConn, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		if err := c.send(msg); err != nil {
			m.logger.Debug("mgmt client dropped", "error", err)
			m.remove(c)
			c.conn.Close()
		}
	}
}

func (s *Server) statusMessage(changed *session.Snapshot) mgmtMessage {
	bots := s.Manager.Snapshots()
	if changed != nil {
		found := false
		for i := range bots {
			if bots[i].ID == changed.ID {
				found = true
				break
			}
		}
		// stopped sessions have already left the registry
		if !found {
			bots = append(bots, *changed)
		}
	}
	if bots == nil {
		bots = []session.Snapshot{}
	}
	return mgmtMessage{Type: "status", Bots: bots}
}

func (s *Server) pushStatus(changed session.Snapshot) {
	s.mgmt.broadcast(s.statusMessage(&changed))
}

func (s *Server) handleMgmt(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("mgmt upgrade", "error", err)
		return
	}
	c := &mgmtConn{conn: conn}
	s.mgmt.add(c)
	s.Logger.Info("mgmt client connected", "remote", r.RemoteAddr)
	defer func() {
		s.mgmt.remove(c)
		conn.Close()
		s.Logger.Info("mgmt client disconnected", "remote", r.RemoteAddr)
	}()

	if err := c.send(s.statusMessage(nil)); err != nil {
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req mgmtRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			c.send(mgmtMessage{Type: "error", Message: "Invalid JSON"})
			continue
		}

		switch req.Action {
		case "start":
			s.startBots(r.Context(), c, req)
		case "stop":
			s.stopBot(r.Context(), c, req)
		default:
			c.send(mgmtMessage{Type: "error", Message: fmt.Sprintf("Unknown action: %s", req.Action)})
		}
	}
}

// startBots sends one bot per target language into the meeting.
func (s *Server) startBots(ctx context.Context, c *mgmtConn, req mgmtRequest) {
	meetingURL := strings.TrimSpace(req.MeetingURL)
	if meetingURL == "" {
		c.send(mgmtMessage{Type: "error", Message: "Missing meeting_url"})
		return
	}
	if len(req.TargetLangs) == 0 {
		c.send(mgmtMessage{Type: "error", Message: "Select at least one target language"})
		return
	}
	if s.Bots == nil {
		c.send(mgmtMessage{Type: "error", Message: "Recall is not configured"})
		return
	}
	source := req.SourceLang
	if source == "" {
		source = s.DefaultSource
	}

	for _, lang := range req.TargetLangs {
		lang = strings.ToLower(strings.TrimSpace(lang))
		botID, err := s.Bots.CreateBot(ctx, recall.BotRequest{
			MeetingURL:   meetingURL,
			WebsocketURL: s.PublicWSURL,
			Name:         recall.BotName(lang),
		})
		if err != nil {
			s.Logger.Error("create bot", "lang", lang, "error", err)
			s.recordFailure(meetingURL, source, lang, err)
			c.send(mgmtMessage{
				Type:    "error",
				Message: fmt.Sprintf("Failed to create bot for %s: %v", strings.ToUpper(lang), err),
			})
			continue
		}

		if _, err := s.Manager.Start(session.Info{
			ID:         botID,
			MeetingURL: meetingURL,
			SourceLang: source,
			TargetLang: lang,
		}); err != nil {
			s.Logger.Error("start session", "bot", botID, "error", err)
			c.send(mgmtMessage{Type: "error", Message: err.Error()})
			continue
		}
		s.Logger.Info("bot started", "bot", botID, "source", source, "target", lang)
	}
}

// recordFailure keeps a failed bot creation visible as a failed session.
func (s *Server) recordFailure(meetingURL, source, lang string, cause error) {
	id := uuid.NewString()
	if _, err := s.Manager.Start(session.Info{
		ID:         id,
		MeetingURL: meetingURL,
		SourceLang: source,
		TargetLang: lang,
	}); err != nil {
		return
	}
	s.Manager.Fail(id, cause)
}

func (s *Server) stopBot(ctx context.Context, c *mgmtConn, req mgmtRequest) {
	botID := strings.TrimSpace(req.BotID)
	if _, err := uuid.Parse(botID); err != nil {
		c.send(mgmtMessage{Type: "error", Message: fmt.Sprintf("Invalid bot id: %q", botID)})
		return
	}
	if _, ok := s.Manager.Get(botID); !ok {
		c.send(mgmtMessage{Type: "error", Message: fmt.Sprintf("Unknown bot: %s", botID)})
		return
	}

	if s.Bots != nil {
		if err := s.Bots.LeaveCall(ctx, botID); err != nil {
			s.Logger.Error("leave call", "bot", botID, "error", err)
		}
	}
	if err := s.Manager.Stop(botID); err != nil {
		s.Logger.Debug("stop", "bot", botID, "error", err)
	}
}
