package web

import (
	"net/http"

	"github.com/gorilla/websocket"

	"node.town/babel/recall"
	"node.town/babel/session"
)

// handleBot receives a Recall bot's realtime audio. The first event
// carrying a bot id binds the connection to that bot's session; the
// session ends when the socket closes.
func (s *Server) handleBot(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		s.handleIndex(w, r)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("bot upgrade", "error", err)
		return
	}
	s.Logger.Info("bot connected", "remote", r.RemoteAddr)

	var (
		sess   *session.Session
		unbind func()
	)
	defer func() {
		conn.Close()
		if unbind != nil {
			unbind()
		}
		if sess != nil {
			if err := s.Manager.Stop(sess.ID); err != nil {
				s.Logger.Debug("bot stop", "bot", sess.ID, "error", err)
			}
		}
		s.Logger.Info("bot disconnected", "remote", r.RemoteAddr)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.Logger.Debug("bot read", "error", err)
			}
			return
		}

		ev, err := recall.Decode(raw)
		if err != nil {
			s.Logger.Warn("bot event", "error", err)
			continue
		}

		if sess == nil && ev.BotID != "" {
			sess, err = s.bind(ev.BotID)
			if err != nil {
				s.Logger.Error("bind bot", "bot", ev.BotID, "error", err)
				return
			}
			if s.Speaker != nil {
				unbind = s.Hub.Subscribe(s.Speaker(sess.ID), sess.TargetLang, sess.ID)
			}
		}
		if sess == nil {
			continue
		}

		switch ev.Kind {
		case recall.EventAudio:
			if recall.IsTranslator(ev.ParticipantName) || len(ev.PCM) == 0 {
				continue
			}
			participant := ev.ParticipantID
			if participant == "" {
				participant = "unknown"
			}
			if err := s.Manager.Route(sess.ID, participant, ev.PCM, s.Clock.Now()); err != nil {
				s.Logger.Debug("frame dropped", "bot", sess.ID, "participant", participant, "error", err)
			}
		case recall.EventLeave:
			if ev.ParticipantID != "" && s.Manager.Leave(sess.ID, ev.ParticipantID) {
				s.Logger.Info("participant left", "bot", sess.ID, "participant", ev.ParticipantID)
			}
		default:
			s.Logger.Debug("unhandled event", "event", ev.Kind)
		}
	}
}

func (s *Server) bind(botID string) (*session.Session, error) {
	if _, ok := s.Manager.Get(botID); !ok {
		s.Logger.Warn("unknown bot, using defaults", "bot", botID, "source", s.DefaultSource, "target", s.DefaultTarget)
	}
	return s.Manager.Ensure(session.Info{
		ID:         botID,
		SourceLang: s.DefaultSource,
		TargetLang: s.DefaultTarget,
	})
}
