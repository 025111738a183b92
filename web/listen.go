package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"node.town/babel/fanout"
)

// handleListen subscribes a listener socket to committed output for
// ?lang=, optionally narrowed to one ?session=.
func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	lang := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("lang")))
	sessionID := r.URL.Query().Get("session")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("listen upgrade", "error", err)
		return
	}
	if lang == "" {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Missing ?lang= parameter"),
			time.Now().Add(time.Second),
		)
		conn.Close()
		return
	}

	l := fanout.NewWebSocketListener(conn)
	unsubscribe := s.Hub.Subscribe(l, lang, sessionID)
	defer unsubscribe()

	l.ReadLoop(r.Context())
}
