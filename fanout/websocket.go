package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"node.town/babel/etc"
)

const (
	PingInterval = 30 * time.Second
	PongTimeout  = 60 * time.Second
)

// WebSocketListener pushes messages as JSON text frames. Only the hub's
// writer goroutine calls Send.
type WebSocketListener struct {
	id   string
	conn *websocket.Conn

	closeOnce sync.Once
}

var _ Listener = (*WebSocketListener)(nil)

func NewWebSocketListener(conn *websocket.Conn) *WebSocketListener {
	return &WebSocketListener{id: etc.NewFreshID(), conn: conn}
}

func (w *WebSocketListener) ID() string {
	return w.id
}

func (w *WebSocketListener) Send(ctx context.Context, msg *Message) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	w.conn.SetWriteDeadline(deadline)
	return w.conn.WriteJSON(msg)
}

func (w *WebSocketListener) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = w.conn.Close()
	})
	return err
}

// ReadLoop consumes and discards client frames until the peer goes away,
// answering pings and expecting pongs within PongTimeout.
func (w *WebSocketListener) ReadLoop(ctx context.Context) {
	w.conn.SetReadDeadline(time.Now().Add(PongTimeout))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(PongTimeout))
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				w.conn.Close()
				return
			case <-ticker.C:
				if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			return
		}
	}
}
