package captions

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"node.town/babel/fanout"
)

// ListenURL turns a server base URL into its /listen socket address.
func ListenURL(base, lang, sessionID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws", "":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/listen"

	q := url.Values{}
	q.Set("lang", strings.ToLower(lang))
	if sessionID != "" {
		q.Set("session", sessionID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Pump decodes listener messages from conn into out until the socket
// closes, then closes out. A normal close returns nil.
func Pump(conn *websocket.Conn, out chan<- *fanout.Message) error {
	defer close(out)
	for {
		var msg fanout.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		out <- &msg
	}
}

// Run connects to a babel server and shows its captions until the user
// quits.
func Run(ctx context.Context, base, lang, sessionID string) error {
	if lang == "" {
		return errors.New("a language is required")
	}
	addr, err := ListenURL(base, lang, sessionID)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()

	messages := make(chan *fanout.Message, 64)
	done := make(chan error, 1)
	go func() {
		done <- Pump(conn, messages)
	}()

	p := tea.NewProgram(
		initialModel(lang, messages, done),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err = p.Run()
	return err
}
