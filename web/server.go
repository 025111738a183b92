package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"node.town/babel/etc"
	"node.town/babel/fanout"
	"node.town/babel/metrics"
	"node.town/babel/recall"
	"node.town/babel/session"
)

// Bots is the part of the Recall API the server drives.
type Bots interface {
	CreateBot(ctx context.Context, br recall.BotRequest) (string, error)
	LeaveCall(ctx context.Context, botID string) error
}

type Options struct {
	Manager *session.Manager
	Hub     *fanout.Hub
	// Bots may be nil, in which case /mgmt cannot start or stop bots.
	Bots Bots
	// Speaker, when set, gives each bound session a listener that plays
	// its clips back into the meeting.
	Speaker       func(botID string) fanout.Listener
	Metrics       *metrics.Metrics
	Logger        *log.Logger
	Clock         etc.TimeProvider
	PublicWSURL   string
	DefaultSource string
	DefaultTarget string
}

type Server struct {
	Options
	upgrader websocket.Upgrader
	mgmt     *mgmtClients
}

func New(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = etc.SystemTime{}
	}
	s := &Server{
		Options: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		mgmt: newMgmtClients(opts.Logger),
	}
	opts.Manager.OnStatus(s.pushStatus)
	return s
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "ok")
	})
	r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	r.Get("/sessions", s.handleSessions)
	r.Get("/mgmt", s.handleMgmt)
	r.Get("/listen", s.handleListen)
	r.Get("/bot", s.handleBot)
	r.Get("/", s.handleBot)

	return r
}

// Serve runs until ctx is done, then shuts the listener down.
func (s *Server) Serve(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	s.Logger.Info("http", "url", fmt.Sprintf("http://localhost:%d", port))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
			if websocket.IsWebSocketUpgrade(r) {
				status = http.StatusSwitchingProtocols
			}
		}
		elapsed := time.Since(start)
		s.Metrics.RecordHTTP(r.Method, route, status, elapsed)
		if route != "/metrics" && route != "/health" {
			s.Logger.Debug("request", "method", r.Method, "route", route, "status", status, "elapsed", elapsed)
		}
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Manager.Snapshots()); err != nil {
		s.Logger.Error("encode sessions", "error", err)
	}
}

// handleIndex lists the routes for a plain GET on the bot path.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var routes []string
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.Routes != nil {
		chi.Walk(rctx.Routes, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			routes = append(routes, method+" "+route)
			return nil
		})
	}
	sort.Strings(routes)

	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "babel")
	fmt.Fprintln(w, strings.Join(routes, "\n"))
}
