// Package api serves the read-only status API: channel status from the
// telegraph feed, session snapshots, chat roster and history, the live
// event feed over websocket, and Prometheus metrics. It listens over HTTPS
// and, optionally, HTTP/3 on the same port.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/telegraph/internal/broadcast"
	"github.com/zsiec/telegraph/internal/certs"
	"github.com/zsiec/telegraph/internal/chat"
	"github.com/zsiec/telegraph/internal/feed"
	"github.com/zsiec/telegraph/internal/telegraph"
)

const shutdownTimeout = 5 * time.Second

// ChannelSource reports the live channel status. *telegraph.Client
// implements it.
type ChannelSource interface {
	Channel() string
	Status() telegraph.ChannelStatus
	Subscribed() bool
}

// Recorder observes served requests.
type Recorder interface {
	ObserveHTTP(route string, code int, d time.Duration)
}

// Sessions is the state of both session machines at one instant. The poll
// loop that owns the sessions publishes a fresh value after every flush.
type Sessions struct {
	Broadcast *broadcast.Snapshot `json:"broadcast,omitempty"`
	Chat      *chat.Snapshot      `json:"chat,omitempty"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Config configures a Server. Cert is required by Start but not by
// Handler.
type Config struct {
	Addr     string
	Cert     *certs.Cert
	HTTP3    bool
	Channel  ChannelSource
	Feed     *feed.Hub
	Metrics  http.Handler
	Recorder Recorder
	Logger   *slog.Logger
}

// Server is the status API server.
type Server struct {
	cfg      Config
	log      *slog.Logger
	tracer   trace.Tracer
	upgrader websocket.Upgrader
	sessions atomic.Pointer[Sessions]
	h3       *http3.Server
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, errors.New("api: Addr is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		log:    log.With("component", "api"),
		tracer: otel.Tracer("telegraph/api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The API is read-only; any origin may watch.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.sessions.Store(&Sessions{})
	return s, nil
}

// PublishSessions replaces the session state served by /api/sessions.
func (s *Server) PublishSessions(v Sessions) {
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = time.Now()
	}
	s.sessions.Store(&v)
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	r.Use(corsMiddleware)
	if s.h3 != nil {
		r.Use(s.altSvc)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/channel", s.handleChannel)
		r.Get("/sessions", s.handleSessions)
		r.Get("/chat/users", s.handleChatUsers)
		r.Get("/chat/messages", s.handleChatMessages)
		r.Get("/cert-hash", s.handleCertHash)
		r.Get("/feed", s.handleFeedStats)
		r.Get("/ws", s.handleWebSocket)
	})
	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics)
	}
	return r
}

// Start serves HTTPS, plus HTTP/3 when enabled, until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.Cert == nil {
		return errors.New("api: Cert is required to serve")
	}

	if s.cfg.HTTP3 {
		s.h3 = &http3.Server{
			Addr:      s.cfg.Addr,
			TLSConfig: s.cfg.Cert.TLSConfig(http3.NextProtoH3),
			QUICConfig: &quic.Config{
				MaxIdleTimeout: 30 * time.Second,
			},
		}
	}
	handler := s.Handler()

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           handler,
		TLSConfig:         s.cfg.Cert.TLSConfig("h2", "http/1.1"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("HTTPS API listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("https api: %w", err)
		}
		return nil
	})
	if s.h3 != nil {
		s.h3.Handler = handler
		g.Go(func() error {
			s.log.Info("HTTP/3 API listening", "addr", s.cfg.Addr)
			err := s.h3.ListenAndServe()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("http3 api: %w", err)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if s.h3 != nil {
			s.h3.Close()
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// altSvc advertises the HTTP/3 endpoint to HTTPS clients.
func (s *Server) altSvc(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ProtoMajor < 3 {
			if err := s.h3.SetQUICHeaders(w.Header()); err != nil {
				s.log.Debug("alt-svc header", "error", err)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}
