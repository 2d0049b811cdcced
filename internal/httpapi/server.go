package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/callrelay/internal/config"
	"github.com/ent0n29/callrelay/internal/conversation"
	"github.com/ent0n29/callrelay/internal/observability"
	"github.com/ent0n29/callrelay/internal/protocol"
	"github.com/ent0n29/callrelay/internal/session"
	"github.com/ent0n29/callrelay/internal/transport"
)

// Relay serves the websocket legs of a call.
type Relay interface {
	ServeTelephony(ctx context.Context, conn transport.Stream)
	ServeObserver(ctx context.Context, conn transport.Stream)
	Registry() *session.Registry
	Tools() []protocol.Tool
}

type Server struct {
	cfg      config.Config
	relay    Relay
	store    conversation.Store
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
	socket   transport.SocketOptions
}

func New(cfg config.Config, relay Relay, store conversation.Store, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		cfg:     cfg,
		relay:   relay,
		store:   store,
		metrics: metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Twilio and other non-browser clients omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Get("/public-url", s.handlePublicURL)
	r.Get("/twiml", s.handleTwiML)
	r.Post("/twiml", s.handleTwiML)
	r.Get("/tools", s.handleTools)

	r.Get("/call", s.handleCallWS)
	r.Get("/logs", s.handleLogsWS)

	r.Get("/v1/sessions", s.handleListSessions)
	r.Get("/v1/conversations", s.handleListConversations)
	r.Get("/v1/conversations/{streamSid}", s.handleGetConversation)
	r.Delete("/v1/conversations/{streamSid}", s.handleDeleteConversation)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.storeMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	active := 0
	if s.relay != nil {
		active = s.relay.Registry().Count()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"store_mode":   s.storeMode(),
		"active_calls": active,
	})
}

func (s *Server) handlePublicURL(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"publicUrl": s.cfg.PublicURL})
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	tools := []protocol.Tool{}
	if s.relay != nil {
		if declared := s.relay.Tools(); declared != nil {
			tools = declared
		}
	}
	respondJSON(w, http.StatusOK, tools)
}

func (s *Server) handleCallWS(w http.ResponseWriter, r *http.Request) {
	s.serveLeg(w, r, "telephony", func(ctx context.Context, conn transport.Stream) {
		s.relay.ServeTelephony(ctx, conn)
	})
}

func (s *Server) handleLogsWS(w http.ResponseWriter, r *http.Request) {
	s.serveLeg(w, r, "observer", func(ctx context.Context, conn transport.Stream) {
		s.relay.ServeObserver(ctx, conn)
	})
}

func (s *Server) serveLeg(w http.ResponseWriter, r *http.Request, leg string, serve func(context.Context, transport.Stream)) {
	if s.relay == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "relay not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "leg", leg, "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(leg + "_connected").Inc()
	}
	s.logger.Info("websocket connected", "leg", leg, "remote", r.RemoteAddr)

	sock := transport.NewSocket(conn, s.socket)
	serve(r.Context(), sock)

	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(leg + "_disconnected").Inc()
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	out := []session.Info{}
	if s.relay != nil {
		for _, sess := range s.relay.Registry().Sessions() {
			info, err := sess.Info(r.Context())
			if err != nil {
				continue
			}
			out = append(out, info)
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) storeMode() string {
	if s.store == nil {
		return "disabled"
	}
	return s.store.Mode()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
