package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/runcoach/internal/coach"
	"github.com/ent0n29/runcoach/internal/config"
	"github.com/ent0n29/runcoach/internal/llm"
	"github.com/ent0n29/runcoach/internal/logging"
	"github.com/ent0n29/runcoach/internal/observability"
	"github.com/ent0n29/runcoach/internal/session"
	"github.com/ent0n29/runcoach/internal/store"
)

// Turns runs chat turns.
type Turns interface {
	HandleTurn(ctx context.Context, clientID, userText string) (coach.TurnResult, error)
	HandleTurnStream(ctx context.Context, clientID, userText string, onReplyDelta llm.DeltaHandler) (coach.TurnResult, error)
}

// Plans reads plan lineage.
type Plans interface {
	GetCurrent(ctx context.Context, clientID string) (store.PlanVersion, bool, error)
	GetVersion(ctx context.Context, clientID string, version int) (store.PlanVersion, bool, error)
	History(ctx context.Context, clientID string, limit int) ([]store.PlanVersion, error)
}

// Sessions wipes client state.
type Sessions interface {
	Reset(ctx context.Context, clientID string) (session.ResetResponse, error)
}

// Backend is the slice of the store the API reads directly.
type Backend interface {
	ListMessages(ctx context.Context, clientID string) ([]store.Message, error)
	Ping(ctx context.Context) error
	Mode() string
}

// Exporter hands out download links for archived plan versions.
type Exporter interface {
	ExportURL(ctx context.Context, clientID string, version int, expires time.Duration) (string, error)
}

type Deps struct {
	Turns     Turns
	Plans     Plans
	Sessions  Sessions
	Backend   Backend
	Exporter  Exporter
	Generator string
	Metrics   *observability.Metrics
}

type Server struct {
	cfg      config.Config
	deps     Deps
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:     cfg,
		deps:    deps,
		metrics: deps.Metrics,
		log:     logging.Component("httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				for _, allowed := range cfg.AllowedOrigins {
					if strings.EqualFold(origin, allowed) {
						return true
					}
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
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.corsHandler())
	r.Use(s.observeRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Post("/v1/chat", s.handleChat)
	r.Get("/v1/chat/ws", s.handleChatWS)
	r.Get("/v1/plan", s.handleCurrentPlan)
	r.Get("/v1/plan/{client}/versions", s.handleListVersions)
	r.Get("/v1/plan/{client}/versions/{version}", s.handleGetVersion)
	r.Get("/v1/plan/{client}/versions/{version}/export", s.handleExportVersion)
	r.Get("/v1/messages/{client}", s.handleListMessages)
	r.Delete("/v1/session/{client}", s.handleResetSession)
	r.Get("/v1/settings", s.handleSettings)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Delete("/v1/perf/latency", s.handlePerfReset)

	return r
}

func (s *Server) corsHandler() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Client-ID", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if s.cfg.AllowAnyOrigin {
		opts.AllowedOrigins = []string{"*"}
		opts.AllowCredentials = false
	}
	return cors.Handler(opts)
}

// observeRequests counts requests by route pattern so client ids never become
// label values.
func (s *Server) observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveHTTP(route, status)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.storeMode(),
		"generator":  s.deps.Generator,
		"archive":    s.deps.Exporter != nil,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Backend == nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", "store not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.deps.Backend.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.storeMode(),
	})
}

func (s *Server) storeMode() string {
	if s.deps.Backend == nil {
		return "disabled"
	}
	return s.deps.Backend.Mode()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
