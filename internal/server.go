package internal

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/assign"
	"github.com/taskforge/taskforge/internal/config"
	"github.com/taskforge/taskforge/internal/delegation"
	"github.com/taskforge/taskforge/internal/scheduler"
	"github.com/taskforge/taskforge/internal/session"
	"github.com/taskforge/taskforge/internal/task"
	"github.com/taskforge/taskforge/pkg/cerr"
	"github.com/taskforge/taskforge/pkg/clog"
)

type Server struct {
	server           *http.Server
	env              *config.Env
	taskServer       *task.Server
	agentServer      *agent.Server
	assignServer     *assign.Server
	delegationServer *delegation.Server
	sessionServer    *session.Server
	schedulerServer  *scheduler.Server
}

func NewServer(
	env *config.Env,
	taskServer *task.Server,
	agentServer *agent.Server,
	assignServer *assign.Server,
	delegationServer *delegation.Server,
	sessionServer *session.Server,
	schedulerServer *scheduler.Server,
) *Server {
	return &Server{
		env:              env,
		taskServer:       taskServer,
		agentServer:      agentServer,
		assignServer:     assignServer,
		delegationServer: delegationServer,
		sessionServer:    sessionServer,
		schedulerServer:  schedulerServer,
	}
}

// ListenAndServe starts the HTTP server. The provided context is used as
// the base context for incoming requests via http.Server.BaseContext, so
// cancelling it on shutdown also cancels in-flight request contexts.
func (s *Server) ListenAndServe(ctx context.Context) error {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(
			clog.SlogChiMiddleware(),
			cerr.NewJSONResponseChiMiddleware(),
		)
		s.taskServer.Routes(r)
		s.agentServer.Routes(r)
		s.assignServer.Routes(r)
		s.delegationServer.Routes(r)
		s.sessionServer.Routes(r)
		s.schedulerServer.Routes(r)
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
		})
	})

	mux := http.NewServeMux()
	mux.Handle("/health", &HealthChecker{})
	mux.Handle("/api/", r)

	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr: addr,
		Handler: h2c.NewHandler(cors.New(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}).Handler(s.apiKeyMiddleware(mux)), &http2.Server{}),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type HealthChecker struct{}

func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health checks are unauthenticated.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = r.Header.Get("Authorization")
			if len(apiKey) > 7 && apiKey[:7] == "Bearer " {
				apiKey = apiKey[7:]
			}
		}
		if apiKey != s.env.APIKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
