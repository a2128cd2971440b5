package assign

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/pkg/cerr"
)

type Server struct {
	engine *Engine
}

func NewServer(engine *Engine) *Server {
	return &Server{engine: engine}
}

func (s *Server) Routes(r chi.Router) {
	r.Post("/tasks/{id}/assign", s.handleAssign)
}

type assignResponse struct {
	Agent    *agent.Agent `json:"agent"`
	Assigned bool         `json:"assigned"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := s.engine.Assign(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	// a == nil means no capacity; the task stays queued (not an error).
	cerr.SetJSONResponse(ctx, assignResponse{Agent: a, Assigned: a != nil})
}
