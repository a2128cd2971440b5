package scheduler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taskforge/taskforge/pkg/cerr"
)

type Server struct {
	scheduler *Scheduler
}

func NewServer(scheduler *Scheduler) *Server {
	return &Server{scheduler: scheduler}
}

func (s *Server) Routes(r chi.Router) {
	r.Get("/jobs", s.handleList)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	cerr.SetJSONResponse(r.Context(), s.scheduler.Status())
}
