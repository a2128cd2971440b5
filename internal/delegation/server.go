package delegation

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taskforge/taskforge/pkg/cerr"
)

type Server struct {
	resolver *Resolver
}

func NewServer(resolver *Resolver) *Server {
	return &Server{resolver: resolver}
}

func (s *Server) Routes(r chi.Router) {
	r.Post("/tasks/{id}/delegate", s.handleDelegate)
}

func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	child, err := s.resolver.Delegate(ctx, chi.URLParam(r, "id"), &req)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, child)
}
