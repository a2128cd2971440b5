package session

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taskforge/taskforge/pkg/cerr"
)

type Server struct {
	store *Store
}

func NewServer(store *Store) *Server {
	return &Server{store: store}
}

func (s *Server) Routes(r chi.Router) {
	r.Post("/sessions", s.handleCreate)
	r.Get("/sessions/{id}", s.handleGet)
	r.Post("/sessions/{id}/interactions", s.handleAppend)
	r.Get("/sessions/{id}/history", s.handleHistory)
	r.Delete("/sessions/{id}", s.handleEnd)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := s.store.Create(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, sess)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := s.store.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, sess)
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		Role    Role   `json:"role"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	sess, err := s.store.Append(ctx, chi.URLParam(r, "id"), req.Role, req.Content)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, sess)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	history, err := s.store.GetHistory(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, history)
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.store.End(ctx, chi.URLParam(r, "id")); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, struct{}{})
}
