package agent

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/taskforge/taskforge/pkg/cerr"
)

// Server exposes agent provisioning CRUD. Provisioning is an external
// concern; the core only reads these records for assignment and delegation.
type Server struct {
	repo Repository
}

func NewServer(repo Repository) *Server {
	return &Server{repo: repo}
}

func (s *Server) Routes(r chi.Router) {
	r.Post("/agents", s.handleCreate)
	r.Get("/agents", s.handleList)
	r.Get("/agents/{id}", s.handleGet)
	r.Put("/agents/{id}", s.handleUpdate)
	r.Put("/agents/{id}/status", s.handleUpdateStatus)
	r.Delete("/agents/{id}", s.handleDelete)
}

type createRequest struct {
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Type        string   `json:"type"`
	Skills      []string `json:"skills"`
	MaxWorkload int      `json:"max_workload"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Name == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "agent name must not be empty", nil)
		return
	}
	if req.MaxWorkload <= 0 {
		req.MaxWorkload = 1
	}

	now := time.Now()
	a := &Agent{
		ID:          ulid.Make().String(),
		Name:        req.Name,
		Role:        req.Role,
		Type:        req.Type,
		Skills:      req.Skills,
		Status:      StatusIdle,
		MaxWorkload: req.MaxWorkload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, a)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agents, err := s.repo.List(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, agents)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := s.repo.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, a)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := s.repo.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Name != "" {
		a.Name = req.Name
	}
	if req.Role != "" {
		a.Role = req.Role
	}
	if req.Type != "" {
		a.Type = req.Type
	}
	if req.Skills != nil {
		a.Skills = req.Skills
	}
	if req.MaxWorkload > 0 {
		a.MaxWorkload = req.MaxWorkload
	}
	a.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, a); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, a)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		Status Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	switch req.Status {
	case StatusIdle, StatusRunning, StatusOffline:
	default:
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid agent status", nil)
		return
	}
	a, err := s.repo.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	a.Status = req.Status
	a.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, a); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, a)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.repo.Delete(ctx, chi.URLParam(r, "id")); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, struct{}{})
}
