package task

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taskforge/taskforge/pkg/cerr"
)

// Server exposes the queue contract over JSON for the dashboard and the
// agent execution loops.
type Server struct {
	queue *Queue
}

func NewServer(queue *Queue) *Server {
	return &Server{queue: queue}
}

func (s *Server) Routes(r chi.Router) {
	r.Post("/tasks", s.handleEnqueue)
	r.Get("/tasks", s.handleList)
	r.Get("/tasks/{id}", s.handleGet)
	r.Post("/tasks/claim", s.handleClaim)
	r.Post("/tasks/{id}/heartbeat", s.handleHeartbeat)
	r.Post("/tasks/{id}/complete", s.handleComplete)
	r.Post("/tasks/{id}/fail", s.handleFail)
	r.Post("/tasks/{id}/reassign", s.handleReassign)
	r.Post("/tasks/{id}/reprioritize", s.handleReprioritize)
	r.Delete("/projects/{projectID}/tasks", s.handleDeleteByProject)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	t, err := s.queue.Enqueue(ctx, &req)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, t)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if agentID := r.URL.Query().Get("agent_id"); agentID != "" {
		tasks, err := s.queue.ListByAgent(ctx, agentID)
		if err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		cerr.SetJSONResponse(ctx, tasks)
		return
	}
	tasks, err := s.queue.ListByProject(ctx, r.URL.Query().Get("project_id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, tasks)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.queue.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

type claimResponse struct {
	Task      *Task `json:"task"`
	Available bool  `json:"available"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var filter ClaimFilter
	if err := json.NewDecoder(r.Body).Decode(&filter); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	t, err := s.queue.ClaimNext(ctx, filter)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	// No eligible task is an expected condition, not an error.
	cerr.SetJSONResponse(ctx, claimResponse{Task: t, Available: t != nil})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.queue.Heartbeat(ctx, chi.URLParam(r, "id")); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, struct{}{})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	t, err := s.queue.Complete(ctx, chi.URLParam(r, "id"), req.Result)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	t, err := s.queue.Fail(ctx, chi.URLParam(r, "id"), req.Error)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) handleReassign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	t, err := s.queue.Reassign(ctx, chi.URLParam(r, "id"), req.AgentID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) handleReprioritize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		Priority int `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	t, err := s.queue.Reprioritize(ctx, chi.URLParam(r, "id"), req.Priority)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) handleDeleteByProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deleted, err := s.queue.DeleteByProject(ctx, chi.URLParam(r, "projectID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, struct {
		Deleted int `json:"deleted"`
	}{Deleted: deleted})
}
