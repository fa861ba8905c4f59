package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/executor"
	"github.com/limiquantix/replanner/internal/plan"
)

const defaultPlanLimit = 20

// ActionStatus is an action of the tracked execution with its state.
type ActionStatus struct {
	plan.ActionRecord
	State executor.State `json:"state"`
}

// ExecutionStatus is the response of GET /api/execution.
type ExecutionStatus struct {
	ExecutionID string         `json:"execution_id"`
	PlanID      string         `json:"plan_id"`
	Duration    int            `json:"duration"`
	Actions     []ActionStatus `json:"actions"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "replanner"})
}

// listPlansHandler handles GET /api/plans?limit=N
func (s *Server) listPlansHandler(w http.ResponseWriter, r *http.Request) {
	if s.plans == nil {
		s.writeError(w, http.StatusServiceUnavailable, "plan history is disabled", nil)
		return
	}

	limit := defaultPlanLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit", nil)
			return
		}
		limit = l
	}

	plans, err := s.plans.ListPlans(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list plans", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"plans": plans, "total": len(plans)})
}

// getPlanHandler handles GET /api/plans/{id}
func (s *Server) getPlanHandler(w http.ResponseWriter, r *http.Request) {
	if s.plans == nil {
		s.writeError(w, http.StatusServiceUnavailable, "plan history is disabled", nil)
		return
	}

	rec, err := s.plans.GetPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeRepositoryError(w, "failed to get plan", err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// executionEventsHandler handles GET /api/executions/{id}/events
func (s *Server) executionEventsHandler(w http.ResponseWriter, r *http.Request) {
	if s.plans == nil {
		s.writeError(w, http.StatusServiceUnavailable, "plan history is disabled", nil)
		return
	}

	events, err := s.plans.Events(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeRepositoryError(w, "failed to get events", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events, "total": len(events)})
}

// executionHandler reports the progress of the tracked execution.
func (s *Server) executionHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	e := s.execution
	s.mu.RUnlock()

	if e == nil {
		s.writeError(w, http.StatusNotFound, "no execution in progress", nil)
		return
	}

	g := e.Graph()
	states := e.States()
	status := ExecutionStatus{
		ExecutionID: e.ID().String(),
		PlanID:      e.Plan().ID.String(),
		Duration:    e.Plan().Duration(),
		Actions:     make([]ActionStatus, g.Len()),
	}
	for i := 0; i < g.Len(); i++ {
		status.Actions[i] = ActionStatus{ActionRecord: plan.NewActionRecord(g, i), State: states[i]}
	}
	s.writeJSON(w, http.StatusOK, status)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		s.logger.Error(message, zap.Error(err))
	}
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeRepositoryError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "not found", nil)
		return
	}
	s.writeError(w, http.StatusInternalServerError, message, err)
}
