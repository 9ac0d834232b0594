package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/leadflowhq/leadstream/internal/scheduler"
)

// Scheduler control is admin-only; read endpoints are open to any resolved
// identity.

func (s *Server) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.runner.Snapshot())
}

func (s *Server) schedulerHealth(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r); !ok {
		return
	}
	health := s.runner.Health()
	status := http.StatusOK
	if health == scheduler.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	snap := s.runner.Snapshot()
	writeJSON(w, status, map[string]any{
		"status":     health,
		"running":    snap.Running,
		"total_jobs": snap.TotalJobs,
	})
}

func (s *Server) schedulerStart(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identify(w, r)
	if !ok {
		return
	}
	if !identity.IsAdmin {
		writeError(w, http.StatusForbidden, "admin access required")
		return
	}
	s.runner.Start()
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "started",
		"timestamp": s.now().Format(time.RFC3339),
	})
}

func (s *Server) schedulerStop(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identify(w, r)
	if !ok {
		return
	}
	if !identity.IsAdmin {
		writeError(w, http.StatusForbidden, "admin access required")
		return
	}
	s.runner.Stop()
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "stopped",
		"timestamp": s.now().Format(time.RFC3339),
	})
}

func (s *Server) schedulerJobs(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r); !ok {
		return
	}
	snap := s.runner.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"jobs": snap.Jobs, "total": snap.TotalJobs})
}

func (s *Server) schedulerRemoveJob(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identify(w, r)
	if !ok {
		return
	}
	if !identity.IsAdmin {
		writeError(w, http.StatusForbidden, "admin access required")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if err := s.runner.RemoveJob(jobID); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("remove scheduled job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "removed"})
}
