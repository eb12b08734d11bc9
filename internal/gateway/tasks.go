package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/scout/internal/research"
)

// startTaskRequest is the body of POST /api/tasks.
type startTaskRequest struct {
	Prompt string `json:"prompt"`
}

func (g *Gateway) handleStartTask() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, status, err := g.readBody(r)
		if err != nil {
			writeError(w, status, err.Error())
			return
		}
		var req startTaskRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		task, err := g.deps.Tasks.Start(r.Context(), req.Prompt)
		if err != nil {
			writeError(w, taskStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, task)
	}
}

func (g *Gateway) handleListTasks() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		tasks := g.deps.Tasks.List()
		if tasks == nil {
			tasks = []research.Task{}
		}
		writeJSON(w, http.StatusOK, tasks)
	}
}

func (g *Gateway) handleGetTask() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, err := g.deps.Tasks.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, taskStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, task)
	}
}

// handleCancelTask cancels a running task. A task suspended on review is
// cancelled too, which withdraws its pending request.
func (g *Gateway) handleCancelTask() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := g.deps.Tasks.Cancel(id); err != nil {
			writeError(w, taskStatus(err), err.Error())
			return
		}
		g.logger.Info("task cancelled via API", "task_id", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func taskStatus(err error) int {
	switch {
	case errors.Is(err, research.ErrEmptyPrompt):
		return http.StatusBadRequest
	case errors.Is(err, research.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, research.ErrTaskFinished):
		return http.StatusConflict
	case errors.Is(err, research.ErrMaxConcurrent):
		return http.StatusTooManyRequests
	case errors.Is(err, research.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
