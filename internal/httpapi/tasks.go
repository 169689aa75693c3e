package httpapi

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/taskmaster/internal/tasks"
)

type taskResponse struct {
	Task   tasks.Task `json:"task"`
	UndoBy string     `json:"undo_by"`
}

type listTasksResponse struct {
	Tasks  []tasks.Task `json:"tasks"`
	UndoBy string       `json:"undo_by"`
}

type deleteTaskResponse struct {
	Success bool   `json:"success"`
	UndoBy  string `json:"undo_by"`
}

type clearListResponse struct {
	Success      bool   `json:"success"`
	DeletedCount int    `json:"deleted_count"`
	UndoBy       string `json:"undo_by"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List(r.Context(), listIDFrom(r.Context()))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_tasks_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, listTasksResponse{
		Tasks:  list,
		UndoBy: "This is a read-only action, no undo needed",
	})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	body, err := decodeArgs(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	title, _ := body["title"].(string)
	task, err := s.store.Create(r.Context(), listIDFrom(r.Context()), title)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, taskResponse{
		Task:   task,
		UndoBy: fmt.Sprintf("delete_task(id: %s)", task.ID),
	})
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	body, err := decodeArgs(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	listID := listIDFrom(r.Context())
	id := chi.URLParam(r, "id")
	previous, err := s.store.Get(r.Context(), listID, id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	var patch tasks.Patch
	undo := []string{"id: " + previous.ID}
	if raw, ok := body["title"]; ok {
		title := fmt.Sprint(raw)
		patch.Title = &title
		if strings.TrimSpace(title) != "" {
			undo = append(undo, fmt.Sprintf("title: %q", previous.Title))
		}
	}
	if raw, ok := body["completed"]; ok {
		completed, err := parseBool(raw)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "invalid_completed", err.Error())
			return
		}
		patch.Completed = &completed
		undo = append(undo, fmt.Sprintf("completed: %t", previous.Completed))
	}

	task, err := s.store.Update(r.Context(), listID, id, patch)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, taskResponse{
		Task:   task,
		UndoBy: "update_task(" + strings.Join(undo, ", ") + ")",
	})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.Delete(r.Context(), listIDFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, deleteTaskResponse{
		Success: true,
		UndoBy:  fmt.Sprintf("create_task(title: %q)", task.Title),
	})
}

func (s *Server) handleReorderTask(w http.ResponseWriter, r *http.Request) {
	body, err := decodeArgs(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	listID := listIDFrom(r.Context())
	id := chi.URLParam(r, "id")
	if _, err := s.store.Get(r.Context(), listID, id); err != nil {
		s.respondStoreError(w, err)
		return
	}

	open, err := s.store.CountOpen(r.Context(), listID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "count_tasks_failed", err.Error())
		return
	}
	position := tasks.ResolvePosition(parseInt(body["position"]), open)
	task, previous, err := s.store.Move(r.Context(), listID, id, position)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, taskResponse{
		Task:   task,
		UndoBy: fmt.Sprintf("reorder_task(id: %s, position: %d)", task.ID, previous),
	})
}

func (s *Server) handleClearList(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.store.ClearOpen(r.Context(), listIDFrom(r.Context()))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "clear_list_failed", err.Error())
		return
	}
	if len(deleted) == 0 {
		respondJSON(w, http.StatusOK, clearListResponse{Success: true, UndoBy: "No tasks were deleted"})
		return
	}
	undo := make([]string, 0, len(deleted))
	for _, t := range deleted {
		undo = append(undo, fmt.Sprintf("create_task(title: %q)", t.Title))
	}
	respondJSON(w, http.StatusOK, clearListResponse{
		Success:      true,
		DeletedCount: len(deleted),
		UndoBy:       strings.Join(undo, ", then "),
	})
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		respondError(w, http.StatusNotFound, "task_not_found", "Task not found")
	case errors.Is(err, tasks.ErrTitleMissing):
		respondError(w, http.StatusUnprocessableEntity, "invalid_task", "Title can't be blank")
	default:
		s.logger.Error("task store error", "err", err)
		respondError(w, http.StatusInternalServerError, "task_store_failed", err.Error())
	}
}

// decodeArgs reads a tool call body. An empty body is an empty argument set.
func decodeArgs(r *http.Request) (map[string]any, error) {
	body := map[string]any{}
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, errEmptyBody) {
		return nil, err
	}
	for k, v := range r.URL.Query() {
		if _, ok := body[k]; !ok && len(v) > 0 {
			body[k] = v[0]
		}
	}
	return body, nil
}

func parseBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, fmt.Errorf("completed must be a boolean")
		}
		return parsed, nil
	case float64:
		return b != 0, nil
	default:
		return false, fmt.Errorf("completed must be a boolean")
	}
}

// parseInt is lenient: anything unparsable is 0.
func parseInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(math.Trunc(n))
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}
