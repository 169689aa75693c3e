package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ent0n29/taskmaster/internal/access"
	"github.com/ent0n29/taskmaster/internal/config"
	"github.com/ent0n29/taskmaster/internal/observability"
	"github.com/ent0n29/taskmaster/internal/rooms"
	"github.com/ent0n29/taskmaster/internal/tasks"
)

// DefaultListID is the list every issued tool token operates on.
const DefaultListID = "default"

// AgentDispatcher sends the named agent into a freshly issued room.
type AgentDispatcher interface {
	Dispatch(ctx context.Context, room, agentName, metadata string) (string, error)
}

type Deps struct {
	Store      tasks.Store
	Rooms      *rooms.Registry
	ToolTokens *access.ToolTokens
	Nonces     *access.NonceGuard
	Signer     *access.Signer
	Dispatcher AgentDispatcher
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

type Server struct {
	cfg        config.Config
	store      tasks.Store
	rooms      *rooms.Registry
	toolTokens *access.ToolTokens
	nonces     *access.NonceGuard
	signer     *access.Signer
	dispatcher AgentDispatcher
	metrics    *observability.Metrics
	logger     *slog.Logger
}

func New(cfg config.Config, deps Deps) *Server {
	s := &Server{
		cfg:        cfg,
		store:      deps.Store,
		rooms:      deps.Rooms,
		toolTokens: deps.ToolTokens,
		nonces:     deps.Nonces,
		signer:     deps.Signer,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
	if s.store == nil {
		s.store = tasks.NewMemoryStore()
	}
	if s.rooms == nil {
		s.rooms = rooms.NewRegistry(cfg.RoomRetention)
	}
	if s.toolTokens == nil {
		s.toolTokens = access.NewToolTokens()
	}
	if s.nonces == nil {
		s.nonces = access.NewNonceGuard(cfg.RoomRetention)
	}
	if s.signer == nil {
		s.signer = access.NewSigner(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.AccessTokenTTL)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.rooms.SetExpireHook(func(room *rooms.Room) {
		s.toolTokens.Revoke(room.ToolToken)
		s.metrics.SetActiveRooms(s.rooms.ActiveCount())
		s.logger.Info("room expired", "room", room.Name)
	})
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/livekit", s.handleCreateRoom)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToolToken)
			r.With(s.observeTool("get_all_tasks")).Get("/tasks", s.handleListTasks)
			r.With(s.observeTool("create_task")).Post("/tasks", s.handleCreateTask)
			r.With(s.observeTool("update_task")).Patch("/tasks/{id}", s.handleUpdateTask)
			r.With(s.observeTool("delete_task")).Delete("/tasks/{id}", s.handleDeleteTask)
			r.With(s.observeTool("reorder_task")).Patch("/reorder_task/{id}", s.handleReorderTask)
			r.With(s.observeTool("clear_list")).Delete("/clear_list", s.handleClearList)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"token_signing":   s.signer.Enabled(),
		"task_store_mode": s.taskStoreMode(),
		"active_rooms":    s.rooms.ActiveCount(),
	})
}

type listKey struct{}

func (s *Server) requireToolToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		listID, ok := s.toolTokens.Lookup(access.BearerToken(r.Header.Get("Authorization")))
		if !ok {
			respondError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing tool token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), listKey{}, listID)))
	})
}

func listIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(listKey{}).(string); ok {
		return id
	}
	return DefaultListID
}

func (s *Server) observeTool(tool string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			s.metrics.ObserveToolCall(tool, ww.Status())
			s.logger.Info("tool response", "tool", tool, "status", ww.Status(), "bytes", ww.BytesWritten())
		})
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func (s *Server) taskStoreMode() string {
	switch s.store.(type) {
	case *tasks.PostgresStore:
		return "postgres"
	case *tasks.MemoryStore:
		return "in-memory"
	default:
		return "custom"
	}
}
