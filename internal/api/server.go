// Package api exposes the task CRUD surface, execution log queries, and the
// manual batch trigger over HTTP. Handlers stay thin: validation plus a
// store call, with scheduling semantics owned by the orchestrator.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/zengdw/app-keep-alive-sub001/internal/domain"
	"github.com/zengdw/app-keep-alive-sub001/internal/ratelimit"
	"github.com/zengdw/app-keep-alive-sub001/internal/recurrence"
	"github.com/zengdw/app-keep-alive-sub001/internal/store"
)

// BatchRunner triggers one scheduling pass, as the ticker loop does.
type BatchRunner interface {
	RunBatch(ctx context.Context, now time.Time) domain.BatchReport
}

type Server struct {
	r       *chi.Mux
	tasks   store.TaskStore
	logs    store.LogStore
	batches BatchRunner
	limiter ratelimit.Limiter
}

func NewServer(tasks store.TaskStore, logs store.LogStore, batches BatchRunner, limiter ratelimit.Limiter) http.Handler {
	return NewServerWithDebug(tasks, logs, batches, limiter, false)
}

func NewServerWithDebug(tasks store.TaskStore, logs store.LogStore, batches BatchRunner, limiter ratelimit.Limiter, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
	}))

	s := &Server{r: r, tasks: tasks, logs: logs, batches: batches, limiter: limiter}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)

	// Admission control covers the API surface only; probes stay open.
	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/tasks", s.createTask)
		r.Get("/tasks", s.listTasks)
		r.Get("/tasks/{id}", s.getTask)
		r.Put("/tasks/{id}", s.updateTask)
		r.Delete("/tasks/{id}", s.deleteTask)
		r.Get("/tasks/{id}/logs", s.taskLogs)
		r.Get("/logs", s.recentLogs)
		r.Post("/batch/run", s.runBatch)
	})

	// Debug routes (pprof)
	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
		r.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
		r.Handle("/debug/pprof/block", pprof.Handler("block"))
	}

	return r
}

// rateLimit admits or rejects a request before any handler work happens.
// A rejected request costs nothing but the counter increment. When the
// limiter backend itself is unreachable the request is admitted: a broken
// Redis must not take the API down with it.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		if err := s.limiter.Admit(r.Context(), clientKey(r)); err != nil {
			if errors.Is(err, ratelimit.ErrRateLimited) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			log.Warn().Err(err).Msg("rate limiter unavailable, admitting request")
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller: the API key when presented, otherwise
// the client IP (middleware.RealIP has already unwrapped proxy headers).
func clientKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("keepalive_up 1\n"))
}

type taskReq struct {
	Name         string                     `json:"name"`
	Type         domain.TaskType            `json:"type"`
	Schedule     string                     `json:"schedule"`
	Rule         *domain.RecurrenceRule     `json:"rule,omitempty"`
	Keepalive    *domain.KeepaliveConfig    `json:"keepalive,omitempty"`
	Notification *domain.NotificationConfig `json:"notification,omitempty"`
	Enabled      *bool                      `json:"enabled,omitempty"`
	Owner        string                     `json:"owner,omitempty"`
}

type createTaskResp struct {
	ID string `json:"id"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req taskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	task := domain.Task{
		Name:         req.Name,
		Type:         req.Type,
		Schedule:     req.Schedule,
		Rule:         req.Rule,
		Keepalive:    req.Keepalive,
		Notification: req.Notification,
		Enabled:      req.Enabled == nil || *req.Enabled,
		Owner:        req.Owner,
	}

	switch task.Type {
	case domain.TypeKeepalive:
		if err := recurrence.ValidateCron(task.Schedule); err != nil {
			http.Error(w, "invalid schedule: "+err.Error(), 400)
			return
		}
		next, err := recurrence.NextCronRun(task.Schedule, time.Now().UTC())
		if err != nil {
			http.Error(w, "invalid schedule: "+err.Error(), 400)
			return
		}
		task.NextRunAt = next
	case domain.TypeNotification:
		if task.Rule != nil {
			initialized := recurrence.Initialize(*task.Rule)
			task.Rule = &initialized
		}
	}

	if err := task.Validate(); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	id, err := s.tasks.Create(r.Context(), task)
	if err != nil {
		http.Error(w, err.Error(), storeStatus(err))
		return
	}
	writeJSON(w, http.StatusCreated, createTaskResp{ID: id})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), storeStatus(err))
		return
	}
	writeJSON(w, 200, task)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	writeJSON(w, 200, tasks)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), storeStatus(err))
		return
	}

	var req taskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	if req.Name != "" {
		task.Name = req.Name
	}
	if req.Type != "" {
		task.Type = req.Type
	}
	if req.Schedule != "" {
		if err := recurrence.ValidateCron(req.Schedule); err != nil {
			http.Error(w, "invalid schedule: "+err.Error(), 400)
			return
		}
		next, err := recurrence.NextCronRun(req.Schedule, time.Now().UTC())
		if err != nil {
			http.Error(w, "invalid schedule: "+err.Error(), 400)
			return
		}
		task.Schedule = req.Schedule
		task.NextRunAt = next
	}
	if req.Rule != nil {
		initialized := recurrence.Initialize(*req.Rule)
		task.Rule = &initialized
	}
	if req.Keepalive != nil {
		task.Keepalive = req.Keepalive
	}
	if req.Notification != nil {
		task.Notification = req.Notification
	}
	if req.Owner != "" {
		task.Owner = req.Owner
	}
	if req.Enabled != nil {
		task.Enabled = *req.Enabled
	}

	if err := task.Validate(); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	if err := s.tasks.Update(r.Context(), task); err != nil {
		http.Error(w, err.Error(), storeStatus(err))
		return
	}
	writeJSON(w, 200, task)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		http.Error(w, err.Error(), storeStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) taskLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.logs.ListByTask(r.Context(), chi.URLParam(r, "id"), queryLimit(r))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if logs == nil {
		logs = []domain.ExecutionLog{}
	}
	writeJSON(w, 200, logs)
}

func (s *Server) recentLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.logs.ListRecent(r.Context(), queryLimit(r))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if logs == nil {
		logs = []domain.ExecutionLog{}
	}
	writeJSON(w, 200, logs)
}

func (s *Server) runBatch(w http.ResponseWriter, r *http.Request) {
	report := s.batches.RunBatch(r.Context(), time.Now().UTC())
	writeJSON(w, 200, report)
}

func queryLimit(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if n <= 0 {
		return 50
	}
	if n > 500 {
		return 500
	}
	return n
}

func storeStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return 404
	case errors.Is(err, store.ErrDuplicate):
		return 409
	default:
		return 500
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
