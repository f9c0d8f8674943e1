// Package gateway exposes the task store and the skill engine over HTTP:
// JSON CRUD on /tasks, one endpoint per skill under /skills, health and
// metrics endpoints, and a websocket event stream on /ws.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/basket/taskdesk/internal/bus"
	otelpkg "github.com/basket/taskdesk/internal/otel"
	"github.com/basket/taskdesk/internal/persistence"
	"github.com/basket/taskdesk/internal/skills"
)

// Config holds the gateway dependencies.
type Config struct {
	Store  *persistence.Store
	Bus    *bus.Bus
	Logger *slog.Logger

	// AuthToken gates every endpoint except /healthz. Empty disables auth.
	AuthToken string

	// AllowOrigins controls accepted Origin headers for cross-origin
	// browser requests. Empty means same-origin only.
	AllowOrigins []string

	// CleanupDays is the default age threshold for /skills/cleanup when
	// the request omits ?days.
	CleanupDays int

	// ConfigFingerprint is the hash of active config exposed in /healthz.
	ConfigFingerprint string

	// Metrics, when non-nil, records request and skill durations.
	Metrics *otelpkg.Metrics
}

type Server struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CleanupDays <= 0 {
		cfg.CleanupDays = skills.DefaultCleanupDays
	}
	return &Server{cfg: cfg, logger: logger}
}

// Handler returns the full route table wrapped in CORS and telemetry
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/tasks/", s.handleTaskByID)

	mux.HandleFunc("/skills/prioritize", s.handleSkillPrioritize)
	mux.HandleFunc("/skills/cleanup", s.handleSkillCleanup)
	mux.HandleFunc("/skills/search", s.handleSkillSearch)
	mux.HandleFunc("/skills/brief", s.handleSkillBrief)
	mux.HandleFunc("/skills/report", s.handleSkillReport)

	mux.HandleFunc("/datetime", s.handleDatetime)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/ws", s.handleWS)

	return s.corsMiddleware(s.telemetryMiddleware(mux))
}

// telemetryMiddleware records request durations when metrics are wired.
func (s *Server) telemetryMiddleware(next http.Handler) http.Handler {
	if s.cfg.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.cfg.Metrics.RequestDuration.Record(r.Context(), time.Since(start).Seconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, persistence.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	s.logger.Error("store error", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// --- task CRUD ---

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.createTask(w, r)
	case http.MethodGet:
		s.listTasks(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	body, err := validateBody(r, taskCreateSchema)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	draft, _, err := draftFromBody(body)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	task, err := s.cfg.Store.CreateTask(r.Context(), draft)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	filter := persistence.TaskFilter{}
	if v := r.URL.Query().Get("status"); v != "" {
		status := persistence.Status(v)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", v))
			return
		}
		filter.Status = status
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	tasks, err := s.cfg.Store.ListTasks(r.Context(), filter)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []persistence.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/tasks/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "task id required")
		return
	}
	switch r.Method {
	case http.MethodGet:
		task, err := s.cfg.Store.GetTask(r.Context(), id)
		if err != nil {
			s.storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	case http.MethodPatch:
		s.patchTask(w, r, id)
	case http.MethodDelete:
		if err := s.cfg.Store.DeleteTask(r.Context(), id); err != nil {
			s.storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) patchTask(w http.ResponseWriter, r *http.Request, id string) {
	body, err := validateBody(r, taskPatchSchema)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	patch, err := patchFromBody(body)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	task, err := s.cfg.Store.PatchTask(r.Context(), id, patch)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- skill endpoints ---

// runSkill wraps a skill invocation with duration metrics and a
// completion event on the bus.
func (s *Server) runSkill(ctx context.Context, name string, affected int, summary string, started time.Time) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SkillDuration.Record(ctx, time.Since(started).Seconds())
		s.cfg.Metrics.SkillRuns.Add(ctx, 1)
		s.cfg.Metrics.TasksMutated.Add(ctx, int64(affected))
	}
	if s.cfg.Bus != nil {
		s.cfg.Bus.Publish(bus.TopicSkillCompleted, bus.SkillEvent{
			Skill:    name,
			Affected: affected,
			Summary:  summary,
		})
	}
	s.logger.Info("skill completed", "skill", name, "affected", affected)
}

func (s *Server) handleSkillPrioritize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	started := time.Now()
	updated, err := skills.Prioritize(r.Context(), s.cfg.Store, started.UTC())
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.runSkill(r.Context(), "prioritize", updated, "", started)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Successfully updated priority for %d tasks", updated),
	})
}

func (s *Server) handleSkillCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	days := s.cfg.CleanupDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "days must be a non-negative integer")
			return
		}
		days = n
	}
	started := time.Now()
	deleted, err := skills.Cleanup(r.Context(), s.cfg.Store, days, started.UTC())
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.runSkill(r.Context(), "cleanup", deleted, "", started)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Successfully archived %d old tasks", deleted),
	})
}

func (s *Server) handleSkillSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	q := r.URL.Query().Get("q")
	started := time.Now()
	results, err := skills.Search(r.Context(), s.cfg.Store, q)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.runSkill(r.Context(), "search", 0, "", started)
	if results == nil {
		results = []persistence.Task{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleSkillBrief(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	started := time.Now()
	brief, err := skills.DailyBrief(r.Context(), s.cfg.Store, started.UTC())
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.runSkill(r.Context(), "brief", 0, brief, started)
	writeJSON(w, http.StatusOK, map[string]string{"brief": brief})
}

func (s *Server) handleSkillReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	started := time.Now()
	report, err := skills.Report(r.Context(), s.cfg.Store, started.UTC())
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.runSkill(r.Context(), "report", 0, "", started)
	writeJSON(w, http.StatusOK, map[string]string{"report": report})
}

// --- diagnostics ---

func (s *Server) handleDatetime(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	now := time.Now().UTC()
	writeJSON(w, http.StatusOK, map[string]any{
		"datetime":  now.Format(time.RFC3339),
		"timestamp": now.Unix(),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	counts, err := s.cfg.Store.Counts(r.Context())
	dbOK := err == nil
	payload := map[string]any{
		"healthy":            dbOK,
		"db_ok":              dbOK,
		"task_counts":        counts,
		"config_fingerprint": s.cfg.ConfigFingerprint,
	}
	if !dbOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(payload)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	counts, err := s.cfg.Store.Counts(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	mem := &runtime.MemStats{}
	runtime.ReadMemStats(mem)

	subscribers := 0
	if s.cfg.Bus != nil {
		subscribers = s.cfg.Bus.SubscriberCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks_todo":        counts.Todo,
		"tasks_in_progress": counts.InProgress,
		"tasks_completed":   counts.Completed,
		"bus_subscribers":   subscribers,
		"alloc_bytes":       mem.Alloc,
		"goroutines":        runtime.NumGoroutine(),
	})
}
