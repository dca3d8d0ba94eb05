package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"planner-engine/internal/logging"
	"planner-engine/internal/recurrence"
	"planner-engine/internal/service"
)

// Server exposes tasks, rules and scheduler controls over HTTP.
type Server struct {
	router    *mux.Router
	tasks     *service.TaskService
	rules     *service.RuleService
	scheduler *service.SchedulerService
	limiter   *rate.Limiter
	log       zerolog.Logger
}

type Options struct {
	// TriggerPerMinute bounds manual "process now" requests.
	TriggerPerMinute int
}

func NewServer(tasks *service.TaskService, rules *service.RuleService, scheduler *service.SchedulerService, opts Options, log zerolog.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		tasks:     tasks,
		rules:     rules,
		scheduler: scheduler,
		limiter:   rate.NewLimiter(perMinute(opts.TriggerPerMinute), burst(opts.TriggerPerMinute)),
		log:       logging.Component(log, "api"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// SetTriggerRate changes the manual trigger rate limit.
func (s *Server) SetTriggerRate(n int) {
	s.limiter.SetLimit(perMinute(n))
	s.limiter.SetBurst(burst(n))
}

func perMinute(n int) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Minute / time.Duration(n))
}

func burst(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.router.HandleFunc("/api/scheduler", s.handleSchedulerState).Methods(http.MethodGet)
	s.router.HandleFunc("/api/scheduler/start", s.handleSchedulerStart).Methods(http.MethodPost)
	s.router.HandleFunc("/api/scheduler/stop", s.handleSchedulerStop).Methods(http.MethodPost)
	s.router.HandleFunc("/api/scheduler/trigger", s.handleTrigger).Methods(http.MethodPost)

	s.router.HandleFunc("/api/tasks", s.handleCreateTask).Methods(http.MethodPost)
	s.router.HandleFunc("/api/tasks/{id:[0-9]+}", s.handleGetTask).Methods(http.MethodGet)
	s.router.HandleFunc("/api/tasks/{id:[0-9]+}", s.handleDeleteTask).Methods(http.MethodDelete)
	s.router.HandleFunc("/api/tasks/{id:[0-9]+}/recurrence", s.handleUpsertRule).Methods(http.MethodPut)
	s.router.HandleFunc("/api/tasks/{id:[0-9]+}/recurrence", s.handleGetTaskRule).Methods(http.MethodGet)

	s.router.HandleFunc("/api/rules/{id:[0-9]+}", s.handleGetRule).Methods(http.MethodGet)
	s.router.HandleFunc("/api/rules/{id:[0-9]+}", s.handleDeleteRule).Methods(http.MethodDelete)
	s.router.HandleFunc("/api/rules/{id:[0-9]+}/instances", s.handleInstances).Methods(http.MethodGet)
	s.router.HandleFunc("/api/rules/{id:[0-9]+}/preview", s.handlePreview).Methods(http.MethodGet)
	s.router.HandleFunc("/api/rules/{id:[0-9]+}/preview.ics", s.handlePreviewICS).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleSchedulerState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.State())
}

func (s *Server) handleSchedulerStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.scheduler.Start(); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.scheduler.State())
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := s.scheduler.Stop(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "timer stopped, run still in progress")
		return
	}
	writeJSON(w, http.StatusOK, s.scheduler.State())
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "too many manual runs, try again later")
		return
	}
	run, err := s.scheduler.TriggerNow(r.Context())
	switch {
	case errors.Is(err, service.ErrOverlapSkipped):
		writeJSON(w, http.StatusConflict, run)
	case err != nil:
		s.log.Error().Err(err).Str("run_id", run.ID).Msg("manual run failed")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeJSON(w, http.StatusOK, run)
	}
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var in service.TaskInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	task, err := s.tasks.CreateTask(r.Context(), in)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	task, err := s.tasks.GetTask(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.tasks.DeleteTask(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpsertRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in service.RuleInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule, err := s.rules.Upsert(r.Context(), id, in)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRuleView(rule))
}

func (s *Server) handleGetTaskRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rule, err := s.rules.GetByTask(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRuleView(rule))
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rule, err := s.rules.Get(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRuleView(rule))
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.rules.Delete(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tasks, err := s.tasks.Instances(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

type previewResponse struct {
	Rule        ruleView                `json:"rule"`
	Occurrences []recurrence.Occurrence `json:"occurrences"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	rule, occs, ok := s.preview(w, r)
	if !ok {
		return
	}
	if occs == nil {
		occs = []recurrence.Occurrence{}
	}
	writeJSON(w, http.StatusOK, previewResponse{Rule: newRuleView(rule), Occurrences: occs})
}

func (s *Server) handlePreviewICS(w http.ResponseWriter, r *http.Request) {
	rule, occs, ok := s.preview(w, r)
	if !ok {
		return
	}
	title := ""
	if task, err := s.tasks.GetTask(r.Context(), rule.TaskID); err == nil {
		title = task.Title
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(BuildCalendar(rule, title, occs, time.Now())))
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request) (recurrence.Rule, []recurrence.Occurrence, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return recurrence.Rule{}, nil, false
	}
	days, err := queryInt(r, "days")
	if err != nil {
		writeError(w, http.StatusBadRequest, "days must be a number")
		return recurrence.Rule{}, nil, false
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a number")
		return recurrence.Rule{}, nil, false
	}
	rule, occs, err := s.rules.Preview(r.Context(), id, days, limit)
	if err != nil {
		s.fail(w, err)
		return recurrence.Rule{}, nil, false
	}
	return rule, occs, true
}

// fail maps the error taxonomy onto HTTP status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch recurrence.Kind(err) {
	case recurrence.KindInvalidRule, recurrence.KindInvalidInput:
		status = http.StatusBadRequest
	case recurrence.KindNotFound:
		status = http.StatusNotFound
	case recurrence.KindConflict:
		status = http.StatusConflict
	case recurrence.KindPersistence:
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeError(w, status, err.Error())
}

func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return uint(id), true
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
