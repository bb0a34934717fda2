// Package api exposes the operator JSON surface: job CRUD, immediate
// runs, and the execution history.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"webcron/internal/dispatch"
	"webcron/internal/domain"
	"webcron/internal/schedule"
	"webcron/internal/store"
)

// Scheduler is the dispatcher surface the API drives.
type Scheduler interface {
	Register(job domain.Job) error
	Unregister(jobID string)
	RunNow(ctx context.Context, jobID string) (domain.Outcome, error)
	ListActive() []string
}

// History is the recorder surface the API reads.
type History interface {
	List(ctx context.Context, limit int) ([]domain.HistoryRecord, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context, jobID string) (domain.Stats, error)
}

type Server struct {
	r     *chi.Mux
	jobs  *store.Store
	sched Scheduler
	hist  History
}

func NewServer(jobs *store.Store, sched Scheduler, hist History) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, jobs: jobs, sched: sched, hist: hist}

	r.Get("/health", s.health)
	r.Post("/api/jobs", s.createJob)
	r.Get("/api/jobs", s.listJobs)
	r.Get("/api/jobs/{id}", s.getJob)
	r.Delete("/api/jobs/{id}", s.deleteJob)
	r.Post("/api/jobs/{id}/run", s.runJob)
	r.Post("/api/jobs/{id}/pause", s.pauseJob)
	r.Post("/api/jobs/{id}/resume", s.resumeJob)
	r.Get("/api/jobs/{id}/stats", s.jobStats)
	r.Get("/api/history", s.listHistory)
	r.Delete("/api/history", s.clearHistory)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type createJobReq struct {
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body"`
	ContentType string            `json:"content_type"`
	CronSpec    string            `json:"cron_spec"`
}

type createJobResp struct {
	ID string `json:"id"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Name == "" || req.URL == "" || req.CronSpec == "" {
		http.Error(w, "name, url and cron_spec are required", 400)
		return
	}
	// Reject a malformed spec synchronously; it must never be scheduled.
	if _, err := schedule.Parse(req.CronSpec); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Method == "" {
		req.Method = "GET"
	}

	job := domain.Job{
		Name:        req.Name,
		URL:         req.URL,
		Method:      req.Method,
		Headers:     req.Headers,
		Body:        []byte(req.Body),
		ContentType: req.ContentType,
		CronSpec:    req.CronSpec,
		Active:      true,
	}
	id, err := s.jobs.Create(r.Context(), job)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	job.ID = id
	if err := s.sched.Register(job); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	writeJSON(w, http.StatusCreated, createJobResp{ID: id})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	registered := make(map[string]bool)
	for _, id := range s.sched.ListActive() {
		registered[id] = true
	}
	out := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobView(j, registered[j.ID]))
	}
	writeJSON(w, 200, out)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "not found", 404)
		return
	}
	registered := false
	for _, id := range s.sched.ListActive() {
		if id == j.ID {
			registered = true
		}
	}
	writeJSON(w, 200, jobView(j, registered))
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.sched.Unregister(id)
	if err := s.jobs.Delete(r.Context(), id); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) runJob(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.sched.RunNow(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", 404)
		return
	case errors.Is(err, dispatch.ErrJobBusy):
		http.Error(w, err.Error(), 409)
		return
	case err != nil:
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, outcomeView(outcome))
}

func (s *Server) pauseJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.jobs.SetActive(r.Context(), id, false); err != nil {
		http.Error(w, "not found", 404)
		return
	}
	s.sched.Unregister(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.jobs.SetActive(r.Context(), id, true); err != nil {
		http.Error(w, "not found", 404)
		return
	}
	j, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "not found", 404)
		return
	}
	if err := s.sched.Register(j); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) jobStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.hist.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, st)
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", 400)
			return
		}
		limit = n
	}
	records, err := s.hist.List(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if records == nil {
		records = []domain.HistoryRecord{}
	}
	writeJSON(w, 200, records)
}

func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.hist.Clear(r.Context()); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func jobView(j domain.Job, registered bool) map[string]any {
	v := map[string]any{
		"id":          j.ID,
		"name":        j.Name,
		"url":         j.URL,
		"method":      j.Method,
		"headers":     j.Headers,
		"cron_spec":   j.CronSpec,
		"active":      j.Active,
		"registered":  registered,
		"created_at":  j.CreatedAt.Format(time.RFC3339),
		"last_status": j.LastStatus,
	}
	if j.LastRun != nil {
		v["last_run"] = j.LastRun.Format(time.RFC3339)
	}
	return v
}

func outcomeView(o domain.Outcome) map[string]any {
	v := map[string]any{
		"job_id":     o.JobID,
		"started_at": o.StartedAt.Format(time.RFC3339),
		"duration":   o.Duration.String(),
		"success":    o.Success,
	}
	if o.StatusCode != 0 {
		v["status_code"] = o.StatusCode
	}
	if o.ErrorKind != domain.ErrorNone {
		v["error_kind"] = string(o.ErrorKind)
	}
	if o.ErrorMessage != "" {
		v["error_message"] = o.ErrorMessage
	}
	if o.ResponseExcerpt != "" {
		v["response_excerpt"] = o.ResponseExcerpt
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
