package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"

	"execagenda/internal/agenda"
	"execagenda/internal/config"
	"execagenda/internal/ics"
	appLog "execagenda/internal/log"
	"execagenda/internal/model"
	"execagenda/internal/recurrence"
	"execagenda/internal/scheduler"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Server exposes the agenda over a small JSON API plus an ICS feed.
type Server struct {
	cfg   *config.Config
	svc   *agenda.Service
	sched *scheduler.Scheduler
	mux   *http.ServeMux
}

// NewServer constructs a new Server. sched may be nil, in which case the
// export endpoints answer 503.
func NewServer(cfg *config.Config, svc *agenda.Service, sched *scheduler.Scheduler) *Server {
	s := &Server{
		cfg:   cfg,
		svc:   svc,
		sched: sched,
		mux:   http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the mux wrapped in basic auth and CORS when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	if s.cfg != nil && len(s.cfg.CORSOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins:   s.cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
		})
		h = c.Handler(h)
	}
	return h
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	appLog.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Preflight requests carry no credentials.
		if r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="execagenda", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/activities", s.handleList)
	s.mux.HandleFunc("POST /api/activities", s.handleCreate)
	s.mux.HandleFunc("GET /api/activities/{id}", s.handleGet)
	s.mux.HandleFunc("PUT /api/activities/{id}", s.handleUpdate)
	s.mux.HandleFunc("DELETE /api/activities/{id}", s.handleDelete)
	s.mux.HandleFunc("GET /api/series/{id}", s.handleSeries)
	s.mux.HandleFunc("POST /api/preview", s.handlePreview)

	s.mux.HandleFunc("GET /api/export", s.handleExportStatus)
	s.mux.HandleFunc("POST /api/export", s.handleExportRun)
	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendar)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// activityRequest is the body of POST /api/activities, POST /api/preview
// and PUT /api/activities/{id}. Anchor and Date are YYYY-MM-DD in the
// reference calendar.
type activityRequest struct {
	Template model.Template        `json:"template"`
	Rule     *model.RecurrenceRule `json:"rule,omitempty"`
	Anchor   string                `json:"anchor,omitempty"`
	Date     string                `json:"date,omitempty"`
}

type listResponse struct {
	Activities []model.Activity `json:"activities"`
	Timezone   string           `json:"timezone"`
}

type createResponse struct {
	Activities []model.Activity `json:"activities"`
	SeriesID   string           `json:"series_id,omitempty"`
	Warning    string           `json:"warning,omitempty"`
}

type previewResponse struct {
	SeriesID    string           `json:"series_id"`
	Occurrences []model.Activity `json:"occurrences"`
	RRule       string           `json:"rrule,omitempty"`
	Truncated   bool             `json:"truncated"`
	Warning     string           `json:"warning,omitempty"`
}

// handleList returns the agenda, optionally narrowed.
//
// GET /api/activities?from=2025-01-01&to=2025-01-31&owner=ceo&kind=event&series=<id>
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loc := s.svc.Location()

	var f agenda.Filter
	var err error
	if f.From, err = parseOptionalDate(q.Get("from"), loc); err != nil {
		writeError(w, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	if f.To, err = parseOptionalDate(q.Get("to"), loc); err != nil {
		writeError(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		writeError(w, http.StatusBadRequest, "to is before from")
		return
	}
	f.OwnerID = q.Get("owner")
	f.Kind = model.Kind(q.Get("kind"))
	f.SeriesID = q.Get("series")

	out, err := s.svc.List(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Activities: out, Timezone: loc.String()})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	members, err := s.svc.Series(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Activities: members, Timezone: s.svc.Location().String()})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	anchor, err := parseOptionalDate(req.Anchor, s.svc.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "anchor: "+err.Error())
		return
	}

	res, err := s.svc.Create(r.Context(), req.Template, req.Rule, anchor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := createResponse{Activities: res.Activities, SeriesID: res.SeriesID}
	if res.Warning != nil {
		resp.Warning = res.Warning.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Rule == nil {
		writeError(w, http.StatusBadRequest, "rule is required")
		return
	}
	anchor, err := parseOptionalDate(req.Anchor, s.svc.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "anchor: "+err.Error())
		return
	}

	series, err := s.svc.Preview(req.Template, *req.Rule, anchor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := previewResponse{
		SeriesID:    series.ID,
		Occurrences: series.Occurrences,
		Truncated:   series.Truncated,
	}
	if series.Warning != nil {
		resp.Warning = series.Warning.Error()
	}
	if len(series.Occurrences) > 0 {
		if rr, err := recurrence.RRuleString(*req.Rule, series.Occurrences[0].Anchor); err == nil {
			resp.RRule = rr
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUpdate replaces the template (and optionally the rule) of the
// activities selected by ?scope=one|future|all.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	scope, err := recurrence.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req activityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	op := recurrence.ReplaceWith(req.Template, req.Rule)
	if req.Date != "" {
		day, err := model.ParseDate(req.Date, s.svc.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "date: "+err.Error())
			return
		}
		op = op.OnDate(day)
	}
	s.mutate(w, r, scope, op)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	scope, err := recurrence.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.mutate(w, r, scope, recurrence.Delete())
}

func (s *Server) mutate(w http.ResponseWriter, r *http.Request, scope recurrence.Scope, op recurrence.Operation) {
	res, err := s.svc.Mutate(r.Context(), r.PathValue("id"), scope, op)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	all, err := s.svc.All(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	opts := ics.ExportOptions{Location: s.svc.Location()}
	if s.cfg != nil {
		opts.CalendarName = s.cfg.Export.CalendarName
	}
	body := ics.Export(all, opts)

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="agenda.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func (s *Server) handleExportStatus(w http.ResponseWriter, _ *http.Request) {
	if s.sched == nil {
		writeError(w, http.StatusServiceUnavailable, "export scheduler not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.sched.Status())
}

// handleExportRun writes the ICS snapshot immediately.
func (s *Server) handleExportRun(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeError(w, http.StatusServiceUnavailable, "export scheduler not configured")
		return
	}
	if _, err := s.sched.RunOnce(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sched.Status())
}

// fail maps domain errors onto HTTP statuses and logs server-side faults.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		appLog.Error("api request failed", err, "method", r.Method, "path", r.URL.Path)
		writeError(w, status, "internal error")
		return
	}
	appLog.Debug("api request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "reason", err.Error())
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, recurrence.ErrInvalidRule),
		errors.Is(err, agenda.ErrInvalidTemplate),
		errors.Is(err, recurrence.ErrInvalidScope),
		errors.Is(err, recurrence.ErrInvalidOperation):
		return http.StatusBadRequest
	case errors.Is(err, recurrence.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, recurrence.ErrNotRecurring):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

func parseOptionalDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	return model.ParseDate(s, loc)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
