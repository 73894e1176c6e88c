package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execagenda/internal/agenda"
	"execagenda/internal/config"
	"execagenda/internal/model"
	"execagenda/internal/recurrence"
	"execagenda/internal/scheduler"
	"execagenda/internal/store"
)

func seqIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

type fixture struct {
	cfg *config.Config
	svc *agenda.Service
	h   http.Handler
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.Export.Path = filepath.Join(t.TempDir(), "agenda.ics")
	cfg.Export.Cron = ""
	if mutate != nil {
		mutate(cfg)
	}

	gen := &recurrence.Generator{MaxOccurrences: 10, NewID: seqIDs()}
	svc := agenda.New(store.NewMemoryStore(), agenda.WithGenerator(gen))
	sched, err := scheduler.New(svc, cfg.Export, svc.Location())
	require.NoError(t, err)

	return &fixture{cfg: cfg, svc: svc, h: NewServer(cfg, svc, sched).Handler()}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const weeklySeries = `{
	"template": {"kind": "task", "title": "Weekly report", "owner_id": "ceo"},
	"rule": {"frequency": "weekly", "interval": 1, "days_of_week": [1], "count": 4},
	"anchor": "2025-01-06"
}`

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestCreateAndListSeries(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/activities", weeklySeries)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[createResponse](t, rec)
	require.Len(t, created.Activities, 4)
	require.NotEmpty(t, created.SeriesID)
	assert.Empty(t, created.Warning)

	rec = f.do(t, http.MethodGet, "/api/activities?from=2025-01-10&to=2025-01-25&owner=ceo", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listResponse](t, rec)
	require.Len(t, list.Activities, 2)
	assert.Equal(t, "2025-01-13", list.Activities[0].Date.Format(model.DateLayout))
	assert.Equal(t, "2025-01-20", list.Activities[1].Date.Format(model.DateLayout))
	assert.Equal(t, "UTC", list.Timezone)

	rec = f.do(t, http.MethodGet, "/api/series/"+created.SeriesID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[listResponse](t, rec).Activities, 4)

	rec = f.do(t, http.MethodGet, "/api/activities/"+created.Activities[0].ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[model.Activity](t, rec)
	assert.Equal(t, created.SeriesID, got.SeriesID)
	assert.Equal(t, "Weekly report", got.Title)
}

func TestCreateReportsTruncation(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"template": {"kind": "task", "title": "Daily"},
		"rule": {"frequency": "daily", "interval": 1, "end_date": "2025-12-31"},
		"anchor": "2025-01-01"}`

	rec := f.do(t, http.MethodPost, "/api/activities", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[createResponse](t, rec)
	assert.Len(t, created.Activities, 10)
	assert.NotEmpty(t, created.Warning)
}

func TestCreateRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)

	cases := map[string]string{
		"invalid rule":   `{"template": {"kind": "task", "title": "x"}, "rule": {"frequency": "weekly", "interval": 1, "count": 2}, "anchor": "2025-01-06"}`,
		"missing title":  `{"template": {"kind": "task"}, "anchor": "2025-01-06"}`,
		"bad anchor":     `{"template": {"kind": "task", "title": "x"}, "anchor": "06/01/2025"}`,
		"unknown field":  `{"template": {"kind": "task", "title": "x"}, "anchor": "2025-01-06", "extra": 1}`,
		"malformed JSON": `{"template":`,
		"event no times": `{"template": {"kind": "event", "title": "Board"}, "anchor": "2025-01-06"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/activities", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}

	rec := f.do(t, http.MethodGet, "/api/activities", "")
	assert.Empty(t, decode[listResponse](t, rec).Activities)
}

func TestPreviewDoesNotPersist(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/preview", weeklySeries)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p := decode[previewResponse](t, rec)
	assert.Len(t, p.Occurrences, 4)
	assert.False(t, p.Truncated)
	assert.Contains(t, p.RRule, "FREQ=WEEKLY")
	assert.Contains(t, p.RRule, "COUNT=4")

	rec = f.do(t, http.MethodGet, "/api/activities", "")
	assert.Empty(t, decode[listResponse](t, rec).Activities)

	rec = f.do(t, http.MethodPost, "/api/preview", `{"template": {"kind": "task", "title": "x"}, "anchor": "2025-01-06"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScopedUpdateAndDelete(t *testing.T) {
	f := newFixture(t, nil)
	created := decode[createResponse](t, f.do(t, http.MethodPost, "/api/activities", weeklySeries))
	third := created.Activities[2].ID

	// Future edit from the third member splits off a new series.
	rec := f.do(t, http.MethodPut, "/api/activities/"+third+"?scope=future",
		`{"template": {"kind": "task", "title": "Weekly report v2", "owner_id": "ceo"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[agenda.MutateResult](t, rec)
	require.Len(t, res.Changed, 2)
	assert.Len(t, res.Removed, 2)
	for _, a := range res.Changed {
		assert.Equal(t, "Weekly report v2", a.Title)
		assert.NotEqual(t, created.SeriesID, a.SeriesID)
	}

	// Single edit detaches the first member and moves it.
	first := created.Activities[0].ID
	rec = f.do(t, http.MethodPut, "/api/activities/"+first+"?scope=one",
		`{"template": {"kind": "task", "title": "Moved report"}, "date": "2025-01-07"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[agenda.MutateResult](t, rec).Changed
	require.Len(t, moved, 1)
	assert.Empty(t, moved[0].SeriesID)
	assert.Equal(t, "2025-01-07", moved[0].Date.Format(model.DateLayout))

	// Only the second member is still in the original series.
	rec = f.do(t, http.MethodDelete, "/api/activities/"+created.Activities[1].ID+"?scope=all", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{created.Activities[1].ID}, decode[agenda.MutateResult](t, rec).Removed)

	rec = f.do(t, http.MethodGet, "/api/activities", "")
	assert.Len(t, decode[listResponse](t, rec).Activities, 3)
}

func TestMutationErrorStatuses(t *testing.T) {
	f := newFixture(t, nil)
	solo := decode[createResponse](t, f.do(t, http.MethodPost, "/api/activities",
		`{"template": {"kind": "task", "title": "Solo"}, "anchor": "2025-02-01"}`)).Activities[0].ID

	rec := f.do(t, http.MethodDelete, "/api/activities/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/activities/"+solo+"?scope=sometimes", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/activities/"+solo+"?scope=all", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/series/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/activities?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalendarFeedAndExport(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Export.CalendarName = "Board office" })
	f.do(t, http.MethodPost, "/api/activities", weeklySeries)

	rec := f.do(t, http.MethodGet, "/calendar.ics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	body := rec.Body.String()
	assert.Contains(t, body, "X-WR-CALNAME:Board office")
	assert.Equal(t, 4, strings.Count(body, "BEGIN:VTODO"))
	assert.Contains(t, body, "RELATED-TO:")

	rec = f.do(t, http.MethodPost, "/api/export", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decode[scheduler.Status](t, rec)
	assert.Equal(t, 4, st.Activities)
	assert.Empty(t, st.LastError)
}

func TestBasicAuth(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "ea", Password: "secret"}
	})

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "").Code)

	rec := f.do(t, http.MethodGet, "/api/activities", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/api/activities", nil)
	req.SetBasicAuth("ea", "secret")
	ok := httptest.NewRecorder()
	f.h.ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/activities", nil)
	req.SetBasicAuth("ea", "wrong")
	bad := httptest.NewRecorder()
	f.h.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusUnauthorized, bad.Code)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.CORSOrigins = []string{"http://localhost:5173"} })

	req := httptest.NewRequest(http.MethodGet, "/api/activities", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/activities", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRunShutsDownOnCancel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	svc := agenda.New(store.NewMemoryStore())
	srv := NewServer(cfg, svc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("wrap: %w", recurrence.ErrInvalidRule)))
	assert.Equal(t, http.StatusBadRequest, statusFor(agenda.ErrInvalidTemplate))
	assert.Equal(t, http.StatusNotFound, statusFor(recurrence.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(recurrence.ErrNotRecurring))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
