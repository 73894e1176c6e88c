// Package scheduler writes the ICS snapshot of the agenda on a cron
// schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"execagenda/internal/config"
	"execagenda/internal/fsutil"
	"execagenda/internal/ics"
	appLog "execagenda/internal/log"
	"execagenda/internal/model"
)

// Source lists the activities to export. *agenda.Service satisfies it.
type Source interface {
	All(ctx context.Context) ([]model.Activity, error)
}

// Status is the outcome of the most recent export.
type Status struct {
	LastRun    time.Time `json:"last_run,omitzero"`
	LastError  string    `json:"last_error,omitempty"`
	Activities int       `json:"activities"`
	Next       time.Time `json:"next,omitzero"`
}

// Scheduler runs the export job. A zero Cron in the config disables the
// schedule; RunOnce still works.
type Scheduler struct {
	src  Source
	cfg  config.ExportConfig
	loc  *time.Location
	cron *cron.Cron

	mu     sync.Mutex
	status Status
	entry  cron.EntryID
}

// New validates cfg.Cron and prepares (but does not start) the schedule.
func New(src Source, cfg config.ExportConfig, loc *time.Location) (*Scheduler, error) {
	if src == nil {
		return nil, errors.New("scheduler: nil source")
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("scheduler: export path is empty")
	}
	if loc == nil {
		loc = time.UTC
	}

	s := &Scheduler{src: src, cfg: cfg, loc: loc}
	if cfg.Cron == "" {
		return s, nil
	}
	if _, err := cron.ParseStandard(cfg.Cron); err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron %q: %w", cfg.Cron, err)
	}

	logger := cronLogger{}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return s, nil
}

// Start schedules the export job. The job stops using ctx once Stop is
// called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cron == nil {
		appLog.Info("scheduler: export schedule disabled")
		return nil
	}
	id, err := s.cron.AddFunc(s.cfg.Cron, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.RunOnce(ctx); err != nil {
			appLog.Error("scheduler: export failed", err, "path", s.cfg.Path)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler: add job: %w", err)
	}

	s.mu.Lock()
	s.entry = id
	s.mu.Unlock()

	s.cron.Start()
	appLog.Info("scheduler: export scheduled", "cron", s.cfg.Cron, "path", s.cfg.Path, "timezone", s.loc.String())
	return nil
}

// Stop halts the schedule and waits for a running export to finish or ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		appLog.Warn("scheduler: stop timed out waiting for export")
	}
}

// RunOnce exports the current agenda to cfg.Path and returns the number of
// activities written.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	started := time.Now()
	all, err := s.src.All(ctx)
	if err == nil {
		body := ics.Export(all, ics.ExportOptions{
			CalendarName: s.cfg.CalendarName,
			Location:     s.loc,
			Now:          started,
		})
		err = fsutil.WriteFileAtomic(s.cfg.Path, []byte(body), 0o644)
	}

	s.mu.Lock()
	s.status.LastRun = started
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	} else {
		s.status.Activities = len(all)
	}
	s.mu.Unlock()

	if err != nil {
		return 0, fmt.Errorf("export agenda: %w", err)
	}
	appLog.Info("scheduler: export written",
		"path", s.cfg.Path,
		"activities", len(all),
		"elapsed", time.Since(started).String(),
	)
	return len(all), nil
}

// Status reports the last run and the next scheduled one.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	if s.cron != nil && s.entry != 0 {
		st.Next = s.cron.Entry(s.entry).Next
	}
	return st
}

// cronLogger routes cron's internal logging through the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
