// Package agenda is the application service over the recurrence engine: it
// loads the activity collection from a store, applies creations and scoped
// mutations, and writes the whole collection back.
package agenda

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "execagenda/internal/log"
	"execagenda/internal/model"
	"execagenda/internal/recurrence"
	"execagenda/internal/store"
)

// ErrInvalidTemplate is returned for templates missing required fields.
var ErrInvalidTemplate = errors.New("invalid activity template")

// Service serialises every load, transform and replace cycle so concurrent
// requests never interleave on the same collection.
type Service struct {
	store store.Store
	gen   *recurrence.Generator
	mut   *recurrence.Mutator
	loc   *time.Location

	mu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithGenerator replaces the default generator (cap and id source).
func WithGenerator(g *recurrence.Generator) Option {
	return func(s *Service) { s.gen = g }
}

// WithLocation sets the reference calendar dates are computed in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// New returns a Service over st, using UTC and the default generator unless
// opts say otherwise.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, loc: time.UTC}
	for _, opt := range opts {
		opt(s)
	}
	if s.gen == nil {
		s.gen = recurrence.NewGenerator(recurrence.DefaultMaxOccurrences)
	}
	s.mut = recurrence.NewMutator(s.gen)
	return s
}

// Location returns the reference calendar.
func (s *Service) Location() *time.Location { return s.loc }

// CreateResult describes what Create stored.
type CreateResult struct {
	Activities []model.Activity `json:"activities"`
	SeriesID   string           `json:"series_id,omitempty"`
	// Warning is ErrSeriesBoundsExceeded when the series was truncated.
	Warning error `json:"-"`
}

// Create stores a standalone activity when rule is nil, or a whole series
// otherwise. A series is either stored completely or not at all.
func (s *Service) Create(ctx context.Context, tmpl model.Template, rule *model.RecurrenceRule, anchor time.Time) (CreateResult, error) {
	tmpl, err := s.prepareTemplate(tmpl)
	if err != nil {
		return CreateResult{}, err
	}
	anchor = s.localAnchor(tmpl, anchor)

	var res CreateResult
	if rule == nil {
		if anchor.IsZero() {
			return CreateResult{}, fmt.Errorf("%w: anchor date is required", ErrInvalidTemplate)
		}
		res.Activities = []model.Activity{s.standalone(tmpl, anchor)}
	} else {
		series, err := s.gen.Generate(tmpl, *rule, anchor)
		if err != nil {
			return CreateResult{}, err
		}
		res = CreateResult{Activities: series.Occurrences, SeriesID: series.ID, Warning: series.Warning}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load(ctx)
	if err != nil {
		return CreateResult{}, err
	}
	if err := s.store.ReplaceAll(ctx, append(all, res.Activities...)); err != nil {
		return CreateResult{}, fmt.Errorf("persist created activities: %w", err)
	}

	appLog.Info("agenda: created",
		"title", tmpl.Title,
		"series_id", res.SeriesID,
		"activities", len(res.Activities),
	)
	return res, nil
}

// Preview generates a series without storing it.
func (s *Service) Preview(tmpl model.Template, rule model.RecurrenceRule, anchor time.Time) (recurrence.Series, error) {
	tmpl, err := s.prepareTemplate(tmpl)
	if err != nil {
		return recurrence.Series{}, err
	}
	return s.gen.Generate(tmpl, rule, s.localAnchor(tmpl, anchor))
}

// MutateResult summarises a mutation.
type MutateResult struct {
	// Changed holds activities that were added or modified, in collection order.
	Changed []model.Activity `json:"changed"`
	// Removed lists ids that no longer exist.
	Removed []string `json:"removed"`
}

// Mutate applies op to the activities selected by targetID and scope and
// persists the result. Nothing is written when the mutation fails.
func (s *Service) Mutate(ctx context.Context, targetID string, scope recurrence.Scope, op recurrence.Operation) (MutateResult, error) {
	if op.Kind == recurrence.OpReplace {
		tmpl, err := s.prepareTemplate(op.Template)
		if err != nil {
			return MutateResult{}, err
		}
		op.Template = tmpl
		if !op.Date.IsZero() {
			op.Date = model.DateOnly(op.Date.In(s.loc))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load(ctx)
	if err != nil {
		return MutateResult{}, err
	}
	out, err := s.mut.Apply(all, targetID, scope, op)
	if err != nil {
		return MutateResult{}, err
	}
	if err := s.store.ReplaceAll(ctx, out); err != nil {
		return MutateResult{}, fmt.Errorf("persist mutation: %w", err)
	}

	res := diff(all, out)
	appLog.Info("agenda: mutated",
		"target", targetID,
		"scope", scope,
		"op", op.Kind,
		"changed", len(res.Changed),
		"removed", len(res.Removed),
	)
	return res, nil
}

// Filter narrows List. Zero fields match everything; From and To are
// inclusive calendar dates.
type Filter struct {
	From     time.Time
	To       time.Time
	OwnerID  string
	Kind     model.Kind
	SeriesID string
}

func (f Filter) match(a model.Activity) bool {
	if !f.From.IsZero() && a.Date.Before(model.DateOnly(f.From)) {
		return false
	}
	if !f.To.IsZero() && a.Date.After(model.DateOnly(f.To)) {
		return false
	}
	if f.OwnerID != "" && a.OwnerID != f.OwnerID {
		return false
	}
	if f.Kind != "" && a.Kind != f.Kind {
		return false
	}
	if f.SeriesID != "" && a.SeriesID != f.SeriesID {
		return false
	}
	return true
}

// List returns matching activities ordered by date, then start time.
// It reads without s.mu since Store implementations are safe for concurrent use.
func (s *Service) List(ctx context.Context, f Filter) ([]model.Activity, error) {
	if !f.From.IsZero() {
		f.From = f.From.In(s.loc)
	}
	if !f.To.IsZero() {
		f.To = f.To.In(s.loc)
	}

	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Activity, 0, len(all))
	for _, a := range all {
		if f.match(a) {
			out = append(out, a)
		}
	}
	sortAgenda(out)
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (model.Activity, error) {
	a, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Activity{}, fmt.Errorf("%w: %s", recurrence.ErrNotFound, id)
	}
	if err != nil {
		return model.Activity{}, err
	}
	return relocate(a, s.loc), nil
}

// Series returns the members of seriesID in date order.
func (s *Service) Series(ctx context.Context, seriesID string) ([]model.Activity, error) {
	members, err := s.List(ctx, Filter{SeriesID: seriesID})
	if err != nil {
		return nil, err
	}
	if seriesID == "" || len(members) == 0 {
		return nil, fmt.Errorf("%w: series %s", recurrence.ErrNotFound, seriesID)
	}
	return members, nil
}

// All returns the collection in date order.
func (s *Service) All(ctx context.Context) ([]model.Activity, error) {
	return s.List(ctx, Filter{})
}

func (s *Service) load(ctx context.Context) ([]model.Activity, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load activities: %w", err)
	}
	for i := range all {
		all[i] = relocate(all[i], s.loc)
	}
	return all, nil
}

func (s *Service) standalone(tmpl model.Template, anchor time.Time) model.Activity {
	day := model.DateOnly(anchor)
	a := model.Activity{ID: s.newID(), Date: day, Template: tmpl}
	if tmpl.Kind == model.KindEvent && !tmpl.StartTime.IsZero() {
		a.Start = model.At(day, tmpl.StartTime)
		a.End = a.Start.Add(tmpl.Duration())
	}
	return a
}

func (s *Service) newID() string {
	if s.gen != nil && s.gen.NewID != nil {
		return s.gen.NewID()
	}
	return uuid.NewString()
}

// localAnchor moves anchor into the reference calendar. Events without an
// anchor fall back to their start time.
func (s *Service) localAnchor(tmpl model.Template, anchor time.Time) time.Time {
	if anchor.IsZero() && tmpl.Kind == model.KindEvent {
		anchor = tmpl.StartTime
	}
	if anchor.IsZero() {
		return anchor
	}
	return model.DateOnly(anchor.In(s.loc))
}

// prepareTemplate checks required fields, fills task defaults and moves
// event clock times into the reference calendar.
func (s *Service) prepareTemplate(tmpl model.Template) (model.Template, error) {
	tmpl.Title = strings.TrimSpace(tmpl.Title)
	if tmpl.Title == "" {
		return tmpl, fmt.Errorf("%w: title is required", ErrInvalidTemplate)
	}

	switch tmpl.Kind {
	case model.KindTask:
		if tmpl.Priority == "" {
			tmpl.Priority = model.PriorityMedium
		}
		if tmpl.Status == "" {
			tmpl.Status = model.StatusTodo
		}
		switch tmpl.Priority {
		case model.PriorityHigh, model.PriorityMedium, model.PriorityLow:
		default:
			return tmpl, fmt.Errorf("%w: unknown priority %q", ErrInvalidTemplate, tmpl.Priority)
		}
		switch tmpl.Status {
		case model.StatusTodo, model.StatusInProgress, model.StatusDone:
		default:
			return tmpl, fmt.Errorf("%w: unknown status %q", ErrInvalidTemplate, tmpl.Status)
		}
	case model.KindEvent:
		if tmpl.StartTime.IsZero() || tmpl.EndTime.IsZero() {
			return tmpl, fmt.Errorf("%w: events need start_time and end_time", ErrInvalidTemplate)
		}
		if tmpl.EndTime.Before(tmpl.StartTime) {
			return tmpl, fmt.Errorf("%w: end_time before start_time", ErrInvalidTemplate)
		}
		if tmpl.ReminderMinutes != nil && *tmpl.ReminderMinutes < 0 {
			return tmpl, fmt.Errorf("%w: reminder_minutes must not be negative", ErrInvalidTemplate)
		}
		tmpl.StartTime = tmpl.StartTime.In(s.loc)
		tmpl.EndTime = tmpl.EndTime.In(s.loc)
	default:
		return tmpl, fmt.Errorf("%w: unknown kind %q", ErrInvalidTemplate, tmpl.Kind)
	}
	return tmpl, nil
}

// relocate re-attaches stored instants to the reference calendar; decoded
// times only carry a fixed offset.
func relocate(a model.Activity, loc *time.Location) model.Activity {
	in := func(t time.Time) time.Time {
		if t.IsZero() {
			return t
		}
		return t.In(loc)
	}
	a.Date = in(a.Date)
	a.Anchor = in(a.Anchor)
	a.SeriesStart = in(a.SeriesStart)
	a.Start = in(a.Start)
	a.End = in(a.End)
	a.StartTime = in(a.StartTime)
	a.EndTime = in(a.EndTime)
	return a
}

func sortAgenda(as []model.Activity) {
	slices.SortStableFunc(as, func(a, b model.Activity) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.Title, b.Title)
	})
}

// diff reports activities of after that are new or differ from before, and
// ids of before that are gone.
func diff(before, after []model.Activity) MutateResult {
	prev := make(map[string]model.Activity, len(before))
	for _, a := range before {
		prev[a.ID] = a
	}
	res := MutateResult{Changed: []model.Activity{}, Removed: []string{}}
	seen := make(map[string]bool, len(after))
	for _, a := range after {
		seen[a.ID] = true
		if old, ok := prev[a.ID]; !ok || !reflect.DeepEqual(old, a) {
			res.Changed = append(res.Changed, a)
		}
	}
	for _, a := range before {
		if !seen[a.ID] {
			res.Removed = append(res.Removed, a.ID)
		}
	}
	return res
}
