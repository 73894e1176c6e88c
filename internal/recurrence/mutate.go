package recurrence

import (
	"fmt"
	"time"

	"execagenda/internal/model"
)

// Scope is the breadth of a series mutation.
type Scope string

const (
	ScopeOne    Scope = "one"
	ScopeFuture Scope = "future"
	ScopeAll    Scope = "all"
)

// ParseScope accepts "one", "future" and "all"; an empty string means "one".
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeOne:
		return ScopeOne, nil
	case ScopeFuture, ScopeAll:
		return Scope(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidScope, s)
	}
}

// OpKind says whether an Operation deletes or replaces.
type OpKind string

const (
	OpDelete  OpKind = "delete"
	OpReplace OpKind = "replace"
)

// Operation is what a mutation does to the activities in scope.
type Operation struct {
	Kind     OpKind
	Template model.Template
	// Rule replaces the series rule for future/all edits. When nil the
	// members' rule snapshot is reused.
	Rule *model.RecurrenceRule
	// Date moves a single edited activity (scope one or a standalone
	// activity) to another day. Zero keeps the current date.
	Date time.Time
}

// Delete removes the activities in scope.
func Delete() Operation {
	return Operation{Kind: OpDelete}
}

// ReplaceWith rewrites the activities in scope from tmpl and, if non-nil, rule.
func ReplaceWith(tmpl model.Template, rule *model.RecurrenceRule) Operation {
	return Operation{Kind: OpReplace, Template: tmpl, Rule: rule}
}

// OnDate returns a copy of op that moves the edited activity to day.
func (op Operation) OnDate(day time.Time) Operation {
	op.Date = day
	return op
}

// Mutator applies scoped edits and deletes to a flat activity collection.
type Mutator struct {
	gen *Generator
}

// NewMutator uses gen to regenerate series; nil means the default generator.
func NewMutator(gen *Generator) *Mutator {
	if gen == nil {
		gen = defaultGenerator
	}
	return &Mutator{gen: gen}
}

var defaultMutator = NewMutator(nil)

// Mutate applies op with the default mutator.
func Mutate(all []model.Activity, targetID string, scope Scope, op Operation) ([]model.Activity, error) {
	return defaultMutator.Apply(all, targetID, scope, op)
}

// Apply returns the complete replacement for all after applying op to the
// activities selected by targetID and scope. all itself is never modified
// and activities outside the scope are carried over unchanged, in order.
//
// An unknown target yields ErrNotFound. A "future" or "all" scope on a
// standalone activity returns all unchanged together with ErrNotRecurring.
func (m *Mutator) Apply(all []model.Activity, targetID string, scope Scope, op Operation) ([]model.Activity, error) {
	switch scope {
	case ScopeOne, ScopeFuture, ScopeAll:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	if op.Kind != OpDelete && op.Kind != OpReplace {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, op.Kind)
	}

	idx := indexOf(all, targetID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, targetID)
	}
	target := all[idx]

	if !target.Recurring() {
		if scope != ScopeOne {
			return all, fmt.Errorf("%w: %s", ErrNotRecurring, targetID)
		}
		return m.applyOne(all, idx, op), nil
	}

	switch scope {
	case ScopeOne:
		return m.applyOne(all, idx, op), nil
	case ScopeFuture:
		if isSeriesStart(target) {
			return m.applyAll(all, target, op)
		}
		return m.applyFuture(all, target, op)
	default:
		return m.applyAll(all, target, op)
	}
}

func (m *Mutator) applyOne(all []model.Activity, idx int, op Operation) []model.Activity {
	out := make([]model.Activity, 0, len(all))
	for i, a := range all {
		if i != idx {
			out = append(out, a)
			continue
		}
		if op.Kind == OpReplace {
			out = append(out, detach(a, op))
		}
	}
	return out
}

// detach turns an occurrence into a standalone activity with op's values.
func detach(a model.Activity, op Operation) model.Activity {
	day := a.Date
	if !op.Date.IsZero() {
		day = model.DateOnly(op.Date)
	}
	out := model.Activity{
		ID:       a.ID,
		Date:     day,
		Template: op.Template.Clone(),
	}
	if out.Kind == model.KindEvent && !out.StartTime.IsZero() {
		out.Start = model.At(day, out.StartTime)
		out.End = out.Start.Add(out.Duration())
	}
	return out
}

func (m *Mutator) applyFuture(all []model.Activity, target model.Activity, op Operation) ([]model.Activity, error) {
	inScope := func(a model.Activity) bool {
		return a.SeriesID == target.SeriesID && !a.Date.Before(target.Date)
	}
	if op.Kind == OpDelete {
		return replaceRange(all, inScope, nil), nil
	}

	// The continuation always gets a new series id so earlier occurrences
	// stay unambiguous for later mutations.
	var (
		series Series
		err    error
	)
	if op.Rule == nil {
		// Same schedule, cut at the target: keep counting from the anchor.
		rule, rerr := ruleFor(op, target)
		if rerr != nil {
			return nil, rerr
		}
		series, err = m.gen.generate(m.gen.newID(), op.Template, rule, seriesAnchor(all, target), target.Date)
	} else {
		series, err = m.gen.Generate(op.Template, op.Rule.Clone(), target.Date)
	}
	if err != nil {
		return nil, fmt.Errorf("regenerate future occurrences: %w", err)
	}
	return replaceRange(all, inScope, series.Occurrences), nil
}

func (m *Mutator) applyAll(all []model.Activity, target model.Activity, op Operation) ([]model.Activity, error) {
	inScope := func(a model.Activity) bool {
		return a.SeriesID == target.SeriesID
	}
	if op.Kind == OpDelete {
		return replaceRange(all, inScope, nil), nil
	}

	rule, err := ruleFor(op, target)
	if err != nil {
		return nil, err
	}
	series, err := m.gen.generate(target.SeriesID, op.Template, rule, seriesAnchor(all, target), target.SeriesStart)
	if err != nil {
		return nil, fmt.Errorf("regenerate series: %w", err)
	}
	return replaceRange(all, inScope, series.Occurrences), nil
}

func ruleFor(op Operation, target model.Activity) (model.RecurrenceRule, error) {
	if op.Rule != nil {
		return op.Rule.Clone(), nil
	}
	if target.Rule == nil {
		return model.RecurrenceRule{}, invalid("rule", "series %s carries no rule snapshot", target.SeriesID)
	}
	return target.Rule.Clone(), nil
}

// seriesAnchor prefers the anchor stamped on the members and falls back to
// the earliest remaining occurrence.
func seriesAnchor(all []model.Activity, target model.Activity) time.Time {
	if !target.Anchor.IsZero() {
		return target.Anchor
	}
	anchor := target.Date
	for _, a := range all {
		if a.SeriesID == target.SeriesID && a.Date.Before(anchor) {
			anchor = a.Date
		}
	}
	return anchor
}

// isSeriesStart reports whether target sits on the first date of its
// series' schedule, whether or not that date's siblings were removed since.
func isSeriesStart(target model.Activity) bool {
	if target.Rule == nil || target.Anchor.IsZero() {
		return false
	}
	start := model.DateOnly(target.Anchor)
	first := expandDates(*target.Rule, start, target.SeriesStart, 1)
	return len(first) == 1 && first[0].Equal(target.Date)
}

// replaceRange drops every activity matching inScope and inserts repl where
// the first dropped activity was.
func replaceRange(all []model.Activity, inScope func(model.Activity) bool, repl []model.Activity) []model.Activity {
	out := make([]model.Activity, 0, len(all)+len(repl))
	inserted := false
	for _, a := range all {
		if !inScope(a) {
			out = append(out, a)
			continue
		}
		if !inserted {
			out = append(out, repl...)
			inserted = true
		}
	}
	return out
}

func indexOf(all []model.Activity, id string) int {
	for i, a := range all {
		if a.ID == id {
			return i
		}
	}
	return -1
}
