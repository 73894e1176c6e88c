package ics

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "execagenda/internal/log"
	"execagenda/internal/model"
	"execagenda/internal/recurrence"
)

// DefaultHorizonDays bounds imported rules that carry neither COUNT nor
// UNTIL.
const DefaultHorizonDays = 365

// ImportOptions controls how components become activities.
type ImportOptions struct {
	// Location is the reference calendar; floating times are read in it.
	Location *time.Location
	// OwnerID is assigned to every imported activity.
	OwnerID string
	// HorizonDays bounds unbounded RRULEs (end date = anchor + horizon).
	HorizonDays int
}

// Candidate is one importable activity or series.
type Candidate struct {
	UID      string
	Template model.Template
	// Rule is nil for single activities.
	Rule   *model.RecurrenceRule
	Anchor time.Time
	// Bounded is set when an unbounded RRULE was given an end date.
	Bounded bool
}

// Skipped records a component that was not imported.
type Skipped struct {
	UID    string
	Reason string
}

type ImportResult struct {
	Candidates []Candidate
	Skipped    []Skipped
}

// ParseImport reads an iCalendar payload. VEVENTs with a time range become
// events, all-day VEVENTs and VTODOs become tasks. RRULEs outside the
// supported subset, RECURRENCE-ID overrides and components without a start
// are skipped and reported rather than failing the whole import.
func ParseImport(body []byte, opts ImportOptions) (ImportResult, error) {
	if len(body) == 0 {
		return ImportResult{}, errors.New("empty ICS body")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = DefaultHorizonDays
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return ImportResult{}, fmt.Errorf("ics parse failed: %w", err)
	}

	var res ImportResult
	collect := func(uid string, c Candidate, err error) {
		if err != nil {
			appLog.Warn("ics import: component skipped", "uid", uid, "reason", err.Error())
			res.Skipped = append(res.Skipped, Skipped{UID: uid, Reason: err.Error()})
			return
		}
		res.Candidates = append(res.Candidates, c)
	}

	for _, ev := range cal.Events() {
		uid := propValue(&ev.ComponentBase, ical.ComponentPropertyUniqueId)
		c, err := eventCandidate(ev, opts)
		collect(uid, c, err)
	}
	for _, todo := range cal.Todos() {
		uid := propValue(&todo.ComponentBase, ical.ComponentPropertyUniqueId)
		c, err := todoCandidate(todo, opts)
		collect(uid, c, err)
	}

	appLog.Info("ics import parsed", "candidates", len(res.Candidates), "skipped", len(res.Skipped))
	return res, nil
}

func eventCandidate(ev *ical.VEvent, opts ImportOptions) (Candidate, error) {
	cb := &ev.ComponentBase
	if cb.GetProperty(ical.ComponentPropertyRecurrenceId) != nil {
		return Candidate{}, errors.New("recurrence overrides are not supported")
	}
	c := Candidate{
		UID:      propValue(cb, ical.ComponentPropertyUniqueId),
		Template: baseTemplate(cb, opts),
	}

	if isAllDay(cb.GetProperty(ical.ComponentPropertyDtStart)) {
		day, err := cb.GetAllDayStartAt()
		if err != nil {
			return Candidate{}, fmt.Errorf("DTSTART: %w", err)
		}
		c.Template.Kind = model.KindTask
		c.Template.Priority = model.PriorityMedium
		c.Template.Status = model.StatusTodo
		c.Anchor = floatingDate(day, opts.Location)
	} else {
		start, err := cb.GetStartAt()
		if err != nil {
			return Candidate{}, fmt.Errorf("DTSTART: %w", err)
		}
		start = inReference(cb.GetProperty(ical.ComponentPropertyDtStart), start, opts.Location)
		end, err := cb.GetEndAt()
		if err != nil {
			end = start
		} else {
			end = inReference(cb.GetProperty(ical.ComponentPropertyDtEnd), end, opts.Location)
		}
		if end.Before(start) {
			return Candidate{}, errors.New("DTEND before DTSTART")
		}
		c.Template.Kind = model.KindEvent
		c.Template.Location = propValue(cb, ical.ComponentPropertyLocation)
		c.Template.EventTypeID = propValue(cb, ical.ComponentPropertyCategories)
		c.Template.StartTime = start
		c.Template.EndTime = end
		c.Anchor = model.DateOnly(start)

		for _, alarm := range ev.Alarms() {
			trig := alarm.GetProperty(ical.ComponentPropertyTrigger)
			if trig == nil {
				continue
			}
			if m, ok := parseTrigger(trig.Value); ok {
				c.Template.ReminderMinutes = &m
				break
			}
		}
	}

	if err := attachRule(cb, &c, opts); err != nil {
		return Candidate{}, err
	}
	return c, nil
}

func todoCandidate(todo *ical.VTodo, opts ImportOptions) (Candidate, error) {
	cb := &todo.ComponentBase
	c := Candidate{
		UID:      propValue(cb, ical.ComponentPropertyUniqueId),
		Template: baseTemplate(cb, opts),
	}
	c.Template.Kind = model.KindTask

	due, err := todoDate(todo, opts.Location)
	if err != nil {
		return Candidate{}, err
	}
	c.Anchor = due

	c.Template.Priority = model.PriorityMedium
	if p := propValue(cb, ical.ComponentPropertyPriority); p != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			c.Template.Priority = priorityFromICS(n)
		}
	}
	c.Template.Status = statusFromICS(propValue(cb, ical.ComponentPropertyStatus))

	if err := attachRule(cb, &c, opts); err != nil {
		return Candidate{}, err
	}
	return c, nil
}

// todoDate prefers DUE and falls back to DTSTART.
func todoDate(todo *ical.VTodo, loc *time.Location) (time.Time, error) {
	for _, prop := range []ical.ComponentProperty{ical.ComponentPropertyDue, ical.ComponentPropertyDtStart} {
		p := todo.GetProperty(prop)
		if p == nil {
			continue
		}
		if isAllDay(p) {
			var t time.Time
			var err error
			if prop == ical.ComponentPropertyDue {
				t, err = todo.GetAllDayDueAt()
			} else {
				t, err = todo.GetAllDayStartAt()
			}
			if err != nil {
				return time.Time{}, fmt.Errorf("%s: %w", prop, err)
			}
			return floatingDate(t, loc), nil
		}
		var t time.Time
		var err error
		if prop == ical.ComponentPropertyDue {
			t, err = todo.GetDueAt()
		} else {
			t, err = todo.GetStartAt()
		}
		if err != nil {
			return time.Time{}, fmt.Errorf("%s: %w", prop, err)
		}
		return model.DateOnly(inReference(p, t, loc)), nil
	}
	return time.Time{}, errors.New("VTODO has neither DUE nor DTSTART")
}

func baseTemplate(cb *ical.ComponentBase, opts ImportOptions) model.Template {
	title := strings.TrimSpace(propValue(cb, ical.ComponentPropertySummary))
	if title == "" {
		title = "(untitled)"
	}
	return model.Template{
		Title:       title,
		Description: propValue(cb, ical.ComponentPropertyDescription),
		OwnerID:     opts.OwnerID,
	}
}

// attachRule converts an RRULE into a rule snapshot and bounds it when the
// source leaves it open-ended.
func attachRule(cb *ical.ComponentBase, c *Candidate, opts ImportOptions) error {
	p := cb.GetProperty(ical.ComponentPropertyRrule)
	if p == nil {
		return nil
	}
	if len(cb.GetProperties(ical.ComponentPropertyRrule)) > 1 {
		return errors.New("multiple RRULEs are not supported")
	}
	if cb.GetProperty(ical.ComponentPropertyExdate) != nil || cb.GetProperty(ical.ComponentPropertyRdate) != nil {
		return errors.New("EXDATE/RDATE are not supported")
	}

	rule, err := recurrence.FromRRule(p.Value, c.Anchor)
	if err != nil {
		return err
	}
	if rule.Count == nil && rule.EndDate == "" {
		rule.EndDate = c.Anchor.AddDate(0, 0, opts.HorizonDays).Format(model.DateLayout)
		c.Bounded = true
	}
	if err := recurrence.Validate(rule, c.Anchor); err != nil {
		return err
	}
	c.Rule = &rule
	return nil
}

func propValue(cb *ical.ComponentBase, prop ical.ComponentProperty) string {
	if p := cb.GetProperty(prop); p != nil {
		return p.Value
	}
	return ""
}

// isAllDay reports VALUE=DATE or a date-only value.
func isAllDay(p *ical.IANAProperty) bool {
	if p == nil {
		return false
	}
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// inReference converts t into loc. Floating times (no TZID, no Z) were
// parsed in time.Local by the library and are re-read as wall clock in loc.
func inReference(p *ical.IANAProperty, t time.Time, loc *time.Location) time.Time {
	floating := p != nil && !strings.HasSuffix(p.Value, "Z")
	if floating {
		if _, ok := p.ICalParameters["TZID"]; !ok {
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
		}
	}
	return t.In(loc)
}

// floatingDate keeps the calendar date of an all-day value in loc.
func floatingDate(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

var triggerPattern = regexp.MustCompile(`^([+-]?)P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseTrigger reads a relative TRIGGER ("-PT15M", "-P1D", "PT0S") as whole
// minutes before start. Triggers after the start are rejected.
func parseTrigger(v string) (int, bool) {
	m := triggerPattern.FindStringSubmatch(strings.TrimSpace(v))
	if m == nil {
		return 0, false
	}
	num := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	minutes := num(m[2])*7*24*60 + num(m[3])*24*60 + num(m[4])*60 + num(m[5]) + num(m[6])/60
	if m[1] != "-" && minutes != 0 {
		return 0, false
	}
	return minutes, true
}
