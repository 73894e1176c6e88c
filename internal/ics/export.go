package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "execagenda/internal/log"
	"execagenda/internal/model"
	"execagenda/internal/recurrence"
)

// Non-standard properties carried on exported series members.
const (
	PropertyRRuleSnapshot = ical.ComponentProperty("X-EXECAGENDA-RRULE")
	PropertyOwner         = ical.ComponentProperty("X-EXECAGENDA-OWNER")
)

const productID = "execagenda"

// ExportOptions controls calendar-level properties.
type ExportOptions struct {
	// CalendarName becomes X-WR-CALNAME.
	CalendarName string
	// Location is advertised as X-WR-TIMEZONE; nil omits it.
	Location *time.Location
	// Now stamps DTSTAMP; zero means time.Now().
	Now time.Time
}

// Export renders activities as an iCalendar document. Events become VEVENTs
// with an optional display alarm, tasks become VTODOs due on their date.
// Series members are linked through RELATED-TO and carry their rule
// snapshot as X-EXECAGENDA-RRULE.
func Export(activities []model.Activity, opts ExportOptions) string {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	cal := ical.NewCalendarFor(productID)
	cal.SetMethod(ical.MethodPublish)
	if opts.CalendarName != "" {
		cal.SetXWRCalName(opts.CalendarName)
	}
	if opts.Location != nil {
		cal.SetXWRTimezone(opts.Location.String())
	}

	events, todos := 0, 0
	for _, a := range activities {
		switch a.Kind {
		case model.KindEvent:
			exportEvent(cal, a, now)
			events++
		default:
			exportTodo(cal, a, now)
			todos++
		}
	}

	appLog.Debug("ics export completed", "events", events, "todos", todos)
	return cal.Serialize()
}

func exportEvent(cal *ical.Calendar, a model.Activity, now time.Time) {
	ev := cal.AddEvent(a.ID)
	ev.SetDtStampTime(now)
	ev.SetSummary(a.Title)
	if a.Description != "" {
		ev.SetDescription(a.Description)
	}
	if a.Location != "" {
		ev.SetLocation(a.Location)
	}
	if a.EventTypeID != "" {
		ev.AddCategory(a.EventTypeID)
	}

	if a.Start.IsZero() {
		ev.SetAllDayStartAt(a.Date)
		ev.SetAllDayEndAt(a.Date.AddDate(0, 0, 1))
	} else {
		ev.SetStartAt(a.Start)
		ev.SetEndAt(a.End)
	}

	if a.ReminderMinutes != nil {
		alarm := ev.AddAlarm()
		alarm.SetAction(ical.ActionDisplay)
		alarm.SetTrigger(formatTrigger(*a.ReminderMinutes))
		alarm.SetDescription(a.Title)
	}
	exportCommon(&ev.ComponentBase, a)
}

func exportTodo(cal *ical.Calendar, a model.Activity, now time.Time) {
	todo := cal.AddTodo(a.ID)
	todo.SetDtStampTime(now)
	todo.SetSummary(a.Title)
	if a.Description != "" {
		todo.SetDescription(a.Description)
	}
	todo.SetAllDayDueAt(a.Date, ical.WithValue(string(ical.ValueDataTypeDate)))
	if p := priorityToICS(a.Priority); p > 0 {
		todo.SetPriority(p)
	}
	todo.SetStatus(statusToICS(a.Status))
	exportCommon(&todo.ComponentBase, a)
}

func exportCommon(c *ical.ComponentBase, a model.Activity) {
	if a.OwnerID != "" {
		c.SetProperty(PropertyOwner, a.OwnerID)
	}
	if !a.Recurring() {
		return
	}
	c.AddProperty(ical.ComponentPropertyRelatedTo, a.SeriesID)
	if a.Rule == nil {
		return
	}
	anchor := a.Anchor
	if anchor.IsZero() {
		anchor = a.Date
	}
	s, err := recurrence.RRuleString(*a.Rule, anchor)
	if err != nil {
		appLog.Error("ics export: rule snapshot not renderable", err, "id", a.ID, "series_id", a.SeriesID)
		return
	}
	c.SetProperty(PropertyRRuleSnapshot, s)
}

// formatTrigger renders "minutes before start" as a negative duration.
func formatTrigger(minutes int) string {
	if minutes == 0 {
		return "PT0M"
	}
	return fmt.Sprintf("-PT%dM", minutes)
}

// RFC 5545 PRIORITY: 1 highest, 5 medium, 9 lowest.
func priorityToICS(p model.Priority) int {
	switch p {
	case model.PriorityHigh:
		return 1
	case model.PriorityMedium:
		return 5
	case model.PriorityLow:
		return 9
	default:
		return 0
	}
}

func priorityFromICS(n int) model.Priority {
	switch {
	case n >= 1 && n <= 4:
		return model.PriorityHigh
	case n >= 6 && n <= 9:
		return model.PriorityLow
	default:
		return model.PriorityMedium
	}
}

func statusToICS(s model.Status) ical.ObjectStatus {
	switch s {
	case model.StatusInProgress:
		return ical.ObjectStatusInProcess
	case model.StatusDone:
		return ical.ObjectStatusCompleted
	default:
		return ical.ObjectStatusNeedsAction
	}
}

func statusFromICS(v string) model.Status {
	switch ical.ObjectStatus(v) {
	case ical.ObjectStatusInProcess:
		return model.StatusInProgress
	case ical.ObjectStatusCompleted:
		return model.StatusDone
	default:
		return model.StatusTodo
	}
}
