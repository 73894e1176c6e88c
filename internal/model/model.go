package model

import "time"

// DateLayout is the wire format for calendar dates (rule end dates, anchors).
const DateLayout = "2006-01-02"

// Kind tells whether an activity is a task (due on a date) or an event
// (occupies a time range on a date).
type Kind string

const (
	KindTask  Kind = "task"
	KindEvent Kind = "event"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// Frequency is the unit a recurrence rule steps by.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyMonthly  Frequency = "monthly"
	FrequencyAnnually Frequency = "annually"
)

// RecurrenceRule describes how a template repeats.
//
// Exactly one of Count and EndDate terminates the series. DaysOfWeek uses
// 0=Sunday … 6=Saturday and only applies to weekly rules.
type RecurrenceRule struct {
	Frequency  Frequency `json:"frequency" yaml:"frequency"`
	Interval   int       `json:"interval" yaml:"interval"`
	DaysOfWeek []int     `json:"days_of_week,omitempty" yaml:"days_of_week,omitempty"`
	Count      *int      `json:"count,omitempty" yaml:"count,omitempty"`
	EndDate    string    `json:"end_date,omitempty" yaml:"end_date,omitempty"` // YYYY-MM-DD, inclusive
}

// Clone returns a deep copy so rule snapshots never alias caller data.
func (r RecurrenceRule) Clone() RecurrenceRule {
	out := r
	if r.DaysOfWeek != nil {
		out.DaysOfWeek = append([]int(nil), r.DaysOfWeek...)
	}
	if r.Count != nil {
		n := *r.Count
		out.Count = &n
	}
	return out
}

// Template is the field set shared by every occurrence of a series.
type Template struct {
	Kind        Kind   `json:"kind"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"owner_id,omitempty"` // executive the activity belongs to

	// Task fields.
	Priority Priority `json:"priority,omitempty"`
	Status   Status   `json:"status,omitempty"`

	// Event fields. StartTime/EndTime provide the time-of-day and duration
	// for every generated occurrence; their calendar date is not used.
	Location        string    `json:"location,omitempty"`
	EventTypeID     string    `json:"event_type_id,omitempty"`
	ReminderMinutes *int      `json:"reminder_minutes,omitempty"`
	StartTime       time.Time `json:"start_time,omitzero"`
	EndTime         time.Time `json:"end_time,omitzero"`
}

// Clone copies the template so pointer fields are not shared.
func (t Template) Clone() Template {
	if t.ReminderMinutes != nil {
		n := *t.ReminderMinutes
		t.ReminderMinutes = &n
	}
	return t
}

// Duration is the event length; zero for tasks or inverted ranges.
func (t Template) Duration() time.Duration {
	if t.Kind != KindEvent || t.StartTime.IsZero() || t.EndTime.Before(t.StartTime) {
		return 0
	}
	return t.EndTime.Sub(t.StartTime)
}

// Activity is a single concrete task or event. Members of a recurring series
// share SeriesID and carry the rule snapshot and anchor date they were
// generated from; standalone activities leave all three empty.
type Activity struct {
	ID       string          `json:"id"`
	SeriesID string          `json:"series_id,omitempty"`
	Rule     *RecurrenceRule `json:"rule,omitempty"`
	Anchor   time.Time       `json:"anchor,omitzero"`

	// SeriesStart is set on a series split off another one. Its schedule
	// still counts from Anchor but has no occurrences before SeriesStart.
	SeriesStart time.Time `json:"series_start,omitzero"`

	// Date is the occurrence's calendar date at midnight in the reference
	// location.
	Date time.Time `json:"date"`
	// Start/End are set for events only.
	Start time.Time `json:"start,omitzero"`
	End   time.Time `json:"end,omitzero"`

	Template
}

// Recurring reports whether the activity belongs to a series.
func (a Activity) Recurring() bool {
	return a.SeriesID != ""
}

// DateOnly truncates t to midnight in its own location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseDate parses a YYYY-MM-DD date in loc (UTC when loc is nil).
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DateLayout, s, loc)
}

// At places the clock of clock onto the calendar date of day, in clock's
// location.
func At(day, clock time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), clock.Location())
}
