package recurrence

import (
	"time"

	"github.com/google/uuid"

	appLog "execagenda/internal/log"
	"execagenda/internal/model"
)

// DefaultMaxOccurrences is the safety cap applied when a Generator has no
// explicit cap.
const DefaultMaxOccurrences = 500

// Series is the output of one generation run.
type Series struct {
	ID          string
	Occurrences []model.Activity
	// Truncated is set when the safety cap cut the series short; Warning
	// then wraps ErrSeriesBoundsExceeded.
	Truncated bool
	Warning   error
}

// Dates returns the occurrence dates in order.
func (s Series) Dates() []time.Time {
	out := make([]time.Time, len(s.Occurrences))
	for i, occ := range s.Occurrences {
		out[i] = occ.Date
	}
	return out
}

// Generator expands templates into series. The zero value is usable and
// applies DefaultMaxOccurrences with random UUIDs.
type Generator struct {
	// MaxOccurrences caps every series regardless of the requested count.
	MaxOccurrences int
	// NewID mints activity and series ids.
	NewID func() string
}

// NewGenerator returns a Generator with the given cap (<= 0 means default).
func NewGenerator(maxOccurrences int) *Generator {
	return &Generator{MaxOccurrences: maxOccurrences, NewID: uuid.NewString}
}

var defaultGenerator = NewGenerator(DefaultMaxOccurrences)

// GenerateSeries expands tmpl with the default generator.
func GenerateSeries(tmpl model.Template, rule model.RecurrenceRule, anchor time.Time) (Series, error) {
	return defaultGenerator.Generate(tmpl, rule, anchor)
}

// Generate validates rule and expands tmpl into a fresh series anchored at
// anchor's calendar date. For events a zero anchor defaults to the
// template's start date.
func (g *Generator) Generate(tmpl model.Template, rule model.RecurrenceRule, anchor time.Time) (Series, error) {
	return g.generate(g.newID(), tmpl, rule, anchor, time.Time{})
}

// generate expands rule from anchor but keeps only the dates on or after
// from. Count still counts from anchor, and the cap applies to kept dates.
func (g *Generator) generate(seriesID string, tmpl model.Template, rule model.RecurrenceRule, anchor, from time.Time) (Series, error) {
	if anchor.IsZero() && tmpl.Kind == model.KindEvent {
		anchor = tmpl.StartTime
	}
	if anchor.IsZero() {
		return Series{}, invalid("anchor", "missing anchor date")
	}
	if err := Validate(rule, anchor); err != nil {
		return Series{}, err
	}

	start := model.DateOnly(anchor)
	if !from.IsZero() {
		from = model.DateOnly(from.In(start.Location()))
		if !from.After(start) {
			from = time.Time{}
		}
	}

	limit := g.maxOccurrences()
	// Ask for one extra date so hitting the cap is observable.
	dates := expandDates(rule, start, from, limit+1)

	series := Series{ID: seriesID}
	if len(dates) > limit {
		dates = dates[:limit]
		series.Truncated = true
		series.Warning = ErrSeriesBoundsExceeded
		appLog.Warn("recurrence: series truncated at occurrence cap",
			"series_id", seriesID,
			"title", tmpl.Title,
			"cap", limit,
		)
	}

	series.Occurrences = make([]model.Activity, 0, len(dates))
	for _, d := range dates {
		occ := g.occurrence(seriesID, tmpl, rule, start, d)
		occ.SeriesStart = from
		series.Occurrences = append(series.Occurrences, occ)
	}

	appLog.Debug("recurrence: series generated",
		"series_id", seriesID,
		"frequency", rule.Frequency,
		"interval", rule.Interval,
		"from", from,
		"occurrences", len(series.Occurrences),
	)
	return series, nil
}

func (g *Generator) occurrence(seriesID string, tmpl model.Template, rule model.RecurrenceRule, anchor, date time.Time) model.Activity {
	snapshot := rule.Clone()
	occ := model.Activity{
		ID:       g.newID(),
		SeriesID: seriesID,
		Rule:     &snapshot,
		Anchor:   anchor,
		Date:     date,
		Template: tmpl.Clone(),
	}
	if tmpl.Kind == model.KindEvent && !tmpl.StartTime.IsZero() {
		occ.Start = model.At(date, tmpl.StartTime)
		occ.End = occ.Start.Add(tmpl.Duration())
	}
	return occ
}

func (g *Generator) maxOccurrences() int {
	if g == nil || g.MaxOccurrences <= 0 {
		return DefaultMaxOccurrences
	}
	return g.MaxOccurrences
}

func (g *Generator) newID() string {
	if g == nil || g.NewID == nil {
		return uuid.NewString()
	}
	return g.NewID()
}

// expandDates walks rule's schedule from start and returns up to want of
// its dates that fall on or after from. The walk ends at the rule's count
// or end date; skipped dates still use up the count. rule must be valid.
func expandDates(rule model.RecurrenceRule, start, from time.Time, want int) []time.Time {
	out := make([]time.Time, 0, min(want, 64))
	if want <= 0 {
		return out
	}
	var end time.Time
	if rule.EndDate != "" {
		end, _ = model.ParseDate(rule.EndDate, start.Location())
	}
	seen := 0
	emit := func(d time.Time) bool {
		if !end.IsZero() && d.After(end) {
			return false
		}
		seen++
		if !d.Before(from) {
			out = append(out, d)
		}
		if rule.Count != nil && seen >= *rule.Count {
			return false
		}
		return len(out) < want
	}

	if rule.Frequency == model.FrequencyWeekly {
		expandWeekly(start, rule.Interval, rule.DaysOfWeek, emit)
		return out
	}

	for k := 0; ; k++ {
		if !emit(step(start, rule.Frequency, k*rule.Interval)) {
			return out
		}
	}
}

// step returns start advanced by n units of freq. Months and years are
// counted from start so a clamped day (Jan 31 -> Feb 28) does not drift.
func step(start time.Time, freq model.Frequency, n int) time.Time {
	switch freq {
	case model.FrequencyMonthly:
		return addMonthsClamped(start, n)
	case model.FrequencyAnnually:
		return addMonthsClamped(start, 12*n)
	default:
		return start.AddDate(0, 0, n)
	}
}

func addMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	total := int(m) - 1 + n
	year := y + total/12
	month := time.Month(total%12 + 1)
	if last := daysIn(year, month, t.Location()); d > last {
		d = last
	}
	return time.Date(year, month, d, 0, 0, 0, 0, t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// expandWeekly scans one 7-day window per interval step. Window w starts
// 7*interval*w days after start, so it always begins on the anchor's
// weekday; offset d walks the seven days of that window. Each window holds
// at least one selected weekday, so emit's bound is reached in finite time.
func expandWeekly(start time.Time, interval int, days []int, emit func(time.Time) bool) {
	var selected [7]bool
	hasDay := false
	for _, d := range days {
		if d >= 0 && d <= 6 {
			selected[d] = true
			hasDay = true
		}
	}
	if !hasDay {
		return
	}

	for w := 0; ; w++ {
		base := 7 * interval * w
		for d := 0; d < 7; d++ {
			day := start.AddDate(0, 0, base+d)
			if !selected[day.Weekday()] {
				continue
			}
			if !emit(day) {
				return
			}
		}
	}
}
