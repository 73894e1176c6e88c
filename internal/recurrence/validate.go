package recurrence

import (
	"time"

	"execagenda/internal/model"
)

// Validate rejects structurally impossible rules. anchor is the first
// occurrence's date; when it is zero the end-date ordering check is skipped.
// End dates are interpreted in the anchor's location.
func Validate(rule model.RecurrenceRule, anchor time.Time) error {
	switch rule.Frequency {
	case model.FrequencyDaily, model.FrequencyWeekly, model.FrequencyMonthly, model.FrequencyAnnually:
	case "":
		return invalid("frequency", "missing")
	default:
		return invalid("frequency", "unknown frequency %q", rule.Frequency)
	}

	if rule.Interval < 1 {
		return invalid("interval", "must be >= 1, got %d", rule.Interval)
	}

	if rule.Frequency == model.FrequencyWeekly {
		if len(rule.DaysOfWeek) == 0 {
			return invalid("days_of_week", "weekly rule needs at least one weekday")
		}
		var seen [7]bool
		for _, d := range rule.DaysOfWeek {
			if d < 0 || d > 6 {
				return invalid("days_of_week", "weekday index %d outside 0..6", d)
			}
			if seen[d] {
				return invalid("days_of_week", "weekday index %d listed twice", d)
			}
			seen[d] = true
		}
	}

	hasCount := rule.Count != nil
	hasEnd := rule.EndDate != ""
	switch {
	case hasCount && hasEnd:
		return invalid("count", "count and end_date are mutually exclusive")
	case !hasCount && !hasEnd:
		return invalid("count", "one of count or end_date is required")
	case hasCount:
		if *rule.Count < 1 {
			return invalid("count", "must be >= 1, got %d", *rule.Count)
		}
	default:
		loc := time.UTC
		if !anchor.IsZero() {
			loc = anchor.Location()
		}
		end, err := model.ParseDate(rule.EndDate, loc)
		if err != nil {
			return invalid("end_date", "not a YYYY-MM-DD date: %q", rule.EndDate)
		}
		if !anchor.IsZero() && end.Before(model.DateOnly(anchor)) {
			return invalid("end_date", "%s precedes anchor %s", rule.EndDate, anchor.Format(model.DateLayout))
		}
	}

	return nil
}
