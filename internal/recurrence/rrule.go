package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"execagenda/internal/model"
)

// weekdays maps 0=Sunday … 6=Saturday to rrule-go weekdays.
var weekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// ROption converts a rule anchored at anchor into an rrule-go option set
// describing the same dates. Weekly windows begin on the anchor's weekday,
// so WKST is set to it; month-end anchors clamp via BYMONTHDAY/BYSETPOS.
func ROption(rule model.RecurrenceRule, anchor time.Time) (rrule.ROption, error) {
	if err := Validate(rule, anchor); err != nil {
		return rrule.ROption{}, err
	}
	start := model.DateOnly(anchor)

	opt := rrule.ROption{
		Dtstart:  start,
		Interval: rule.Interval,
		Wkst:     weekdays[start.Weekday()],
	}

	switch rule.Frequency {
	case model.FrequencyDaily:
		opt.Freq = rrule.DAILY
	case model.FrequencyWeekly:
		opt.Freq = rrule.WEEKLY
		for _, d := range rule.DaysOfWeek {
			opt.Byweekday = append(opt.Byweekday, weekdays[d])
		}
	case model.FrequencyMonthly:
		opt.Freq = rrule.MONTHLY
		clampMonthEnd(&opt, start)
	case model.FrequencyAnnually:
		opt.Freq = rrule.YEARLY
		if clampMonthEnd(&opt, start) {
			opt.Bymonth = []int{int(start.Month())}
		}
	}

	if rule.Count != nil {
		opt.Count = *rule.Count
	} else {
		end, _ := model.ParseDate(rule.EndDate, start.Location())
		// UNTIL is inclusive of the whole end day.
		opt.Until = end.Add(24*time.Hour - time.Second)
	}
	return opt, nil
}

// clampMonthEnd expresses "day d, or the month's last day when shorter" for
// anchors after the 28th.
func clampMonthEnd(opt *rrule.ROption, start time.Time) bool {
	day := start.Day()
	if day <= 28 {
		return false
	}
	for d := 28; d <= day; d++ {
		opt.Bymonthday = append(opt.Bymonthday, d)
	}
	opt.Bysetpos = []int{-1}
	return true
}

// RRuleString renders the rule as an RRULE value, e.g.
// "FREQ=WEEKLY;INTERVAL=2;WKST=WE;COUNT=6;BYDAY=MO,WE".
func RRuleString(rule model.RecurrenceRule, anchor time.Time) (string, error) {
	opt, err := ROption(rule, anchor)
	if err != nil {
		return "", err
	}
	return opt.RRuleString(), nil
}

// FromRRule parses an RRULE value into a rule anchored at anchor. Only the
// subset this engine expands is accepted: DAILY/WEEKLY/MONTHLY/YEARLY with
// INTERVAL, BYDAY on weekly rules, COUNT or UNTIL, and the month-end clamp
// produced by ROption. A rule without COUNT or UNTIL comes back with
// neither set; callers must bound it before generating.
func FromRRule(value string, anchor time.Time) (model.RecurrenceRule, error) {
	loc := anchor.Location()
	opt, err := rrule.StrToROptionInLocation(value, loc)
	if err != nil {
		return model.RecurrenceRule{}, invalid("rrule", "%v", err)
	}

	rule := model.RecurrenceRule{Interval: opt.Interval}
	if rule.Interval == 0 {
		rule.Interval = 1
	}

	switch opt.Freq {
	case rrule.DAILY:
		rule.Frequency = model.FrequencyDaily
	case rrule.WEEKLY:
		rule.Frequency = model.FrequencyWeekly
	case rrule.MONTHLY:
		rule.Frequency = model.FrequencyMonthly
	case rrule.YEARLY:
		rule.Frequency = model.FrequencyAnnually
	default:
		return model.RecurrenceRule{}, invalid("rrule", "unsupported frequency %v", opt.Freq)
	}

	if err := checkSupportedParts(opt, rule.Frequency, anchor); err != nil {
		return model.RecurrenceRule{}, err
	}

	if rule.Frequency == model.FrequencyWeekly {
		for _, wd := range opt.Byweekday {
			// rrule-go counts Monday as 0.
			rule.DaysOfWeek = append(rule.DaysOfWeek, (wd.Day()+1)%7)
		}
		if len(rule.DaysOfWeek) == 0 {
			rule.DaysOfWeek = []int{int(anchor.Weekday())}
		}
	}

	if opt.Count > 0 {
		n := opt.Count
		rule.Count = &n
	}
	if !opt.Until.IsZero() {
		rule.EndDate = opt.Until.In(loc).Format(model.DateLayout)
	}
	return rule, nil
}

func checkSupportedParts(opt *rrule.ROption, freq model.Frequency, anchor time.Time) error {
	unsupported := func(part string) error {
		return invalid("rrule", "unsupported %s", part)
	}
	if len(opt.Byyearday) > 0 {
		return unsupported("BYYEARDAY")
	}
	if len(opt.Byweekno) > 0 {
		return unsupported("BYWEEKNO")
	}
	if len(opt.Byhour) > 0 || len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 {
		return unsupported("BYHOUR/BYMINUTE/BYSECOND")
	}
	if len(opt.Byeaster) > 0 {
		return unsupported("BYEASTER")
	}
	if freq != model.FrequencyWeekly && len(opt.Byweekday) > 0 {
		return unsupported(fmt.Sprintf("BYDAY on %s rule", freq))
	}
	for _, wd := range opt.Byweekday {
		if wd.N() != 0 {
			return unsupported("ordinal BYDAY")
		}
	}

	if len(opt.Bymonthday) == 0 && len(opt.Bysetpos) == 0 {
		if len(opt.Bymonth) > 0 {
			if freq != model.FrequencyAnnually || len(opt.Bymonth) != 1 || opt.Bymonth[0] != int(anchor.Month()) {
				return unsupported("BYMONTH")
			}
		}
		return nil
	}

	// Only the month-end clamp emitted by ROption is understood.
	var want rrule.ROption
	if (freq != model.FrequencyMonthly && freq != model.FrequencyAnnually) || !clampMonthEnd(&want, anchor) {
		return unsupported("BYMONTHDAY/BYSETPOS")
	}
	if !equalInts(opt.Bymonthday, want.Bymonthday) || !equalInts(opt.Bysetpos, want.Bysetpos) {
		return unsupported("BYMONTHDAY/BYSETPOS")
	}
	if len(opt.Bymonth) > 0 && (freq != model.FrequencyAnnually || len(opt.Bymonth) != 1 || opt.Bymonth[0] != int(anchor.Month())) {
		return unsupported("BYMONTH")
	}
	return nil
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
