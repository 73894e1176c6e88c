package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"execagenda/internal/model"
	"execagenda/internal/recurrence"
)

// ruleFlags are shared by preview and rrule.
type ruleFlags struct {
	freq     string
	interval int
	days     []string
	count    int
	until    string
	anchor   string
	timezone string
}

func (f *ruleFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.freq, "freq", "weekly", "frequency (daily|weekly|monthly|annually)")
	fl.IntVar(&f.interval, "interval", 1, "step between periods")
	fl.StringSliceVar(&f.days, "days", nil, "weekdays for weekly rules (mo,tu,... or 0-6 with 0=Sunday)")
	fl.IntVar(&f.count, "count", 0, "number of occurrences")
	fl.StringVar(&f.until, "until", "", "last possible date (YYYY-MM-DD), inclusive")
	fl.StringVar(&f.anchor, "anchor", "", "first occurrence date (YYYY-MM-DD, default today)")
	fl.StringVar(&f.timezone, "timezone", "UTC", "reference calendar timezone")
}

// rule builds the recurrence rule and anchor described by the flags.
func (f *ruleFlags) rule(cmd *cobra.Command) (model.RecurrenceRule, time.Time, error) {
	loc, err := time.LoadLocation(f.timezone)
	if err != nil {
		return model.RecurrenceRule{}, time.Time{}, fmt.Errorf("timezone %q: %w", f.timezone, err)
	}

	anchor := model.DateOnly(time.Now().In(loc))
	if f.anchor != "" {
		if anchor, err = model.ParseDate(f.anchor, loc); err != nil {
			return model.RecurrenceRule{}, time.Time{}, fmt.Errorf("--anchor: %w", err)
		}
	}

	rule := model.RecurrenceRule{
		Frequency: model.Frequency(strings.ToLower(f.freq)),
		Interval:  f.interval,
		EndDate:   f.until,
	}
	if cmd.Flags().Changed("count") {
		n := f.count
		rule.Count = &n
	}
	for _, d := range f.days {
		idx, err := parseWeekday(d)
		if err != nil {
			return model.RecurrenceRule{}, time.Time{}, err
		}
		rule.DaysOfWeek = append(rule.DaysOfWeek, idx)
	}

	if err := recurrence.Validate(rule, anchor); err != nil {
		return model.RecurrenceRule{}, time.Time{}, err
	}
	return rule, anchor, nil
}

var weekdayNames = map[string]int{
	"su": 0, "sun": 0, "sunday": 0,
	"mo": 1, "mon": 1, "monday": 1,
	"tu": 2, "tue": 2, "tuesday": 2,
	"we": 3, "wed": 3, "wednesday": 3,
	"th": 4, "thu": 4, "thursday": 4,
	"fr": 5, "fri": 5, "friday": 5,
	"sa": 6, "sat": 6, "saturday": 6,
}

func parseWeekday(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if idx, ok := weekdayNames[s]; ok {
		return idx, nil
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n <= 6 {
		return n, nil
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// NewRRuleCommand creates the rrule command.
func NewRRuleCommand(_ *RootOptions) *cobra.Command {
	var rf ruleFlags

	cmd := &cobra.Command{
		Use:   "rrule",
		Short: "Print the RFC 5545 RRULE for a recurrence rule",
		Example: `  execagenda rrule --freq weekly --days mo,we,fr --count 6 --anchor 2025-01-06
  execagenda rrule --freq monthly --until 2025-12-31 --anchor 2025-01-31`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, anchor, err := rf.rule(cmd)
			if err != nil {
				return err
			}
			s, err := recurrence.RRuleString(rule, anchor)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "DTSTART:%s\nRRULE:%s\n", anchor.Format("20060102"), s)
			return err
		},
	}
	rf.bind(cmd)
	return cmd
}

// NewPreviewCommand creates the preview command.
func NewPreviewCommand(_ *RootOptions) *cobra.Command {
	var (
		rf     ruleFlags
		title  string
		maxOcc int
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Print the occurrences a rule generates without storing them",
		Example: `  execagenda preview --freq weekly --days mo,we,fr --count 6 --anchor 2025-01-06 --title "Standup"`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, anchor, err := rf.rule(cmd)
			if err != nil {
				return err
			}
			gen := recurrence.NewGenerator(maxOcc)
			tmpl := model.Template{
				Kind:     model.KindTask,
				Title:    title,
				Priority: model.PriorityMedium,
				Status:   model.StatusTodo,
			}
			series, err := gen.Generate(tmpl, rule, anchor)
			if err != nil {
				return err
			}
			return printSeries(cmd.OutOrStdout(), series)
		},
	}
	rf.bind(cmd)
	cmd.Flags().StringVar(&title, "title", "Untitled", "activity title")
	cmd.Flags().IntVar(&maxOcc, "max", recurrence.DefaultMaxOccurrences, "safety cap on generated occurrences")
	return cmd
}

func printSeries(w io.Writer, s recurrence.Series) error {
	if _, err := fmt.Fprintf(w, "series %s: %d occurrence(s)\n", s.ID, len(s.Occurrences)); err != nil {
		return err
	}
	for i, occ := range s.Occurrences {
		if _, err := fmt.Fprintf(w, "%4d  %s  %s  %s\n", i+1, occ.Date.Format(model.DateLayout), occ.Date.Weekday().String()[:3], occ.Title); err != nil {
			return err
		}
	}
	if s.Warning != nil {
		_, err := fmt.Fprintf(w, "warning: %v\n", s.Warning)
		return err
	}
	return nil
}
