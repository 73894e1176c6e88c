package recurrence

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execagenda/internal/model"
)

type fixture struct {
	m          *Mutator
	all        []model.Activity
	standalone model.Activity
	weekly     Series // 5 Mondays from 2025-01-06
	daily      Series // 3 days from 2025-01-06
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	gen := &Generator{NewID: seqIDs("f")}

	weekly, err := gen.Generate(taskTemplate("weekly review"),
		model.RecurrenceRule{Frequency: model.FrequencyWeekly, Interval: 1, DaysOfWeek: []int{1}, Count: intp(5)},
		date(2025, 1, 6))
	require.NoError(t, err)
	daily, err := gen.Generate(taskTemplate("inbox zero"),
		model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 1, Count: intp(3)},
		date(2025, 1, 6))
	require.NoError(t, err)

	standalone := model.Activity{ID: "solo", Date: date(2025, 1, 7), Template: taskTemplate("sign contract")}

	all := []model.Activity{standalone}
	all = append(all, weekly.Occurrences...)
	all = append(all, daily.Occurrences...)
	return fixture{m: NewMutator(gen), all: all, standalone: standalone, weekly: weekly, daily: daily}
}

func membersOf(all []model.Activity, seriesID string) []model.Activity {
	var out []model.Activity
	for _, a := range all {
		if a.SeriesID == seriesID {
			out = append(out, a)
		}
	}
	return out
}

func activityDates(as []model.Activity) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.Date.Format(model.DateLayout)
	}
	return out
}

func TestApply_FutureDeleteKeepsEarlierOccurrences(t *testing.T) {
	f := newFixture(t)
	before := slices.Clone(f.all)
	w := f.weekly.Occurrences

	out, err := f.m.Apply(f.all, w[2].ID, ScopeFuture, Delete())
	require.NoError(t, err)

	want := []model.Activity{f.standalone, w[0], w[1]}
	want = append(want, f.daily.Occurrences...)
	assert.Equal(t, want, out)
	assert.Equal(t, before, f.all, "input must not be modified")
}

func TestApply_OneEditDetachesExactlyOne(t *testing.T) {
	f := newFixture(t)
	w := f.weekly.Occurrences

	out, err := f.m.Apply(f.all, w[2].ID, ScopeOne, ReplaceWith(taskTemplate("moved review"), nil))
	require.NoError(t, err)
	require.Len(t, out, len(f.all))

	changed := 0
	for i := range out {
		if assert.ObjectsAreEqual(f.all[i], out[i]) {
			continue
		}
		changed++
		assert.Equal(t, w[2].ID, out[i].ID)
		assert.Equal(t, w[2].Date, out[i].Date)
		assert.Equal(t, "moved review", out[i].Title)
		assert.Empty(t, out[i].SeriesID)
		assert.Nil(t, out[i].Rule)
		assert.True(t, out[i].Anchor.IsZero())
	}
	assert.Equal(t, 1, changed)
	assert.Len(t, membersOf(out, f.weekly.ID), 4)
}

func TestApply_OneDelete(t *testing.T) {
	f := newFixture(t)
	w := f.weekly.Occurrences

	out, err := f.m.Apply(f.all, w[4].ID, ScopeOne, Delete())
	require.NoError(t, err)
	assert.Len(t, out, len(f.all)-1)
	assert.Equal(t, []string{"2025-01-06", "2025-01-13", "2025-01-20", "2025-01-27"}, activityDates(membersOf(out, f.weekly.ID)))
}

func TestApply_OneEditMovesEvent(t *testing.T) {
	event := model.Activity{
		ID:   "evt",
		Date: date(2025, 1, 10),
		Template: model.Template{
			Kind:      model.KindEvent,
			Title:     "Lunch",
			StartTime: time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC),
			EndTime:   time.Date(2025, 1, 10, 13, 0, 0, 0, time.UTC),
		},
	}
	tmpl := event.Template
	tmpl.Title = "Lunch with board"

	out, err := NewMutator(nil).Apply([]model.Activity{event}, "evt", ScopeOne, ReplaceWith(tmpl, nil).OnDate(date(2025, 2, 1)))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, date(2025, 2, 1), out[0].Date)
	assert.Equal(t, time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC), out[0].Start)
	assert.Equal(t, time.Date(2025, 2, 1, 13, 0, 0, 0, time.UTC), out[0].End)
	assert.Equal(t, "Lunch with board", out[0].Title)
}

func TestApply_FutureEditStartsNewSeries(t *testing.T) {
	f := newFixture(t)
	w := f.weekly.Occurrences
	rule := &model.RecurrenceRule{Frequency: model.FrequencyWeekly, Interval: 1, DaysOfWeek: []int{2}, Count: intp(2)}

	out, err := f.m.Apply(f.all, w[2].ID, ScopeFuture, ReplaceWith(taskTemplate("tuesday review"), rule))
	require.NoError(t, err)

	kept := membersOf(out, f.weekly.ID)
	assert.Equal(t, []model.Activity{w[0], w[1]}, kept)

	require.Len(t, out, 1+2+2+3)
	cont := out[3:5]
	newID := cont[0].SeriesID
	assert.NotEmpty(t, newID)
	assert.NotEqual(t, f.weekly.ID, newID)
	assert.Equal(t, newID, cont[1].SeriesID)
	assert.Equal(t, []string{"2025-01-21", "2025-01-28"}, activityDates(cont))
	assert.Equal(t, date(2025, 1, 20), cont[0].Anchor)
	assert.Equal(t, "tuesday review", cont[0].Title)

	assert.Equal(t, f.daily.Occurrences, out[5:])
}

func TestApply_FutureEditKeepsRemainingSchedule(t *testing.T) {
	f := newFixture(t)
	w := f.weekly.Occurrences

	out, err := f.m.Apply(f.all, w[2].ID, ScopeFuture, ReplaceWith(taskTemplate("renamed"), nil))
	require.NoError(t, err)
	assert.Len(t, out, len(f.all))

	cont := out[3:6]
	assert.Equal(t, []string{"2025-01-20", "2025-01-27", "2025-02-03"}, activityDates(cont))
	for _, a := range cont {
		require.NotNil(t, a.Rule)
		assert.Equal(t, *w[0].Rule, *a.Rule)
		assert.Equal(t, date(2025, 1, 6), a.Anchor)
		assert.Equal(t, date(2025, 1, 20), a.SeriesStart)
		assert.Equal(t, "renamed", a.Title)
	}
	assert.Equal(t, 5, *out[1].Rule.Count)
	assert.True(t, out[1].SeriesStart.IsZero())
}

func TestApply_FutureEditWithoutRuleKeepsBiweeklyPattern(t *testing.T) {
	gen := &Generator{NewID: seqIDs("b")}
	m := NewMutator(gen)
	rule := model.RecurrenceRule{Frequency: model.FrequencyWeekly, Interval: 2, DaysOfWeek: []int{1, 3}, EndDate: "2025-02-28"}
	series, err := gen.Generate(taskTemplate("1:1"), rule, date(2025, 1, 6))
	require.NoError(t, err)
	want := []string{
		"2025-01-06", "2025-01-08", "2025-01-20", "2025-01-22",
		"2025-02-03", "2025-02-05", "2025-02-17", "2025-02-19",
	}
	require.Equal(t, want, activityDates(series.Occurrences))

	out, err := m.Apply(series.Occurrences, series.Occurrences[1].ID, ScopeFuture, ReplaceWith(taskTemplate("1:1 (new room)"), nil))
	require.NoError(t, err)
	assert.Equal(t, want, activityDates(out))

	assert.Equal(t, series.Occurrences[0], out[0])
	newID := out[1].SeriesID
	assert.NotEqual(t, series.ID, newID)
	for _, a := range out[1:] {
		assert.Equal(t, newID, a.SeriesID)
		assert.Equal(t, "1:1 (new room)", a.Title)
	}
}

func TestApply_FutureAfterRemovedFirstKeepsItRemoved(t *testing.T) {
	f := newFixture(t)
	w := f.weekly.Occurrences

	out, err := f.m.Apply(f.all, w[0].ID, ScopeOne, Delete())
	require.NoError(t, err)
	out, err = f.m.Apply(out, w[1].ID, ScopeFuture, ReplaceWith(taskTemplate("renamed"), nil))
	require.NoError(t, err)

	var weekly []model.Activity
	for _, a := range out {
		if a.Title == "renamed" {
			weekly = append(weekly, a)
		}
	}
	assert.Equal(t, []string{"2025-01-13", "2025-01-20", "2025-01-27", "2025-02-03"}, activityDates(weekly))
	assert.Len(t, out, len(f.all)-1)
}

func TestApply_FutureAfterDetachedFirstKeepsOneActivityThatDay(t *testing.T) {
	f := newFixture(t)
	w := f.weekly.Occurrences

	out, err := f.m.Apply(f.all, w[0].ID, ScopeOne, ReplaceWith(taskTemplate("offsite review"), nil))
	require.NoError(t, err)
	out, err = f.m.Apply(out, w[1].ID, ScopeFuture, ReplaceWith(taskTemplate("renamed"), nil))
	require.NoError(t, err)

	var onFirst []model.Activity
	for _, a := range out {
		if a.Date.Equal(date(2025, 1, 6)) && a.Title != "inbox zero" {
			onFirst = append(onFirst, a)
		}
	}
	require.Len(t, onFirst, 1)
	assert.Equal(t, "offsite review", onFirst[0].Title)
	assert.False(t, onFirst[0].Recurring())
}

func TestApply_AllOnSplitSeriesStaysAfterSplit(t *testing.T) {
	f := newFixture(t)
	w := f.weekly.Occurrences

	out, err := f.m.Apply(f.all, w[2].ID, ScopeFuture, ReplaceWith(taskTemplate("renamed"), nil))
	require.NoError(t, err)
	cont := out[3]

	out, err = f.m.Apply(out, cont.ID, ScopeAll, ReplaceWith(taskTemplate("renamed again"), nil))
	require.NoError(t, err)
	members := membersOf(out, cont.SeriesID)
	assert.Equal(t, []string{"2025-01-20", "2025-01-27", "2025-02-03"}, activityDates(members))
	assert.Equal(t, []model.Activity{w[0], w[1]}, membersOf(out, f.weekly.ID))

	// Its first member counts as the start of the split series.
	again, err := f.m.Apply(out, members[0].ID, ScopeFuture, ReplaceWith(taskTemplate("third name"), nil))
	require.NoError(t, err)
	assert.Len(t, membersOf(again, cont.SeriesID), 3)
}

func TestApply_FutureOnFirstEqualsAll(t *testing.T) {
	f := newFixture(t)
	w := f.weekly.Occurrences
	tmpl := taskTemplate("renamed")

	future, err := f.m.Apply(f.all, w[0].ID, ScopeFuture, ReplaceWith(tmpl, nil))
	require.NoError(t, err)
	all, err := f.m.Apply(f.all, w[0].ID, ScopeAll, ReplaceWith(tmpl, nil))
	require.NoError(t, err)

	fm := membersOf(future, f.weekly.ID)
	am := membersOf(all, f.weekly.ID)
	assert.Equal(t, activityDates(am), activityDates(fm))
	assert.Len(t, fm, 5)
	for _, a := range fm {
		assert.Equal(t, "renamed", a.Title)
	}
}

func TestApply_AllEditReusesSeriesID(t *testing.T) {
	f := newFixture(t)
	w := f.weekly.Occurrences
	rule := &model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 1, Count: intp(2)}

	// Targeting a later member still regenerates from the series anchor.
	out, err := f.m.Apply(f.all, w[3].ID, ScopeAll, ReplaceWith(taskTemplate("daily review"), rule))
	require.NoError(t, err)

	members := membersOf(out, f.weekly.ID)
	assert.Equal(t, []string{"2025-01-06", "2025-01-07"}, activityDates(members))
	for _, a := range members {
		assert.Equal(t, "daily review", a.Title)
		assert.Equal(t, *rule, *a.Rule)
	}
	assert.Equal(t, f.standalone, out[0])
	assert.Equal(t, f.daily.Occurrences, out[3:])
}

func TestApply_AllEditIsIdempotent(t *testing.T) {
	f := newFixture(t)
	w := f.weekly.Occurrences
	tmpl := w[0].Template

	once, err := f.m.Apply(f.all, w[1].ID, ScopeAll, ReplaceWith(tmpl, nil))
	require.NoError(t, err)
	twice, err := f.m.Apply(once, membersOf(once, f.weekly.ID)[1].ID, ScopeAll, ReplaceWith(tmpl, nil))
	require.NoError(t, err)

	orig := activityDates(w)
	assert.Equal(t, orig, activityDates(membersOf(once, f.weekly.ID)))
	assert.Equal(t, orig, activityDates(membersOf(twice, f.weekly.ID)))
}

func TestApply_AllDelete(t *testing.T) {
	f := newFixture(t)

	out, err := f.m.Apply(f.all, f.weekly.Occurrences[3].ID, ScopeAll, Delete())
	require.NoError(t, err)
	want := append([]model.Activity{f.standalone}, f.daily.Occurrences...)
	assert.Equal(t, want, out)
}

func TestApply_NotFoundLeavesInputAlone(t *testing.T) {
	f := newFixture(t)
	before := slices.Clone(f.all)

	out, err := f.m.Apply(f.all, "missing", ScopeAll, Delete())
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Nil(t, out)
	assert.Equal(t, before, f.all)
}

func TestApply_StandaloneTarget(t *testing.T) {
	f := newFixture(t)

	for _, scope := range []Scope{ScopeFuture, ScopeAll} {
		out, err := f.m.Apply(f.all, "solo", scope, Delete())
		assert.True(t, errors.Is(err, ErrNotRecurring), scope)
		assert.Equal(t, f.all, out)
	}

	out, err := f.m.Apply(f.all, "solo", ScopeOne, ReplaceWith(taskTemplate("sign NDA"), nil))
	require.NoError(t, err)
	assert.Equal(t, "sign NDA", out[0].Title)
	assert.Equal(t, f.standalone.Date, out[0].Date)
	assert.Equal(t, f.all[1:], out[1:])

	out, err = f.m.Apply(f.all, "solo", ScopeOne, Delete())
	require.NoError(t, err)
	assert.Equal(t, f.all[1:], out)
}

func TestApply_InvalidReplacementRule(t *testing.T) {
	f := newFixture(t)
	before := slices.Clone(f.all)
	bad := &model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 0, Count: intp(2)}

	for _, scope := range []Scope{ScopeFuture, ScopeAll} {
		out, err := f.m.Apply(f.all, f.weekly.Occurrences[2].ID, scope, ReplaceWith(taskTemplate("x"), bad))
		assert.True(t, errors.Is(err, ErrInvalidRule), scope)
		assert.Nil(t, out)
	}
	assert.Equal(t, before, f.all)
}

func TestApply_RejectsBadScopeAndOperation(t *testing.T) {
	f := newFixture(t)

	_, err := f.m.Apply(f.all, "solo", Scope("weekend"), Delete())
	assert.True(t, errors.Is(err, ErrInvalidScope))

	_, err = f.m.Apply(f.all, "solo", ScopeOne, Operation{Kind: "archive"})
	assert.True(t, errors.Is(err, ErrInvalidOperation))
}

func TestParseScope(t *testing.T) {
	for in, want := range map[string]Scope{"": ScopeOne, "one": ScopeOne, "future": ScopeFuture, "all": ScopeAll} {
		got, err := ParseScope(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseScope("ALL")
	assert.True(t, errors.Is(err, ErrInvalidScope))
}

func TestMutate_DefaultMutator(t *testing.T) {
	s, err := GenerateSeries(taskTemplate("t"), model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 1, Count: intp(4)}, date(2025, 1, 1))
	require.NoError(t, err)

	out, err := Mutate(s.Occurrences, s.Occurrences[1].ID, ScopeFuture, Delete())
	require.NoError(t, err)
	assert.Equal(t, s.Occurrences[:1], out)
}
