package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeConfig creates a config that keeps all state under a temp dir.
func writeConfig(t *testing.T) (cfgPath, dir string) {
	t.Helper()
	dir = t.TempDir()
	cfgPath = filepath.Join(dir, "config.yaml")
	body := `listen: 127.0.0.1:0
timezone: UTC
log_level: error
store:
  driver: file
  path: ` + filepath.Join(dir, "activities.json") + `
max_occurrences: 100
export:
  cron: ""
  path: ` + filepath.Join(dir, "agenda.ics") + `
  calendar_name: Test agenda
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return cfgPath, dir
}

func TestRRuleCommand(t *testing.T) {
	out, err := execute(t, "rrule", "--freq", "weekly", "--days", "mo,we,fr", "--count", "6", "--anchor", "2025-01-06")
	require.NoError(t, err)
	assert.Equal(t, "DTSTART:20250106\nRRULE:FREQ=WEEKLY;INTERVAL=1;COUNT=6;BYDAY=MO,WE,FR\n", out)
}

func TestRRuleCommandRejectsInvalidRule(t *testing.T) {
	_, err := execute(t, "rrule", "--freq", "weekly", "--count", "3", "--anchor", "2025-01-06")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "days_of_week")

	_, err = execute(t, "rrule", "--freq", "weekly", "--days", "funday", "--count", "3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown weekday")
}

func TestPreviewCommand(t *testing.T) {
	out, err := execute(t, "preview", "--freq", "monthly", "--count", "4", "--anchor", "2025-01-31", "--title", "Close books")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "4 occurrence(s)")
	assert.Contains(t, lines[1], "2025-01-31  Fri  Close books")
	assert.Contains(t, lines[2], "2025-02-28")
	assert.Contains(t, lines[3], "2025-03-31")
	assert.Contains(t, lines[4], "2025-04-30")
}

func TestPreviewCommandReportsCap(t *testing.T) {
	out, err := execute(t, "preview", "--freq", "daily", "--until", "2025-12-31", "--anchor", "2025-01-01", "--max", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "5 occurrence(s)")
	assert.Contains(t, out, "warning:")
}

func TestParseWeekday(t *testing.T) {
	for in, want := range map[string]int{"SU": 0, "mon": 1, "Wednesday": 3, "6": 6} {
		got, err := parseWeekday(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseWeekday("7")
	assert.Error(t, err)
}

const importFixture = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:standup@test
DTSTAMP:20250101T000000Z
SUMMARY:Standup
DTSTART:20250106T090000Z
DTEND:20250106T091500Z
RRULE:FREQ=WEEKLY;BYDAY=MO;COUNT=3
END:VEVENT
BEGIN:VTODO
UID:memo@test
DTSTAMP:20250101T000000Z
SUMMARY:Board memo
DUE;VALUE=DATE:20250110
PRIORITY:1
END:VTODO
BEGIN:VEVENT
UID:override@test
DTSTAMP:20250101T000000Z
SUMMARY:Moved standup
RECURRENCE-ID:20250113T090000Z
DTSTART:20250114T090000Z
DTEND:20250114T091500Z
END:VEVENT
END:VCALENDAR
`

func crlf(s string) string { return strings.ReplaceAll(s, "\n", "\r\n") }

func TestImportThenExport(t *testing.T) {
	cfgPath, dir := writeConfig(t)
	icsPath := filepath.Join(dir, "in.ics")
	require.NoError(t, os.WriteFile(icsPath, []byte(crlf(importFixture)), 0o600))

	out, err := execute(t, "--config", cfgPath, "import", icsPath, "--owner", "ceo", "--cache-dir", "")
	require.NoError(t, err, out)
	assert.Contains(t, out, "skipped override@test")
	assert.Contains(t, out, "2 candidate(s), 4 activit(ies) created, 1 skipped")

	exportPath := filepath.Join(dir, "out", "agenda.ics")
	out, err = execute(t, "--config", cfgPath, "export", "--out", exportPath)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 4 activit(ies)")

	body, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	text := string(body)
	assert.Equal(t, 3, strings.Count(text, "BEGIN:VEVENT"))
	assert.Equal(t, 1, strings.Count(text, "BEGIN:VTODO"))
	assert.Contains(t, text, "X-WR-CALNAME:Test agenda")
	assert.Contains(t, text, "X-EXECAGENDA-OWNER:ceo")
}

func TestImportDryRunStoresNothing(t *testing.T) {
	cfgPath, dir := writeConfig(t)
	icsPath := filepath.Join(dir, "in.ics")
	require.NoError(t, os.WriteFile(icsPath, []byte(crlf(importFixture)), 0o600))

	out, err := execute(t, "--config", cfgPath, "import", icsPath, "--dry-run", "--cache-dir", "")
	require.NoError(t, err)
	assert.Contains(t, out, `would import series "Standup" (event) from 2025-01-06`)
	assert.Contains(t, out, "0 activit(ies) created")

	out, err = execute(t, "--config", cfgPath, "export")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 0 activit(ies)")
}

func TestConfigIsCreatedOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "nested", "config.yaml")
	t.Chdir(dir)

	out, err := execute(t, "--config", cfgPath, "export", "--out", filepath.Join(dir, "a.ics"))
	require.NoError(t, err, out)
	_, statErr := os.Stat(cfgPath)
	assert.NoError(t, statErr)
}
